package wire

import (
	"context"
	"io"
)

// Input is a lazy, finite sequence of byte slices. Read resolves to the
// next slice and whether the stream has reached its end; an Input is not
// restartable. A zero-length slice with isEnd=false is a valid "no data yet"
// result and callers must call Read again.
type Input interface {
	Read(ctx context.Context) (data []byte, isEnd bool, err error)

	// Size reports a hint for the total remaining size, if known in advance
	// (e.g. from Content-Length).
	Size() (n int64, known bool)
}

// Output accepts packets asynchronously; writes are serialized per stream.
type Output interface {
	Write(ctx context.Context, p *Packet) error
}

// ChunkInput adapts a pull function returning (data, isEnd, err) — the
// shape of a connection's per-request BodyQueue — into an Input.
type ChunkInput struct {
	next func(ctx context.Context) ([]byte, bool, error)
	size int64
	know bool
}

// NewChunkInput builds an Input whose Read pulls from next.
func NewChunkInput(next func(ctx context.Context) ([]byte, bool, error)) *ChunkInput {
	return &ChunkInput{next: next}
}

// WithSizeHint attaches a known-size hint (e.g. Content-Length) to the stream.
func (c *ChunkInput) WithSizeHint(n int64) *ChunkInput {
	c.size, c.know = n, true
	return c
}

func (c *ChunkInput) Read(ctx context.Context) ([]byte, bool, error) {
	return c.next(ctx)
}

func (c *ChunkInput) Size() (int64, bool) { return c.size, c.know }

// EmptyInput is an Input that is immediately at its end.
type EmptyInput struct{}

func (EmptyInput) Read(context.Context) ([]byte, bool, error) { return nil, true, nil }
func (EmptyInput) Size() (int64, bool)                        { return 0, true }

// SinkOutput adapts a plain io.Writer (typically a connection's buffered
// socket writer) into an Output: each Write releases the packet's fragments
// as a net.Buffers vector and hands it to the sink in one call.
type SinkOutput struct {
	sink io.Writer
}

// NewSinkOutput wraps sink as an Output.
func NewSinkOutput(sink io.Writer) *SinkOutput {
	return &SinkOutput{sink: sink}
}

func (s *SinkOutput) Write(_ context.Context, p *Packet) error {
	vec := p.Release()
	defer p.Free()
	_, err := vec.WriteTo(s.sink)
	return err
}
