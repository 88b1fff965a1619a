// Package wire implements the zero-copy buffer and packet model that backs
// request and response bodies: refcounted byte regions and scatter-gather
// write packets built from them.
package wire

import (
	"bytes"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

var pool bytebufferpool.Pool

// Buffer is a refcounted byte region. It is created owned (backed by a
// pooled allocation), static (a borrowed literal with no owner), or wrapped
// (an externally supplied region with a deleter). As long as any Share of
// a Buffer is alive the underlying region is not released.
type Buffer struct {
	data  []byte
	bb    *bytebufferpool.ByteBuffer // non-nil only for owned buffers
	free  func()                     // non-nil only for wrapped buffers
	refs  *atomic.Int32              // shared across all shares of one region; nil for static
	owner *Buffer                    // the buffer a Share view was cut from, nil for roots
}

// NewOwned allocates an owned region of n bytes from the shared pool.
func NewOwned(n int) *Buffer {
	bb := pool.Get()
	if cap(bb.B) < n {
		bb.B = make([]byte, n)
	} else {
		bb.B = bb.B[:n]
	}
	refs := new(atomic.Int32)
	refs.Store(1)
	return &Buffer{data: bb.B, bb: bb, refs: refs}
}

// FromStatic borrows a static byte literal. It has no owner and Release is
// a no-op; the caller must guarantee the literal outlives every user.
func FromStatic(b []byte) *Buffer {
	return &Buffer{data: b}
}

// Wrap adopts an externally allocated region. free is invoked exactly once,
// when the last share is released.
func Wrap(b []byte, free func()) *Buffer {
	refs := new(atomic.Int32)
	refs.Store(1)
	return &Buffer{data: b, free: free, refs: refs}
}

// Bytes returns the buffer's current byte view. The returned slice must not
// be retained past the Buffer's lifetime unless the caller holds a Share.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Data returns the mutable backing slice. Only meaningful for owned buffers;
// callers must not write into static or wrapped regions.
func (b *Buffer) Data() []byte {
	return b.data
}

// Share produces a narrowed view over [offset, offset+length) that keeps
// the underlying region alive until its own Release.
func (b *Buffer) Share(offset, length int) *Buffer {
	if b.refs != nil {
		b.refs.Add(1)
	}
	root := b
	if b.owner != nil {
		root = b.owner
	}
	return &Buffer{
		data:  b.data[offset : offset+length],
		refs:  b.refs,
		owner: root,
	}
}

// Release drops this share's reference. When the last reference to an
// owned or wrapped region is released, the backing allocation is returned
// to the pool (owned) or the deleter is invoked (wrapped). Static buffers
// and further shares of the same region are unaffected by each other.
func (b *Buffer) Release() {
	if b.refs == nil {
		return // static, nothing to free
	}
	if b.refs.Add(-1) > 0 {
		return
	}
	root := b
	if b.owner != nil {
		root = b.owner
	}
	if root.bb != nil {
		pool.Put(root.bb)
		root.bb = nil
	}
	if root.free != nil {
		root.free()
		root.free = nil
	}
}

// Len returns the number of bytes in the current view.
func (b *Buffer) Len() int { return len(b.data) }

// Equal compares two buffers by byte content.
func Equal(a, b *Buffer) bool {
	if a == nil || b == nil {
		return a == b
	}
	return bytes.Equal(a.data, b.data)
}
