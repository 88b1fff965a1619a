package http1

import (
	"context"
	"strconv"

	"github.com/yourusername/surge/pkg/surge/wire"
)

// ResponseWriter is the handler-facing response API: it wraps a Response
// and the Output stream the connection supplied for this request, tracking
// whether headers have been flushed and how many body bytes were written
// (needed for the keep-alive Content-Length match in spec.md §4.E).
type ResponseWriter struct {
	Resp *Response
	Out  wire.Output

	headerWritten bool
	bytesWritten  int64
	serverName    string
}

// NewResponseWriter builds a writer over resp, writing through out.
func NewResponseWriter(resp *Response, out wire.Output, serverName string) *ResponseWriter {
	return &ResponseWriter{Resp: resp, Out: out, serverName: serverName}
}

// Header returns the response's header struct for mutation before the
// first Write/WriteHeader.
func (w *ResponseWriter) Header() *ResponseHeader { return &w.Resp.Header }

// WriteHeader sets the status code. Calls made before the headers are
// flushed overwrite each other (the last one wins); calls after that are
// ignored.
func (w *ResponseWriter) WriteHeader(code int) {
	if w.headerWritten {
		return
	}
	w.Resp.StatusCode = code
}

// flushHeaders writes the status line + headers exactly once, implicitly
// invoked by the first Write.
func (w *ResponseWriter) flushHeaders(ctx context.Context) error {
	if w.headerWritten {
		return nil
	}
	w.headerWritten = true
	return w.Out.Write(ctx, w.Resp.StatusLineAndHeaders(w.serverName))
}

// Write sends a body chunk, flushing headers first if not yet sent.
func (w *ResponseWriter) Write(ctx context.Context, data []byte) (int, error) {
	if err := w.flushHeaders(ctx); err != nil {
		return 0, err
	}
	p := wire.NewPacket()
	p.AppendStatic(data)
	if err := w.Out.Write(ctx, p); err != nil {
		return 0, err
	}
	w.bytesWritten += int64(len(data))
	return len(data), nil
}

// BytesWritten returns the number of body bytes written so far.
func (w *ResponseWriter) BytesWritten() int64 { return w.bytesWritten }

// HeaderWritten reports whether the status line/headers have been flushed.
func (w *ResponseWriter) HeaderWritten() bool { return w.headerWritten }

// WriteJSON sets Content-Type/Content-Length and writes data as the full
// body in one call.
func (w *ResponseWriter) WriteJSON(ctx context.Context, code int, data []byte) error {
	w.WriteHeader(code)
	w.Header().ContentType = "application/json; charset=utf-8"
	w.Header().ContentLength = strconv.Itoa(len(data))
	_, err := w.Write(ctx, data)
	return err
}

// WriteText sets Content-Type/Content-Length and writes data as plain text.
func (w *ResponseWriter) WriteText(ctx context.Context, code int, data []byte) error {
	w.WriteHeader(code)
	w.Header().ContentType = "text/plain; charset=utf-8"
	w.Header().ContentLength = strconv.Itoa(len(data))
	_, err := w.Write(ctx, data)
	return err
}

// WriteHTML sets Content-Type/Content-Length and writes data as HTML.
func (w *ResponseWriter) WriteHTML(ctx context.Context, code int, data []byte) error {
	w.WriteHeader(code)
	w.Header().ContentType = "text/html; charset=utf-8"
	w.Header().ContentLength = strconv.Itoa(len(data))
	_, err := w.Write(ctx, data)
	return err
}

// WriteChunk streams one chunk of a Transfer-Encoding: chunked body; the
// caller is responsible for having set TransferEncoding="chunked" before
// the first call and for calling FinishChunked at the end.
func (w *ResponseWriter) WriteChunk(ctx context.Context, chunk []byte) error {
	if err := w.flushHeaders(ctx); err != nil {
		return err
	}
	p := wire.NewPacket()
	size := strconv.FormatInt(int64(len(chunk)), 16)
	p.AppendStatic([]byte(size + "\r\n"))
	p.AppendStatic(chunk)
	p.AppendStatic([]byte("\r\n"))
	if err := w.Out.Write(ctx, p); err != nil {
		return err
	}
	w.bytesWritten += int64(len(chunk))
	return nil
}

// FinishChunked writes the terminating zero-length chunk.
func (w *ResponseWriter) FinishChunked(ctx context.Context) error {
	p := wire.NewPacket()
	p.AppendStatic([]byte("0\r\n\r\n"))
	return w.Out.Write(ctx, p)
}
