package http1

import (
	"strconv"
	"sync"
	"time"

	"github.com/yourusername/surge/pkg/surge/wire"
)

// Response is the HTTP response message model (spec.md §3 "HTTP response").
// It is created per request and handed to the connection's reply loop for
// serialization; handlers mutate it through a ResponseWriter (see writer.go).
type Response struct {
	ProtoMajor int
	ProtoMinor int
	StatusCode int
	Header     ResponseHeader

	bufs []*wire.Buffer
}

// rfc1123GMT is the Date/Last-Modified wire format (RFC 1123, GMT zone).
const rfc1123GMT = "Mon, 02 Jan 2006 15:04:05 GMT"

var responsePool = sync.Pool{New: func() any { return &Response{} }}

// AcquireResponse returns a pooled, reset Response with sane defaults.
func AcquireResponse() *Response {
	r := responsePool.Get().(*Response)
	r.ProtoMajor, r.ProtoMinor = 1, 1
	r.StatusCode = 200
	return r
}

// ReleaseResponse returns r to the pool after releasing pinned buffers.
func ReleaseResponse(r *Response) {
	r.Reset()
	responsePool.Put(r)
}

func (r *Response) PinBuffer(b *wire.Buffer) {
	r.bufs = append(r.bufs, b)
}

func (r *Response) Reset() {
	for _, b := range r.bufs {
		b.Release()
	}
	*r = Response{bufs: r.bufs[:0]}
}

// StatusLineAndHeaders builds the status line + header block as a single
// Packet, ready to be followed by the body. Default headers (Date, Server)
// are filled in if absent, per spec.md §6.
func (r *Response) StatusLineAndHeaders(serverName string) *wire.Packet {
	p := wire.NewPacket()

	proto := ProtoHTTP11
	if r.ProtoMajor == 1 && r.ProtoMinor == 0 {
		proto = ProtoHTTP10
	}
	statusLine := proto + " " + strconv.Itoa(r.StatusCode) + " " + StatusText(r.StatusCode) + "\r\n"
	p.AppendStatic([]byte(statusLine))

	if r.Header.Date == "" {
		r.Header.Date = time.Now().UTC().Format(rfc1123GMT)
	}
	if r.Header.Server == "" {
		r.Header.Server = serverName
	}
	if r.Header.Connection == "" {
		// Deduced per spec.md §4.E: HTTP/1.1 defaults to persistent,
		// anything else defaults to close. The connection module normally
		// fills this in from the request before the handler ever runs;
		// this only covers callers that build a Response directly.
		if r.ProtoMajor == 1 && r.ProtoMinor == 1 {
			r.Header.Connection = "keep-alive"
		} else {
			r.Header.Connection = "close"
		}
	}

	r.Header.VisitAll(func(name, value string) bool {
		p.AppendStatic([]byte(name + ": " + value + "\r\n"))
		return true
	})
	p.AppendStatic([]byte("\r\n"))
	return p
}
