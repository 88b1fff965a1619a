package http1

import (
	"sync"

	"github.com/yourusername/surge/pkg/surge/wire"
)

// Request is the HTTP request message model (spec.md §3 "HTTP request").
// Header values are merged, owned strings (see parser.go "merge-on-split"):
// the incremental parser emits raw byte-slice views into the connection's
// read buffer, and the connection's receive loop copies any value spanning
// more than one Execute call into an owned accumulator before handing the
// completed Request to the reply loop; by the time a handler observes a
// Request every string is already stable for the request's lifetime.
type Request struct {
	Method     uint8
	RawTarget  string
	ProtoMajor int
	ProtoMinor int
	Header     RequestHeader

	ContentLength int64
	Chunked       bool
	Close         bool // explicit "Connection: close" or HTTP/1.0 w/o keep-alive

	RemoteAddr string

	// Body is set by the connection to an Input reading from the per-
	// request BodyQueue slice (spec.md §4.E). nil for requests with no body.
	Body wire.Input

	bufs []*wire.Buffer // pins the lifetime of every borrowed slice
	uri  *URI
	cook map[string]string
}

var requestPool = sync.Pool{New: func() any { return &Request{} }}

// AcquireRequest returns a pooled, reset Request.
func AcquireRequest() *Request {
	return requestPool.Get().(*Request)
}

// ReleaseRequest returns r to the pool after releasing every pinned buffer.
func ReleaseRequest(r *Request) {
	r.Reset()
	requestPool.Put(r)
}

// MethodName returns the canonical method string.
func (r *Request) MethodName() string { return MethodString(r.Method) }

// URI lazily parses RawTarget on first access and caches the result.
func (r *Request) URI() *URI {
	if r.uri == nil {
		r.uri = ParseURI(r.RawTarget)
	}
	return r.uri
}

// Cookies lazily parses the Cookie header and caches the result.
func (r *Request) Cookies() map[string]string {
	if r.cook == nil {
		r.cook = ParseCookies(r.Header.Cookie)
	}
	return r.cook
}

// PinBuffer keeps b alive for the lifetime of the request; the request
// releases every pinned buffer on Reset.
func (r *Request) PinBuffer(b *wire.Buffer) {
	r.bufs = append(r.bufs, b)
}

// HasBody reports whether the request is expected to carry a body per its
// framing headers.
func (r *Request) HasBody() bool {
	return r.ContentLength > 0 || r.Chunked
}

// Reset clears the request for pool reuse, releasing pinned buffers.
func (r *Request) Reset() {
	for _, b := range r.bufs {
		b.Release()
	}
	*r = Request{bufs: r.bufs[:0]}
}

// Clone produces an independent deep-ish copy suitable for escaping the
// connection's pool lifetime (e.g. handing to a logging goroutine); it
// copies header strings (already owned) and drops the Body stream handle,
// matching shockwave's Request.Clone contract.
func (r *Request) Clone() *Request {
	c := &Request{
		Method:        r.Method,
		RawTarget:     r.RawTarget,
		ProtoMajor:    r.ProtoMajor,
		ProtoMinor:    r.ProtoMinor,
		Header:        r.Header,
		ContentLength: r.ContentLength,
		Chunked:       r.Chunked,
		Close:         r.Close,
		RemoteAddr:    r.RemoteAddr,
	}
	c.Header.extra = extraFields{
		keys: append([]string(nil), r.Header.extra.keys...),
		vals: append([]string(nil), r.Header.extra.vals...),
	}
	return c
}
