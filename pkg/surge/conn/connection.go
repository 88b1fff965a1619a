// Package conn implements the per-socket Connection (spec.md §4.E): two
// cooperating loops, a receive loop that only parses and a reply loop that
// only handles and writes, coupled through bounded RequestQueue/BodyQueue
// channels. Grounded on shockwave's http11/connection.go for the
// per-request mechanics (ConnectionConfig defaults, shouldCloseAfterRequest
// keep-alive logic, setDeadline) and on its server.go for idempotent
// shutdown, restructured from one synchronous loop into the two-goroutine
// design spec.md §9's "coroutine control flow" note calls for.
package conn

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yourusername/surge/pkg/surge/chain"
	"github.com/yourusername/surge/pkg/surge/di"
	"github.com/yourusername/surge/pkg/surge/http1"
	"github.com/yourusername/surge/pkg/surge/wire"
)

// State mirrors the parser's state plus the connection lifecycle states
// around it, named exactly per spec.md §4.E for observability.
type State int32

const (
	Initial State = iota
	Started
	ReceiveRequestMessageBegin
	ReceiveRequestUrl
	ReceiveRequestHeaderField
	ReceiveRequestHeaderValue
	ReceiveRequestHeadersComplete
	ReceiveRequestBody
	ReceiveRequestMessageComplete
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Initial:
		return "initial"
	case Started:
		return "started"
	case ReceiveRequestMessageBegin:
		return "receive_request_message_begin"
	case ReceiveRequestUrl:
		return "receive_request_url"
	case ReceiveRequestHeaderField:
		return "receive_request_header_field"
	case ReceiveRequestHeaderValue:
		return "receive_request_header_value"
	case ReceiveRequestHeadersComplete:
		return "receive_request_headers_complete"
	case ReceiveRequestBody:
		return "receive_request_body"
	case ReceiveRequestMessageComplete:
		return "receive_request_message_complete"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Errors a connection can shut down with.
var (
	ErrRequestTooLarge    = errors.New("conn: initial request exceeded max_initial_request_bytes")
	ErrTooManyPackets     = errors.New("conn: initial request exceeded max_initial_request_packets")
	ErrRequestTimeout     = errors.New("conn: request timeout")
	ErrBodyQueueMismatch  = errors.New("conn: body queue entry id does not match the request being served")
	ErrConnectionShutdown = errors.New("conn: connection is shutting down")
)

// Config bounds a connection's behavior. Defaults mirror shockwave's
// ConnectionConfig idiom, extended with the initial-request guardrails
// spec.md §4.E requires.
type Config struct {
	ReadBufferSize  int
	WriteBufferSize int

	RequestQueueSize int
	BodyQueueSize    int

	MaxInitialRequestBytes   int64
	MaxInitialRequestPackets int64
	InitialRequestTimeout    time.Duration
	KeepAliveTimeout         time.Duration

	ServerName string
}

// DefaultConfig returns sane defaults, matching shockwave's
// DefaultConnectionConfig in spirit (4096-byte buffers, 60s keep-alive).
func DefaultConfig() Config {
	return Config{
		ReadBufferSize:           4096,
		WriteBufferSize:          4096,
		RequestQueueSize:         16,
		BodyQueueSize:            64,
		MaxInitialRequestBytes:   64 * 1024,
		MaxInitialRequestPackets: 256,
		InitialRequestTimeout:    10 * time.Second,
		KeepAliveTimeout:         60 * time.Second,
		ServerName:               "surge",
	}
}

type queuedRequest struct {
	id      uint64
	req     *http1.Request
	hasBody bool
}

type bodyChunk struct {
	id      uint64
	buf     *wire.Buffer
	data    []byte
	isEnd   bool
}

// Connection owns one accepted socket and runs the receive/reply loop pair.
type Connection struct {
	conn       net.Conn
	remoteAddr string

	handlers  chain.Chain
	container *di.Container
	cfg       Config

	state        atomic.Int32
	lastActivity atomic.Int64 // unix nanos, refreshed on every state change

	requestQueue chan queuedRequest
	bodyQueue    chan bodyChunk

	closed        chan struct{}
	closeOnce     sync.Once
	shutdownErr   error
	errorResponse *http1.Response // precomputed, best-effort written on shutdown

	onClose func(*Connection)
}

// New builds a Connection over an already-accepted socket. handlers is the
// fully composed handler chain (router + middlewares); container is the
// shard's DI container, shared read-only across every connection on that
// shard. onClose, if set, is invoked exactly once when the connection fully
// stops, so a Server can remove it from its live set.
func New(c net.Conn, handlers chain.Chain, container *di.Container, cfg Config, onClose func(*Connection)) *Connection {
	conn := &Connection{
		conn:         c,
		remoteAddr:   c.RemoteAddr().String(),
		handlers:     handlers,
		container:    container,
		cfg:          cfg,
		requestQueue: make(chan queuedRequest, cfg.RequestQueueSize),
		bodyQueue:    make(chan bodyChunk, cfg.BodyQueueSize),
		closed:       make(chan struct{}),
		onClose:      onClose,
	}
	conn.lastActivity.Store(time.Now().UnixNano())
	return conn
}

// State returns the connection's current observable state.
func (c *Connection) State() State { return State(c.state.Load()) }

func (c *Connection) setState(s State) {
	c.state.Store(int32(s))
	c.lastActivity.Store(time.Now().UnixNano())
}

// RemoteAddr returns the peer address string.
func (c *Connection) RemoteAddr() string { return c.remoteAddr }

// LastActivity returns the time of the connection's last observed state
// transition, used by the server's watchdog to find stalled connections.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// SetErrorResponse sets the response best-effort written to the client if
// the connection is shut down before the reply loop can otherwise respond
// (e.g. a guardrail violation on the initial request).
func (c *Connection) SetErrorResponse(resp *http1.Response) {
	c.errorResponse = resp
}

// Serve runs the receive and reply loops until both exit, then tears the
// socket down. It blocks until the connection is fully closed.
func (c *Connection) Serve(ctx context.Context) {
	c.setState(Started)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.receiveLoop()
	}()
	go func() {
		defer wg.Done()
		c.replyLoop(ctx)
	}()
	wg.Wait()
	c.finish()
}

// Shutdown is idempotent: it stops the receive side, aborts both queues
// with a sentinel so the reply loop unblocks, and records the reason for
// logging. Safe to call from either loop or from outside (e.g. a server's
// watchdog).
func (c *Connection) Shutdown(reason error) {
	c.closeOnce.Do(func() {
		c.setState(Closing)
		c.shutdownErr = reason
		close(c.closed)
		c.conn.SetReadDeadline(time.Unix(1, 0)) // unblock a pending Read immediately
	})
}

func (c *Connection) finish() {
	c.setState(Closed)
	// Deferred to avoid use-after-free on writes still draining through the
	// bufio.Writer in the reply loop's own cleanup.
	go c.conn.Close()
	if c.onClose != nil {
		c.onClose(c)
	}
}

// receiveLoop pulls bytes off the socket, feeds the parser, and pushes
// completed request headers and body chunks onto the bounded queues. It
// never writes to the socket (spec.md §4.E).
func (c *Connection) receiveLoop() {
	defer func() {
		close(c.requestQueue)
		close(c.bodyQueue)
	}()

	var (
		nextID            uint64
		cur               *http1.Request
		queued            bool
		fieldName         []byte
		fieldValue        []byte
		havePendingField  bool
		receivedBytes     int64
		receivedPackets   int64
		cbErr             error
	)

	var p *http1.Parser

	commitPending := func() {
		if !havePendingField {
			return
		}
		name := string(fieldName)
		value := string(fieldValue)
		cur.Header.Set(name, value)
		if err := p.ObserveHeader(name, value); err != nil {
			cbErr = err
		}
		fieldName = fieldName[:0]
		fieldValue = fieldValue[:0]
		havePendingField = false
	}

	p = http1.NewParser(http1.Callbacks{
		OnMessageBegin: func() {
			c.setState(ReceiveRequestMessageBegin)
			nextID++
			cur = http1.AcquireRequest()
			queued = false
			fieldName = fieldName[:0]
			fieldValue = fieldValue[:0]
			havePendingField = false
			receivedBytes, receivedPackets = 0, 0
			c.conn.SetReadDeadline(time.Now().Add(c.cfg.InitialRequestTimeout))
		},
		OnURL: func(b []byte) {
			c.setState(ReceiveRequestUrl)
			cur.RawTarget += string(b)
		},
		OnHeaderField: func(b []byte) {
			c.setState(ReceiveRequestHeaderField)
			commitPending()
			fieldName = append(fieldName, b...)
			havePendingField = true
		},
		OnHeaderValue: func(b []byte) {
			c.setState(ReceiveRequestHeaderValue)
			fieldValue = append(fieldValue, b...)
		},
		OnHeadersComplete: func() {
			c.setState(ReceiveRequestHeadersComplete)
			commitPending()
			if cbErr != nil {
				return
			}
			cur.Method = http1.ParseMethodID(p.Method())
			cur.ProtoMajor, cur.ProtoMinor = p.ProtoMajor, p.ProtoMinor
			cur.ContentLength = p.ContentLength()
			cur.Chunked = p.Chunked()
			cur.RemoteAddr = c.remoteAddr
			cur.Close = !requestWantsKeepAlive(cur)
			hasBody := p.HasBody()
			id := nextID
			if hasBody {
				cur.Body = newBodyInput(c, id)
			}
			select {
			case c.requestQueue <- queuedRequest{id: id, req: cur, hasBody: hasBody}:
				queued = true
			case <-c.closed:
				cbErr = ErrConnectionShutdown
			}
			c.conn.SetReadDeadline(time.Time{})
		},
		OnBody: func(b []byte) {
			c.setState(ReceiveRequestBody)
			if !queued {
				return
			}
			owned := wire.NewOwned(len(b))
			copy(owned.Data(), b)
			c.pushBody(bodyChunk{id: nextID, buf: owned, data: owned.Bytes(), isEnd: false})
		},
		OnMessageComplete: func() {
			c.setState(ReceiveRequestMessageComplete)
			if queued {
				c.pushBody(bodyChunk{id: nextID, isEnd: true})
			}
		},
	})

	rejectInitial := func(reason error) {
		resp := http1.AcquireResponse()
		resp.StatusCode = 400
		resp.Header.ContentLength = "0"
		resp.Header.Connection = "close"
		c.SetErrorResponse(resp)
		c.Shutdown(reason)
	}

	readBuf := make([]byte, c.cfg.ReadBufferSize)
	for {
		select {
		case <-c.closed:
			return
		default:
		}

		n, err := c.conn.Read(readBuf)
		if err != nil {
			// EOF or a deadline firing (idle timeout, or Shutdown forcing an
			// immediate unblock): either way the reply loop notices via the
			// closed RequestQueue/BodyQueue.
			c.Shutdown(nil)
			return
		}
		receivedPackets++
		receivedBytes += int64(n)
		if !queued {
			if receivedBytes > c.cfg.MaxInitialRequestBytes {
				rejectInitial(ErrRequestTooLarge)
				return
			}
			if receivedPackets > c.cfg.MaxInitialRequestPackets {
				rejectInitial(ErrTooManyPackets)
				return
			}
		}

		data := readBuf[:n]
		for len(data) > 0 {
			consumed, perr := p.Execute(data)
			data = data[consumed:]
			if perr != nil {
				c.Shutdown(perr)
				return
			}
			if cbErr != nil {
				c.Shutdown(cbErr)
				return
			}
		}
	}
}

func (c *Connection) pushBody(chunk bodyChunk) {
	select {
	case c.bodyQueue <- chunk:
	case <-c.closed:
		if chunk.buf != nil {
			chunk.buf.Release()
		}
	}
}

// bodyInput adapts a Connection's BodyQueue into a wire.Input scoped to one
// request id, releasing each chunk's buffer once the next Read is called
// (the final is_end chunk carries no buffer).
type bodyInput struct {
	c         *Connection
	requestID uint64
	lastBuf   *wire.Buffer
}

func newBodyInput(c *Connection, id uint64) *bodyInput {
	return &bodyInput{c: c, requestID: id}
}

func (in *bodyInput) Read(ctx context.Context) ([]byte, bool, error) {
	if in.lastBuf != nil {
		in.lastBuf.Release()
		in.lastBuf = nil
	}
	select {
	case chunk, ok := <-in.c.bodyQueue:
		if !ok {
			return nil, true, nil
		}
		if chunk.id != in.requestID {
			if chunk.buf != nil {
				chunk.buf.Release()
			}
			return nil, true, ErrBodyQueueMismatch
		}
		in.lastBuf = chunk.buf
		return chunk.data, chunk.isEnd, nil
	case <-ctx.Done():
		return nil, true, ctx.Err()
	case <-in.c.closed:
		return nil, true, ErrConnectionShutdown
	}
}

func (in *bodyInput) Size() (int64, bool) { return 0, false }

// drainBody finishes reading any body entries the handler didn't consume
// itself, preserving the request/body matching invariant (spec.md §4.E).
// Returns whether the body was fully consumed (drained to is_end=true).
func (c *Connection) drainBody(id uint64) bool {
	for {
		select {
		case chunk, ok := <-c.bodyQueue:
			if !ok {
				return false
			}
			if chunk.buf != nil {
				chunk.buf.Release()
			}
			if chunk.id != id {
				return false
			}
			if chunk.isEnd {
				return true
			}
		case <-c.closed:
			return false
		}
	}
}

// replyLoop pops one request at a time, runs the handler chain, and writes
// the response. It never reads from the socket (spec.md §4.E).
func (c *Connection) replyLoop(ctx context.Context) {
	bw := bufio.NewWriterSize(c.conn, c.cfg.WriteBufferSize)
	out := wire.NewSinkOutput(bw)

	for qr := range c.requestQueue {
		resp := http1.AcquireResponse()
		resp.ProtoMajor, resp.ProtoMinor = qr.req.ProtoMajor, qr.req.ProtoMinor
		requestedKeepAlive := requestWantsKeepAlive(qr.req)
		if requestedKeepAlive {
			resp.Header.Connection = "keep-alive"
		} else {
			resp.Header.Connection = "close"
		}
		rw := http1.NewResponseWriter(resp, out, c.cfg.ServerName)
		storage := di.NewStorage()

		cc := &chain.Context{
			Context:    ctx,
			Req:        qr.req,
			Resp:       rw,
			RemoteAddr: c.remoteAddr,
			Container:  c.container,
			Storage:    storage,
		}

		handlerErr := c.handlers.Run(cc)
		if !rw.HeaderWritten() {
			if handlerErr != nil {
				rw.WriteHeader(500)
			}
			rw.Header().ContentLength = "0"
			rw.Write(cc, nil)
		}

		bodyConsumed := true
		if qr.hasBody {
			bodyConsumed = c.drainBody(qr.id)
		}

		flushErr := bw.Flush()

		keepAlive := handlerErr == nil && flushErr == nil &&
			decideKeepAlive(qr.req, resp, rw.BytesWritten(), bodyConsumed)

		http1.ReleaseRequest(qr.req)
		http1.ReleaseResponse(resp)

		if !keepAlive {
			c.Shutdown(handlerErr)
			break
		}
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.KeepAliveTimeout))
	}

	// Drain whatever remains in RequestQueue so every pooled Request is
	// released even when Shutdown fired mid-pipeline.
	for qr := range c.requestQueue {
		http1.ReleaseRequest(qr.req)
	}

	if c.errorResponse != nil {
		out.Write(ctx, c.errorResponse.StatusLineAndHeaders(c.cfg.ServerName))
		bw.Flush()
	}
}

// requestWantsKeepAlive decides, from the request alone, whether the client
// asked the connection to persist: an explicit "close" always wins, an
// explicit "keep-alive" always requests it, and otherwise it's the
// HTTP/1.1 default (HTTP/1.0 defaults to close). This is known before the
// handler runs, so the response's Connection header can be set up front
// (spec.md §6 "default response headers... Connection (deduced per §4.E)")
// instead of waiting on the post-handler framing check below.
func requestWantsKeepAlive(req *http1.Request) bool {
	connVal, hasConn := req.Header.Get(http1.HeaderConnection)
	if hasConn && strings.EqualFold(connVal, "close") {
		return false
	}
	return (hasConn && strings.EqualFold(connVal, "keep-alive")) ||
		(!hasConn && req.ProtoMajor == 1 && req.ProtoMinor == 1)
}

// decideKeepAlive implements spec.md §4.E's keep-alive truth table: the
// request must have asked for it, and the response's framing must let the
// client find the next message's start (chunked, or an accurate
// Content-Length), and the request body must have been fully drained.
func decideKeepAlive(req *http1.Request, resp *http1.Response, bytesWritten int64, bodyFullyConsumed bool) bool {
	if !requestWantsKeepAlive(req) {
		return false
	}

	determinate := false
	if strings.EqualFold(resp.Header.TransferEncoding, "chunked") {
		determinate = true
	} else if cl, ok := resp.Header.Get(http1.HeaderContentLength); ok {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err == nil && n == bytesWritten {
			determinate = true
		}
	}
	if !determinate {
		return false
	}

	return bodyFullyConsumed
}
