// Package chain implements the handler chain (spec.md §4.F): a sequence of
// handlers, each able to complete the response or delegate to the next one.
package chain

import (
	"context"
	"fmt"

	"github.com/yourusername/surge/pkg/surge/di"
	"github.com/yourusername/surge/pkg/surge/http1"
)

// Context bundles everything a handler needs: the request, the response
// writer, the client address, the per-shard container, and per-request
// service storage for StoragePersistent services.
type Context struct {
	context.Context

	Req        *http1.Request
	Resp       *http1.ResponseWriter
	RemoteAddr string

	Container *di.Container
	Storage   *di.Storage
}

// Handler processes one request, either completing the response itself or
// delegating to whatever it was composed to wrap.
type Handler func(c *Context) error

// Middleware wraps a Handler to add cross-cutting behavior. Composition is
// the closure form throughout this package: a Middleware receives the next
// Handler and returns a new one that decides when (and whether) to call it,
// rather than a handler pulling the next link via a shared cursor. Router
// and staticfile handlers follow the same shape (they take "next" as a
// constructor argument), so one mechanism covers both route dispatch and
// cross-cutting middleware.
type Middleware func(Handler) Handler

// Chain is the fully composed handler produced by New, run once per
// request.
type Chain Handler

// ErrNotFound is a sentinel a terminal handler can return when nothing
// further down the line completed the response; it's just a convenience,
// not a distinguished control-flow value like a "Next past the end" error
// would be, since nothing threads an exhaustion check through the chain.
var ErrNotFound = fmt.Errorf("chain: no handler completed the response")

// New composes handlers in the given order, wrapping each one with
// middlewares in reverse order (so the first middleware listed runs
// first), then chains the results together left to right: handlers[i]'s
// "next" is handlers[i+1], and the last one's "next" is a terminal handler
// that returns ErrNotFound if called.
func New(handlers []Handler, middlewares ...Middleware) Chain {
	wrap := func(h Handler) Handler {
		for j := len(middlewares) - 1; j >= 0; j-- {
			h = middlewares[j](h)
		}
		return h
	}

	var next Handler = func(*Context) error { return ErrNotFound }
	for i := len(handlers) - 1; i >= 0; i-- {
		cur := handlers[i]
		rest := next
		next = wrap(func(c *Context) error {
			if err := cur(c); err != ErrNotFound {
				return err
			}
			return rest(c)
		})
	}
	return Chain(next)
}

// Run executes the composed chain.
func (c Chain) Run(ctx *Context) error {
	return Handler(c)(ctx)
}

// Recover wraps next so a panic inside the chain is converted into a 500
// response instead of crashing the connection's reply loop.
func Recover() Middleware {
	return func(next Handler) Handler {
		return func(c *Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					c.Resp.WriteHeader(500)
					c.Resp.Header().ContentType = "text/plain; charset=utf-8"
					_, werr := c.Resp.Write(c, []byte("Internal Server Error"))
					if werr != nil {
						err = werr
						return
					}
					err = fmt.Errorf("chain: panic recovered: %v", r)
				}
			}()
			return next(c)
		}
	}
}

// ErrorResponder is implemented by errors that know how to render
// themselves as an HTTP status + body, letting handlers return typed
// errors (http1.StatusCode-aware) instead of hand-writing every response.
type ErrorResponder interface {
	error
	StatusCode() int
}

// ConvertErrors wraps next so any returned error becomes a response: an
// ErrorResponder renders its own status code, anything else becomes a 500.
// This is the chain's analogue to bolt's DefaultErrorHandler, executed as a
// middleware rather than a post-hoc app-level callback since the chain has
// no separate error-handling phase of its own.
func ConvertErrors() Middleware {
	return func(next Handler) Handler {
		return func(c *Context) error {
			err := next(c)
			if err == nil || c.Resp.HeaderWritten() {
				return err
			}
			status := 500
			if er, ok := err.(ErrorResponder); ok {
				status = er.StatusCode()
			}
			return c.Resp.WriteText(c, status, []byte(http1.StatusText(status)))
		}
	}
}
