// Package router implements the exact full-path map plus wildcard-segment
// trie described in spec.md §4.G. The tree structure (children map keyed by
// path segment; no locking, so registration is not safe concurrently with
// matching) is carried over from
// bolt's core/router.go texture; the matching semantics (reserved
// whole-segment "*"/"**" tokens, literal > * > ** precedence, full-path map
// classification) are specified fresh and do not exist in bolt's
// parameter-style (":id") router.
package router

import (
	"fmt"
	"strings"

	"github.com/yourusername/surge/pkg/surge/chain"
)

// node is one level of the wildcard trie. A node may have any number of
// literal children (keyed by exact segment text), at most one "*" child
// (matches exactly one segment), and at most one "**" child (terminal:
// consumes every remaining segment).
type node struct {
	children  map[string]*node
	star      *node
	doubleStar *node

	handlers map[string]chain.Handler // method -> handler, only meaningful if this node terminates a route
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

// Router resolves (method, path) to a handler. Routes whose path contains
// no "*"/"**" as a whole segment are exact full-path-map lookups; routes
// using a whole "*" or "**" segment go into the wildcard trie.
type Router struct {
	full map[string]map[string]chain.Handler // path -> method -> handler
	tree *node
}

// New returns an empty Router.
func New() *Router {
	return &Router{
		full: make(map[string]map[string]chain.Handler),
		tree: newNode(),
	}
}

// Route registers handler for method+path. path is classified per
// spec.md §4.G: a "*" or "**" only counts as a wildcard when it is the
// entire segment ("/abc/*123" is a literal, full-path route — "*" there is
// just a character inside a longer segment).
func (r *Router) Route(method, path string, handler chain.Handler) error {
	segs := splitSegments(path)

	wildcard := false
	for _, s := range segs {
		if s == "*" || s == "**" {
			wildcard = true
			break
		}
	}

	if !wildcard {
		m, ok := r.full[path]
		if !ok {
			m = make(map[string]chain.Handler)
			r.full[path] = m
		}
		m[method] = handler
		return nil
	}

	cur := r.tree
	for i, s := range segs {
		last := i == len(segs)-1
		switch s {
		case "**":
			if !last {
				return fmt.Errorf("router: %q: \"**\" must be the last segment", path)
			}
			if cur.doubleStar == nil {
				cur.doubleStar = newNode()
			}
			cur = cur.doubleStar
		case "*":
			if cur.star == nil {
				cur.star = newNode()
			}
			cur = cur.star
		default:
			child, ok := cur.children[s]
			if !ok {
				child = newNode()
				cur.children[s] = child
			}
			cur = child
		}
	}
	if cur.handlers == nil {
		cur.handlers = make(map[string]chain.Handler)
	}
	cur.handlers[method] = handler
	return nil
}

// Handler returns a chain.Handler that resolves the request against this
// router, falling back to next when nothing matches (no full-path entry,
// no trie match, or a matching node with no handler for this method).
func (r *Router) Handler(next chain.Handler) chain.Handler {
	return func(c *chain.Context) error {
		method := c.Req.MethodName()

		if h := r.lookupFull(method, c.Req.RawTarget); h != nil {
			return h(c)
		}
		uri := c.Req.URI()
		if uri.Path != c.Req.RawTarget {
			if h := r.lookupFull(method, uri.Path); h != nil {
				return h(c)
			}
		}

		if h := r.lookupTree(method, uri.Fragments); h != nil {
			return h(c)
		}
		return next(c)
	}
}

func (r *Router) lookupFull(method, path string) chain.Handler {
	m, ok := r.full[path]
	if !ok {
		return nil
	}
	return m[method]
}

// lookupTree walks the trie honoring literal > * > ** precedence at every
// level (spec.md §4.G "Tie-break"). A branch that matches but whose subtree
// ultimately has no handler for this method is a dead end: the walk
// backtracks to the next-lower-precedence branch at that level rather than
// failing the whole lookup, so e.g. a "**" sibling can still serve a path
// that partially matched a "*" branch with no further children.
func (r *Router) lookupTree(method string, segs []string) chain.Handler {
	return matchNode(r.tree, method, segs, 0)
}

func matchNode(n *node, method string, segs []string, idx int) chain.Handler {
	if idx == len(segs) {
		if n.handlers == nil {
			return nil
		}
		return n.handlers[method]
	}
	seg := segs[idx]
	if child, ok := n.children[seg]; ok {
		if h := matchNode(child, method, segs, idx+1); h != nil {
			return h
		}
	}
	if n.star != nil {
		if h := matchNode(n.star, method, segs, idx+1); h != nil {
			return h
		}
	}
	if n.doubleStar != nil {
		if h := n.doubleStar.handlers[method]; h != nil {
			return h
		}
	}
	return nil
}

func splitSegments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// Extractor pulls one argument out of the request context for a
// function-typed route (spec.md §4.G "named extractors").
type Extractor func(c *chain.Context) (any, error)

// PathFragment extracts the i'th path segment, 1-indexed into the parsed,
// percent-decoded fragments of the request URI.
func PathFragment(i int) Extractor {
	return func(c *chain.Context) (any, error) {
		frags := c.Req.URI().Fragments
		if i < 1 || i > len(frags) {
			return nil, fmt.Errorf("router: path fragment %d out of range (have %d)", i, len(frags))
		}
		return frags[i-1], nil
	}
}

// Query extracts a query-string parameter by name.
func Query(name string) Extractor {
	return func(c *chain.Context) (any, error) {
		v := c.Req.URI().Query[name]
		return v, nil
	}
}

// ExtractedHandler adapts a slice of Extractors plus a function taking
// exactly those extracted values (in order) into a chain.Handler: the
// router resolves each extractor against the context before invoking fn.
// fn must return an error (and is expected to write the response itself,
// mirroring the plain chain.Handler contract).
func ExtractedHandler(fn func(c *chain.Context, args []any) error, extractors ...Extractor) chain.Handler {
	return func(c *chain.Context) error {
		args := make([]any, len(extractors))
		for i, ex := range extractors {
			v, err := ex(c)
			if err != nil {
				return err
			}
			args[i] = v
		}
		return fn(c, args)
	}
}
