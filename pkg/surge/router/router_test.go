package router

import (
	"context"
	"testing"

	"github.com/yourusername/surge/pkg/surge/chain"
	"github.com/yourusername/surge/pkg/surge/http1"
)

func ctxFor(path string) *chain.Context {
	req := http1.AcquireRequest()
	req.RawTarget = path
	req.Method = http1.MethodGET
	return &chain.Context{Context: context.Background(), Req: req}
}

func named(name string, calls *[]string) chain.Handler {
	return func(c *chain.Context) error {
		*calls = append(*calls, name)
		return nil
	}
}

func TestFullPathExactMatch(t *testing.T) {
	var calls []string
	r := New()
	r.Route("GET", "/users", named("users", &calls))

	if err := r.Handler(named("next", &calls))(ctxFor("/users")); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 1 || calls[0] != "users" {
		t.Fatalf("calls = %v", calls)
	}
}

func TestLiteralWithAsteriskCharStaysFullPath(t *testing.T) {
	var calls []string
	r := New()
	r.Route("GET", "/abc/*123", named("literal-star", &calls))

	if err := r.Handler(named("next", &calls))(ctxFor("/abc/*123")); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 1 || calls[0] != "literal-star" {
		t.Fatalf("calls = %v, want literal-star route (not wildcard trie)", calls)
	}
}

func TestWildcardSingleSegment(t *testing.T) {
	var calls []string
	r := New()
	r.Route("GET", "/files/*/download", named("single-star", &calls))

	if err := r.Handler(named("next", &calls))(ctxFor("/files/report/download")); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 1 || calls[0] != "single-star" {
		t.Fatalf("calls = %v", calls)
	}
}

func TestWildcardDoubleStarIsTerminalAndConsumesRest(t *testing.T) {
	var calls []string
	r := New()
	r.Route("GET", "/static/**", named("catch-all", &calls))

	if err := r.Handler(named("next", &calls))(ctxFor("/static/css/app/main.css")); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 1 || calls[0] != "catch-all" {
		t.Fatalf("calls = %v", calls)
	}
}

func TestDoubleStarMustBeLastSegment(t *testing.T) {
	r := New()
	err := r.Route("GET", "/a/**/b", named("bad", nil))
	if err == nil {
		t.Fatal("expected error for non-terminal \"**\"")
	}
}

func TestTieBreakLiteralBeatsStarBeatsDoubleStar(t *testing.T) {
	var calls []string
	r := New()
	r.Route("GET", "/a/lit", named("literal", &calls))
	r.Route("GET", "/a/*", named("star", &calls))
	r.Route("GET", "/a/**", named("doublestar", &calls))

	h := r.Handler(named("next", &calls))

	calls = nil
	h(ctxFor("/a/lit"))
	if calls[0] != "literal" {
		t.Fatalf("want literal to win, got %v", calls)
	}

	calls = nil
	h(ctxFor("/a/other"))
	if calls[0] != "star" {
		t.Fatalf("want star to win over doublestar, got %v", calls)
	}

	calls = nil
	h(ctxFor("/a/x/y/z"))
	if calls[0] != "doublestar" {
		t.Fatalf("want doublestar for multi-segment remainder, got %v", calls)
	}
}

func TestNoMatchDelegatesToNext(t *testing.T) {
	var calls []string
	r := New()
	r.Route("GET", "/known", named("known", &calls))

	if err := r.Handler(named("next", &calls))(ctxFor("/unknown")); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 1 || calls[0] != "next" {
		t.Fatalf("calls = %v", calls)
	}
}

func TestMethodMismatchDelegatesToNext(t *testing.T) {
	var calls []string
	r := New()
	r.Route("POST", "/users", named("create-user", &calls))

	if err := r.Handler(named("next", &calls))(ctxFor("/users")); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 1 || calls[0] != "next" {
		t.Fatalf("GET against a POST-only route should fall through, got %v", calls)
	}
}
