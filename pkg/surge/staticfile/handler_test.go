package staticfile

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yourusername/surge/pkg/surge/chain"
	"github.com/yourusername/surge/pkg/surge/http1"
	"github.com/yourusername/surge/pkg/surge/wire"
)

func newCtx(t *testing.T, path string) (*chain.Context, *bytes.Buffer) {
	t.Helper()
	req := http1.AcquireRequest()
	req.RawTarget = path
	req.Method = http1.MethodGET

	var buf bytes.Buffer
	resp := http1.AcquireResponse()
	rw := http1.NewResponseWriter(resp, wire.NewSinkOutput(&buf), "surge-test")

	return &chain.Context{Context: context.Background(), Req: req, Resp: rw}, &buf
}

func notCalled(t *testing.T) chain.Handler {
	return func(c *chain.Context) error {
		t.Fatal("next should not have been called")
		return nil
	}
}

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestPrefixMismatchDelegatesToNext(t *testing.T) {
	dir := t.TempDir()
	h := New("/static", dir, "", DefaultMaxCacheEntities, DefaultMaxCacheFileSize)

	called := false
	next := func(c *chain.Context) error { called = true; return nil }
	c, _ := newCtx(t, "/other/path")
	if err := h.Handler(next)(c); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Fatal("expected delegation to next for non-matching prefix")
	}
}

func TestUnsafePathDelegatesToNext(t *testing.T) {
	dir := t.TempDir()
	h := New("/static", dir, "", DefaultMaxCacheEntities, DefaultMaxCacheFileSize)

	called := false
	next := func(c *chain.Context) error { called = true; return nil }
	c, _ := newCtx(t, "/static/../../etc/passwd")
	if err := h.Handler(next)(c); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Fatal("expected delegation to next for path traversal attempt")
	}
}

func TestServesFileAndCachesIt(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "hello.txt", "hello world")
	h := New("/static", dir, "", DefaultMaxCacheEntities, DefaultMaxCacheFileSize)

	c, buf := newCtx(t, "/static/hello.txt")
	if err := h.Handler(notCalled(t))(c); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "hello world") {
		t.Fatalf("response missing body: %q", buf.String())
	}

	if _, ok := h.cache.get("hello.txt"); !ok {
		t.Fatal("expected file to be cached after first serve")
	}
}

func TestIfModifiedSinceReturns304(t *testing.T) {
	dir := t.TempDir()
	p := writeTempFile(t, dir, "page.html", "<html></html>")
	h := New("/static", dir, "", DefaultMaxCacheEntities, DefaultMaxCacheFileSize)

	info, err := os.Stat(p)
	if err != nil {
		t.Fatal(err)
	}

	c, _ := newCtx(t, "/static/page.html")
	c.Req.Header.Set(http1.HeaderIfModifiedSince, info.ModTime().UTC().Add(time.Second).Format(rfc1123GMT))
	if err := h.Handler(notCalled(t))(c); err != nil {
		t.Fatal(err)
	}
	if c.Resp.Resp.StatusCode != 304 {
		t.Fatalf("status = %d, want 304", c.Resp.Resp.StatusCode)
	}
}

func TestRangeRequestServesPartialContent(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "data.bin", "0123456789")
	h := New("/static", dir, "", DefaultMaxCacheEntities, DefaultMaxCacheFileSize)

	c, buf := newCtx(t, "/static/data.bin")
	c.Req.Header.Set(http1.HeaderRange, "bytes=2-5")
	if err := h.Handler(notCalled(t))(c); err != nil {
		t.Fatal(err)
	}
	if c.Resp.Resp.StatusCode != 206 {
		t.Fatalf("status = %d, want 206", c.Resp.Resp.StatusCode)
	}
	if !strings.Contains(buf.String(), "2345") {
		t.Fatalf("partial body wrong: %q", buf.String())
	}
}

func TestRangeOpenEndedServesToEOF(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "data.bin", "0123456789")
	h := New("/static", dir, "", DefaultMaxCacheEntities, DefaultMaxCacheFileSize)

	c, buf := newCtx(t, "/static/data.bin")
	c.Req.Header.Set(http1.HeaderRange, "bytes=7-")
	if err := h.Handler(notCalled(t))(c); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "789") {
		t.Fatalf("partial body wrong: %q", buf.String())
	}
}

func TestMalformedRangeFallsBackToFullFile(t *testing.T) {
	dir := t.TempDir()
	writeTempFile(t, dir, "data.bin", "0123456789")
	h := New("/static", dir, "", DefaultMaxCacheEntities, DefaultMaxCacheFileSize)

	c, buf := newCtx(t, "/static/data.bin")
	c.Req.Header.Set(http1.HeaderRange, "bytes=9000-9999")
	if err := h.Handler(notCalled(t))(c); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "0123456789") {
		t.Fatalf("expected full file fallback, got %q", buf.String())
	}
}

func TestGzipVariantServedWhenAccepted(t *testing.T) {
	dir := t.TempDir()
	// Only a fake precompressed file exists; content correctness isn't what's
	// under test here, only that the handler falls back to the .gz path when
	// the plain file is missing and the client advertises gzip support.
	writeTempFile(t, dir, "app.js.gz", "console.log(1)")
	h := New("/static", dir, "", DefaultMaxCacheEntities, DefaultMaxCacheFileSize)

	c, _ := newCtx(t, "/static/app.js")
	c.Req.Header.Set(http1.HeaderAcceptEncoding, "gzip")
	if err := h.Handler(notCalled(t))(c); err != nil {
		t.Fatal(err)
	}
	if enc, _ := c.Resp.Header().Get(http1.HeaderContentEncoding); enc != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", enc)
	}
}

func TestMissingFileDelegatesToNext(t *testing.T) {
	dir := t.TempDir()
	h := New("/static", dir, "", DefaultMaxCacheEntities, DefaultMaxCacheFileSize)

	called := false
	next := func(c *chain.Context) error { called = true; return nil }
	c, _ := newCtx(t, "/static/missing.txt")
	if err := h.Handler(next)(c); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Fatal("expected delegation to next for missing file")
	}
}
