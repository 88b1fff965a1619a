// Package staticfile implements the static-file handler (spec.md §4.H):
// an LRU-cached file server with Range and If-Modified-Since support and
// optional pre-compressed .gz/.br variants. Grounded on CPVFramework's
// HttpServerRequestStaticFileHandler.hpp for the request flow, and on
// shockwave's response.go for the chunked-write mechanics reused to stream
// a file body through a wire.Output.
package staticfile

import (
	"container/list"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"

	"github.com/yourusername/surge/pkg/surge/chain"
	"github.com/yourusername/surge/pkg/surge/http1"
)

const (
	// DefaultMaxCacheEntities is the LRU's default entry count.
	DefaultMaxCacheEntities = 16
	// DefaultMaxCacheFileSize is the default per-file cache-eligibility cap (1 MiB).
	DefaultMaxCacheFileSize = 1 << 20

	// rfc1123GMT is the wire format for Last-Modified/If-Modified-Since.
	rfc1123GMT = "Mon, 02 Jan 2006 15:04:05 GMT"
)

// cacheEntry holds a cached file body alongside its framing metadata.
type cacheEntry struct {
	key          string
	content      []byte
	lastModified time.Time
	contentType  string
	gzipVariant  bool // content is already gzip-compressed
}

// cache is a fixed-capacity LRU keyed by relative file path (or
// "path.gz" for a cached precompressed variant). Grounded on the standard
// library's container/list — no example repo in the pack imports a
// third-party LRU cache library, so this is the one component of the
// handler built on the standard library alone (see DESIGN.md).
type cache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

func newCache(capacity int) *cache {
	return &cache{capacity: capacity, ll: list.New(), items: make(map[string]*list.Element)}
}

func (c *cache) get(key string) (*cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*cacheEntry), true
}

func (c *cache) put(entry *cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capacity == 0 {
		return
	}
	if el, ok := c.items[entry.key]; ok {
		el.Value = entry
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(entry)
	c.items[entry.key] = el
	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).key)
		}
	}
}

func (c *cache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
}

// Handler serves files under pathBase for requests whose path starts with
// urlBase.
type Handler struct {
	urlBase      string
	pathBase     string
	cacheControl string
	maxFileSize  int64
	cache        *cache
}

// New builds a Handler. cacheControl may be empty (no Cache-Control sent).
// maxCacheEntities of 0 disables caching entirely (recommended for local
// development, per the CPVFramework doc comment this is ported from).
func New(urlBase, pathBase, cacheControl string, maxCacheEntities int, maxCacheFileSize int64) *Handler {
	return &Handler{
		urlBase:      urlBase,
		pathBase:     pathBase,
		cacheControl: cacheControl,
		maxFileSize:  maxCacheFileSize,
		cache:        newCache(maxCacheEntities),
	}
}

// ClearCache drops every cached file body.
func (h *Handler) ClearCache() { h.cache.clear() }

// Handler adapts this static-file handler into a chain.Handler that falls
// through to next whenever the request isn't servable (wrong prefix,
// unsafe path, file not found).
func (h *Handler) Handler(next chain.Handler) chain.Handler {
	return func(c *chain.Context) error {
		return h.handle(c, next)
	}
}

func (h *Handler) handle(c *chain.Context, next chain.Handler) error {
	uriPath := c.Req.URI().Path
	if !strings.HasPrefix(uriPath, h.urlBase) {
		return next(c)
	}
	rel := strings.TrimPrefix(uriPath, h.urlBase)
	rel = strings.TrimPrefix(rel, "/")
	if !safeRelativePath(rel) {
		return next(c)
	}
	fsPath := filepath.Join(h.pathBase, filepath.FromSlash(rel))

	acceptEnc, _ := c.Req.Header.Get(http1.HeaderAcceptEncoding)
	acceptsGzip := acceptEncoding(acceptEnc, "gzip")
	acceptsBrotli := acceptEncoding(acceptEnc, "br")
	rangeHeader, hasRange := c.Req.Header.Get(http1.HeaderRange)

	// Range requests bypass the cache and precompressed variants entirely
	// (spec.md §4.H step 6): they're assumed to be large-file downloads.
	if hasRange {
		return h.serveRange(c, fsPath, rangeHeader, next)
	}

	if acceptsGzip {
		if entry, ok := h.cache.get(rel + ".gz"); ok {
			return h.serveCached(c, entry, acceptsGzip)
		}
	}
	if entry, ok := h.cache.get(rel); ok {
		return h.serveCached(c, entry, acceptsGzip)
	}

	info, err := os.Stat(fsPath)
	variant := "" // "gz", "br", or "" for the plain file
	if err != nil {
		if acceptsGzip {
			if gi, gerr := os.Stat(fsPath + ".gz"); gerr == nil {
				info, err, variant = gi, nil, "gz"
			}
		}
		// Probe .br even when the client doesn't advertise "br": a .br-only
		// file is still servable, just decompressed on the way out.
		if err != nil {
			if bi, berr := os.Stat(fsPath + ".br"); berr == nil {
				info, err, variant = bi, nil, "br"
			}
		}
		if err != nil {
			return next(c)
		}
	}

	if notModified(c, info.ModTime()) {
		c.Resp.WriteHeader(304)
		return nil
	}

	servePath := fsPath
	switch variant {
	case "gz":
		servePath = fsPath + ".gz"
	case "br":
		servePath = fsPath + ".br"
	}

	f, err := os.Open(servePath)
	if err != nil {
		return next(c)
	}
	defer f.Close()

	contentType := contentTypeFor(rel)

	// A .br file whose client doesn't accept "br" needs decompressing
	// before it can be framed with a real Content-Length, so it can't
	// stream straight through like the other variants.
	if variant == "br" && !acceptsBrotli {
		body, rerr := io.ReadAll(brotli.NewReader(f))
		if rerr != nil {
			return rerr
		}
		entry := &cacheEntry{
			key:          rel,
			content:      body,
			lastModified: info.ModTime(),
			contentType:  contentType,
		}
		if int64(len(body)) <= h.maxFileSize {
			h.cache.put(entry)
		}
		return h.serveCached(c, entry, acceptsGzip)
	}

	if info.Size() <= h.maxFileSize {
		body, rerr := io.ReadAll(f)
		if rerr == nil {
			key := rel
			if variant == "gz" || variant == "br" {
				key = rel + "." + variant
			}
			entry := &cacheEntry{
				key:          key,
				content:      body,
				lastModified: info.ModTime(),
				contentType:  contentType,
				gzipVariant:  variant == "gz",
			}
			h.cache.put(entry)
			if variant == "br" {
				c.Resp.Header().ContentEncoding = "br"
			}
			return h.serveCached(c, entry, acceptsGzip)
		}
	}

	c.Resp.Header().ContentType = contentType
	c.Resp.Header().LastModified = info.ModTime().UTC().Format(rfc1123GMT)
	if h.cacheControl != "" {
		c.Resp.Header().CacheControl = h.cacheControl
	}
	switch variant {
	case "gz":
		c.Resp.Header().ContentEncoding = "gzip"
	case "br":
		c.Resp.Header().ContentEncoding = "br"
	}
	c.Resp.Header().ContentLength = strconv.FormatInt(info.Size(), 10)
	_, werr := io.Copy(writerAdapter{c}, f)
	return werr
}

func (h *Handler) serveCached(c *chain.Context, entry *cacheEntry, acceptsGzip bool) error {
	if notModified(c, entry.lastModified) {
		c.Resp.WriteHeader(304)
		return nil
	}
	c.Resp.Header().ContentType = entry.contentType
	c.Resp.Header().LastModified = entry.lastModified.UTC().Format(rfc1123GMT)
	if h.cacheControl != "" {
		c.Resp.Header().CacheControl = h.cacheControl
	}

	body := entry.content
	if entry.gzipVariant && !acceptsGzip {
		// Client can't take the gzip bytes we cached: decompress on the
		// fly rather than refusing to serve the cached entry.
		zr, err := gzip.NewReader(strings.NewReader(string(entry.content)))
		if err != nil {
			return err
		}
		defer zr.Close()
		decoded, err := io.ReadAll(zr)
		if err != nil {
			return err
		}
		body = decoded
	} else if entry.gzipVariant {
		c.Resp.Header().ContentEncoding = "gzip"
	}

	c.Resp.Header().ContentLength = strconv.Itoa(len(body))
	_, err := c.Resp.Write(c, body)
	return err
}

// serveRange serves a single-range 206 response, or the full file if the
// Range header is malformed (spec.md §4.H step 6).
func (h *Handler) serveRange(c *chain.Context, fsPath, rangeHeader string, next chain.Handler) error {
	f, err := os.Open(fsPath)
	if err != nil {
		return next(c)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return next(c)
	}

	from, to, ok := parseRange(rangeHeader, info.Size())
	if !ok {
		c.Resp.Header().ContentType = contentTypeFor(fsPath)
		c.Resp.Header().ContentLength = strconv.FormatInt(info.Size(), 10)
		_, werr := io.Copy(writerAdapter{c}, f)
		return werr
	}

	length := to - from + 1
	c.Resp.WriteHeader(206)
	c.Resp.Header().ContentType = contentTypeFor(fsPath)
	c.Resp.Header().ContentLength = strconv.FormatInt(length, 10)
	c.Resp.Header().Set(http1.HeaderContentRange,
		"bytes "+strconv.FormatInt(from, 10)+"-"+strconv.FormatInt(to, 10)+"/"+strconv.FormatInt(info.Size(), 10))

	if _, serr := f.Seek(from, io.SeekStart); serr != nil {
		return serr
	}
	_, werr := io.CopyN(writerAdapter{c}, f, length)
	return werr
}

func notModified(c *chain.Context, modTime time.Time) bool {
	ims, ok := c.Req.Header.Get(http1.HeaderIfModifiedSince)
	if !ok {
		return false
	}
	t, err := time.Parse(rfc1123GMT, ims)
	if err != nil {
		return false
	}
	return !modTime.Truncate(time.Second).After(t)
}

type writerAdapter struct{ c *chain.Context }

func (w writerAdapter) Write(p []byte) (int, error) {
	return w.c.Resp.Write(w.c, p)
}

// parseRange parses a "bytes=from-to" or "bytes=from-" spec.
func parseRange(header string, size int64) (from, to int64, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, false
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return 0, 0, false // multi-range not supported
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	fromStr, toStr := parts[0], parts[1]
	f, err := strconv.ParseInt(fromStr, 10, 64)
	if err != nil || f < 0 || f >= size {
		return 0, 0, false
	}
	if toStr == "" {
		return f, size - 1, true
	}
	t, err := strconv.ParseInt(toStr, 10, 64)
	if err != nil || t < f || t >= size {
		return 0, 0, false
	}
	return f, t, true
}

func safeRelativePath(rel string) bool {
	if rel == "" {
		return true
	}
	if strings.Contains(rel, "..") || strings.Contains(rel, "//") || strings.ContainsRune(rel, 0) {
		return false
	}
	return true
}

func acceptEncoding(header, enc string) bool {
	for _, part := range strings.Split(header, ",") {
		name := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if strings.EqualFold(name, enc) {
			return true
		}
	}
	return false
}

func contentTypeFor(name string) string {
	base := strings.TrimSuffix(strings.TrimSuffix(name, ".gz"), ".br")
	switch strings.ToLower(filepath.Ext(base)) {
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js":
		return "application/javascript; charset=utf-8"
	case ".json":
		return "application/json; charset=utf-8"
	case ".svg":
		return "image/svg+xml"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".woff2":
		return "font/woff2"
	default:
		return "application/octet-stream"
	}
}
