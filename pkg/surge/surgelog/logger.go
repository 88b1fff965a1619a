// Package surgelog provides the framework's structured logging, matching
// bolt's middleware/logger.go idiom: stdlib "log" as the underlying sink,
// JSON-encoded entries for request logs rather than a third-party
// structured-logging library. Neither shockwave nor bolt import zerolog,
// zap, or logrus anywhere in the pack, so this stays on the stdlib.
package surgelog

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"time"

	"github.com/yourusername/surge/pkg/surge/chain"
)

// Logger is a minimal structured logger: one JSON object per line, encoded
// with encoding/json straight onto the configured io.Writer.
type Logger struct {
	out    io.Writer
	fields map[string]any
}

// New builds a Logger writing JSON lines to w (os.Stdout if nil).
func New(w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	return &Logger{out: w}
}

// With returns a child logger that includes key in every subsequent entry,
// e.g. surgelog.New(os.Stdout).With("shard", id).
func (l *Logger) With(key string, value any) *Logger {
	fields := make(map[string]any, len(l.fields)+1)
	for k, v := range l.fields {
		fields[k] = v
	}
	fields[key] = value
	return &Logger{out: l.out, fields: fields}
}

type entry struct {
	Time   string         `json:"time"`
	Level  string         `json:"level"`
	Msg    string         `json:"msg"`
	Fields map[string]any `json:"fields,omitempty"`
}

func (l *Logger) write(level, msg string) {
	e := entry{
		Time:   time.Now().UTC().Format(time.RFC3339Nano),
		Level:  level,
		Msg:    msg,
		Fields: l.fields,
	}
	enc := json.NewEncoder(l.out)
	if err := enc.Encode(e); err != nil {
		log.Printf("surgelog: failed to write log entry: %v", err)
	}
}

func (l *Logger) Info(msg string)  { l.write("info", msg) }
func (l *Logger) Warn(msg string)  { l.write("warn", msg) }
func (l *Logger) Error(msg string) { l.write("error", msg) }

// RequestLog is the structured entry emitted per request by the Middleware
// below, mirroring bolt's LogEntry shape.
type RequestLog struct {
	Time       string  `json:"time"`
	Method     string  `json:"method"`
	Path       string  `json:"path"`
	Status     int     `json:"status"`
	DurationMS float64 `json:"duration_ms"`
	Bytes      int64   `json:"bytes"`
	RemoteAddr string  `json:"remote_addr"`
	Error      string  `json:"error,omitempty"`
}

// Middleware returns a chain.Middleware that logs one JSON line per
// request: method, path, status, duration, bytes written, and the error
// if the handler returned one. skipPaths are omitted from logging
// entirely (e.g. a health-check endpoint), matching bolt's SkipPaths.
func Middleware(l *Logger, skipPaths ...string) chain.Middleware {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(next chain.Handler) chain.Handler {
		return func(c *chain.Context) error {
			if skip[c.Req.RawTarget] {
				return next(c)
			}

			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			status := c.Resp.Resp.StatusCode
			if status == 0 {
				status = 200
			}

			rl := RequestLog{
				Time:       start.UTC().Format(time.RFC3339Nano),
				Method:     c.Req.MethodName(),
				Path:       c.Req.RawTarget,
				Status:     status,
				DurationMS: float64(duration.Microseconds()) / 1000.0,
				Bytes:      c.Resp.BytesWritten(),
				RemoteAddr: c.RemoteAddr,
			}
			if err != nil {
				rl.Error = err.Error()
			}

			enc := json.NewEncoder(l.out)
			if encErr := enc.Encode(rl); encErr != nil {
				log.Printf("surgelog: failed to write request log: %v", encErr)
			}

			return err
		}
	}
}
