// Package config holds the framework's top-level configuration surface
// (spec.md §6 "CLI / configuration surface"), following bolt's
// Config/DefaultConfig idiom: a single struct with a DefaultConfig
// constructor, no env-var or flag parsing baked in (that's left to the
// embedding application, same as shockwave/bolt).
package config

import (
	"time"

	"github.com/yourusername/surge/pkg/surge/conn"
	"github.com/yourusername/surge/pkg/surge/server"
	"github.com/yourusername/surge/pkg/surge/staticfile"
)

// Config is the full set of knobs spec.md §6 names, grouped by the
// component that consumes them.
type Config struct {
	// ListenAddresses is the set of host:port pairs every shard binds.
	ListenAddresses []string

	// ShardCount is the number of shards to run; 0 means one per
	// available core (runtime.GOMAXPROCS(0)).
	ShardCount int

	// Backlog is the listen backlog passed to the raw socket's Listen().
	Backlog int

	MaxInitialRequestBytes   int64
	MaxInitialRequestPackets int64
	RequestTimeout           time.Duration
	KeepAliveTimeout         time.Duration

	RequestQueueSize     int
	RequestBodyQueueSize int

	ReadBufferSize  int
	WriteBufferSize int

	WatchdogInterval time.Duration

	ServerName string

	// StaticFile holds the static-file handler's configuration surface;
	// zero value (empty URLBase) means no static handler is mounted.
	StaticFile StaticFileConfig

	// Tuning controls the TCP socket options applied to each accepted
	// connection.
	Tuning server.TuningConfig
}

// StaticFileConfig mirrors spec.md §6's "Static-file handler" bullet.
type StaticFileConfig struct {
	URLBase              string
	PathBase             string
	CacheControl         string
	MaxCacheFileEntities int
	MaxCacheFileSize     int64
}

// DefaultConfig returns the framework's named defaults: 512KiB/512 packet
// guardrails, 30s request timeout, 100/50 queue sizes.
func DefaultConfig() Config {
	return Config{
		ListenAddresses:          []string{":8080"},
		ShardCount:               0,
		Backlog:                  1024,
		MaxInitialRequestBytes:   524288,
		MaxInitialRequestPackets: 512,
		RequestTimeout:           30 * time.Second,
		KeepAliveTimeout:         60 * time.Second,
		RequestQueueSize:         100,
		RequestBodyQueueSize:     50,
		ReadBufferSize:           4096,
		WriteBufferSize:          4096,
		WatchdogInterval:         30 * time.Second,
		ServerName:               "surge",
		Tuning:                   server.DefaultTuningConfig(),
	}
}

// ConnConfig translates the relevant fields into a conn.Config, the shape
// pkg/surge/conn actually consumes.
func (c Config) ConnConfig() conn.Config {
	return conn.Config{
		ReadBufferSize:           c.ReadBufferSize,
		WriteBufferSize:          c.WriteBufferSize,
		RequestQueueSize:         c.RequestQueueSize,
		BodyQueueSize:            c.RequestBodyQueueSize,
		MaxInitialRequestBytes:   c.MaxInitialRequestBytes,
		MaxInitialRequestPackets: c.MaxInitialRequestPackets,
		InitialRequestTimeout:    c.RequestTimeout,
		KeepAliveTimeout:         c.KeepAliveTimeout,
		ServerName:               c.ServerName,
	}
}

// ServerConfig translates the relevant fields into a server.Config.
func (c Config) ServerConfig() server.Config {
	return server.Config{
		ListenAddresses:  c.ListenAddresses,
		ShardCount:       c.ShardCount,
		Backlog:          c.Backlog,
		WatchdogInterval: c.WatchdogInterval,
		ConnConfig:       c.ConnConfig(),
		Tuning:           c.Tuning,
	}
}

// NewStaticHandler builds the static-file handler described by
// c.StaticFile, or nil if no URLBase was configured.
func (c Config) NewStaticHandler() *staticfile.Handler {
	if c.StaticFile.URLBase == "" {
		return nil
	}
	entities := c.StaticFile.MaxCacheFileEntities
	if entities == 0 {
		entities = staticfile.DefaultMaxCacheEntities
	}
	size := c.StaticFile.MaxCacheFileSize
	if size == 0 {
		size = staticfile.DefaultMaxCacheFileSize
	}
	return staticfile.New(c.StaticFile.URLBase, c.StaticFile.PathBase, c.StaticFile.CacheControl, entities, size)
}
