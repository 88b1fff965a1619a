// Package server implements the Server module (spec.md §4.J): per-shard
// accept loops binding every listen address with SO_REUSEADDR/SO_REUSEPORT
// and a configurable backlog, a live connection set per shard, a periodic
// watchdog that times out stalled connections, and coordinated shutdown.
// Grounded on shockwave's server/server.go (BaseServer: accept loop,
// connection tracking map, Shutdown/Close coordination) and
// server/server_shockwave.go (ShockwaveServer.Serve accept loop, per-
// connection goroutine dispatch), restructured into a shard-per-core set
// per spec.md §5 "no data is shared mutably across shards".
package server

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/surge/pkg/surge/chain"
	"github.com/yourusername/surge/pkg/surge/conn"
	"github.com/yourusername/surge/pkg/surge/di"
)

// Config configures a Server. ListenAddresses is the set of host:port pairs
// every shard listens on via SO_REUSEPORT; ShardCount defaults to
// runtime.GOMAXPROCS(0) when unset.
type Config struct {
	ListenAddresses []string
	ShardCount      int
	Backlog         int

	WatchdogInterval time.Duration

	ConnConfig conn.Config

	// Tuning controls the TCP socket options applied to each accepted
	// connection (Nagle, buffer sizes, keepalive).
	Tuning TuningConfig
}

// DefaultConfig returns sane defaults, one shard per available core and a
// large listen backlog, matching shockwave's DefaultConfig idiom of
// defaults-then-override.
func DefaultConfig() Config {
	return Config{
		ShardCount:       runtime.GOMAXPROCS(0),
		Backlog:          1024,
		WatchdogInterval: 30 * time.Second,
		ConnConfig:       conn.DefaultConfig(),
		Tuning:           DefaultTuningConfig(),
	}
}

// ContainerFactory builds a fresh DI container for one shard. Each shard
// gets its own container instance so service lifetimes never cross shard
// boundaries (spec.md §5 "The DI container is per-shard").
type ContainerFactory func() *di.Container

// Server owns a fleet of shards, each an independent accept loop + live
// connection set + DI container.
type Server struct {
	id  string
	cfg Config

	handlers     chain.Chain
	newContainer ContainerFactory

	shards []*shard

	cancelWatchdog context.CancelFunc
}

// New builds a Server. handlers is the fully composed request chain shared
// (read-only) by every shard; newContainer, if nil, defaults to di.New for
// every shard.
func New(cfg Config, handlers chain.Chain, newContainer ContainerFactory) *Server {
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = runtime.GOMAXPROCS(0)
	}
	if newContainer == nil {
		newContainer = di.New
	}
	return &Server{
		id:           uuid.NewString(),
		cfg:          cfg,
		handlers:     handlers,
		newContainer: newContainer,
	}
}

// ID returns the server's per-process identifier, a random UUID minted in
// New. The server itself does not write it into logs or response headers.
func (s *Server) ID() string { return s.id }

// ShardCount reports how many shards this server runs.
func (s *Server) ShardCount() int { return len(s.shards) }

// Addrs returns the bound address of each configured listen address, as
// seen by the first shard (every shard binds the same addresses via
// SO_REUSEPORT). Useful for tests that start the server on port 0 and need
// to discover the address the kernel actually assigned.
func (s *Server) Addrs() []net.Addr {
	if len(s.shards) == 0 {
		return nil
	}
	addrs := make([]net.Addr, 0, len(s.shards[0].listeners))
	for _, ln := range s.shards[0].listeners {
		addrs = append(addrs, ln.Addr())
	}
	return addrs
}

// LiveConnections returns the total number of live connections across all
// shards, for diagnostics/metrics.
func (s *Server) LiveConnections() int {
	total := 0
	for _, sh := range s.shards {
		total += sh.liveConnectionCount()
	}
	return total
}

// Start binds every listen address on every shard and launches their accept
// loops and the watchdog, then returns. It does not block; call Shutdown to
// stop the server.
func (s *Server) Start(ctx context.Context) error {
	s.shards = make([]*shard, 0, s.cfg.ShardCount)
	for i := 0; i < s.cfg.ShardCount; i++ {
		sh := newShard(i, s.newContainer(), s.handlers, s.cfg.ConnConfig, s.cfg.Tuning)
		for _, addr := range s.cfg.ListenAddresses {
			ln, err := listenReusable(addr, s.cfg.Backlog)
			if err != nil {
				s.closeShardsSoFar()
				return fmt.Errorf("server: shard %d: %w", i, err)
			}
			sh.listeners = append(sh.listeners, ln)
		}
		s.shards = append(s.shards, sh)
	}

	for _, sh := range s.shards {
		sh.start(ctx)
	}

	watchdogCtx, cancel := context.WithCancel(ctx)
	s.cancelWatchdog = cancel
	go s.watchdog(watchdogCtx)

	return nil
}

func (s *Server) closeShardsSoFar() {
	for _, sh := range s.shards {
		for _, ln := range sh.listeners {
			ln.Close()
		}
	}
	s.shards = nil
}

// watchdog periodically scans every shard's live set for stalled
// connections and requests their shutdown (spec.md §4.J).
func (s *Server) watchdog(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.WatchdogInterval)
	defer ticker.Stop()
	staleAfter := 2 * s.cfg.WatchdogInterval
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sh := range s.shards {
				sh.scanWatchdog(staleAfter)
			}
		}
	}
}

// Shutdown aborts every listener, best-effort stops every live connection
// on every shard, and waits for all of them to finish, or until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancelWatchdog != nil {
		s.cancelWatchdog()
	}

	done := make(chan struct{})
	go func() {
		for _, sh := range s.shards {
			sh.shutdown()
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
