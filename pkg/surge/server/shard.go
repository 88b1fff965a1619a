package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yourusername/surge/pkg/surge/chain"
	"github.com/yourusername/surge/pkg/surge/conn"
	"github.com/yourusername/surge/pkg/surge/di"
)

// shard owns one slice of the server: its own DI container, its own set of
// listeners (one per configured address, SO_REUSEPORT-bound so the kernel
// spreads accepted sockets across shards), and its own live connection set.
// Nothing here is shared mutably with any other shard (spec.md §5).
type shard struct {
	id        int
	container *di.Container
	handlers  chain.Chain
	connCfg   conn.Config
	tuningCfg TuningConfig

	listeners []net.Listener

	mu    sync.Mutex
	conns map[*conn.Connection]struct{}

	wg       sync.WaitGroup
	stopping atomic.Bool
}

func newShard(id int, container *di.Container, handlers chain.Chain, connCfg conn.Config, tuningCfg TuningConfig) *shard {
	return &shard{
		id:        id,
		container: container,
		handlers:  handlers,
		connCfg:   connCfg,
		tuningCfg: tuningCfg,
		conns:     make(map[*conn.Connection]struct{}),
	}
}

// start launches one accept loop per listener.
func (s *shard) start(ctx context.Context) {
	for _, ln := range s.listeners {
		s.wg.Add(1)
		go func(ln net.Listener) {
			defer s.wg.Done()
			s.acceptLoop(ctx, ln)
		}(ln)
	}
}

func (s *shard) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.stopping.Load() {
				return
			}
			continue
		}

		applyTuning(nc, s.tuningCfg)
		c := conn.New(nc, s.handlers, s.container, s.connCfg, s.remove)
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c.Serve(ctx)
		}()
	}
}

// remove drops c from the live set; passed to conn.New as its onClose hook.
func (s *shard) remove(c *conn.Connection) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// scanWatchdog shuts down any connection whose last observed state change
// is older than staleAfter (spec.md §4.J "periodic timer scans the live set
// for connections whose watchdog flag was not refreshed").
func (s *shard) scanWatchdog(staleAfter time.Duration) {
	s.mu.Lock()
	var stale []*conn.Connection
	for c := range s.conns {
		if time.Since(c.LastActivity()) > staleAfter {
			stale = append(stale, c)
		}
	}
	s.mu.Unlock()

	for _, c := range stale {
		c.Shutdown(conn.ErrRequestTimeout)
	}
}

// shutdown stops accepting new connections, best-effort requests every live
// connection to close, and waits for every accept loop and connection
// goroutine this shard started to exit.
func (s *shard) shutdown() {
	s.stopping.Store(true)
	for _, ln := range s.listeners {
		ln.Close()
	}

	s.mu.Lock()
	conns := make([]*conn.Connection, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Shutdown(nil)
	}

	s.wg.Wait()
}

// liveConnectionCount reports the shard's current live connection count.
func (s *shard) liveConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
