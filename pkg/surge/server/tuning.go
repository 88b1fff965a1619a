package server

import (
	"net"

	"golang.org/x/sys/unix"
)

// TuningConfig controls the socket options applied to every connection a
// shard accepts. Zero values mean "leave the kernel default alone".
type TuningConfig struct {
	// NoDelay disables Nagle's algorithm. HTTP/1.1 request/response
	// round-trips are latency-sensitive, so this defaults on.
	NoDelay bool

	// RecvBuffer and SendBuffer set SO_RCVBUF/SO_SNDBUF in bytes. 0 keeps
	// the system default.
	RecvBuffer int
	SendBuffer int

	// KeepAlive enables SO_KEEPALIVE so half-open peers get reaped by the
	// kernel in addition to the connection module's own watchdog.
	KeepAlive bool
}

// DefaultTuningConfig matches the values an HTTP/1.1 server wants in the
// common case: Nagle off, keepalive on, system default buffer sizes.
func DefaultTuningConfig() TuningConfig {
	return TuningConfig{NoDelay: true, KeepAlive: true}
}

// applyTuning sets cfg's socket options on an accepted connection. Failures
// are non-fatal: a connection that can't get TCP_NODELAY still works, just
// slower, so tuning errors are swallowed rather than closing the
// connection over an optimization.
func applyTuning(nc net.Conn, cfg TuningConfig) {
	tcpConn, ok := nc.(*net.TCPConn)
	if !ok {
		return
	}
	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return
	}

	rawConn.Control(func(fd uintptr) {
		if cfg.NoDelay {
			unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		}
		if cfg.RecvBuffer > 0 {
			unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.RecvBuffer)
		}
		if cfg.SendBuffer > 0 {
			unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, cfg.SendBuffer)
		}
		if cfg.KeepAlive {
			unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
		}
	})
}
