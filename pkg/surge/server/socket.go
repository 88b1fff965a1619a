package server

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// listenReusable opens a TCP listener with SO_REUSEADDR and SO_REUSEPORT set
// before bind, so every shard can independently listen on the same address
// and let the kernel load-balance accepted connections across them (spec.md
// §4.J "binds each listen address with SO_REUSEADDR and a large backlog").
// net.Listen alone exposes neither the socket options nor the backlog, so
// the listener is built by hand from a raw socket.
func listenReusable(address string, backlog int) (net.Listener, error) {
	addr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("server: resolve %s: %w", address, err)
	}

	domain := unix.AF_INET
	if addr.IP != nil && addr.IP.To4() == nil {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("server: socket: %w", err)
	}
	// Always close fd on any error path below; on success net.FileListener
	// dup()s it and the deferred f.Close closes the original.
	closeFD := true
	defer func() {
		if closeFD {
			unix.Close(fd)
		}
	}()

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return nil, fmt.Errorf("server: SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		return nil, fmt.Errorf("server: SO_REUSEPORT: %w", err)
	}

	sa, err := sockaddr(addr, domain)
	if err != nil {
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		return nil, fmt.Errorf("server: bind %s: %w", address, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return nil, fmt.Errorf("server: listen %s: %w", address, err)
	}

	f := os.NewFile(uintptr(fd), address)
	defer f.Close()
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("server: FileListener %s: %w", address, err)
	}
	closeFD = false
	return ln, nil
}

func sockaddr(addr *net.TCPAddr, domain int) (unix.Sockaddr, error) {
	if domain == unix.AF_INET {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		if ip4 := addr.IP.To4(); ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return sa, nil
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	if ip16 := addr.IP.To16(); ip16 != nil {
		copy(sa.Addr[:], ip16)
	}
	return sa, nil
}
