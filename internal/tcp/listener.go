package tcp

import (
	"errors"
	"fmt"
	"net/netip"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/lumen-web/lumen/config"
	"github.com/lumen-web/lumen/internal/reactor"
)

// Listener binds a TCP socket and accepts connections off the reactor. Every
// accepted socket becomes a Conn with the configured handler attached,
// registered for read readiness and inserted into the registry.
type Listener struct {
	fd   int
	addr netip.AddrPort
	loop *reactor.Reactor
	reg  *Registry
	log  *zap.Logger
	cfg  *config.Config

	handler Handler
	onError func(error)
}

// NewListener creates, binds and listens on a non-blocking socket. Failures
// here are fatal startup faults and are returned to the entry point.
func NewListener(
	addr netip.AddrPort,
	loop *reactor.Reactor,
	reg *Registry,
	log *zap.Logger,
	cfg *config.Config,
) (*Listener, error) {
	fd, err := listen(addr, cfg.NET.AcceptBacklog)
	if err != nil {
		return nil, err
	}

	// re-read the address: binding port 0 picks an ephemeral one
	if sa, err := unix.Getsockname(fd); err == nil {
		if bound := boundAddr(sa); bound.IsValid() {
			addr = bound
		}
	}

	return &Listener{
		fd:   fd,
		addr: addr,
		loop: loop,
		reg:  reg,
		log:  log,
		cfg:  cfg,
	}, nil
}

// SetHandler installs the handler attached to every accepted connection.
func (l *Listener) SetHandler(h Handler) { l.handler = h }

// SetErrorCallback installs the sink for non-fatal accept-path errors.
func (l *Listener) SetErrorCallback(cb func(error)) { l.onError = cb }

// Start registers the listen socket for read readiness.
func (l *Listener) Start() error {
	if err := l.loop.AddFd(l.fd, reactor.EventRead, l.handleAcceptable); err != nil {
		return fmt.Errorf("tcp: register listener: %w", err)
	}

	l.log.Info("listening", zap.String("addr", l.addr.String()))

	return nil
}

// Stop removes the listen socket from the reactor, closes it, and closes
// every registered connection.
func (l *Listener) Stop() {
	l.loop.RemoveFd(l.fd)
	_ = unix.Close(l.fd)
	l.reg.StopAll()
}

// Addr returns the bound address.
func (l *Listener) Addr() netip.AddrPort { return l.addr }

// handleAcceptable drains the accept queue until it would block; being
// edge-triggered, stopping early would strand connections until the next
// arrival.
func (l *Listener) handleAcceptable(_ int, _ reactor.EventMask) {
	for {
		nfd, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				return
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}

			l.notifyError(fmt.Errorf("tcp: accept: %w", err))
			return
		}

		l.accept(nfd)
	}
}

func (l *Listener) accept(nfd int) {
	c, err := NewConn(nfd, l.loop, l.log, l.cfg)
	if err != nil {
		_ = unix.Close(nfd)
		l.notifyError(err)
		return
	}

	c.SetHandler(l.handler)
	// the connection erases itself from the registry whichever way it dies
	c.SetCloseCallback(func(c *Conn) {
		l.reg.Remove(c.Fd())
	})

	if err = l.reg.Start(c); err != nil {
		// the socket was accepted but can't be served; the server keeps going
		l.notifyError(err)
		c.Close()
	}
}

func (l *Listener) notifyError(err error) {
	l.log.Warn("accept path error", zap.Error(err))

	if l.onError != nil {
		l.onError(err)
	}
}

func listen(addr netip.AddrPort, backlog int) (int, error) {
	domain := unix.AF_INET
	if addr.Addr().Is6() && !addr.Addr().Is4In6() {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("tcp: socket: %w", err)
	}

	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("tcp: set SO_REUSEADDR: %w", err)
	}

	if err = unix.Bind(fd, sockaddr(addr, domain)); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("tcp: bind %s: %w", addr, err)
	}

	if err = unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("tcp: listen %s: %w", addr, err)
	}

	return fd, nil
}

func sockaddr(addr netip.AddrPort, domain int) unix.Sockaddr {
	if domain == unix.AF_INET6 {
		return &unix.SockaddrInet6{
			Port: int(addr.Port()),
			Addr: addr.Addr().As16(),
		}
	}

	return &unix.SockaddrInet4{
		Port: int(addr.Port()),
		Addr: addr.Addr().Unmap().As4(),
	}
}

func boundAddr(sa unix.Sockaddr) netip.AddrPort {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr), uint16(a.Port))
	}

	return netip.AddrPort{}
}

// IsPortAvailable probes whether the address can be bound right now.
func IsPortAvailable(addr netip.AddrPort) bool {
	fd, err := listen(addr, 1)
	if err != nil {
		return false
	}

	_ = unix.Close(fd)

	return true
}
