package server

import (
	"net/netip"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/lumen-web/lumen/config"
	"github.com/lumen-web/lumen/internal/reactor"
	"github.com/lumen-web/lumen/internal/taskpool"
	"github.com/lumen-web/lumen/internal/tcp"
	"github.com/lumen-web/lumen/router"
)

// Statistics is a snapshot of server-wide counters.
type Statistics struct {
	TotalRequests     uint64
	ActiveConnections int
	TotalConnections  uint64
	BytesIn           uint64
	BytesOut          uint64
}

// Server glues the reactor, the worker pool, the connection registry and the
// listener together and serves a router over them.
type Server struct {
	cfg      *config.Config
	log      *zap.Logger
	loop     *reactor.Reactor
	pool     *taskpool.Pool
	registry *tcp.Registry
	listener *tcp.Listener
	router   *router.Router

	totalRequests atomic.Uint64
	bytesIn       atomic.Uint64
	bytesOut      atomic.Uint64
	stopped       atomic.Bool
}

// New builds the full runtime for the address. Any failure here is a fatal
// startup fault for the caller to propagate.
func New(addr netip.AddrPort, r *router.Router, cfg *config.Config, log *zap.Logger) (*Server, error) {
	cfg = config.Fill(cfg)

	loop, err := reactor.New(log)
	if err != nil {
		return nil, err
	}

	registry := tcp.NewRegistry()

	listener, err := tcp.NewListener(addr, loop, registry, log, cfg)
	if err != nil {
		_ = loop.Close()
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		log:      log,
		loop:     loop,
		pool:     taskpool.New(cfg.Pool, log),
		registry: registry,
		listener: listener,
		router:   r,
	}

	listener.SetHandler(&httpHandler{srv: s})

	return s, nil
}

// Run starts accepting and blocks in the event loop until Stop. The worker
// pool is drained before it returns.
func (s *Server) Run() error {
	defer func() {
		s.pool.Shutdown(true)
		_ = s.loop.Close()
	}()

	if err := s.listener.Start(); err != nil {
		return err
	}

	return s.loop.Run()
}

// Stop shuts the server down: the listen socket goes first, then every live
// connection, then the loop itself. Safe to call from any thread; idempotent.
func (s *Server) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}

	s.loop.QueueInLoop(func() {
		s.listener.Stop()
		s.loop.Stop()
	})
}

// Statistics returns current server-wide counters.
func (s *Server) Statistics() Statistics {
	return Statistics{
		TotalRequests:     s.totalRequests.Load(),
		ActiveConnections: s.registry.Count(),
		TotalConnections:  s.registry.Total(),
		BytesIn:           s.bytesIn.Load(),
		BytesOut:          s.bytesOut.Load(),
	}
}

// Addr returns the address the listener is actually bound to.
func (s *Server) Addr() netip.AddrPort { return s.listener.Addr() }

// Loop exposes the reactor, mainly so embedders can schedule work on it.
func (s *Server) Loop() *reactor.Reactor { return s.loop }

// Registry exposes the connection registry.
func (s *Server) Registry() *tcp.Registry { return s.registry }
