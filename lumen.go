package lumen

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lumen-web/lumen/config"
	"github.com/lumen-web/lumen/internal/server"
	"github.com/lumen-web/lumen/router"
)

// App ties a server to the process: it owns the configuration, reacts to
// SIGINT/SIGTERM with a graceful stop and reports startup faults to the
// entry point.
type App struct {
	addr  netip.AddrPort
	cfg   *config.Config
	log   *zap.Logger
	hooks hooks
	srv   *server.Server

	stop     chan struct{}
	stopOnce sync.Once
}

type hooks struct {
	onStart, onStop func()
}

// New returns a new App instance serving on addr ("host:port"; an empty
// host means all interfaces). Panics on a malformed address.
func New(addr string) *App {
	parsed, err := parseAddr(addr)
	if err != nil {
		panic(fmt.Errorf("lumen: listen: bad addr: %v", err))
	}

	return &App{
		addr: parsed,
		cfg:  config.Default(),
		stop: make(chan struct{}),
	}
}

// Tune replaces the default config. Zero fields are filled back in with
// defaults.
func (a *App) Tune(cfg *config.Config) *App {
	a.cfg = config.Fill(cfg)
	return a
}

// Logger sets the logger used by the whole runtime. Defaults to a no-op.
func (a *App) Logger(log *zap.Logger) *App {
	a.log = log
	return a
}

// NotifyOnStart calls the callback at the moment the server is about to
// start accepting. It isn't strongly guaranteed that connections are already
// being accepted when it runs.
func (a *App) NotifyOnStart(cb func()) *App {
	a.hooks.onStart = cb
	return a
}

// NotifyOnStop calls the callback once the server is fully down and all
// clients are disconnected.
func (a *App) NotifyOnStop(cb func()) *App {
	a.hooks.onStop = cb
	return a
}

// Serve starts the application and blocks until it stops, via Stop or a
// termination signal. A nil router serves bare 404s. Returns nil on a clean
// stop; a startup fault comes back as the error.
func (a *App) Serve(r *router.Router) error {
	if r == nil {
		r = router.New()
	}
	if a.log == nil {
		a.log = zap.NewNop()
	}

	srv, err := server.New(a.addr, r, a.cfg, a.log)
	if err != nil {
		return err
	}
	a.srv = srv

	// a dead peer must surface as a write error, not kill the process
	signal.Ignore(syscall.SIGPIPE)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	callIfNotNil(a.hooks.onStart)

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(srv.Run)
	g.Go(func() error {
		select {
		case <-sig:
		case <-a.stop:
		case <-ctx.Done():
			return nil
		}

		srv.Stop()
		return nil
	})

	err = g.Wait()
	callIfNotNil(a.hooks.onStop)

	return err
}

// Stop initiates a graceful shutdown. Non-blocking; Serve returns once the
// loop and the workers are done. Idempotent.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		close(a.stop)
	})
}

// Addr returns the actually bound listen address. Only valid once the
// NotifyOnStart hook fired.
func (a *App) Addr() netip.AddrPort {
	if a.srv == nil {
		return netip.AddrPort{}
	}

	return a.srv.Addr()
}

// Statistics returns server-wide counters. Before Serve has built the server
// they are all zero; after Serve returned they hold the final values.
func (a *App) Statistics() server.Statistics {
	if a.srv == nil {
		return server.Statistics{}
	}

	return a.srv.Statistics()
}

func parseAddr(addr string) (netip.AddrPort, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return netip.AddrPort{}, err
	}
	if host == "" {
		host = "0.0.0.0"
	}

	ip, err := netip.ParseAddr(host)
	if err != nil {
		return netip.AddrPort{}, err
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("bad port %q: %w", portStr, err)
	}

	return netip.AddrPortFrom(ip, uint16(port)), nil
}

func callIfNotNil(f func()) {
	if f != nil {
		f()
	}
}
