package config

import "time"

type (
	NET struct {
		// ReadBufferSize is the size of the per-connection buffer a single
		// read from the socket goes through.
		ReadBufferSize int
		// MaxBufferSize caps both the ingress and the egress buffer of every
		// connection. A connection overflowing it is closed.
		MaxBufferSize int
		// IdleTimeout controls the maximal lifetime of idle connections. If no
		// data was read or written in this period of time, the connection is
		// closed.
		IdleTimeout time.Duration
		// AcceptBacklog is passed to listen(2).
		AcceptBacklog int
	}

	HTTP struct {
		// MaxRequestLineSize bounds the request line. Requests exceeding it are
		// rejected with 400 Bad Request.
		MaxRequestLineSize int
		// HeadersPrealloc is the initial capacity of the headers storage.
		HeadersPrealloc int
		// Default headers are included into every response implicitly, unless
		// explicitly overridden.
		DefaultHeaders map[string]string
		// InlineHandlers makes route handlers run directly on the event loop
		// instead of the worker pool. Handlers must not block then.
		InlineHandlers bool
	}

	Pool struct {
		// CoreWorkers is the number of workers spawned at construction.
		CoreWorkers int
		// MaxWorkers bounds dynamic growth. The minimal implementation keeps
		// the worker count at CoreWorkers.
		MaxWorkers int
		// QueueSize bounds the pending task FIFO.
		QueueSize int
		// KeepAlive is how long an extra worker above CoreWorkers stays around
		// while idle.
		KeepAlive time.Duration
	}
)

// Config holds settings used across the whole server, mainly restrictions,
// limitations and pre-allocations.
//
// Always modify defaults (returned via Default()) instead of initializing the
// struct manually, otherwise zero limits will reject everything.
type Config struct {
	NET  NET
	HTTP HTTP
	Pool Pool
}

// Default returns a well-balanced default config.
func Default() *Config {
	return &Config{
		NET: NET{
			ReadBufferSize: 4096,
			MaxBufferSize:  1024 * 1024,
			IdleTimeout:    30 * time.Second,
			AcceptBacklog:  1024,
		},
		HTTP: HTTP{
			MaxRequestLineSize: 8192,
			HeadersPrealloc:    16,
			DefaultHeaders: map[string]string{
				"Server": "lumen",
			},
		},
		Pool: Pool{
			CoreWorkers: 4,
			MaxWorkers:  16,
			QueueSize:   1000,
			KeepAlive:   time.Minute,
		},
	}
}

// Fill replaces zero values of the given config with defaults.
func Fill(cfg *Config) *Config {
	if cfg == nil {
		return Default()
	}

	defaults := Default()
	if cfg.NET.ReadBufferSize == 0 {
		cfg.NET.ReadBufferSize = defaults.NET.ReadBufferSize
	}
	if cfg.NET.MaxBufferSize == 0 {
		cfg.NET.MaxBufferSize = defaults.NET.MaxBufferSize
	}
	if cfg.NET.IdleTimeout == 0 {
		cfg.NET.IdleTimeout = defaults.NET.IdleTimeout
	}
	if cfg.NET.AcceptBacklog == 0 {
		cfg.NET.AcceptBacklog = defaults.NET.AcceptBacklog
	}
	if cfg.HTTP.MaxRequestLineSize == 0 {
		cfg.HTTP.MaxRequestLineSize = defaults.HTTP.MaxRequestLineSize
	}
	if cfg.HTTP.HeadersPrealloc == 0 {
		cfg.HTTP.HeadersPrealloc = defaults.HTTP.HeadersPrealloc
	}
	if cfg.HTTP.DefaultHeaders == nil {
		cfg.HTTP.DefaultHeaders = defaults.HTTP.DefaultHeaders
	}
	if cfg.Pool.CoreWorkers == 0 {
		cfg.Pool.CoreWorkers = defaults.Pool.CoreWorkers
	}
	if cfg.Pool.MaxWorkers == 0 {
		cfg.Pool.MaxWorkers = defaults.Pool.MaxWorkers
	}
	if cfg.Pool.QueueSize == 0 {
		cfg.Pool.QueueSize = defaults.Pool.QueueSize
	}
	if cfg.Pool.KeepAlive == 0 {
		cfg.Pool.KeepAlive = defaults.Pool.KeepAlive
	}

	return cfg
}
