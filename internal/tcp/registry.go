package tcp

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Registry owns the live connections, keyed by socket descriptor. It never
// polls anything itself: it exists so reactor callbacks can always resolve a
// descriptor to a live connection for the duration of a dispatch.
type Registry struct {
	mu    sync.Mutex
	conns map[int]*Conn
	total atomic.Uint64
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[int]*Conn),
	}
}

// Start inserts the connection and starts it. A descriptor may map to at
// most one live connection; duplicates are rejected. If starting fails the
// entry is rolled back.
func (r *Registry) Start(c *Conn) error {
	fd := c.Fd()

	r.mu.Lock()
	if _, exists := r.conns[fd]; exists {
		r.mu.Unlock()
		return fmt.Errorf("tcp: registry: duplicate descriptor %d", fd)
	}
	r.conns[fd] = c
	r.mu.Unlock()

	if err := c.Start(); err != nil {
		r.Remove(fd)
		return err
	}

	r.total.Add(1)

	return nil
}

// Stop closes the connection with the descriptor, if any. The entry itself
// is erased by the close callback wire-up the listener installs, or here as
// a fallback.
func (r *Registry) Stop(fd int) {
	r.mu.Lock()
	c := r.conns[fd]
	r.mu.Unlock()

	if c != nil {
		c.Close()
		r.Remove(fd)
	}
}

// StopAll closes every connection and clears the registry.
func (r *Registry) StopAll() {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}

	r.mu.Lock()
	clear(r.conns)
	r.mu.Unlock()
}

// Remove erases the entry without closing the connection.
func (r *Registry) Remove(fd int) {
	r.mu.Lock()
	delete(r.conns, fd)
	r.mu.Unlock()
}

// Get returns the connection for the descriptor, or nil.
func (r *Registry) Get(fd int) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.conns[fd]
}

func (r *Registry) Exists(fd int) bool {
	return r.Get(fd) != nil
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.conns)
}

// Total returns the monotonic count of connections ever started.
func (r *Registry) Total() uint64 {
	return r.total.Load()
}

// CleanupIdle closes every connection that sat without traffic for longer
// than the timeout. The per-connection idle timers normally get there
// first; this is the registry-wide sweep.
func (r *Registry) CleanupIdle(timeout time.Duration) {
	r.mu.Lock()
	var idle []*Conn
	for _, c := range r.conns {
		if time.Since(c.LastActivity()) > timeout {
			idle = append(idle, c)
		}
	}
	r.mu.Unlock()

	for _, c := range idle {
		c.Close()
	}
}
