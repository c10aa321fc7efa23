package tcp

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/lumen-web/lumen/config"
	"github.com/lumen-web/lumen/internal/reactor"
	"github.com/lumen-web/lumen/internal/transport/http1"
)

// State is the lifecycle stage of a connection.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateReading
	StateWriting
	StateClosing
	StateDisconnected
)

func (s State) String() string {
	lut := [...]string{
		StateConnecting: "connecting", StateConnected: "connected",
		StateReading: "reading", StateWriting: "writing",
		StateClosing: "closing", StateDisconnected: "disconnected",
	}
	if int(s) >= len(lut) {
		return ""
	}

	return lut[s]
}

// Handler is the capability set a connection delegates event processing to.
// The HTTP route/middleware layer is one implementation.
type Handler interface {
	OnConnect(c *Conn)
	OnDisconnect(c *Conn)
	OnReadable(c *Conn)
	OnWritable(c *Conn)
	OnError(c *Conn, err error)
}

// Conn is the per-socket state machine. All socket-facing actions run on the
// reactor thread; the buffer mutex only makes size and state queries safe
// from other threads.
type Conn struct {
	fd   int
	loop *reactor.Reactor
	log  *zap.Logger

	remoteAddr   string
	createdAt    time.Time
	lastActivity atomic.Int64

	idleTimeout   time.Duration
	maxBufferSize int
	readBuf       []byte

	state atomic.Int32

	bufMu   sync.Mutex
	ingress []byte
	egress  []byte

	parser    *http1.Parser
	handler   Handler
	idleTimer reactor.TimerID

	onReadComplete  func(*Conn)
	onWriteComplete func(*Conn)
	onClose         func(*Conn)
	onError         func(*Conn, error)

	ctx any
}

// NewConn validates the descriptor, reads the peer address and puts the
// socket into non-blocking mode with TCP_NODELAY and SO_KEEPALIVE enabled.
// The connection starts out in the connecting state; nothing is registered
// with the reactor until Start.
func NewConn(fd int, loop *reactor.Reactor, log *zap.Logger, cfg *config.Config) (*Conn, error) {
	if fd < 0 {
		return nil, &SocketSetupError{Op: fmt.Sprintf("invalid descriptor %d", fd)}
	}

	sa, err := unix.Getpeername(fd)
	if err != nil {
		return nil, &SocketSetupError{Op: "getpeername", Err: err}
	}

	if err = unix.SetNonblock(fd, true); err != nil {
		return nil, &SocketSetupError{Op: "set nonblocking", Err: err}
	}
	if err = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return nil, &SocketSetupError{Op: "set TCP_NODELAY", Err: err}
	}
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return nil, &SocketSetupError{Op: "set SO_KEEPALIVE", Err: err}
	}

	c := &Conn{
		fd:            fd,
		loop:          loop,
		log:           log,
		remoteAddr:    sockaddrString(sa),
		createdAt:     time.Now(),
		idleTimeout:   cfg.NET.IdleTimeout,
		maxBufferSize: cfg.NET.MaxBufferSize,
		readBuf:       make([]byte, cfg.NET.ReadBufferSize),
		parser:        http1.NewParser(cfg.HTTP.MaxRequestLineSize),
	}
	c.state.Store(int32(StateConnecting))
	c.touch()

	return c, nil
}

// Start registers the socket for read readiness and arms the idle timer.
func (c *Conn) Start() error {
	if err := c.loop.AddFd(c.fd, reactor.EventRead, c.onEvent); err != nil {
		return err
	}

	if c.idleTimeout > 0 {
		c.idleTimer = c.loop.RunEvery(c.idleTimeout, c.checkIdle)
	}

	c.state.Store(int32(StateConnected))
	c.touch()

	if c.handler != nil {
		c.handler.OnConnect(c)
	}

	return nil
}

// Close tears the connection down: deregisters the socket, shuts it down,
// fires the disconnect notifications and releases the buffers. Idempotent.
func (c *Conn) Close() {
	for {
		state := c.State()
		if state == StateClosing || state == StateDisconnected {
			return
		}
		if c.state.CompareAndSwap(int32(state), int32(StateClosing)) {
			break
		}
	}

	if c.idleTimer != 0 {
		c.loop.CancelTimer(c.idleTimer)
	}
	c.loop.RemoveFd(c.fd)

	_ = unix.Shutdown(c.fd, unix.SHUT_RDWR)
	_ = unix.Close(c.fd)

	if c.handler != nil {
		c.handler.OnDisconnect(c)
	}
	if c.onClose != nil {
		c.onClose(c)
	}

	c.bufMu.Lock()
	c.ingress, c.egress = nil, nil
	c.bufMu.Unlock()

	c.state.Store(int32(StateDisconnected))
}

// ReadData attempts a single read from the socket into the ingress buffer.
// Returns the byte count on success, 0 when the peer closed (the connection
// is closed as a side effect), and -1 when the socket would block or the
// read failed.
func (c *Conn) ReadData() int {
	n, err := unix.Read(c.fd, c.readBuf)

	switch {
	case n > 0:
		c.touch()

		c.bufMu.Lock()
		c.ingress = append(c.ingress, c.readBuf[:n]...)
		overflown := len(c.ingress) > c.maxBufferSize
		c.bufMu.Unlock()

		if overflown {
			c.notifyError(fmt.Errorf("ingress: %w", ErrBufferOverflow))
			c.Close()
			return -1
		}

		c.state.Store(int32(StateReading))

		return n
	case n == 0 && err == nil:
		// peer closed its end
		c.Close()
		return 0
	default:
		if isTransient(err) {
			return -1
		}

		c.notifyError(fmt.Errorf("read: %w", err))
		c.Close()
		return -1
	}
}

// WriteData appends data to the egress buffer and enables write interest.
// The actual transmission happens on the next writable event. Returns the
// number of bytes accepted, or -1 if the connection is going away or the
// buffer overflew.
func (c *Conn) WriteData(data []byte) int {
	if state := c.State(); state == StateClosing || state == StateDisconnected {
		return -1
	}

	c.bufMu.Lock()
	c.egress = append(c.egress, data...)
	overflown := len(c.egress) > c.maxBufferSize
	pending := len(c.egress)
	c.bufMu.Unlock()

	if overflown {
		c.notifyError(fmt.Errorf("egress: %w", ErrBufferOverflow))
		c.Close()
		return -1
	}

	if pending > 0 {
		// interest mutations are serialized on the reactor thread
		c.loop.RunInLoop(c.enableWrite)
	}

	return len(data)
}

// TryParseRequest feeds buffered ingress to the parser. Returns true iff a
// complete request is available via the parser. A protocol violation gets
// the minimal 400 treatment and closes the connection.
func (c *Conn) TryParseRequest() bool {
	c.bufMu.Lock()
	data := c.ingress
	c.ingress = nil
	c.bufMu.Unlock()

	if len(data) == 0 {
		return c.parser.State() == http1.StateComplete
	}

	result := c.parser.Parse(data)
	switch result.State {
	case http1.StateError:
		c.log.Debug("protocol violation",
			zap.String("remote", c.remoteAddr), zap.Error(result.Err))
		c.RejectBadRequest()
		return false
	case http1.StateComplete:
		return true
	}

	return false
}

// RejectBadRequest makes a best-effort synchronous write of a minimal
// 400 response and closes the connection.
func (c *Conn) RejectBadRequest() {
	if state := c.State(); state != StateClosing && state != StateDisconnected {
		_, _ = unix.Write(c.fd, badRequestResponse)
	}

	c.Close()
}

var badRequestResponse = []byte(
	"HTTP/1.1 400 Bad Request\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")

// HandleReadable is the read-readiness sink. With no handler installed the
// default drains the socket until it would block, then attempts a parse.
func (c *Conn) HandleReadable() {
	if c.handler != nil {
		c.handler.OnReadable(c)
		return
	}

	for c.ReadData() > 0 {
	}

	if c.State() == StateDisconnected {
		return
	}

	if c.TryParseRequest() && c.onReadComplete != nil {
		c.onReadComplete(c)
	}
}

// HandleWritable is the write-readiness sink.
func (c *Conn) HandleWritable() {
	if c.handler != nil {
		c.handler.OnWritable(c)
		return
	}

	c.Flush()
}

// HandleError is the error sink for EPOLLERR/EPOLLHUP conditions.
func (c *Conn) HandleError(err error) {
	if c.handler != nil {
		c.handler.OnError(c, err)
		return
	}

	c.notifyError(err)
	c.Close()
}

// Flush writes as much of the egress buffer as the socket accepts. Being
// edge-triggered, it loops until the buffer drains or the write would
// block; a partial write keeps the remainder buffered. Once drained, write
// interest is dropped and the write-complete callback fires.
func (c *Conn) Flush() {
	for {
		c.bufMu.Lock()
		pending := c.egress
		c.bufMu.Unlock()

		if len(pending) == 0 {
			return
		}

		n, err := unix.Write(c.fd, pending)
		if n > 0 {
			c.touch()

			c.bufMu.Lock()
			c.egress = c.egress[n:]
			drained := len(c.egress) == 0
			if drained {
				c.egress = nil
			}
			c.bufMu.Unlock()

			if drained {
				c.disableWrite()
				if c.onWriteComplete != nil {
					c.onWriteComplete(c)
				}
				return
			}

			continue
		}

		if isTransient(err) {
			return
		}

		c.notifyError(fmt.Errorf("write: %w", err))
		c.Close()
		return
	}
}

func (c *Conn) enableWrite() {
	if state := c.State(); state == StateClosing || state == StateDisconnected {
		return
	}

	if err := c.loop.UpdateFd(c.fd, reactor.EventRead|reactor.EventWrite); err != nil {
		c.notifyError(err)
		c.Close()
		return
	}

	c.state.Store(int32(StateWriting))
}

func (c *Conn) disableWrite() {
	if err := c.loop.UpdateFd(c.fd, reactor.EventRead); err != nil {
		c.notifyError(err)
		c.Close()
		return
	}

	c.state.Store(int32(StateConnected))
}

func (c *Conn) onEvent(_ int, events reactor.EventMask) {
	if events&reactor.EventError != 0 {
		c.HandleError(errors.New("tcp: socket error condition"))
		return
	}
	if events&reactor.EventRead != 0 {
		c.HandleReadable()
	}
	if c.State() == StateDisconnected {
		return
	}
	if events&reactor.EventWrite != 0 {
		c.HandleWritable()
	}
}

// checkIdle runs on the idle timer and closes the connection once it sat
// without traffic for longer than the timeout while not mid-write.
func (c *Conn) checkIdle() {
	if state := c.State(); state != StateConnected && state != StateReading {
		return
	}

	if time.Since(c.lastActivityTime()) > c.idleTimeout {
		c.log.Debug("closing idle connection",
			zap.Int("fd", c.fd), zap.String("remote", c.remoteAddr))
		c.Close()
	}
}

func (c *Conn) notifyError(err error) {
	c.log.Warn("connection error",
		zap.Int("fd", c.fd), zap.String("remote", c.remoteAddr), zap.Error(err))

	if c.onError != nil {
		c.onError(c, err)
	}
}

func (c *Conn) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Conn) lastActivityTime() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Conn) Fd() int               { return c.fd }
func (c *Conn) RemoteAddr() string    { return c.remoteAddr }
func (c *Conn) CreatedAt() time.Time  { return c.createdAt }
func (c *Conn) State() State          { return State(c.state.Load()) }
func (c *Conn) Parser() *http1.Parser { return c.parser }

// LastActivity returns the time of the latest successful read or write.
func (c *Conn) LastActivity() time.Time { return c.lastActivityTime() }

func (c *Conn) IngressSize() int {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()

	return len(c.ingress)
}

func (c *Conn) EgressSize() int {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()

	return len(c.egress)
}

func (c *Conn) SetHandler(h Handler)                    { c.handler = h }
func (c *Conn) SetReadCompleteCallback(cb func(*Conn))  { c.onReadComplete = cb }
func (c *Conn) SetWriteCompleteCallback(cb func(*Conn)) { c.onWriteComplete = cb }
func (c *Conn) SetCloseCallback(cb func(*Conn))         { c.onClose = cb }
func (c *Conn) SetErrorCallback(cb func(*Conn, error))  { c.onError = cb }
func (c *Conn) SetTimeout(d time.Duration)              { c.idleTimeout = d }
func (c *Conn) SetMaxBufferSize(n int)                  { c.maxBufferSize = n }

// SetContext attaches arbitrary per-connection state for the handler.
func (c *Conn) SetContext(ctx any) { c.ctx = ctx }
func (c *Conn) Context() any       { return c.ctx }

func isTransient(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) ||
		errors.Is(err, unix.EINTR)
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port)).String()
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr), uint16(a.Port)).String()
	}

	return ""
}
