package server

import (
	"github.com/lumen-web/lumen/http"
	"github.com/lumen-web/lumen/http/status"
	"github.com/lumen-web/lumen/internal/tcp"
	"github.com/lumen-web/lumen/internal/transport/http1"
)

// httpHandler is the tcp.Handler the listener attaches to every accepted
// connection. It drives the connection's parser, resolves the request
// through the router (inline or on the worker pool) and writes the
// serialized response back, honoring keep-alive.
type httpHandler struct {
	srv *Server
}

// connState is the per-connection protocol state, carried in the
// connection's context slot.
type connState struct {
	serializer *http1.Serializer
	// inflight is set while a request is being handled; further requests
	// stay buffered until the response is underway.
	inflight bool
	// closeAfterWrite ends the connection once the egress buffer drains.
	closeAfterWrite bool
}

func (h *httpHandler) OnConnect(c *tcp.Conn) {
	c.SetContext(&connState{
		serializer: http1.NewSerializer(h.srv.cfg.HTTP.DefaultHeaders),
	})
	c.SetWriteCompleteCallback(h.onWriteComplete)
}

func (h *httpHandler) OnDisconnect(*tcp.Conn) {}

func (h *httpHandler) OnReadable(c *tcp.Conn) {
	// edge-triggered: drain until the socket would block
	for {
		n := c.ReadData()
		if n <= 0 {
			break
		}
		h.srv.bytesIn.Add(uint64(n))
	}

	if c.State() == tcp.StateDisconnected {
		return
	}

	h.tryNext(c)
}

func (h *httpHandler) OnWritable(c *tcp.Conn) {
	c.Flush()
}

func (h *httpHandler) OnError(c *tcp.Conn, err error) {
	h.srv.log.Debug("dropping connection: " + err.Error())
	c.Close()
}

// tryNext parses and dispatches the next buffered request, unless one is
// already in flight.
func (h *httpHandler) tryNext(c *tcp.Conn) {
	state, ok := c.Context().(*connState)
	if !ok || state.inflight {
		return
	}

	if !c.TryParseRequest() {
		return
	}

	request := c.Parser().TakeRequest()
	c.Parser().Reset()
	request.RemoteAddr = c.RemoteAddr()

	h.dispatch(c, state, request)
}

func (h *httpHandler) dispatch(c *tcp.Conn, state *connState, request *http.Request) {
	state.inflight = true
	h.srv.totalRequests.Add(1)

	if h.srv.cfg.HTTP.InlineHandlers {
		h.respond(c, state, request, h.srv.router.OnRequest(request))
		return
	}

	err := h.srv.pool.Submit(func() {
		response := h.srv.router.OnRequest(request)
		// handlers must not touch the connection; results come back to the
		// loop thread
		h.srv.loop.QueueInLoop(func() {
			h.respond(c, state, request, response)
		})
	})
	if err != nil {
		h.respond(c, state, request, http.NewResponse().Error(status.ErrShutdown))
	}
}

// respond serializes and enqueues the response, then immediately attempts
// the next buffered request. Runs on the loop thread.
func (h *httpHandler) respond(c *tcp.Conn, state *connState, request *http.Request, response *http.Response) {
	if c.State() == tcp.StateDisconnected {
		return
	}

	state.closeAfterWrite = !http1.IsKeepAlive(request)

	raw := state.serializer.Serialize(request, response)
	h.srv.bytesOut.Add(uint64(len(raw)))

	if c.WriteData(raw) < 0 {
		return
	}

	state.inflight = false
	h.tryNext(c)
}

// onWriteComplete fires once the egress buffer fully drained.
func (h *httpHandler) onWriteComplete(c *tcp.Conn) {
	if state, ok := c.Context().(*connState); ok && state.closeAfterWrite {
		c.Close()
	}
}
