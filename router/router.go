package router

import (
	"strings"

	"github.com/lumen-web/lumen/http"
	"github.com/lumen-web/lumen/http/method"
	"github.com/lumen-web/lumen/http/status"
)

// Handler produces a response for a request.
type Handler func(*http.Request) *http.Response

// Middleware may inspect or mutate the request/response pair. Returning
// false short-circuits the chain and the response is sent as-is.
type Middleware func(*http.Request, *http.Response) bool

// wildcard is the method key matching any request method.
const wildcard = "ANY"

// Router resolves requests through a middleware chain into a handler looked
// up by "METHOD:path", falling back to the "ANY:path" wildcard and the
// static mounts. Registration is not safe for use after the server started.
type Router struct {
	routes      map[string]Handler
	middlewares []Middleware
	mounts      []mount
	files       map[string]string
}

func New() *Router {
	return &Router{
		routes: make(map[string]Handler),
		files:  make(map[string]string),
	}
}

// Route registers a handler for the method and path.
func (r *Router) Route(m method.Method, path string, handler Handler) *Router {
	r.routes[m.String()+":"+path] = handler
	return r
}

func (r *Router) Get(path string, handler Handler) *Router {
	return r.Route(method.GET, path, handler)
}

func (r *Router) Head(path string, handler Handler) *Router {
	return r.Route(method.HEAD, path, handler)
}

func (r *Router) Post(path string, handler Handler) *Router {
	return r.Route(method.POST, path, handler)
}

func (r *Router) Put(path string, handler Handler) *Router {
	return r.Route(method.PUT, path, handler)
}

func (r *Router) Delete(path string, handler Handler) *Router {
	return r.Route(method.DELETE, path, handler)
}

func (r *Router) Options(path string, handler Handler) *Router {
	return r.Route(method.OPTIONS, path, handler)
}

func (r *Router) Patch(path string, handler Handler) *Router {
	return r.Route(method.PATCH, path, handler)
}

// Any registers a handler matching every method on the path.
func (r *Router) Any(path string, handler Handler) *Router {
	r.routes[wildcard+":"+path] = handler
	return r
}

// Use appends a middleware to the chain. Middlewares run in registration
// order before the handler.
func (r *Router) Use(mw Middleware) *Router {
	r.middlewares = append(r.middlewares, mw)
	return r
}

// OnRequest resolves and executes the request. This is the single seam the
// connection runtime calls into.
func (r *Router) OnRequest(request *http.Request) *http.Response {
	response := http.NewResponse()

	for _, mw := range r.middlewares {
		if !mw(request, response) {
			return response
		}
	}

	if handler, found := r.routes[request.Method.String()+":"+request.Path]; found {
		return r.finish(response, handler(request))
	}
	if handler, found := r.routes[wildcard+":"+request.Path]; found {
		return r.finish(response, handler(request))
	}

	if response, served := r.serveStatic(request); served {
		return response
	}

	return response.Error(status.ErrNotFound)
}

// finish merges headers set by middlewares into the handler's response
// without overriding anything the handler set itself.
func (r *Router) finish(prepared, final *http.Response) *http.Response {
	if final == nil {
		return prepared.Error(status.ErrInternalServerError)
	}
	if final == prepared {
		return final
	}

	for key, value := range prepared.Reveal().Headers.Iter() {
		if !final.Reveal().Headers.Has(key) {
			final.Header(key, value)
		}
	}

	return final
}

func cleanPrefix(prefix string) string {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}

	return strings.TrimSuffix(prefix, "/")
}
