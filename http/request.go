package http

import (
	"strings"
	"time"

	"github.com/lumen-web/lumen/http/method"
	"github.com/lumen-web/lumen/http/proto"
	"github.com/lumen-web/lumen/kv"
)

// Request is a single parsed HTTP request message.
type Request struct {
	Method method.Method
	// Path is the raw request-target up to the first question mark.
	Path string
	// Query is the raw, un-decoded query string, without the question mark.
	Query string
	Proto proto.Proto
	// Headers keep their insertion order and original case; lookups are
	// ASCII-case-insensitive.
	Headers *kv.Storage
	Body    []byte

	// RemoteAddr is the peer address in ip:port form.
	RemoteAddr string
	// ReceivedAt is the moment the request line was seen.
	ReceivedAt time.Time
	// ID is a per-request identifier, assigned by the parser.
	ID string

	params *kv.Storage
}

func NewRequest() *Request {
	return &Request{
		Headers: kv.New(),
	}
}

// Params returns the query parameters, parsing them on first use. Keys and
// values stay raw, no percent-decoding is applied.
func (r *Request) Params() *kv.Storage {
	if r.params == nil {
		r.params = parseParams(r.Query)
	}

	return r.params
}

// Param returns the first query parameter value by key, or an empty string.
func (r *Request) Param(key string) string {
	return r.Params().Value(key)
}

func parseParams(query string) *kv.Storage {
	params := kv.New()

	for len(query) > 0 {
		var pair string
		pair, query, _ = strings.Cut(query, "&")
		if len(pair) == 0 {
			continue
		}

		key, value, _ := strings.Cut(pair, "=")
		params.Add(key, value)
	}

	return params
}
