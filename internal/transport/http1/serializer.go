package http1

import (
	"strconv"

	"github.com/indigo-web/utils/strcomp"

	"github.com/lumen-web/lumen/http"
	"github.com/lumen-web/lumen/http/method"
	"github.com/lumen-web/lumen/http/proto"
	"github.com/lumen-web/lumen/http/status"
	"github.com/lumen-web/lumen/kv"
)

const (
	contentType   = "Content-Type: "
	contentLength = "Content-Length: "
	connection    = "Connection: "
)

// Serializer renders responses into a reusable buffer. The returned slice is
// valid until the next Serialize call, so callers copy it into the egress
// buffer before yielding.
type Serializer struct {
	buff           []byte
	defaultHeaders []kv.Pair
}

// NewSerializer returns a serializer that implicitly includes defaultHeaders
// into every response unless the response sets the same key itself.
func NewSerializer(defaultHeaders map[string]string) *Serializer {
	s := &Serializer{}
	for key, value := range defaultHeaders {
		s.defaultHeaders = append(s.defaultHeaders, kv.Pair{Key: key, Value: value})
	}

	return s
}

// Serialize renders the response to the request. The status line is always
// spoken in HTTP/1.1, Content-Length is always emitted, and the Connection
// header reflects the keep-alive decision for the request.
func (s *Serializer) Serialize(request *http.Request, response *http.Response) []byte {
	s.buff = s.buff[:0]
	fields := response.Reveal()

	s.buff = append(s.buff, "HTTP/1.1 "...)
	s.buff = strconv.AppendInt(s.buff, int64(fields.Code), 10)
	s.buff = append(s.buff, ' ')

	reason := fields.Status
	if reason == "" {
		reason = status.Text(fields.Code)
	}
	s.buff = append(s.buff, reason...)
	s.crlf()

	for key, value := range fields.Headers.Iter() {
		s.header(key, value)
	}

	for _, pair := range s.defaultHeaders {
		if !fields.Headers.Has(pair.Key) {
			s.header(pair.Key, pair.Value)
		}
	}

	if !fields.Headers.Has("Content-Type") {
		s.buff = append(s.buff, contentType...)
		s.buff = append(s.buff, fields.ContentType...)
		s.crlf()
	}

	if !fields.Headers.Has("Connection") {
		s.buff = append(s.buff, connection...)
		if IsKeepAlive(request) {
			s.buff = append(s.buff, "keep-alive"...)
		} else {
			s.buff = append(s.buff, "close"...)
		}
		s.crlf()
	}

	s.buff = append(s.buff, contentLength...)
	s.buff = strconv.AppendInt(s.buff, int64(len(fields.Body)), 10)
	s.crlf()
	s.crlf()

	if request == nil || request.Method != method.HEAD {
		s.buff = append(s.buff, fields.Body...)
	}

	return s.buff
}

// IsKeepAlive reports whether the connection survives this exchange:
// HTTP/1.1 without "Connection: close", or HTTP/1.0 with an explicit
// "Connection: keep-alive".
func IsKeepAlive(request *http.Request) bool {
	if request == nil {
		return false
	}

	value := request.Headers.Value("Connection")

	switch request.Proto {
	case proto.HTTP11:
		return !strcomp.EqualFold(value, "close")
	case proto.HTTP10:
		return strcomp.EqualFold(value, "keep-alive")
	}

	return false
}

func (s *Serializer) header(key, value string) {
	s.buff = append(s.buff, key...)
	s.buff = append(s.buff, ": "...)
	s.buff = append(s.buff, value...)
	s.crlf()
}

func (s *Serializer) crlf() {
	s.buff = append(s.buff, crlf...)
}
