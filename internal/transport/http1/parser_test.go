package http1

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lumen-web/lumen/http"
	"github.com/lumen-web/lumen/http/method"
	"github.com/lumen-web/lumen/http/proto"
)

func parseWhole(t *testing.T, raw string) *http.Request {
	t.Helper()

	p := NewParser(0)
	result := p.Parse([]byte(raw))
	require.True(t, result.Success, "unexpected parse error: %v", result.Err)
	require.Equal(t, StateComplete, result.State)

	request := p.TakeRequest()
	require.NotNil(t, request)

	return request
}

func TestParseSimpleGET(t *testing.T) {
	request := parseWhole(t, "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n")

	require.Equal(t, method.GET, request.Method)
	require.Equal(t, "/hello", request.Path)
	require.Empty(t, request.Query)
	require.Equal(t, proto.HTTP11, request.Proto)
	require.Equal(t, "x", request.Headers.Value("Host"))
	require.Empty(t, request.Body)
	require.NotEmpty(t, request.ID)
	require.False(t, request.ReceivedAt.IsZero())
}

func TestParseQueryString(t *testing.T) {
	request := parseWhole(t, "GET /search?q=gopher&lang=en HTTP/1.1\r\n\r\n")

	require.Equal(t, "/search", request.Path)
	require.Equal(t, "q=gopher&lang=en", request.Query)
	require.Equal(t, "gopher", request.Param("q"))
	require.Equal(t, "en", request.Param("lang"))
}

func TestParseHeaderValueTrimming(t *testing.T) {
	request := parseWhole(t, "GET / HTTP/1.1\r\nX-Padded:  \t padded value \t\r\n\r\n")

	require.Equal(t, "padded value", request.Headers.Value("X-Padded"))
}

func TestParseHeaderCaseInsensitivity(t *testing.T) {
	request := parseWhole(t, "GET / HTTP/1.1\r\nContent-Type: text/plain\r\n\r\n")

	require.Equal(t, "text/plain", request.Headers.Value("content-type"))
	require.Equal(t, "text/plain", request.Headers.Value("CONTENT-TYPE"))

	// the original case survives for iteration
	for key := range request.Headers.Iter() {
		require.Equal(t, "Content-Type", key)
	}
}

func TestParseContentLengthBody(t *testing.T) {
	request := parseWhole(t, "POST /submit HTTP/1.1\r\nContent-Length: 11\r\n\r\nhello world")

	require.Equal(t, method.POST, request.Method)
	require.Equal(t, "hello world", string(request.Body))
}

func TestParseZeroContentLength(t *testing.T) {
	// must complete right after the header terminator, no body bytes needed
	request := parseWhole(t, "POST /empty HTTP/1.0\r\nContent-Length: 0\r\n\r\n")

	require.Equal(t, proto.HTTP10, request.Proto)
	require.Empty(t, request.Body)
}

func TestParseChunkedBody(t *testing.T) {
	request := parseWhole(t,
		"POST /e HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n"+
			"5\r\nhello\r\n0\r\n\r\n")

	require.Equal(t, "hello", string(request.Body))
}

func TestParseChunkedMultipleChunks(t *testing.T) {
	request := parseWhole(t,
		"POST /e HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n"+
			"4\r\nWiki\r\n5\r\npedia\r\nb\r\n in\r\nchunks\r\n0\r\n\r\n")

	require.Equal(t, "Wikipedia in\r\nchunks", string(request.Body))
}

func TestParseChunkedEmptyBody(t *testing.T) {
	request := parseWhole(t,
		"POST /e HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n0\r\n\r\n")

	require.Empty(t, request.Body)
}

func TestParseIncrementalEquivalence(t *testing.T) {
	streams := map[string]string{
		"no body": "GET /hello?x=1 HTTP/1.1\r\nHost: x\r\nAccept: */*\r\n\r\n",
		"sized":   "POST /s HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello",
		"chunked": "POST /e HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n",
	}

	for name, raw := range streams {
		t.Run(name, func(t *testing.T) {
			whole := parseWhole(t, raw)

			for split := 0; split <= len(raw); split++ {
				p := NewParser(0)
				first := p.Parse([]byte(raw[:split]))
				require.True(t, first.Success, "split %d", split)

				second := p.Parse([]byte(raw[split:]))
				require.True(t, second.Success, "split %d", split)
				require.Equal(t, StateComplete, p.State(), "split %d", split)

				request := p.TakeRequest()
				require.Equal(t, whole.Method, request.Method)
				require.Equal(t, whole.Path, request.Path)
				require.Equal(t, whole.Query, request.Query)
				require.Equal(t, whole.Proto, request.Proto)
				require.Equal(t, whole.Headers.Expose(), request.Headers.Expose())
				require.Equal(t, string(whole.Body), string(request.Body))
			}
		})
	}
}

func TestParseByteByByte(t *testing.T) {
	raw := "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n"

	p := NewParser(0)
	for i := 0; i < len(raw); i++ {
		result := p.Parse([]byte{raw[i]})
		require.True(t, result.Success)
	}

	require.Equal(t, StateComplete, p.State())
	require.Equal(t, "/hello", p.TakeRequest().Path)
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"too few tokens":      "GET /\r\n\r\n",
		"unknown method":      "YOLO / HTTP/1.1\r\n\r\n",
		"unsupported version": "GET / HTTP/9.9\r\n\r\n",
		"header no colon":     "GET / HTTP/1.1\r\nbroken header\r\n\r\n",
		"bad content length":  "GET / HTTP/1.1\r\nContent-Length: twelve\r\n\r\n",
		"negative length":     "GET / HTTP/1.1\r\nContent-Length: -5\r\n\r\n",
		"bad chunk size":      "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\nzz\r\n",
		"bad chunk tail":      "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n2\r\nabXX",
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			p := NewParser(0)
			result := p.Parse([]byte(raw))
			require.False(t, result.Success)
			require.Equal(t, StateError, result.State)
			require.Error(t, result.Err)
			require.Nil(t, p.TakeRequest())
			require.False(t, p.IsParsing())
		})
	}
}

func TestParseHTTP2Recognized(t *testing.T) {
	// HTTP/2.0 is recognized by the parser even though it's never served
	request := parseWhole(t, "GET / HTTP/2.0\r\n\r\n")
	require.Equal(t, proto.HTTP2, request.Proto)
}

func TestParseRequestLineTooLong(t *testing.T) {
	p := NewParser(128)
	result := p.Parse([]byte("GET /" + strings.Repeat("a", 256)))

	require.False(t, result.Success)
	require.Equal(t, StateError, result.State)
}

func TestParseReset(t *testing.T) {
	p := NewParser(0)

	result := p.Parse([]byte("GET /first HTTP/1.1\r\n\r\n"))
	require.Equal(t, StateComplete, result.State)
	require.Equal(t, "/first", p.TakeRequest().Path)

	p.Reset()
	require.Equal(t, StateStartLine, p.State())
	require.True(t, p.IsParsing())

	result = p.Parse([]byte("POST /second HTTP/1.1\r\nContent-Length: 2\r\n\r\nhi"))
	require.Equal(t, StateComplete, result.State)

	request := p.TakeRequest()
	require.Equal(t, method.POST, request.Method)
	require.Equal(t, "/second", request.Path)
	require.Equal(t, "hi", string(request.Body))
}

func TestParseErrorIsTerminalUntilReset(t *testing.T) {
	p := NewParser(0)

	result := p.Parse([]byte("BOGUS / HTTP/1.1\r\n\r\n"))
	require.Equal(t, StateError, result.State)

	// more bytes don't resurrect the parser
	result = p.Parse([]byte("GET / HTTP/1.1\r\n\r\n"))
	require.Equal(t, StateError, result.State)

	p.Reset()
	result = p.Parse([]byte("GET / HTTP/1.1\r\n\r\n"))
	require.Equal(t, StateComplete, result.State)
}

func TestParseSurplusStaysBuffered(t *testing.T) {
	p := NewParser(0)

	raw := "POST / HTTP/1.1\r\nContent-Length: 2\r\n\r\nhiEXTRA"
	result := p.Parse([]byte(raw))

	require.Equal(t, StateComplete, result.State)
	require.Equal(t, len(raw)-len("EXTRA"), result.Consumed)
	require.Equal(t, "hi", string(p.TakeRequest().Body))
}
