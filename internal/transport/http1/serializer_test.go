package http1

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lumen-web/lumen/http"
	"github.com/lumen-web/lumen/http/status"
)

func request(t *testing.T, raw string) *http.Request {
	t.Helper()

	p := NewParser(0)
	result := p.Parse([]byte(raw))
	require.Equal(t, StateComplete, result.State)

	return p.TakeRequest()
}

func TestSerializeBasicResponse(t *testing.T) {
	req := request(t, "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n")
	resp := http.NewResponse().String("hi")

	raw := string(NewSerializer(nil).Serialize(req, resp))

	require.True(t, strings.HasPrefix(raw, "HTTP/1.1 200 OK\r\n"), raw)
	require.Contains(t, raw, "Content-Length: 2\r\n")
	require.Contains(t, raw, "Connection: keep-alive\r\n")
	require.True(t, strings.HasSuffix(raw, "\r\n\r\nhi"), raw)
}

func TestSerializeAlwaysEmitsContentLength(t *testing.T) {
	req := request(t, "GET / HTTP/1.1\r\n\r\n")
	raw := string(NewSerializer(nil).Serialize(req, http.NewResponse()))

	require.Contains(t, raw, "Content-Length: 0\r\n")
}

func TestSerializeCustomCodeAndHeaders(t *testing.T) {
	req := request(t, "GET / HTTP/1.1\r\n\r\n")
	resp := http.NewResponse().
		Code(status.NotFound).
		Header("X-Request-Id", "abc123").
		String("missing")

	raw := string(NewSerializer(nil).Serialize(req, resp))

	require.True(t, strings.HasPrefix(raw, "HTTP/1.1 404 Not Found\r\n"))
	require.Contains(t, raw, "X-Request-Id: abc123\r\n")
}

func TestSerializeDefaultHeaders(t *testing.T) {
	req := request(t, "GET / HTTP/1.1\r\n\r\n")
	s := NewSerializer(map[string]string{"Server": "lumen"})

	raw := string(s.Serialize(req, http.NewResponse()))
	require.Contains(t, raw, "Server: lumen\r\n")

	// an explicit header wins over the default
	raw = string(s.Serialize(req, http.NewResponse().Header("Server", "custom")))
	require.Contains(t, raw, "Server: custom\r\n")
	require.NotContains(t, raw, "Server: lumen\r\n")
}

func TestSerializeHeadOmitsBody(t *testing.T) {
	req := request(t, "HEAD / HTTP/1.1\r\n\r\n")
	raw := string(NewSerializer(nil).Serialize(req, http.NewResponse().String("content")))

	require.Contains(t, raw, "Content-Length: 7\r\n")
	require.True(t, strings.HasSuffix(raw, "\r\n\r\n"), raw)
}

func TestSerializeConnectionClose(t *testing.T) {
	for name, raw := range map[string]string{
		"explicit close": "GET / HTTP/1.1\r\nConnection: close\r\n\r\n",
		"http 1.0":       "GET / HTTP/1.0\r\n\r\n",
	} {
		t.Run(name, func(t *testing.T) {
			req := request(t, raw)
			out := string(NewSerializer(nil).Serialize(req, http.NewResponse()))
			require.Contains(t, out, "Connection: close\r\n")
		})
	}
}

func TestIsKeepAlive(t *testing.T) {
	cases := []struct {
		raw  string
		keep bool
	}{
		{"GET / HTTP/1.1\r\n\r\n", true},
		{"GET / HTTP/1.1\r\nConnection: close\r\n\r\n", false},
		{"GET / HTTP/1.1\r\nConnection: Close\r\n\r\n", false},
		{"GET / HTTP/1.0\r\n\r\n", false},
		{"GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n", true},
	}

	for _, tc := range cases {
		require.Equal(t, tc.keep, IsKeepAlive(request(t, tc.raw)), tc.raw)
	}
}

func TestDumpRoundTrip(t *testing.T) {
	streams := map[string]string{
		"no body": "GET /hello?x=1&y=2 HTTP/1.1\r\nHost: x\r\nAccept: */*\r\n\r\n",
		"sized":   "POST /s HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello",
		"chunked": "POST /e HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n",
	}

	for name, raw := range streams {
		t.Run(name, func(t *testing.T) {
			original := request(t, raw)
			reparsed := request(t, string(DumpRequest(original)))

			require.Equal(t, original.Method, reparsed.Method)
			require.Equal(t, original.Path, reparsed.Path)
			require.Equal(t, original.Query, reparsed.Query)
			require.Equal(t, original.Proto, reparsed.Proto)
			require.Equal(t, original.Headers.Expose(), reparsed.Headers.Expose())
			require.Equal(t, string(original.Body), string(reparsed.Body))
		})
	}
}
