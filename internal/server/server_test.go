package server

import (
	"bufio"
	"net"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lumen-web/lumen/config"
	"github.com/lumen-web/lumen/http"
	"github.com/lumen-web/lumen/router"
)

func startServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()

	r := router.New().Get("/ping", func(*http.Request) *http.Response {
		return http.NewResponse().String("pong")
	})

	s, err := New(netip.MustParseAddrPort("127.0.0.1:0"), r, cfg, zap.NewNop())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- s.Run()
	}()

	t.Cleanup(func() {
		s.Stop()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("server never stopped")
		}
	})

	return s
}

func roundTrip(t *testing.T, s *Server) string {
	t.Helper()

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(time.Second)))

	_, err = conn.Write([]byte("GET /ping HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	var raw strings.Builder
	reader := bufio.NewReader(conn)
	for {
		b, err := reader.ReadByte()
		if err != nil {
			break
		}
		raw.WriteByte(b)
	}

	return raw.String()
}

func TestServerServesOffWorkerPool(t *testing.T) {
	s := startServer(t, config.Default())

	raw := roundTrip(t, s)
	require.Contains(t, raw, "HTTP/1.1 200 OK")
	require.True(t, strings.HasSuffix(raw, "pong"), raw)
}

func TestServerServesInline(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.InlineHandlers = true

	s := startServer(t, cfg)

	raw := roundTrip(t, s)
	require.Contains(t, raw, "HTTP/1.1 200 OK")
	require.True(t, strings.HasSuffix(raw, "pong"), raw)
}

func TestServerStatistics(t *testing.T) {
	s := startServer(t, config.Default())

	roundTrip(t, s)
	roundTrip(t, s)

	stats := s.Statistics()
	require.Equal(t, uint64(2), stats.TotalRequests)
	require.Equal(t, uint64(2), stats.TotalConnections)
	require.NotZero(t, stats.BytesIn)
	require.NotZero(t, stats.BytesOut)
	require.Zero(t, stats.ActiveConnections, "Connection: close must drop the entry")
}

func TestServerBadPortFailsStartup(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	addr := netip.MustParseAddrPort(occupied.Addr().String())
	_, err = New(addr, router.New(), config.Default(), zap.NewNop())
	require.Error(t, err)
}
