package proto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromString(t *testing.T) {
	require.Equal(t, HTTP10, FromString("HTTP/1.0"))
	require.Equal(t, HTTP11, FromString("HTTP/1.1"))
	require.Equal(t, HTTP2, FromString("HTTP/2.0"))

	require.Equal(t, Unknown, FromString("HTTP/9.9"))
	require.Equal(t, Unknown, FromString("HTTP/1.1 "))
	require.Equal(t, Unknown, FromString("SPDY/3.1"))
	require.Equal(t, Unknown, FromString(""))
}

func TestString(t *testing.T) {
	require.Equal(t, "HTTP/1.0", HTTP10.String())
	require.Equal(t, "HTTP/1.1", HTTP11.String())
	require.Empty(t, Unknown.String())
}
