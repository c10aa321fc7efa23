package kv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStorage(t *testing.T) {
	t.Run("lookup is case-insensitive", func(t *testing.T) {
		s := New().Add("Content-Type", "text/plain")

		require.Equal(t, "text/plain", s.Value("content-type"))
		require.Equal(t, "text/plain", s.Value("CONTENT-TYPE"))
		require.True(t, s.Has("cOnTeNt-TyPe"))
	})

	t.Run("insertion case is preserved", func(t *testing.T) {
		s := New().Add("X-CuStOm", "1")

		for key := range s.Iter() {
			require.Equal(t, "X-CuStOm", key)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		s := New()

		value, found := s.Get("nope")
		require.False(t, found)
		require.Empty(t, value)
		require.Equal(t, "fallback", s.ValueOr("nope", "fallback"))
		require.Nil(t, s.Values("nope"))
	})

	t.Run("first value wins", func(t *testing.T) {
		s := New().Add("Accept", "text/html").Add("accept", "application/json")

		require.Equal(t, "text/html", s.Value("accept"))
		require.Equal(t, []string{"text/html", "application/json"}, s.Values("Accept"))
	})

	t.Run("iteration order", func(t *testing.T) {
		s := New().Add("a", "1").Add("b", "2").Add("c", "3")

		var keys []string
		for key := range s.Iter() {
			keys = append(keys, key)
		}
		require.Equal(t, []string{"a", "b", "c"}, keys)
	})

	t.Run("clear keeps capacity", func(t *testing.T) {
		s := NewPrealloc(8).Add("a", "1")
		require.Equal(t, 1, s.Len())

		s.Clear()
		require.True(t, s.Empty())
		require.Zero(t, s.Len())
		require.Equal(t, 8, cap(s.Expose()))
	})

	t.Run("clone is independent", func(t *testing.T) {
		s := New().Add("a", "1")
		c := s.Clone().Add("b", "2")

		require.Equal(t, 1, s.Len())
		require.Equal(t, 2, c.Len())
	})
}
