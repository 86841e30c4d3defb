package tools

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWebCacheGetSetRoundtrip(t *testing.T) {
	c := newWebCache(10, time.Minute)

	_, ok := c.get("missing")
	require.False(t, ok)

	c.set("k", "v")
	v, ok := c.get("k")
	require.True(t, ok)
	require.Equal(t, "v", v)
}

func TestWebCacheExpiresEntries(t *testing.T) {
	c := newWebCache(10, -time.Second) // already-expired TTL

	c.set("k", "v")
	_, ok := c.get("k")
	require.False(t, ok)
}

func TestWebCacheEvictsWhenFull(t *testing.T) {
	c := newWebCache(2, time.Minute)

	c.set("a", "1")
	c.set("b", "2")
	c.set("c", "3") // should evict one of a/b to make room

	require.LessOrEqual(t, len(c.entries), 2)
	_, ok := c.get("c")
	require.True(t, ok)
}
