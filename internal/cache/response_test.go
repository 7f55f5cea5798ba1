package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestResponseCacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	c := NewResponseCache(client, 30*time.Second)

	_, ok := c.Get(ctx, "admin:7d")
	require.False(t, ok)

	c.Set(ctx, "admin:7d", []byte(`{"ok":true}`))
	data, ok := c.Get(ctx, "admin:7d")
	require.True(t, ok)
	require.JSONEq(t, `{"ok":true}`, string(data))
	require.Equal(t, 30*time.Second, mr.TTL("resp:admin:7d"))

	mr.FastForward(31 * time.Second)
	_, ok = c.Get(ctx, "admin:7d")
	require.False(t, ok)
}

func TestResponseCacheNilSafe(t *testing.T) {
	var c *ResponseCache
	c.Set(context.Background(), "k", []byte("v"))
	_, ok := c.Get(context.Background(), "k")
	require.False(t, ok)
}
