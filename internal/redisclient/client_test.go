package redisclient

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/ncecere/open_chat_usage/internal/config"
)

func TestNewAppliesOptions(t *testing.T) {
	server := miniredis.RunT(t)
	client := New(config.RedisConfig{
		URL:         "redis://" + server.Addr(),
		DB:          2,
		PoolSize:    7,
		DialTimeout: 2 * time.Second,
		OpTimeout:   100 * time.Millisecond,
	})
	t.Cleanup(func() { _ = client.Close() })

	opts := client.Options()
	require.Equal(t, 2, opts.DB)
	require.Equal(t, 7, opts.PoolSize)
	require.Equal(t, 2*time.Second, opts.DialTimeout)
	require.Equal(t, 400*time.Millisecond, opts.ReadTimeout)
	require.NoError(t, Ping(context.Background(), client))
}

func TestNewAcceptsBareAddress(t *testing.T) {
	server := miniredis.RunT(t)
	client := New(config.RedisConfig{URL: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	require.Equal(t, server.Addr(), client.Options().Addr)
	require.NoError(t, Ping(context.Background(), client))
}

func TestPingFailsWhenServerDown(t *testing.T) {
	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()

	client := New(config.RedisConfig{URL: addr, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })
	require.Error(t, Ping(context.Background(), client))
}
