package cache

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/geon0078/VLM-Ovis/internal/config"
)

func TestUnreachableRedisReportsError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	c := NewRedisCache(config.RedisConfig{Addr: addr, TTL: time.Minute})
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, found, err := c.Get(ctx, "key")
	require.Error(t, err)
	require.False(t, found)
	require.Error(t, c.Set(ctx, "key", "value"))
	require.Error(t, c.Ping(ctx))
}
