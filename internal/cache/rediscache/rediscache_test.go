package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

type countingResolver struct {
	calls int
}

func (c *countingResolver) Resolve(_ context.Context, object string) (string, error) {
	c.calls++
	return "https://blob.local/" + object + "?signed", nil
}

func TestURLCache_GetSet(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewURLCache(mr.Addr(), time.Minute)

	ctx := context.Background()
	_, ok, err := c.GetURL(ctx, "evidence/a")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.SetURL(ctx, "evidence/a", "https://blob.local/a"))

	url, ok, err := c.GetURL(ctx, "evidence/a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "https://blob.local/a", url)
}

func TestCachedResolver_ResolvesOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewURLCache(mr.Addr(), time.Minute)
	inner := &countingResolver{}
	cr := c.Resolving(inner)

	ctx := context.Background()
	first, err := cr.Resolve(ctx, "evidence/a")
	require.NoError(t, err)
	second, err := cr.Resolve(ctx, "evidence/a")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, inner.calls)
}

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())

	ctx := context.Background()
	ok, n, err := rl.Allow(ctx, "rl:admin_reset", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = rl.Allow(ctx, "rl:admin_reset", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = rl.Allow(ctx, "rl:admin_reset", 2, time.Minute)
	require.False(t, ok)
	require.Equal(t, int64(3), n)
}
