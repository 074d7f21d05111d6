package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GetSet(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))
	require.NoError(t, c.Set(ctx, "quotation:q1", []byte(`{"id":"q1"}`), time.Minute))

	b, ok, err := c.Get(ctx, "quotation:q1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`{"id":"q1"}`), b)

	_, ok, err = c.Get(ctx, "quotation:missing")
	require.NoError(t, err)
	require.False(t, ok)

	mr.FastForward(2 * time.Minute)
	_, ok, _ = c.Get(ctx, "quotation:q1")
	require.False(t, ok)
}

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())

	ctx := context.Background()
	ok, n, err := rl.Allow(ctx, "rl:aggregator", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = rl.Allow(ctx, "rl:aggregator", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = rl.Allow(ctx, "rl:aggregator", 2, time.Minute)
	require.False(t, ok)
	require.Equal(t, int64(3), n)
}

func TestShipmentGuard_LockAttemptsAndPurchased(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	g := NewShipmentGuard(rc, time.Minute, time.Hour)
	ctx := context.Background()

	attempt, err := g.Begin(ctx, "o-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), attempt)

	// второй запрос, пока первый в процессе
	_, err = g.Begin(ctx, "o-1")
	require.True(t, shiperr.IsKind(err, shiperr.KindConflict))

	require.NoError(t, g.Abort(ctx, "o-1"))

	attempt, err = g.Begin(ctx, "o-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), attempt)

	require.NoError(t, g.Complete(ctx, "o-1", "794"))
	require.False(t, mr.Exists("shipment:o-1:lock"))

	_, err = g.Begin(ctx, "o-1")
	require.True(t, shiperr.IsKind(err, shiperr.KindConflict))
	require.Contains(t, err.Error(), "794")

	// other orders are independent
	attempt, err = g.Begin(ctx, "o-2")
	require.NoError(t, err)
	require.Equal(t, int64(1), attempt)
}

func TestShipmentGuard_LockExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	g := NewShipmentGuard(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 0, 0)
	ctx := context.Background()

	_, err := g.Begin(ctx, "o-1")
	require.NoError(t, err)

	mr.FastForward(DefaultLockTTL + time.Second)

	// исход первой попытки неизвестен: номер попытки тот же
	attempt, err := g.Begin(ctx, "o-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), attempt)
}

func TestShipmentGuard_ReleaseKeepsAttempt(t *testing.T) {
	mr := miniredis.RunT(t)
	g := NewShipmentGuard(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute, time.Hour)
	ctx := context.Background()

	attempt, err := g.Begin(ctx, "o-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), attempt)

	require.NoError(t, g.Release(ctx, "o-1"))
	require.False(t, mr.Exists("shipment:o-1:lock"))
	require.True(t, mr.Exists("shipment:o-1:pending"))

	attempt, err = g.Begin(ctx, "o-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), attempt)

	require.NoError(t, g.Abort(ctx, "o-1"))
	require.False(t, mr.Exists("shipment:o-1:pending"))

	attempt, err = g.Begin(ctx, "o-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), attempt)

	require.NoError(t, g.Complete(ctx, "o-1", "794"))
	require.False(t, mr.Exists("shipment:o-1:pending"))
}
