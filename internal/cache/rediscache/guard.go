package rediscache

import (
	"context"
	"time"

	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultLockTTL      = 2 * time.Minute
	DefaultPurchasedTTL = 7 * 24 * time.Hour
)

// ShipmentGuard keeps two concurrent requests from buying two labels for the
// same order. The lock covers the aggregator call; the purchased marker
// outlives it so a retry after a failed order write is refused too.
// The pending marker pins the attempt number until the aggregator gives a
// definite answer, so a retry after a timeout reuses the idempotency key.
type ShipmentGuard struct {
	c            *redis.Client
	lockTTL      time.Duration
	purchasedTTL time.Duration
}

func NewShipmentGuard(c *redis.Client, lockTTL, purchasedTTL time.Duration) *ShipmentGuard {
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	if purchasedTTL <= 0 {
		purchasedTTL = DefaultPurchasedTTL
	}
	return &ShipmentGuard{c: c, lockTTL: lockTTL, purchasedTTL: purchasedTTL}
}

// Begin takes the per-order lock and returns the attempt number used to
// derive the idempotency key.
func (g *ShipmentGuard) Begin(ctx context.Context, orderID string) (int64, error) {
	tn, err := g.c.Get(ctx, purchasedKey(orderID)).Result()
	switch {
	case err == nil:
		return 0, shiperr.Conflict("order %s already has a purchased label (tracking %s)", orderID, tn)
	case !errors.Is(err, redis.Nil):
		return 0, errors.Wrap(err, "redis get purchased")
	}

	ok, err := g.c.SetNX(ctx, lockKey(orderID), time.Now().UTC().Format(time.RFC3339), g.lockTTL).Result()
	if err != nil {
		return 0, errors.Wrap(err, "redis setnx lock")
	}
	if !ok {
		return 0, shiperr.Conflict("shipment for order %s is already in progress", orderID)
	}

	attempt, err := g.c.Get(ctx, pendingKey(orderID)).Int64()
	switch {
	case err == nil:
		return attempt, nil
	case !errors.Is(err, redis.Nil):
		_ = g.c.Del(ctx, lockKey(orderID)).Err()
		return 0, errors.Wrap(err, "redis get pending attempt")
	}

	pipe := g.c.TxPipeline()
	incr := pipe.Incr(ctx, attemptKey(orderID))
	pipe.Expire(ctx, attemptKey(orderID), g.purchasedTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		_ = g.c.Del(ctx, lockKey(orderID)).Err()
		return 0, errors.Wrap(err, "redis incr attempt")
	}
	if err := g.c.Set(ctx, pendingKey(orderID), incr.Val(), g.purchasedTTL).Err(); err != nil {
		_ = g.c.Del(ctx, lockKey(orderID)).Err()
		return 0, errors.Wrap(err, "redis set pending attempt")
	}
	return incr.Val(), nil
}

// Abort closes the attempt after the aggregator refused the purchase. The next
// Begin gets a new attempt number.
func (g *ShipmentGuard) Abort(ctx context.Context, orderID string) error {
	return errors.Wrap(g.c.Del(ctx, lockKey(orderID), pendingKey(orderID)).Err(), "redis abort shipment")
}

// Release drops only the lock: the outcome of the purchase is unknown and the
// next Begin must reuse the same attempt.
func (g *ShipmentGuard) Release(ctx context.Context, orderID string) error {
	return errors.Wrap(g.c.Del(ctx, lockKey(orderID)).Err(), "redis del lock")
}

// Complete records the purchased tracking number and releases the lock.
func (g *ShipmentGuard) Complete(ctx context.Context, orderID, trackingNumber string) error {
	pipe := g.c.TxPipeline()
	pipe.Set(ctx, purchasedKey(orderID), trackingNumber, g.purchasedTTL)
	pipe.Del(ctx, lockKey(orderID), pendingKey(orderID))
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "redis complete shipment")
}

func lockKey(orderID string) string      { return "shipment:" + orderID + ":lock" }
func attemptKey(orderID string) string   { return "shipment:" + orderID + ":attempt" }
func purchasedKey(orderID string) string { return "shipment:" + orderID + ":purchased" }
func pendingKey(orderID string) string   { return "shipment:" + orderID + ":pending" }
