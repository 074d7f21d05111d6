package reconciler

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/ShipBox/internal/broker/messages"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/pkg/errors"
)

type Repository interface {
	ApplyShipment(ctx context.Context, sh models.Shipment) (bool, error)
}

// Reconciler replays shipment.purchased events into orders so a label bought
// during a failed order write still ends up on the order.
type Reconciler struct {
	repo    Repository
	backoff *Backoff
	sleep   func(ctx context.Context, d time.Duration) error

	startedAtUnixNano int64
	lastEventUnixNano atomic.Int64
	totalReceived     atomic.Int64
	totalApplied      atomic.Int64
	totalSkipped      atomic.Int64
	totalRetries      atomic.Int64
	totalErrors       atomic.Int64
	lastErrorMu       sync.Mutex
	lastError         string
}

func New(repo Repository) *Reconciler {
	return &Reconciler{
		repo:              repo,
		backoff:           NewBackoff(DefaultBackoffConfig()),
		sleep:             sleepCtx,
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (r *Reconciler) WithBackoff(cfg BackoffConfig) *Reconciler {
	r.backoff = NewBackoff(cfg)
	return r
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastEventAt   *time.Time `json:"lastEventAt,omitempty"`
	TotalReceived int64      `json:"totalReceived"`
	TotalApplied  int64      `json:"totalApplied"`
	TotalSkipped  int64      `json:"totalSkipped"`
	TotalRetries  int64      `json:"totalRetries"`
	TotalErrors   int64      `json:"totalErrors"`
	LastError     string     `json:"lastError,omitempty"`
}

func (r *Reconciler) Stats() Stats {
	st := Stats{
		StartedAt:     time.Unix(0, r.startedAtUnixNano).UTC(),
		TotalReceived: r.totalReceived.Load(),
		TotalApplied:  r.totalApplied.Load(),
		TotalSkipped:  r.totalSkipped.Load(),
		TotalRetries:  r.totalRetries.Load(),
		TotalErrors:   r.totalErrors.Load(),
	}
	if v := r.lastEventUnixNano.Load(); v > 0 {
		t := time.Unix(0, v).UTC()
		st.LastEventAt = &t
	}
	r.lastErrorMu.Lock()
	st.LastError = r.lastError
	r.lastErrorMu.Unlock()
	return st
}

// Handle is a kafka handler. Malformed and unappliable events are skipped so
// they do not block the partition; store failures are retried and, once the
// schedule is exhausted, returned so the message is not committed.
func (r *Reconciler) Handle(ctx context.Context, key, value []byte) error {
	r.totalReceived.Add(1)
	r.lastEventUnixNano.Store(time.Now().UTC().UnixNano())

	var ev messages.ShipmentPurchased
	if err := json.Unmarshal(value, &ev); err != nil {
		r.skip("bad shipment event", "key", string(key), "err", err)
		return nil
	}
	if ev.OrderID == "" || ev.Tracking == "" {
		r.skip("incomplete shipment event", "key", string(key))
		return nil
	}

	sh := models.Shipment{
		ID:             ev.ShipmentID,
		OrderID:        ev.OrderID,
		QuotationID:    ev.QuotationID,
		RateID:         ev.RateID,
		TrackingNumber: ev.Tracking,
		LabelURL:       ev.LabelURL,
	}

	steps := r.backoff.Steps()
	for fail := 0; ; fail++ {
		applied, err := r.repo.ApplyShipment(ctx, sh)
		if err == nil {
			if applied {
				r.totalApplied.Add(1)
				slog.Info("order reconciled from shipment event", "order_id", sh.OrderID, "tracking_number", sh.TrackingNumber)
			} else {
				r.totalSkipped.Add(1)
			}
			return nil
		}

		if shiperr.IsKind(err, shiperr.KindNotFound) || shiperr.IsKind(err, shiperr.KindConflict) {
			r.setError(err)
			r.skip("shipment event not applicable", "order_id", sh.OrderID, "err", err)
			return nil
		}

		r.setError(err)
		if fail >= len(steps) {
			r.totalErrors.Add(1)
			slog.Error("apply shipment event", "order_id", sh.OrderID, "attempts", fail+1, "err", err)
			return errors.Wrap(err, "apply shipment")
		}

		r.totalRetries.Add(1)
		delay := r.backoff.Delay(fail + 1)
		slog.Warn("apply shipment event failed, retrying", "order_id", sh.OrderID, "delay", delay.String(), "err", err)
		if err := r.sleep(ctx, delay); err != nil {
			return errors.Wrap(err, "apply shipment")
		}
	}
}

func (r *Reconciler) skip(msg string, args ...any) {
	r.totalSkipped.Add(1)
	slog.Warn(msg, args...)
}

func (r *Reconciler) setError(err error) {
	r.lastErrorMu.Lock()
	r.lastError = err.Error()
	r.lastErrorMu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
