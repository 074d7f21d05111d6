package tokenwarmer

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BearBump/ShipBox/internal/integrations/aggregator/auth"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

const DefaultSpec = "@every 30m"

// Warmer refreshes the aggregator OAuth token on a schedule so the shared
// cache holds a fresh token before API requests need one.
type Warmer struct {
	refresher auth.Refresher
	spec      string
	timeout   time.Duration
	cron      *cron.Cron

	runs     atomic.Int64
	failures atomic.Int64
}

func New(r auth.Refresher, spec string) *Warmer {
	if spec == "" {
		spec = DefaultSpec
	}
	return &Warmer{
		refresher: r,
		spec:      spec,
		timeout:   15 * time.Second,
		cron:      cron.New(cron.WithSeconds()),
	}
}

func (w *Warmer) Start() error {
	if _, err := w.cron.AddFunc(w.spec, func() {
		_ = w.RunOnce(context.Background())
	}); err != nil {
		return errors.Wrapf(err, "schedule token warmer %q", w.spec)
	}
	w.cron.Start()
	slog.Info("token warmer started", "spec", w.spec)
	return nil
}

// Stop waits for a running refresh to finish.
func (w *Warmer) Stop() {
	<-w.cron.Stop().Done()
	slog.Info("token warmer stopped")
}

func (w *Warmer) RunOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	w.runs.Add(1)
	if err := w.refresher.Refresh(ctx); err != nil {
		w.failures.Add(1)
		slog.Error("token warm-up failed", "err", err)
		return err
	}
	return nil
}

func (w *Warmer) Runs() (total, failed int64) {
	return w.runs.Load(), w.failures.Load()
}
