package quotations

import (
	"context"
	"time"
)

type PollPolicy struct {
	MaxAttempts int           // default: 3
	Interval    time.Duration // default: 2 seconds
}

func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		MaxAttempts: 3,
		Interval:    2 * time.Second,
	}
}

func (p PollPolicy) normalize() PollPolicy {
	def := DefaultPollPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.Interval <= 0 {
		p.Interval = def.Interval
	}
	return p
}

// sleepCtx waits for d or until ctx is done.
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
