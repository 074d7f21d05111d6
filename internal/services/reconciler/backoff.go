package reconciler

import "time"

type BackoffConfig struct {
	Backoff1 time.Duration // default: 1 second
	Backoff2 time.Duration // default: 5 seconds
	Backoff3 time.Duration // default: 15 seconds
	Backoff4 time.Duration // default: 30 seconds
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Backoff1: 1 * time.Second,
		Backoff2: 5 * time.Second,
		Backoff3: 15 * time.Second,
		Backoff4: 30 * time.Second,
	}
}

type Backoff struct {
	cfg BackoffConfig
}

func NewBackoff(cfg BackoffConfig) *Backoff {
	def := DefaultBackoffConfig()
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	return &Backoff{cfg: cfg}
}

// Steps is the retry schedule: one wait per retry.
func (b *Backoff) Steps() []time.Duration {
	return []time.Duration{b.cfg.Backoff1, b.cfg.Backoff2, b.cfg.Backoff3, b.cfg.Backoff4}
}

func (b *Backoff) Delay(failCount int) time.Duration {
	switch {
	case failCount <= 1:
		return b.cfg.Backoff1
	case failCount == 2:
		return b.cfg.Backoff2
	case failCount == 3:
		return b.cfg.Backoff3
	default:
		return b.cfg.Backoff4
	}
}
