package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/ShipBox/config"
	"github.com/BearBump/ShipBox/internal/broker/kafka"
	"github.com/BearBump/ShipBox/internal/broker/messages"
	"github.com/BearBump/ShipBox/internal/cache/rediscache"
	"github.com/BearBump/ShipBox/internal/integrations/aggregator/auth"
	"github.com/BearBump/ShipBox/internal/services/reconciler"
	"github.com/BearBump/ShipBox/internal/services/tokenwarmer"
	"github.com/BearBump/ShipBox/internal/storage/pgorders"
)

type eventConsumer interface {
	Consume(ctx context.Context, handler kafka.Handler) error
	Close() error
}

type workerFactories struct {
	newStorage  func(cfg *config.Config) (repo reconciler.Repository, closeFn func(), err error)
	newConsumer func(cfg *config.Config) eventConsumer
	newAuth     func(cfg *config.Config) (p auth.Provider, closeFn func())
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (reconciler.Repository, func(), error) {
			st, err := pgorders.New(cfg.Database.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newConsumer: func(cfg *config.Config) eventConsumer {
			topic := cfg.Kafka.ShipmentPurchasedTopicName
			if topic == "" {
				topic = messages.TopicShipmentPurchased
			}
			group := cfg.ShipBox.KafkaConsumerGroup
			if group == "" {
				group = "shipping-worker"
			}
			return kafka.NewConsumer(cfg.Kafka.Brokers(), topic, group)
		},
		newAuth: func(cfg *config.Config) (auth.Provider, func()) {
			creds := auth.Credentials{
				BaseURL:      cfg.Aggregator.BaseURL,
				Token:        cfg.Aggregator.Token,
				ClientID:     cfg.Aggregator.ClientID,
				ClientSecret: cfg.Aggregator.ClientSecret,
				Timeout:      time.Duration(cfg.Aggregator.TimeoutSeconds) * time.Second,
			}
			if !needsTokenCache(creds) {
				return auth.New(creds, nil), nil
			}
			// токен кладём в тот же redis, что читает shipping-api
			rc := rediscache.New(cfg.Redis.Addr())
			return auth.New(creds, rc), func() { _ = rc.Close() }
		},
	}
}

// needsTokenCache is true only when auth.New will pick the OAuth provider.
func needsTokenCache(creds auth.Credentials) bool {
	return creds.Token == "" && creds.ClientID != "" && creds.ClientSecret != ""
}

func RunShippingWorker(ctx context.Context, cfg *config.Config, f workerFactories, httpOpts workerHTTPOpts) error {
	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	rec := reconciler.New(repo).WithBackoff(reconciler.BackoffConfig{
		Backoff1: time.Duration(cfg.ShipBox.WorkerBackoff1Seconds) * time.Second,
		Backoff2: time.Duration(cfg.ShipBox.WorkerBackoff2Seconds) * time.Second,
		Backoff3: time.Duration(cfg.ShipBox.WorkerBackoff3Seconds) * time.Second,
		Backoff4: time.Duration(cfg.ShipBox.WorkerBackoff4Seconds) * time.Second,
	})

	provider, closeAuth := f.newAuth(cfg)
	if closeAuth != nil {
		defer closeAuth()
	}

	// Static token or no credentials: nothing to refresh.
	var warmer *tokenwarmer.Warmer
	if r, ok := provider.(auth.Refresher); ok {
		warmer = tokenwarmer.New(r, cfg.ShipBox.WorkerTokenWarmupSpec)
		if err := warmer.Start(); err != nil {
			return err
		}
		defer warmer.Stop()
		go func() { _ = warmer.RunOnce(ctx) }()
	}

	consumer := f.newConsumer(cfg)
	defer func() { _ = consumer.Close() }()

	httpOpts.reconciler = rec
	httpOpts.warmer = warmer
	httpOpts.cfg = cfg
	httpErr := make(chan error, 1)
	go func() { httpErr <- runWorkerHTTPServer(ctx, httpOpts) }()

	consumeErr := make(chan error, 1)
	go func() {
		slog.Info("kafka consumer started", "topic", cfg.Kafka.ShipmentPurchasedTopicName)
		consumeErr <- consumer.Consume(ctx, rec.Handle)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-httpErr:
	case runErr = <-consumeErr:
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return runErr
}
