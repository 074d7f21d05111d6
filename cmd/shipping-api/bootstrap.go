package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/ShipBox/config"
	shippingapi "github.com/BearBump/ShipBox/internal/api/shipping_api"
	"github.com/BearBump/ShipBox/internal/broker/kafka"
	"github.com/BearBump/ShipBox/internal/broker/messages"
	"github.com/BearBump/ShipBox/internal/cache/rediscache"
	"github.com/BearBump/ShipBox/internal/integrations/aggregator"
	"github.com/BearBump/ShipBox/internal/integrations/aggregator/auth"
	"github.com/BearBump/ShipBox/internal/integrations/aggregator/fake"
	"github.com/BearBump/ShipBox/internal/integrations/aggregator/skydropx"
	"github.com/BearBump/ShipBox/internal/services/quotations"
	"github.com/BearBump/ShipBox/internal/services/shipments"
	"github.com/BearBump/ShipBox/internal/storage/pgorders"
)

type shippingAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     shippingAPIOpts
	api      *shippingapi.ShippingAPI
	deps     map[string]pinger
	producer *kafka.Producer
	redis    *rediscache.RedisCache
	closeDB  func()
}

func mustBootstrapShippingAPI() *shippingAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	if err := cfg.ApplyEnv(".env"); err != nil {
		panic(fmt.Sprintf("ошибка загрузки .env, %v", err))
	}

	grpcAddr := cfg.ShipBox.GRPCAddr
	if grpcAddr == "" {
		grpcAddr = ":50051"
	}
	httpAddr := cfg.ShipBox.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	topic := cfg.Kafka.ShipmentPurchasedTopicName
	if topic == "" {
		topic = messages.TopicShipmentPurchased
	}
	cacheTTL := time.Duration(cfg.ShipBox.QuotationCacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 15 * time.Minute
	}
	rlPerMin := cfg.ShipBox.AggregatorRateLimitPerMinute
	if rlPerMin <= 0 {
		rlPerMin = 60
	}

	st := mustOpenPostgresWithRetry(cfg.Database.ConnString(), 60*time.Second)

	rc := rediscache.New(cfg.Redis.Addr())
	rl := rediscache.NewRateLimiterFromClient(rc.Client())
	guard := rediscache.NewShipmentGuard(rc.Client(),
		time.Duration(cfg.ShipBox.ShipmentLockSeconds)*time.Second,
		time.Duration(cfg.ShipBox.ShipmentPurchasedTTLDays)*24*time.Hour,
	)

	creds := auth.New(aggregatorCredentials(cfg), rc)
	client := newAggregatorClient(cfg)

	producer := kafka.NewProducer(cfg.Kafka.Brokers())

	quotes := quotations.New(st, creds, client, cfg.Sender,
		quotations.WithPollPolicy(quotations.PollPolicy{
			MaxAttempts: cfg.ShipBox.QuotationPollAttempts,
			Interval:    time.Duration(cfg.ShipBox.QuotationPollIntervalMillis) * time.Millisecond,
		}),
		quotations.WithCache(rc, cacheTTL),
		quotations.WithRateLimiter(rl, rlPerMin),
	)
	ships := shipments.New(st, creds, client, cfg.Sender,
		shipments.WithPublisher(producer, topic),
		shipments.WithGuard(guard),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &shippingAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: shippingAPIOpts{
			grpcAddr:    grpcAddr,
			httpAddr:    httpAddr,
			swaggerPath: swaggerPath,
		},
		api:      shippingapi.New(quotes, ships),
		deps:     map[string]pinger{"postgres": st, "redis": rc},
		producer: producer,
		redis:    rc,
		closeDB:  st.Close,
	}
}

func aggregatorCredentials(cfg *config.Config) auth.Credentials {
	return auth.Credentials{
		BaseURL:      cfg.Aggregator.BaseURL,
		Token:        cfg.Aggregator.Token,
		ClientID:     cfg.Aggregator.ClientID,
		ClientSecret: cfg.Aggregator.ClientSecret,
		Timeout:      time.Duration(cfg.Aggregator.TimeoutSeconds) * time.Second,
	}
}

func newAggregatorClient(cfg *config.Config) aggregator.Client {
	if cfg.Aggregator.Mode == "fake" {
		slog.Warn("aggregator in fake mode, labels are not real")
		return fake.New()
	}
	return skydropx.New(cfg.Aggregator.BaseURL, time.Duration(cfg.Aggregator.TimeoutSeconds)*time.Second)
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgorders.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgorders.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *shippingAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.producer != nil {
		_ = a.producer.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *shippingAPIApp) Run() error {
	return runShippingAPI(a.ctx, a.opts, a.api, a.deps)
}
