package config

import (
	"fmt"
	"os"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Sender     models.Address   `yaml:"sender"`
	ShipBox    ShipBoxConfig    `yaml:"shipbox"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                       string `yaml:"host"`
	Port                       int    `yaml:"port"`
	ShipmentPurchasedTopicName string `yaml:"shipment_purchased_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type AggregatorConfig struct {
	BaseURL        string `yaml:"base_url"`
	Token          string `yaml:"token"`
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret"`
	Mode           string `yaml:"mode"` // "skydropx" | "fake"
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type ShipBoxConfig struct {
	GRPCAddr           string `yaml:"grpc_addr"`
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	QuotationPollAttempts        int   `yaml:"quotation_poll_attempts"`
	QuotationPollIntervalMillis  int   `yaml:"quotation_poll_interval_millis"`
	QuotationCacheTTLSeconds     int   `yaml:"quotation_cache_ttl_seconds"`
	AggregatorRateLimitPerMinute int64 `yaml:"aggregator_rate_limit_per_minute"`

	ShipmentLockSeconds      int `yaml:"shipment_lock_seconds"`
	ShipmentPurchasedTTLDays int `yaml:"shipment_purchased_ttl_days"`

	WorkerHTTPAddr        string `yaml:"worker_http_addr"`
	WorkerTokenWarmupSpec string `yaml:"worker_token_warmup_spec"`
	WorkerBackoff1Seconds int    `yaml:"worker_backoff_1_seconds"`
	WorkerBackoff2Seconds int    `yaml:"worker_backoff_2_seconds"`
	WorkerBackoff3Seconds int    `yaml:"worker_backoff_3_seconds"`
	WorkerBackoff4Seconds int    `yaml:"worker_backoff_4_seconds"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}

// ApplyEnv loads envFiles (missing files are ignored) and lets the aggregator
// secrets from the environment override the YAML values.
func (c *Config) ApplyEnv(envFiles ...string) error {
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	overrides := map[string]*string{
		"AGGREGATOR_BASE_URL":      &c.Aggregator.BaseURL,
		"AGGREGATOR_TOKEN":         &c.Aggregator.Token,
		"AGGREGATOR_CLIENT_ID":     &c.Aggregator.ClientID,
		"AGGREGATOR_CLIENT_SECRET": &c.Aggregator.ClientSecret,
		"AGGREGATOR_MODE":          &c.Aggregator.Mode,
		"DATABASE_PASSWORD":        &c.Database.Password,
	}
	for env, dst := range overrides {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*dst = v
		}
	}
	return nil
}

func (d DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

func (k KafkaConfig) Brokers() []string {
	return []string{fmt.Sprintf("%s:%d", k.Host, k.Port)}
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
