// Package config loads the service configuration.
//
// Configuration comes from an optional YAML file (--config flag or the
// FUNDPOOL_CONFIG environment variable) and is then overridden by individual
// environment variables, so container deployments can run without a file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/simaogato/fundpool-backend/internal/domain"
)

// Config is the master configuration of the service.
type Config struct {
	Environment string         `yaml:"environment"`
	Server      ServerConfig   `yaml:"server"`
	Database    DatabaseConfig `yaml:"database"`
	Redis       RedisConfig    `yaml:"redis"`
	Kafka       KafkaConfig    `yaml:"kafka"`
	Services    ServicesConfig `yaml:"services"`
	Engine      EngineConfig   `yaml:"engine"`
	Payees      []PayeeEntry   `yaml:"payees"`
}

// ServerConfig configures the gRPC API and the admin HTTP listener.
type ServerConfig struct {
	GRPCAddr      string `yaml:"grpc_addr"`
	AdminAddr     string `yaml:"admin_addr"`
	JWTSigningKey string `yaml:"jwt_signing_key"`
	LogMode       string `yaml:"log_mode"`
}

// DatabaseConfig selects and configures the durable store. Driver "memory"
// runs without postgres for local development.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	ConnStr  string `yaml:"conn_str"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	Migrate  bool   `yaml:"migrate"`
}

// RedisConfig configures the reaper lease store. An empty URL disables redis
// and the reaper falls back to an in-process lock.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// KafkaConfig configures the transport gateway and event topics. No brokers
// means the loopback transport is used.
type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	ConsumerGroup      string   `yaml:"consumer_group"`
	OrdersTopic        string   `yaml:"orders_topic"`
	ConfirmationsTopic string   `yaml:"confirmations_topic"`
	EventsTopic        string   `yaml:"events_topic"`
	SendRatePerDomain  float64  `yaml:"send_rate_per_domain"`
	SendBurst          int      `yaml:"send_burst"`
}

// ServicesConfig points at the conversion and balance collaborators.
type ServicesConfig struct {
	ConversionURL string        `yaml:"conversion_url"`
	BalanceURL    string        `yaml:"balance_url"`
	Timeout       time.Duration `yaml:"timeout"`
}

// EngineConfig holds the aggregation engine's policies.
type EngineConfig struct {
	CustodyDomain          string        `yaml:"custody_domain"`
	CustodyAccount         string        `yaml:"custody_account"`
	SettlementAsset        string        `yaml:"settlement_asset"`
	MinRefundBudget        int64         `yaml:"min_refund_budget"`
	FastTransportThreshold int64         `yaml:"fast_transport_threshold"`
	Reaper                 ReaperConfig  `yaml:"reaper"`
	Retry                  RetryConfig   `yaml:"retry"`
	Inbox                  InboxConfig   `yaml:"inbox"`
	Outbox                 OutboxConfig  `yaml:"outbox"`
	MaxInFlight            int           `yaml:"max_in_flight"`
	LockTimeout            time.Duration `yaml:"lock_timeout"`
}

// ReaperConfig schedules the expiry reaper.
type ReaperConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
	LeaseTTL  time.Duration `yaml:"lease_ttl"`
}

// RetryConfig bounds backoff for phase 2 and refund dispatch.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	MinBackoff  time.Duration `yaml:"min_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
	JitterFrac  float64       `yaml:"jitter_frac"`
}

// InboxConfig sizes the confirmation inbox.
type InboxConfig struct {
	Shards     int `yaml:"shards"`
	QueueDepth int `yaml:"queue_depth"`
}

// OutboxConfig schedules the outbox relay.
type OutboxConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

// PayeeEntry is the file form of a payee's destination preferences.
type PayeeEntry struct {
	Payee   string            `yaml:"payee"`
	Policy  string            `yaml:"policy"`
	Domains []PayeeDomainSpec `yaml:"domains"`
}

// PayeeDomainSpec is one domain of a PayeeEntry.
type PayeeDomainSpec struct {
	Domain         string `yaml:"domain"`
	Account        string `yaml:"account"`
	MinimumBalance int64  `yaml:"minimum_balance"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Environment: "development",
		Server: ServerConfig{
			GRPCAddr:      ":8080",
			AdminAddr:     ":9090",
			JWTSigningKey: "dev-secret-key-change-in-production",
			LogMode:       "development",
		},
		Database: DatabaseConfig{
			Driver:   "postgres",
			Host:     "localhost",
			Port:     "5432",
			User:     "postgres",
			Password: "postgres",
			Name:     "fundpool",
			SSLMode:  "disable",
			Migrate:  true,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			ConsumerGroup:      "fundpool-engine",
			OrdersTopic:        "fundpool.transfer-orders",
			ConfirmationsTopic: "fundpool.transfer-confirmations",
			EventsTopic:        "fundpool.events",
			SendRatePerDomain:  50,
			SendBurst:          10,
		},
		Services: ServicesConfig{
			Timeout: 10 * time.Second,
		},
		Engine: EngineConfig{
			CustodyDomain:          "ethereum",
			CustodyAccount:         "fundpool-custody",
			SettlementAsset:        "USDC",
			MinRefundBudget:        1,
			FastTransportThreshold: 1_000_000,
			Reaper: ReaperConfig{
				Interval:  5 * time.Second,
				BatchSize: 100,
				LeaseTTL:  30 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts: 5,
				MinBackoff:  time.Second,
				MaxBackoff:  30 * time.Second,
				JitterFrac:  0.2,
			},
			Inbox: InboxConfig{
				Shards:     16,
				QueueDepth: 256,
			},
			Outbox: OutboxConfig{
				Interval:  time.Second,
				BatchSize: 100,
			},
			MaxInFlight: 32,
			LockTimeout: 5 * time.Second,
		},
	}
}

// Load reads the YAML file at path (skipped when empty), applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides file values with environment variables when set.
func (c *Config) applyEnv() {
	setString(&c.Server.GRPCAddr, "GRPC_ADDR")
	setString(&c.Server.AdminAddr, "ADMIN_ADDR")
	setString(&c.Server.JWTSigningKey, "JWT_SIGNING_KEY")
	setString(&c.Server.LogMode, "LOG_MODE")

	setString(&c.Database.Driver, "DB_DRIVER")
	setString(&c.Database.ConnStr, "DB_CONN_STR")
	setString(&c.Database.Host, "DB_HOST")
	setString(&c.Database.Port, "DB_PORT")
	setString(&c.Database.User, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Database.Name, "DB_NAME")

	setString(&c.Redis.URL, "REDIS_URL")

	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}

	setString(&c.Services.ConversionURL, "CONVERSION_URL")
	setString(&c.Services.BalanceURL, "BALANCE_URL")

	setString(&c.Engine.CustodyDomain, "CUSTODY_DOMAIN")
	setString(&c.Engine.CustodyAccount, "CUSTODY_ACCOUNT")
	setInt64(&c.Engine.MinRefundBudget, "MIN_REFUND_BUDGET")
	setInt64(&c.Engine.FastTransportThreshold, "FAST_TRANSPORT_THRESHOLD")
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be postgres or memory, got %q", c.Database.Driver))
	}
	if c.Server.GRPCAddr == "" {
		errs = append(errs, errors.New("server.grpc_addr is required"))
	}
	if c.Server.JWTSigningKey == "" {
		errs = append(errs, errors.New("server.jwt_signing_key is required"))
	}
	if c.Engine.CustodyDomain == "" || c.Engine.CustodyAccount == "" {
		errs = append(errs, errors.New("engine.custody_domain and engine.custody_account are required"))
	}
	if c.Engine.SettlementAsset == "" {
		errs = append(errs, errors.New("engine.settlement_asset is required"))
	}
	if c.Engine.MinRefundBudget < 0 {
		errs = append(errs, errors.New("engine.min_refund_budget cannot be negative"))
	}
	if c.Engine.FastTransportThreshold < 0 {
		errs = append(errs, errors.New("engine.fast_transport_threshold cannot be negative"))
	}
	if c.Engine.Reaper.Interval <= 0 {
		errs = append(errs, errors.New("engine.reaper.interval must be positive"))
	}
	if c.Engine.Reaper.BatchSize <= 0 {
		errs = append(errs, errors.New("engine.reaper.batch_size must be positive"))
	}
	if c.Engine.Inbox.Shards <= 0 {
		errs = append(errs, errors.New("engine.inbox.shards must be positive"))
	}
	if c.Engine.Retry.MinBackoff < 0 || c.Engine.Retry.MaxBackoff < 0 {
		errs = append(errs, errors.New("engine.retry backoff cannot be negative"))
	}
	if len(c.Kafka.Brokers) > 0 && (c.Kafka.OrdersTopic == "" || c.Kafka.ConfirmationsTopic == "") {
		errs = append(errs, errors.New("kafka topics are required when brokers are set"))
	}

	for i, p := range c.Payees {
		if _, err := p.ToDomain(); err != nil {
			errs = append(errs, fmt.Errorf("payees[%d]: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

// DSN returns the postgres connection string, built from parts when no
// explicit string is set.
func (d DatabaseConfig) DSN() string {
	if d.ConnStr != "" {
		return d.ConnStr
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// ToDomain converts a file entry into a validated payee configuration.
func (p PayeeEntry) ToDomain() (*domain.PayeeConfig, error) {
	payee, err := domain.ParseAddress(p.Payee)
	if err != nil {
		return nil, err
	}

	policy := domain.DispatchPolicy(strings.ToUpper(p.Policy))
	if policy == "" {
		policy = domain.PolicyEqual
	}

	cfg := &domain.PayeeConfig{Payee: payee, Policy: policy}
	for _, d := range p.Domains {
		cfg.Domains = append(cfg.Domains, domain.PayeeDomain{
			Domain:         d.Domain,
			Account:        d.Account,
			MinimumBalance: domain.Amount(d.MinimumBalance),
		})
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PayeeConfigs converts every payee entry.
func (c *Config) PayeeConfigs() ([]*domain.PayeeConfig, error) {
	out := make([]*domain.PayeeConfig, 0, len(c.Payees))
	for _, p := range c.Payees {
		cfg, err := p.ToDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

func setString(dst *string, name string) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		*dst = v
	}
}

func setInt64(dst *int64, name string) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		*dst = n
	}
}
