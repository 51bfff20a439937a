package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/cachegate/auth"
	"github.com/jonwraymond/cachegate/cache"
	"github.com/jonwraymond/cachegate/freshness"
	"github.com/jonwraymond/cachegate/observe"
	"github.com/jonwraymond/cachegate/plan"
	"github.com/jonwraymond/cachegate/secret"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "CACHEGATE_"

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("config: invalid")

// Backend names.
const (
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Webhook delivery modes.
const (
	DeliveryDirect = "direct"
	DeliveryQueue  = "queue"
)

// Config is the full process configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server" envPrefix:"SERVER_"`
	Store        StoreConfig        `yaml:"store" envPrefix:"STORE_"`
	Counters     CountersConfig     `yaml:"counters" envPrefix:"COUNTERS_"`
	Listeners    ListenersConfig    `yaml:"listeners" envPrefix:"LISTENERS_"`
	Webhook      WebhookConfig      `yaml:"webhook" envPrefix:"WEBHOOK_"`
	Auth         AuthConfig         `yaml:"auth" envPrefix:"AUTH_"`
	Invalidation InvalidationConfig `yaml:"invalidation" envPrefix:"INVALIDATION_"`
	Observe      ObserveConfig      `yaml:"observe" envPrefix:"OBSERVE_"`

	Plans     []plan.Tier                  `yaml:"plans"`
	Freshness []freshness.Rule             `yaml:"freshness"`
	Policy    cache.Policy                 `yaml:"policy"`
	Accounts  []auth.Account               `yaml:"accounts"`
	Secrets   map[string]map[string]string `yaml:"secrets"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
}

// StoreConfig selects the entry store.
type StoreConfig struct {
	Backend          string        `yaml:"backend" env:"BACKEND"`
	BoltPath         string        `yaml:"bolt_path" env:"BOLT_PATH"`
	RedisAddr        string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword    string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB          int           `yaml:"redis_db" env:"REDIS_DB"`
	KeyPrefix        string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	ExpiredRetention time.Duration `yaml:"expired_retention" env:"EXPIRED_RETENTION"`
	SweepInterval    time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

// CountersConfig selects the quota counter store.
type CountersConfig struct {
	Backend       string `yaml:"backend" env:"BACKEND"`
	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB"`
	KeyPrefix     string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// ListenersConfig configures the listener store and scheduler.
type ListenersConfig struct {
	Enabled                bool          `yaml:"enabled" env:"ENABLED"`
	Backend                string        `yaml:"backend" env:"BACKEND"`
	PostgresDSN            string        `yaml:"postgres_dsn" env:"POSTGRES_DSN"`
	SweepInterval          time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	Concurrency            int           `yaml:"concurrency" env:"CONCURRENCY"`
	CheckTimeout           time.Duration `yaml:"check_timeout" env:"CHECK_TIMEOUT"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures" env:"MAX_CONSECUTIVE_FAILURES"`
	FailureWindow          time.Duration `yaml:"failure_window" env:"FAILURE_WINDOW"`
	FetchRate              float64       `yaml:"fetch_rate" env:"FETCH_RATE"`
}

// WebhookConfig configures listener change notifications.
type WebhookConfig struct {
	SigningKey     string        `yaml:"signing_key" env:"SIGNING_KEY"`
	Timeout        time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxAttempts    int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	Delivery       string        `yaml:"delivery" env:"DELIVERY"`
	QueueRedisAddr string        `yaml:"queue_redis_addr" env:"QUEUE_REDIS_ADDR"`
	QueueName      string        `yaml:"queue_name" env:"QUEUE_NAME"`
	WorkerCount    int           `yaml:"worker_count" env:"WORKER_COUNT"`
}

// AuthConfig configures credential verification.
type AuthConfig struct {
	SigV4Service string        `yaml:"sigv4_service" env:"SIGV4_SERVICE"`
	SigV4Region  string        `yaml:"sigv4_region" env:"SIGV4_REGION"`
	MaxClockSkew time.Duration `yaml:"max_clock_skew" env:"MAX_CLOCK_SKEW"`
}

// InvalidationConfig configures bulk invalidation.
type InvalidationConfig struct {
	CostPerEntry  float64       `yaml:"cost_per_entry" env:"COST_PER_ENTRY"`
	MaxConcurrent int           `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	MaxWait       time.Duration `yaml:"max_wait" env:"MAX_WAIT"`
}

// ObserveConfig configures logging, tracing and metrics.
type ObserveConfig struct {
	ServiceName string                `yaml:"service_name" env:"SERVICE_NAME"`
	Tracing     observe.TracingConfig `yaml:"tracing" envPrefix:"TRACING_"`
	Metrics     observe.MetricsConfig `yaml:"metrics" envPrefix:"METRICS_"`
	Logging     observe.LoggingConfig `yaml:"logging" envPrefix:"LOGGING_"`
}

// ObserverConfig converts to observe.Config.
func (c ObserveConfig) ObserverConfig(version string) observe.Config {
	return observe.Config{
		ServiceName: c.ServiceName,
		Version:     version,
		Tracing:     c.Tracing,
		Metrics:     c.Metrics,
		Logging:     c.Logging,
	}
}

// Default returns the built-in configuration: everything in memory,
// listeners enabled, prometheus metrics, JSON logs at info.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    auth.DefaultMaxBodyBytes,
		},
		Store: StoreConfig{
			Backend:          BackendMemory,
			BoltPath:         "cachegate.db",
			KeyPrefix:        cache.DefaultRedisPrefix,
			ExpiredRetention: cache.DefaultExpiredRetention,
			SweepInterval:    10 * time.Minute,
		},
		Counters: CountersConfig{Backend: BackendMemory},
		Listeners: ListenersConfig{
			Enabled:                true,
			Backend:                BackendMemory,
			SweepInterval:          time.Minute,
			Concurrency:            8,
			CheckTimeout:           20 * time.Second,
			MaxConsecutiveFailures: 10,
			FailureWindow:          24 * time.Hour,
			FetchRate:              5,
		},
		Webhook: WebhookConfig{
			Timeout:     10 * time.Second,
			MaxAttempts: 3,
			Delivery:    DeliveryDirect,
			QueueName:   "webhooks",
			WorkerCount: 10,
		},
		Auth: AuthConfig{
			SigV4Service: auth.DefaultSigV4Service,
			MaxClockSkew: auth.DefaultMaxClockSkew,
		},
		Invalidation: InvalidationConfig{
			CostPerEntry:  0.002,
			MaxConcurrent: 4,
			MaxWait:       30 * time.Second,
		},
		Observe: ObserveConfig{
			ServiceName: "cachegate",
			Tracing:     observe.TracingConfig{Exporter: "none", SamplePct: 0.1},
			Metrics:     observe.MetricsConfig{Enabled: true, Exporter: "prometheus"},
			Logging:     observe.LoggingConfig{Level: "info", Format: "json"},
		},
		Policy: cache.DefaultPolicy(),
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty), and the environment, then resolves secrets and
// validates.
func Load(ctx context.Context, path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := cfg.decodeYAML(bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.ResolveSecrets(ctx); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeYAML overlays YAML onto the receiver. Unknown keys are errors.
func (c *Config) decodeYAML(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ResolveSecrets resolves every secret-bearing field through the providers
// configured under secrets.
func (c *Config) ResolveSecrets(ctx context.Context) error {
	providers, err := secret.Builtins().Build(c.Secrets)
	if err != nil {
		return fmt.Errorf("config: secrets: %w", err)
	}
	r := secret.NewResolver(providers...)

	targets := map[string]*string{
		"webhook.signing_key":     &c.Webhook.SigningKey,
		"listeners.postgres_dsn":  &c.Listeners.PostgresDSN,
		"store.redis_password":    &c.Store.RedisPassword,
		"counters.redis_password": &c.Counters.RedisPassword,
	}
	for i := range c.Accounts {
		for j := range c.Accounts[i].AccessKeys {
			field := fmt.Sprintf("accounts[%s].access_keys[%d].secret", c.Accounts[i].ID, j)
			targets[field] = &c.Accounts[i].AccessKeys[j].Secret
		}
	}
	if err := r.ResolveAll(ctx, targets); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Server.Addr == "" {
		bad("server.addr is required")
	}
	if c.Server.MaxBodyBytes <= 0 {
		bad("server.max_body_bytes must be positive")
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendBolt:
		if c.Store.BoltPath == "" {
			bad("store.bolt_path is required for the bolt backend")
		}
	case BackendRedis:
		if c.Store.RedisAddr == "" {
			bad("store.redis_addr is required for the redis backend")
		}
	default:
		bad("store.backend %q is not one of memory, bolt, redis", c.Store.Backend)
	}

	switch c.Counters.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Counters.RedisAddr == "" {
			bad("counters.redis_addr is required for the redis backend")
		}
	default:
		bad("counters.backend %q is not one of memory, redis", c.Counters.Backend)
	}

	switch c.Listeners.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Listeners.PostgresDSN == "" {
			bad("listeners.postgres_dsn is required for the postgres backend")
		}
	default:
		bad("listeners.backend %q is not one of memory, postgres", c.Listeners.Backend)
	}
	if c.Listeners.SweepInterval < time.Second {
		bad("listeners.sweep_interval must be at least 1s")
	}

	switch c.Webhook.Delivery {
	case DeliveryDirect:
	case DeliveryQueue:
		if c.Webhook.QueueRedisAddr == "" {
			bad("webhook.queue_redis_addr is required for queued delivery")
		}
	default:
		bad("webhook.delivery %q is not one of direct, queue", c.Webhook.Delivery)
	}

	if c.Invalidation.CostPerEntry < 0 {
		bad("invalidation.cost_per_entry must not be negative")
	}

	if _, err := c.Catalog(); err != nil {
		errs = append(errs, fmt.Errorf("%w: plans: %w", ErrInvalid, err))
	}
	if _, err := freshness.NewRuleSet(c.Freshness); err != nil {
		errs = append(errs, fmt.Errorf("%w: freshness: %w", ErrInvalid, err))
	}
	for ns := range c.Policy.Namespaces {
		if err := cache.ValidateNamespace(ns); err != nil {
			errs = append(errs, fmt.Errorf("%w: policy.namespaces: %w", ErrInvalid, err))
		}
	}
	if err := c.validateAccounts(); err != nil {
		errs = append(errs, err)
	}
	oc := c.Observe.ObserverConfig("")
	if err := oc.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: observe: %w", ErrInvalid, err))
	}
	return errors.Join(errs...)
}

func (c *Config) validateAccounts() error {
	catalog, err := c.Catalog()
	if err != nil {
		return nil
	}
	seen := make([]string, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		if a.ID == "" {
			return fmt.Errorf("%w: accounts: id is required", ErrInvalid)
		}
		if slices.Contains(seen, a.ID) {
			return fmt.Errorf("%w: accounts: duplicate id %s", ErrInvalid, a.ID)
		}
		seen = append(seen, a.ID)
		if _, err := catalog.Tier(a.PlanTier); err != nil {
			return fmt.Errorf("%w: accounts[%s]: %w", ErrInvalid, a.ID, err)
		}
		if _, err := cache.CompilePatterns(a.Namespaces); len(a.Namespaces) > 0 && err != nil {
			return fmt.Errorf("%w: accounts[%s]: %w", ErrInvalid, a.ID, err)
		}
	}
	if _, err := auth.NewMemoryAccountStore(c.Accounts...); err != nil {
		return fmt.Errorf("%w: accounts: %w", ErrInvalid, err)
	}
	return nil
}

// Catalog returns the built-in tiers overlaid with configured ones.
func (c *Config) Catalog() (*plan.Catalog, error) {
	return plan.NewCatalog(append(plan.DefaultTiers(), c.Plans...)...)
}
