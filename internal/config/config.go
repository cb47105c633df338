// Package config loads and validates pricewatch configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/JakeFAU/pricewatch/internal/logging"
	"github.com/JakeFAU/pricewatch/internal/policy/ratelimit"
	"github.com/JakeFAU/pricewatch/internal/policy/retry"
)

// keyDelimiter replaces viper's "." so domain names can be map keys.
const keyDelimiter = "::"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Auth      AuthConfig       `mapstructure:"auth"`
	HTTP      HTTPConfig       `mapstructure:"http"`
	Headless  HeadlessConfig   `mapstructure:"headless"`
	RateLimit ratelimit.Config `mapstructure:"ratelimit"`
	Cycle     CycleConfig      `mapstructure:"cycle"`
	Detect    DetectConfig     `mapstructure:"detect"`
	Store     StoreConfig      `mapstructure:"store"`
	Notify    NotifyConfig     `mapstructure:"notify"`
	Snapshots SnapshotConfig   `mapstructure:"snapshots"`
	Catalog   CatalogConfig    `mapstructure:"catalog"`
	Report    ReportConfig     `mapstructure:"report"`
	Logging   logging.Config   `mapstructure:"logging"`
}

// ServerConfig controls the HTTP API of the serve command.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig guards the mutating API routes.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// HTTPConfig configures page loading and retries.
type HTTPConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
	RespectRobots   bool          `mapstructure:"respect_robots"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BackoffInitial  time.Duration `mapstructure:"backoff_initial"`
	BackoffMax      time.Duration `mapstructure:"backoff_max"`
	ThrottleMarkers []string      `mapstructure:"throttle_markers"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxParallel  int           `mapstructure:"max_parallel"`
	NavTimeout   time.Duration `mapstructure:"nav_timeout"`
	SelectorWait time.Duration `mapstructure:"selector_wait"`
}

// CycleConfig bounds one check cycle.
type CycleConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	Concurrency int           `mapstructure:"concurrency"`
	// Interval is the pause between cycles in serve mode.
	Interval time.Duration `mapstructure:"interval"`
}

// DetectConfig tunes the change detector.
type DetectConfig struct {
	PriceThreshold string `mapstructure:"price_threshold"`
}

// Threshold parses the price threshold as a decimal.
func (d DetectConfig) Threshold() (decimal.Decimal, error) {
	raw := strings.TrimSpace(d.PriceThreshold)
	if raw == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("detect.price_threshold: %w", err)
	}
	if value.IsNegative() {
		return decimal.Zero, errors.New("detect.price_threshold must be >= 0")
	}
	return value, nil
}

// StoreConfig selects and tunes the price store.
type StoreConfig struct {
	Driver      string `mapstructure:"driver"`
	DSN         string `mapstructure:"dsn"`
	TablePrefix string `mapstructure:"table_prefix"`
	MaxConns    int32  `mapstructure:"max_conns"`
	MinConns    int32  `mapstructure:"min_conns"`
}

// NotifyConfig selects the alert transport.
type NotifyConfig struct {
	Transport string        `mapstructure:"transport"`
	URL       string        `mapstructure:"url"`
	Title     string        `mapstructure:"title"`
	Tags      string        `mapstructure:"tags"`
	Topic     string        `mapstructure:"topic"`
	ProjectID string        `mapstructure:"project_id"`
	PerMinute int           `mapstructure:"per_minute"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// SnapshotConfig sets where drifted pages are archived.
type SnapshotConfig struct {
	Provider string `mapstructure:"provider"`
	BaseDir  string `mapstructure:"base_dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// CatalogConfig points at the sites and products file.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// ReportConfig controls the JSON cycle report of the check command.
type ReportConfig struct {
	Output string `mapstructure:"output"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	v.SetEnvPrefix("PRICEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyLegacyEnv(v)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	set := func(key string, value any) {
		v.SetDefault(strings.ReplaceAll(key, ".", keyDelimiter), value)
	}
	set("server.port", 8080)
	set("auth.enabled", false)
	set("auth.api_key", "")
	set("server.shutdown_timeout", "10s")
	set("http.timeout", "30s")
	set("http.user_agent", "")
	set("http.respect_robots", true)
	set("http.max_attempts", 3)
	set("http.backoff_initial", "500ms")
	set("http.backoff_max", "5s")
	set("http.throttle_markers", []string{"rate limit", "too many requests"})
	set("headless.enabled", false)
	set("headless.max_parallel", 1)
	set("headless.nav_timeout", "45s")
	set("headless.selector_wait", "5s")
	set("ratelimit.default_rps", 5.0)
	set("ratelimit.default_burst", 1)
	set("ratelimit.min_rps", 0.0)
	set("ratelimit.recover_after", 10)
	set("cycle.timeout", "5m")
	set("cycle.concurrency", 10)
	set("cycle.interval", "1h")
	set("detect.price_threshold", "0")
	set("store.driver", "sqlite")
	set("store.dsn", "pricewatch.db")
	set("store.table_prefix", "")
	set("store.max_conns", 4)
	set("store.min_conns", 0)
	set("notify.transport", "log")
	set("notify.url", "")
	set("notify.title", "Price Alert")
	set("notify.tags", "warning")
	set("notify.topic", "")
	set("notify.project_id", "")
	set("notify.per_minute", 50)
	set("notify.timeout", "10s")
	set("snapshots.provider", "none")
	set("snapshots.base_dir", "data/snapshots")
	set("snapshots.bucket", "")
	set("snapshots.prefix", "drift")
	set("catalog.path", "data/input.json")
	set("report.output", "output.json")
	set("logging.development", true)
	set("logging.level", "")
}

// applyLegacyEnv honours DATABASE_URL and NOTIFICATION_URL when the
// namespaced settings are not given.
func (c *Config) applyLegacyEnv(v *viper.Viper) {
	explicit := func(key, env string) bool {
		_, ok := os.LookupEnv(env)
		return ok || v.InConfig(key)
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" && !explicit("store"+keyDelimiter+"dsn", "PRICEWATCH_STORE_DSN") {
		c.Store.DSN = dsn
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			c.Store.Driver = "postgres"
		}
	}
	if url := os.Getenv("NOTIFICATION_URL"); url != "" && c.Notify.URL == "" {
		c.Notify.URL = url
		if c.Notify.Transport == "log" {
			c.Notify.Transport = "ntfy"
		}
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.RateLimit.DefaultRPS <= 0 {
		return fmt.Errorf("ratelimit.default_rps must be > 0")
	}
	if c.RateLimit.MinRPS < 0 || c.RateLimit.MinRPS > c.RateLimit.DefaultRPS {
		return fmt.Errorf("ratelimit.min_rps must be between 0 and ratelimit.default_rps")
	}
	for domain, override := range c.RateLimit.Domains {
		if override.RPS < 0 || override.Burst < 0 {
			return fmt.Errorf("ratelimit.domains.%s must not be negative", domain)
		}
	}
	if c.Cycle.Concurrency <= 0 {
		return fmt.Errorf("cycle.concurrency must be > 0")
	}
	if c.Cycle.Timeout <= 0 {
		return fmt.Errorf("cycle.timeout must be > 0")
	}
	if _, err := c.Detect.Threshold(); err != nil {
		return err
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("store.driver %q is not one of memory, sqlite, postgres", c.Store.Driver)
	}
	switch c.Notify.Transport {
	case "none", "log", "memory":
	case "ntfy":
		if c.Notify.URL == "" {
			return fmt.Errorf("notify.url must be set for the ntfy transport")
		}
	case "pubsub":
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			return fmt.Errorf("notify.project_id and notify.topic must be set for the pubsub transport")
		}
	default:
		return fmt.Errorf("notify.transport %q is not one of none, log, memory, ntfy, pubsub", c.Notify.Transport)
	}
	switch c.Snapshots.Provider {
	case "none", "memory":
	case "local":
		if c.Snapshots.BaseDir == "" {
			return fmt.Errorf("snapshots.base_dir must be set for the local provider")
		}
	case "gcs":
		if c.Snapshots.Bucket == "" {
			return fmt.Errorf("snapshots.bucket must be set for the gcs provider")
		}
	default:
		return fmt.Errorf("snapshots.provider %q is not one of none, memory, local, gcs", c.Snapshots.Provider)
	}
	return nil
}

// RetryConfig converts the HTTP retry settings for the retry policy.
func (c Config) RetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts: c.HTTP.MaxAttempts,
		BaseDelay:   c.HTTP.BackoffInitial,
		MaxDelay:    c.HTTP.BackoffMax,
	}
}
