package config

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/mallfront/storefront-client/internal/core/domain"
)

type Config struct {
	Env      string `env:"ENV,       default=development"`
	LogLevel string `env:"LOG_LEVEL, default=info"`

	API     APIConfig
	Redis   RedisConfig
	Session SessionConfig
	Order   OrderConfig
	Sync    SyncConfig
}

type APIConfig struct {
	BaseURL string        `env:"STOREFRONT_API_URL,     default=http://localhost:8080/api"`
	Timeout time.Duration `env:"STOREFRONT_API_TIMEOUT, default=15s"`
}

// RedisConfig leaves Addr empty to keep session and callback state in memory.
type RedisConfig struct {
	Addr string `env:"REDIS_ADDR"`
	DB   int    `env:"REDIS_DB, default=0"`
}

type SessionConfig struct {
	Key string        `env:"SESSION_KEY, default=mall-user"`
	TTL time.Duration `env:"SESSION_TTL, default=168h"`
}

type OrderConfig struct {
	Policy   string `env:"ORDER_POLICY,    default=permissive"`
	PageSize int    `env:"ORDER_PAGE_SIZE, default=10"`
}

type SyncConfig struct {
	RefreshWorkers int           `env:"REFRESH_WORKERS, default=2"`
	ResyncInterval time.Duration `env:"RESYNC_INTERVAL, default=1m"`
	MetricsAddr    string        `env:"METRICS_ADDR,    default=:9090"`
}

// Pretty reports whether logs should use the console writer.
func (c *Config) Pretty() bool { return c.Env == "development" }

// OrderPolicy resolves the configured preset.
func (c *Config) OrderPolicy() domain.OrderPolicy {
	p, _ := domain.ParseOrderPolicy(c.Order.Policy)
	return p
}

// Load reads configuration from environment variables using go-envconfig.
func Load(ctx context.Context) (*Config, error) {
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom reads configuration through l, which lets tests supply a fixed map.
func LoadFrom(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("config: failed to load configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("STOREFRONT_API_URL must be an absolute URL, got %q", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("STOREFRONT_API_TIMEOUT must be positive")
	}
	if _, err := domain.ParseOrderPolicy(c.Order.Policy); err != nil {
		return fmt.Errorf("ORDER_POLICY: %w", err)
	}
	if c.Order.PageSize <= 0 {
		return fmt.Errorf("ORDER_PAGE_SIZE must be positive")
	}
	if c.Session.Key == "" {
		return fmt.Errorf("SESSION_KEY must not be empty")
	}
	if c.Sync.ResyncInterval <= 0 {
		return fmt.Errorf("RESYNC_INTERVAL must be positive")
	}
	return nil
}
