// Package config defines the server configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from an
// optional TOML file and then overridden by ARB_* environment variables.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Portfolio PortfolioConfig `toml:"portfolio"`
	Store     StoreConfig     `toml:"store"`
	Redis     RedisConfig     `toml:"redis"`
	Catalog   CatalogConfig   `toml:"catalog"`
	Feed      FeedConfig      `toml:"feed"`
	LogLevel  string          `toml:"log_level"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// PortfolioConfig holds the paper-trading account parameters. A zero
// MaxKeywordExposure disables the keyword cap.
type PortfolioConfig struct {
	StartingBalance    float64 `toml:"starting_balance"`
	MaxTradeAmount     float64 `toml:"max_trade_amount"`
	MaxKeywordExposure float64 `toml:"max_keyword_exposure"`
}

// StoreConfig selects where the portfolio is persisted.
//
// Driver is one of "file" (Path is the JSON file), "badger" (Path is the
// database directory), "postgres" (DSN) or "memory".
type StoreConfig struct {
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
	DSN    string `toml:"dsn"`
}

// RedisConfig enables the Redis portfolio cache and shared price cache when
// URL is set.
type RedisConfig struct {
	URL string   `toml:"url"`
	TTL duration `toml:"ttl"`
}

// CatalogConfig points at the pairs snapshot.
type CatalogConfig struct {
	Path            string   `toml:"path"`
	RefreshInterval duration `toml:"refresh_interval"`
}

// FeedConfig controls the live price stream.
type FeedConfig struct {
	Enabled bool   `toml:"enabled"`
	WSURL   string `toml:"ws_url"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with sensible defaults.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: duration{5 * time.Second},
		},
		Portfolio: PortfolioConfig{
			StartingBalance: 10000,
			MaxTradeAmount:  5000,
		},
		Store: StoreConfig{
			Driver: "file",
			Path:   "data/portfolio.json",
		},
		Redis: RedisConfig{
			TTL: duration{30 * time.Second},
		},
		Catalog: CatalogConfig{
			Path:            "data/market_pairs.json",
			RefreshInterval: duration{5 * time.Second},
		},
		Feed: FeedConfig{
			Enabled: false,
			WSURL:   "wss://ws-subscriptions-clob.polymarket.com/ws/market",
		},
		LogLevel: "info",
	}
}

var validDrivers = map[string]bool{
	"file":     true,
	"memory":   true,
	"badger":   true,
	"postgres": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if c.Portfolio.StartingBalance <= 0 {
		errs = append(errs, "portfolio: starting_balance must be positive")
	}
	if c.Portfolio.MaxTradeAmount <= 0 {
		errs = append(errs, "portfolio: max_trade_amount must be positive")
	}
	if c.Portfolio.MaxKeywordExposure < 0 {
		errs = append(errs, "portfolio: max_keyword_exposure must not be negative")
	}

	driver := strings.ToLower(c.Store.Driver)
	switch {
	case !validDrivers[driver]:
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: file, memory, badger, postgres)", c.Store.Driver))
	case driver == "postgres" && strings.TrimSpace(c.Store.DSN) == "":
		errs = append(errs, "store: dsn is required for the postgres driver")
	case (driver == "file" || driver == "badger") && c.Store.Path == "":
		errs = append(errs, "store: path is required for the "+driver+" driver")
	}

	if c.Catalog.Path == "" {
		errs = append(errs, "catalog: path must not be empty")
	}
	if c.Catalog.RefreshInterval.Duration < 0 {
		errs = append(errs, "catalog: refresh_interval must not be negative")
	}

	if c.Feed.Enabled && c.Feed.WSURL == "" {
		errs = append(errs, "feed: ws_url is required when the feed is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
