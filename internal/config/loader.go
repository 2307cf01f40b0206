package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges, in order: the built-in defaults, the TOML file at path (if
// path is non-empty and the file exists), a .env file in the working
// directory (if present) and ARB_* environment variables. The result is
// validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides reads well-known ARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	setInt(&cfg.Server.Port, "ARB_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // platform convention
	setStringSlice(&cfg.Server.CORSOrigins, "ARB_SERVER_CORS_ORIGINS")
	setDuration(&cfg.Server.ShutdownTimeout, "ARB_SERVER_SHUTDOWN_TIMEOUT")

	setFloat64(&cfg.Portfolio.StartingBalance, "ARB_PORTFOLIO_STARTING_BALANCE")
	setFloat64(&cfg.Portfolio.MaxTradeAmount, "ARB_PORTFOLIO_MAX_TRADE_AMOUNT")
	setFloat64(&cfg.Portfolio.MaxKeywordExposure, "ARB_PORTFOLIO_MAX_KEYWORD_EXPOSURE")

	setStr(&cfg.Store.Driver, "ARB_STORE_DRIVER")
	setStr(&cfg.Store.Path, "ARB_STORE_PATH")
	setStr(&cfg.Store.DSN, "ARB_STORE_DSN")
	setStr(&cfg.Store.DSN, "DATABASE_URL")

	setStr(&cfg.Redis.URL, "ARB_REDIS_URL")
	setStr(&cfg.Redis.URL, "REDIS_URL")
	setDuration(&cfg.Redis.TTL, "ARB_REDIS_TTL")

	setStr(&cfg.Catalog.Path, "ARB_CATALOG_PATH")
	setDuration(&cfg.Catalog.RefreshInterval, "ARB_CATALOG_REFRESH_INTERVAL")

	setBool(&cfg.Feed.Enabled, "ARB_FEED_ENABLED")
	setStr(&cfg.Feed.WSURL, "ARB_FEED_WS_URL")

	setStr(&cfg.LogLevel, "ARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
