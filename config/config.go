// Package config loads service configuration from environment variables
// (optionally a .env file) via viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all settings for the wallet service.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`

	// StoreDriver selects the ledger store: "sqlite", "postgres", or
	// "memory" (dev only, nothing survives a restart).
	StoreDriver string `mapstructure:"STORE_DRIVER"`
	SQLitePath  string `mapstructure:"SQLITE_PATH"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// AuthSecret signs bearer tokens. Empty enables dev-mode identity
	// via the X-User-Id header.
	AuthSecret string `mapstructure:"AUTH_SECRET"`

	CORSOrigins []string `mapstructure:"-"`

	// Idempotency retention and sweep cadence, in hours.
	IdempotencyRetentionHours int `mapstructure:"IDEMPOTENCY_RETENTION_HOURS"`
	IdempotencySweepHours     int `mapstructure:"IDEMPOTENCY_SWEEP_HOURS"`
}

// Load reads configuration from the environment, with an optional .env
// file in path.
func Load(path string) (Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("STORE_DRIVER", "sqlite")
	viper.SetDefault("SQLITE_PATH", "wallet.db")
	viper.SetDefault("CORS_ORIGINS", "http://localhost:5173,http://localhost:8080")
	viper.SetDefault("IDEMPOTENCY_RETENTION_HOURS", 720)
	viper.SetDefault("IDEMPOTENCY_SWEEP_HOURS", 1)

	for _, key := range []string{
		"SERVER_PORT", "STORE_DRIVER", "SQLITE_PATH", "DATABASE_URL",
		"AUTH_SECRET", "CORS_ORIGINS",
		"IDEMPOTENCY_RETENTION_HOURS", "IDEMPOTENCY_SWEEP_HOURS",
	} {
		_ = viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	switch cfg.StoreDriver {
	case "sqlite", "memory":
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return Config{}, fmt.Errorf("STORE_DRIVER=postgres requires DATABASE_URL")
		}
	default:
		return Config{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	for _, origin := range strings.Split(viper.GetString("CORS_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
		}
	}

	if cfg.IdempotencyRetentionHours <= 0 {
		cfg.IdempotencyRetentionHours = 720
	}
	if cfg.IdempotencySweepHours <= 0 {
		cfg.IdempotencySweepHours = 1
	}

	return cfg, nil
}
