// Package config reads server settings from the environment, optionally
// seeded from a .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

type Config struct {
	Port             int           `mapstructure:"port"`
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"`
	StoreDriver      string        `mapstructure:"store_driver"`
	DatabaseURL      string        `mapstructure:"database_url"`
	RedisURL         string        `mapstructure:"redis_url"`
	StrictMoves      bool          `mapstructure:"strict_moves"`
	WSOriginPatterns []string      `mapstructure:"ws_origin_patterns"`
	WSPingInterval   time.Duration `mapstructure:"ws_ping_interval"`
	CleanupOrphans   bool          `mapstructure:"cleanup_orphans"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Load reads envFile when it exists, then the process environment. Variables
// already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("store_driver", DriverMemory)
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "")
	v.SetDefault("strict_moves", false)
	v.SetDefault("ws_origin_patterns", []string{})
	v.SetDefault("ws_ping_interval", "30s")
	v.SetDefault("cleanup_orphans", true)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.WSOriginPatterns = splitList(cfg.WSOriginPatterns)
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT %d out of range", c.Port)
	}
	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("STORE_DRIVER=postgres requires DATABASE_URL")
		}
	case DriverRedis:
		if c.RedisURL == "" {
			return errors.New("STORE_DRIVER=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("unknown LOG_FORMAT %q", c.LogFormat)
	}
	if c.WSPingInterval <= 0 {
		return fmt.Errorf("WS_PING_INTERVAL must be positive, got %s", c.WSPingInterval)
	}
	return nil
}

// splitList flattens comma-separated entries and drops blanks.
func splitList(in []string) []string {
	out := []string{}
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
