// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendBolt     = "bolt"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel string `mapstructure:"LOG_LEVEL"`
	HTTPAddr string `mapstructure:"HTTP_ADDR"`

	StoreBackend   string `mapstructure:"STORE_BACKEND"`
	DBURL          string `mapstructure:"DB_URL"`
	MigrationsPath string `mapstructure:"MIGRATIONS_PATH"`
	RedisAddr      string `mapstructure:"REDIS_ADDR"`
	RedisPassword  string `mapstructure:"REDIS_PASSWORD"`
	RedisDB        int    `mapstructure:"REDIS_DB"`
	BoltPath       string `mapstructure:"BOLT_PATH"`

	AuthToken           string `mapstructure:"AUTH_TOKEN"`
	AuthRequireIdentity bool   `mapstructure:"AUTH_REQUIRE_IDENTITY"`

	GithubToken          string        `mapstructure:"GITHUB_TOKEN"`
	GithubBaseURL        string        `mapstructure:"GITHUB_BASE_URL"`
	SyncSources          []string      `mapstructure:"SYNC_SOURCES"`
	SyncInterval         time.Duration `mapstructure:"SYNC_INTERVAL"`
	DefaultSyncSinceDate string        `mapstructure:"DEFAULT_SYNC_SINCE_DATE"`
	DefaultSyncSinceTime time.Time     `mapstructure:"-"`
}

var defaults = map[string]any{
	"LOG_LEVEL":               "info",
	"HTTP_ADDR":               ":8080",
	"STORE_BACKEND":           BackendMemory,
	"DB_URL":                  "",
	"MIGRATIONS_PATH":         "file://migrations",
	"REDIS_ADDR":              "localhost:6379",
	"REDIS_PASSWORD":          "",
	"REDIS_DB":                0,
	"BOLT_PATH":               "data/starfall.db",
	"AUTH_TOKEN":              "",
	"AUTH_REQUIRE_IDENTITY":   false,
	"GITHUB_TOKEN":            "",
	"GITHUB_BASE_URL":         "",
	"SYNC_SOURCES":            "",
	"SYNC_INTERVAL":           "1h",
	"DEFAULT_SYNC_SINCE_DATE": "2023-01-01T00:00:00Z",
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Every key gets a default so AutomaticEnv picks it up on Unmarshal.
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// Load from .env file if it exists
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.SyncSources = cleanList(cfg.SyncSources)

	// Parse DefaultSyncSinceDate
	parsedTime, err := time.Parse(time.RFC3339, cfg.DefaultSyncSinceDate)
	if err != nil {
		return nil, errors.New("DEFAULT_SYNC_SINCE_DATE must be in RFC3339 format (e.g. 2023-01-01T00:00:00Z)")
	}
	cfg.DefaultSyncSinceTime = parsedTime

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that depend on each other.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DBURL == "" {
			return errors.New("DB_URL is required when STORE_BACKEND is postgres")
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required when STORE_BACKEND is redis")
		}
	case BackendBolt:
		if c.BoltPath == "" {
			return errors.New("BOLT_PATH is required when STORE_BACKEND is bolt")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, postgres, redis, bolt; got %q", c.StoreBackend)
	}

	if c.AuthRequireIdentity && c.AuthToken == "" {
		return errors.New("AUTH_TOKEN is required when AUTH_REQUIRE_IDENTITY is set")
	}
	if len(c.SyncSources) > 0 && c.SyncInterval <= 0 {
		return errors.New("SYNC_INTERVAL must be positive")
	}
	return nil
}

// cleanList trims entries and drops empty ones. Values coming from env are
// comma separated.
func cleanList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
