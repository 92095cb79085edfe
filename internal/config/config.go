// SPDX-License-Identifier: MIT

// Package config loads the daemon configuration from a YAML file with
// environment overrides (INGESTD_* variables win over the file).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	LogLevel  string `yaml:"logLevel,omitempty"`
	LogFormat string `yaml:"logFormat,omitempty"` // "json" or "console"

	DatabasePath string `yaml:"databasePath,omitempty"`
	CacheDir     string `yaml:"cacheDir,omitempty"`

	Redis RedisConfig `yaml:"redis,omitempty"`
	API   APIConfig   `yaml:"api,omitempty"`
	Fetch FetchConfig `yaml:"fetch,omitempty"`

	LockTTL       string `yaml:"lockTTL,omitempty"`       // e.g. "30m"
	CheckInterval string `yaml:"checkInterval,omitempty"` // refresh due-source poll, e.g. "1m"
}

// RedisConfig points at the shared key-value store.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// APIConfig holds the control-plane listener settings.
type APIConfig struct {
	Listen        string `yaml:"listen,omitempty"`
	RatePerMinute int    `yaml:"ratePerMinute,omitempty"`
}

// FetchConfig tunes the playlist fetcher.
type FetchConfig struct {
	MaxCycles  int    `yaml:"maxCycles,omitempty"`
	CycleDelay string `yaml:"cycleDelay,omitempty"` // e.g. "2s"
	Timeout    string `yaml:"timeout,omitempty"`    // e.g. "90s"
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		LogLevel:     "info",
		LogFormat:    "json",
		DatabasePath: "/data/ingestd.db",
		CacheDir:     "/data/cache",
		Redis:        RedisConfig{Addr: "localhost:6379"},
		API:          APIConfig{Listen: ":8080", RatePerMinute: 60},
		Fetch: FetchConfig{
			MaxCycles:  2,
			CycleDelay: "2s",
			Timeout:    "90s",
		},
		LockTTL:       "30m",
		CheckInterval: "1m",
	}
}

// Load reads the YAML file (when path is non-empty and the file exists),
// applies environment overrides, and validates.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setString("INGESTD_LOG_LEVEL", &cfg.LogLevel)
	setString("INGESTD_LOG_FORMAT", &cfg.LogFormat)
	setString("INGESTD_DB_PATH", &cfg.DatabasePath)
	setString("INGESTD_CACHE_DIR", &cfg.CacheDir)
	setString("INGESTD_REDIS_ADDR", &cfg.Redis.Addr)
	setString("INGESTD_REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("INGESTD_REDIS_DB", &cfg.Redis.DB)
	setString("INGESTD_LISTEN", &cfg.API.Listen)
	setInt("INGESTD_RATE_PER_MINUTE", &cfg.API.RatePerMinute)
	setInt("INGESTD_FETCH_MAX_CYCLES", &cfg.Fetch.MaxCycles)
	setString("INGESTD_FETCH_CYCLE_DELAY", &cfg.Fetch.CycleDelay)
	setString("INGESTD_FETCH_TIMEOUT", &cfg.Fetch.Timeout)
	setString("INGESTD_LOCK_TTL", &cfg.LockTTL)
	setString("INGESTD_CHECK_INTERVAL", &cfg.CheckInterval)
}

// Validate checks cross-field consistency and parseability of durations.
func (c Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("config: databasePath is required")
	}
	if c.CacheDir == "" {
		return fmt.Errorf("config: cacheDir is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required")
	}
	if c.Fetch.MaxCycles < 1 {
		return fmt.Errorf("config: fetch.maxCycles must be >= 1")
	}
	for name, raw := range map[string]string{
		"lockTTL":          c.LockTTL,
		"checkInterval":    c.CheckInterval,
		"fetch.cycleDelay": c.Fetch.CycleDelay,
		"fetch.timeout":    c.Fetch.Timeout,
	} {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	return nil
}

// Duration parses a duration field, falling back when empty or malformed.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
