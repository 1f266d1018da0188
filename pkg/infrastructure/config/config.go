// Package config loads and validates the filter-stack engine's
// configuration: cache backend connection, worker pool sizing, and logging.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all filter-stack engine configuration.
type Config struct {
	// Cache Configuration
	Cache CacheConfig `json:"cache"`

	// Worker Pool Configuration
	Workers WorkersConfig `json:"workers"`

	// Logging Configuration
	Logging LoggingConfig `json:"logging"`
}

// CacheConfig holds the result/attribute cache backend's connection
// settings. An empty Host disables caching entirely; the stack runner then
// always recomputes.
type CacheConfig struct {
	Host        string        `json:"host"`
	Port        int           `json:"port"`
	Database    int           `json:"database"`
	Password    string        `json:"password"`
	DialTimeout time.Duration `json:"dial_timeout"`
}

// WorkersConfig holds worker pool sizing.
type WorkersConfig struct {
	Count int `json:"count"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
	File   string `json:"file"`
}

// DefaultConfig returns a configuration with sensible defaults: no cache
// backend configured, four workers, info-level text logging to the
// console.
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			Host:        "",
			Port:        6379,
			Database:    0,
			Password:    "",
			DialTimeout: 5 * time.Second,
		},
		Workers: WorkersConfig{
			Count: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "console",
			File:   "",
		},
	}
}

// LoadConfig loads configuration from a JSON file, applies
// FILTERSTACK_-prefixed environment variable overrides, and validates the
// result. An empty configPath (or one that does not exist) just uses
// defaults before overrides.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, c)
}

func (c *Config) applyEnvironmentOverrides() {
	if val := os.Getenv("FILTERSTACK_CACHE_HOST"); val != "" {
		c.Cache.Host = val
	}
	if val := os.Getenv("FILTERSTACK_CACHE_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Cache.Port = port
		}
	}
	if val := os.Getenv("FILTERSTACK_CACHE_DATABASE"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			c.Cache.Database = db
		}
	}
	if val := os.Getenv("FILTERSTACK_CACHE_PASSWORD"); val != "" {
		c.Cache.Password = val
	}
	if val := os.Getenv("FILTERSTACK_CACHE_DIAL_TIMEOUT"); val != "" {
		if timeout, err := time.ParseDuration(val); err == nil {
			c.Cache.DialTimeout = timeout
		}
	}

	if val := os.Getenv("FILTERSTACK_WORKERS_COUNT"); val != "" {
		if count, err := strconv.Atoi(val); err == nil {
			c.Workers.Count = count
		}
	}

	if val := os.Getenv("FILTERSTACK_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
	if val := os.Getenv("FILTERSTACK_LOG_FORMAT"); val != "" {
		c.Logging.Format = val
	}
	if val := os.Getenv("FILTERSTACK_LOG_OUTPUT"); val != "" {
		c.Logging.Output = val
	}
	if val := os.Getenv("FILTERSTACK_LOG_FILE"); val != "" {
		c.Logging.File = val
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Cache.Host != "" {
		if c.Cache.Port <= 0 || c.Cache.Port > 65535 {
			return fmt.Errorf("cache port must be between 1 and 65535")
		}
		if c.Cache.Database < 0 {
			return fmt.Errorf("cache database must not be negative")
		}
		if c.Cache.DialTimeout <= 0 {
			return fmt.Errorf("cache dial timeout must be positive")
		}
	}

	if c.Workers.Count <= 0 {
		return fmt.Errorf("worker count must be positive")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	validOutputs := map[string]bool{
		"console": true, "file": true, "both": true,
	}
	if !validOutputs[strings.ToLower(c.Logging.Output)] {
		return fmt.Errorf("invalid log output: %s", c.Logging.Output)
	}

	return nil
}

// Addr returns the cache backend's "host:port" dial address.
func (c *CacheConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SaveToFile saves the configuration to a JSON file, creating its parent
// directory if necessary.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// GetDefaultConfigPath returns the default configuration file path under
// the user's home directory.
func GetDefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".filterstack", "config.json"), nil
}
