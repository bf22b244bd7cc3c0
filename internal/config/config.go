// Package config provides configuration loading for the kettle server and CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete kettle configuration
type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
	NATS   NATSConfig   `yaml:"nats"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig configures the reference HTTP server
type ServerConfig struct {
	// Addr is the listen address (default: :8080)
	Addr string `yaml:"addr"`
	// DBPath is the SQLite database file
	DBPath string `yaml:"db_path"`
	// JWTSecret signs and validates bearer tokens
	JWTSecret string `yaml:"jwt_secret"`
	// TokenTTL is the lifetime of minted tokens
	TokenTTL time.Duration `yaml:"token_ttl"`
	// CORSOrigins lists allowed browser origins (empty = none)
	CORSOrigins []string `yaml:"cors_origins"`
}

// ClientConfig configures the offline-first device client
type ClientConfig struct {
	// BaseURL is the server base URL
	BaseURL string `yaml:"base_url"`
	// DBPath is the device-local SQLite file holding snapshots and the outbox
	DBPath string `yaml:"db_path"`
	// Token is the bearer token attached to every request
	Token string `yaml:"token"`
	// RequestTimeout bounds a single HTTP request
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// ProbeInterval is how often connectivity is probed
	ProbeInterval time.Duration `yaml:"probe_interval"`
	// RetryInterval is how often a halted outbox is retried while online
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// NATSConfig configures the optional event publisher
type NATSConfig struct {
	// URL is the NATS server URL (empty = events stay in process)
	URL string `yaml:"url"`
	// SubjectPrefix is prepended to every event subject
	SubjectPrefix string `yaml:"subject_prefix"`
}

// LogConfig configures log output
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
	// Format is text (colored) or json
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Server: ServerConfig{
			Addr:     ":8080",
			DBPath:   "data/kettle.db",
			TokenTTL: 30 * 24 * time.Hour,
		},
		Client: ClientConfig{
			BaseURL:        "http://localhost:8080",
			DBPath:         filepath.Join(home, ".local", "share", "kettle", "device.db"),
			RequestTimeout: 10 * time.Second,
			ProbeInterval:  15 * time.Second,
			RetryInterval:  30 * time.Second,
		},
		NATS: NATSConfig{
			SubjectPrefix: "kettle",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Server.DBPath == "" {
		return errors.New("server.db_path is required")
	}
	if c.Server.TokenTTL <= 0 {
		return errors.New("server.token_ttl must be positive")
	}
	if c.Client.BaseURL == "" {
		return errors.New("client.base_url is required")
	}
	if c.Client.DBPath == "" {
		return errors.New("client.db_path is required")
	}
	if c.Client.RequestTimeout <= 0 {
		return errors.New("client.request_timeout must be positive")
	}
	if c.Client.ProbeInterval <= 0 {
		return errors.New("client.probe_interval must be positive")
	}
	if c.Client.RetryInterval < 0 {
		return errors.New("client.retry_interval must not be negative")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q is not one of text, json", c.Log.Format)
	}
	return nil
}

// ValidateServer additionally checks the settings only the server needs.
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Server.JWTSecret == "" {
		return errors.New("server.jwt_secret is required")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file on top of the defaults
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}
