package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// DefaultConfigFile is looked up in the working directory when no path is given
	DefaultConfigFile = "kettle.yaml"
	// EnvPrefix prefixes every environment override
	EnvPrefix = "KETTLE_"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger *slog.Logger
	lookup func(string) (string, bool)
	dotenv []string
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger, lookup: os.LookupEnv, dotenv: []string{".env"}}
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. YAML file (path, or kettle.yaml in the working directory)
// 3. .env file, if present
// 4. KETTLE_* environment variables
func (l *Loader) Load(path string) (*Config, error) {
	config := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	fileConfig, err := LoadFromFile(path)
	switch {
	case err == nil:
		l.logger.Debug("Loaded config file", "path", path)
		config = fileConfig
	case !explicit && errors.Is(err, fs.ErrNotExist):
		l.logger.Debug("No config file found", "path", path)
	default:
		return nil, err
	}

	for _, f := range l.dotenv {
		if err := godotenv.Load(f); err == nil {
			l.logger.Debug("Loaded env file", "path", f)
		} else if !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("Failed to load env file", "path", f, "error", err)
		}
	}

	if err := l.applyEnv(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (l *Loader) applyEnv(c *Config) error {
	strs := map[string]*string{
		"SERVER_ADDR":    &c.Server.Addr,
		"SERVER_DB_PATH": &c.Server.DBPath,
		"JWT_SECRET":     &c.Server.JWTSecret,
		"BASE_URL":       &c.Client.BaseURL,
		"CLIENT_DB_PATH": &c.Client.DBPath,
		"TOKEN":          &c.Client.Token,
		"NATS_URL":       &c.NATS.URL,
		"NATS_PREFIX":    &c.NATS.SubjectPrefix,
		"LOG_LEVEL":      &c.Log.Level,
		"LOG_FORMAT":     &c.Log.Format,
	}
	for key, dst := range strs {
		if v, ok := l.lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"TOKEN_TTL":       &c.Server.TokenTTL,
		"REQUEST_TIMEOUT": &c.Client.RequestTimeout,
		"PROBE_INTERVAL":  &c.Client.ProbeInterval,
		"RETRY_INTERVAL":  &c.Client.RetryInterval,
	}
	for key, dst := range durations {
		v, ok := l.lookup(EnvPrefix + key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
	}

	if v, ok := l.lookup(EnvPrefix + "CORS_ORIGINS"); ok {
		c.Server.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.Server.CORSOrigins = append(c.Server.CORSOrigins, o)
			}
		}
	}
	return nil
}
