// Package config holds the runtime configuration for the inkwell service.
package config

import (
	"fmt"
	"time"
)

const (
	DefaultHTTPAddr = "0.0.0.0:8080"

	// DefaultCacheSize bounds the effective-access cache in entries.
	DefaultCacheSize = 10000

	DefaultEventWorkers = 4
)

// DatastoreMetricsConfig defines the configuration for the datastore metrics.
type DatastoreMetricsConfig struct {
	// Enabled enables export of the datastore metrics.
	Enabled bool
}

// DatastoreConfig defines the configuration of the datastore.
type DatastoreConfig struct {
	// Engine is the datastore engine: memory, postgres or sqlite.
	Engine string

	// URI is the connection string, ignored by the memory engine.
	URI      string
	Username string
	Password string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	Metrics DatastoreMetricsConfig
}

// HTTPConfig defines the configuration of the operational HTTP endpoint
// serving health and metrics.
type HTTPConfig struct {
	Enabled bool
	Addr    string

	CORSAllowedOrigins []string
	CORSAllowedHeaders []string
}

// LogConfig defines the configuration of the logger.
type LogConfig struct {
	// Format is either text or json.
	Format string

	// Level is one of none, debug, info, warn, error, panic, fatal.
	Level string
}

// Config is the inkwell service configuration.
type Config struct {
	Datastore DatastoreConfig
	HTTP      HTTPConfig
	Log       LogConfig

	// CacheSize bounds the effective-access cache; 0 disables it.
	CacheSize int64

	// EventWorkers bounds concurrent post-commit event deliveries.
	EventWorkers int
}

// Verify checks the configuration is complete and internally consistent.
func (cfg *Config) Verify() error {
	switch cfg.Datastore.Engine {
	case "memory":
	case "postgres", "sqlite":
		if cfg.Datastore.URI == "" {
			return fmt.Errorf("datastore uri is required for the %s engine", cfg.Datastore.Engine)
		}
	default:
		return fmt.Errorf("unknown datastore engine type: %s", cfg.Datastore.Engine)
	}

	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return fmt.Errorf("unknown log format: %s", cfg.Log.Format)
	}

	switch cfg.Log.Level {
	case "none", "debug", "info", "warn", "error", "panic", "fatal":
	default:
		return fmt.Errorf("unknown log level: %s", cfg.Log.Level)
	}

	if cfg.HTTP.Enabled && cfg.HTTP.Addr == "" {
		return fmt.Errorf("http addr is required when the http endpoint is enabled")
	}

	if cfg.CacheSize < 0 {
		return fmt.Errorf("cache size must not be negative")
	}
	if cfg.EventWorkers < 1 {
		return fmt.Errorf("event workers must be at least 1")
	}

	return nil
}

// DefaultConfig is the base configuration before flag, env and file
// overrides apply.
func DefaultConfig() *Config {
	return &Config{
		Datastore: DatastoreConfig{
			Engine:       "memory",
			MaxOpenConns: 30,
			MaxIdleConns: 10,
		},
		HTTP: HTTPConfig{
			Enabled:            true,
			Addr:               DefaultHTTPAddr,
			CORSAllowedOrigins: []string{"*"},
			CORSAllowedHeaders: []string{"*"},
		},
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
		CacheSize:    DefaultCacheSize,
		EventWorkers: DefaultEventWorkers,
	}
}
