package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Verify())
}

func TestVerifyConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:    "unknown_engine",
			mutate:  func(cfg *Config) { cfg.Datastore.Engine = "mongo" },
			wantErr: "unknown datastore engine type: mongo",
		},
		{
			name:    "postgres_requires_uri",
			mutate:  func(cfg *Config) { cfg.Datastore.Engine = "postgres" },
			wantErr: "datastore uri is required for the postgres engine",
		},
		{
			name:    "sqlite_requires_uri",
			mutate:  func(cfg *Config) { cfg.Datastore.Engine = "sqlite" },
			wantErr: "datastore uri is required for the sqlite engine",
		},
		{
			name:    "unknown_log_format",
			mutate:  func(cfg *Config) { cfg.Log.Format = "xml" },
			wantErr: "unknown log format: xml",
		},
		{
			name:    "unknown_log_level",
			mutate:  func(cfg *Config) { cfg.Log.Level = "verbose" },
			wantErr: "unknown log level: verbose",
		},
		{
			name: "http_enabled_without_addr",
			mutate: func(cfg *Config) {
				cfg.HTTP.Enabled = true
				cfg.HTTP.Addr = ""
			},
			wantErr: "http addr is required when the http endpoint is enabled",
		},
		{
			name:    "negative_cache_size",
			mutate:  func(cfg *Config) { cfg.CacheSize = -1 },
			wantErr: "cache size must not be negative",
		},
		{
			name:    "zero_event_workers",
			mutate:  func(cfg *Config) { cfg.EventWorkers = 0 },
			wantErr: "event workers must be at least 1",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Verify()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
