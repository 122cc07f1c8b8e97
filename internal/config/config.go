// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string

	SyncInterval       time.Duration
	VersionInterval    time.Duration
	StartupDelay       time.Duration
	FailureBackoff     time.Duration
	AuthFailureBackoff time.Duration
	VersionTrackingTag string
}

// Load reads configuration from environment variables and returns a validated
// Config. Every variable is optional; defaults are GITSTARS_LISTEN_ADDR
// (127.0.0.1:8080), GITSTARS_DB_PATH (gitstars.db),
// GITSTARS_SYNC_TICK_INTERVAL (1h), GITSTARS_VERSION_TICK_INTERVAL (6h),
// GITSTARS_SCHEDULER_STARTUP_DELAY (30s), GITSTARS_SYNC_FAILURE_BACKOFF (30m),
// GITSTARS_SYNC_AUTH_FAILURE_BACKOFF (24h), and GITSTARS_VERSION_TRACKING_TAG
// (version-tracking).
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:         "127.0.0.1:8080",
		DBPath:             "gitstars.db",
		SyncInterval:       time.Hour,
		VersionInterval:    6 * time.Hour,
		StartupDelay:       30 * time.Second,
		FailureBackoff:     30 * time.Minute,
		AuthFailureBackoff: 24 * time.Hour,
		VersionTrackingTag: "version-tracking",
	}

	if v, ok := os.LookupEnv("GITSTARS_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := os.LookupEnv("GITSTARS_DB_PATH"); ok {
		cfg.DBPath = v
	}
	if v, ok := os.LookupEnv("GITSTARS_VERSION_TRACKING_TAG"); ok && v != "" {
		cfg.VersionTrackingTag = v
	}

	durations := []struct {
		key  string
		into *time.Duration
	}{
		{"GITSTARS_SYNC_TICK_INTERVAL", &cfg.SyncInterval},
		{"GITSTARS_VERSION_TICK_INTERVAL", &cfg.VersionInterval},
		{"GITSTARS_SCHEDULER_STARTUP_DELAY", &cfg.StartupDelay},
		{"GITSTARS_SYNC_FAILURE_BACKOFF", &cfg.FailureBackoff},
		{"GITSTARS_SYNC_AUTH_FAILURE_BACKOFF", &cfg.AuthFailureBackoff},
	}
	for _, d := range durations {
		v, ok := os.LookupEnv(d.key)
		if !ok {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("%s has invalid duration %q: %w", d.key, v, err)
		}
		*d.into = parsed
	}

	return cfg, nil
}
