// Package config loads the controller's runtime configuration from
// environment variables into a plain struct, assembled by hand rather
// than parsed from a config file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cuemby/stormctl/pkg/service"
)

// Config holds everything needed to start the controller.
type Config struct {
	ListenAddr string
	DatabaseDSN string
	DatabaseDriver string // "postgres" or "sqlite"

	AuthToken string

	ComputeHookURL string

	LogLevel  string
	LogJSON   bool

	Service service.Config
}

// Default returns a Config with every field set to a usable default,
// suitable for local development against the sqlite driver.
func Default() Config {
	return Config{
		ListenAddr:     ":6440",
		DatabaseDSN:    "stormctl.db",
		DatabaseDriver: "sqlite",
		LogLevel:       "info",
		LogJSON:        false,
		Service:        service.DefaultConfig(),
	}
}

// FromEnv overlays environment variables on top of Default, following
// the STORMCTL_ prefix convention. Unset variables keep the default.
func FromEnv() (Config, error) {
	cfg := Default()

	if v := os.Getenv("STORMCTL_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("STORMCTL_DATABASE_DSN"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := os.Getenv("STORMCTL_DATABASE_DRIVER"); v != "" {
		cfg.DatabaseDriver = v
	}
	if v := os.Getenv("STORMCTL_AUTH_TOKEN"); v != "" {
		cfg.AuthToken = v
	}
	if v := os.Getenv("STORMCTL_COMPUTE_HOOK_URL"); v != "" {
		cfg.ComputeHookURL = v
	}
	if v := os.Getenv("STORMCTL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("STORMCTL_LOG_JSON"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse STORMCTL_LOG_JSON: %w", err)
		}
		cfg.LogJSON = b
	}
	if v := os.Getenv("STORMCTL_RECONCILE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse STORMCTL_RECONCILE_INTERVAL: %w", err)
		}
		cfg.Service.ReconcileInterval = d
	}
	if v := os.Getenv("STORMCTL_MAX_RECONCILE_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse STORMCTL_MAX_RECONCILE_CONCURRENCY: %w", err)
		}
		cfg.Service.MaxReconcileConcurrency = n
	}

	return cfg, nil
}
