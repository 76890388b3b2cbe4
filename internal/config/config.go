// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package config loads the YAML configuration recognised by the store
// server (spec.md §6.5), following the teacher's struct-of-structs-plus-
// Validate() shape (internal/config/server.go in nishisan-dev/n-backup).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kit-simutrace/simutrace/internal/simtypes"
	"gopkg.in/yaml.v3"
)

// Config is the complete configuration recognised by a Simutrace store
// server process.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Server  ServerConfig  `yaml:"server"`
	Client  ClientConfig  `yaml:"client"`
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig holds the `store.simtrace.*` keys of spec.md §6.5.
type StoreConfig struct {
	Simtrace  SimtraceConfig  `yaml:"simtrace"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

// BootstrapConfig lists the stores a standalone server process should
// create or open at startup, standing in for the StoreCreate/StoreOpen
// wire requests a real transport front end would otherwise drive
// (SPEC_FULL.md §D).
type BootstrapConfig struct {
	// Create lists `simtrace:<path>` locators to create fresh at startup
	// (any existing file there is overwritten).
	Create []string `yaml:"create"`
	// Open lists `simtrace:<path>` locators to open read-only at startup.
	Open []string `yaml:"open"`
}

// SimtraceConfig holds the on-disk container's configuration surface.
type SimtraceConfig struct {
	// Root is the base directory relative `simtrace:<path>` store paths
	// are resolved against (spec.md §6.4).
	Root string `yaml:"root"`
	// LogStreamStats requests a verbose per-stream summary be logged on
	// store close (SPEC_FULL.md §C.5).
	LogStreamStats bool `yaml:"logStreamStats"`
}

// ServerConfig holds the `server.*` keys.
type ServerConfig struct {
	MemMgmt      MemMgmtConfig      `yaml:"memmgmt"`
	Session      SessionConfig      `yaml:"session"`
	Housekeeping HousekeepingConfig `yaml:"housekeeping"`
}

// MemMgmtConfig holds the `server.memmgmt.*` keys (spec.md §4.1, §6.5).
type MemMgmtConfig struct {
	// DisableCache disables the standby LRU cache entirely; every close
	// of a read-only segment purges it instead of caching it.
	DisableCache bool `yaml:"disableCache"`
	// ReadAhead is the read-ahead window size in segments for
	// SafSequentialScan opens.
	ReadAhead int `yaml:"readAhead"`
	// RetryCount bounds Buffer.request's backpressure retry loop.
	RetryCount int `yaml:"retryCount"`
	// RetrySleep is the sleep between Buffer.request retries.
	RetrySleep time.Duration `yaml:"retrySleep"`
}

// SessionConfig holds the `server.session.*` keys.
type SessionConfig struct {
	// CloseTimeout is the grace period before a hanging worker is
	// treated as stuck and the store is forced read-only (spec.md §5).
	CloseTimeout time.Duration `yaml:"closeTimeout"`
}

// HousekeepingConfig configures the store's periodic maintenance loop
// (standby-cache sweep, stale-prefetch demotion — SPEC_FULL.md §B).
type HousekeepingConfig struct {
	// Schedule is a robfig/cron expression (or the "@every" shorthand).
	Schedule string `yaml:"schedule"`
}

// ClientConfig holds the `client.*` keys.
type ClientConfig struct {
	MemMgmt ClientMemMgmtConfig `yaml:"memmgmt"`
}

// ClientMemMgmtConfig holds `client.memmgmt.poolSize`.
type ClientMemMgmtConfig struct {
	// PoolSize is the requested shared-memory pool size in MiB.
	PoolSize int `yaml:"poolSize"`
}

// LoggingConfig configures internal/logging.NewLogger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns a Config populated with the defaults a fresh deployment
// would want, before any YAML overlay.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Simtrace: SimtraceConfig{
				Root:           ".",
				LogStreamStats: false,
			},
		},
		Server: ServerConfig{
			MemMgmt: MemMgmtConfig{
				DisableCache: false,
				ReadAhead:    4,
				RetryCount:   16,
				RetrySleep:   10 * time.Millisecond,
			},
			Session: SessionConfig{
				CloseTimeout: 30 * time.Second,
			},
			Housekeeping: HousekeepingConfig{
				Schedule: "@every 30s",
			},
		},
		Client: ClientConfig{
			MemMgmt: ClientMemMgmtConfig{PoolSize: 256},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads and parses the YAML file at path, overlaying it onto Default().
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate fills derived fields and rejects configurations the core cannot
// operate under.
func (c *Config) Validate() error {
	if c.Store.Simtrace.Root == "" {
		c.Store.Simtrace.Root = "."
	}
	if c.Server.MemMgmt.RetryCount < 0 {
		return fmt.Errorf("server.memmgmt.retryCount must be >= 0")
	}
	if c.Server.MemMgmt.RetrySleep < 0 {
		return fmt.Errorf("server.memmgmt.retrySleep must be >= 0")
	}
	if c.Server.MemMgmt.ReadAhead < 0 {
		return fmt.Errorf("server.memmgmt.readAhead must be >= 0")
	}
	if c.Client.MemMgmt.PoolSize <= 0 {
		return fmt.Errorf("%w: client.memmgmt.poolSize must be > 0", simtypes.ErrConfiguration)
	}
	if c.Server.Housekeeping.Schedule == "" {
		c.Server.Housekeeping.Schedule = "@every 30s"
	}
	return nil
}
