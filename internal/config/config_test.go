// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "simutrace.yaml")
	yaml := `
store:
  simtrace:
    root: /data/traces
    logStreamStats: true
server:
  memmgmt:
    readAhead: 8
    retryCount: 4
    retrySleep: 5ms
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Simtrace.Root != "/data/traces" {
		t.Errorf("root = %q, want /data/traces", cfg.Store.Simtrace.Root)
	}
	if !cfg.Store.Simtrace.LogStreamStats {
		t.Errorf("logStreamStats = false, want true")
	}
	if cfg.Server.MemMgmt.ReadAhead != 8 {
		t.Errorf("readAhead = %d, want 8", cfg.Server.MemMgmt.ReadAhead)
	}
	if cfg.Server.MemMgmt.RetrySleep != 5*time.Millisecond {
		t.Errorf("retrySleep = %v, want 5ms", cfg.Server.MemMgmt.RetrySleep)
	}
	// Untouched keys keep their default.
	if cfg.Client.MemMgmt.PoolSize != 256 {
		t.Errorf("poolSize = %d, want default 256", cfg.Client.MemMgmt.PoolSize)
	}
	if cfg.Server.Housekeeping.Schedule != "@every 30s" {
		t.Errorf("schedule = %q, want default", cfg.Server.Housekeeping.Schedule)
	}
}

func TestValidateRejectsBadPoolSize(t *testing.T) {
	cfg := Default()
	cfg.Client.MemMgmt.PoolSize = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero pool size")
	}
}

func TestValidateRejectsNegativeRetry(t *testing.T) {
	cfg := Default()
	cfg.Server.MemMgmt.RetryCount = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative retryCount")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
