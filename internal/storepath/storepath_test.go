// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package storepath

import (
	"path/filepath"
	"testing"
)

func TestResolveRelative(t *testing.T) {
	got, err := Resolve("/var/lib/simutrace", "simtrace:traces/run1.sim")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join("/var/lib/simutrace", "traces/run1.sim")
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolveAbsolute(t *testing.T) {
	got, err := Resolve("/var/lib/simutrace", "simtrace:/tmp/run1.sim")
	if err != nil {
		t.Fatal(err)
	}
	if got != "/tmp/run1.sim" {
		t.Errorf("got %q, want /tmp/run1.sim", got)
	}
}

func TestResolveRejectsMissingScheme(t *testing.T) {
	if _, err := Resolve("/root", "traces/run1.sim"); err == nil {
		t.Fatal("expected error for missing simtrace: scheme")
	}
}

func TestResolveRejectsEscape(t *testing.T) {
	if _, err := Resolve("/var/lib/simutrace", "simtrace:../../etc/passwd"); err == nil {
		t.Fatal("expected error for path escaping root")
	}
}

func TestResolveRejectsEmptyPath(t *testing.T) {
	if _, err := Resolve("/var/lib/simutrace", "simtrace:"); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestRequireStoreExtension(t *testing.T) {
	if err := RequireStoreExtension("/a/b/run1.sim"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := RequireStoreExtension("/a/b/run1.trace"); err == nil {
		t.Fatal("expected error for wrong extension")
	}
}
