// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package storepath resolves the `simtrace:<path>` store locator of
// spec.md §6.4 against the configured root and guards against path
// traversal, adapted from the teacher's path-component sanitization
// (internal/server/sanitize.go in nishisan-dev/n-backup).
package storepath

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kit-simutrace/simutrace/internal/simtypes"
)

// Scheme is the required prefix of a store locator.
const Scheme = "simtrace:"

// Extension is the required suffix for a store file to be picked up by
// enumeration (spec.md §6.4).
const Extension = ".sim"

// Resolve turns a `simtrace:<relative-or-absolute-path>` locator into an
// absolute filesystem path, resolving relative paths against root. It
// rejects locators that would escape root once resolved.
func Resolve(root, locator string) (string, error) {
	rest, ok := strings.CutPrefix(locator, Scheme)
	if !ok {
		return "", fmt.Errorf("%w: store locator %q must start with %q", simtypes.ErrArgument, locator, Scheme)
	}
	if rest == "" {
		return "", fmt.Errorf("%w: store locator %q has an empty path", simtypes.ErrArgument, locator)
	}
	if err := validateNoNUL(rest); err != nil {
		return "", err
	}

	var resolved string
	if filepath.IsAbs(rest) {
		resolved = filepath.Clean(rest)
	} else {
		resolved = filepath.Join(root, rest)
		if err := validateWithinRoot(root, resolved); err != nil {
			return "", err
		}
	}
	return resolved, nil
}

// RequireStoreExtension validates that path carries the .sim extension
// required for store enumeration.
func RequireStoreExtension(path string) error {
	if filepath.Ext(path) != Extension {
		return fmt.Errorf("%w: store path %q must end in %q", simtypes.ErrArgument, path, Extension)
	}
	return nil
}

func validateNoNUL(s string) error {
	if strings.ContainsRune(s, 0) {
		return fmt.Errorf("%w: store locator contains a NUL byte", simtypes.ErrArgument)
	}
	return nil
}

// validateWithinRoot verifies that the resolved relative-path target stays
// within root, defense in depth against "../../etc/passwd"-style locators
// even though filepath.Join already cleans "..".
func validateWithinRoot(root, resolved string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving store root: %w", err)
	}
	absResolved, err := filepath.Abs(resolved)
	if err != nil {
		return fmt.Errorf("resolving store path: %w", err)
	}

	rel, err := filepath.Rel(absRoot, absResolved)
	if err != nil {
		return fmt.Errorf("%w: store path escapes root %q: %v", simtypes.ErrArgument, root, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: store path %q escapes root %q", simtypes.ErrArgument, resolved, root)
	}
	return nil
}
