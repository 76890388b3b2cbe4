// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package store

import (
	"fmt"

	"github.com/kit-simutrace/simutrace/internal/simtypes"
	"github.com/shirou/gopsutil/v3/disk"
)

// minFreeBytes is the smallest free-space headroom StoreCreate accepts at
// the configured root before refusing to create a new store: one segment's
// worth of backbone frame plus generous slack for its hidden sections and
// directory growth, well short of an actual disk-full failure mid-write.
const minFreeBytes = 256 * 1024 * 1024

// checkDiskSpace surfaces spec.md §7's "Configuration — pool too small,
// path inaccessible" ahead of time, rather than discovering an out-of-space
// condition partway through the first segment write.
func checkDiskSpace(root string) error {
	usage, err := disk.Usage(root)
	if err != nil {
		return fmt.Errorf("%w: checking free space at %q: %v", simtypes.ErrConfiguration, root, err)
	}
	if usage.Free < minFreeBytes {
		return fmt.Errorf("%w: only %d bytes free at %q, need at least %d", simtypes.ErrConfiguration, usage.Free, root, minFreeBytes)
	}
	return nil
}
