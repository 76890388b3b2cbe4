// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package locindex implements the Storage Location Index (spec.md §4.2,
// component C2): one ordered range set per stream per QueryIndexType kind,
// plus the persisted StorageLocation descriptor those ranges point into.
package locindex

import "github.com/kit-simutrace/simutrace/internal/simtypes"

// Range is an inclusive [Start, End] interval over one of the ordered index
// kinds (cycle count, wall time, entry index).
type Range struct {
	Start uint64
	End   uint64
}

// Link identifies one segment within a stream.
type Link struct {
	Stream         simtypes.StreamId
	SequenceNumber simtypes.SegmentSequenceNumber
}

// StorageLocation is the persisted descriptor that maps a sequence number
// to a frame on disk and carries its index/cycle/time ranges (spec.md §3).
type StorageLocation struct {
	Link Link

	// Ranges holds one entry per QueryIndexType up to QMax (cycle count,
	// real time, entry index); indices beyond QMax are unused.
	Ranges [simtypes.QMax + 1]Range

	RawEntryCount  uint64
	CompressedSize uint64

	// Container-specific fields (spec.md §3): the frame's position and
	// on-disk size within the Simtrace v3 container.
	Offset uint64
	Size   uint64
}
