// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package streamdir implements the Stream Segment Directory and Stream
// Operations (spec.md §4.3, §4.4 — components C3 and C4): the per-stream
// segment state machine, its open list and reference counting, and the
// append/open/close/submit/complete_segment operations that drive it.
package streamdir

import (
	"github.com/kit-simutrace/simutrace/internal/locindex"
	"github.com/kit-simutrace/simutrace/internal/segbuf"
	"github.com/kit-simutrace/simutrace/internal/simtypes"
)

// State is a segment's position in the dense lifecycle of spec.md §4.3/§4.
type State int

const (
	StateAbsent State = iota
	StateWriting
	StateEncoding
	StatePersisted
	StateLoading
	StateMapped
	StateStandby
	StateDiscarded
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateWriting:
		return "writing"
	case StateEncoding:
		return "encoding"
	case StatePersisted:
		return "persisted"
	case StateLoading:
		return "loading"
	case StateMapped:
		return "mapped"
	case StateStandby:
		return "standby"
	case StateDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// hasLocation reports whether a segment's state implies a persisted
// StorageLocation (spec.md §4.3: "present iff state in {Persisted,
// Loading, Mapped, Standby}").
func (s State) hasLocation() bool {
	switch s {
	case StatePersisted, StateLoading, StateMapped, StateStandby:
		return true
	default:
		return false
	}
}

// Segment is one entry of a stream's directory.
type Segment struct {
	State State

	// Location is present iff State.hasLocation().
	Location *locindex.StorageLocation

	// BufferSlot is the slot currently holding this segment's data, if any.
	BufferSlot *segbuf.Slot

	RefCount int
	RefMap   map[simtypes.SessionId]int

	Cancel     bool
	Prefetched bool

	// Waiters are fulfilled exactly once, with nil on success or the
	// failure that completed the in-flight operation.
	Waiters []chan error

	// lastErr records the outcome of the most recent completion that
	// reverted this segment to Persisted (load failure or cancellation),
	// so a caller that raced a synchronous completion can still observe it.
	lastErr error
}

// directory holds one stream's dense (sparse sqns permitted) segment
// vector, its open list, and its three range trees (spec.md §4.3).
type directory struct {
	segments []*Segment
	openList map[simtypes.SegmentSequenceNumber]*Segment
	index    *locindex.Index
}

func newDirectory() directory {
	return directory{
		segments: make([]*Segment, 0),
		openList: make(map[simtypes.SegmentSequenceNumber]*Segment),
		index:    locindex.New(),
	}
}

func (d *directory) grow(sqn simtypes.SegmentSequenceNumber) {
	for simtypes.SegmentSequenceNumber(len(d.segments)) <= sqn {
		d.segments = append(d.segments, nil)
	}
}

func (d *directory) at(sqn simtypes.SegmentSequenceNumber) *Segment {
	if int(sqn) >= len(d.segments) {
		return nil
	}
	return d.segments[sqn]
}
