// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package segbuf implements the Segment Buffer Pool (spec.md §4.1,
// component C1): a fixed array of 64 MiB segments backed by one region,
// a free list, and an LRU standby cache keyed by (store, stream, sequence
// number), with tamper-detected control elements.
//
// A real client/server deployment would back Pool's segments with a
// shared-memory mapping so the client process can write directly into a
// slot before calling Submit; this package only owns the server-side
// bookkeeping and allocates the backing bytes from the Go heap, which is
// the correct stand-in for a single-process trace store.
package segbuf

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/kit-simutrace/simutrace/internal/config"
	"github.com/kit-simutrace/simutrace/internal/locindex"
	"github.com/kit-simutrace/simutrace/internal/simtypes"
)

// SegmentSize is the fixed size of every slot in a Pool (spec.md §4.1).
const SegmentSize = 64 * 1024 * 1024

// Flags records the server-private bookkeeping bits a slot carries
// alongside its control element (spec.md §4.1: "free|in-use|read-only|
// scratch|cacheable|low-priority|prefetch" — the free/in-use axis is
// tracked separately as State).
type Flags uint32

const (
	FlagReadOnly Flags = 1 << iota
	FlagScratch
	FlagCacheable
	FlagLowPriority
	FlagPrefetch
)

// State is a slot's membership in the pool: exactly one of free, in-use
// (handed to a caller), or standby (spec.md §4: "a segment is in at most
// one of {free list, standby cache, open list}" — the open-list membership
// itself is owned by internal/streamdir, not here).
type State int

const (
	StateFree State = iota
	StateInUse
	StateStandby
)

// ControlElement is the client- and server-visible header adjacent to a
// slot's data, tamper-detected via Cookie (spec.md §4.1).
type ControlElement struct {
	StreamID       simtypes.StreamId
	SequenceNumber simtypes.SegmentSequenceNumber
	StartTime      simtypes.Timestamp
	// StartIndex is the entry-index of this segment's first entry
	// (spec.md §4.4 append: "start_index = last_append_index").
	StartIndex uint64
	// RawEntryCount is the number of entries the client wrote into the
	// slot; Submit drops the slot without persisting it when this is 0.
	RawEntryCount uint64
	// WrittenBytes is how much of Data the client actually populated
	// (entries may be variable-size, so this can be less than len(Data)).
	WrittenBytes uint64
	Cookie       uint32
}

// Slot is one 64 MiB segment of a Pool together with its bookkeeping.
type Slot struct {
	index int

	// Data is the slot's backing bytes. Callers write entries into Data
	// before Submit and read them out after OpenForRead's completion
	// callback fires.
	Data []byte

	Control ControlElement
	flags   Flags
	state   State

	// standby list links (doubly-linked list), -1 when unlinked.
	prev, next int
}

// Flags reports the slot's current bookkeeping flags.
func (s *Slot) Flags() Flags { return s.flags }

// State reports the slot's current pool membership.
func (s *Slot) State() State { return s.state }

type standbyKey struct {
	store  string
	stream simtypes.StreamId
	sqn    simtypes.SegmentSequenceNumber
}

// Pool is one store's segment buffer pool.
type Pool struct {
	mu sync.Mutex

	storeID string
	cfg     config.MemMgmtConfig
	seed    uint32

	slots    []Slot
	freeList []int

	standbyHead, standbyTail int // slot indices, -1 when the list is empty
	standbyIndex             map[standbyKey]int

	// OnPurge is invoked whenever a slot leaves the pool outright (not
	// into standby), including eviction of the LRU standby tail for reuse,
	// after the slot's cache entry (if any) is gone, so the
	// owning encoder can drop any per-segment decode state it was holding
	// (spec.md §4.4 notify_segment_cache_closed).
	OnPurge func(stream simtypes.StreamId, sqn simtypes.SegmentSequenceNumber)
}

// New allocates a Pool of n segments for the store identified by storeID.
func New(storeID string, n int, cfg config.MemMgmtConfig) (*Pool, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: segment pool size must be > 0, got %d", simtypes.ErrArgument, n)
	}

	p := &Pool{
		storeID:      storeID,
		cfg:          cfg,
		seed:         rand.Uint32(),
		slots:        make([]Slot, n),
		freeList:     make([]int, 0, n),
		standbyHead:  -1,
		standbyTail:  -1,
		standbyIndex: make(map[standbyKey]int),
	}
	for i := range p.slots {
		p.slots[i] = Slot{index: i, Data: make([]byte, SegmentSize), prev: -1, next: -1, state: StateFree}
		p.freeList = append(p.freeList, i)
	}
	return p, nil
}

// Len returns the total number of segments in the pool.
func (p *Pool) Len() int { return len(p.slots) }

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	Total              int
	Free               int
	Standby            int
	InUse              int
	BackpressureEvents int64
}
