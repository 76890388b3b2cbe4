// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package segbuf

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kit-simutrace/simutrace/internal/locindex"
	"github.com/kit-simutrace/simutrace/internal/simtypes"
)

// ErrExhausted is returned by Request/RequestScratch once the retry budget
// configured in server.memmgmt.retryCount is spent without a slot becoming
// available (spec.md §4.1: "backpressure → retry N times with sleep, then
// fail").
var ErrExhausted = fmt.Errorf("%w: segment buffer pool exhausted", simtypes.ErrInProgress)

// Encoder is the narrow interface Submit/OpenForRead drive a segment's
// read or write through. internal/encoder implements it; segbuf only
// depends on this shape so the two packages never need to import one
// another (encoder imports segbuf for *Slot, not the reverse).
type Encoder interface {
	// Write persists slot and invokes done exactly once with the resulting
	// location, either before Write returns or later from another
	// goroutine (spec.md §4.1: submit "may complete synchronously or via
	// pool").
	Write(ctx context.Context, slot *Slot, done func(*locindex.StorageLocation, error))
	// Read fills slot from loc and invokes done exactly once, with the
	// same synchronous-or-later contract as Write.
	Read(ctx context.Context, slot *Slot, loc *locindex.StorageLocation, done func(error))
}

// Request returns a slot for stream/sqn in state Writing (spec.md §4.1):
// an exact standby hit is reused first, then the free list, then the LRU
// standby slot is evicted. On persistent exhaustion it retries up to
// cfg.RetryCount times, sleeping cfg.RetrySleep between attempts, before
// returning ErrExhausted. startIndex is stamped into the slot's control
// element as ControlElement.StartIndex (spec.md §4.4 step 3: "start_index
// = last_append_index") — callers outside an append path (reads, scratch)
// pass 0.
func (p *Pool) Request(stream simtypes.StreamId, sqn simtypes.SegmentSequenceNumber, startIndex uint64, flags Flags) (*Slot, error) {
	for attempt := 0; ; attempt++ {
		if s := p.tryRequest(stream, sqn, startIndex, flags); s != nil {
			return s, nil
		}
		if attempt >= p.cfg.RetryCount {
			return nil, ErrExhausted
		}
		time.Sleep(p.cfg.RetrySleep)
	}
}

func (p *Pool) tryRequest(stream simtypes.StreamId, sqn simtypes.SegmentSequenceNumber, startIndex uint64, flags Flags) *Slot {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := standbyKey{store: p.storeID, stream: stream, sqn: sqn}
	if idx, ok := p.standbyIndex[key]; ok {
		p.unlinkStandbyLocked(idx)
		return p.claimLocked(idx, stream, sqn, startIndex, flags)
	}

	if idx, ok := p.popFreeLocked(); ok {
		return p.claimLocked(idx, stream, sqn, startIndex, flags)
	}

	if idx, ok := p.evictStandbyTailLocked(); ok {
		return p.claimLocked(idx, stream, sqn, startIndex, flags)
	}

	return nil
}

// RequestScratch returns a slot with no owning stream/sequence number and
// no cache eligibility (spec.md §4.1): only the free list and standby
// eviction feed it, never an exact standby hit.
func (p *Pool) RequestScratch(flags Flags) (*Slot, error) {
	flags |= FlagScratch
	flags &^= FlagCacheable

	for attempt := 0; ; attempt++ {
		p.mu.Lock()
		idx, ok := p.popFreeLocked()
		if !ok {
			idx, ok = p.evictStandbyTailLocked()
		}
		if ok {
			s := p.claimLocked(idx, simtypes.StreamId(simtypes.Invalid), 0, 0, flags)
			p.mu.Unlock()
			return s, nil
		}
		p.mu.Unlock()

		if attempt >= p.cfg.RetryCount {
			return nil, ErrExhausted
		}
		time.Sleep(p.cfg.RetrySleep)
	}
}

// claimLocked must be called with p.mu held. It initialises the slot's
// control element and cookie and marks it in-use. StartIndex is set here,
// with the rest of the control element, before stampCookie runs; for a
// writable slot the cookie covers the stream id, sequence number and start
// time, and for a read-only slot the whole control element.
func (p *Pool) claimLocked(idx int, stream simtypes.StreamId, sqn simtypes.SegmentSequenceNumber, startIndex uint64, flags Flags) *Slot {
	s := &p.slots[idx]
	s.flags = flags
	s.state = StateInUse
	s.Control = ControlElement{
		StreamID:       stream,
		SequenceNumber: sqn,
		StartTime:      simtypes.Timestamp(time.Now().UnixNano()),
		StartIndex:     startIndex,
	}
	p.stampCookie(s)
	return s
}

// OpenForRead requests a slot for loc and drives enc.Read to fill it,
// purging the slot on I/O failure (spec.md §4.1).
func (p *Pool) OpenForRead(ctx context.Context, stream simtypes.StreamId, loc *locindex.StorageLocation, access simtypes.AccessFlags, prefetch bool, enc Encoder, done func(error)) (*Slot, error) {
	slot, err := p.Request(stream, loc.Link.SequenceNumber, 0, readFlags(access, prefetch))
	if err != nil {
		return nil, err
	}

	enc.Read(ctx, slot, loc, func(readErr error) {
		if readErr != nil {
			p.Purge(slot)
		}
		if done != nil {
			done(readErr)
		}
	})
	return slot, nil
}

func readFlags(access simtypes.AccessFlags, prefetch bool) Flags {
	flags := FlagReadOnly | FlagCacheable
	if access&(simtypes.SafRandomAccess|simtypes.SafSequentialScan) != 0 {
		flags |= FlagLowPriority
	}
	if prefetch {
		flags |= FlagPrefetch
	}
	return flags
}

// Submit validates slot's cookie and hands it to enc.Write, or silently
// drops (purges) it when it carries zero entries (spec.md §4.1). A cookie
// mismatch is fatal for the segment and reported as simtypes.ErrCorruption.
func (p *Pool) Submit(ctx context.Context, slot *Slot, enc Encoder, done func(*locindex.StorageLocation, error)) error {
	if !p.validCookie(slot) {
		return fmt.Errorf("%w: cookie mismatch on submit for stream %d segment %d",
			simtypes.ErrCorruption, slot.Control.StreamID, slot.Control.SequenceNumber)
	}
	if slot.Control.RawEntryCount == 0 {
		p.Purge(slot)
		if done != nil {
			done(nil, nil)
		}
		return nil
	}

	enc.Write(ctx, slot, done)
	return nil
}

// Free releases slot back to the pool. If it is cacheable and the standby
// cache is enabled it is promoted to standby instead of freed outright
// (spec.md §4.1); placement follows the eviction policy of spec.md §4.1:
// MRU head unless the slot is low-priority, in which case it goes to the
// LRU tail — unless prefetch is set, which forces head placement so a
// prefetched segment survives at least one eviction sweep.
func (p *Pool) Free(slot *Slot, prefetch bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if slot.flags&FlagCacheable == 0 || p.cfg.DisableCache {
		p.purgeLocked(slot)
		return
	}

	atHead := slot.flags&FlagLowPriority == 0 || prefetch
	p.pushStandbyLocked(slot, atHead)
}

// Purge unconditionally returns slot to the free list, notifying OnPurge
// of the cache miss (spec.md §4.1).
func (p *Pool) Purge(slot *Slot) {
	p.mu.Lock()
	p.purgeLocked(slot)
	p.mu.Unlock()
}

func (p *Pool) purgeLocked(slot *Slot) {
	if slot.state == StateStandby {
		p.unlinkStandbyLocked(slot.index)
	}
	stream, sqn := slot.Control.StreamID, slot.Control.SequenceNumber
	slot.state = StateFree
	slot.flags = 0
	slot.Control = ControlElement{}
	p.freeList = append(p.freeList, slot.index)

	if p.OnPurge != nil {
		p.OnPurge(stream, sqn)
	}
}

// FlushStandby purges every standby slot belonging to storeID, or every
// standby slot in the pool if storeID is empty (spec.md §4.1).
func (p *Pool) FlushStandby(storeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := p.standbyHead
	for idx != -1 {
		next := p.slots[idx].next
		if storeID == "" || storeID == p.storeID {
			p.purgeLocked(&p.slots[idx])
		}
		idx = next
	}
}

// DemotePrefetched walks storeID's standby entries and demotes any slot
// still carrying FlagPrefetch to the LRU tail with the flag cleared, so an
// unconsumed speculative read survives exactly one housekeeping sweep
// before becoming an ordinary eviction candidate (spec.md §9: "treat
// prefetched segments as low priority after their first cache pass").
func (p *Pool) DemotePrefetched(storeID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	var stale []int
	for idx := p.standbyHead; idx != -1; idx = p.slots[idx].next {
		s := &p.slots[idx]
		if s.flags&FlagPrefetch != 0 && (storeID == "" || storeID == p.storeID) {
			stale = append(stale, idx)
		}
	}
	for _, idx := range stale {
		s := &p.slots[idx]
		p.unlinkStandbyLocked(idx)
		s.flags &^= FlagPrefetch
		p.pushStandbyLocked(s, false)
	}
	return len(stale)
}

// Stats returns a point-in-time occupancy snapshot.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	standby := len(p.standbyIndex)
	free := len(p.freeList)
	return Stats{
		Total:   len(p.slots),
		Free:    free,
		Standby: standby,
		InUse:   len(p.slots) - free - standby,
	}
}

func (p *Pool) popFreeLocked() (int, bool) {
	n := len(p.freeList)
	if n == 0 {
		return 0, false
	}
	idx := p.freeList[n-1]
	p.freeList = p.freeList[:n-1]
	return idx, true
}

func (p *Pool) evictStandbyTailLocked() (int, bool) {
	if p.standbyTail == -1 {
		return 0, false
	}
	idx := p.standbyTail
	p.unlinkStandbyLocked(idx)
	if p.OnPurge != nil {
		s := &p.slots[idx]
		p.OnPurge(s.Control.StreamID, s.Control.SequenceNumber)
	}
	return idx, true
}

// pushStandbyLocked links slot into the standby list at the head (MRU) or
// tail (LRU), and records it in the lookup index.
func (p *Pool) pushStandbyLocked(slot *Slot, atHead bool) {
	slot.state = StateStandby
	key := standbyKey{store: p.storeID, stream: slot.Control.StreamID, sqn: slot.Control.SequenceNumber}
	p.standbyIndex[key] = slot.index

	if p.standbyHead == -1 {
		slot.prev, slot.next = -1, -1
		p.standbyHead, p.standbyTail = slot.index, slot.index
		return
	}

	if atHead {
		slot.prev = -1
		slot.next = p.standbyHead
		p.slots[p.standbyHead].prev = slot.index
		p.standbyHead = slot.index
		return
	}

	slot.next = -1
	slot.prev = p.standbyTail
	p.slots[p.standbyTail].next = slot.index
	p.standbyTail = slot.index
}

// unlinkStandbyLocked removes the slot at idx from the standby list and
// its lookup index, if present.
func (p *Pool) unlinkStandbyLocked(idx int) {
	s := &p.slots[idx]
	key := standbyKey{store: p.storeID, stream: s.Control.StreamID, sqn: s.Control.SequenceNumber}
	delete(p.standbyIndex, key)

	if s.prev != -1 {
		p.slots[s.prev].next = s.next
	} else if p.standbyHead == idx {
		p.standbyHead = s.next
	}
	if s.next != -1 {
		p.slots[s.next].prev = s.prev
	} else if p.standbyTail == idx {
		p.standbyTail = s.prev
	}
	s.prev, s.next = -1, -1
}

// IsCorruption reports whether err denotes the fatal cookie-mismatch path
// of Submit, for callers deciding whether to force their store read-only
// (spec.md §5).
func IsCorruption(err error) bool {
	return errors.Is(err, simtypes.ErrCorruption)
}
