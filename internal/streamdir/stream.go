// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package streamdir

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kit-simutrace/simutrace/internal/config"
	"github.com/kit-simutrace/simutrace/internal/locindex"
	"github.com/kit-simutrace/simutrace/internal/segbuf"
	"github.com/kit-simutrace/simutrace/internal/simtypes"
	"golang.org/x/time/rate"
)

var invalidSqn = simtypes.SegmentSequenceNumber(simtypes.Invalid)

// Stream is one stream's segment directory plus the operations that drive
// its state machine (spec.md §4.3, §4.4). Concurrency control follows
// spec.md §4.3: appendMu serialises only appends, openMu serialises only
// opens, segMu (R/W) protects the directory and its range trees; appendMu
// is always acquired before segMu, and openMu may overlap with readers of
// segMu but not writers.
type Stream struct {
	ID         simtypes.StreamId
	Descriptor simtypes.StreamDescriptor

	appendMu sync.Mutex
	openMu   sync.Mutex
	segMu    sync.RWMutex

	dir             directory
	lastAppendSqn   simtypes.SegmentSequenceNumber
	lastAppendIndex uint64

	pool        *segbuf.Pool
	enc         segbuf.Encoder
	cfg         config.MemMgmtConfig
	logger      *slog.Logger
	readAhead   int
	rateLimiter *rate.Limiter
}

// New constructs a Stream backed by pool and enc, with an empty directory.
func New(id simtypes.StreamId, desc simtypes.StreamDescriptor, pool *segbuf.Pool, enc segbuf.Encoder, cfg config.MemMgmtConfig, logger *slog.Logger) *Stream {
	var limiter *rate.Limiter
	if cfg.ReadAhead > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ReadAhead*4), cfg.ReadAhead)
	}
	return &Stream{
		ID:            id,
		Descriptor:    desc,
		pool:          pool,
		enc:           enc,
		cfg:           cfg,
		logger:        logger,
		lastAppendSqn: invalidSqn,
		readAhead:     cfg.ReadAhead,
		rateLimiter:   limiter,
		dir:           newDirectory(),
	}
}

// Append closes the stream's previously appended segment (if any), then
// allocates a fresh one in state Writing (spec.md §4.4 append).
func (s *Stream) Append(ctx context.Context) (simtypes.SegmentSequenceNumber, *segbuf.Slot, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	if s.lastAppendSqn != invalidSqn {
		if err := s.closeSegmentForAppend(ctx, s.lastAppendSqn); err != nil {
			return 0, nil, err
		}
	}

	// first sqn is 0: invalidSqn == u32::MAX wraps to 0 on +1.
	sqn := simtypes.SegmentSequenceNumber(uint32(s.lastAppendSqn) + 1)

	slot, err := s.pool.Request(s.ID, sqn, s.lastAppendIndex, segbuf.FlagCacheable)
	if err != nil {
		return 0, nil, err
	}

	seg := &Segment{State: StateWriting, BufferSlot: slot}
	s.segMu.Lock()
	s.dir.grow(sqn)
	s.dir.segments[sqn] = seg
	s.dir.openList[sqn] = seg
	s.segMu.Unlock()

	s.lastAppendSqn = sqn
	return sqn, slot, nil
}

// closeSegmentForAppend submits sqn's writing slot to the encoder as part
// of switching the append cursor to a new segment. Must be called with
// appendMu held.
func (s *Stream) closeSegmentForAppend(ctx context.Context, sqn simtypes.SegmentSequenceNumber) error {
	s.segMu.Lock()
	seg := s.dir.at(sqn)
	if seg == nil {
		s.segMu.Unlock()
		return fmt.Errorf("%w: no segment %d to close for append", simtypes.ErrInvalidOperation, sqn)
	}
	slot := seg.BufferSlot
	seg.State = StateEncoding
	s.segMu.Unlock()

	// Advance the running append cursor by this segment's entry count
	// (spec.md §4.4 step 3: "start_index = last_append_index") before the
	// next Append reads it for the following segment's StartIndex.
	s.lastAppendIndex += slot.Control.RawEntryCount

	return s.pool.Submit(ctx, slot, s.enc, func(loc *locindex.StorageLocation, err error) {
		s.completeWrite(sqn, loc, err)
	})
}

// completeWrite is the completion path for a writable slot (spec.md §4.4
// complete_segment, encoding branch): on success the location is
// installed and the directory transitions to Persisted; otherwise the
// segment drops back to Absent and pending waiters receive the error.
func (s *Stream) completeWrite(sqn simtypes.SegmentSequenceNumber, loc *locindex.StorageLocation, err error) {
	s.segMu.Lock()
	seg := s.dir.at(sqn)

	if err == nil && loc != nil {
		if ierr := s.dir.index.Insert(loc); ierr != nil {
			err = ierr
		}
	}

	if err == nil && loc != nil {
		seg.Location = loc
		seg.State = StatePersisted
		slot := seg.BufferSlot
		seg.BufferSlot = nil
		s.segMu.Unlock()
		s.pool.Free(slot, false)
		return
	}

	seg.State = StateAbsent
	seg.Location = nil
	slot := seg.BufferSlot
	seg.BufferSlot = nil
	waiters := seg.Waiters
	seg.Waiters = nil
	s.segMu.Unlock()

	if slot != nil {
		s.pool.Purge(slot)
	}
	notifyWaiters(waiters, err)
}

// Open resolves value under query kind to a sequence number and returns a
// slot for it, transitioning the segment's state as needed, and issuing
// best-effort read-ahead when access carries SafSequentialScan (spec.md
// §4.4 open).
func (s *Stream) Open(ctx context.Context, session simtypes.SessionId, kind simtypes.QueryIndexType, value uint64, access simtypes.AccessFlags) (simtypes.SegmentSequenceNumber, *segbuf.Slot, error) {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	sqn, err := s.resolveSqn(kind, value)
	if err != nil {
		return 0, nil, err
	}

	slot, err := s.openSegment(ctx, session, sqn, access, false)
	if err != nil {
		return 0, nil, err
	}

	if access&simtypes.SafSequentialScan != 0 && s.readAhead > 0 {
		s.issueReadAhead(ctx, sqn)
	}
	return sqn, slot, nil
}

// resolveSqn answers a query against the range trees (QCycleCount,
// QRealTime, QIndex) or directly against the dense segment vector
// (QSequenceNumber, QNextValidSequenceNumber, QPreviousValidSequenceNumber)
// per spec.md §4.2.
func (s *Stream) resolveSqn(kind simtypes.QueryIndexType, value uint64) (simtypes.SegmentSequenceNumber, error) {
	s.segMu.RLock()
	defer s.segMu.RUnlock()

	switch kind {
	case simtypes.QSequenceNumber:
		sqn := simtypes.SegmentSequenceNumber(value)
		if s.dir.at(sqn) == nil {
			return 0, simtypes.ErrNotFound
		}
		return sqn, nil

	case simtypes.QNextValidSequenceNumber:
		for i := int(value); i < len(s.dir.segments); i++ {
			if s.dir.segments[i] != nil {
				return simtypes.SegmentSequenceNumber(i), nil
			}
		}
		return 0, simtypes.ErrNotFound

	case simtypes.QPreviousValidSequenceNumber:
		start := int(value)
		if start >= len(s.dir.segments) {
			start = len(s.dir.segments) - 1
		}
		for i := start; i >= 0; i-- {
			if s.dir.segments[i] != nil {
				return simtypes.SegmentSequenceNumber(i), nil
			}
		}
		return 0, simtypes.ErrNotFound

	default:
		loc, err := s.dir.index.Lookup(kind, value)
		if err != nil {
			return 0, err
		}
		return loc.Link.SequenceNumber, nil
	}
}

// openSegment drives one segment through its read-path state transitions
// and returns the slot the caller should read from.
func (s *Stream) openSegment(ctx context.Context, session simtypes.SessionId, sqn simtypes.SegmentSequenceNumber, access simtypes.AccessFlags, prefetch bool) (*segbuf.Slot, error) {
	s.segMu.Lock()
	seg := s.dir.at(sqn)
	if seg == nil {
		s.segMu.Unlock()
		return nil, simtypes.ErrNotFound
	}

	switch seg.State {
	case StatePersisted:
		loc := seg.Location
		seg.State = StateLoading
		s.dir.openList[sqn] = seg
		s.segMu.Unlock()

		slot, err := s.pool.OpenForRead(ctx, s.ID, loc, access, prefetch, s.enc, func(readErr error) {
			s.completeLoad(sqn, readErr)
		})
		if err != nil {
			s.segMu.Lock()
			seg.State = StatePersisted
			delete(s.dir.openList, sqn)
			s.segMu.Unlock()
			return nil, err
		}

		s.segMu.Lock()
		switch seg.State {
		case StateLoading, StateMapped:
			// Still pending (async) or completed synchronously before we
			// re-acquired the lock (sync) — either way this is the slot.
			seg.BufferSlot = slot
			s.addRef(seg, session, prefetch)
			slot = seg.BufferSlot
			s.segMu.Unlock()
			return slot, nil
		default:
			// Completed synchronously with failure or cancellation before
			// we re-acquired the lock.
			loadErr := seg.lastErr
			s.segMu.Unlock()
			return nil, loadErr
		}

	case StateLoading:
		wait := make(chan error, 1)
		seg.Waiters = append(seg.Waiters, wait)
		s.segMu.Unlock()

		if err := <-wait; err != nil {
			return nil, err
		}
		s.segMu.Lock()
		s.addRef(seg, session, prefetch)
		slot := seg.BufferSlot
		s.segMu.Unlock()
		return slot, nil

	case StateMapped:
		s.addRef(seg, session, prefetch)
		seg.Cancel = false
		slot := seg.BufferSlot
		s.segMu.Unlock()
		return slot, nil

	default:
		s.segMu.Unlock()
		return nil, fmt.Errorf("%w: segment %d is not readable from state %s", simtypes.ErrInvalidOperation, sqn, seg.State)
	}
}

// addRef must be called with segMu held. A real open reusing an in-flight
// prefetch reference overwrites the session and clears the prefetch tag
// instead of incrementing the count again (spec.md §4.4).
func (s *Stream) addRef(seg *Segment, session simtypes.SessionId, prefetch bool) {
	if seg.Prefetched && !prefetch {
		seg.Prefetched = false
		seg.Cancel = false
		if seg.RefMap != nil {
			for owner, n := range seg.RefMap {
				if owner != session {
					delete(seg.RefMap, owner)
					seg.RefMap[session] = n
				}
			}
		}
		return
	}
	if prefetch {
		seg.Prefetched = true
	}
	if seg.RefMap == nil {
		seg.RefMap = make(map[simtypes.SessionId]int)
	}
	seg.RefMap[session]++
	seg.RefCount++
}

// completeLoad is the completion path for a read-only slot (spec.md §4.4
// complete_segment, loading branch).
func (s *Stream) completeLoad(sqn simtypes.SegmentSequenceNumber, err error) {
	s.segMu.Lock()
	seg := s.dir.at(sqn)
	waiters := seg.Waiters
	seg.Waiters = nil

	switch {
	case err != nil:
		// segbuf.Pool.OpenForRead already purged the slot on failure.
		seg.State = StatePersisted
		seg.BufferSlot = nil
		seg.lastErr = err
		delete(s.dir.openList, sqn)
	case seg.Cancel:
		if seg.BufferSlot != nil {
			s.pool.Purge(seg.BufferSlot)
		}
		seg.State = StatePersisted
		seg.BufferSlot = nil
		seg.Cancel = false
		seg.lastErr = fmt.Errorf("%w: segment load was cancelled", simtypes.ErrInProgress)
		delete(s.dir.openList, sqn)
		err = seg.lastErr
	default:
		seg.State = StateMapped
		seg.lastErr = nil
	}
	s.segMu.Unlock()

	notifyWaiters(waiters, err)
}

// CloseSegment decrements session's reference on sqn; on the last
// reference it submits a mapped slot for caching/eviction or cancels an
// in-flight load (spec.md §4.4 close, single segment).
func (s *Stream) CloseSegment(ctx context.Context, session simtypes.SessionId, sqn simtypes.SegmentSequenceNumber) error {
	s.segMu.Lock()
	seg := s.dir.at(sqn)
	if seg == nil {
		s.segMu.Unlock()
		return simtypes.ErrNotFound
	}
	if seg.RefMap[session] <= 0 {
		s.segMu.Unlock()
		return fmt.Errorf("%w: session %d holds no reference on segment %d", simtypes.ErrInvalidOperation, session, sqn)
	}
	seg.RefMap[session]--
	if seg.RefMap[session] == 0 {
		delete(seg.RefMap, session)
	}
	seg.RefCount--
	last := seg.RefCount == 0
	s.segMu.Unlock()

	if !last {
		return nil
	}
	return s.finishLastClose(ctx, sqn, seg)
}

// CloseSession walks the open list and releases every reference the
// session holds in one step (spec.md §4.4 close, session-wide): a session
// holding N references on a segment is subtracted all at once, not one
// CloseSegment call at a time.
func (s *Stream) CloseSession(ctx context.Context, session simtypes.SessionId) error {
	type pending struct {
		sqn simtypes.SegmentSequenceNumber
		seg *Segment
	}

	s.segMu.Lock()
	var last []pending
	for sqn, seg := range s.dir.openList {
		count, ok := seg.RefMap[session]
		if !ok {
			continue
		}
		delete(seg.RefMap, session)
		seg.RefCount -= count
		if seg.RefCount == 0 {
			last = append(last, pending{sqn: sqn, seg: seg})
		}
	}
	s.segMu.Unlock()

	var firstErr error
	for _, p := range last {
		if err := s.finishLastClose(ctx, p.sqn, p.seg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// finishLastClose performs the state transition triggered by a segment's
// last reference going away.
func (s *Stream) finishLastClose(ctx context.Context, sqn simtypes.SegmentSequenceNumber, seg *Segment) error {
	s.segMu.Lock()
	switch seg.State {
	case StateMapped:
		delete(s.dir.openList, sqn)
		slot := seg.BufferSlot
		s.segMu.Unlock()

		s.pool.Free(slot, false)
		s.segMu.Lock()
		seg.State = StatePersisted
		seg.BufferSlot = nil
		s.segMu.Unlock()
		return nil

	case StateLoading:
		seg.Cancel = true
		s.segMu.Unlock()
		return nil

	default:
		s.segMu.Unlock()
		return nil
	}
}

// issueReadAhead issues best-effort asynchronous opens for the next
// readAhead valid sequence numbers following sqn, tagged prefetch/low-
// priority; throttled by rateLimiter so a fast scanner cannot flood the
// pool with speculative reads (spec.md §4.4).
func (s *Stream) issueReadAhead(ctx context.Context, sqn simtypes.SegmentSequenceNumber) {
	next := uint64(sqn) + 1
	for i := 0; i < s.readAhead; i++ {
		if s.rateLimiter != nil && !s.rateLimiter.Allow() {
			break
		}
		target, err := s.resolveSqn(simtypes.QNextValidSequenceNumber, next)
		if err != nil {
			break
		}
		go func(target simtypes.SegmentSequenceNumber) {
			_, _ = s.openSegment(ctx, simtypes.ServerSessionId, target, simtypes.SafSequentialScan|simtypes.SafPrefetch, true)
		}(target)
		next = uint64(target) + 1
	}
}

// RestoreSegment installs a previously persisted segment's location during
// container replay (spec.md §4.6 open protocol step 2, SPEC_FULL.md §C.4),
// as if its write had just completed, without driving a live encoder round
// trip or touching appendMu (replay runs before the stream is exposed to
// any concurrent Append).
func (s *Stream) RestoreSegment(loc *locindex.StorageLocation) error {
	s.segMu.Lock()
	defer s.segMu.Unlock()

	if err := s.dir.index.Insert(loc); err != nil {
		return err
	}
	sqn := loc.Link.SequenceNumber
	s.dir.grow(sqn)
	s.dir.segments[sqn] = &Segment{State: StatePersisted, Location: loc}

	if s.lastAppendSqn == invalidSqn || uint32(sqn) >= uint32(s.lastAppendSqn) {
		s.lastAppendSqn = sqn
	}
	return nil
}

// Stats summarises a stream's directory for diagnostic logging
// (SPEC_FULL.md §C.5 store statistics on close).
type Stats struct {
	SegmentCount       int
	LastSequenceNumber simtypes.SegmentSequenceNumber
}

// Stats reports a point-in-time snapshot of the stream's directory.
func (s *Stream) Stats() Stats {
	s.segMu.RLock()
	defer s.segMu.RUnlock()

	n := 0
	for _, seg := range s.dir.segments {
		if seg != nil {
			n++
		}
	}
	return Stats{SegmentCount: n, LastSequenceNumber: s.lastAppendSqn}
}

func notifyWaiters(waiters []chan error, err error) {
	for _, w := range waiters {
		w <- err
		close(w)
	}
}
