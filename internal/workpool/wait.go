// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package workpool

import (
	"sync"

	"github.com/kit-simutrace/simutrace/internal/simtypes"
)

// ErrorRecord identifies one segment operation that failed while a Wait
// was open (spec.md §4.8: async failures "receive error records
// {stream_id, sequence_number}").
type ErrorRecord struct {
	Stream         simtypes.StreamId
	SequenceNumber simtypes.SegmentSequenceNumber
}

// defaultErrorRingSize bounds how many ErrorRecords a Wait retains; a run
// with thousands of failures only needs enough samples to diagnose the
// first few, not an unbounded log.
const defaultErrorRingSize = 64

// Wait is a refcounted completion gate aggregating the outcome of an
// arbitrary number of asynchronous segment operations (spec.md §4.8).
// Callers Increment before enqueuing each dependent op, then Decrement on
// success or PushError on failure; Wait blocks until the count reaches
// zero.
type Wait struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending int
	errs    []ErrorRecord
	ringCap int
}

// NewWait returns an empty Wait. ringCap bounds the error ring; 0 selects
// defaultErrorRingSize.
func NewWait(ringCap int) *Wait {
	if ringCap <= 0 {
		ringCap = defaultErrorRingSize
	}
	w := &Wait{ringCap: ringCap}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Increment registers one more pending operation.
func (w *Wait) Increment() {
	w.mu.Lock()
	w.pending++
	w.mu.Unlock()
}

// Decrement marks one pending operation as successfully completed.
func (w *Wait) Decrement() {
	w.mu.Lock()
	w.pending--
	if w.pending == 0 {
		w.cond.Broadcast()
	}
	w.mu.Unlock()
}

// PushError marks one pending operation as failed, recording rec if the
// error ring has room.
func (w *Wait) PushError(rec ErrorRecord) {
	w.mu.Lock()
	if len(w.errs) < w.ringCap {
		w.errs = append(w.errs, rec)
	}
	w.pending--
	if w.pending == 0 {
		w.cond.Broadcast()
	}
	w.mu.Unlock()
}

// Wait blocks until every registered operation has completed, returning
// true iff none of them pushed an error, plus the (possibly truncated)
// error records collected along the way.
func (w *Wait) Wait() (ok bool, errs []ErrorRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.pending > 0 {
		w.cond.Wait()
	}
	return len(w.errs) == 0, append([]ErrorRecord(nil), w.errs...)
}
