// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package segbuf

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kit-simutrace/simutrace/internal/config"
	"github.com/kit-simutrace/simutrace/internal/locindex"
	"github.com/kit-simutrace/simutrace/internal/simtypes"
)

func testCfg() config.MemMgmtConfig {
	return config.MemMgmtConfig{RetryCount: 2, RetrySleep: time.Millisecond}
}

type fakeEncoder struct {
	writeLoc *locindex.StorageLocation
	writeErr error
	readErr  error
}

func (f *fakeEncoder) Write(ctx context.Context, slot *Slot, done func(*locindex.StorageLocation, error)) {
	done(f.writeLoc, f.writeErr)
}

func (f *fakeEncoder) Read(ctx context.Context, slot *Slot, loc *locindex.StorageLocation, done func(error)) {
	done(f.readErr)
}

func TestRequestAndFreeCacheableEntersStandby(t *testing.T) {
	p, err := New("s1", 2, testCfg())
	if err != nil {
		t.Fatal(err)
	}

	slot, err := p.Request(1, 0, 0, FlagCacheable)
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Stats(); got.Free != 1 || got.InUse != 1 {
		t.Fatalf("stats after request = %+v", got)
	}

	p.Free(slot, false)
	if got := p.Stats(); got.Free != 1 || got.Standby != 1 {
		t.Fatalf("stats after free = %+v", got)
	}
}

func TestRequestExactStandbyHit(t *testing.T) {
	p, _ := New("s1", 2, testCfg())

	slot, _ := p.Request(1, 7, 0, FlagCacheable)
	p.Free(slot, false)

	hit, err := p.Request(1, 7, 0, FlagCacheable)
	if err != nil {
		t.Fatal(err)
	}
	if hit != slot {
		t.Fatalf("expected exact standby hit to return the same slot")
	}
	if got := p.Stats(); got.Standby != 0 {
		t.Fatalf("standby hit should remove the slot from standby, got %+v", got)
	}
}

func TestRequestEvictsLRUStandbyWhenPoolFull(t *testing.T) {
	p, _ := New("s1", 1, testCfg())

	a, _ := p.Request(1, 0, 0, FlagCacheable)
	p.Free(a, false)

	b, err := p.Request(1, 1, 0, FlagCacheable)
	if err != nil {
		t.Fatal(err)
	}
	if b != a {
		t.Fatalf("expected eviction to reuse the only slot")
	}
	if b.Control.SequenceNumber != 1 {
		t.Fatalf("evicted slot should be reinitialised for the new segment")
	}
}

func TestRequestExhaustionReturnsErrExhausted(t *testing.T) {
	p, _ := New("s1", 1, testCfg())

	if _, err := p.Request(1, 0, 0, 0); err != nil {
		t.Fatal(err)
	}
	// The first slot is held open and never freed, so the pool's only
	// segment stays in use and a second Request exhausts the pool.
	_, err := p.Request(2, 0, 0, 0)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("got %v, want ErrExhausted", err)
	}
}

func TestFreeWithoutCacheablePurges(t *testing.T) {
	p, _ := New("s1", 1, testCfg())
	slot, _ := p.Request(1, 0, 0, 0)
	p.Free(slot, false)

	if got := p.Stats(); got.Standby != 0 || got.Free != 1 {
		t.Fatalf("non-cacheable free should purge, got %+v", got)
	}
}

func TestLowPriorityEntersStandbyTail(t *testing.T) {
	p, _ := New("s1", 3, testCfg())

	a, _ := p.Request(1, 0, 0, FlagCacheable)
	b, _ := p.Request(1, 1, 0, FlagCacheable|FlagLowPriority)

	p.Free(a, false)  // head
	p.Free(b, false)  // low-priority, no prefetch -> tail

	if p.standbyTail != b.index {
		t.Fatalf("low-priority slot should be at the LRU tail")
	}
	if p.standbyHead != a.index {
		t.Fatalf("non-low-priority slot should be at the MRU head")
	}
}

func TestPrefetchForcesHeadEvenWhenLowPriority(t *testing.T) {
	p, _ := New("s1", 2, testCfg())

	a, _ := p.Request(1, 0, 0, FlagCacheable)
	b, _ := p.Request(1, 1, 0, FlagCacheable|FlagLowPriority|FlagPrefetch)

	p.Free(a, false)
	p.Free(b, true) // prefetch forces head despite low-priority

	if p.standbyHead != b.index {
		t.Fatalf("prefetch slot should be forced to the MRU head")
	}
}

func TestSubmitRejectsForgedCookie(t *testing.T) {
	p, _ := New("s1", 1, testCfg())
	slot, _ := p.Request(1, 0, 0, 0)
	slot.Control.Cookie ^= 0xdeadbeef

	enc := &fakeEncoder{}
	err := p.Submit(context.Background(), slot, enc, nil)
	if !IsCorruption(err) {
		t.Fatalf("got %v, want cookie-mismatch corruption error", err)
	}
}

func TestSubmitDropsZeroEntrySegment(t *testing.T) {
	p, _ := New("s1", 1, testCfg())
	slot, _ := p.Request(1, 0, 0, 0)

	enc := &fakeEncoder{}
	called := false
	err := p.Submit(context.Background(), slot, enc, func(loc *locindex.StorageLocation, err error) {
		called = true
	})
	if err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Fatal("expected completion callback even for dropped zero-entry segment")
	}
	if got := p.Stats(); got.Free != 1 {
		t.Fatalf("zero-entry segment should be purged, got %+v", got)
	}
}

func TestOpenForReadPurgesOnError(t *testing.T) {
	p, _ := New("s1", 1, testCfg())
	loc := &locindex.StorageLocation{Link: locindex.Link{Stream: 1, SequenceNumber: 3}}
	enc := &fakeEncoder{readErr: errors.New("disk read failed")}

	_, err := p.OpenForRead(context.Background(), 1, loc, simtypes.SafNone, false, enc, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Stats(); got.Free != 1 {
		t.Fatalf("failed read should purge the slot, got %+v", got)
	}
}

func TestFlushStandbyPurgesAll(t *testing.T) {
	p, _ := New("s1", 2, testCfg())
	a, _ := p.Request(1, 0, 0, FlagCacheable)
	b, _ := p.Request(1, 1, 0, FlagCacheable)
	p.Free(a, false)
	p.Free(b, false)

	p.FlushStandby("")

	if got := p.Stats(); got.Standby != 0 || got.Free != 2 {
		t.Fatalf("flush should purge every standby slot, got %+v", got)
	}
}

func TestOnPurgeNotifiesOnPurgeAndEviction(t *testing.T) {
	p, _ := New("s1", 1, testCfg())
	var notified []simtypes.SegmentSequenceNumber
	p.OnPurge = func(stream simtypes.StreamId, sqn simtypes.SegmentSequenceNumber) {
		notified = append(notified, sqn)
	}

	slot, _ := p.Request(1, 5, 0, 0)
	p.Purge(slot)

	if len(notified) != 1 || notified[0] != 5 {
		t.Fatalf("got %v, want a single notification for sqn 5", notified)
	}

	// A cacheable slot parked in standby is evicted to serve the next
	// Request of the single-slot pool, which also notifies OnPurge.
	a, _ := p.Request(1, 6, 0, FlagCacheable)
	p.Free(a, false)
	if _, err := p.Request(1, 7, 0, 0); err != nil {
		t.Fatal(err)
	}
	if len(notified) != 2 || notified[1] != 6 {
		t.Fatalf("got %v, want a second notification for evicted sqn 6", notified)
	}
}
