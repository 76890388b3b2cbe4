// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package locindex

import (
	"errors"
	"testing"

	"github.com/kit-simutrace/simutrace/internal/simtypes"
)

func loc(seq simtypes.SegmentSequenceNumber, start, end uint64) *StorageLocation {
	l := &StorageLocation{Link: Link{Stream: 1, SequenceNumber: seq}}
	l.Ranges[simtypes.QIndex] = Range{Start: start, End: end}
	return l
}

func TestInsertAndLookupExactStart(t *testing.T) {
	idx := New()
	a := loc(0, 0, 99)
	b := loc(1, 100, 199)
	if err := idx.Insert(a); err != nil {
		t.Fatal(err)
	}
	if err := idx.Insert(b); err != nil {
		t.Fatal(err)
	}

	got, err := idx.Lookup(simtypes.QIndex, 100)
	if err != nil {
		t.Fatal(err)
	}
	if got.Link.SequenceNumber != 1 {
		t.Errorf("got segment %d, want 1", got.Link.SequenceNumber)
	}
}

func TestLookupWithinPrecedingRange(t *testing.T) {
	idx := New()
	a := loc(0, 0, 99)
	b := loc(1, 100, 199)
	_ = idx.Insert(a)
	_ = idx.Insert(b)

	got, err := idx.Lookup(simtypes.QIndex, 50)
	if err != nil {
		t.Fatal(err)
	}
	if got.Link.SequenceNumber != 0 {
		t.Errorf("got segment %d, want 0", got.Link.SequenceNumber)
	}
}

func TestLookupBeyondLastRangeNotFound(t *testing.T) {
	idx := New()
	_ = idx.Insert(loc(0, 0, 99))

	_, err := idx.Lookup(simtypes.QIndex, 200)
	if !errors.Is(err, simtypes.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestLookupBeforeFirstRangeNotFound(t *testing.T) {
	idx := New()
	_ = idx.Insert(loc(0, 100, 199))

	_, err := idx.Lookup(simtypes.QIndex, 50)
	if !errors.Is(err, simtypes.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestInsertRejectsOverlap(t *testing.T) {
	idx := New()
	_ = idx.Insert(loc(0, 0, 99))

	err := idx.Insert(loc(1, 50, 150))
	if !errors.Is(err, simtypes.ErrCorruption) {
		t.Fatalf("got %v, want ErrCorruption", err)
	}
}

func TestInsertAllowsZeroLengthRepeatOfPriorEnd(t *testing.T) {
	idx := New()
	_ = idx.Insert(loc(0, 0, 99))

	// A single-entry segment may repeat the previous range's end exactly.
	if err := idx.Insert(loc(1, 99, 99)); err != nil {
		t.Fatalf("unexpected error for zero-length repeat: %v", err)
	}
}

func TestInsertRejectsInvertedRange(t *testing.T) {
	idx := New()
	err := idx.Insert(loc(0, 100, 50))
	if !errors.Is(err, simtypes.ErrArgument) {
		t.Fatalf("got %v, want ErrArgument", err)
	}
}

func TestLookupRejectsUnknownKind(t *testing.T) {
	idx := New()
	_, err := idx.Lookup(simtypes.QueryIndexType(999), 0)
	if !errors.Is(err, simtypes.ErrArgument) {
		t.Fatalf("got %v, want ErrArgument", err)
	}
}
