// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package locindex

import (
	"fmt"
	"sync"

	"github.com/google/btree"
	"github.com/kit-simutrace/simutrace/internal/simtypes"
)

// rangeEntry is the btree payload: the range for one QueryIndexType kind of
// one segment, plus a back-pointer to the owning StorageLocation so Lookup
// can hand back the full descriptor.
type rangeEntry struct {
	r   Range
	loc *StorageLocation
}

func lessEntry(a, b *rangeEntry) bool {
	return a.r.Start < b.r.Start
}

// Index is the ordered-range index for a single stream: one btree per
// QueryIndexType (cycle count, real time, entry index), each storing the
// ranges contributed by every persisted segment of that stream.
//
// QSequenceNumber, QNextValidSequenceNumber and QPreviousValidSequenceNumber
// are resolved directly against the stream's dense segment vector (internal/
// streamdir) and have no presence here.
type Index struct {
	mu    sync.RWMutex
	trees [simtypes.QMax + 1]*btree.BTreeG[*rangeEntry]
}

// New returns an empty per-stream Index.
func New() *Index {
	idx := &Index{}
	for k := range idx.trees {
		idx.trees[k] = btree.NewG(32, lessEntry)
	}
	return idx
}

// Insert adds loc's ranges to every ordered kind, validating that each
// kind's range starts no earlier than the previous highest range ends
// (spec.md §4.2: ranges within a stream are monotonically increasing and
// non-overlapping, except a zero-length range may repeat the prior range's
// endpoint for a single-entry segment).
func (idx *Index) Insert(loc *StorageLocation) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for k := range idx.trees {
		r := loc.Ranges[k]
		if r.Start > r.End {
			return fmt.Errorf("%w: storage location %+v has inverted range [%d,%d] for index kind %d",
				simtypes.ErrArgument, loc.Link, r.Start, r.End, k)
		}
		if max, ok := idx.trees[k].Max(); ok {
			if r.Start < max.r.End || (r.Start == max.r.End && r.Start != r.End) {
				return fmt.Errorf("%w: storage location %+v range [%d,%d] is not monotonic after [%d,%d] for index kind %d",
					simtypes.ErrCorruption, loc.Link, r.Start, r.End, max.r.Start, max.r.End, k)
			}
		}
		idx.trees[k].ReplaceOrInsert(&rangeEntry{r: r, loc: loc})
	}
	return nil
}

// Lookup finds the StorageLocation whose range of the given kind contains
// v: the smallest range with start >= v; if that range's start == v it is
// returned directly, otherwise the range immediately preceding it is
// returned provided v <= its end. Returns simtypes.ErrNotFound otherwise.
func (idx *Index) Lookup(kind simtypes.QueryIndexType, v uint64) (*StorageLocation, error) {
	if kind < 0 || int(kind) >= len(idx.trees) {
		return nil, fmt.Errorf("%w: query index kind %d out of range", simtypes.ErrArgument, kind)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	tree := idx.trees[kind]

	var candidate *rangeEntry
	tree.AscendGreaterOrEqual(&rangeEntry{r: Range{Start: v}}, func(e *rangeEntry) bool {
		candidate = e
		return false
	})

	if candidate != nil && candidate.r.Start == v {
		return candidate.loc, nil
	}

	// No exact match: the preceding range is the greatest range with
	// start < v, found by descending from v and skipping anything
	// (there should be none once candidate.Start != v) at or above v.
	var preceding *rangeEntry
	tree.DescendLessOrEqual(&rangeEntry{r: Range{Start: v}}, func(e *rangeEntry) bool {
		if e.r.Start >= v {
			return true
		}
		preceding = e
		return false
	})

	if preceding != nil && v <= preceding.r.End {
		return preceding.loc, nil
	}
	return nil, simtypes.ErrNotFound
}
