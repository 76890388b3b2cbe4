// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package workpool implements the Worker Pool & Wait Contexts (spec.md
// §4.8, component C9): three priority-banded pools driving async encoder
// work, and the Wait completion gate that lets a caller block on an
// arbitrary number of in-flight segment operations.
package workpool

import (
	"github.com/alitto/pond/v2"
)

// Priority selects which band a task is dispatched to. Bands are FIFO and
// independent: a flood of Low (prefetch) work never starves High (hidden
// stream) work (spec.md §4.5, §4.8).
type Priority int

const (
	// PriorityHigh is reserved for hidden-stream sub-segment jobs (VPC4),
	// so a composite encoder's internal fan-out cannot be starved by
	// ordinary segment work.
	PriorityHigh Priority = iota
	PriorityNormal
	// PriorityLow is used for prefetch-driven reads.
	PriorityLow
)

// Pools owns the three priority bands backing all async encoder work.
type Pools struct {
	high, normal, low pond.Pool
}

// New creates the three pools, each capped at maxConcurrency concurrent
// tasks.
func New(maxConcurrency int) *Pools {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Pools{
		high:   pond.NewPool(maxConcurrency),
		normal: pond.NewPool(maxConcurrency),
		low:    pond.NewPool(maxConcurrency),
	}
}

// Submit enqueues task on the given priority band.
func (p *Pools) Submit(pr Priority, task func()) {
	p.bandFor(pr).Submit(task)
}

func (p *Pools) bandFor(pr Priority) pond.Pool {
	switch pr {
	case PriorityHigh:
		return p.high
	case PriorityLow:
		return p.low
	default:
		return p.normal
	}
}

// Close stops accepting new work and waits for every band to drain, in
// High/Normal/Low order so a teardown doesn't abandon hidden-stream jobs
// that ordinary segment encodes might be waiting on.
func (p *Pools) Close() {
	p.high.StopAndWait()
	p.normal.StopAndWait()
	p.low.StopAndWait()
}
