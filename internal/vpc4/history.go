// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package vpc4 implements the VPC4 Memory Encoder (spec.md §4.7, component
// C8): a value-predictor ensemble that turns a stream of fixed-size memory
// access records into a handful of small, highly compressible hidden
// sub-streams instead of one opaque blob.
package vpc4

// word is the payload type an ensemble predicts: instruction pointers,
// addresses, data values and cycle counts are all carried as unsigned
// machine words, either 32 or 64 bits wide depending on the traced
// architecture.
type word interface {
	~uint32 | ~uint64
}

// rollingHistory is a per-key rolling fold-XOR hash register, grounded on
// KeyedFcmHistory (VPC4/FiniteContextMethodHistory.h). It holds `order`
// folded hash values per key — the most recent at slot 0 — which FCM/DFCM
// predictors use as the context selecting a row in their value table.
//
// keyBits == 0 degrades the register to a single shared row (the "FcmHistory"
// alias in the original): every field that isn't keyed by ip (ip itself,
// cycle) uses this form.
type rollingHistory[T word] struct {
	keyBits  uint
	hashBits uint
	order    int
	index    uint32
	table    [][]uint32 // [rows][order]
}

func newRollingHistory[T word](keyBits, hashBits uint, order int) *rollingHistory[T] {
	rows := 1
	if keyBits > 0 {
		rows = 1 << keyBits
	}
	table := make([][]uint32, rows)
	for i := range table {
		table[i] = make([]uint32, order)
	}
	return &rollingHistory[T]{keyBits: keyBits, hashBits: hashBits, order: order, table: table}
}

// setKey selects which row subsequent get/update calls operate on.
func (h *rollingHistory[T]) setKey(key uint64) {
	if h.keyBits == 0 {
		h.index = 0
		return
	}
	mask := uint32(1)<<h.keyBits - 1
	h.index = uint32(key) & mask
}

// setRaw bypasses hashing and writes value directly into the given
// order-slot. KeyedLastNValuePredictor uses this to smuggle a plain table
// index through a history that is never folded (VPC4/KeyedLastNValuePredictor.h).
func (h *rollingHistory[T]) setRaw(order int, value uint32) {
	h.table[h.index][order-1] = value
}

func (h *rollingHistory[T]) get(order int) uint32 {
	return h.table[h.index][order-1]
}

// fold replicates the original's "fold & mask hash using XOR": the value is
// repeatedly XORed with itself shifted right by hashBits until it drains to
// zero, then masked to hashBits bits. Only the low hashBits result bits ever
// escape the mask, so truncating the accumulator to 32 bits along the way
// changes nothing for the hashBits <= 19 this package uses.
func (h *rollingHistory[T]) fold(value T) uint32 {
	if h.hashBits == 0 {
		return 0
	}
	mask := uint32(1)<<h.hashBits - 1
	var hash uint32
	v := uint64(value)
	for v > 0 {
		hash ^= uint32(v)
		v >>= h.hashBits
	}
	return hash & mask
}

// update folds value and shifts it into the current row, newest at slot 0.
func (h *rollingHistory[T]) update(value T) {
	hash := h.fold(value)
	row := h.table[h.index]
	for i := h.order - 1; i > 0; i-- {
		row[i] = (row[i-1] << 1) ^ hash
	}
	row[0] = hash
}
