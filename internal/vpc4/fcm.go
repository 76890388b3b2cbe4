// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package vpc4

// predictor is the narrow interface a predictionContext needs to record the
// winning member and bump its usage count once the whole ensemble has voted
// (VPC4/Predictor.h, VPC4/CompoundPredictor.h::_evaluateContext).
type predictor interface {
	incrementUsage(id uint8)
}

// predictionContext is threaded through every member of an ensemble for one
// field of one record. Each member may overwrite it with itself if its
// usage count is at least as high as the best one seen so far — so later
// members win ties, same as the original's `>=` comparison.
type predictionContext struct {
	usageCount  uint64
	predictor   predictor
	predictorID uint8
}

func newPredictionContext() *predictionContext {
	return &predictionContext{}
}

func (c *predictionContext) isPredicted() bool { return c.predictor != nil }

// fcmPredictor is the finite context method predictor: for a hashed context
// (the row rollingHistory selects) it remembers the last lineLength distinct
// values seen and, on the next record, predicts any of them that still
// matches (VPC4/FiniteContextMethodPredictor.h).
type fcmPredictor[T word] struct {
	idBase     uint8
	tableBits  uint
	order      int
	lineLength int
	usage      []uint64
	values     [][]T // [1<<tableBits][lineLength]
	history    *rollingHistory[T]
}

func newFcmPredictor[T word](idBase uint8, tableBits uint, order, lineLength int, history *rollingHistory[T]) *fcmPredictor[T] {
	rows := 1 << tableBits
	values := make([][]T, rows)
	for i := range values {
		line := make([]T, lineLength)
		// Never initialize to all zeros: that would make the predictor
		// confidently (and wrongly) predict zero for every unseen context
		// the first time it is consulted.
		for j := range line {
			line[j] = T(j)
		}
		values[i] = line
	}
	return &fcmPredictor[T]{
		idBase:     idBase,
		tableBits:  tableBits,
		order:      order,
		lineLength: lineLength,
		usage:      make([]uint64, lineLength),
		values:     values,
		history:    history,
	}
}

func (p *fcmPredictor[T]) index() uint32 {
	mask := uint32(1)<<p.tableBits - 1
	return p.history.get(p.order) & mask
}

// predict checks value against every candidate in the current context's
// row, preferring (on a tie) the member with the highest-index, most
// recently incremented usage count — then unconditionally refreshes the
// row, win or not.
func (p *fcmPredictor[T]) predict(ctx *predictionContext, value T) {
	idx := p.index()
	row := p.values[idx]
	for i := 0; i < p.lineLength; i++ {
		if p.usage[i] >= ctx.usageCount && row[i] == value {
			ctx.predictor = p
			ctx.predictorID = uint8(i) + p.idBase
			ctx.usageCount = p.usage[i]
		}
	}
	p.refresh(idx, value)
}

func (p *fcmPredictor[T]) refresh(idx uint32, value T) {
	row := p.values[idx]
	// Only insert if the most recent entry actually changed, avoiding a
	// redundant shift for a value the predictor already leads with.
	if row[0] != value {
		for i := p.lineLength - 1; i > 0; i-- {
			row[i] = row[i-1]
		}
		row[0] = value
	}
}

// update refreshes the table without running a prediction check, used on
// the decode path where the value is already known.
func (p *fcmPredictor[T]) update(value T) {
	p.refresh(p.index(), value)
}

// value returns one of the current context's lineLength candidates by id.
func (p *fcmPredictor[T]) value(id uint8) T {
	return p.values[p.index()][id-p.idBase]
}

func (p *fcmPredictor[T]) incrementUsage(id uint8) {
	p.usage[id-p.idBase]++
}

// lastNPredictor is the degenerate FCM used as a keyed last-N-value
// predictor (VPC4/KeyedLastNValuePredictor.h): an order-1 FCM whose history
// is never folded, only ever set directly to the current key via setRaw, so
// the key itself becomes the value table's row index rather than a hashed
// context.
type lastNPredictor[T word] struct {
	*fcmPredictor[T]
	dummy *rollingHistory[T]
}

func newLastNPredictor[T word](idBase uint8, tableBits uint, lineLength int) *lastNPredictor[T] {
	dummy := newRollingHistory[T](0, 0, 1)
	return &lastNPredictor[T]{
		fcmPredictor: newFcmPredictor[T](idBase, tableBits, 1, lineLength, dummy),
		dummy:        dummy,
	}
}

func (p *lastNPredictor[T]) setKey(key uint64) {
	p.dummy.setRaw(1, uint32(key))
}

func (p *lastNPredictor[T]) mostRecentValue() T {
	return p.value(p.idBase)
}
