// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package vpc4

// Predictor id spaces (spec.md §4.7's ensemble table). Each ensemble packs
// its id into a 4-bit nibble (half-byte encoding, always on — see
// nibbleWriter.push), so every NotPredictedId below must fit in 0..15.
const (
	ipNotPredicted    uint8 = 4
	valueNotPredicted uint8 = 10
	cycleNotPredicted uint8 = 4
)

// ipEnsemble predicts a record's instruction pointer: a 1st-order FCM
// (2^17 buckets) and a 3rd-order FCM (2^19 buckets) sharing a single
// unkeyed 3rd-order history (VPC4/IpPredictor.h).
type ipEnsemble[T word] struct {
	history *rollingHistory[T]
	first   *fcmPredictor[T]
	third   *fcmPredictor[T]
}

func newIPEnsemble[T word]() *ipEnsemble[T] {
	h := newRollingHistory[T](0, 17, 3)
	return &ipEnsemble[T]{
		history: h,
		first:   newFcmPredictor[T](0, 17, 1, 2, h),
		third:   newFcmPredictor[T](2, 19, 3, 2, h),
	}
}

// encode returns the winning predictor id (or ipNotPredicted) and, only in
// the unpredicted case, the literal ip to carry in the data sub-stream.
func (e *ipEnsemble[T]) encode(ip T) (id uint8, literal T) {
	ctx := newPredictionContext()

	e.first.predict(ctx, ip)
	e.third.predict(ctx, ip)

	// History updates happen once, after every member has voted, so the
	// encode and decode paths observe an identical context.
	e.history.update(ip)

	if ctx.isPredicted() {
		ctx.predictor.incrementUsage(ctx.predictorID)
		return ctx.predictorID, 0
	}
	return ipNotPredicted, ip
}

func (e *ipEnsemble[T]) decode(id uint8, literal T) T {
	var result T
	switch {
	case id < 2:
		result = e.first.value(id)
	case id < 4:
		result = e.third.value(id)
	default:
		result = literal
	}

	e.first.update(result)
	e.third.update(result)
	e.history.update(result)
	return result
}

// valueEnsemble predicts an address or data field, keyed by the record's
// ip (VPC4/ValuePredictor.h). It combines:
//   - a 1st- and a 3rd-order DFCM predicting the *stride* relative to the
//     last-N predictor's most recent value, sharing a 3rd-order history
//     keyed by ip (ids 0-1, 2-3);
//   - a 4-slot last-N value predictor keyed directly by ip, i.e. ip itself
//     (masked) selects the table row rather than a hashed context
//     (ids 4-7);
//   - a private 1st-order FCM on the raw value, keyed by ip (ids 8-9).
type valueEnsemble[T word] struct {
	sharedDfcmHistory *rollingHistory[T]
	firstDfcm         *fcmPredictor[T]
	thirdDfcm         *fcmPredictor[T]
	privateFcmHistory *rollingHistory[T]
	firstFcm          *fcmPredictor[T]
	lastN             *lastNPredictor[T]
}

func newValueEnsemble[T word]() *valueEnsemble[T] {
	shared := newRollingHistory[T](16, 17, 3)
	private := newRollingHistory[T](16, 19, 1)
	return &valueEnsemble[T]{
		sharedDfcmHistory: shared,
		firstDfcm:         newFcmPredictor[T](0, 17, 1, 2, shared),
		thirdDfcm:         newFcmPredictor[T](2, 19, 3, 2, shared),
		privateFcmHistory: private,
		firstFcm:          newFcmPredictor[T](8, 19, 1, 2, private),
		lastN:             newLastNPredictor[T](4, 16, 4),
	}
}

func (e *valueEnsemble[T]) setKey(ip uint64) {
	e.sharedDfcmHistory.setKey(ip)
	e.privateFcmHistory.setKey(ip)
	e.lastN.setKey(ip)
}

func (e *valueEnsemble[T]) encode(value T, ip uint64) (id uint8, literal T) {
	e.setKey(ip)
	ctx := newPredictionContext()

	stride := value - e.lastN.mostRecentValue()

	e.firstDfcm.predict(ctx, stride)
	e.thirdDfcm.predict(ctx, stride)
	e.lastN.predict(ctx, value)
	e.firstFcm.predict(ctx, value)

	e.sharedDfcmHistory.update(stride)
	e.privateFcmHistory.update(value)

	if ctx.isPredicted() {
		ctx.predictor.incrementUsage(ctx.predictorID)
		return ctx.predictorID, 0
	}
	return valueNotPredicted, value
}

func (e *valueEnsemble[T]) decode(id uint8, ip uint64, literal T) T {
	e.setKey(ip)

	var result T
	switch {
	case id < 2:
		result = e.firstDfcm.value(id) + e.lastN.mostRecentValue()
	case id < 4:
		result = e.thirdDfcm.value(id) + e.lastN.mostRecentValue()
	case id < 8:
		result = e.lastN.value(id)
	case id < 10:
		result = e.firstFcm.value(id)
	default:
		result = literal
	}

	stride := result - e.lastN.mostRecentValue()
	e.firstDfcm.update(stride)
	e.thirdDfcm.update(stride)
	e.lastN.update(result)
	e.firstFcm.update(result)

	e.sharedDfcmHistory.update(stride)
	e.privateFcmHistory.update(result)
	return result
}

// cycleEnsemble predicts a record's cycle count from a running delta: a
// 1st- and 3rd-order FCM over (stride + ip) where stride is the cycle delta
// against the previously emitted cycle, sharing a single unkeyed history
// (VPC4/CyclePredictor.h) — note ip folds directly into the predicted
// value here rather than acting as a table key, unlike valueEnsemble.
//
// Cycle counts are always 48-bit values (simtypes.CycleCount) regardless of
// whether the record layout is 32- or 64-bit, so unlike ipEnsemble and
// valueEnsemble this ensemble is not parameterised over the record's word
// type T: instantiating it at T would truncate the cycle (and its literal
// fallback) to 32 bits on 32-bit layouts.
type cycleEnsemble struct {
	history   *rollingHistory[uint64]
	first     *fcmPredictor[uint64]
	third     *fcmPredictor[uint64]
	reference uint64
}

func newCycleEnsemble(reference uint64) *cycleEnsemble {
	h := newRollingHistory[uint64](0, 17, 3)
	return &cycleEnsemble{
		history:   h,
		first:     newFcmPredictor[uint64](0, 17, 1, 2, h),
		third:     newFcmPredictor[uint64](2, 19, 3, 2, h),
		reference: reference,
	}
}

// encode returns the winning id (or cycleNotPredicted) plus, when
// unpredicted, the stride literal (not the raw cycle) to carry in the data
// sub-stream — matching the original exactly.
func (e *cycleEnsemble) encode(cycle, ip uint64) (id uint8, literal uint64) {
	ctx := newPredictionContext()

	stride := cycle - e.reference
	value := stride + ip
	e.reference = cycle

	e.first.predict(ctx, value)
	e.third.predict(ctx, value)
	e.history.update(value)

	if ctx.isPredicted() {
		ctx.predictor.incrementUsage(ctx.predictorID)
		return ctx.predictorID, 0
	}
	return cycleNotPredicted, stride
}

func (e *cycleEnsemble) decode(id uint8, ip, literal uint64) uint64 {
	var stride, update uint64
	if id < 4 {
		if id < 2 {
			update = e.first.value(id)
		} else {
			update = e.third.value(id)
		}
		stride = update - ip
	} else {
		stride = literal
		update = stride + ip
	}

	e.first.update(update)
	e.third.update(update)
	e.history.update(update)

	e.reference += stride
	return e.reference
}
