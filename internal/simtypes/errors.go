// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package simtypes

import "errors"

// Error kinds surfaced by the core, per spec.md §7. Components wrap one of
// these sentinels with fmt.Errorf("...: %w", ErrX) so callers can use
// errors.Is without caring about the originating package.
var (
	// ErrNotFound covers an unknown id, or a queried index with no match.
	ErrNotFound = errors.New("simutrace: not found")

	// ErrInProgress means the queried sequence is still being
	// encoded/loaded; retryable.
	ErrInProgress = errors.New("simutrace: operation in progress")

	// ErrInvalidOperation covers append-after-open, close of a foreign
	// handle, double submit, write through a read-only handle.
	ErrInvalidOperation = errors.New("simutrace: invalid operation")

	// ErrArgument covers a malformed descriptor, an oversized name, or an
	// unknown predictor id encountered while decoding.
	ErrArgument = errors.New("simutrace: invalid argument")

	// ErrOutOfBounds covers indices or offsets outside their valid range.
	ErrOutOfBounds = errors.New("simutrace: out of bounds")

	// ErrConfiguration covers a pool too small to hold a segment, or an
	// inaccessible store path.
	ErrConfiguration = errors.New("simutrace: configuration error")

	// ErrNotSupported covers an unknown store format major version, a
	// byte-swapped stream, or a missing encoder for a type GUID.
	ErrNotSupported = errors.New("simutrace: not supported")

	// ErrCorruption covers a cookie mismatch, a checksum mismatch, a
	// monotonicity violation, or invalid cycle ordering in a
	// temporally-ordered stream.
	ErrCorruption = errors.New("simutrace: corruption detected")
)
