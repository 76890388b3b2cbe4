// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package wire defines the request/response message contract the core
// consumes from a transport layer (spec.md §6.2): one struct pair per
// message in the `SessionCreate, SessionClose, SessionSetConfig,
// StoreCreate, StoreOpen, StoreClose, StreamBufferRegister,
// StreamBufferEnumerate, StreamBufferQuery, StreamRegister,
// StreamEnumerate, StreamQuery, StreamAppend, StreamCloseAndOpen,
// StreamClose` enum. The RPC codes, framing, and OS-handle transfer for
// shared-memory regions belong to the transport (out of scope here, spec.md
// §1); this package only fixes the Go shape of each request and its reply
// so a transport implementation and the core agree on what crosses the
// wire.
package wire

import (
	"errors"

	"github.com/kit-simutrace/simutrace/internal/simtypes"
)

// Status is the outcome code every response carries, modelled on the
// sentinel errors of simtypes so a transport can map one to the other
// without the core importing any wire-specific error type.
type Status int

const (
	StatusOK Status = iota
	StatusNotFound
	StatusInProgress
	StatusInvalidOperation
	StatusArgument
	StatusOutOfBounds
	StatusConfiguration
	StatusNotSupported
	StatusCorruption
)

// StatusFromError maps one of simtypes' sentinel errors to its wire status,
// defaulting to StatusInvalidOperation for anything unrecognised (the core
// never hands a transport an error that doesn't wrap one of these).
func StatusFromError(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, simtypes.ErrNotFound):
		return StatusNotFound
	case errors.Is(err, simtypes.ErrInProgress):
		return StatusInProgress
	case errors.Is(err, simtypes.ErrArgument):
		return StatusArgument
	case errors.Is(err, simtypes.ErrOutOfBounds):
		return StatusOutOfBounds
	case errors.Is(err, simtypes.ErrConfiguration):
		return StatusConfiguration
	case errors.Is(err, simtypes.ErrNotSupported):
		return StatusNotSupported
	case errors.Is(err, simtypes.ErrCorruption):
		return StatusCorruption
	default:
		return StatusInvalidOperation
	}
}

// SessionCreateRequest opens a new client session against the server.
type SessionCreateRequest struct {
	ClientVersion string
}

// SessionCreateResponse returns the session id the client must present on
// every subsequent request.
type SessionCreateResponse struct {
	Status  Status
	Session simtypes.SessionId
}

// SessionCloseRequest releases a session and every store/buffer reference
// it still holds (spec.md §3: the last release triggers teardown).
type SessionCloseRequest struct {
	Session simtypes.SessionId
}

// SessionCloseResponse carries no payload beyond the status.
type SessionCloseResponse struct {
	Status Status
}

// SessionSetConfigRequest overrides a subset of server.* configuration
// keys for the lifetime of session (spec.md §6.5); transports that don't
// expose live reconfiguration may simply reject this with
// StatusNotSupported.
type SessionSetConfigRequest struct {
	Session simtypes.SessionId
	Keys    map[string]string
}

// SessionSetConfigResponse carries no payload beyond the status.
type SessionSetConfigResponse struct {
	Status Status
}

// StoreCreateRequest creates a new store, overwriting any file already at
// locator (spec.md §3: "created (overwrites allowed)").
type StoreCreateRequest struct {
	Session simtypes.SessionId
	Locator string
}

// StoreCreateResponse identifies the created store for subsequent requests.
type StoreCreateResponse struct {
	Status Status
	Store  simtypes.StoreId
}

// StoreOpenRequest opens an existing store read-only (spec.md §3, §9:
// extending an existing store is not supported in this version).
type StoreOpenRequest struct {
	Session simtypes.SessionId
	Locator string
}

// StoreOpenResponse identifies the opened store and echoes every stream
// rebuilt from replay, so a client can enumerate without a second round
// trip.
type StoreOpenResponse struct {
	Status  Status
	Store   simtypes.StoreId
	Streams []StreamQueryResponse
}

// StoreCloseRequest releases this session's reference on store; the last
// release tears the store down (spec.md §3).
type StoreCloseRequest struct {
	Session simtypes.SessionId
	Store   simtypes.StoreId
}

// StoreCloseResponse carries no payload beyond the status.
type StoreCloseResponse struct {
	Status Status
}

// StreamBufferRegisterRequest requests a shared-memory segment pool of the
// given size be allocated for session (spec.md §4.1, §6.1).
type StreamBufferRegisterRequest struct {
	Session      simtypes.SessionId
	SegmentSize  uint64
	SegmentCount int
}

// StreamBufferRegisterResponse returns the buffer id a transport binds to
// an OS shared-memory handle out of band.
type StreamBufferRegisterResponse struct {
	Status Status
	Buffer simtypes.BufferId
}

// StreamBufferEnumerateRequest lists the buffers registered for session.
type StreamBufferEnumerateRequest struct {
	Session simtypes.SessionId
}

// StreamBufferEnumerateResponse lists the matching buffer ids.
type StreamBufferEnumerateResponse struct {
	Status  Status
	Buffers []simtypes.BufferId
}

// StreamBufferQueryRequest asks for a buffer's occupancy snapshot.
type StreamBufferQueryRequest struct {
	Buffer simtypes.BufferId
}

// StreamBufferQueryResponse reports free/standby/in-use slot counts
// (mirrors segbuf.Stats).
type StreamBufferQueryResponse struct {
	Status  Status
	Total   int
	Free    int
	Standby int
	InUse   int
}

// StreamRegisterRequest declares a new stream in store (spec.md §3, §4.6
// zero frame).
type StreamRegisterRequest struct {
	Store      simtypes.StoreId
	Descriptor simtypes.StreamDescriptor
}

// StreamRegisterResponse returns the assigned stream id.
type StreamRegisterResponse struct {
	Status Status
	Stream simtypes.StreamId
}

// StreamEnumerateRequest lists every stream currently registered in store.
type StreamEnumerateRequest struct {
	Store simtypes.StoreId
}

// StreamEnumerateResponse lists the matching stream ids.
type StreamEnumerateResponse struct {
	Status  Status
	Streams []simtypes.StreamId
}

// StreamQueryRequest asks for a stream's descriptor and point-in-time
// statistics.
type StreamQueryRequest struct {
	Stream simtypes.StreamId
}

// StreamQueryResponse reports a stream's descriptor plus the segment-count /
// last-sequence-number / compressed-size summary spec.md's
// StreamQueryInformation.stats names.
type StreamQueryResponse struct {
	Status             Status
	Stream             simtypes.StreamId
	Descriptor         simtypes.StreamDescriptor
	SegmentCount       int
	LastSequenceNumber simtypes.SegmentSequenceNumber
	CompressedSize     uint64
}

// StreamAppendRequest asks for (or closes) a write segment. A request with
// Sqn == simtypes.Invalid requests a fresh segment (equivalent to
// streamdir.Stream.Append); one naming a valid Sqn closes that segment
// (equivalent to closeSegmentForAppend, issued implicitly by the next
// Append in the in-process API but explicit on the wire since a transport
// round trip can't rely on call ordering alone).
type StreamAppendRequest struct {
	Session simtypes.SessionId
	Stream  simtypes.StreamId
	Sqn     simtypes.SegmentSequenceNumber
}

// StreamAppendResponse returns the segment handed to the client for
// writing, or just the status when the request was a close.
type StreamAppendResponse struct {
	Status  Status
	Sqn     simtypes.SegmentSequenceNumber
	Segment simtypes.SegmentId
}

// StreamCloseAndOpenRequest atomically closes a previously opened read
// segment and opens the next one resolved by kind/value, avoiding a round
// trip per segment during a sequential scan (spec.md §4.4).
type StreamCloseAndOpenRequest struct {
	Session simtypes.SessionId
	Stream  simtypes.StreamId
	Close   simtypes.SegmentSequenceNumber
	Kind    simtypes.QueryIndexType
	Value   uint64
	Access  simtypes.AccessFlags
}

// StreamCloseAndOpenResponse returns the newly opened segment.
type StreamCloseAndOpenResponse struct {
	Status  Status
	Sqn     simtypes.SegmentSequenceNumber
	Segment simtypes.SegmentId
}

// StreamCloseRequest releases session's reference on one open segment of
// stream (spec.md §4.4).
type StreamCloseRequest struct {
	Session simtypes.SessionId
	Stream  simtypes.StreamId
	Sqn     simtypes.SegmentSequenceNumber
}

// StreamCloseResponse carries no payload beyond the status.
type StreamCloseResponse struct {
	Status Status
}
