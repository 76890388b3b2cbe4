// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package encoder implements the Encoder Framework (spec.md §4.5,
// component C5): the factory map from type GUID to encoder, and the
// default pass-through (generic compression) encoder every stream gets
// unless a more specific one is registered.
package encoder

import (
	"context"
	"fmt"

	"github.com/kit-simutrace/simutrace/internal/locindex"
	"github.com/kit-simutrace/simutrace/internal/segbuf"
	"github.com/kit-simutrace/simutrace/internal/simtypes"
	"github.com/kit-simutrace/simutrace/internal/workpool"
)

// StreamInfo is contributed to by Encoder.QueryStreamInfo. Neither built-in
// encoder adds to AggregatedCompressedSize: VPC4's hidden sections are
// written inside each segment's own frame and are already counted in that
// segment's StorageLocation.CompressedSize.
type StreamInfo struct {
	AggregatedCompressedSize uint64
}

// Encoder is implemented by every codec bound to a stream. It extends
// segbuf.Encoder (the narrow Read/Write shape the buffer pool drives)
// with the lifecycle hooks spec.md §4.5 requires of the full framework.
type Encoder interface {
	segbuf.Encoder
	// Close is called once at store teardown; wait lets the caller block
	// until every job this encoder dispatched to the worker pool settles.
	Close(wait *workpool.Wait)
	// NotifySegmentCacheClosed is the standby-eviction hook (spec.md
	// §4.1's purge notifying "cache-miss for the sequence number").
	NotifySegmentCacheClosed(sqn simtypes.SegmentSequenceNumber)
	QueryStreamInfo(info *StreamInfo)
}

// FrameStore is the narrow interface into the on-disk container
// (internal/container) that an encoder uses to turn compressed bytes into
// a persisted frame and back. Keeping this interface here (rather than
// importing internal/container directly) lets container depend on
// locindex/simtypes only, with no reverse dependency on encoder.
type FrameStore interface {
	WriteFrame(ctx context.Context, req FrameWriteRequest) (*locindex.StorageLocation, error)
	ReadFrame(ctx context.Context, loc *locindex.StorageLocation) (FrameData, error)
}

// FrameWriteRequest carries everything a FrameStore needs to append one
// frame (spec.md §4.6/§4.7).
type FrameWriteRequest struct {
	Stream           simtypes.StreamId
	SequenceNumber   simtypes.SegmentSequenceNumber
	StartIndex       uint64
	RawEntryCount    uint64
	StartCycle       simtypes.CycleCount
	EndCycle         simtypes.CycleCount
	StartTime        simtypes.Timestamp
	EndTime          simtypes.Timestamp
	Compressed       []byte
	UncompressedSize int
	// AssociatedStreams lists hidden sub-stream ids for a composite
	// encoder's backbone frame (spec.md §4.6 AssociatedStreams attribute).
	AssociatedStreams []simtypes.StreamId
	// HiddenSections carries a composite encoder's per-line compressed
	// payloads (spec.md §4.7: ids, data and cycle "lines"), attached to
	// the same frame as the backbone record it was derived from rather
	// than to an independent segment lifecycle of their own.
	HiddenSections []HiddenSection
}

// HiddenSection is one compressed payload a composite encoder attaches
// alongside its backbone frame.
type HiddenSection struct {
	Compressed       []byte
	UncompressedSize int
}

// FrameData is what ReadFrame hands back: the compressed payload and its
// declared uncompressed size, ready for the encoder to decompress.
type FrameData struct {
	Compressed       []byte
	UncompressedSize int
	// HiddenSections mirrors FrameWriteRequest.HiddenSections, in the
	// same order they were written.
	HiddenSections []HiddenSection
}

// Factory builds an Encoder for a newly registered stream.
type Factory func(stream simtypes.StreamId, desc simtypes.StreamDescriptor, store FrameStore, pools *workpool.Pools) (Encoder, error)

// Registry is the per-store factory map keyed by type GUID (spec.md
// §4.5). The all-zero GUID is the sentinel default entry.
type Registry struct {
	factories map[simtypes.TypeGuid]Factory
}

// NewRegistry returns a Registry with the default pass-through encoder
// already bound to the all-zero type GUID.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[simtypes.TypeGuid]Factory)}
	r.Register(simtypes.TypeGuid{}, NewGenericEncoder)
	return r
}

// Register binds guid to f, replacing any existing binding.
func (r *Registry) Register(guid simtypes.TypeGuid, f Factory) {
	r.factories[guid] = f
}

// New resolves desc.Type to a factory (falling back to the default
// pass-through encoder for an unregistered GUID) and builds an Encoder.
func (r *Registry) New(stream simtypes.StreamId, desc simtypes.StreamDescriptor, store FrameStore, pools *workpool.Pools) (Encoder, error) {
	f, ok := r.factories[desc.Type]
	if !ok {
		f, ok = r.factories[simtypes.TypeGuid{}]
	}
	if !ok {
		return nil, fmt.Errorf("%w: no encoder registered for type %x and no default bound", simtypes.ErrConfiguration, desc.Type)
	}
	return f(stream, desc, store, pools)
}
