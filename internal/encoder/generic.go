// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package encoder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/pgzip"
	"github.com/kit-simutrace/simutrace/internal/locindex"
	"github.com/kit-simutrace/simutrace/internal/segbuf"
	"github.com/kit-simutrace/simutrace/internal/simtypes"
	"github.com/kit-simutrace/simutrace/internal/workpool"
)

// GenericEncoder is the default pass-through codec bound to the all-zero
// type GUID (spec.md §4.5): every segment is gzip-compressed as an opaque
// byte blob, with no awareness of entry structure. It is the parallel-gzip
// analogue of a generic LZMA codec.
type GenericEncoder struct {
	stream simtypes.StreamId
	store  FrameStore
	pools  *workpool.Pools
}

// NewGenericEncoder implements Factory.
func NewGenericEncoder(stream simtypes.StreamId, _ simtypes.StreamDescriptor, store FrameStore, pools *workpool.Pools) (Encoder, error) {
	return &GenericEncoder{stream: stream, store: store, pools: pools}, nil
}

// Write compresses slot's written bytes and persists them, dispatched
// onto the Normal priority band (spec.md §4.5: "may complete
// synchronously or via pool" — this codec always hands off, since gzip is
// CPU-bound enough to be worth moving off the caller's goroutine).
func (e *GenericEncoder) Write(ctx context.Context, slot *segbuf.Slot, done func(*locindex.StorageLocation, error)) {
	raw := slot.Data[:slot.Control.WrittenBytes]
	startIdx := slot.Control.StartIndex
	rawCount := slot.Control.RawEntryCount
	// The segment's wall-clock range ends when it is handed to the encoder,
	// before the next segment of the stream can be requested.
	endTime := simtypes.Timestamp(time.Now().UnixNano())

	e.pools.Submit(workpool.PriorityNormal, func() {
		compressed, err := gzipCompress(raw)
		if err != nil {
			done(nil, fmt.Errorf("generic encoder: compressing segment: %w", err))
			return
		}
		loc, err := e.store.WriteFrame(ctx, FrameWriteRequest{
			Stream:           e.stream,
			SequenceNumber:   slot.Control.SequenceNumber,
			StartIndex:       startIdx,
			RawEntryCount:    rawCount,
			StartTime:        slot.Control.StartTime,
			EndTime:          endTime,
			Compressed:       compressed,
			UncompressedSize: len(raw),
		})
		done(loc, err)
	})
}

// Read fetches and decompresses loc's frame into slot, dispatched onto
// the Normal band, or onto the Low band for a prefetch slot.
func (e *GenericEncoder) Read(ctx context.Context, slot *segbuf.Slot, loc *locindex.StorageLocation, done func(error)) {
	pr := workpool.PriorityNormal
	if slot.Flags()&segbuf.FlagPrefetch != 0 {
		pr = workpool.PriorityLow
	}
	e.pools.Submit(pr, func() {
		data, err := e.store.ReadFrame(ctx, loc)
		if err != nil {
			done(fmt.Errorf("generic encoder: reading segment: %w", err))
			return
		}
		raw, err := gzipDecompress(data.Compressed, data.UncompressedSize)
		if err != nil {
			done(fmt.Errorf("generic encoder: decompressing segment: %w", err))
			return
		}
		n := copy(slot.Data, raw)
		slot.Control.WrittenBytes = uint64(n)
		slot.Control.RawEntryCount = loc.RawEntryCount
		done(nil)
	})
}

// Close is a no-op: GenericEncoder dispatches no long-lived resources of
// its own, only individual compress/decompress jobs that wait already
// accounts for via the pool's drain on Pools.Close.
func (e *GenericEncoder) Close(wait *workpool.Wait) {}

// NotifySegmentCacheClosed is a no-op: the generic codec keeps no
// per-segment decode state between reads.
func (e *GenericEncoder) NotifySegmentCacheClosed(simtypes.SegmentSequenceNumber) {}

// QueryStreamInfo contributes nothing beyond what the container already
// tracks for a plain stream.
func (e *GenericEncoder) QueryStreamInfo(*StreamInfo) {}

func gzipCompress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := pgzip.NewWriterLevel(&buf, pgzip.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(compressed []byte, uncompressedSize int) ([]byte, error) {
	r, err := pgzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out := make([]byte, uncompressedSize)
	if _, err := io.ReadFull(r, out); err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return out, nil
}
