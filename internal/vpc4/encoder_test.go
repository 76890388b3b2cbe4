// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package vpc4

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kit-simutrace/simutrace/internal/encoder"
	"github.com/kit-simutrace/simutrace/internal/locindex"
	"github.com/kit-simutrace/simutrace/internal/segbuf"
	"github.com/kit-simutrace/simutrace/internal/simtypes"
	"github.com/kit-simutrace/simutrace/internal/workpool"
)

type memFrameStore struct {
	mu      sync.Mutex
	frames  map[simtypes.SegmentSequenceNumber]encoder.FrameData
	nextOff uint64
}

func newMemFrameStore() *memFrameStore {
	return &memFrameStore{frames: make(map[simtypes.SegmentSequenceNumber]encoder.FrameData)}
}

func (m *memFrameStore) WriteFrame(ctx context.Context, req encoder.FrameWriteRequest) (*locindex.StorageLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextOff++
	m.frames[req.SequenceNumber] = encoder.FrameData{
		Compressed:       req.Compressed,
		UncompressedSize: req.UncompressedSize,
		HiddenSections:   req.HiddenSections,
	}
	return &locindex.StorageLocation{
		Link:          locindex.Link{Stream: req.Stream, SequenceNumber: req.SequenceNumber},
		RawEntryCount: req.RawEntryCount,
		Offset:        m.nextOff,
	}, nil
}

func (m *memFrameStore) ReadFrame(ctx context.Context, loc *locindex.StorageLocation) (encoder.FrameData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames[loc.Link.SequenceNumber], nil
}

func TestEncoderWriteReadRoundTrip(t *testing.T) {
	store := newMemFrameStore()
	pools := workpool.New(2)
	defer pools.Close()

	desc := simtypes.StreamDescriptor{EntrySize: 8 + 3*8, Flags: 0} // 64-bit, with data field
	enc, err := NewEncoder(1, desc, store, pools)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}

	l := layout{wordSize: 8, hasData: true}
	raw := buildRecords(t, l, 40)

	writeSlot := &segbuf.Slot{Data: make([]byte, len(raw))}
	copy(writeSlot.Data, raw)
	writeSlot.Control.SequenceNumber = 0
	writeSlot.Control.RawEntryCount = 40
	writeSlot.Control.WrittenBytes = uint64(len(raw))

	locCh := make(chan *locindex.StorageLocation, 1)
	errCh := make(chan error, 1)
	enc.Write(context.Background(), writeSlot, func(loc *locindex.StorageLocation, err error) {
		locCh <- loc
		errCh <- err
	})

	var loc *locindex.StorageLocation
	select {
	case loc = <-locCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for write completion")
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Write: %v", err)
	}
	if loc.RawEntryCount != 40 {
		t.Fatalf("expected RawEntryCount 40, got %d", loc.RawEntryCount)
	}

	readSlot := &segbuf.Slot{Data: make([]byte, len(raw))}
	readDone := make(chan error, 1)
	enc.Read(context.Background(), readSlot, loc, func(err error) { readDone <- err })

	select {
	case err := <-readDone:
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for read completion")
	}

	if readSlot.Control.RawEntryCount != 40 {
		t.Fatalf("expected read RawEntryCount 40, got %d", readSlot.Control.RawEntryCount)
	}
	if !bytes.Equal(raw, readSlot.Data[:readSlot.Control.WrittenBytes]) {
		t.Fatal("round trip through Encoder.Write/Read did not reproduce the original segment bytes")
	}
}

func TestNewEncoderRejectsBadEntrySize(t *testing.T) {
	store := newMemFrameStore()
	pools := workpool.New(1)
	defer pools.Close()

	desc := simtypes.StreamDescriptor{EntrySize: 13}
	if _, err := NewEncoder(1, desc, store, pools); err == nil {
		t.Fatal("expected an error for an entry size matching none of the four VPC4 layouts")
	}
}
