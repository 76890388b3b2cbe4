// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package container

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kit-simutrace/simutrace/internal/encoder"
	"github.com/kit-simutrace/simutrace/internal/locindex"
	"github.com/kit-simutrace/simutrace/internal/simtypes"
)

func TestCreateWriteCloseOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run1.sim")

	c, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}

	desc := simtypes.StreamDescriptor{Name: "instructions", EntrySize: 16, Type: simtypes.TypeGuid{}}
	if err := c.WriteZeroFrame(1, desc, nil); err != nil {
		t.Fatal(err)
	}

	payload := []byte("compressed segment payload")
	loc, err := c.WriteFrame(context.Background(), encoder.FrameWriteRequest{
		Stream:           1,
		SequenceNumber:   0,
		StartIndex:       0,
		RawEntryCount:    4,
		Compressed:       payload,
		UncompressedSize: 64,
	})
	if err != nil {
		t.Fatal(err)
	}
	if loc.Offset == 0 {
		t.Errorf("expected a non-zero frame offset")
	}
	if loc.Ranges[simtypes.QIndex].Start != 0 || loc.Ranges[simtypes.QIndex].End != 3 {
		t.Errorf("index range = %+v, want [0,3]", loc.Ranges[simtypes.QIndex])
	}

	data, err := c.ReadFrame(context.Background(), loc)
	if err != nil {
		t.Fatal(err)
	}
	if string(data.Compressed) != string(payload) {
		t.Errorf("read back %q, want %q", data.Compressed, payload)
	}
	if data.UncompressedSize != 64 {
		t.Errorf("uncompressed size = %d, want 64", data.UncompressedSize)
	}

	c.SetEndTime(1000)
	if err := c.Finalize(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	var gotDesc simtypes.StreamDescriptor
	var gotLocCount int
	reopened, err := Open(path, ReplayHandlers{
		OnZeroFrame: func(stream simtypes.StreamId, desc simtypes.StreamDescriptor, associated []simtypes.StreamId) error {
			gotDesc = desc
			return nil
		},
		OnDataFrame: func(stream simtypes.StreamId, loc *locindex.StorageLocation) error {
			gotLocCount++
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	if gotDesc.Name != "instructions" {
		t.Errorf("replayed stream name = %q, want %q", gotDesc.Name, "instructions")
	}
	if gotLocCount != 1 {
		t.Errorf("replayed %d data frames, want 1", gotLocCount)
	}
}

func TestOpenRejectsDirtyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dirty.sim")
	c, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	// Never finalize: the store stays dirty.
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(path, ReplayHandlers{}); err == nil {
		t.Fatal("expected error opening a dirty store")
	}
}

func TestWriteZeroFrameWithAssociatedStreams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vpc4.sim")
	c, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	desc := simtypes.StreamDescriptor{Name: "memtrace", EntrySize: -1}
	if err := c.WriteZeroFrame(1, desc, []simtypes.StreamId{2, 3, 4}); err != nil {
		t.Fatal(err)
	}

	var associated []simtypes.StreamId
	if err := c.walkDirectory(func(entry *directoryEntry) error {
		if !entry.frameHeader.isZeroFrame() {
			return nil
		}
		attrs, err := c.readAttributes(entry.frameOffset, entry.frameHeader.totalSize)
		if err != nil {
			return err
		}
		for _, a := range attrs {
			if a.typ == AttrAssociatedStreams {
				associated, err = decodeAssociatedStreams(a.data)
				if err != nil {
					return err
				}
			}
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if len(associated) != 3 || associated[0] != 2 || associated[2] != 4 {
		t.Errorf("associated streams = %v, want [2 3 4]", associated)
	}
}

func TestAppendDirectoryEntrySpansMultiplePages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "many-frames.sim")
	c, err := Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	desc := simtypes.StreamDescriptor{Name: "s", EntrySize: 8}
	if err := c.WriteZeroFrame(1, desc, nil); err != nil {
		t.Fatal(err)
	}

	// One more than a single directory page's frame capacity (1023),
	// forcing a directory-link chain to a second page.
	const n = directorySize
	for i := 0; i < n; i++ {
		_, err := c.WriteFrame(context.Background(), encoder.FrameWriteRequest{
			Stream:           1,
			SequenceNumber:   simtypes.SegmentSequenceNumber(i),
			StartIndex:       uint64(i),
			RawEntryCount:    1,
			Compressed:       []byte{byte(i)},
			UncompressedSize: 1,
		})
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}

	count := 0
	if err := c.walkDirectory(func(entry *directoryEntry) error {
		if !entry.frameHeader.isZeroFrame() {
			count++
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if count != n {
		t.Errorf("replayed %d data frames, want %d", count, n)
	}
	if c.hdr.directoryCount < 2 {
		t.Errorf("directoryCount = %d, want >= 2 (chain should have grown)", c.hdr.directoryCount)
	}
}
