// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package store

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kit-simutrace/simutrace/internal/config"
	"github.com/kit-simutrace/simutrace/internal/segbuf"
	"github.com/kit-simutrace/simutrace/internal/simtypes"
	"github.com/kit-simutrace/simutrace/internal/streamdir"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(root string) config.Config {
	cfg := config.Default()
	cfg.Store.Simtrace.Root = root
	// Keep the background sweep out of the way of these short-lived tests.
	cfg.Server.Housekeeping.Schedule = "@every 1h"
	cfg.Server.Session.CloseTimeout = 2 * time.Second
	cfg.Client.MemMgmt.PoolSize = 192 // MiB: three 64 MiB segments
	return cfg
}

// waitForReadable polls Open until sqn leaves Writing/Encoding, following
// the bounded-retry idiom segbuf.Pool.Request itself uses for backpressure.
func waitForReadable(t *testing.T, st *streamdir.Stream, session simtypes.SessionId, sqn simtypes.SegmentSequenceNumber) *segbuf.Slot {
	t.Helper()
	var lastErr error
	for i := 0; i < 200; i++ {
		_, slot, err := st.Open(context.Background(), session, simtypes.QSequenceNumber, uint64(sqn), simtypes.SafNone)
		if err == nil {
			return slot
		}
		lastErr = err
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("segment %d never became readable: %v", sqn, lastErr)
	return nil
}

func TestCreateRegisterAppendReadRoundTrip(t *testing.T) {
	cfg := testConfig(t.TempDir())
	logger := testLogger()

	st, err := Create(cfg, logger, "simtrace:trace1.sim")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	desc := simtypes.StreamDescriptor{Name: "events", EntrySize: 16}
	id, err := st.RegisterStream(desc)
	if err != nil {
		t.Fatalf("RegisterStream: %v", err)
	}

	stream, err := st.Stream(id)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	session := simtypes.SessionId(1)
	st.AcquireSession(session)

	ctx := context.Background()
	sqn, slot, err := stream.Append(ctx)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	payload := bytes.Repeat([]byte{0xAB}, 32)
	copy(slot.Data, payload)
	slot.Control.RawEntryCount = 2
	slot.Control.WrittenBytes = uint64(len(payload))

	// A second Append closes and submits the first segment for encoding.
	if _, _, err := stream.Append(ctx); err != nil {
		t.Fatalf("second Append: %v", err)
	}

	readSlot := waitForReadable(t, stream, session, sqn)
	if !bytes.Equal(readSlot.Data[:len(payload)], payload) {
		t.Fatal("round trip through Store/Stream did not reproduce the original segment bytes")
	}

	if err := stream.CloseSegment(ctx, session, sqn); err != nil {
		t.Fatalf("CloseSegment: %v", err)
	}
	if err := st.ReleaseSession(ctx, session); err != nil {
		t.Fatalf("ReleaseSession: %v", err)
	}
	if !st.ReadOnly() {
		// teardown does not flip readOnly on a clean close, only on a
		// closeTimeout-forced one; this log line documents that.
		t.Log("store closed cleanly, readOnly remains false as expected")
	}
}

// TestCreateRegisterAppendTwoSegmentsReadRoundTrip exercises the
// scenario of spec.md §8.1/§8.2: two non-empty segments appended back to
// back. The second segment's StartIndex must continue where the first
// left off, so a QIndex lookup for an entry index inside the second
// segment resolves to the second segment, not the first.
func TestCreateRegisterAppendTwoSegmentsReadRoundTrip(t *testing.T) {
	cfg := testConfig(t.TempDir())
	logger := testLogger()

	st, err := Create(cfg, logger, "simtrace:trace_two_segments.sim")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	desc := simtypes.StreamDescriptor{Name: "events", EntrySize: 16}
	id, err := st.RegisterStream(desc)
	if err != nil {
		t.Fatalf("RegisterStream: %v", err)
	}

	stream, err := st.Stream(id)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	session := simtypes.SessionId(1)
	st.AcquireSession(session)

	ctx := context.Background()

	firstPayload := bytes.Repeat([]byte{0xAB}, 32)
	sqn0, slot0, err := stream.Append(ctx)
	if err != nil {
		t.Fatalf("first Append: %v", err)
	}
	copy(slot0.Data, firstPayload)
	slot0.Control.RawEntryCount = 2
	slot0.Control.WrittenBytes = uint64(len(firstPayload))

	secondPayload := bytes.Repeat([]byte{0xCD}, 48)
	sqn1, slot1, err := stream.Append(ctx)
	if err != nil {
		t.Fatalf("second Append: %v", err)
	}
	copy(slot1.Data, secondPayload)
	slot1.Control.RawEntryCount = 3
	slot1.Control.WrittenBytes = uint64(len(secondPayload))

	// A third Append closes and submits the second segment for encoding.
	if _, _, err := stream.Append(ctx); err != nil {
		t.Fatalf("third Append: %v", err)
	}

	firstSlot := waitForReadable(t, stream, session, sqn0)
	if !bytes.Equal(firstSlot.Data[:len(firstPayload)], firstPayload) {
		t.Fatal("first segment did not round trip")
	}
	if firstSlot.Control.StartIndex != 0 {
		t.Fatalf("first segment StartIndex = %d, want 0", firstSlot.Control.StartIndex)
	}

	secondSlot := waitForReadable(t, stream, session, sqn1)
	if !bytes.Equal(secondSlot.Data[:len(secondPayload)], secondPayload) {
		t.Fatal("second segment did not round trip")
	}
	if secondSlot.Control.StartIndex != 2 {
		t.Fatalf("second segment StartIndex = %d, want 2 (first segment's RawEntryCount)", secondSlot.Control.StartIndex)
	}
	if err := stream.CloseSegment(ctx, session, sqn1); err != nil {
		t.Fatalf("CloseSegment(sqn1) after sequence-number open: %v", err)
	}

	// A QIndex lookup for an entry inside the second segment's range must
	// resolve to the second segment, not collide with the first's.
	foundSqn, qSlot, err := stream.Open(ctx, session, simtypes.QIndex, 3, simtypes.SafNone)
	if err != nil {
		t.Fatalf("Open by QIndex: %v", err)
	}
	if foundSqn != sqn1 {
		t.Fatalf("QIndex lookup for entry 3 resolved to segment %d, want %d", foundSqn, sqn1)
	}
	if !bytes.Equal(qSlot.Data[:len(secondPayload)], secondPayload) {
		t.Fatal("QIndex-resolved segment did not round trip")
	}

	if err := stream.CloseSegment(ctx, session, sqn0); err != nil {
		t.Fatalf("CloseSegment(sqn0): %v", err)
	}
	if err := stream.CloseSegment(ctx, session, sqn1); err != nil {
		t.Fatalf("CloseSegment(sqn1): %v", err)
	}
	if err := st.ReleaseSession(ctx, session); err != nil {
		t.Fatalf("ReleaseSession: %v", err)
	}
}

func TestOpenRejectsNewStreamRegistration(t *testing.T) {
	root := t.TempDir()
	cfg := testConfig(root)
	logger := testLogger()

	created, err := Create(cfg, logger, "simtrace:trace2.sim")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	desc := simtypes.StreamDescriptor{Name: "events", EntrySize: 16}
	if _, err := created.RegisterStream(desc); err != nil {
		t.Fatalf("RegisterStream: %v", err)
	}

	session := simtypes.SessionId(1)
	created.AcquireSession(session)
	if err := created.ReleaseSession(context.Background(), session); err != nil {
		t.Fatalf("ReleaseSession: %v", err)
	}

	reopened, err := Open(cfg, logger, "simtrace:trace2.sim")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !reopened.ReadOnly() {
		t.Fatal("a reopened store must stay read-only (extending an existing store is not supported)")
	}
	if _, err := reopened.RegisterStream(desc); err == nil {
		t.Fatal("expected RegisterStream to fail on a reopened (read-only) store")
	}
	if _, err := reopened.Stream(0); err != nil {
		t.Fatalf("expected the original stream to be rebuilt by replay, got: %v", err)
	}
}

func TestReleaseSessionRequiresPriorAcquire(t *testing.T) {
	cfg := testConfig(t.TempDir())
	st, err := Create(cfg, testLogger(), "simtrace:trace3.sim")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := st.ReleaseSession(context.Background(), simtypes.SessionId(99)); err == nil {
		t.Fatal("expected an error releasing a session that never acquired the store")
	}
}

func TestCreateRejectsBadLocator(t *testing.T) {
	cfg := testConfig(t.TempDir())
	if _, err := Create(cfg, testLogger(), "trace.sim"); err == nil {
		t.Fatal("expected an error for a locator missing the simtrace: scheme")
	}
	if _, err := Create(cfg, testLogger(), "simtrace:trace.trace"); err == nil {
		t.Fatal("expected an error for a locator with the wrong extension")
	}
}
