// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package vpc4

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/kit-simutrace/simutrace/internal/simtypes"
)

// buildRecords assembles a raw segment buffer of n synthetic records for
// the given layout, looping a small instruction window so the predictor
// ensembles actually get exercised rather than missing every time.
func buildRecords(t *testing.T, l layout, n int) []byte {
	t.Helper()
	entrySize := l.entrySize()
	buf := make([]byte, n*entrySize)

	ips := []uint64{0x1000, 0x1004, 0x1008, 0x100c}
	cycle := uint64(1000)
	addr := uint64(0x8000000)

	for i := 0; i < n; i++ {
		rec := buf[i*entrySize : (i+1)*entrySize]
		ip := ips[i%len(ips)]
		cycle += uint64(1 + i%3)
		md := NewMetadata(simtypes.CycleCount(cycle), uint16(i))
		binary.LittleEndian.PutUint64(rec[0:8], uint64(md))
		writeWord(rec, 8, l.wordSize, ip)
		addr += 8
		writeWord(rec, 8+l.wordSize, l.wordSize, addr)
		if l.hasData {
			writeWord(rec, 8+2*l.wordSize, l.wordSize, uint64(i*7))
		}
	}
	return buf
}

func testRoundTrip(t *testing.T, wordSize int, hasData bool) {
	t.Helper()
	l := layout{wordSize: wordSize, hasData: hasData}
	raw := buildRecords(t, l, 50)

	var startCycle, endCycle simtypes.CycleCount
	var decoded []byte

	if wordSize == 4 {
		c := newSegmentCodec[uint32](wordSize, hasData)
		s, sc, ec, err := c.encode(raw, l, 50)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		startCycle, endCycle = sc, ec

		d := newSegmentCodec[uint32](wordSize, hasData)
		out, err := d.decode(s, l, 50)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		decoded = out
	} else {
		c := newSegmentCodec[uint64](wordSize, hasData)
		s, sc, ec, err := c.encode(raw, l, 50)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		startCycle, endCycle = sc, ec

		d := newSegmentCodec[uint64](wordSize, hasData)
		out, err := d.decode(s, l, 50)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		decoded = out
	}

	if startCycle == 0 || endCycle <= startCycle {
		t.Errorf("expected increasing cycle range, got start=%d end=%d", startCycle, endCycle)
	}
	if !bytes.Equal(raw, decoded) {
		t.Fatalf("round trip mismatch for wordSize=%d hasData=%v", wordSize, hasData)
	}
}

func TestSegmentCodecRoundTrip32NoData(t *testing.T) { testRoundTrip(t, 4, false) }
func TestSegmentCodecRoundTrip32WithData(t *testing.T) { testRoundTrip(t, 4, true) }
func TestSegmentCodecRoundTrip64NoData(t *testing.T) { testRoundTrip(t, 8, false) }
func TestSegmentCodecRoundTrip64WithData(t *testing.T) { testRoundTrip(t, 8, true) }

func TestSegmentCodecRejectsWrongSectionCount(t *testing.T) {
	l := layout{wordSize: 8, hasData: true}
	d := newSegmentCodec[uint64](8, true)
	if _, err := d.decode(nil, l, 1); err == nil {
		t.Fatal("expected an error decoding with no hidden sections")
	}
}
