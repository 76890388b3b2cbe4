// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package vpc4

import (
	"encoding/binary"
	"fmt"

	"github.com/kit-simutrace/simutrace/internal/simtypes"
)

// Metadata packs a 48-bit cycle count and a 16-bit user-defined tag into
// one 64-bit wire word, the first field of every VPC4 memory-access record
// (spec.md §4.7): cycle in the low 48 bits, the user tag in the high 16.
type Metadata uint64

// NewMetadata builds a wire metadata word from its two fields.
func NewMetadata(cycle simtypes.CycleCount, user uint16) Metadata {
	return Metadata(uint64(cycle)&cycleMask | uint64(user)<<48)
}

const cycleMask = (uint64(1) << 48) - 1

// Cycle extracts the 48-bit cycle count.
func (m Metadata) Cycle() simtypes.CycleCount { return simtypes.CycleCount(uint64(m) & cycleMask) }

// User extracts the 16-bit user tag carried alongside the cycle count.
func (m Metadata) User() uint16 { return uint16(uint64(m) >> 48) }

// layout describes the byte shape of one of VPC4's four concrete record
// types: {32,64}-bit address width crossed with {without,with} a data
// field (spec.md §4.7, grounded on Simtrace3MemoryEncoder.h's
// MemoryEntryLayout specializations).
type layout struct {
	wordSize int // 4 (32-bit) or 8 (64-bit)
	hasData  bool
}

// entrySize is the fixed per-record byte count: an 8-byte metadata word
// plus ip, address, and optionally data, each wordSize bytes wide.
func (l layout) entrySize() int {
	fields := 2
	if l.hasData {
		fields = 3
	}
	return 8 + fields*l.wordSize
}

// layoutFor derives a record layout from a stream descriptor's entry size
// and architecture flag; it returns an error if EntrySize doesn't match any
// of the four supported shapes.
func layoutFor(desc simtypes.StreamDescriptor) (layout, error) {
	wordSize := 8
	if desc.Flags&simtypes.FlagArch32Bit != 0 {
		wordSize = 4
	}
	for _, hasData := range [...]bool{false, true} {
		l := layout{wordSize: wordSize, hasData: hasData}
		if int(desc.EntrySize) == l.entrySize() {
			return l, nil
		}
	}
	return layout{}, fmt.Errorf("%w: entry size %d does not match a VPC4 record layout for word size %d",
		simtypes.ErrConfiguration, desc.EntrySize, wordSize)
}

// readMetadata reads the fixed first 8 bytes of a record.
func readMetadata(rec []byte) Metadata {
	return Metadata(binary.LittleEndian.Uint64(rec[0:8]))
}

// readWord reads a wordSize-wide little-endian field at rec[off:], widened
// to uint64 for generic predictor arithmetic.
func readWord(rec []byte, off, wordSize int) uint64 {
	if wordSize == 4 {
		return uint64(binary.LittleEndian.Uint32(rec[off : off+4]))
	}
	return binary.LittleEndian.Uint64(rec[off : off+8])
}

func writeWord(rec []byte, off, wordSize int, v uint64) {
	if wordSize == 4 {
		binary.LittleEndian.PutUint32(rec[off:off+4], uint32(v))
	} else {
		binary.LittleEndian.PutUint64(rec[off:off+8], v)
	}
}
