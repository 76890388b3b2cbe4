// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package container

import (
	"encoding/binary"
	"fmt"

	"github.com/kit-simutrace/simutrace/internal/simtypes"
	"github.com/spaolacci/murmur3"
)

// attributeLink is the header-level {type, relative offset} pair spec.md
// §4.6 calls AttributeHeaderLink, flattened into a plain uint64 on the
// wire (type in the low byte, offset in the remaining 56 bits) since Go
// has no native bitfields.
type attributeLink struct {
	typ    AttributeType
	offset uint64
}

func (l attributeLink) encode() uint64 {
	return uint64(l.typ) | (l.offset << 8)
}

func decodeAttributeLink(v uint64) attributeLink {
	return attributeLink{typ: AttributeType(v & 0xff), offset: v >> 8}
}

// header is the in-memory form of the master + v3 header pair (spec.md
// §4.6). It is serialized into the fixed headerRegionSize region at
// offset 0 of every store file.
type header struct {
	writerVersion uint32

	fileSize             uint64
	uncompressedFileSize uint64
	frameCount           uint64
	entryCount           uint64
	rawEntryCount        uint64

	startTime  simtypes.Timestamp
	endTime    simtypes.Timestamp
	startCycle simtypes.CycleCount
	endCycle   simtypes.CycleCount

	directoryCount    uint32
	directoryCapacity uint16
	attributeCount    uint16

	attributes  [attributeTableSize]attributeLink
	directories [directoryTableSize]uint64

	dirtyFlag bool
}

// newHeader returns a fresh header for a store being created.
func newHeader() *header {
	h := &header{
		writerVersion:     formatMinor | formatMajor<<16,
		directoryCapacity: directoryTableSize,
		dirtyFlag:         true,
	}
	for i := range h.directories {
		h.directories[i] = invalidFileOffset
	}
	return h
}

const invalidFileOffset = ^uint64(0)

// checksumDataSize is the prefix length (everything up to but excluding
// the checksum field itself) that contributes to the header checksum,
// mirroring SIMTRACE_V3_HEADER_CHECKSUM_DATA_SIZE.
const checksumDataSize = 104 + attributeTableSize*8 + directoryTableSize*8 // fixed fields + attribute table + directory table

// encode serializes h into a fixed headerRegionSize-byte little-endian
// buffer, computing the murmur3 checksum over the prefix as it goes
// (spec.md §4.6: "checksum (murmur3_32 over the header prefix)").
func (h *header) encode() []byte {
	buf := make([]byte, headerRegionSize)
	off := 0

	put := func(v any) {
		switch x := v.(type) {
		case uint16:
			binary.LittleEndian.PutUint16(buf[off:], x)
			off += 2
		case uint32:
			binary.LittleEndian.PutUint32(buf[off:], x)
			off += 4
		case uint64:
			binary.LittleEndian.PutUint64(buf[off:], x)
			off += 8
		case int64:
			binary.LittleEndian.PutUint64(buf[off:], uint64(x))
			off += 8
		default:
			panic(fmt.Sprintf("container: unsupported header field type %T", v))
		}
	}

	copy(buf[off:off+8], masterMagic[:])
	off += 8
	put(formatMajor)
	put(formatMinor)

	put(h.writerVersion)
	put(uint32(0)) // reserved0
	put(h.fileSize)
	put(h.uncompressedFileSize)
	put(h.frameCount)
	put(h.entryCount)
	put(h.rawEntryCount)
	put(int64(h.startTime))
	put(int64(h.endTime))
	put(uint64(h.startCycle))
	put(uint64(h.endCycle))
	put(h.directoryCount)
	put(h.directoryCapacity)
	put(h.attributeCount)
	for _, a := range h.attributes {
		put(a.encode())
	}
	for _, d := range h.directories {
		put(d)
	}

	checksum := murmur3.Sum32(buf[:off])
	put(checksum)
	if h.dirtyFlag {
		buf[off] = 1
	}
	off++
	off += 3 // reserved1

	return buf
}

// decodeHeader parses a headerRegionSize-byte buffer produced by encode,
// validating the magic and checksum.
func decodeHeader(buf []byte) (*header, error) {
	if len(buf) < headerRegionSize {
		return nil, fmt.Errorf("%w: header region truncated: got %d bytes, want %d", simtypes.ErrCorruption, len(buf), headerRegionSize)
	}

	var magic [8]byte
	copy(magic[:], buf[0:8])
	if magic != masterMagic {
		return nil, fmt.Errorf("%w: bad master header magic", simtypes.ErrCorruption)
	}
	major := binary.LittleEndian.Uint32(buf[8:12])
	if major != formatMajor {
		return nil, fmt.Errorf("%w: unsupported container major version %d", simtypes.ErrNotSupported, major)
	}

	off := 16
	h := &header{}
	get32 := func() uint32 { v := binary.LittleEndian.Uint32(buf[off:]); off += 4; return v }
	get64 := func() uint64 { v := binary.LittleEndian.Uint64(buf[off:]); off += 8; return v }
	get16 := func() uint16 { v := binary.LittleEndian.Uint16(buf[off:]); off += 2; return v }

	h.writerVersion = get32()
	_ = get32() // reserved0
	h.fileSize = get64()
	h.uncompressedFileSize = get64()
	h.frameCount = get64()
	h.entryCount = get64()
	h.rawEntryCount = get64()
	h.startTime = simtypes.Timestamp(get64())
	h.endTime = simtypes.Timestamp(get64())
	h.startCycle = simtypes.CycleCount(get64())
	h.endCycle = simtypes.CycleCount(get64())
	h.directoryCount = get32()
	h.directoryCapacity = get16()
	h.attributeCount = get16()
	for i := range h.attributes {
		h.attributes[i] = decodeAttributeLink(get64())
	}
	for i := range h.directories {
		h.directories[i] = get64()
	}

	checksum := murmur3.Sum32(buf[:off])
	storedChecksum := binary.LittleEndian.Uint32(buf[off:])
	if checksum != storedChecksum {
		return nil, fmt.Errorf("%w: header checksum mismatch", simtypes.ErrCorruption)
	}
	off += 4
	h.dirtyFlag = buf[off] != 0

	return h, nil
}
