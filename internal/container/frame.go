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

// frameHeader is the fixed 120-byte record that precedes a frame's
// attributes (spec.md §4.6).
type frameHeader struct {
	sequenceNumber simtypes.SegmentSequenceNumber
	streamID       simtypes.StreamId
	typeID         simtypes.TypeGuid

	entryCount    uint32
	rawEntryCount uint32

	startTime  simtypes.Timestamp
	endTime    simtypes.Timestamp
	startCycle simtypes.CycleCount
	endCycle   simtypes.CycleCount

	startIndex uint64
	totalSize  uint64

	attributeLinks [2]attributeLink
	attributeCount uint8
}

// isZeroFrame reports whether h describes a stream's zero frame (spec.md
// §4.6: "sequence_number == INVALID, entry_count == 0").
func (h *frameHeader) isZeroFrame() bool {
	return h.sequenceNumber == invalidSequenceNumber && h.entryCount == 0
}

func (h *frameHeader) encode() []byte {
	buf := make([]byte, frameHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], frameMarker)
	// buf[4:8] reserved0
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.sequenceNumber))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.streamID))
	copy(buf[16:32], h.typeID[:])
	binary.LittleEndian.PutUint32(buf[32:36], h.entryCount)
	binary.LittleEndian.PutUint32(buf[36:40], h.rawEntryCount)
	binary.LittleEndian.PutUint64(buf[40:48], uint64(h.startTime))
	binary.LittleEndian.PutUint64(buf[48:56], uint64(h.endTime))
	binary.LittleEndian.PutUint64(buf[56:64], uint64(h.startCycle))
	binary.LittleEndian.PutUint64(buf[64:72], uint64(h.endCycle))
	binary.LittleEndian.PutUint64(buf[72:80], h.startIndex)
	binary.LittleEndian.PutUint64(buf[80:88], h.totalSize)
	// buf[88:96] reserved1
	binary.LittleEndian.PutUint64(buf[96:104], h.attributeLinks[0].encode())
	binary.LittleEndian.PutUint64(buf[104:112], h.attributeLinks[1].encode())
	buf[112] = h.attributeCount
	// buf[113:116] reserved2

	checksum := murmur3.Sum32(buf[:116])
	binary.LittleEndian.PutUint32(buf[116:120], checksum)
	return buf
}

func decodeFrameHeader(buf []byte) (*frameHeader, error) {
	if len(buf) < frameHeaderSize {
		return nil, fmt.Errorf("%w: frame header truncated", simtypes.ErrCorruption)
	}
	marker := binary.LittleEndian.Uint32(buf[0:4])
	if marker != frameMarker {
		return nil, fmt.Errorf("%w: bad frame marker", simtypes.ErrCorruption)
	}

	checksum := murmur3.Sum32(buf[:116])
	if stored := binary.LittleEndian.Uint32(buf[116:120]); stored != checksum {
		return nil, fmt.Errorf("%w: frame header checksum mismatch", simtypes.ErrCorruption)
	}

	h := &frameHeader{
		sequenceNumber: simtypes.SegmentSequenceNumber(binary.LittleEndian.Uint32(buf[8:12])),
		streamID:       simtypes.StreamId(binary.LittleEndian.Uint32(buf[12:16])),
		entryCount:     binary.LittleEndian.Uint32(buf[32:36]),
		rawEntryCount:  binary.LittleEndian.Uint32(buf[36:40]),
		startTime:      simtypes.Timestamp(binary.LittleEndian.Uint64(buf[40:48])),
		endTime:        simtypes.Timestamp(binary.LittleEndian.Uint64(buf[48:56])),
		startCycle:     simtypes.CycleCount(binary.LittleEndian.Uint64(buf[56:64])),
		endCycle:       simtypes.CycleCount(binary.LittleEndian.Uint64(buf[64:72])),
		startIndex:     binary.LittleEndian.Uint64(buf[72:80]),
		totalSize:      binary.LittleEndian.Uint64(buf[80:88]),
		attributeCount: buf[112],
	}
	copy(h.typeID[:], buf[16:32])
	h.attributeLinks[0] = decodeAttributeLink(binary.LittleEndian.Uint64(buf[96:104]))
	h.attributeLinks[1] = decodeAttributeLink(binary.LittleEndian.Uint64(buf[104:112]))
	return h, nil
}

// attributeHeaderSize is the fixed prefix before an attribute's raw
// bytes (spec.md §4.6: "{magic 'ATTR', type, size, uncompressed_size}").
const attributeHeaderSize = 32

// attribute is one {type, payload} pair following a frame header.
type attribute struct {
	typ              AttributeType
	last             bool
	uncompressedSize uint64
	data             []byte
}

func (a *attribute) encode() []byte {
	buf := make([]byte, attributeHeaderSize+len(a.data))
	binary.LittleEndian.PutUint32(buf[0:4], attributeMarker)
	typ := a.typ
	if a.last {
		typ |= attrFlagLast
	}
	buf[4] = byte(typ)
	// buf[5:8] reserved0, buf[8:16] reserved1
	binary.LittleEndian.PutUint64(buf[16:24], uint64(len(a.data)))
	binary.LittleEndian.PutUint64(buf[24:32], a.uncompressedSize)
	copy(buf[attributeHeaderSize:], a.data)
	return buf
}

// decodeAttributeAt reads one attribute starting at buf[0], returning it
// and the total number of bytes it occupies (header + payload).
func decodeAttributeAt(buf []byte) (*attribute, int, error) {
	if len(buf) < attributeHeaderSize {
		return nil, 0, fmt.Errorf("%w: attribute header truncated", simtypes.ErrCorruption)
	}
	marker := binary.LittleEndian.Uint32(buf[0:4])
	if marker != attributeMarker {
		return nil, 0, fmt.Errorf("%w: bad attribute marker", simtypes.ErrCorruption)
	}
	rawType := AttributeType(buf[4])
	size := binary.LittleEndian.Uint64(buf[16:24])
	uncompressedSize := binary.LittleEndian.Uint64(buf[24:32])

	total := attributeHeaderSize + int(size)
	if len(buf) < total {
		return nil, 0, fmt.Errorf("%w: attribute payload truncated", simtypes.ErrCorruption)
	}
	data := make([]byte, size)
	copy(data, buf[attributeHeaderSize:total])

	a := &attribute{
		typ:              rawType &^ attrFlagLast,
		last:             rawType&attrFlagLast != 0,
		uncompressedSize: uncompressedSize,
		data:             data,
	}
	return a, total, nil
}
