// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package container

import (
	"encoding/binary"
	"fmt"

	"github.com/kit-simutrace/simutrace/internal/simtypes"
)

// encodeStreamDescription serializes a stream's descriptor for the
// StreamDescription attribute of its zero frame (spec.md §4.6).
func encodeStreamDescription(desc simtypes.StreamDescriptor) []byte {
	name := []byte(desc.Name)
	buf := make([]byte, 4+len(name)+4+4+16)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(name)))
	off += 4
	copy(buf[off:], name)
	off += len(name)
	binary.LittleEndian.PutUint32(buf[off:], uint32(desc.EntrySize))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(desc.Flags))
	off += 4
	copy(buf[off:], desc.Type[:])
	return buf
}

func decodeStreamDescription(data []byte) (simtypes.StreamDescriptor, error) {
	if len(data) < 4 {
		return simtypes.StreamDescriptor{}, fmt.Errorf("%w: truncated stream description attribute", simtypes.ErrCorruption)
	}
	nameLen := int(binary.LittleEndian.Uint32(data[0:4]))
	off := 4 + nameLen
	if len(data) < off+4+4+16 {
		return simtypes.StreamDescriptor{}, fmt.Errorf("%w: truncated stream description attribute", simtypes.ErrCorruption)
	}
	desc := simtypes.StreamDescriptor{Name: string(data[4:off])}
	desc.EntrySize = int32(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	desc.Flags = simtypes.StreamFlags(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	copy(desc.Type[:], data[off:off+16])
	return desc, nil
}

// encodeAssociatedStreams serializes a composite encoder's hidden
// sub-stream ids for the AssociatedStreams attribute (spec.md §4.6, §4.7).
func encodeAssociatedStreams(streams []simtypes.StreamId) []byte {
	buf := make([]byte, 4+4*len(streams))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(streams)))
	for i, s := range streams {
		binary.LittleEndian.PutUint32(buf[4+4*i:8+4*i], uint32(s))
	}
	return buf
}

func decodeAssociatedStreams(data []byte) ([]simtypes.StreamId, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: truncated associated streams attribute", simtypes.ErrCorruption)
	}
	count := int(binary.LittleEndian.Uint32(data[0:4]))
	if len(data) < 4+4*count {
		return nil, fmt.Errorf("%w: truncated associated streams attribute", simtypes.ErrCorruption)
	}
	streams := make([]simtypes.StreamId, count)
	for i := range streams {
		streams[i] = simtypes.StreamId(binary.LittleEndian.Uint32(data[4+4*i : 8+4*i]))
	}
	return streams, nil
}
