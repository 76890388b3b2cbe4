// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package vpc4

import (
	"encoding/binary"
	"fmt"

	"github.com/kit-simutrace/simutrace/internal/encoder"
	"github.com/kit-simutrace/simutrace/internal/simtypes"
)

// fieldKind enumerates a record's predicted fields in the fixed order both
// encode and decode walk them, so the two sides agree on hidden-section
// layout without needing named slots.
type fieldKind int

const (
	fieldIP fieldKind = iota
	fieldAddr
	fieldData
	fieldCycle
)

func activeFields(hasData bool) []fieldKind {
	if hasData {
		return []fieldKind{fieldIP, fieldAddr, fieldData, fieldCycle}
	}
	return []fieldKind{fieldIP, fieldAddr, fieldCycle}
}

// segmentAPI is the non-generic view of segmentCodec[T] a VPC4Encoder
// drives, letting the 32-bit and 64-bit instantiations share one caller.
type segmentAPI interface {
	wordSize() int
	encode(raw []byte, l layout, entryCount uint64) ([]encoder.HiddenSection, simtypes.CycleCount, simtypes.CycleCount, error)
	decode(sections []encoder.HiddenSection, l layout, entryCount uint64) ([]byte, error)
}

// segmentCodec runs VPC4's predictor ensembles over one stream's worth of
// records. A single instance is reused across every segment the stream
// ever writes or reads, because the predictor tables and rolling history
// must evolve continuously across segment boundaries to stay useful
// (Simtrace3MemoryEncoder.h keeps exactly this lifetime for its
// predictors).
type segmentCodec[T word] struct {
	size  int
	ip    *ipEnsemble[T]
	addr  *valueEnsemble[T]
	data  *valueEnsemble[T]
	cycle *cycleEnsemble
}

func newSegmentCodec[T word](wordSize int, hasData bool) *segmentCodec[T] {
	c := &segmentCodec[T]{
		size:  wordSize,
		ip:    newIPEnsemble[T](),
		addr:  newValueEnsemble[T](),
		cycle: newCycleEnsemble(0),
	}
	if hasData {
		c.data = newValueEnsemble[T]()
	}
	return c
}

func (c *segmentCodec[T]) wordSize() int { return c.size }

// encode runs every record in raw (l.entrySize() bytes apiece) through the
// predictor ensembles and returns the compressed hidden sections in fixed
// field order (spec.md §4.7): ids first (half-byte packed, one sub-stream
// per field), then the per-entry meta words, then literals (one sub-stream
// per field, variable length since only unpredicted entries contribute).
func (c *segmentCodec[T]) encode(raw []byte, l layout, entryCount uint64) ([]encoder.HiddenSection, simtypes.CycleCount, simtypes.CycleCount, error) {
	fields := activeFields(l.hasData)
	ids := make(map[fieldKind]*nibbleWriter, len(fields))
	literals := make(map[fieldKind][]byte, len(fields))
	for _, f := range fields {
		ids[f] = &nibbleWriter{}
	}

	var meta []byte
	var startCycle, endCycle simtypes.CycleCount

	entrySize := l.entrySize()
	if uint64(len(raw)) < entryCount*uint64(entrySize) {
		return nil, 0, 0, fmt.Errorf("%w: record buffer shorter than entryCount*entrySize", simtypes.ErrCorruption)
	}

	for i := uint64(0); i < entryCount; i++ {
		rec := raw[i*uint64(entrySize) : (i+1)*uint64(entrySize)]
		md := readMetadata(rec)
		ip := readWord(rec, 8, l.wordSize)
		addr := readWord(rec, 8+l.wordSize, l.wordSize)

		ipID, ipLit := c.ip.encode(T(ip))
		ids[fieldIP].push(ipID)
		if ipID == ipNotPredicted {
			literals[fieldIP] = appendWord(literals[fieldIP], l.wordSize, uint64(ipLit))
		}

		addrID, addrLit := c.addr.encode(T(addr), ip)
		ids[fieldAddr].push(addrID)
		if addrID == valueNotPredicted {
			literals[fieldAddr] = appendWord(literals[fieldAddr], l.wordSize, uint64(addrLit))
		}

		if l.hasData {
			data := readWord(rec, 8+2*l.wordSize, l.wordSize)
			dataID, dataLit := c.data.encode(T(data), ip)
			ids[fieldData].push(dataID)
			if dataID == valueNotPredicted {
				literals[fieldData] = appendWord(literals[fieldData], l.wordSize, uint64(dataLit))
			}
		}

		cycle := md.Cycle()
		cycleID, cycleLit := c.cycle.encode(uint64(cycle), ip)
		ids[fieldCycle].push(cycleID)
		if cycleID == cycleNotPredicted {
			literals[fieldCycle] = appendWord(literals[fieldCycle], 8, cycleLit)
		}

		var userBytes [2]byte
		binary.LittleEndian.PutUint16(userBytes[:], md.User())
		meta = append(meta, userBytes[:]...)

		if i == 0 {
			startCycle = cycle
		}
		endCycle = cycle
	}

	var sections []encoder.HiddenSection
	for _, f := range fields {
		s, err := compressSection(ids[f].buf)
		if err != nil {
			return nil, 0, 0, err
		}
		sections = append(sections, s)
	}
	metaSection, err := compressSection(meta)
	if err != nil {
		return nil, 0, 0, err
	}
	sections = append(sections, metaSection)
	for _, f := range fields {
		s, err := compressSection(literals[f])
		if err != nil {
			return nil, 0, 0, err
		}
		sections = append(sections, s)
	}
	return sections, startCycle, endCycle, nil
}

// decode is encode's inverse: it replays the id streams, consulting the
// literal streams only for entries an id marked unpredicted, and
// reconstructs entryCount records into a raw buffer shaped exactly like
// encode's input.
func (c *segmentCodec[T]) decode(sections []encoder.HiddenSection, l layout, entryCount uint64) ([]byte, error) {
	fields := activeFields(l.hasData)
	want := 2*len(fields) + 1
	if len(sections) != want {
		return nil, fmt.Errorf("%w: expected %d hidden sections, got %d", simtypes.ErrCorruption, want, len(sections))
	}

	ids := make(map[fieldKind]*nibbleReader, len(fields))
	for i, f := range fields {
		raw, err := decompressSection(sections[i])
		if err != nil {
			return nil, err
		}
		ids[f] = &nibbleReader{buf: raw}
	}
	metaRaw, err := decompressSection(sections[len(fields)])
	if err != nil {
		return nil, err
	}
	literals := make(map[fieldKind]*literalReader, len(fields))
	for i, f := range fields {
		raw, err := decompressSection(sections[len(fields)+1+i])
		if err != nil {
			return nil, err
		}
		width := l.wordSize
		if f == fieldCycle {
			width = 8
		}
		literals[f] = &literalReader{buf: raw, wordSize: width}
	}

	entrySize := l.entrySize()
	out := make([]byte, entryCount*uint64(entrySize))

	for i := uint64(0); i < entryCount; i++ {
		rec := out[i*uint64(entrySize) : (i+1)*uint64(entrySize)]

		ipID, err := ids[fieldIP].next()
		if err != nil {
			return nil, err
		}
		var ipLit T
		if ipID == ipNotPredicted {
			v, err := literals[fieldIP].next()
			if err != nil {
				return nil, err
			}
			ipLit = T(v)
		}
		ip := c.ip.decode(ipID, ipLit)
		writeWord(rec, 8, l.wordSize, uint64(ip))

		addrID, err := ids[fieldAddr].next()
		if err != nil {
			return nil, err
		}
		var addrLit T
		if addrID == valueNotPredicted {
			v, err := literals[fieldAddr].next()
			if err != nil {
				return nil, err
			}
			addrLit = T(v)
		}
		addr := c.addr.decode(addrID, uint64(ip), addrLit)
		writeWord(rec, 8+l.wordSize, l.wordSize, uint64(addr))

		if l.hasData {
			dataID, err := ids[fieldData].next()
			if err != nil {
				return nil, err
			}
			var dataLit T
			if dataID == valueNotPredicted {
				v, err := literals[fieldData].next()
				if err != nil {
					return nil, err
				}
				dataLit = T(v)
			}
			data := c.data.decode(dataID, uint64(ip), dataLit)
			writeWord(rec, 8+2*l.wordSize, l.wordSize, uint64(data))
		}

		cycleID, err := ids[fieldCycle].next()
		if err != nil {
			return nil, err
		}
		var cycleLit uint64
		if cycleID == cycleNotPredicted {
			v, err := literals[fieldCycle].next()
			if err != nil {
				return nil, err
			}
			cycleLit = v
		}
		cycle := c.cycle.decode(cycleID, uint64(ip), cycleLit)

		off := int(i) * 2
		if off+2 > len(metaRaw) {
			return nil, fmt.Errorf("%w: meta sub-stream exhausted", simtypes.ErrCorruption)
		}
		user := binary.LittleEndian.Uint16(metaRaw[off : off+2])
		binary.LittleEndian.PutUint64(rec[0:8], uint64(NewMetadata(simtypes.CycleCount(cycle), user)))
	}
	return out, nil
}
