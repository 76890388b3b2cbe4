// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package vpc4

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/kit-simutrace/simutrace/internal/encoder"
	"github.com/kit-simutrace/simutrace/internal/simtypes"
)

// nibbleWriter packs predictor ids two to a byte (spec.md §4.7: ids are
// always half-byte packed), matching Simtrace3MemoryEncoder.h's id
// sub-streams. An odd final id leaves the low nibble of the last byte
// zero.
type nibbleWriter struct {
	buf  []byte
	high bool
}

func (w *nibbleWriter) push(id uint8) {
	if !w.high {
		w.buf = append(w.buf, id<<4)
		w.high = true
		return
	}
	w.buf[len(w.buf)-1] |= id & 0x0f
	w.high = false
}

// nibbleReader is the read-side counterpart of nibbleWriter.
type nibbleReader struct {
	buf  []byte
	pos  int
	high bool
}

func (r *nibbleReader) next() (uint8, error) {
	if r.pos >= len(r.buf) {
		return 0, fmt.Errorf("%w: id sub-stream exhausted", simtypes.ErrCorruption)
	}
	b := r.buf[r.pos]
	if !r.high {
		r.high = true
		return b >> 4, nil
	}
	r.high = false
	r.pos++
	return b & 0x0f, nil
}

// appendWord appends v as a wordSize-byte little-endian literal.
func appendWord(buf []byte, wordSize int, v uint64) []byte {
	var tmp [8]byte
	if wordSize == 4 {
		binary.LittleEndian.PutUint32(tmp[:4], uint32(v))
		return append(buf, tmp[:4]...)
	}
	binary.LittleEndian.PutUint64(tmp[:8], v)
	return append(buf, tmp[:8]...)
}

// literalReader pulls fixed-width literals off a flat byte buffer in order.
type literalReader struct {
	buf      []byte
	pos      int
	wordSize int
}

func (r *literalReader) next() (uint64, error) {
	if r.pos+r.wordSize > len(r.buf) {
		return 0, fmt.Errorf("%w: literal sub-stream exhausted", simtypes.ErrCorruption)
	}
	v := readWord(r.buf, r.pos, r.wordSize)
	r.pos += r.wordSize
	return v, nil
}

// compressSection zstd-compresses raw for a HiddenSection attachment
// (spec.md §4.7: hidden sub-streams get their own second-stage
// compression, independent of the backbone frame).
func compressSection(raw []byte) (encoder.HiddenSection, error) {
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		return encoder.HiddenSection{}, err
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return encoder.HiddenSection{}, err
	}
	if err := w.Close(); err != nil {
		return encoder.HiddenSection{}, err
	}
	return encoder.HiddenSection{Compressed: buf.Bytes(), UncompressedSize: len(raw)}, nil
}

func decompressSection(hs encoder.HiddenSection) ([]byte, error) {
	r, err := zstd.NewReader(bytes.NewReader(hs.Compressed))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out := make([]byte, hs.UncompressedSize)
	if _, err := io.ReadFull(r, out); err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return out, nil
}
