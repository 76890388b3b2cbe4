// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package segbuf

import (
	"encoding/binary"

	"github.com/spaolacci/murmur3"
)

// computeCookie derives slot's tamper-detection cookie: murmur3 over
// stream id, sequence number, start time and a per-pool random value mixed
// with the slot's index (spec.md §4.1). Read-only slots additionally fold
// in the entire control element, so a client cannot forge an in-use cookie
// by replaying one observed on a prior read-only slot.
func (p *Pool) computeCookie(s *Slot) uint32 {
	var buf [20]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(s.Control.StreamID))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(s.Control.SequenceNumber))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(s.Control.StartTime))
	binary.LittleEndian.PutUint32(buf[16:20], p.seed^uint32(s.index))

	if s.flags&FlagReadOnly == 0 {
		return murmur3.Sum32(buf[:])
	}

	h := murmur3.New32()
	h.Write(buf[:])
	var extra [24]byte
	binary.LittleEndian.PutUint64(extra[0:8], s.Control.StartIndex)
	binary.LittleEndian.PutUint64(extra[8:16], s.Control.RawEntryCount)
	binary.LittleEndian.PutUint64(extra[16:24], s.Control.WrittenBytes)
	h.Write(extra[:])
	return h.Sum32()
}

// stampCookie assigns and stores a fresh cookie on s.
func (p *Pool) stampCookie(s *Slot) {
	s.Control.Cookie = p.computeCookie(s)
}

// validCookie reports whether s's stored cookie still matches its control
// element, i.e. whether the client has not tampered with the shared slot.
func (p *Pool) validCookie(s *Slot) bool {
	return s.Control.Cookie == p.computeCookie(s)
}
