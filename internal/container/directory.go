// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package container

import (
	"encoding/binary"
	"fmt"

	"github.com/kit-simutrace/simutrace/internal/simtypes"
)

type directoryEntryKind int

const (
	entryZero directoryEntryKind = iota
	entryFrame
	entryLink
)

// directoryEntry is one decoded 128-byte slot of a frame directory page
// (spec.md §4.6): either a copy of a frame's header plus its absolute file
// offset, a link to the next directory page, or an all-zero terminator.
type directoryEntry struct {
	kind          directoryEntryKind
	frameHeader   *frameHeader
	frameOffset   uint64
	nextDirectory uint64
}

func decodeDirectoryEntry(buf []byte) (*directoryEntry, error) {
	if len(buf) < directoryEntrySize {
		return nil, fmt.Errorf("%w: directory entry truncated", simtypes.ErrCorruption)
	}
	marker := binary.LittleEndian.Uint32(buf[0:4])
	switch marker {
	case 0:
		return &directoryEntry{kind: entryZero}, nil
	case frameMarker:
		fh, err := decodeFrameHeader(buf[:frameHeaderSize])
		if err != nil {
			return nil, err
		}
		return &directoryEntry{
			kind:        entryFrame,
			frameHeader: fh,
			frameOffset: binary.LittleEndian.Uint64(buf[frameHeaderSize:directoryEntrySize]),
		}, nil
	case directoryLinkMarker:
		return &directoryEntry{kind: entryLink, nextDirectory: binary.LittleEndian.Uint64(buf[8:16])}, nil
	default:
		return nil, fmt.Errorf("%w: unknown directory entry marker %#x", simtypes.ErrCorruption, marker)
	}
}

// allocateDirectoryPage reserves a fresh, zero-filled directory page at the
// end of the file and returns its offset. Zero-filling up front is what
// lets a reader recognise "no more entries" by the all-zero marker (spec.md
// §4.6) without the writer needing to track a separate entry count.
func (c *Container) allocateDirectoryPage() (uint64, error) {
	offset := c.writeOffset
	zero := make([]byte, directorySize*directoryEntrySize)
	if _, err := c.f.WriteAt(zero, int64(offset)); err != nil {
		return 0, fmt.Errorf("allocating directory page: %w", err)
	}
	c.writeOffset += uint64(len(zero))
	return offset, nil
}

// appendDirectoryEntry records fh (already pointing at frameOffset) in the
// current directory page, chaining to a freshly allocated page via a
// directory-link entry at the last slot when the current one is full
// (spec.md §4.6 write protocol, step 3).
func (c *Container) appendDirectoryEntry(fh *frameHeader, frameOffset uint64) error {
	if c.curDirOffset == invalidFileOffset || c.curDirCount >= directorySize-1 {
		newOffset, err := c.allocateDirectoryPage()
		if err != nil {
			return err
		}
		if c.curDirOffset != invalidFileOffset {
			if err := c.writeDirectoryLink(c.curDirOffset, newOffset); err != nil {
				return err
			}
		}
		if int(c.hdr.directoryCount) < directoryTableSize {
			c.hdr.directories[c.hdr.directoryCount] = newOffset
		}
		c.hdr.directoryCount++
		c.curDirOffset = newOffset
		c.curDirCount = 0
	}

	buf := make([]byte, directoryEntrySize)
	copy(buf[:frameHeaderSize], fh.encode())
	binary.LittleEndian.PutUint64(buf[frameHeaderSize:], frameOffset)

	entryOffset := c.curDirOffset + uint64(c.curDirCount)*directoryEntrySize
	if _, err := c.f.WriteAt(buf, int64(entryOffset)); err != nil {
		return fmt.Errorf("writing directory entry: %w", err)
	}
	c.curDirCount++
	return nil
}

func (c *Container) writeDirectoryLink(pageOffset, nextOffset uint64) error {
	buf := make([]byte, directoryEntrySize)
	binary.LittleEndian.PutUint32(buf[0:4], directoryLinkMarker)
	binary.LittleEndian.PutUint64(buf[8:16], nextOffset)

	slotOffset := pageOffset + uint64(directorySize-1)*directoryEntrySize
	if _, err := c.f.WriteAt(buf, int64(slotOffset)); err != nil {
		return fmt.Errorf("writing directory link: %w", err)
	}
	return nil
}

// walkDirectory reads every frame entry reachable from the header's first
// recorded directory page, in append order, invoking visit for each one.
// It also leaves c.curDirOffset/c.curDirCount positioned so the container
// can resume appending after an Open (spec.md §4.6 open protocol, step 2).
//
// Only the header's first table slot is consulted; subsequent pages are
// reached purely by following directory-link entries. The remaining 447
// table slots exist for O(1) random access into a very large trace and are
// kept populated on write, but this reader always replays sequentially, so
// it never needs them.
func (c *Container) walkDirectory(visit func(*directoryEntry) error) error {
	if c.hdr.directoryCount == 0 {
		c.curDirOffset = invalidFileOffset
		c.curDirCount = 0
		return nil
	}

	pageOffset := c.hdr.directories[0]
	buf := make([]byte, directoryEntrySize)

pageLoop:
	for {
		for slot := 0; slot < directorySize; slot++ {
			if _, err := c.f.ReadAt(buf, int64(pageOffset)+int64(slot)*directoryEntrySize); err != nil {
				return fmt.Errorf("reading directory entry: %w", err)
			}
			entry, err := decodeDirectoryEntry(buf)
			if err != nil {
				return err
			}
			switch entry.kind {
			case entryZero:
				c.curDirOffset = pageOffset
				c.curDirCount = slot
				break pageLoop
			case entryLink:
				pageOffset = entry.nextDirectory
				continue pageLoop
			case entryFrame:
				if err := visit(entry); err != nil {
					return err
				}
			}
		}
		// Page scanned fully without a terminator or link in its last
		// slot; treat it as exhausted.
		c.curDirOffset = pageOffset
		c.curDirCount = directorySize
		break pageLoop
	}
	return nil
}
