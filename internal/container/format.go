// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package container implements the Simtrace v3 on-disk container (spec.md
// §4.6, component C6) and the frame/attribute codec layered on top of it
// (component C7): a little-endian master header plus v3 header occupying
// a fixed 4 KiB region, followed by frames and frame directories freely
// interleaved. Container implements encoder.FrameStore so the encoder
// framework can turn compressed segment bytes into a persisted frame and
// back without either package importing the other.
package container

import "github.com/kit-simutrace/simutrace/internal/simtypes"

// headerRegionSize is the fixed size reserved for the master + v3 header
// at the start of every store file (spec.md §4.6: "reserved 4 KiB").
const headerRegionSize = 4096

// masterMagic identifies a Simutrace container.
var masterMagic = [8]byte{'S', 'i', 'm', 't', 'r', 'a', 'c', 'e'}

const (
	formatMajor uint32 = 3
	formatMinor uint32 = 0
)

// directoryTableSize bounds the number of directory page offsets a v3
// header can record directly; beyond this, directories chain via a
// directory-link entry (spec.md §4.6).
const directoryTableSize = 448

// attributeTableSize bounds the header-level attribute table (spec.md
// §4.6: "attribute table (8 slots ...)"). Unused in the core write path
// today — reserved for store-wide attributes a future encoder may add.
const attributeTableSize = 8

// directorySize is the number of entries in one frame directory page
// (spec.md §4.6: "array of 1024 entries x 128 B").
const directorySize = 1024

// frameHeaderSize and directoryEntrySize are exact: frameHeaderSize (120)
// plus an 8-byte absolute file offset gives the 128-byte directory entry
// spec.md §4.6 calls for.
const (
	frameHeaderSize   = 120
	directoryEntrySize = frameHeaderSize + 8
)

const (
	frameMarker         uint32 = 0x454D5246 // "FRME"
	directoryLinkMarker uint32 = 0x4B4E4C44 // "DLNK"
	attributeMarker     uint32 = 0x52545441 // "ATTR"
)

// AttributeType identifies the payload carried by an Attribute (spec.md
// §4.6).
type AttributeType uint8

const (
	// AttrData is the raw compressed segment payload.
	AttrData AttributeType = 0x00
	// AttrStreamDescription carries a stream's descriptor, attached to
	// every stream's zero frame.
	AttrStreamDescription AttributeType = 0x01
	// AttrAssociatedStreams lists a composite encoder's hidden
	// sub-stream ids, attached to the owning stream's zero frame.
	AttrAssociatedStreams AttributeType = 0x02
	// AttrEncoderSpecific is the first id an encoder may use for its own
	// attribute types.
	AttrEncoderSpecific AttributeType = 0x20
	// attrFlagLast marks the final attribute of a frame.
	attrFlagLast AttributeType = 0x80
)

// invalidSequenceNumber marks a container's zero frame (spec.md §4.6:
// "sequence_number == INVALID").
var invalidSequenceNumber = simtypes.SegmentSequenceNumber(simtypes.Invalid)
