// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package container

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/kit-simutrace/simutrace/internal/encoder"
	"github.com/kit-simutrace/simutrace/internal/locindex"
	"github.com/kit-simutrace/simutrace/internal/simtypes"
)

// ReplayHandlers receives the frames a container walks during Open, so the
// store layer can rebuild its in-memory streams and location indices
// without this package needing to import streamdir (spec.md §4.6 open
// protocol, step 2).
type ReplayHandlers struct {
	// OnZeroFrame is invoked once per stream, in the order its zero frame
	// was originally written, carrying the stream's descriptor and (for a
	// composite encoder's backbone stream) its hidden sub-stream ids.
	OnZeroFrame func(stream simtypes.StreamId, desc simtypes.StreamDescriptor, associatedStreams []simtypes.StreamId) error
	// OnDataFrame is invoked once per persisted segment, in append order.
	OnDataFrame func(stream simtypes.StreamId, loc *locindex.StorageLocation) error
}

// Container is one open Simtrace v3 store file. It implements
// encoder.FrameStore so the encoder framework can persist and retrieve
// compressed segment frames without depending on this package directly.
type Container struct {
	mu sync.Mutex

	f    *os.File
	path string
	hdr  *header

	writeOffset  uint64
	curDirOffset uint64
	curDirCount  int
}

var _ encoder.FrameStore = (*Container)(nil)

// Create initializes a brand new store file at path, writing a dirty
// header with no frames yet.
func Create(path string) (*Container, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating store file %s: %w", path, err)
	}

	c := &Container{
		f:            f,
		path:         path,
		hdr:          newHeader(),
		writeOffset:  headerRegionSize,
		curDirOffset: invalidFileOffset,
	}
	if err := c.flushHeaderLocked(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return c, nil
}

// Open maps an existing store file, replaying every frame through handlers
// to let the caller rebuild its streams and location indices (spec.md §4.6
// open protocol).
func Open(path string, handlers ReplayHandlers) (*Container, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening store file %s: %w", path, err)
	}

	buf := make([]byte, headerRegionSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("reading store header %s: %w", path, err)
	}
	hdr, err := decodeHeader(buf)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decoding store header %s: %w", path, err)
	}
	if hdr.dirtyFlag {
		f.Close()
		// Recovery from an unclean shutdown is an open question (spec.md
		// §9): the store must be repaired out of band before it can be
		// reopened.
		return nil, fmt.Errorf("%w: store %s was not closed cleanly and needs recovery", simtypes.ErrCorruption, path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat store file %s: %w", path, err)
	}

	c := &Container{
		f:           f,
		path:        path,
		hdr:         hdr,
		writeOffset: uint64(info.Size()),
	}
	if err := c.walkDirectory(func(entry *directoryEntry) error {
		return c.replayEntry(entry, handlers)
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("replaying store %s: %w", path, err)
	}

	// A store reopened for appending is dirty again until cleanly closed.
	c.hdr.dirtyFlag = true
	if err := c.flushHeaderLocked(); err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) replayEntry(entry *directoryEntry, handlers ReplayHandlers) error {
	fh := entry.frameHeader
	if fh.isZeroFrame() {
		attrs, err := c.readAttributes(entry.frameOffset, fh.totalSize)
		if err != nil {
			return err
		}
		var desc simtypes.StreamDescriptor
		var associated []simtypes.StreamId
		for _, a := range attrs {
			switch a.typ {
			case AttrStreamDescription:
				if desc, err = decodeStreamDescription(a.data); err != nil {
					return err
				}
			case AttrAssociatedStreams:
				if associated, err = decodeAssociatedStreams(a.data); err != nil {
					return err
				}
			}
		}
		if handlers.OnZeroFrame != nil {
			return handlers.OnZeroFrame(fh.streamID, desc, associated)
		}
		return nil
	}

	loc, err := c.buildStorageLocation(fh, entry.frameOffset)
	if err != nil {
		return err
	}
	if handlers.OnDataFrame != nil {
		return handlers.OnDataFrame(fh.streamID, loc)
	}
	return nil
}

// readAttributes reads and decodes every attribute following the frame
// header at frameOffset, given the frame's total on-disk size.
func (c *Container) readAttributes(frameOffset uint64, totalSize uint64) ([]*attribute, error) {
	attrBytes := totalSize - frameHeaderSize
	if attrBytes == 0 {
		return nil, nil
	}
	buf := make([]byte, attrBytes)
	if _, err := c.f.ReadAt(buf, int64(frameOffset)+frameHeaderSize); err != nil {
		return nil, fmt.Errorf("reading frame attributes: %w", err)
	}

	var attrs []*attribute
	off := 0
	for off < len(buf) {
		a, n, err := decodeAttributeAt(buf[off:])
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, a)
		off += n
		if a.last {
			break
		}
	}
	return attrs, nil
}

func (c *Container) buildStorageLocation(fh *frameHeader, frameOffset uint64) (*locindex.StorageLocation, error) {
	attrs, err := c.readAttributes(frameOffset, fh.totalSize)
	if err != nil {
		return nil, err
	}
	var compressedSize uint64
	for _, a := range attrs {
		if a.typ == AttrData || a.typ == AttrEncoderSpecific {
			compressedSize += uint64(len(a.data))
		}
	}

	loc := &locindex.StorageLocation{
		Link:           locindex.Link{Stream: fh.streamID, SequenceNumber: fh.sequenceNumber},
		RawEntryCount:  uint64(fh.rawEntryCount),
		CompressedSize: compressedSize,
		Offset:         frameOffset,
		Size:           fh.totalSize,
	}
	indexEnd := fh.startIndex
	if fh.rawEntryCount > 0 {
		indexEnd = fh.startIndex + uint64(fh.rawEntryCount) - 1
	}
	loc.Ranges[simtypes.QIndex] = locindex.Range{Start: fh.startIndex, End: indexEnd}
	loc.Ranges[simtypes.QCycleCount] = locindex.Range{Start: uint64(fh.startCycle), End: uint64(fh.endCycle)}
	loc.Ranges[simtypes.QRealTime] = locindex.Range{Start: uint64(fh.startTime), End: uint64(fh.endTime)}
	return loc, nil
}

// writeFrameLocked serializes fh and attrs, appends them at the current
// write offset, records a directory entry, and updates the header's
// running aggregates. Callers must hold c.mu.
func (c *Container) writeFrameLocked(fh *frameHeader, attrs []*attribute) (uint64, error) {
	var body []byte
	offset := uint64(frameHeaderSize)
	for i, a := range attrs {
		enc := a.encode()
		if i < len(fh.attributeLinks) {
			fh.attributeLinks[i] = attributeLink{typ: a.typ, offset: offset}
		}
		offset += uint64(len(enc))
		body = append(body, enc...)
	}
	fh.attributeCount = uint8(len(attrs))
	fh.totalSize = uint64(frameHeaderSize) + uint64(len(body))

	frameOffset := c.writeOffset
	buf := make([]byte, 0, fh.totalSize)
	buf = append(buf, fh.encode()...)
	buf = append(buf, body...)
	if _, err := c.f.WriteAt(buf, int64(frameOffset)); err != nil {
		return 0, fmt.Errorf("writing frame: %w", err)
	}
	c.writeOffset += fh.totalSize

	if err := c.appendDirectoryEntry(fh, frameOffset); err != nil {
		return 0, err
	}

	c.hdr.dirtyFlag = true
	c.hdr.frameCount++
	c.hdr.entryCount += uint64(fh.entryCount)
	c.hdr.rawEntryCount += uint64(fh.rawEntryCount)
	c.hdr.fileSize = c.writeOffset
	for _, a := range attrs {
		c.hdr.uncompressedFileSize += a.uncompressedSize
	}
	if err := c.flushHeaderLocked(); err != nil {
		return 0, err
	}
	return frameOffset, nil
}

// WriteZeroFrame records stream's zero frame: its descriptor and, for a
// composite encoder's backbone stream, its hidden sub-stream ids (spec.md
// §4.6: "recorded on stream registration").
func (c *Container) WriteZeroFrame(stream simtypes.StreamId, desc simtypes.StreamDescriptor, associatedStreams []simtypes.StreamId) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var attrs []*attribute
	if len(associatedStreams) > 0 {
		attrs = append(attrs, &attribute{typ: AttrAssociatedStreams, data: encodeAssociatedStreams(associatedStreams)})
	}
	attrs = append(attrs, &attribute{typ: AttrStreamDescription, data: encodeStreamDescription(desc), last: true})

	fh := &frameHeader{sequenceNumber: invalidSequenceNumber, streamID: stream, typeID: desc.Type}
	_, err := c.writeFrameLocked(fh, attrs)
	return err
}

// WriteFrame implements encoder.FrameStore: it persists a data frame and
// returns the StorageLocation describing where it landed.
func (c *Container) WriteFrame(ctx context.Context, req encoder.FrameWriteRequest) (*locindex.StorageLocation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var attrs []*attribute
	if len(req.AssociatedStreams) > 0 {
		attrs = append(attrs, &attribute{typ: AttrAssociatedStreams, data: encodeAssociatedStreams(req.AssociatedStreams)})
	}
	for _, hs := range req.HiddenSections {
		attrs = append(attrs, &attribute{
			typ:              AttrEncoderSpecific,
			uncompressedSize: uint64(hs.UncompressedSize),
			data:             hs.Compressed,
		})
	}
	attrs = append(attrs, &attribute{
		typ:              AttrData,
		uncompressedSize: uint64(req.UncompressedSize),
		data:             req.Compressed,
		last:             true,
	})

	fh := &frameHeader{
		sequenceNumber: req.SequenceNumber,
		streamID:       req.Stream,
		// This core does not distinguish a transformed "logical" entry
		// count from the raw entry count the client wrote; every encoder
		// this store ships reports the same value for both.
		entryCount:    uint32(req.RawEntryCount),
		rawEntryCount: uint32(req.RawEntryCount),
		startTime:     req.StartTime,
		endTime:       req.EndTime,
		startCycle:    req.StartCycle,
		endCycle:      req.EndCycle,
		startIndex:    req.StartIndex,
	}

	frameOffset, err := c.writeFrameLocked(fh, attrs)
	if err != nil {
		return nil, err
	}

	compressedSize := uint64(len(req.Compressed))
	for _, hs := range req.HiddenSections {
		compressedSize += uint64(len(hs.Compressed))
	}

	loc := &locindex.StorageLocation{
		Link:           locindex.Link{Stream: req.Stream, SequenceNumber: req.SequenceNumber},
		RawEntryCount:  req.RawEntryCount,
		CompressedSize: compressedSize,
		Offset:         frameOffset,
		Size:           fh.totalSize,
	}
	indexEnd := fh.startIndex
	if req.RawEntryCount > 0 {
		indexEnd = fh.startIndex + req.RawEntryCount - 1
	}
	loc.Ranges[simtypes.QIndex] = locindex.Range{Start: fh.startIndex, End: indexEnd}
	loc.Ranges[simtypes.QCycleCount] = locindex.Range{Start: uint64(fh.startCycle), End: uint64(fh.endCycle)}
	loc.Ranges[simtypes.QRealTime] = locindex.Range{Start: uint64(fh.startTime), End: uint64(fh.endTime)}
	return loc, nil
}

// ReadFrame implements encoder.FrameStore: it fetches loc's compressed
// payload back off disk.
func (c *Container) ReadFrame(ctx context.Context, loc *locindex.StorageLocation) (encoder.FrameData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	headerBuf := make([]byte, frameHeaderSize)
	if _, err := c.f.ReadAt(headerBuf, int64(loc.Offset)); err != nil {
		return encoder.FrameData{}, fmt.Errorf("reading frame header: %w", err)
	}
	fh, err := decodeFrameHeader(headerBuf)
	if err != nil {
		return encoder.FrameData{}, err
	}

	attrs, err := c.readAttributes(loc.Offset, fh.totalSize)
	if err != nil {
		return encoder.FrameData{}, err
	}
	var (
		found  bool
		result encoder.FrameData
		hidden []encoder.HiddenSection
	)
	for _, a := range attrs {
		switch a.typ {
		case AttrData:
			result.Compressed = a.data
			result.UncompressedSize = int(a.uncompressedSize)
			found = true
		case AttrEncoderSpecific:
			hidden = append(hidden, encoder.HiddenSection{Compressed: a.data, UncompressedSize: int(a.uncompressedSize)})
		}
	}
	if !found {
		return encoder.FrameData{}, fmt.Errorf("%w: frame has no data attribute", simtypes.ErrCorruption)
	}
	result.HiddenSections = hidden
	return result, nil
}

func (c *Container) flushHeaderLocked() error {
	if _, err := c.f.WriteAt(c.hdr.encode(), 0); err != nil {
		return fmt.Errorf("writing store header: %w", err)
	}
	return nil
}

// SetEndTime records the store's closing wall-clock time, reported in the
// header on the next flush.
func (c *Container) SetEndTime(t simtypes.Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hdr.endTime = t
}

// Finalize clears the dirty flag and flushes the header (spec.md §4.6
// close protocol: "stamp end time, recompute header checksum, clear
// dirty"). The caller is responsible for having already drained every
// encoder before calling this.
func (c *Container) Finalize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hdr.dirtyFlag = false
	return c.flushHeaderLocked()
}

// Close releases the underlying file descriptor. Call Finalize first to
// leave the store in a cleanly-closed state.
func (c *Container) Close() error {
	return c.f.Close()
}
