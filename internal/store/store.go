// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package store implements the Store lifecycle and session refcounting
// that sit above components C1-C9: creating or opening a Simtrace v3
// container, rebuilding its streams on open (spec.md §4.6 open protocol),
// registering new streams, and tearing the whole thing down once the last
// session releases it (spec.md §3: "reference-counted by session; the last
// release triggers header finalisation and encoder shutdown").
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kit-simutrace/simutrace/internal/config"
	"github.com/kit-simutrace/simutrace/internal/container"
	"github.com/kit-simutrace/simutrace/internal/encoder"
	"github.com/kit-simutrace/simutrace/internal/locindex"
	"github.com/kit-simutrace/simutrace/internal/segbuf"
	"github.com/kit-simutrace/simutrace/internal/simtypes"
	"github.com/kit-simutrace/simutrace/internal/storepath"
	"github.com/kit-simutrace/simutrace/internal/streamdir"
	"github.com/kit-simutrace/simutrace/internal/vpc4"
	"github.com/kit-simutrace/simutrace/internal/workpool"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// frameStoreProxy forwards encoder.FrameStore calls to a *container.Container
// assigned only after Create/Open finishes constructing it. Replay handlers
// need a FrameStore to build each stream's encoder before the Container
// they'll eventually call back into exists as a returned value, so every
// encoder is handed this indirection instead of the container directly;
// WriteFrame/ReadFrame are never invoked until after c is set; replay itself
// only reaches onZeroFrame/onDataFrame, which build encoders without
// calling through them.
type frameStoreProxy struct {
	c *container.Container
}

func (p *frameStoreProxy) WriteFrame(ctx context.Context, req encoder.FrameWriteRequest) (*locindex.StorageLocation, error) {
	return p.c.WriteFrame(ctx, req)
}

func (p *frameStoreProxy) ReadFrame(ctx context.Context, loc *locindex.StorageLocation) (encoder.FrameData, error) {
	return p.c.ReadFrame(ctx, loc)
}

var _ encoder.FrameStore = (*frameStoreProxy)(nil)

// Store is one open Simtrace v3 container together with the live state
// (streams, encoders, worker pool, segment pool) built on top of it.
type Store struct {
	mu sync.Mutex

	path   string
	cfg    config.Config
	logger *slog.Logger

	container  *container.Container
	frameStore *frameStoreProxy
	pool       *segbuf.Pool
	pools      *workpool.Pools
	registry   *encoder.Registry

	streams      map[simtypes.StreamId]*streamdir.Stream
	encoders     map[simtypes.StreamId]encoder.Encoder
	nextStreamID uint32

	sessionRefs map[simtypes.SessionId]int
	totalRefs   int

	readOnly bool
	closed   bool

	housekeeping *cron.Cron
}

// newRegistry returns the factory map every store binds: the default
// pass-through encoder (registered by encoder.NewRegistry itself) plus the
// VPC4 memory encoder under its well-known type GUID.
func newRegistry() *encoder.Registry {
	r := encoder.NewRegistry()
	r.Register(vpc4.TypeGUID, vpc4.NewEncoder)
	return r
}

// segmentCount derives the server-side segment pool's capacity from the
// client-facing shared-memory pool size (client.memmgmt.poolSize, in MiB):
// the server never needs more segments resident than a client could ever
// have outstanding against its own pool.
func segmentCount(cfg config.Config) int {
	mib := cfg.Client.MemMgmt.PoolSize
	n := (mib * 1024 * 1024) / segbuf.SegmentSize
	if n < 1 {
		n = 1
	}
	return n
}

// Create initializes a brand new store at locator (spec.md §3: "created —
// overwrites allowed"), after a disk-space precheck (SPEC_FULL.md §B).
func Create(cfg config.Config, logger *slog.Logger, locator string) (*Store, error) {
	path, err := resolvePath(cfg, locator)
	if err != nil {
		return nil, err
	}
	if err := checkDiskSpace(cfg.Store.Simtrace.Root); err != nil {
		return nil, err
	}

	pool, err := segbuf.New(path, segmentCount(cfg), cfg.Server.MemMgmt)
	if err != nil {
		return nil, err
	}

	s := &Store{
		path:        path,
		cfg:         cfg,
		logger:      logger,
		frameStore:  &frameStoreProxy{},
		pool:        pool,
		pools:       workpool.New(pool.Len()),
		registry:    newRegistry(),
		streams:     make(map[simtypes.StreamId]*streamdir.Stream),
		encoders:    make(map[simtypes.StreamId]encoder.Encoder),
		sessionRefs: make(map[simtypes.SessionId]int),
	}

	c, err := container.Create(path)
	if err != nil {
		return nil, err
	}
	s.container = c
	s.frameStore.c = c

	if err := s.startHousekeeping(); err != nil {
		c.Close()
		return nil, err
	}

	logger.Info("store created", "path", path, "segments", pool.Len())
	return s, nil
}

// Open maps an existing store file, replaying every frame to rebuild its
// streams and location indices before returning (spec.md §4.6 open
// protocol). Extending an opened store is forbidden (spec.md §9 open
// question); this core never writes to a store opened via Open.
func Open(cfg config.Config, logger *slog.Logger, locator string) (*Store, error) {
	path, err := resolvePath(cfg, locator)
	if err != nil {
		return nil, err
	}

	pool, err := segbuf.New(path, segmentCount(cfg), cfg.Server.MemMgmt)
	if err != nil {
		return nil, err
	}

	s := &Store{
		path:        path,
		cfg:         cfg,
		logger:      logger,
		frameStore:  &frameStoreProxy{},
		pool:        pool,
		pools:       workpool.New(pool.Len()),
		registry:    newRegistry(),
		streams:     make(map[simtypes.StreamId]*streamdir.Stream),
		encoders:    make(map[simtypes.StreamId]encoder.Encoder),
		sessionRefs: make(map[simtypes.SessionId]int),
		readOnly:    true,
	}

	c, err := container.Open(path, container.ReplayHandlers{
		OnZeroFrame: s.onZeroFrame,
		OnDataFrame: s.onDataFrame,
	})
	if err != nil {
		return nil, err
	}
	s.container = c
	s.frameStore.c = c
	// s.readOnly stays true: the open question of spec.md §9 ("extending an
	// existing store") is resolved by preserving the source's _readMode=true
	// ban — an opened store may be read from but never appended to or
	// registered with new streams, until a migration strategy exists.

	if err := s.startHousekeeping(); err != nil {
		c.Close()
		return nil, err
	}

	logger.Info("store opened", "path", path, "streams", len(s.streams))
	return s, nil
}

func resolvePath(cfg config.Config, locator string) (string, error) {
	path, err := storepath.Resolve(cfg.Store.Simtrace.Root, locator)
	if err != nil {
		return "", err
	}
	if err := storepath.RequireStoreExtension(path); err != nil {
		return "", err
	}
	return path, nil
}

// onZeroFrame rebuilds one stream's directory entry and encoder from its
// replayed descriptor (SPEC_FULL.md §C.4: zero frames are replayed before
// any data frame of that stream).
func (s *Store) onZeroFrame(stream simtypes.StreamId, desc simtypes.StreamDescriptor, associated []simtypes.StreamId) error {
	if len(associated) > 0 {
		s.logger.Debug("ignoring associated-stream attribute from an independent hidden-stream layout", "stream", stream)
	}

	enc, err := s.registry.New(stream, desc, s.frameStore, s.pools)
	if err != nil {
		return fmt.Errorf("rebuilding encoder for stream %d: %w", stream, err)
	}
	s.streams[stream] = streamdir.New(stream, desc, s.pool, enc, s.cfg.Server.MemMgmt, s.logger)
	s.encoders[stream] = enc

	if uint32(stream) >= s.nextStreamID {
		s.nextStreamID = uint32(stream) + 1
	}
	return nil
}

// onDataFrame restores one previously persisted segment into its stream's
// directory.
func (s *Store) onDataFrame(stream simtypes.StreamId, loc *locindex.StorageLocation) error {
	st, ok := s.streams[stream]
	if !ok {
		return fmt.Errorf("%w: data frame for unregistered stream %d", simtypes.ErrCorruption, stream)
	}
	return st.RestoreSegment(loc)
}

// RegisterStream binds a brand-new stream to the store (wire contract's
// StreamRegister, spec.md §4.5/§4.6): it resolves desc.Type to an encoder,
// records the zero frame, and opens the stream's directory for Append.
func (s *Store) RegisterStream(desc simtypes.StreamDescriptor) (simtypes.StreamId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, fmt.Errorf("%w: store is closed", simtypes.ErrInvalidOperation)
	}
	if s.readOnly {
		return 0, fmt.Errorf("%w: store is read-only", simtypes.ErrInvalidOperation)
	}

	id := simtypes.StreamId(s.nextStreamID)
	enc, err := s.registry.New(id, desc, s.frameStore, s.pools)
	if err != nil {
		return 0, err
	}
	if err := s.container.WriteZeroFrame(id, desc, nil); err != nil {
		return 0, err
	}

	s.nextStreamID++
	s.streams[id] = streamdir.New(id, desc, s.pool, enc, s.cfg.Server.MemMgmt, s.logger)
	s.encoders[id] = enc

	s.logger.Info("stream registered", "stream", id, "name", desc.Name, "entrySize", desc.EntrySize)
	return id, nil
}

// Stream resolves id to its directory, or simtypes.ErrNotFound.
func (s *Store) Stream(id simtypes.StreamId) (*streamdir.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[id]
	if !ok {
		return nil, simtypes.ErrNotFound
	}
	return st, nil
}

// Streams returns every registered stream, in no particular order.
func (s *Store) Streams() []*streamdir.Stream {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*streamdir.Stream, 0, len(s.streams))
	for _, st := range s.streams {
		out = append(out, st)
	}
	return out
}

// AcquireSession records that session now holds this store open (wire
// contract's StoreOpen/StoreCreate response, spec.md §3: "reference-counted
// by session").
func (s *Store) AcquireSession(session simtypes.SessionId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionRefs[session]++
	s.totalRefs++
}

// ReleaseSession releases session's hold on the store (wire contract's
// StoreClose): it first releases every segment reference the session holds
// across all streams, then — if this was the store's last session — drains
// and tears the whole store down (spec.md §3).
func (s *Store) ReleaseSession(ctx context.Context, session simtypes.SessionId) error {
	s.mu.Lock()
	if s.sessionRefs[session] <= 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: session %d holds no reference on store", simtypes.ErrInvalidOperation, session)
	}
	s.sessionRefs[session]--
	if s.sessionRefs[session] == 0 {
		delete(s.sessionRefs, session)
	}
	s.totalRefs--
	last := s.totalRefs == 0
	streams := make([]*streamdir.Stream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	s.mu.Unlock()

	// Every stream's segment references are independent of one another, so
	// releasing them fans out instead of walking the list serially.
	g, gctx := errgroup.WithContext(ctx)
	for _, st := range streams {
		g.Go(func() error { return st.CloseSession(gctx, session) })
	}
	releaseErr := g.Wait()
	if releaseErr != nil {
		s.logger.Warn("releasing session references on store close", "session", session, "error", releaseErr)
	}

	if !last {
		return releaseErr
	}
	if err := s.teardown(ctx); err != nil {
		return err
	}
	return releaseErr
}

// teardown drains every encoder's in-flight work, stamps the closing
// header, and releases the underlying file (spec.md §3, §4.6 close
// protocol). It applies server.session.closeTimeout as the grace period
// spec.md §5 describes before a hanging worker forces the store read-only.
func (s *Store) teardown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: store already closed", simtypes.ErrInvalidOperation)
	}
	s.closed = true
	s.housekeeping.Stop()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wait := workpool.NewWait(len(s.encoders))
		for _, enc := range s.encoders {
			enc.Close(wait)
		}
		wait.Wait()
		s.pools.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.Server.Session.CloseTimeout):
		s.logger.Error("store teardown exceeded closeTimeout, forcing read-only", "path", s.path)
		s.mu.Lock()
		s.readOnly = true
		s.mu.Unlock()
	}

	if s.cfg.Store.Simtrace.LogStreamStats {
		s.logStreamStats()
	}

	s.container.SetEndTime(simtypes.Timestamp(time.Now().UnixNano()))
	if err := s.container.Finalize(); err != nil {
		return err
	}
	return s.container.Close()
}

// logStreamStats logs a per-stream summary line on close (SPEC_FULL.md
// §C.5), in place of the original's printed table.
func (s *Store) logStreamStats() {
	for id, st := range s.streams {
		stats := st.Stats()
		var info encoder.StreamInfo
		if enc, ok := s.encoders[id]; ok {
			enc.QueryStreamInfo(&info)
		}
		s.logger.Info("stream stats",
			"stream", id,
			"name", st.Descriptor.Name,
			"segments", stats.SegmentCount,
			"lastSequenceNumber", stats.LastSequenceNumber,
			"aggregatedCompressedSize", info.AggregatedCompressedSize,
		)
	}
}

// Path reports the store's resolved on-disk path.
func (s *Store) Path() string { return s.path }

// ReadOnly reports whether the store is read-only: it is set for a store
// opened via Open, and forced when teardown exceeds closeTimeout. While it
// is set, RegisterStream is refused. No other failure (an I/O error or a
// cookie mismatch) sets it.
func (s *Store) ReadOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readOnly
}
