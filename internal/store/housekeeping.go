// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package store

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// startHousekeeping schedules the store's periodic maintenance sweep on
// server.housekeeping.schedule, following the teacher's per-entity cron
// scheduler shape (internal/agent/scheduler.go in nishisan-dev/n-backup).
func (s *Store) startHousekeeping() error {
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug))))
	if _, err := c.AddFunc(s.cfg.Server.Housekeeping.Schedule, s.runHousekeeping); err != nil {
		return fmt.Errorf("scheduling housekeeping for store %s: %w", s.path, err)
	}
	s.housekeeping = c
	c.Start()
	return nil
}

// runHousekeeping demotes unconsumed prefetched segments to ordinary
// eviction candidates after their first cache pass (spec.md §9 open
// question), and reports pool occupancy at Debug level.
func (s *Store) runHousekeeping() {
	if s.pool == nil {
		return
	}
	n := s.pool.DemotePrefetched(s.path)
	stats := s.pool.Stats()
	s.logger.Debug("housekeeping sweep",
		"path", s.path,
		"demotedPrefetch", n,
		"poolFree", stats.Free,
		"poolStandby", stats.Standby,
		"poolInUse", stats.InUse,
	)
}
