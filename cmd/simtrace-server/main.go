// Copyright (c) 2026 Simutrace Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// simtrace-server is a minimal process wiring for the store core: it loads
// configuration, creates or opens the stores named under
// store.bootstrap.*, and runs until terminated. It stands in for the
// (unimplemented) network front end that would otherwise drive store and
// stream lifecycles over the wire (spec.md §6.2; SPEC_FULL.md §D).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kit-simutrace/simutrace/internal/config"
	"github.com/kit-simutrace/simutrace/internal/logging"
	"github.com/kit-simutrace/simutrace/internal/simtypes"
	"github.com/kit-simutrace/simutrace/internal/store"
)

func main() {
	configPath := flag.String("config", "/etc/simtrace/server.yaml", "path to server config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, closer := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	stores, err := bootstrapStores(cfg, logger)
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	logger.Info("simtrace-server ready", "stores", len(stores))
	<-ctx.Done()

	session := serverSession()
	for locator, st := range stores {
		if err := st.ReleaseSession(context.Background(), session); err != nil {
			logger.Error("closing store", "locator", locator, "error", err)
		}
	}
}

// bootstrapStores creates/opens every store named in store.bootstrap,
// holding one server-owned session reference on each for the lifetime of
// the process (released only on shutdown).
func bootstrapStores(cfg config.Config, logger *slog.Logger) (map[string]*store.Store, error) {
	stores := make(map[string]*store.Store)
	session := serverSession()

	for _, locator := range cfg.Store.Bootstrap.Create {
		st, err := store.Create(cfg, logger, locator)
		if err != nil {
			return nil, fmt.Errorf("creating store %q: %w", locator, err)
		}
		st.AcquireSession(session)
		stores[locator] = st
	}

	for _, locator := range cfg.Store.Bootstrap.Open {
		st, err := store.Open(cfg, logger, locator)
		if err != nil {
			return nil, fmt.Errorf("opening store %q: %w", locator, err)
		}
		st.AcquireSession(session)
		stores[locator] = st
	}

	return stores, nil
}

// serverSession is the fixed session id the bootstrap process itself holds
// each store open under (spec.md §3 scopes refcounting by session, and a
// standalone process with no transport has exactly one: its own).
func serverSession() simtypes.SessionId {
	return simtypes.ServerSessionId
}
