// Command pimd is the mediation server: it listens for client connections,
// decodes command frames, and drives them through session.Session against a
// store.Store, dispatching notifications to subscribers as side effects
// commit.
package main

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pim-systems/pimd/cmn"
	"github.com/pim-systems/pimd/config"
	"github.com/pim-systems/pimd/handlers"
	"github.com/pim-systems/pimd/notify"
	"github.com/pim-systems/pimd/session"
	"github.com/pim-systems/pimd/statscache"
	"github.com/pim-systems/pimd/store"
	"github.com/pim-systems/pimd/tree"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		cmn.Log.Fatalw("config: load failed", "error", err)
	}
	if err := cmn.InitLogging(cfg.Log.Level, cfg.Log.Encoding); err != nil {
		cmn.Log.Fatalw("logging: init failed", "error", err)
	}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		cmn.Log.Fatalw("store: open failed", "path", cfg.Store.Path, "error", err)
	}
	defer db.Close()

	blobs, err := store.NewBlobFS(cfg.Store.BlobDir)
	if err != nil {
		cmn.Log.Fatalw("store: blob dir open failed", "dir", cfg.Store.BlobDir, "error", err)
	}

	collTree := tree.New(db)
	if err := collTree.Hydrate(context.Background()); err != nil {
		cmn.Log.Fatalw("tree: hydrate failed", "error", err)
	}

	stats := statscache.New()
	if tx, err := db.Begin(); err == nil {
		if err := stats.Prefetch(tx); err != nil {
			cmn.Log.Warnw("statscache: prefetch failed", "error", err)
		}
		tx.Rollback()
	}

	manager := notify.NewManager(cfg.Notification.DispatchWorkers, cfg.Notification.CoalesceInterval)

	deps := &handlers.Deps{Tree: collTree, Stats: stats, Blobs: blobs}
	registry := deps.Registry()

	ln, err := net.Listen("tcp", cfg.Server.Address)
	if err != nil {
		cmn.Log.Fatalw("listen failed", "address", cfg.Server.Address, "error", err)
	}
	cmn.Log.Infow("pimd: listening", "address", cfg.Server.Address)

	stop := cmn.NewStopCh()
	go watchSignals(stop)
	go dumpSubscribersPeriodically(manager, stop)

	conns := cmn.NewLimitedWaitGroup(256)
	go acceptLoop(ln, db, registry, manager, stats, conns)

	<-stop.Listen()
	ln.Close()
	conns.Wait()
	cmn.Log.Infow("pimd: shut down")
}

// acceptLoop accepts connections until ln is closed (the sentinel for
// shutdown: Accept returns an error once the caller closes the listener),
// bounding live connections with conns so a connection spike can't spawn an
// unbounded number of goroutines.
func acceptLoop(ln net.Listener, db store.Store, registry session.Registry, manager *notify.Manager, stats *statscache.Cache, conns *cmn.LimitedWaitGroup) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conns.Add(1)
		go func() {
			defer conns.Done()
			serveConn(conn, db, registry, manager, stats)
		}()
	}
}

// watchSignals closes stop on SIGINT/SIGTERM, the trigger for the shutdown
// sequence in main: stop accepting, drain in-flight connections, exit.
func watchSignals(stop *cmn.StopCh) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	stop.Close()
}

// dumpSubscribersPeriodically writes manager.Snapshot() to a JSON file in
// the config directory so cmd/pimctl's subscribers command has something
// to read offline: Debug is a passive, dispatch-triggered push (spec §4.1),
// there is no live admin request/response channel into a running server to
// query subscribers directly.
func dumpSubscribersPeriodically(manager *notify.Manager, stop *cmn.StopCh) {
	path := subscribersSnapshotPath()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := writeSubscribersSnapshot(manager, path); err != nil {
				cmn.Log.Warnw("subscribers snapshot: write failed", "path", path, "error", err)
			}
		case <-stop.Listen():
			return
		}
	}
}

func subscribersSnapshotPath() string {
	dir := os.Getenv(config.EnvConfigDir)
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "subscribers.json")
}

func writeSubscribersSnapshot(manager *notify.Manager, path string) error {
	data, err := json.Marshal(manager.Snapshot())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
