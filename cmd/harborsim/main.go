// Command harborsim runs the harbor world simulation service: the kernel,
// the SQLite store, the HTTP API, and the tick scheduler.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/talgya/harborsim/internal/api"
	"github.com/talgya/harborsim/internal/config"
	"github.com/talgya/harborsim/internal/persistence"
	"github.com/talgya/harborsim/internal/pricefeed"
	"github.com/talgya/harborsim/internal/sim"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	tuning, err := config.LoadTuning(cfg.TuningPath)
	if err != nil {
		slog.Error("tuning file invalid", "path", cfg.TuningPath, "error", err)
		os.Exit(1)
	}

	// Storage is a collaborator the kernel can live without: if the
	// database cannot be opened the world runs in-memory-only.
	var store *persistence.Store
	os.MkdirAll(filepath.Dir(cfg.DBPath), 0755)
	store, err = persistence.Open(cfg.DBPath)
	if err != nil {
		slog.Warn("database unavailable, running in-memory only", "path", cfg.DBPath, "error", err)
		store = nil
	} else {
		defer store.Close()
		slog.Info("database opened", "path", cfg.DBPath)
	}

	feed := pricefeed.NewClient(cfg.PriceFeedURL)
	if feed != nil {
		slog.Info("price feed enabled", "url", cfg.PriceFeedURL)
	}

	opts := sim.Options{Seed: cfg.Seed, Tuning: &tuning, Feed: feed}
	if store != nil {
		opts.Storage = store
	}
	engine := sim.New(opts)
	if err := engine.Restore(); err != nil {
		slog.Warn("state restore failed, starting fresh", "error", err)
	}

	state := engine.State()
	slog.Info("world ready", "tick", state.Tick, "agents", state.AgentCount, "hash", state.StateHash)

	if cfg.AdminKey == "" {
		slog.Warn("HARBORSIM_ADMIN_KEY not set, admin endpoints will be disabled")
	}

	server := &api.Server{
		Engine:   engine,
		Store:    store,
		Port:     cfg.Port,
		AdminKey: cfg.AdminKey,
	}
	server.Start()

	// Tick scheduler: the kernel never advances itself.
	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				summary := engine.AdvanceTick()
				slog.Info("tick",
					"tick", summary.Tick,
					"hash", summary.StateHash,
					"agents", summary.AgentCount,
					"new_events", len(summary.NewEvents),
					"ap_recovery", summary.APRecovery,
				)
			case <-done:
				return
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig)
	close(done)
}
