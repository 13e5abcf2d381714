package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/statewatch/internal/bus"
	"git.home.luguber.info/inful/statewatch/internal/config"
	"git.home.luguber.info/inful/statewatch/internal/events"
	"git.home.luguber.info/inful/statewatch/internal/extract"
	"git.home.luguber.info/inful/statewatch/internal/ingest"
	"git.home.luguber.info/inful/statewatch/internal/metrics"
	"git.home.luguber.info/inful/statewatch/internal/publish"
	"git.home.luguber.info/inful/statewatch/internal/server"
	"git.home.luguber.info/inful/statewatch/internal/store"
	"git.home.luguber.info/inful/statewatch/internal/watch"
)

// runDaemon wires the full pipeline: watcher and rescanner feed detections
// onto the bus, the scheduler ingests, the store persists, and the HTTP API
// and optional NATS publisher expose the results.
func runDaemon(configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := store.New(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	eventBus := bus.New()
	defer eventBus.Close()

	registry := prometheus.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(registry)
	detector := events.New(cfg.Events)
	runner := ingest.NewSubprocessRunner(logger)
	runner.ExtraArgs = limitArgs(cfg.Extract.Limits)

	sched := ingest.New(cfg.Ingest, db, detector, eventBus, recorder, runner, logger)
	sched.Start(ctx)

	// Detections from both sources flow to the scheduler.
	detections, unsubscribe := bus.Subscribe[bus.StateFileDetected](eventBus, 32)
	go func() {
		for d := range detections {
			sched.NotifyNewState(d.Path, d.ObservedAt)
		}
	}()
	defer unsubscribe()

	watcher, err := watch.New(cfg.Watch, eventBus, logger)
	if err != nil {
		return err
	}
	watcher.Start(ctx)
	defer watcher.Stop()

	rescanner, err := watch.NewRescanner(cfg.Watch, cfg.Rescan.Interval, eventBus, logger)
	if err != nil {
		return err
	}
	if err := rescanner.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := rescanner.Stop(); err != nil {
			logger.Warn("rescanner shutdown failed", slog.String("error", err.Error()))
		}
	}()

	if cfg.Publish.Enabled {
		pub, err := publish.New(publish.Config{URL: cfg.Publish.URL, Subject: cfg.Publish.Subject}, logger)
		if err != nil {
			return fmt.Errorf("start publisher: %w", err)
		}
		defer pub.Close()
		go pub.Run(ctx, eventBus)
	}

	var api *server.Server
	if cfg.Server.Enabled {
		api = server.New(cfg.Server.Addr, sched, db, metrics.HTTPHandler(registry), logger)
		if err := api.Start(ctx); err != nil {
			return fmt.Errorf("start http api: %w", err)
		}
	}

	logger.Info("statewatch daemon running",
		slog.Any("dirs", cfg.Watch.Dirs),
		slog.String("db", cfg.Store.Path))

	<-ctx.Done()
	logger.Info("shutdown signal received")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if api != nil {
		if err := api.Stop(stopCtx); err != nil {
			logger.Warn("http shutdown failed", slog.String("error", err.Error()))
		}
	}
	if err := sched.Stop(stopCtx); err != nil {
		return err
	}
	logger.Info("daemon stopped")
	return nil
}

// limitArgs forwards configured list limits to the extract subcommand.
func limitArgs(limits extract.Tier2Options) []string {
	var args []string
	if limits.MaxColonies > 0 {
		args = append(args, fmt.Sprintf("--max-colonies=%d", limits.MaxColonies))
	}
	if limits.MaxLeaders > 0 {
		args = append(args, fmt.Sprintf("--max-leaders=%d", limits.MaxLeaders))
	}
	if limits.MaxTechs > 0 {
		args = append(args, fmt.Sprintf("--max-techs=%d", limits.MaxTechs))
	}
	if limits.MaxWars > 0 {
		args = append(args, fmt.Sprintf("--max-wars=%d", limits.MaxWars))
	}
	return args
}
