// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Command daemon runs the ace2g gateway: an HTTP service that multiplexes a
// bounded pool of AceStream engine slots and relays rewritten HLS manifests
// to clients.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ManuGH/ace2g/internal/acestream"
	"github.com/ManuGH/ace2g/internal/api"
	"github.com/ManuGH/ace2g/internal/config"
	"github.com/ManuGH/ace2g/internal/daemon"
	aclog "github.com/ManuGH/ace2g/internal/log"
	"github.com/ManuGH/ace2g/internal/mapping"
	"github.com/ManuGH/ace2g/internal/pool"
	"github.com/ManuGH/ace2g/internal/quality"
	"github.com/ManuGH/ace2g/internal/relay"
)

var (
	version   = "v0.3.0"
	commit    = "none"
	buildDate = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	aclog.Configure(aclog.Config{
		Level:   cfg.LogLevel,
		Service: "ace2g",
	})
	logger := aclog.WithComponent("daemon")
	logger.Info().
		Str("event", "daemon.start").
		Str("version", version).
		Str("listen", cfg.Listen).
		Str("engine", cfg.EngineBase).
		Int("pool_size", cfg.PoolSize).
		Msg("starting gateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error().Err(err).Str("event", "daemon.failed").Msg("gateway terminated")
		os.Exit(1)
	}
	logger.Info().Str("event", "daemon.stopped").Msg("gateway stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	logger := aclog.WithComponent("daemon")

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	mappings, err := mapping.Open(cfg.MappingPath())
	if err != nil {
		return fmt.Errorf("open mapping store: %w", err)
	}

	tracker, err := quality.NewTracker(cfg.QualityStorePath())
	if err != nil {
		return fmt.Errorf("open quality store: %w", err)
	}

	p := pool.New(acestream.New(cfg.EngineBase), pool.Config{
		MaxSize:        cfg.PoolSize,
		TranscodeAudio: cfg.TranscodeAudio,
		Recorder:       mappings,
	})
	rel := relay.New(p, tracker, cfg.EngineBase, cfg.PublicBase)

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.New(p, rel, tracker, cfg.RateLimitRPS).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancelTasks := context.WithCancel(ctx)
	defer cancelTasks()

	sup := daemon.NewSupervisor()
	sup.Add("poolboy", p.Run)
	sup.Add("quality-watch", tracker.Watch)

	supDone := make(chan struct{})
	go func() {
		defer close(supDone)
		sup.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("event", "daemon.listening").
			Str("addr", cfg.Listen).
			Msg("http server listening")
		serveErr <- httpServer.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	cancelTasks()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Str("event", "daemon.shutdown_timeout").Msg("http shutdown incomplete")
	}
	<-supDone
	return runErr
}
