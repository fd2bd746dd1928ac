// Package main provides the docpipe ingestion server.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/docpipe/internal/config"
	"github.com/raphaelgruber/docpipe/internal/db"
	"github.com/raphaelgruber/docpipe/internal/ingest"
	"github.com/raphaelgruber/docpipe/internal/llm"
	"github.com/raphaelgruber/docpipe/internal/metrics"
	"github.com/raphaelgruber/docpipe/internal/models"
	"github.com/raphaelgruber/docpipe/internal/server"
	"github.com/raphaelgruber/docpipe/internal/service"
)

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	flag.Parse()

	cfg := config.Load()

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer closeLog()
	slog.SetDefault(logger)

	slog.Info("starting docpipe-server", "port", cfg.HTTPPort, "workers", cfg.Workers)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	dbClient, err := db.NewClient(ctx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, logger)
	cancel()
	if err != nil {
		slog.Error("failed to connect to SurrealDB", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(context.Background()); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	if *wipeDB || os.Getenv("DOCPIPE_WIPE_DB") == "true" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := dbClient.WipeData(ctx)
		cancel()
		if err != nil {
			slog.Error("failed to wipe database", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	err = dbClient.InitSchema(ctx, cfg.EmbedDimension)
	cancel()
	if err != nil {
		slog.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}

	collector := metrics.NewCollector()
	dbClient.SetMetrics(collector)

	var captioner ingest.Captioner
	if c, err := llm.NewCaptioner(cfg); err != nil {
		slog.Warn("captioning unavailable, enriched jobs will use filename labels", "error", err)
	} else {
		c.SetMetrics(collector)
		captioner = c
	}

	registry := ingest.NewRegistry(
		ingest.NewDocumentStrategy(),
		ingest.NewCrawlStrategy(),
		ingest.NewTranscriptStrategy(),
		ingest.NewEnrichedStrategy(captioner),
	)

	manager := service.NewJobManager(dbClient, registry, cfg.HeartbeatTimeout)
	sink := service.NewSurrealSink(dbClient, cfg, collector)

	resolve := func(ctx context.Context, collectionID string) (*models.Collection, error) {
		return dbClient.GetCollection(ctx, collectionID)
	}

	executor, err := service.NewExecutor(cfg.Workers, cfg.SinkBatchSize, manager, registry, sink, resolve, collector)
	if err != nil {
		slog.Error("failed to create executor", "error", err)
		os.Exit(1)
	}
	defer executor.Shutdown()

	// Reconcile jobs left over from a previous process lifetime.
	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	recovered, err := manager.RecoverJobs(ctx)
	cancel()
	if err != nil {
		slog.Error("failed to recover jobs", "error", err)
		os.Exit(1)
	}
	for _, job := range recovered {
		executor.Enqueue(job)
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	manager.StartSweeper(sweepCtx, cfg.SweepInterval)

	srv := server.New(cfg, manager, executor, resolve, collector, logger)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}
