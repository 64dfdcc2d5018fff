package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/refstack/ocrbridge/internal/api"
	"github.com/refstack/ocrbridge/internal/cache"
	"github.com/refstack/ocrbridge/internal/chunk"
	"github.com/refstack/ocrbridge/internal/config"
	"github.com/refstack/ocrbridge/internal/ocr"
	"github.com/refstack/ocrbridge/internal/pipeline"
	"github.com/refstack/ocrbridge/internal/progress"
	"github.com/refstack/ocrbridge/internal/zotero"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize clients. Reads can go through the local Zotero API; writes
	// always go through the web API.
	mistral := ocr.NewClient(cfg.MistralAPIKey, cfg.MistralModel, cfg.MistralBaseURL)
	zotRead := zotero.NewClient(cfg.ZoteroReadURL(), cfg.ZoteroAPIKey, cfg.ZoteroLibraryID, cfg.ZoteroLibraryType)
	zotWrite := zotero.NewClient(cfg.ZoteroBaseURL, cfg.ZoteroAPIKey, cfg.ZoteroLibraryID, cfg.ZoteroLibraryType)

	storage, err := zotero.NewStorage(zotRead, zotWrite, cfg.DataDir, cfg.ZoteroLocal, log)
	if err != nil {
		log.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}

	resultCache, err := cache.New(cfg.CacheDir, true, log)
	if err != nil {
		log.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}

	progressStore, err := progress.NewStore(cfg.ProgressDir)
	if err != nil {
		log.Error("failed to initialize progress store", "error", err)
		os.Exit(1)
	}

	planner := chunk.NewPlanner(cfg.PageLimit, cfg.MaxChunkPages, log)
	planner.MinLevel = cfg.MinTOCLevel
	planner.MaxLevel = cfg.MaxTOCLevel

	processor := pipeline.NewChunkProcessor(mistral,
		pipeline.RetryPolicy{MaxAttempts: cfg.MaxAttempts, BaseDelay: cfg.RetryBaseDelay},
		ocr.Options{ExtractImages: cfg.ExtractImages, TableFormat: cfg.TableFormat},
		log)

	worker := pipeline.NewWorker(zotRead, storage, processor, planner, progressStore, resultCache, cfg, log)

	orch := pipeline.NewOrchestrator(cfg, worker, log)
	orch.Start(ctx)

	srv := api.NewServer(orch, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		// Drain HTTP first so an in-flight submit cannot race the queue
		// close.
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		orch.Stop()

		mistral.Close()
		zotRead.Close()
		zotWrite.Close()
	}()

	log.Info("starting ocrbridge", "port", cfg.Port, "zotero_local", cfg.ZoteroLocal)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
