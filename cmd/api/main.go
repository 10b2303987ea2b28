package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/donation-tracker/internal/api"
	"github.com/dvloznov/donation-tracker/internal/api/handlers"
	"github.com/dvloznov/donation-tracker/internal/app"
	"github.com/dvloznov/donation-tracker/internal/jobs/inmemory"
	"github.com/dvloznov/donation-tracker/internal/logger"
)

func main() {
	// Parse command-line flags
	var (
		port       = flag.String("port", "8080", "HTTP server port")
		configPath = flag.String("config", "config.yml", "Path to config.yml")
		envFile    = flag.String("env", "", "Dotenv file with provider secrets (defaults to .env)")
		spoolDir   = flag.String("spool-dir", os.TempDir(), "Directory for import files when no bucket is configured")
		maxRetries = flag.Int("max-retries", 2, "Retries of an ingest job that failed writing to the store")
	)
	flag.Parse()

	ctx := context.Background()

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}

	ctx, a, err := app.Bootstrap(ctx, *configPath, envFiles...)
	if err != nil {
		log := logger.New("info")
		log.Fatal().Err(err).Msg("Failed to start")
	}
	defer a.Close()
	log := logger.FromContext(ctx)

	authToken := os.Getenv("API_TOKEN")
	if authToken == "" {
		log.Warn().Msg("API_TOKEN is not set - /api endpoints are unauthenticated")
	}
	bucket := a.Config.Imports.Bucket
	if bucket == "" {
		log.Warn().Str("spool_dir", *spoolDir).Msg("No imports bucket configured - uploaded files are kept locally")
	}

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, a.Config.Ingest.Workers, jobStore)
	jobQueue.MaxRetries = *maxRetries

	// Start worker in background to process jobs
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if err := jobQueue.Start(workerCtx, a.Runner.Handle); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}

	router := api.NewRouter(api.Handlers{
		Runs:    handlers.NewRunsHandler(jobQueue, jobStore, a.Config),
		Sources: handlers.NewSourcesHandler(a.Runner),
		Imports: handlers.NewImportsHandler(jobQueue, a.Config, a.Files, bucket, a.Config.Imports.Prefix, *spoolDir),
	}, log, authToken)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
