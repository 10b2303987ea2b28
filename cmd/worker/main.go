package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/donation-tracker/internal/app"
	"github.com/dvloznov/donation-tracker/internal/logger"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "config.yml", "Path to config.yml")
	envFile := flag.String("env", "", "Dotenv file with provider secrets (defaults to .env)")
	interval := flag.Duration("interval", 0, "Run interval (defaults to ingest.schedule)")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	every := a.Config.Ingest.Schedule
	if *interval > 0 {
		every = *interval
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		runLoop(ctx, a, every, log)
	}()

	log.Info().Dur("interval", every).Msg("Worker service started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	// Cancel context to stop the current run
	cancel()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn().Msg("Timed out waiting for the current run to stop")
	}

	log.Info().Msg("Worker service exited")
}

// runLoop runs every scheduled source immediately and then on every tick.
// Runs never overlap: a tick that fires during a run is dropped.
func runLoop(ctx context.Context, a *app.App, every time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		started := time.Now()
		results, err := a.Runner.RunAll(ctx)
		rows := 0
		for _, res := range results {
			rows += res.Rows
		}
		event := log.Info()
		if err != nil {
			event = log.Error().Err(err)
		}
		event.Int("sources", len(results)).Int("rows", rows).Dur("took", time.Since(started)).Msg("Scheduled run finished")

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
