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
)

func main() {
	configPath := flag.String("config", "config.yml", "Path to config.yml")
	envFile := flag.String("env", "", "Dotenv file with provider secrets (defaults to .env)")
	source := flag.String("source", "", "Run only this source")
	timeout := flag.Duration("timeout", 30*time.Minute, "Abort the run after this long")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

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

	if *source != "" {
		res, err := a.Runner.RunSource(ctx, *source)
		if err != nil {
			log.Error().Err(err).Msg("Ingestion failed")
			a.Close()
			os.Exit(1)
		}
		log.Info().Int("rows", res.Rows).Bool("caught_up", res.CaughtUp).Msg("Ingestion completed")
		return
	}

	results, err := a.Runner.RunAll(ctx)
	written, failed := 0, 0
	for _, res := range results {
		written += res.Rows
		if res.Err != nil {
			failed++
		}
	}
	if err != nil {
		log.Error().Err(err).Int("failed_sources", failed).Int("rows", written).Msg("Ingestion finished with errors")
		a.Close()
		os.Exit(1)
	}
	log.Info().Int("sources", len(results)).Int("rows", written).Msg("Ingestion completed")
}
