// Package app wires configuration, storage and adapters into a Runner
// shared by the binaries under cmd/.
package app

import (
	"context"
	"fmt"

	"github.com/dvloznov/donation-tracker/internal/config"
	"github.com/dvloznov/donation-tracker/internal/currency"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/gcsuploader"
	infraBQ "github.com/dvloznov/donation-tracker/internal/infra/bigquery"
	"github.com/dvloznov/donation-tracker/internal/infra/postgres"
	"github.com/dvloznov/donation-tracker/internal/ingest"
	"github.com/dvloznov/donation-tracker/internal/logger"
	"github.com/dvloznov/donation-tracker/internal/sources"
	"github.com/dvloznov/donation-tracker/internal/store"
	storeinmemory "github.com/dvloznov/donation-tracker/internal/store/inmemory"
	"github.com/rs/zerolog"
)

// App holds the long-lived dependencies of one process.
type App struct {
	Config  *config.Config
	Log     zerolog.Logger
	Secrets config.Secrets
	Store   store.Store
	Files   *gcsuploader.GCSStorageService
	Factory *sources.Factory
	Runner  *ingest.Runner
}

// Bootstrap loads the config and secrets, opens the configured store and
// builds the Runner. envFiles are dotenv files; ".env" is read when none
// are given. The returned context carries the logger.
func Bootstrap(ctx context.Context, configPath string, envFiles ...string) (context.Context, *App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return ctx, nil, fmt.Errorf("Bootstrap: %w", err)
	}

	log := logger.New(cfg.LogLevel)
	ctx = logger.WithContext(ctx, log)

	secrets, err := config.LoadEnvSecrets(envFiles...)
	if err != nil {
		return ctx, nil, fmt.Errorf("Bootstrap: %w", err)
	}

	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return ctx, nil, fmt.Errorf("Bootstrap: %w", err)
	}

	return ctx, New(cfg, log, secrets, st), nil
}

// New assembles an App over an already opened store.
func New(cfg *config.Config, log zerolog.Logger, secrets config.Secrets, st store.Store) *App {
	files := gcsuploader.NewGCSStorageService()
	factory := sources.NewFactory(cfg, secrets, files)
	runner := ingest.NewRunner(cfg, st, factory, func() ingest.CurrencyConverter {
		return currency.FromConfig(cfg)
	})

	return &App{
		Config:  cfg,
		Log:     log,
		Secrets: secrets,
		Store:   st,
		Files:   files,
		Factory: factory,
		Runner:  runner,
	}
}

// Close releases the store.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	return a.Store.Close()
}

// OpenStore opens the donations store selected by store.backend.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	names := cfg.SourceNames()

	switch cfg.Store.Backend {
	case "bigquery":
		repo, err := infraBQ.NewRepository(ctx, cfg.Store.BigQuery, names)
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		return repo, nil
	case "postgres":
		url, err := cfg.PostgresURL()
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		pg, err := postgres.Open(ctx, url, cfg.Store.Postgres.Table, names)
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		return pg, nil
	case "memory":
		return storeinmemory.NewStore(names), nil
	default:
		return nil, fmt.Errorf("OpenStore: %w: unknown store backend %q", domain.ErrConfiguration, cfg.Store.Backend)
	}
}
