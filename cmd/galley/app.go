package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/galleyhq/galley/internal/chef"
	"github.com/galleyhq/galley/internal/config"
	"github.com/galleyhq/galley/internal/souschef"
	"github.com/galleyhq/galley/internal/stash"
	"github.com/galleyhq/galley/internal/storage"
	"github.com/galleyhq/galley/internal/telemetry"
	"github.com/galleyhq/galley/internal/workflow"
	"github.com/galleyhq/galley/migrations"
)

// app holds the wired dependencies shared by the long-running commands.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	db       *storage.DB
	stash    stash.Stash
	registry *workflow.Registry
	chef     *chef.Chef

	otelShutdown telemetry.Shutdown
}

// newApp bootstraps configuration, telemetry, storage, the kwargs stash,
// the workflow registry, and the chef. Sous chef definitions from the
// configured directory are validated and upserted so recipe validation
// always sees the current descriptors.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	st, err := stash.NewRedis(cfg.RedisURL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("stash: %w", err)
	}

	reg := workflow.NewRegistry()
	workflow.RegisterBuiltins(reg)

	chefs, err := souschef.LoadDir(cfg.SousChefDir, reg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load sous chefs: %w", err)
	}
	for _, sc := range chefs {
		if err := db.UpsertSousChef(ctx, sc); err != nil {
			db.Close()
			return nil, fmt.Errorf("upsert sous chef %s: %w", sc.Slug, err)
		}
	}
	logger.Info("sous chefs loaded", "count", len(chefs), "dir", cfg.SousChefDir)

	return &app{
		cfg:          cfg,
		logger:       logger,
		db:           db,
		stash:        st,
		registry:     reg,
		chef:         chef.New(db, db, db, st, reg, logger, cfg.KwargsTTL),
		otelShutdown: otelShutdown,
	}, nil
}

func (a *app) close() {
	a.db.Close()
	if c, ok := a.stash.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}
}
