// Package app assembles the stores and engines both binaries share.
package app

import (
	"context"
	"fmt"

	"catalogsync/internal/catalog"
	"catalogsync/internal/config"
	"catalogsync/internal/database"
	"catalogsync/internal/importer"
	"catalogsync/internal/jobs"
	"catalogsync/internal/logger"
	"catalogsync/internal/mapping"
	"catalogsync/internal/materializer"
	"catalogsync/internal/options"
	"catalogsync/internal/scheduler"
	"catalogsync/internal/source"
	"catalogsync/internal/staging"
	"catalogsync/internal/syncer"

	"github.com/redis/go-redis/v9"
)

type App struct {
	DB       *database.Database
	Redis    *redis.Client
	Options  *options.Store
	Locker   options.Locker
	Store    *catalog.GormStore
	Mapper   *mapping.Mapper
	Staging  *staging.Store
	Ledger   *jobs.Ledger
	Queue    *scheduler.Queue
	Source   *source.Client
	Importer *importer.Orchestrator
	Engine   *syncer.Engine
	Sweeper  *syncer.Sweeper
	Pusher   *syncer.Pusher
}

// Build connects to the database (and Redis when configured) and wires every
// engine. Close releases the connections.
func Build(ctx context.Context, cfg *config.Config, logger *logger.Logger) (*App, error) {
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	a := &App{DB: db}
	a.Options = options.New(db.DB)
	a.Locker = a.Options

	if cfg.RedisURL != "" {
		client, err := options.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.Redis = client
		a.Locker = options.NewRedisLocker(client)
		logger.Info("Using Redis for locks")
	}

	a.Store = catalog.NewStore(db.DB)
	a.Mapper = mapping.New(a.Store, db.DB, logger)
	mat := materializer.New(a.Store, a.Mapper, materializer.Options{SkipImages: cfg.ImportSkipImages}, logger)
	a.Staging = staging.New(db.DB)
	a.Ledger = jobs.New(db.DB, a.Options)
	a.Queue = scheduler.NewQueue(db.DB)
	a.Source = source.NewClient(cfg.SourceBaseURL, cfg.SourceToken, cfg.SourceRatePerMin, logger)

	a.Importer = importer.New(a.Staging, a.Ledger, mat, a.Mapper, a.Queue, a.Options, a.Source,
		importer.Config{BatchSize: cfg.ImportBatchSize, BatchDelay: cfg.ImportBatchDelay}, logger)
	a.Engine = syncer.NewEngine(a.Store, mat, a.Source, syncer.Config{Cooldown: cfg.SyncCooldown}, logger)
	a.Sweeper = syncer.NewSweeper(a.Engine, a.Store, a.Source, a.Locker, syncer.SweepConfig{
		RecentMinutes: cfg.SyncRecentMinutes,
		Budget:        cfg.SyncSweepBudget,
		StaleAge:      cfg.SyncStaleAge,
		StaleBatch:    cfg.SyncStaleBatchSize,
	}, logger)
	a.Pusher = syncer.NewPusher(a.Engine, a.Locker, syncer.PushConfig{
		MaxSKUs: cfg.PushMaxSKUs,
		Window:  cfg.PushRateWindow,
	}, logger)

	return a, nil
}

func (a *App) Close() error {
	if a.Redis != nil {
		a.Redis.Close()
	}
	return a.DB.Close()
}
