package main

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/sabarim/dsingest/internal/aggregate"
	"github.com/sabarim/dsingest/internal/config"
	"github.com/sabarim/dsingest/internal/ingest"
	"github.com/sabarim/dsingest/internal/logger"
	"github.com/sabarim/dsingest/internal/schema"
	"github.com/sabarim/dsingest/internal/source"
	"github.com/sabarim/dsingest/internal/storage"
	"github.com/sabarim/dsingest/internal/store"
)

// app holds the wired components shared by every subcommand
type app struct {
	cfg       config.Config
	log       *logger.Log
	db        *gorm.DB
	processor *ingest.Processor
	fetcher   *source.Fetcher
}

func newApp(ctx context.Context, configPath string, verbose bool) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	log := logger.GetLogger()
	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		return nil, err
	}

	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	files, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		closeDB(db)
		return nil, fmt.Errorf("failed to initialize file storage: %w", err)
	}

	opts := ingest.Options{
		MaxFileSize: cfg.Ingest.MaxFileSize,
		Numeric: schema.Policy{
			SampleRows: cfg.Ingest.NumericSampleRows,
			MinRatio:   cfg.Ingest.NumericMinRatio,
		},
		Aggregate: aggregate.Options{GroupBySymbol: cfg.Ingest.GroupBySymbol},
	}

	log.WithComponent("main").WithFields(logger.Fields{
		"db_driver":       cfg.Database.Driver,
		"storage_backend": cfg.Storage.Backend,
		"batch_size":      cfg.Ingest.BatchSize,
	}).Debug("configuration loaded")

	fetcher := source.NewFetcher(time.Duration(cfg.Ingest.FetchTimeout)*time.Second, cfg.Ingest.MaxFileSize, log).
		WithRetry(cfg.Ingest.FetchRetries, time.Duration(cfg.Ingest.FetchRetryDelay)*time.Millisecond)

	return &app{
		cfg:       cfg,
		log:       log,
		db:        db,
		processor: ingest.NewProcessor(store.New(db, cfg.Ingest.BatchSize), files, opts, log),
		fetcher:   fetcher,
	}, nil
}

func (a *app) Close() {
	closeDB(a.db)
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}
