// Package ingest drives the parse, detect, aggregate and persist pipeline
// for registered datasets.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/sabarim/dsingest/internal/aggregate"
	"github.com/sabarim/dsingest/internal/dataset"
	"github.com/sabarim/dsingest/internal/logger"
	"github.com/sabarim/dsingest/internal/parser"
	"github.com/sabarim/dsingest/internal/schema"
	"github.com/sabarim/dsingest/internal/storage"
	"github.com/sabarim/dsingest/internal/store"
)

// Processor registers, processes and removes datasets
type Processor struct {
	repo  Repository
	files storage.FileStore
	opts  Options
	log   *logger.Entry
	newID func() string
}

// NewProcessor creates a processor. Zero-valued options fall back to defaults.
func NewProcessor(repo Repository, files storage.FileStore, opts Options, log *logger.Log) *Processor {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.Numeric.MinRatio <= 0 {
		opts.Numeric.MinRatio = 1
	}
	return &Processor{
		repo:  repo,
		files: files,
		opts:  opts,
		log:   log.WithComponent("ingest"),
		newID: uuid.NewString,
	}
}

// Register validates and stores a file, then creates a pending dataset for it
func (p *Processor) Register(ctx context.Context, in RegisterInput) (*dataset.Dataset, error) {
	fileType, err := resolveFileType(in)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if len(in.Data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrInvalidInput)
	}
	if int64(len(in.Data)) > p.opts.MaxFileSize {
		return nil, fmt.Errorf("%w: file is %d bytes, limit is %d", ErrInvalidInput, len(in.Data), p.opts.MaxFileSize)
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		base := filepath.Base(in.FileName)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if name == "" || name == "." {
		return nil, fmt.Errorf("%w: dataset name is required", ErrInvalidInput)
	}

	id := p.newID()
	key := id + "." + string(fileType)
	if err := p.files.Put(ctx, key, in.Data); err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	d := &dataset.Dataset{
		ID:       id,
		Name:     name,
		FileName: key,
		FileSize: int64(len(in.Data)),
		FileType: fileType,
		Status:   dataset.StatusPending,
	}
	if err := p.repo.CreateDataset(ctx, d); err != nil {
		if delErr := p.files.Delete(context.WithoutCancel(ctx), key); delErr != nil {
			p.log.WithError(delErr).WithField("file_name", key).Warn("failed to remove orphaned file")
		}
		return nil, err
	}

	p.log.WithFields(logger.Fields{
		"dataset_id": id,
		"name":       name,
		"file_type":  fileType,
		"file_size":  d.FileSize,
	}).Info("registered dataset")
	return d, nil
}

func resolveFileType(in RegisterInput) (dataset.FileType, error) {
	if strings.TrimSpace(in.FileType) != "" {
		return dataset.ParseFileType(in.FileType)
	}
	return dataset.FileTypeFromName(in.FileName)
}

// Process runs the pipeline for a pending dataset. On success the dataset is
// completed with its summaries replaced. A failure after the run has begun is
// recorded on the dataset and returned wrapped in ErrProcessingFailed, along
// with a Result describing it. A run superseded by a newer one returns
// store.ErrStaleRun and leaves the dataset untouched.
func (p *Processor) Process(ctx context.Context, id string) (*Result, error) {
	d, err := p.repo.GetDataset(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != dataset.StatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidState, id, d.Status)
	}

	generation, err := p.repo.BeginProcessing(ctx, id)
	if err != nil {
		return nil, err
	}

	log := p.log.WithFields(logger.Fields{"dataset_id": id, "generation": generation})
	log.WithField("file_name", d.FileName).Info("processing dataset")
	started := time.Now()

	result, err := p.run(ctx, d, generation, log)
	result.DatasetID = id
	result.Generation = generation

	if errors.Is(err, store.ErrStaleRun) {
		result.Error = err.Error()
		log.Warn("run superseded by a newer run")
		return result, err
	}
	if err != nil {
		result.Error = err.Error()
		if failErr := p.repo.FailDataset(context.WithoutCancel(ctx), id, generation, err.Error()); failErr != nil {
			if errors.Is(failErr, store.ErrStaleRun) {
				log.Warn("run superseded before its failure was recorded")
				return result, failErr
			}
			log.WithError(failErr).Error("failed to record failure")
		}
		log.WithError(err).Error("processing failed")
		return result, fmt.Errorf("%w: %w", ErrProcessingFailed, err)
	}

	result.Success = true
	log.WithFields(logger.Fields{
		"row_count":     result.RowCount,
		"summary_count": result.SummaryCount,
		"skipped_rows":  result.SkippedRows,
		"dropped_rows":  result.DroppedRows,
		"duration_ms":   time.Since(started).Milliseconds(),
	}).Info("processed dataset")
	return result, nil
}

func (p *Processor) run(ctx context.Context, d *dataset.Dataset, generation int64, log *logger.Entry) (*Result, error) {
	result := &Result{}

	phase := time.Now()
	content, err := p.files.Get(ctx, d.FileName)
	if err != nil {
		return result, fmt.Errorf("failed to download file: %w", err)
	}
	log.Phase("download", phase, logger.Fields{"bytes": len(content)})

	phase = time.Now()
	records, stats, err := parser.Parse(content, d.FileType)
	if err != nil {
		return result, fmt.Errorf("failed to parse file: %w", err)
	}
	result.RowCount = len(records)
	result.SkippedRows = stats.Skipped
	log.Phase("parse", phase, logger.Fields{"records": len(records), "skipped": stats.Skipped})
	if len(records) == 0 {
		return result, ErrNoRecords
	}

	sch, err := schema.Detect(records, p.opts.Numeric)
	if err != nil {
		return result, err
	}
	result.DateColumn = sch.DateColumn
	result.NumericColumns = sch.NumericColumns

	phase = time.Now()
	summaries, aggStats := aggregate.Aggregate(records, sch, p.opts.Aggregate)
	aggregate.ComputeChanges(summaries, p.opts.Aggregate)
	result.DroppedRows = aggStats.Dropped
	result.SummaryCount = len(summaries)
	log.Phase("aggregate", phase, logger.Fields{"summaries": len(summaries), "dropped": aggStats.Dropped})
	if len(summaries) == 0 {
		return result, fmt.Errorf("%w in column %q", ErrNoDatedRows, sch.DateColumn)
	}
	for _, s := range summaries {
		if utf8.RuneCountInString(s.Symbol) > dataset.MaxSymbolLength {
			return result, fmt.Errorf("%w: %q exceeds %d characters", ErrSymbolTooLong, s.Symbol, dataset.MaxSymbolLength)
		}
	}

	phase = time.Now()
	completion := store.Completion{
		RowCount:     len(records),
		DateColumn:   sch.DateColumn,
		ValueColumns: sch.NumericColumns,
	}
	if err := p.repo.CompleteWithSummaries(ctx, d.ID, generation, completion, summaries); err != nil {
		return result, err
	}
	log.Phase("persist", phase, logger.Fields{"summaries": len(summaries)})

	return result, nil
}

// Retry resets a dataset of any status to pending and processes it again
func (p *Processor) Retry(ctx context.Context, id string) (*Result, error) {
	if err := p.repo.ResetForRetry(ctx, id); err != nil {
		return nil, err
	}
	p.log.WithField("dataset_id", id).Info("retrying dataset")
	return p.Process(ctx, id)
}

// Delete removes a dataset, its summaries and its stored file
func (p *Processor) Delete(ctx context.Context, id string) error {
	d, err := p.repo.GetDataset(ctx, id)
	if err != nil {
		return err
	}
	if err := p.repo.DeleteDataset(ctx, id); err != nil {
		return err
	}
	if err := p.files.Delete(ctx, d.FileName); err != nil {
		p.log.WithError(err).WithField("file_name", d.FileName).Warn("dataset deleted but file removal failed")
	}
	p.log.WithField("dataset_id", id).Info("deleted dataset")
	return nil
}

// Get returns one dataset
func (p *Processor) Get(ctx context.Context, id string) (*dataset.Dataset, error) {
	return p.repo.GetDataset(ctx, id)
}

// List returns datasets newest first
func (p *Processor) List(ctx context.Context, opts store.ListOptions) ([]dataset.Dataset, error) {
	return p.repo.ListDatasets(ctx, opts)
}

// Summaries returns the daily summaries of a dataset
func (p *Processor) Summaries(ctx context.Context, id string) ([]dataset.Summary, error) {
	if _, err := p.repo.GetDataset(ctx, id); err != nil {
		return nil, err
	}
	return p.repo.ListSummaries(ctx, id)
}
