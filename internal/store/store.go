package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/sabarim/dsingest/internal/dataset"
)

var (
	// ErrNotFound is returned when no dataset has the requested id
	ErrNotFound = errors.New("dataset not found")
	// ErrStaleRun is returned when a newer processing run has superseded the caller's
	ErrStaleRun = errors.New("processing run superseded by a newer run")
)

// DefaultBatchSize bounds the number of summary rows per insert statement
const DefaultBatchSize = 500

// Completion is what a successful run records on its dataset
type Completion struct {
	RowCount     int
	DateColumn   string
	ValueColumns []string
}

// ListOptions filters and pages dataset listings
type ListOptions struct {
	Status dataset.Status
	Limit  int
	Offset int
}

// Store reads and writes datasets and summaries
type Store struct {
	db        *gorm.DB
	batchSize int
}

// New wraps an open database. batchSize <= 0 uses DefaultBatchSize.
func New(db *gorm.DB, batchSize int) *Store {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Store{db: db, batchSize: batchSize}
}

// CreateDataset inserts a new dataset row
func (s *Store) CreateDataset(ctx context.Context, d *dataset.Dataset) error {
	if err := s.db.WithContext(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("failed to create dataset: %w", err)
	}
	return nil
}

// GetDataset loads a dataset by id
func (s *Store) GetDataset(ctx context.Context, id string) (*dataset.Dataset, error) {
	var d dataset.Dataset
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset %s: %w", id, err)
	}
	return &d, nil
}

// ListDatasets returns datasets newest first
func (s *Store) ListDatasets(ctx context.Context, opts ListOptions) ([]dataset.Dataset, error) {
	q := s.db.WithContext(ctx).Model(&dataset.Dataset{}).Order("created_at DESC").Order("id")
	if opts.Status != "" {
		q = q.Where("status = ?", opts.Status)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	var out []dataset.Dataset
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	return out, nil
}

// BeginProcessing moves a dataset to processing, bumps its generation and
// clears the previous error. The returned generation identifies the run.
func (s *Store) BeginProcessing(ctx context.Context, id string) (int64, error) {
	var generation int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&dataset.Dataset{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":        dataset.StatusProcessing,
				"generation":    gorm.Expr("generation + 1"),
				"error_message": nil,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to mark dataset %s processing: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%s: %w", id, ErrNotFound)
		}

		var d dataset.Dataset
		if err := tx.Select("generation").Where("id = ?", id).Take(&d).Error; err != nil {
			return fmt.Errorf("failed to read generation of %s: %w", id, err)
		}
		generation = d.Generation
		return nil
	})
	return generation, err
}

// CompleteWithSummaries replaces every summary of the dataset and marks it
// completed, all in one transaction. It fails with ErrStaleRun when the
// dataset is no longer processing under the given generation, and rolls back
// entirely when any insert fails.
func (s *Store) CompleteWithSummaries(ctx context.Context, id string, generation int64, c Completion, summaries []dataset.Summary) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dateColumn := c.DateColumn
		res := tx.Model(&dataset.Dataset{}).
			Where("id = ? AND generation = ? AND status = ?", id, generation, dataset.StatusProcessing).
			Select("status", "row_count", "date_column", "value_columns", "error_message").
			Updates(&dataset.Dataset{
				Status:       dataset.StatusCompleted,
				RowCount:     c.RowCount,
				DateColumn:   &dateColumn,
				ValueColumns: c.ValueColumns,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to complete dataset %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return missOrStale(tx, id)
		}

		if err := tx.Where("dataset_id = ?", id).Delete(&dataset.Summary{}).Error; err != nil {
			return fmt.Errorf("failed to delete old summaries of %s: %w", id, err)
		}

		if len(summaries) == 0 {
			return nil
		}
		rows := make([]dataset.Summary, len(summaries))
		for i, sum := range summaries {
			sum.ID = 0
			sum.DatasetID = id
			rows[i] = sum
		}
		if err := tx.CreateInBatches(rows, s.batchSize).Error; err != nil {
			return fmt.Errorf("failed to insert summaries of %s: %w", id, err)
		}
		return nil
	})
}

// FailDataset records a failed run. Like completion it only applies to the
// run that currently owns the dataset.
func (s *Store) FailDataset(ctx context.Context, id string, generation int64, message string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&dataset.Dataset{}).
			Where("id = ? AND generation = ? AND status = ?", id, generation, dataset.StatusProcessing).
			Updates(map[string]interface{}{
				"status":        dataset.StatusFailed,
				"error_message": message,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to mark dataset %s failed: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return missOrStale(tx, id)
		}
		return nil
	})
}

// ResetForRetry puts a dataset back to pending and clears its error.
// Any run still in flight loses ownership.
func (s *Store) ResetForRetry(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&dataset.Dataset{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        dataset.StatusPending,
			"error_message": nil,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to reset dataset %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		// MySQL reports zero affected rows when nothing changed
		if err := missOrStale(s.db.WithContext(ctx), id); errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

// DeleteDataset removes a dataset and its summaries
func (s *Store) DeleteDataset(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("dataset_id = ?", id).Delete(&dataset.Summary{}).Error; err != nil {
			return fmt.Errorf("failed to delete summaries of %s: %w", id, err)
		}
		res := tx.Where("id = ?", id).Delete(&dataset.Dataset{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete dataset %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// ListSummaries returns the summaries of a dataset ordered by date then symbol
func (s *Store) ListSummaries(ctx context.Context, id string) ([]dataset.Summary, error) {
	var out []dataset.Summary
	err := s.db.WithContext(ctx).
		Where("dataset_id = ?", id).
		Order("date").Order("symbol").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list summaries of %s: %w", id, err)
	}
	return out, nil
}

func missOrStale(tx *gorm.DB, id string) error {
	var count int64
	if err := tx.Model(&dataset.Dataset{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check dataset %s: %w", id, err)
	}
	if count == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", id, ErrStaleRun)
}
