package ingest

import (
	"context"
	"errors"

	"github.com/sabarim/dsingest/internal/aggregate"
	"github.com/sabarim/dsingest/internal/dataset"
	"github.com/sabarim/dsingest/internal/schema"
	"github.com/sabarim/dsingest/internal/store"
)

var (
	// ErrNoRecords is returned when a file parses to zero records
	ErrNoRecords = errors.New("no data found in file")
	// ErrNoDatedRows is returned when no record has a readable date
	ErrNoDatedRows = errors.New("no rows with a valid date found")
	// ErrInvalidInput is returned for rejected registrations
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidState is returned when processing a dataset that is not pending
	ErrInvalidState = errors.New("dataset is not pending")
	// ErrSymbolTooLong is returned when a symbol does not fit the summary table
	ErrSymbolTooLong = errors.New("symbol is too long")
	// ErrProcessingFailed wraps any error that ended a run in status failed
	ErrProcessingFailed = errors.New("processing failed")
)

// DefaultMaxFileSize is the upload limit when none is configured
const DefaultMaxFileSize int64 = 100 << 20

// Repository is the dataset and summary persistence the processor needs
type Repository interface {
	CreateDataset(ctx context.Context, d *dataset.Dataset) error
	GetDataset(ctx context.Context, id string) (*dataset.Dataset, error)
	ListDatasets(ctx context.Context, opts store.ListOptions) ([]dataset.Dataset, error)
	BeginProcessing(ctx context.Context, id string) (int64, error)
	CompleteWithSummaries(ctx context.Context, id string, generation int64, c store.Completion, summaries []dataset.Summary) error
	FailDataset(ctx context.Context, id string, generation int64, message string) error
	ResetForRetry(ctx context.Context, id string) error
	DeleteDataset(ctx context.Context, id string) error
	ListSummaries(ctx context.Context, id string) ([]dataset.Summary, error)
}

// Options tunes validation and detection
type Options struct {
	MaxFileSize int64
	Numeric     schema.Policy
	Aggregate   aggregate.Options
}

// DefaultOptions reproduces the single-row detection and per-symbol grouping
func DefaultOptions() Options {
	return Options{
		MaxFileSize: DefaultMaxFileSize,
		Numeric:     schema.DefaultPolicy(),
		Aggregate:   aggregate.DefaultOptions(),
	}
}

// RegisterInput describes a file to register as a new dataset
type RegisterInput struct {
	Name     string
	FileName string
	// FileType overrides the type inferred from FileName
	FileType string
	Data     []byte
}

// Result is the synchronous outcome of one processing run
type Result struct {
	Success        bool     `json:"success"`
	DatasetID      string   `json:"dataset_id"`
	Generation     int64    `json:"generation,omitempty"`
	RowCount       int      `json:"row_count"`
	SummaryCount   int      `json:"summary_count"`
	DateColumn     string   `json:"date_column,omitempty"`
	NumericColumns []string `json:"numeric_columns,omitempty"`
	SkippedRows    int      `json:"skipped_rows"`
	DroppedRows    int      `json:"dropped_rows"`
	Error          string   `json:"error,omitempty"`
}
