package dataset

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Status is the lifecycle state of a dataset ingestion job
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// FileType is the declared format of an uploaded file
type FileType string

const (
	FileTypeCSV  FileType = "csv"
	FileTypeJSON FileType = "json"
)

// ParseFileType validates a declared file type
func ParseFileType(s string) (FileType, error) {
	switch FileType(strings.ToLower(strings.TrimSpace(s))) {
	case FileTypeCSV:
		return FileTypeCSV, nil
	case FileTypeJSON:
		return FileTypeJSON, nil
	default:
		return "", fmt.Errorf("unsupported file type %q (expected csv or json)", s)
	}
}

// FileTypeFromName infers the file type from a file name extension
func FileTypeFromName(name string) (FileType, error) {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if ext == "" {
		return "", fmt.Errorf("cannot infer file type from %q", name)
	}
	return ParseFileType(ext)
}

// Dataset tracks one uploaded file and the state of its ingestion
type Dataset struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	Name         string    `json:"name" gorm:"size:255;not null"`
	FileName     string    `json:"file_name" gorm:"size:512;not null"`
	FileSize     int64     `json:"file_size"`
	FileType     FileType  `json:"file_type" gorm:"size:8;not null"`
	Status       Status    `json:"status" gorm:"size:16;index;not null;default:pending"`
	DateColumn   *string   `json:"date_column" gorm:"size:255"`
	ValueColumns []string  `json:"value_columns" gorm:"serializer:json"`
	RowCount     int       `json:"row_count"`
	ErrorMessage *string   `json:"error_message" gorm:"type:text"`
	Generation   int64     `json:"generation" gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"created_at" gorm:"index"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName pins the table name used by the dashboard
func (Dataset) TableName() string { return "datasets" }

// MaxSymbolLength is the width of the summary symbol column
const MaxSymbolLength = 64

// Summary is one per-date reduction of the records of a dataset.
// Optional prices stay nil when the group had no numeric values.
type Summary struct {
	ID                 uint      `json:"-" gorm:"primaryKey"`
	DatasetID          string    `json:"dataset_id" gorm:"size:36;not null;uniqueIndex:idx_summary_key,priority:1"`
	Date               time.Time `json:"date" gorm:"type:date;not null;uniqueIndex:idx_summary_key,priority:2"`
	Symbol             string    `json:"symbol,omitempty" gorm:"size:64;not null;default:'';uniqueIndex:idx_summary_key,priority:3"`
	Open               *float64  `json:"open,omitempty"`
	High               *float64  `json:"high,omitempty"`
	Low                *float64  `json:"low,omitempty"`
	Close              *float64  `json:"close,omitempty"`
	Volume             *float64  `json:"volume,omitempty"`
	AvgPrice           *float64  `json:"avg_price,omitempty"`
	PriceChange        *float64  `json:"price_change,omitempty"`
	PriceChangePercent *float64  `json:"price_change_percent,omitempty"`
	DataPoints         int       `json:"data_points"`
}

// TableName pins the table name used by the dashboard
func (Summary) TableName() string { return "dataset_summaries" }

// Day returns the summary date as YYYY-MM-DD
func (s Summary) Day() string {
	return s.Date.Format(DateLayout)
}

// DateLayout is the canonical calendar-date format of summary rows
const DateLayout = "2006-01-02"
