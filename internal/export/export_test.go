package export

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/sabarim/dsingest/internal/config"
	"github.com/sabarim/dsingest/internal/dataset"
	"github.com/sabarim/dsingest/internal/logger"
)

func f(v float64) *float64 { return &v }

func fixture() (*dataset.Dataset, []dataset.Summary) {
	d := &dataset.Dataset{ID: "0f8fad5b-d9cb-469f-a165-70867728950e", Name: "Daily prices"}
	rows := []dataset.Summary{
		{DatasetID: d.ID, Date: time.Date(2024, 1, 30, 0, 0, 0, 0, time.UTC), Symbol: "AAPL", Open: f(10), Close: f(12), DataPoints: 2},
		{DatasetID: d.ID, Date: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), Symbol: "AAPL", Open: f(12), Close: f(13), PriceChange: f(1), DataPoints: 1},
		{DatasetID: d.ID, Date: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), Symbol: "AAPL", DataPoints: 1},
	}
	return d, rows
}

func newExporter(t *testing.T, partition bool) (*Exporter, string) {
	t.Helper()
	dir := t.TempDir()
	e, err := NewExporter(config.ExportConfig{OutputDir: dir, Compression: "gzip", PartitionByMonth: partition}, logger.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return e, dir
}

func TestExportCSV(t *testing.T) {
	e, _ := newExporter(t, false)
	d, rows := fixture()

	files, err := e.Export(d, rows, FormatCSV)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if len(files) != 1 || filepath.Base(files[0]) != "Daily_prices_0f8fad5b.csv" {
		t.Fatalf("unexpected files %v", files)
	}

	file, err := os.Open(files[0])
	if err != nil {
		t.Fatalf("failed to open export: %v", err)
	}
	defer file.Close()
	lines, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("failed to read export: %v", err)
	}
	if len(lines) != 4 || lines[0][1] != "date" {
		t.Fatalf("unexpected csv %v", lines)
	}
	if lines[2][1] != "2024-01-31" || lines[2][6] != "13" || lines[2][9] != "1" {
		t.Fatalf("unexpected second row %v", lines[2])
	}
	if lines[3][3] != "" || lines[3][11] != "1" {
		t.Fatalf("expected empty optional fields, got %v", lines[3])
	}
}

func TestExportParquetPartitionedByMonth(t *testing.T) {
	e, _ := newExporter(t, true)
	d, rows := fixture()

	files, err := e.Export(d, rows, FormatParquet)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected one file per month, got %v", files)
	}
	if filepath.Base(files[0]) != "Daily_prices_0f8fad5b_2024-01.parquet" {
		t.Fatalf("unexpected first file %s", files[0])
	}

	fr, err := local.NewLocalFileReader(files[0])
	if err != nil {
		t.Fatalf("failed to open parquet: %v", err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(SummaryPoint), 1)
	if err != nil {
		t.Fatalf("failed to create reader: %v", err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	if n != 2 {
		t.Fatalf("expected 2 rows in January file, got %d", n)
	}
	points := make([]SummaryPoint, n)
	if err := pr.Read(&points); err != nil {
		t.Fatalf("failed to read rows: %v", err)
	}
	if points[0].Date != "2024-01-30" || points[0].Month != 1 || *points[0].Close != 12 {
		t.Fatalf("unexpected first point %+v", points[0])
	}
	if points[0].PriceChange != nil || points[1].PriceChange == nil || *points[1].PriceChange != 1 {
		t.Fatalf("optional fields did not round trip: %+v", points)
	}
}

func TestExportRejectsBadSettings(t *testing.T) {
	if _, err := NewExporter(config.ExportConfig{Compression: "lz4"}, logger.Discard()); err == nil {
		t.Fatalf("expected error for unknown compression")
	}
	e, _ := newExporter(t, false)
	d, rows := fixture()
	if _, err := e.Export(d, rows, Format("xlsx")); err == nil {
		t.Fatalf("expected error for unknown format")
	}
	files, err := e.Export(d, nil, FormatCSV)
	if err != nil || len(files) != 0 {
		t.Fatalf("expected no files for empty summaries, got %v %v", files, err)
	}
}
