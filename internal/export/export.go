// Package export writes dataset summaries to CSV or Parquet files.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/sabarim/dsingest/internal/config"
	"github.com/sabarim/dsingest/internal/dataset"
	"github.com/sabarim/dsingest/internal/logger"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Exporter writes summaries under an output directory
type Exporter struct {
	outputDir        string
	compression      parquet.CompressionCodec
	partitionByMonth bool
	log              *logger.Entry
}

// NewExporter creates an exporter from the export settings
func NewExporter(cfg config.ExportConfig, log *logger.Log) (*Exporter, error) {
	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}
	return &Exporter{
		outputDir:        cfg.OutputDir,
		compression:      codec,
		partitionByMonth: cfg.PartitionByMonth,
		log:              log.WithComponent("export"),
	}, nil
}

func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToLower(name) {
	case "gzip", "":
		return parquet.CompressionCodec_GZIP, nil
	case "snappy":
		return parquet.CompressionCodec_SNAPPY, nil
	case "none", "uncompressed":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported parquet compression %q", name)
	}
}

// Export writes the summaries of a dataset and returns the files written.
// With month partitioning each calendar month goes to its own file.
func (e *Exporter) Export(d *dataset.Dataset, summaries []dataset.Summary, format Format) ([]string, error) {
	if len(summaries) == 0 {
		e.log.WithField("dataset_id", d.ID).Info("no summaries to export")
		return nil, nil
	}

	base := exportBaseName(d)
	dirPath := filepath.Join(e.outputDir, base)
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	groups := map[string][]dataset.Summary{"": summaries}
	if e.partitionByMonth {
		groups = groupByMonth(summaries)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var files []string
	for _, month := range keys {
		name := base
		if month != "" {
			name = fmt.Sprintf("%s_%s", base, month)
		}
		filename := filepath.Join(dirPath, name+"."+string(format))

		var err error
		switch format {
		case FormatCSV:
			err = writeCSV(filename, groups[month])
		case FormatParquet:
			err = e.writeParquet(filename, groups[month])
		default:
			err = fmt.Errorf("unsupported export format %q", format)
		}
		if err != nil {
			return files, err
		}

		e.log.WithFields(logger.Fields{
			"dataset_id": d.ID,
			"rows":       len(groups[month]),
			"file":       filename,
		}).Info("exported summaries")
		files = append(files, filename)
	}
	return files, nil
}

func exportBaseName(d *dataset.Dataset) string {
	name := strings.Trim(unsafeName.ReplaceAllString(d.Name, "_"), "_")
	if name == "" {
		return d.ID
	}
	return name + "_" + d.ID[:min(8, len(d.ID))]
}

func groupByMonth(summaries []dataset.Summary) map[string][]dataset.Summary {
	out := make(map[string][]dataset.Summary)
	for _, s := range summaries {
		month := s.Date.Format("2006-01")
		out[month] = append(out[month], s)
	}
	return out
}

func writeCSV(filename string, summaries []dataset.Summary) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, s := range summaries {
		row := []string{
			s.DatasetID,
			s.Day(),
			s.Symbol,
			formatOptional(s.Open),
			formatOptional(s.High),
			formatOptional(s.Low),
			formatOptional(s.Close),
			formatOptional(s.Volume),
			formatOptional(s.AvgPrice),
			formatOptional(s.PriceChange),
			formatOptional(s.PriceChangePercent),
			strconv.Itoa(s.DataPoints),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write data: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", filename, err)
	}
	return nil
}

func formatOptional(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func (e *Exporter) writeParquet(filename string, summaries []dataset.Summary) error {
	fw, err := local.NewLocalFileWriter(filename)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}
	defer fw.Close()

	pw, err := writer.NewParquetWriter(fw, new(SummaryPoint), 4)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}

	pw.CompressionType = e.compression
	pw.RowGroupSize = 128 * 1024 * 1024 // 128MB row groups
	pw.PageSize = 8 * 1024             // 8KB pages

	for _, s := range summaries {
		point := SummaryPoint{
			DatasetID:          s.DatasetID,
			Date:               s.Day(),
			Symbol:             s.Symbol,
			Year:               int32(s.Date.Year()),
			Month:              int32(s.Date.Month()),
			Day:                int32(s.Date.Day()),
			Open:               s.Open,
			High:               s.High,
			Low:                s.Low,
			Close:              s.Close,
			Volume:             s.Volume,
			AvgPrice:           s.AvgPrice,
			PriceChange:        s.PriceChange,
			PriceChangePercent: s.PriceChangePercent,
			DataPoints:         int64(s.DataPoints),
		}
		if err := pw.Write(point); err != nil {
			pw.WriteStop()
			return fmt.Errorf("failed to write parquet data: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return nil
}
