package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ParseCSV reads a header line followed by data lines. Lines whose field
// count differs from the header are skipped, not treated as errors.
func ParseCSV(content []byte) ([]Record, Stats, error) {
	var stats Stats

	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err == io.EOF {
		return nil, stats, nil
	}
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return nil, stats, nil
		}
		return nil, stats, fmt.Errorf("failed to read CSV header: %w", err)
	}

	columns := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		columns[i] = cleanField(h)
	}

	var records []Record
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		stats.Lines++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				stats.Skipped++
				continue
			}
			return nil, stats, fmt.Errorf("failed to read CSV line %d: %w", stats.Lines+1, err)
		}
		if len(row) != len(columns) {
			stats.Skipped++
			continue
		}

		values := make([]Value, len(row))
		for i, field := range row {
			values[i] = Coerce(cleanField(field))
		}
		records = append(records, NewRecord(columns, values))
	}

	return records, stats, nil
}

func cleanField(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"`)
	return strings.TrimSpace(s)
}
