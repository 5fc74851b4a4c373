// Package schema infers the date axis and the numeric columns of parsed records.
package schema

import (
	"errors"
	"regexp"

	"github.com/sabarim/dsingest/internal/parser"
)

// ErrNoDateColumn is returned when neither column names nor values look like dates
var ErrNoDateColumn = errors.New("could not detect date column: ensure the data has a date/time column")

var (
	dateNamePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)date`),
		regexp.MustCompile(`(?i)time`),
		regexp.MustCompile(`(?i)timestamp`),
		regexp.MustCompile(`(?i)day`),
		regexp.MustCompile(`(?i)period`),
	}
	isoDateValue   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
	slashDateValue = regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{2,4}`)
)

// Policy controls numeric column classification
type Policy struct {
	// SampleRows is how many leading records are examined; 0 means all
	SampleRows int
	// MinRatio is the fraction of non-empty sampled values that must be numeric
	MinRatio float64
}

// DefaultPolicy classifies columns from the first record alone
func DefaultPolicy() Policy {
	return Policy{SampleRows: 1, MinRatio: 1.0}
}

// Schema is the detected shape of a dataset
type Schema struct {
	DateColumn     string
	NumericColumns []string
	Roles          Roles
}

// Detect runs date and numeric detection and resolves column roles
func Detect(records []parser.Record, policy Policy) (Schema, error) {
	dateColumn, ok := DetectDateColumn(records)
	if !ok {
		return Schema{NumericColumns: DetectNumericColumns(records, policy)}, ErrNoDateColumn
	}

	var numeric []string
	for _, col := range DetectNumericColumns(records, policy) {
		if col != dateColumn {
			numeric = append(numeric, col)
		}
	}

	return Schema{
		DateColumn:     dateColumn,
		NumericColumns: numeric,
		Roles:          ResolveRoles(records[0].Columns(), numeric),
	}, nil
}

// DetectDateColumn prefers a column whose name looks like a date, then a
// column whose first value is formatted like a date.
func DetectDateColumn(records []parser.Record) (string, bool) {
	if len(records) == 0 {
		return "", false
	}
	columns := records[0].Columns()

	for _, col := range columns {
		for _, pattern := range dateNamePatterns {
			if pattern.MatchString(col) {
				return col, true
			}
		}
	}

	for _, col := range columns {
		v := records[0].Get(col).String()
		if isoDateValue.MatchString(v) || slashDateValue.MatchString(v) {
			return col, true
		}
	}

	return "", false
}

// DetectNumericColumns returns, in declared order, the columns whose sampled
// values are numeric according to the policy.
func DetectNumericColumns(records []parser.Record, policy Policy) []string {
	if len(records) == 0 {
		return nil
	}

	sample := records
	if policy.SampleRows > 0 && policy.SampleRows < len(records) {
		sample = records[:policy.SampleRows]
	}
	minRatio := policy.MinRatio
	if minRatio <= 0 || minRatio > 1 {
		minRatio = 1
	}

	var numeric []string
	for _, col := range records[0].Columns() {
		var filled, numbers int
		for _, rec := range sample {
			v := rec.Get(col)
			if v.IsEmpty() {
				continue
			}
			filled++
			if _, ok := v.Float(); ok {
				numbers++
			}
		}
		if filled == 0 {
			continue
		}
		if float64(numbers)/float64(filled) >= minRatio {
			numeric = append(numeric, col)
		}
	}
	return numeric
}
