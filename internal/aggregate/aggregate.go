// Package aggregate reduces records into one OHLCV summary per calendar day.
package aggregate

import (
	"sort"
	"strings"
	"time"

	"github.com/sabarim/dsingest/internal/dataset"
	"github.com/sabarim/dsingest/internal/parser"
	"github.com/sabarim/dsingest/internal/schema"
)

// Options tunes grouping
type Options struct {
	// GroupBySymbol splits each day into one row per symbol when a symbol
	// column exists. When false every symbol on a day is merged and the
	// first record's symbol labels the row.
	GroupBySymbol bool
}

// DefaultOptions groups by (date, symbol)
func DefaultOptions() Options {
	return Options{GroupBySymbol: true}
}

// Stats reports what the aggregator dropped
type Stats struct {
	Groups  int
	Dropped int
}

type groupKey struct {
	day    time.Time
	symbol string
}

type group struct {
	key     groupKey
	records []parser.Record
}

// Aggregate groups records by calendar day (and symbol) and derives one
// summary per group, sorted by date then symbol. DatasetID is left for the
// caller to fill in. Records whose date cannot be read are dropped.
func Aggregate(records []parser.Record, s schema.Schema, opts Options) ([]dataset.Summary, Stats) {
	var stats Stats
	roles := s.Roles

	index := make(map[groupKey]*group)
	var groups []*group

	for _, rec := range records {
		key, ok := DateKey(rec.Get(s.DateColumn))
		if !ok {
			stats.Dropped++
			continue
		}
		day, ok := ParseDate(key)
		if !ok {
			stats.Dropped++
			continue
		}

		k := groupKey{day: day}
		if opts.GroupBySymbol && roles.Symbol != "" {
			k.symbol = NormalizeSymbol(rec.Get(roles.Symbol).String())
		}

		g, exists := index[k]
		if !exists {
			g = &group{key: k}
			index[k] = g
			groups = append(groups, g)
		}
		g.records = append(g.records, rec)
	}

	summaries := make([]dataset.Summary, 0, len(groups))
	for _, g := range groups {
		summaries = append(summaries, summarize(g, roles))
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		if !summaries[i].Date.Equal(summaries[j].Date) {
			return summaries[i].Date.Before(summaries[j].Date)
		}
		return summaries[i].Symbol < summaries[j].Symbol
	})

	stats.Groups = len(summaries)
	return summaries, stats
}

// NormalizeSymbol trims and upper-cases a symbol so "aapl" and "AAPL " group
// together. Summary keys are compared case-insensitively by MySQL collations.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func summarize(g *group, roles schema.Roles) dataset.Summary {
	first := g.records[0]
	last := g.records[len(g.records)-1]

	out := dataset.Summary{
		Date:       g.key.day,
		Symbol:     g.key.symbol,
		DataPoints: len(g.records),
	}
	if roles.Symbol != "" && out.Symbol == "" {
		out.Symbol = NormalizeSymbol(first.Get(roles.Symbol).String())
	}

	series := columnValues(g.records, roles.Series)
	if len(series) > 0 {
		open := series[0]
		if roles.Open != "" {
			if f, ok := first.Get(roles.Open).Float(); ok {
				open = f
			}
		}

		high := maxOf(series)
		if roles.High != "" {
			if explicit := columnValues(g.records, roles.High); len(explicit) > 0 {
				high = maxOf(explicit)
			}
		}

		low := minOf(series)
		if roles.Low != "" {
			if explicit := columnValues(g.records, roles.Low); len(explicit) > 0 {
				low = minOf(explicit)
			}
		}

		closing := series[len(series)-1]
		if roles.Price != "" {
			if f, ok := last.Get(roles.Price).Float(); ok {
				closing = f
			}
		}

		out.Open = float64Ptr(open)
		out.High = float64Ptr(high)
		out.Low = float64Ptr(low)
		out.Close = float64Ptr(closing)
		out.AvgPrice = float64Ptr(mean(series))
	}

	if roles.Volume != "" {
		var volume float64
		for _, rec := range g.records {
			volume += rec.Get(roles.Volume).FloatOrZero()
		}
		out.Volume = float64Ptr(volume)
	}

	return out
}

// columnValues returns the numeric readings of a column, skipping empty and
// non-numeric cells
func columnValues(records []parser.Record, column string) []float64 {
	if column == "" {
		return nil
	}
	values := make([]float64, 0, len(records))
	for _, rec := range records {
		if f, ok := rec.Get(column).Float(); ok {
			values = append(values, f)
		}
	}
	return values
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func float64Ptr(f float64) *float64 { return &f }
