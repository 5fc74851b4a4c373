package aggregate

import "github.com/sabarim/dsingest/internal/dataset"

// ComputeChanges fills price_change and price_change_percent on rows already
// sorted by date. The predecessor of a row is the previous row of the same
// symbol when grouping by symbol, otherwise simply the previous row. Changes
// stay unset when either close is missing; the percentage also stays unset
// when the previous close is zero.
func ComputeChanges(rows []dataset.Summary, opts Options) {
	last := make(map[string]int)
	for i := range rows {
		series := ""
		if opts.GroupBySymbol {
			series = rows[i].Symbol
		}

		prevIdx, ok := last[series]
		last[series] = i
		rows[i].PriceChange = nil
		rows[i].PriceChangePercent = nil
		if !ok {
			continue
		}

		prev, cur := rows[prevIdx].Close, rows[i].Close
		if prev == nil || cur == nil {
			continue
		}
		change := *cur - *prev
		rows[i].PriceChange = float64Ptr(change)
		if *prev != 0 {
			rows[i].PriceChangePercent = float64Ptr(100 * change / *prev)
		}
	}
}
