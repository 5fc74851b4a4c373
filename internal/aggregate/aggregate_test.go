package aggregate

import (
	"math"
	"testing"
	"time"

	"github.com/sabarim/dsingest/internal/dataset"
	"github.com/sabarim/dsingest/internal/parser"
	"github.com/sabarim/dsingest/internal/schema"
)

func build(t *testing.T, content string, opts Options) ([]dataset.Summary, Stats) {
	t.Helper()
	records, _, err := parser.ParseCSV([]byte(content))
	if err != nil {
		t.Fatalf("failed to parse fixture: %v", err)
	}
	s, err := schema.Detect(records, schema.DefaultPolicy())
	if err != nil {
		t.Fatalf("failed to detect schema: %v", err)
	}
	rows, stats := Aggregate(records, s, opts)
	ComputeChanges(rows, opts)
	return rows, stats
}

func expectValue(t *testing.T, name string, got *float64, want float64) {
	t.Helper()
	if got == nil {
		t.Fatalf("%s: expected %v, got nil", name, want)
	}
	if math.Abs(*got-want) > 1e-9 {
		t.Fatalf("%s: expected %v, got %v", name, want, *got)
	}
}

func TestAggregateScenario(t *testing.T) {
	rows, _ := build(t, "date,open,high,low,close,volume\n"+
		"2024-01-01,10,12,9,11,100\n"+
		"2024-01-01,11,13,10,12,150\n"+
		"2024-01-02,12,14,11,13,200", DefaultOptions())

	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	first := rows[0]
	if first.Day() != "2024-01-01" || first.DataPoints != 2 {
		t.Fatalf("unexpected first row %s with %d points", first.Day(), first.DataPoints)
	}
	expectValue(t, "open", first.Open, 10)
	expectValue(t, "close", first.Close, 12)
	expectValue(t, "high", first.High, 13)
	expectValue(t, "low", first.Low, 9)
	expectValue(t, "volume", first.Volume, 250)
	expectValue(t, "avg", first.AvgPrice, 11.5)
	if first.PriceChange != nil || first.PriceChangePercent != nil {
		t.Fatalf("first row must have no change")
	}

	second := rows[1]
	if second.Day() != "2024-01-02" || second.DataPoints != 1 {
		t.Fatalf("unexpected second row %s with %d points", second.Day(), second.DataPoints)
	}
	expectValue(t, "open", second.Open, 12)
	expectValue(t, "close", second.Close, 13)
	expectValue(t, "high", second.High, 14)
	expectValue(t, "low", second.Low, 11)
	expectValue(t, "volume", second.Volume, 200)
	expectValue(t, "change", second.PriceChange, 1)
	if second.PriceChangePercent == nil || math.Abs(*second.PriceChangePercent-8.33) > 0.01 {
		t.Fatalf("expected change percent near 8.33, got %v", second.PriceChangePercent)
	}
}

func TestAggregateRoundTripIdentity(t *testing.T) {
	rows, _ := build(t, "date,open,high,low,close\n"+
		"2024-03-01,1.5,2.5,1.25,2\n"+
		"2024-03-02,2,3,1.75,2.75\n"+
		"2024-03-04,2.75,4,2.5,3.5\n", DefaultOptions())

	want := [][4]float64{{1.5, 2.5, 1.25, 2}, {2, 3, 1.75, 2.75}, {2.75, 4, 2.5, 3.5}}
	if len(rows) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(rows))
	}
	for i, w := range want {
		if *rows[i].Open != w[0] || *rows[i].High != w[1] || *rows[i].Low != w[2] || *rows[i].Close != w[3] {
			t.Fatalf("row %d does not match input: %+v", i, rows[i])
		}
		if rows[i].DataPoints != 1 {
			t.Fatalf("row %d expected 1 data point, got %d", i, rows[i].DataPoints)
		}
	}
}

func TestAggregateGroupingDropsInvalidDates(t *testing.T) {
	rows, stats := build(t, "date,value\n"+
		"2024-01-02T09:30:00,1\n"+
		"2024-01-02 16:00,2\n"+
		"2024-01-01,3\n"+
		"null,4\n"+
		",5\n"+
		"not-a-date,6\n"+
		"2024-01-03,7\n", DefaultOptions())

	if len(rows) != 3 {
		t.Fatalf("expected 3 distinct days, got %d", len(rows))
	}
	total := 0
	for _, r := range rows {
		total += r.DataPoints
	}
	if total != 4 {
		t.Fatalf("expected 4 aggregated records, got %d", total)
	}
	if stats.Dropped != 3 {
		t.Fatalf("expected 3 dropped records, got %d", stats.Dropped)
	}
	if rows[0].Day() != "2024-01-01" || rows[1].Day() != "2024-01-02" {
		t.Fatalf("rows not sorted by date: %s, %s", rows[0].Day(), rows[1].Day())
	}
}

func TestAggregateSortsParsedDates(t *testing.T) {
	rows, _ := build(t, "date,price\n10/2/2024,2\n9/30/2024,1\n1/5/2025,3\n", DefaultOptions())
	got := []string{rows[0].Day(), rows[1].Day(), rows[2].Day()}
	want := []string{"2024-09-30", "2024-10-02", "2025-01-05"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestAggregateGroupsBySymbol(t *testing.T) {
	content := "date,symbol,close\n" +
		"2024-01-01,AAPL,100\n" +
		"2024-01-01,MSFT,300\n" +
		"2024-01-02,AAPL,110\n" +
		"2024-01-02,MSFT,330\n"

	rows, _ := build(t, content, DefaultOptions())
	if len(rows) != 4 {
		t.Fatalf("expected one row per day and symbol, got %d", len(rows))
	}
	if rows[0].Symbol != "AAPL" || rows[1].Symbol != "MSFT" {
		t.Fatalf("expected symbol order within a day, got %s, %s", rows[0].Symbol, rows[1].Symbol)
	}
	// changes follow each symbol's own series
	expectValue(t, "AAPL change", rows[2].PriceChange, 10)
	expectValue(t, "MSFT change", rows[3].PriceChange, 30)
	expectValue(t, "MSFT percent", rows[3].PriceChangePercent, 10)

	merged, _ := build(t, content, Options{GroupBySymbol: false})
	if len(merged) != 2 {
		t.Fatalf("expected merged rows per day, got %d", len(merged))
	}
	if merged[0].Symbol != "AAPL" || merged[0].DataPoints != 2 {
		t.Fatalf("expected first symbol label and 2 points, got %+v", merged[0])
	}
	expectValue(t, "merged close", merged[0].Close, 300)
}

func TestAggregateMergesSymbolCase(t *testing.T) {
	rows, _ := build(t, "date,symbol,close\n"+
		"2024-01-01,AAPL,100\n"+
		"2024-01-01,aapl,102\n"+
		"2024-01-01, Aapl ,104\n", DefaultOptions())

	if len(rows) != 1 {
		t.Fatalf("expected one row for differently cased symbols, got %d", len(rows))
	}
	if rows[0].Symbol != "AAPL" || rows[0].DataPoints != 3 {
		t.Fatalf("unexpected row %+v", rows[0])
	}
	expectValue(t, "close", rows[0].Close, 104)
}

func TestAggregateEmptySeriesLeavesPricesUnset(t *testing.T) {
	records := []parser.Record{
		parser.NewRecord([]string{"date", "price", "volume"}, []parser.Value{parser.Text("2024-01-01"), parser.Text("n/a"), parser.Text("")}),
		parser.NewRecord([]string{"date", "price", "volume"}, []parser.Value{parser.Text("2024-01-01"), parser.Null(), parser.Number(5)}),
	}
	s := schema.Schema{
		DateColumn:     "date",
		NumericColumns: []string{"price", "volume"},
		Roles:          schema.ResolveRoles(records[0].Columns(), []string{"price", "volume"}),
	}
	rows, _ := Aggregate(records, s, DefaultOptions())
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	r := rows[0]
	if r.Open != nil || r.High != nil || r.Low != nil || r.Close != nil || r.AvgPrice != nil {
		t.Fatalf("expected unset prices, got %+v", r)
	}
	if r.DataPoints != 2 {
		t.Fatalf("expected 2 data points, got %d", r.DataPoints)
	}
	expectValue(t, "volume", r.Volume, 5)
}

func TestComputeChangesSkipsMissingAndZeroClose(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }
	rows := []dataset.Summary{
		{Date: day(1), Close: float64Ptr(0)},
		{Date: day(2), Close: float64Ptr(5)},
		{Date: day(3)},
		{Date: day(4), Close: float64Ptr(6)},
	}
	ComputeChanges(rows, DefaultOptions())

	expectValue(t, "change from zero", rows[1].PriceChange, 5)
	if rows[1].PriceChangePercent != nil {
		t.Fatalf("percent must stay unset when previous close is zero")
	}
	if rows[2].PriceChange != nil || rows[3].PriceChange != nil {
		t.Fatalf("changes next to a missing close must stay unset")
	}
}

func TestParseDate(t *testing.T) {
	cases := map[string]string{
		"2024-01-05":    "2024-01-05",
		"2024-1-5":      "2024-01-05",
		"2024/01/05":    "2024-01-05",
		"1/5/2024":      "2024-01-05",
		"1/5/24":        "2024-01-05",
		"20240105":      "2024-01-05",
		"1704412800":    "2024-01-05",
		"1704412800000": "2024-01-05",
	}
	for in, want := range cases {
		got, ok := ParseDate(in)
		if !ok {
			t.Fatalf("ParseDate(%q) failed", in)
		}
		if got.Format(dataset.DateLayout) != want {
			t.Fatalf("ParseDate(%q) = %s, want %s", in, got.Format(dataset.DateLayout), want)
		}
	}
	if _, ok := ParseDate("2024-13-45"); ok {
		t.Fatalf("expected invalid calendar date to fail")
	}
}
