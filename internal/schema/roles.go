package schema

import "regexp"

var (
	pricePattern  = regexp.MustCompile(`(?i)price|close|value`)
	openPattern   = regexp.MustCompile(`(?i)open`)
	highPattern   = regexp.MustCompile(`(?i)high`)
	lowPattern    = regexp.MustCompile(`(?i)low`)
	volumePattern = regexp.MustCompile(`(?i)volume|qty|quantity`)
	symbolPattern = regexp.MustCompile(`(?i)symbol|ticker|stock`)
)

// Roles maps OHLCV roles onto column names. An empty string means the
// role was not found.
type Roles struct {
	Price  string
	Open   string
	High   string
	Low    string
	Volume string
	Symbol string
	// Series is the column the price series is read from: Price when
	// present, otherwise the first numeric column.
	Series string
}

// ResolveRoles matches price and OHLCV roles against the numeric columns and
// the symbol role against every column, first match in order.
func ResolveRoles(columns, numeric []string) Roles {
	r := Roles{
		Price:  firstMatch(numeric, pricePattern),
		Open:   firstMatch(numeric, openPattern),
		High:   firstMatch(numeric, highPattern),
		Low:    firstMatch(numeric, lowPattern),
		Volume: firstMatch(numeric, volumePattern),
		Symbol: firstMatch(columns, symbolPattern),
	}
	r.Series = r.Price
	if r.Series == "" && len(numeric) > 0 {
		r.Series = numeric[0]
	}
	return r
}

// HasSeries reports whether any numeric column can feed the price series
func (r Roles) HasSeries() bool { return r.Series != "" }

func firstMatch(columns []string, pattern *regexp.Regexp) string {
	for _, col := range columns {
		if pattern.MatchString(col) {
			return col
		}
	}
	return ""
}
