package aggregate

import (
	"strconv"
	"strings"
	"time"

	"github.com/sabarim/dsingest/internal/parser"
)

// dateLayouts are tried in order against the calendar part of a date value
var dateLayouts = []string{
	"2006-1-2",
	"2006/1/2",
	"1/2/2006",
	"1/2/06",
	"20060102",
}

// DateKey truncates a date value to its calendar portion: everything before
// the first 'T' or space. Empty, "undefined" and "null" keys are invalid.
func DateKey(v parser.Value) (string, bool) {
	raw := strings.TrimSpace(v.String())
	if i := strings.IndexAny(raw, "T "); i >= 0 {
		raw = raw[:i]
	}
	switch raw {
	case "", "undefined", "null":
		return "", false
	}
	return raw, true
}

// ParseDate turns a date key into a UTC calendar day. Ten and thirteen digit
// integers are read as Unix seconds and milliseconds.
func ParseDate(key string) (time.Time, bool) {
	if isDigits(key) && (len(key) == 10 || len(key) == 13) {
		n, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		var t time.Time
		if len(key) == 13 {
			t = time.UnixMilli(n)
		} else {
			t = time.Unix(n, 0)
		}
		return truncateDay(t.UTC()), true
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, key); err == nil {
			return truncateDay(t), true
		}
	}
	return time.Time{}, false
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
