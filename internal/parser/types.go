package parser

import (
	"math"
	"strconv"
	"strings"
)

// Kind is the scalar type held by a Value
type Kind int

const (
	KindNull Kind = iota
	KindNumber
	KindString
)

// Value is a single scalar cell: a number, a string or null
type Value struct {
	kind Kind
	num  float64
	str  string
}

// Null returns the null value
func Null() Value { return Value{kind: KindNull} }

// Number wraps a float
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Text wraps a string without coercion
func Text(s string) Value { return Value{kind: KindString, str: s} }

// Coerce turns numeric-looking text into a number and keeps everything else as text
func Coerce(s string) Value {
	if f, ok := ParseNumber(s); ok {
		return Number(f)
	}
	return Text(s)
}

// ParseNumber parses s as a finite float64. Surrounding whitespace is ignored;
// partial numbers such as "12abc" are rejected.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Kind reports the scalar type
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsEmpty reports whether the value is null or blank text
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return strings.TrimSpace(v.str) == ""
	}
	return false
}

// Float returns the numeric reading of the value. Text is parsed on demand.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindString:
		return ParseNumber(v.str)
	}
	return 0, false
}

// FloatOrZero is Float with missing or unparseable values read as 0
func (v Value) FloatOrZero() float64 {
	f, _ := v.Float()
	return f
}

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindString:
		return v.str
	}
	return ""
}

// Record is one input row: column names in declared order mapped to scalars.
// Records are immutable once built by the parser.
type Record struct {
	columns []string
	values  map[string]Value
}

// NewRecord builds a record from parallel column and value slices.
// A repeated column keeps its first position and its last value.
func NewRecord(columns []string, values []Value) Record {
	r := Record{
		columns: make([]string, 0, len(columns)),
		values:  make(map[string]Value, len(columns)),
	}
	for i, col := range columns {
		if _, seen := r.values[col]; !seen {
			r.columns = append(r.columns, col)
		}
		if i < len(values) {
			r.values[col] = values[i]
		} else {
			r.values[col] = Null()
		}
	}
	return r
}

// Columns returns the column names in declared order
func (r Record) Columns() []string {
	out := make([]string, len(r.columns))
	copy(out, r.columns)
	return out
}

// Get returns the value of a column; missing columns read as null
func (r Record) Get(column string) Value {
	if v, ok := r.values[column]; ok {
		return v
	}
	return Null()
}

// Has reports whether the record declares the column
func (r Record) Has(column string) bool {
	_, ok := r.values[column]
	return ok
}

// Len returns the number of columns
func (r Record) Len() int { return len(r.columns) }

// Stats counts rows the parser dropped without failing
type Stats struct {
	Lines   int
	Skipped int
}
