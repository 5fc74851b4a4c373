package export

// SummaryPoint represents a single daily summary row for parquet
type SummaryPoint struct {
	DatasetID          string   `parquet:"name=dataset_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Date               string   `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Symbol             string   `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Year               int32    `parquet:"name=year, type=INT32, encoding=PLAIN_DICTIONARY"`
	Month              int32    `parquet:"name=month, type=INT32, encoding=PLAIN_DICTIONARY"`
	Day                int32    `parquet:"name=day, type=INT32, encoding=PLAIN_DICTIONARY"`
	Open               *float64 `parquet:"name=open, type=DOUBLE, repetitiontype=OPTIONAL"`
	High               *float64 `parquet:"name=high, type=DOUBLE, repetitiontype=OPTIONAL"`
	Low                *float64 `parquet:"name=low, type=DOUBLE, repetitiontype=OPTIONAL"`
	Close              *float64 `parquet:"name=close, type=DOUBLE, repetitiontype=OPTIONAL"`
	Volume             *float64 `parquet:"name=volume, type=DOUBLE, repetitiontype=OPTIONAL"`
	AvgPrice           *float64 `parquet:"name=avg_price, type=DOUBLE, repetitiontype=OPTIONAL"`
	PriceChange        *float64 `parquet:"name=price_change, type=DOUBLE, repetitiontype=OPTIONAL"`
	PriceChangePercent *float64 `parquet:"name=price_change_percent, type=DOUBLE, repetitiontype=OPTIONAL"`
	DataPoints         int64    `parquet:"name=data_points, type=INT64, encoding=DELTA_BINARY_PACKED"`
}

// Format is an export file format
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

var csvHeader = []string{
	"dataset_id", "date", "symbol", "open", "high", "low", "close",
	"volume", "avg_price", "price_change", "price_change_percent", "data_points",
}
