// Package parser turns uploaded CSV or JSON content into flat records.
package parser

import (
	"fmt"

	"github.com/sabarim/dsingest/internal/dataset"
)

// Parse dispatches on the declared file type
func Parse(content []byte, fileType dataset.FileType) ([]Record, Stats, error) {
	switch fileType {
	case dataset.FileTypeCSV:
		return ParseCSV(content)
	case dataset.FileTypeJSON:
		records := ParseJSON(content)
		return records, Stats{Lines: len(records)}, nil
	default:
		return nil, Stats{}, fmt.Errorf("unsupported file type %q", fileType)
	}
}
