package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	"github.com/upb/auditdrain/models"
)

// CSVSink buffers all records and emits a columnar file on Close: the
// header is the sorted union of every key seen across the collection,
// so it cannot stream page by page.
type CSVSink struct {
	w       io.WriteCloser
	records []models.TransformedRecord
}

// NewCSVSink creates a CSV sink writing to w
func NewCSVSink(w io.WriteCloser) *CSVSink {
	return &CSVSink{w: w}
}

// Write buffers the batch until Close
func (s *CSVSink) Write(ctx context.Context, records []models.TransformedRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.records = append(s.records, records...)
	return nil
}

// Close writes the buffered collection as CSV and closes the destination
func (s *CSVSink) Close() error {
	defer s.w.Close()

	columns := s.columns()
	cw := csv.NewWriter(s.w)

	if err := cw.Write(columns); err != nil {
		return err
	}
	row := make([]string, len(columns))
	for _, rec := range s.records {
		for i, col := range columns {
			if v, ok := rec[col]; ok {
				row[i] = fmt.Sprint(v)
			} else {
				row[i] = ""
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func (s *CSVSink) columns() []string {
	seen := make(map[string]bool)
	for _, rec := range s.records {
		for k := range rec {
			seen[k] = true
		}
	}
	columns := make([]string, 0, len(seen))
	for k := range seen {
		columns = append(columns, k)
	}
	sort.Strings(columns)
	return columns
}
