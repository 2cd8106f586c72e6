package sink

import (
	"context"
	"encoding/json"
	"io"

	"github.com/upb/auditdrain/models"
)

// JSONSink writes one JSON document per record: indent-2 pretty blocks
// or newline-delimited compact objects.
type JSONSink struct {
	w      io.WriteCloser
	pretty bool
}

// NewJSONSink creates a pretty-printing JSON sink
func NewJSONSink(w io.WriteCloser) *JSONSink {
	return &JSONSink{w: w, pretty: true}
}

// NewNDJSONSink creates a newline-delimited JSON sink
func NewNDJSONSink(w io.WriteCloser) *JSONSink {
	return &JSONSink{w: w}
}

// Write emits each record as its own JSON document
func (s *JSONSink) Write(ctx context.Context, records []models.TransformedRecord) error {
	enc := json.NewEncoder(s.w)
	if s.pretty {
		enc.SetIndent("", "  ")
	}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the destination
func (s *JSONSink) Close() error {
	return s.w.Close()
}
