package sink

import (
	"context"
	"errors"

	"github.com/upb/auditdrain/models"
)

// Multi fans out record batches to multiple sinks. A failing sink does
// not prevent delivery to the remaining ones; errors are joined.
type Multi struct {
	sinks []Sink
}

// NewMulti creates a Multi that fans out to the given sinks
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Write delivers the batch to every wrapped sink
func (m *Multi) Write(ctx context.Context, records []models.TransformedRecord) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, records); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every wrapped sink, collecting errors
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
