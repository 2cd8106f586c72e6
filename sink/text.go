package sink

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/upb/auditdrain/models"
	"github.com/upb/auditdrain/transform"
)

// TextSink renders a human-readable prose block per record: the event
// time is normalized to UTC and dotted keys are rebuilt into nested
// groups via transform.Unflatten.
type TextSink struct {
	w io.WriteCloser
}

// NewTextSink creates a text sink writing to w
func NewTextSink(w io.WriteCloser) *TextSink {
	return &TextSink{w: w}
}

// Write renders each record as an indented block
func (s *TextSink) Write(ctx context.Context, records []models.TransformedRecord) error {
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(s.w, "event at %s\n", transform.NormalizeTimestamp(rec.EventTimestamp())); err != nil {
			return err
		}

		fields := make(map[string]any, len(rec))
		for k, v := range rec {
			if k == "event_timestamp" {
				continue
			}
			fields[k] = v
		}
		if err := writeNested(s.w, transform.Unflatten(fields, transform.DefaultSeparator), 1); err != nil {
			return err
		}
		if _, err := fmt.Fprintln(s.w); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the destination
func (s *TextSink) Close() error {
	return s.w.Close()
}

func writeNested(w io.Writer, m map[string]any, depth int) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		indent := ""
		for i := 0; i < depth; i++ {
			indent += "  "
		}
		if child, ok := m[k].(map[string]any); ok {
			if _, err := fmt.Fprintf(w, "%s%s:\n", indent, k); err != nil {
				return err
			}
			if err := writeNested(w, child, depth+1); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(w, "%s%s: %v\n", indent, k, m[k]); err != nil {
			return err
		}
	}
	return nil
}
