// Package transform converts raw audit records into their downstream
// shape: the event time is injected as an event_timestamp field, dotted
// keys can be rebuilt into nested maps for presentation, and millisecond
// timestamps can be normalized to a human-readable UTC form.
package transform

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/upb/auditdrain/models"
)

// DefaultSeparator joins nested field names in flattened keys
const DefaultSeparator = "."

// timestampLayout is the fixed output format of NormalizeTimestamp
const timestampLayout = "2006-01-02 15:04:05 UTC"

// Apply returns a copy of the record's fields with event_timestamp set
// to the record's event time. Deterministic and pure.
func Apply(rec models.AuditRecord) models.TransformedRecord {
	out := make(models.TransformedRecord, len(rec.FieldsMap)+1)
	for k, v := range rec.FieldsMap {
		out[k] = v
	}
	out["event_timestamp"] = rec.Time
	return out
}

// ApplyAll transforms records preserving order
func ApplyAll(records []models.AuditRecord) []models.TransformedRecord {
	out := make([]models.TransformedRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, Apply(rec))
	}
	return out
}

// Unflatten rebuilds hierarchical structure from dot-joined keys:
// {"a.b": 1, "a.c": 2, "d": 3} becomes {"a": {"b": 1, "c": 2}, "d": 3}.
// Keys without the separator remain top-level. Keys are processed in
// sorted order so conflict handling is deterministic: when a path
// segment collides with an existing scalar, the dotted key is kept
// verbatim rather than dropping data.
func Unflatten(flat map[string]any, sep string) map[string]any {
	if sep == "" {
		sep = DefaultSeparator
	}

	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(flat))
	for _, key := range keys {
		parts := strings.Split(key, sep)
		if len(parts) == 1 {
			out[key] = flat[key]
			continue
		}

		node := out
		conflict := false
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part]
			if !ok {
				next := make(map[string]any)
				node[part] = next
				node = next
				continue
			}
			next, ok := child.(map[string]any)
			if !ok {
				conflict = true
				break
			}
			node = next
		}
		if conflict {
			out[key] = flat[key]
			continue
		}
		node[parts[len(parts)-1]] = flat[key]
	}
	return out
}

// NormalizeTimestamp converts a millisecond-epoch string into a fixed
// UTC form ("2006-01-02 15:04:05 UTC"). Malformed input is returned
// unchanged rather than failing the run.
func NormalizeTimestamp(ms string) string {
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return ms
	}
	return time.UnixMilli(n).UTC().Format(timestampLayout)
}
