// Package sink provides destinations for transformed audit records.
// Sinks receive per-page batches in feed order; Close flushes anything
// buffered (the CSV sink needs the whole collection for its columns).
package sink

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/upb/auditdrain/models"
)

// Sink is a destination for transformed records
type Sink interface {
	Write(ctx context.Context, records []models.TransformedRecord) error
	Close() error
}

// OpenDestination opens the output destination for path. An empty path
// means stdout; a ".gz" suffix wraps the file in a gzip writer.
func OpenDestination(path string) (io.WriteCloser, error) {
	if path == "" {
		return nopCloser{os.Stdout}, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".gz") {
		return &gzipCloser{gz: gzip.NewWriter(f), f: f}, nil
	}
	return f, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// gzipCloser closes the gzip stream before the underlying file
type gzipCloser struct {
	gz *gzip.Writer
	f  *os.File
}

func (c *gzipCloser) Write(p []byte) (int, error) { return c.gz.Write(p) }

func (c *gzipCloser) Close() error {
	if err := c.gz.Close(); err != nil {
		c.f.Close()
		return err
	}
	return c.f.Close()
}
