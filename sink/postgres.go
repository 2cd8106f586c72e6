package sink

import (
	"context"

	"github.com/google/uuid"
	"github.com/upb/auditdrain/models"
	"github.com/upb/auditdrain/repositories"
)

// PostgresSink persists transformed records through a RecordRepository
type PostgresSink struct {
	repo      repositories.RecordRepository
	runID     uuid.UUID
	accountID string
}

// NewPostgresSink creates a sink storing records under the given run id
func NewPostgresSink(repo repositories.RecordRepository, runID uuid.UUID, accountID string) *PostgresSink {
	return &PostgresSink{
		repo:      repo,
		runID:     runID,
		accountID: accountID,
	}
}

// Write stores the batch
func (s *PostgresSink) Write(ctx context.Context, records []models.TransformedRecord) error {
	return s.repo.InsertBatch(ctx, s.runID, s.accountID, records)
}

// Close is a no-op; the database connection is owned by the caller
func (s *PostgresSink) Close() error {
	return nil
}
