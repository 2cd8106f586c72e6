package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/upb/auditdrain/models"
)

// RecordRepository persists transformed audit records
type RecordRepository interface {
	// InsertBatch stores one page batch of transformed records under the run id
	InsertBatch(ctx context.Context, runID uuid.UUID, accountID string, records []models.TransformedRecord) error

	// CountByRun returns how many records a run has stored so far
	CountByRun(ctx context.Context, runID uuid.UUID) (int, error)
}
