package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/auditdrain/models"
	"github.com/upb/auditdrain/repositories"
	"go.uber.org/zap"
)

// RecordRepository implements repositories.RecordRepository on PostgreSQL
type RecordRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRecordRepository creates a new record repository
func NewRecordRepository(db *DB, logger *zap.Logger) repositories.RecordRepository {
	return &RecordRepository{
		db:     db,
		logger: logger,
	}
}

// InsertBatch stores one page batch of transformed records under the run id.
// The batch is written in a single transaction: a page is persisted
// atomically or not at all.
func (r *RecordRepository) InsertBatch(ctx context.Context, runID uuid.UUID, accountID string, records []models.TransformedRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // nolint

	query := `
		INSERT INTO audit_records (id, run_id, account_id, event_timestamp, fields)
		VALUES ($1, $2, $3, $4, $5)
	`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		fields, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record fields: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, uuid.New(), runID, accountID, rec.EventTimestamp(), fields); err != nil {
			return fmt.Errorf("failed to insert audit record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	r.logger.Debug("audit record batch inserted",
		zap.String("run_id", runID.String()),
		zap.Int("count", len(records)))
	return nil
}

// CountByRun returns how many records a run has stored so far
func (r *RecordRepository) CountByRun(ctx context.Context, runID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_records WHERE run_id = $1`, runID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit records: %w", err)
	}
	return count, nil
}
