package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/buremba/owletto-crawlers/internal/domain"
)

// checkpointSelectColumns lists columns for SELECT queries on checkpoints.
const checkpointSelectColumns = `source_id, kind, last_timestamp, pagination_token,
	total_items_processed, extra, updated_at`

// CheckpointRepository handles database operations for per-source resume
// state. One row per source; the per-kind extension lives in a JSONB column.
type CheckpointRepository struct {
	db *sqlx.DB
}

// NewCheckpointRepository creates a new checkpoint repository.
func NewCheckpointRepository(db *sqlx.DB) *CheckpointRepository {
	return &CheckpointRepository{db: db}
}

// checkpointRow is the scan target; the JSONB extension column is decoded
// separately.
type checkpointRow struct {
	SourceID            string            `db:"source_id"`
	Kind                domain.SourceKind `db:"kind"`
	LastTimestamp       time.Time         `db:"last_timestamp"`
	PaginationToken     *string           `db:"pagination_token"`
	TotalItemsProcessed int64             `db:"total_items_processed"`
	Extra               []byte            `db:"extra"`
	UpdatedAt           time.Time         `db:"updated_at"`
}

func (r checkpointRow) toDomain() (*domain.Checkpoint, error) {
	checkpoint := &domain.Checkpoint{
		SourceID:            r.SourceID,
		Kind:                r.Kind,
		LastTimestamp:       r.LastTimestamp.UTC(),
		PaginationToken:     r.PaginationToken,
		TotalItemsProcessed: r.TotalItemsProcessed,
		UpdatedAt:           r.UpdatedAt.UTC(),
	}
	if len(r.Extra) > 0 {
		var extra domain.CheckpointExtra
		if err := json.Unmarshal(r.Extra, &extra); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint extra: %w", err)
		}
		checkpoint.Extra = &extra
	}
	return checkpoint, nil
}

// GetOrCreate returns the checkpoint for a source, creating an empty row if
// none exists. Uses INSERT ... ON CONFLICT DO NOTHING then SELECT.
func (r *CheckpointRepository) GetOrCreate(
	ctx context.Context,
	sourceID string,
	kind domain.SourceKind,
) (*domain.Checkpoint, error) {
	insertQuery := `INSERT INTO checkpoints (source_id, kind, last_timestamp, total_items_processed, updated_at)
		VALUES ($1, $2, to_timestamp(0), 0, NOW()) ON CONFLICT (source_id) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, insertQuery, sourceID, kind); err != nil {
		return nil, fmt.Errorf("failed to insert checkpoint: %w", err)
	}

	return r.Get(ctx, sourceID)
}

// Get returns the checkpoint for a source.
func (r *CheckpointRepository) Get(ctx context.Context, sourceID string) (*domain.Checkpoint, error) {
	selectQuery := `SELECT ` + checkpointSelectColumns + ` FROM checkpoints WHERE source_id = $1`

	var row checkpointRow
	if err := r.db.GetContext(ctx, &row, selectQuery, sourceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("checkpoint not found: %s", sourceID)
		}
		return nil, fmt.Errorf("failed to select checkpoint: %w", err)
	}

	return row.toDomain()
}

// Save upserts a checkpoint. Used both for the final checkpoint of a run and
// for mid-run flushes during long enrichment passes.
func (r *CheckpointRepository) Save(ctx context.Context, checkpoint *domain.Checkpoint) error {
	var extra []byte
	if checkpoint.Extra != nil {
		encoded, err := json.Marshal(checkpoint.Extra)
		if err != nil {
			return fmt.Errorf("failed to encode checkpoint extra: %w", err)
		}
		extra = encoded
	}

	query := `
		INSERT INTO checkpoints (source_id, kind, last_timestamp, pagination_token,
			total_items_processed, extra, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (source_id) DO UPDATE
		SET last_timestamp = EXCLUDED.last_timestamp,
			pagination_token = EXCLUDED.pagination_token,
			total_items_processed = EXCLUDED.total_items_processed,
			extra = EXCLUDED.extra,
			updated_at = NOW()
	`

	_, err := r.db.ExecContext(ctx, query,
		checkpoint.SourceID, checkpoint.Kind, checkpoint.LastTimestamp,
		checkpoint.PaginationToken, checkpoint.TotalItemsProcessed, extra,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Delete removes a source's checkpoint, forcing the next run to start from
// scratch.
func (r *CheckpointRepository) Delete(ctx context.Context, sourceID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE source_id = $1`, sourceID)
	return execRequireRows(result, err, fmt.Errorf("checkpoint not found: %s", sourceID))
}
