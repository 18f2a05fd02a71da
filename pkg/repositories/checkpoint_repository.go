package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/datawatch-io/datawatch-engine/pkg/database"
)

// CheckpointRepository tracks per-entity progress of a catalog transition
// pass so an interrupted run can resume without re-deriving events that were
// already written.
type CheckpointRepository interface {
	// MarkProcessed records that an entity was fully handled by a run.
	// Idempotent: marking the same entity twice is a no-op.
	MarkProcessed(ctx context.Context, runID uuid.UUID, entityID string) error

	// ListProcessed returns the entity ids a run already handled.
	ListProcessed(ctx context.Context, runID uuid.UUID) (map[string]bool, error)

	// DeleteRun removes the checkpoints of a finished run.
	DeleteRun(ctx context.Context, runID uuid.UUID) error
}

type checkpointRepository struct {
	db *database.DB
}

// NewCheckpointRepository creates a new CheckpointRepository.
func NewCheckpointRepository(db *database.DB) CheckpointRepository {
	return &checkpointRepository{db: db}
}

var _ CheckpointRepository = (*checkpointRepository)(nil)

func (r *checkpointRepository) MarkProcessed(ctx context.Context, runID uuid.UUID, entityID string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO watch_run_checkpoints (run_id, entity_id, processed_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (run_id, entity_id) DO NOTHING`,
		runID, entityID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark entity processed: %w", err)
	}
	return nil
}

func (r *checkpointRepository) ListProcessed(ctx context.Context, runID uuid.UUID) (map[string]bool, error) {
	rows, err := r.db.Query(ctx,
		`SELECT entity_id FROM watch_run_checkpoints WHERE run_id = $1`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	processed := make(map[string]bool)
	for rows.Next() {
		var entityID string
		if err := rows.Scan(&entityID); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		processed[entityID] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkpoints: %w", err)
	}

	return processed, nil
}

func (r *checkpointRepository) DeleteRun(ctx context.Context, runID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM watch_run_checkpoints WHERE run_id = $1`,
		runID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete run checkpoints: %w", err)
	}
	return nil
}
