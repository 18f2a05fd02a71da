package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/datawatch-io/datawatch-engine/pkg/database"
	"github.com/datawatch-io/datawatch-engine/pkg/models"
)

// BaselineRepository provides data access for frozen baseline snapshot sets.
type BaselineRepository interface {
	// Create stores a new baseline with its member entity set.
	Create(ctx context.Context, baseline *models.Baseline) error

	// GetByName returns the named baseline with members, or nil if absent.
	GetByName(ctx context.Context, name string) (*models.Baseline, error)

	// GetLatest returns the most recently created baseline, or nil if none
	// exists yet.
	GetLatest(ctx context.Context) (*models.Baseline, error)
}

type baselineRepository struct {
	db *database.DB
}

// NewBaselineRepository creates a new BaselineRepository.
func NewBaselineRepository(db *database.DB) BaselineRepository {
	return &baselineRepository{db: db}
}

var _ BaselineRepository = (*baselineRepository)(nil)

func (r *baselineRepository) Create(ctx context.Context, baseline *models.Baseline) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if baseline.ID == uuid.Nil {
		baseline.ID = uuid.New()
	}
	now := time.Now()

	_, err = tx.Exec(ctx,
		`INSERT INTO watch_baselines (id, name, frozen_on, created_at) VALUES ($1, $2, $3, $4)`,
		baseline.ID, baseline.Name, models.Day(baseline.FrozenOn), now,
	)
	if err != nil {
		return fmt.Errorf("failed to create baseline: %w", err)
	}

	batch := &pgx.Batch{}
	for _, entityID := range baseline.EntityIDs {
		batch.Queue(
			`INSERT INTO watch_baseline_members (baseline_id, entity_id) VALUES ($1, $2)`,
			baseline.ID, entityID,
		)
	}
	results := tx.SendBatch(ctx, batch)
	for range baseline.EntityIDs {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("failed to insert baseline member: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to close baseline member batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit baseline: %w", err)
	}

	baseline.CreatedAt = now
	return nil
}

func (r *baselineRepository) GetByName(ctx context.Context, name string) (*models.Baseline, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, name, frozen_on, created_at FROM watch_baselines WHERE name = $1`,
		name,
	)
	return r.scanWithMembers(ctx, row)
}

func (r *baselineRepository) GetLatest(ctx context.Context) (*models.Baseline, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, name, frozen_on, created_at FROM watch_baselines ORDER BY created_at DESC LIMIT 1`,
	)
	return r.scanWithMembers(ctx, row)
}

func (r *baselineRepository) scanWithMembers(ctx context.Context, row pgx.Row) (*models.Baseline, error) {
	var b models.Baseline
	err := row.Scan(&b.ID, &b.Name, &b.FrozenOn, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan baseline: %w", err)
	}
	b.FrozenOn = models.Day(b.FrozenOn)

	rows, err := r.db.Query(ctx,
		`SELECT entity_id FROM watch_baseline_members WHERE baseline_id = $1 ORDER BY entity_id`,
		b.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list baseline members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entityID string
		if err := rows.Scan(&entityID); err != nil {
			return nil, fmt.Errorf("failed to scan baseline member: %w", err)
		}
		b.EntityIDs = append(b.EntityIDs, entityID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating baseline members: %w", err)
	}

	return &b, nil
}
