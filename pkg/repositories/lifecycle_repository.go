package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/datawatch-io/datawatch-engine/pkg/database"
	"github.com/datawatch-io/datawatch-engine/pkg/models"
)

// LifecycleRepository provides data access for per-entity lifecycle records.
type LifecycleRepository interface {
	// Get returns the lifecycle record for one entity, or nil if the entity
	// has never been observed.
	Get(ctx context.Context, entityID string) (*models.LifecycleRecord, error)

	// Upsert writes the full lifecycle record.
	Upsert(ctx context.Context, rec *models.LifecycleRecord) error

	// ListVanished returns all records currently in the vanished state,
	// most recently disappeared first.
	ListVanished(ctx context.Context, limit int) ([]*models.LifecycleRecord, error)

	// AttachRecoveryHint stores an archival-recovery enrichment on a record.
	AttachRecoveryHint(ctx context.Context, entityID string, hint *models.RecoveryHint) error
}

type lifecycleRepository struct {
	db *database.DB
}

// NewLifecycleRepository creates a new LifecycleRepository.
func NewLifecycleRepository(db *database.DB) LifecycleRepository {
	return &lifecycleRepository{db: db}
}

var _ LifecycleRepository = (*lifecycleRepository)(nil)

func (r *lifecycleRepository) Get(ctx context.Context, entityID string) (*models.LifecycleRecord, error) {
	query := `
		SELECT entity_id, status, first_seen, last_seen, disappeared_at,
		       reappeared_at, change_count, recovery, updated_at
		FROM watch_lifecycle_records
		WHERE entity_id = $1`

	rec, err := scanLifecycleRecord(r.db.QueryRow(ctx, query, entityID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

func (r *lifecycleRepository) Upsert(ctx context.Context, rec *models.LifecycleRecord) error {
	recoveryJSON, err := marshalRecovery(rec.Recovery)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO watch_lifecycle_records (
			entity_id, status, first_seen, last_seen, disappeared_at,
			reappeared_at, change_count, recovery, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (entity_id) DO UPDATE SET
			status = EXCLUDED.status,
			first_seen = EXCLUDED.first_seen,
			last_seen = EXCLUDED.last_seen,
			disappeared_at = EXCLUDED.disappeared_at,
			reappeared_at = EXCLUDED.reappeared_at,
			change_count = EXCLUDED.change_count,
			recovery = EXCLUDED.recovery,
			updated_at = EXCLUDED.updated_at`

	_, err = r.db.Exec(ctx, query,
		rec.EntityID,
		rec.Status,
		models.Day(rec.FirstSeen),
		models.Day(rec.LastSeen),
		dayOrNil(rec.DisappearedAt),
		dayOrNil(rec.ReappearedAt),
		rec.ChangeCount,
		recoveryJSON,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert lifecycle record: %w", err)
	}

	return nil
}

func (r *lifecycleRepository) ListVanished(ctx context.Context, limit int) ([]*models.LifecycleRecord, error) {
	if limit <= 0 {
		limit = 1000
	}

	query := `
		SELECT entity_id, status, first_seen, last_seen, disappeared_at,
		       reappeared_at, change_count, recovery, updated_at
		FROM watch_lifecycle_records
		WHERE status = $1
		ORDER BY disappeared_at DESC NULLS LAST
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, models.LifecycleVanished, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list vanished records: %w", err)
	}
	defer rows.Close()

	var records []*models.LifecycleRecord
	for rows.Next() {
		rec, err := scanLifecycleRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lifecycle records: %w", err)
	}

	return records, nil
}

func (r *lifecycleRepository) AttachRecoveryHint(ctx context.Context, entityID string, hint *models.RecoveryHint) error {
	recoveryJSON, err := marshalRecovery(hint)
	if err != nil {
		return err
	}

	result, err := r.db.Exec(ctx,
		`UPDATE watch_lifecycle_records SET recovery = $2, updated_at = $3 WHERE entity_id = $1`,
		entityID, recoveryJSON, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to attach recovery hint: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("lifecycle record not found for entity %q", entityID)
	}

	return nil
}

func scanLifecycleRecord(row pgx.Row) (*models.LifecycleRecord, error) {
	var rec models.LifecycleRecord
	var recovery []byte

	err := row.Scan(
		&rec.EntityID,
		&rec.Status,
		&rec.FirstSeen,
		&rec.LastSeen,
		&rec.DisappearedAt,
		&rec.ReappearedAt,
		&rec.ChangeCount,
		&recovery,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan lifecycle record: %w", err)
	}

	if len(recovery) > 0 && string(recovery) != "null" {
		var hint models.RecoveryHint
		if err := json.Unmarshal(recovery, &hint); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recovery hint: %w", err)
		}
		rec.Recovery = &hint
	}

	return &rec, nil
}

func marshalRecovery(hint *models.RecoveryHint) (any, error) {
	if hint == nil {
		return nil, nil
	}
	data, err := json.Marshal(hint)
	if err != nil {
		return nil, fmt.Errorf("failed to encode recovery hint: %w", err)
	}
	return data, nil
}

func dayOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return models.Day(*t)
}
