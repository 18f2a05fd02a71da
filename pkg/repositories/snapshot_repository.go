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

// SnapshotRepository provides data access for capture snapshots. Snapshots
// are written by the capture collaborator (via Upsert) and read-only for the
// rest of the engine.
type SnapshotRepository interface {
	// Upsert writes a snapshot, replacing any existing record for the same
	// (entity_id, captured_on). Last write wins.
	Upsert(ctx context.Context, snap *models.Snapshot) error

	// GetByEntityAndDate returns the snapshot for one entity on one day, or
	// nil if no capture exists.
	GetByEntityAndDate(ctx context.Context, entityID string, date time.Time) (*models.Snapshot, error)

	// ListEntityIDsByDate returns all entity ids captured on a day.
	ListEntityIDsByDate(ctx context.Context, date time.Time) ([]string, error)

	// ListByEntity returns all snapshots of one entity, newest first.
	ListByEntity(ctx context.Context, entityID string, limit int) ([]*models.Snapshot, error)

	// CountByDate returns the number of snapshots recorded on a day.
	CountByDate(ctx context.Context, date time.Time) (int, error)
}

type snapshotRepository struct {
	db *database.DB
}

// NewSnapshotRepository creates a new SnapshotRepository.
func NewSnapshotRepository(db *database.DB) SnapshotRepository {
	return &snapshotRepository{db: db}
}

var _ SnapshotRepository = (*snapshotRepository)(nil)

func (r *snapshotRepository) Upsert(ctx context.Context, snap *models.Snapshot) error {
	schemaJSON, err := jsonbValue(snap.Schema)
	if err != nil {
		return fmt.Errorf("failed to encode schema summary: %w", err)
	}
	fingerprintJSON, err := jsonbValue(snap.Fingerprint)
	if err != nil {
		return fmt.Errorf("failed to encode fingerprint: %w", err)
	}

	query := `
		INSERT INTO watch_snapshots (
			entity_id, captured_on, title, agency, url, license, publisher,
			landing_page, format, modified_at, schema_summary, fingerprint,
			available, latency_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (entity_id, captured_on) DO UPDATE SET
			title = EXCLUDED.title,
			agency = EXCLUDED.agency,
			url = EXCLUDED.url,
			license = EXCLUDED.license,
			publisher = EXCLUDED.publisher,
			landing_page = EXCLUDED.landing_page,
			format = EXCLUDED.format,
			modified_at = EXCLUDED.modified_at,
			schema_summary = EXCLUDED.schema_summary,
			fingerprint = EXCLUDED.fingerprint,
			available = EXCLUDED.available,
			latency_ms = EXCLUDED.latency_ms`

	_, err = r.db.Exec(ctx, query,
		snap.EntityID,
		models.Day(snap.CapturedOn),
		snap.Metadata.Title,
		snap.Metadata.Agency,
		snap.Metadata.URL,
		snap.Metadata.License,
		snap.Metadata.Publisher,
		snap.Metadata.LandingPage,
		snap.Metadata.Format,
		snap.Metadata.ModifiedAt,
		schemaJSON,
		fingerprintJSON,
		snap.Available,
		snap.Latency.Milliseconds(),
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}

	return nil
}

func (r *snapshotRepository) GetByEntityAndDate(ctx context.Context, entityID string, date time.Time) (*models.Snapshot, error) {
	query := `
		SELECT entity_id, captured_on, title, agency, url, license, publisher,
		       landing_page, format, modified_at, schema_summary, fingerprint,
		       available, latency_ms, created_at
		FROM watch_snapshots
		WHERE entity_id = $1 AND captured_on = $2`

	row := r.db.QueryRow(ctx, query, entityID, models.Day(date))
	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return snap, nil
}

func (r *snapshotRepository) ListEntityIDsByDate(ctx context.Context, date time.Time) ([]string, error) {
	query := `
		SELECT entity_id
		FROM watch_snapshots
		WHERE captured_on = $1
		ORDER BY entity_id`

	rows, err := r.db.Query(ctx, query, models.Day(date))
	if err != nil {
		return nil, fmt.Errorf("failed to list entity ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan entity id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entity ids: %w", err)
	}

	return ids, nil
}

func (r *snapshotRepository) ListByEntity(ctx context.Context, entityID string, limit int) ([]*models.Snapshot, error) {
	if limit <= 0 {
		limit = 1000
	}

	query := `
		SELECT entity_id, captured_on, title, agency, url, license, publisher,
		       landing_page, format, modified_at, schema_summary, fingerprint,
		       available, latency_ms, created_at
		FROM watch_snapshots
		WHERE entity_id = $1
		ORDER BY captured_on DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*models.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snaps, nil
}

func (r *snapshotRepository) CountByDate(ctx context.Context, date time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM watch_snapshots WHERE captured_on = $1`,
		models.Day(date),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return count, nil
}

func scanSnapshot(row pgx.Row) (*models.Snapshot, error) {
	var s models.Snapshot
	var schemaJSON, fingerprintJSON []byte
	var latencyMS int64

	err := row.Scan(
		&s.EntityID,
		&s.CapturedOn,
		&s.Metadata.Title,
		&s.Metadata.Agency,
		&s.Metadata.URL,
		&s.Metadata.License,
		&s.Metadata.Publisher,
		&s.Metadata.LandingPage,
		&s.Metadata.Format,
		&s.Metadata.ModifiedAt,
		&schemaJSON,
		&fingerprintJSON,
		&s.Available,
		&latencyMS,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan snapshot: %w", err)
	}

	s.CapturedOn = models.Day(s.CapturedOn)
	s.Latency = time.Duration(latencyMS) * time.Millisecond

	if len(schemaJSON) > 0 && string(schemaJSON) != "null" {
		var summary models.SchemaSummary
		if err := json.Unmarshal(schemaJSON, &summary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal schema summary: %w", err)
		}
		s.Schema = &summary
	}
	if len(fingerprintJSON) > 0 && string(fingerprintJSON) != "null" {
		var fp models.ContentFingerprint
		if err := json.Unmarshal(fingerprintJSON, &fp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fingerprint: %w", err)
		}
		s.Fingerprint = &fp
	}

	return &s, nil
}

// jsonbValue encodes a value for a nullable JSONB column. A nil pointer maps
// to SQL NULL.
func jsonbValue(v any) (any, error) {
	switch val := v.(type) {
	case *models.SchemaSummary:
		if val == nil {
			return nil, nil
		}
	case *models.ContentFingerprint:
		if val == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}
