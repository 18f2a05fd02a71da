package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/datawatch-io/datawatch-engine/pkg/database"
	"github.com/datawatch-io/datawatch-engine/pkg/models"
)

// EventRepository provides data access for normalized change events. Writes
// are idempotent upserts on (entity_id, captured_on, event_type, field), so
// re-running an extraction after a partial failure is always safe.
type EventRepository interface {
	// UpsertBatch writes events, silently keeping the existing record when
	// the uniqueness key collides. Returns the number of newly inserted rows.
	UpsertBatch(ctx context.Context, events []models.Event) (int, error)

	// Query returns events matching the filter, ordered by capture date
	// descending, then creation time descending.
	Query(ctx context.Context, filter models.EventFilter) ([]*models.Event, error)

	// CountByEntitySince returns per-entity event counts within a window,
	// used for change-count rankings.
	CountByEntitySince(ctx context.Context, since time.Time, limit int) (map[string]int, error)
}

type eventRepository struct {
	db *database.DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *database.DB) EventRepository {
	return &eventRepository{db: db}
}

var _ EventRepository = (*eventRepository)(nil)

func (r *eventRepository) UpsertBatch(ctx context.Context, events []models.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	now := time.Now()

	batch := &pgx.Batch{}
	query := `
		INSERT INTO watch_events (
			id, entity_id, captured_on, event_type, severity, field, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (entity_id, captured_on, event_type, field) DO NOTHING`

	for _, e := range events {
		detailsJSON, err := json.Marshal(e.Details)
		if err != nil {
			return 0, fmt.Errorf("failed to encode event details: %w", err)
		}
		batch.Queue(query,
			uuid.New(),
			e.EntityID,
			models.Day(e.CapturedOn),
			e.Type,
			e.Severity,
			e.Field,
			detailsJSON,
			now,
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for i := range events {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("failed to upsert event %d: %w", i, err)
		}
		inserted += int(tag.RowsAffected())
	}

	return inserted, nil
}

func (r *eventRepository) Query(ctx context.Context, filter models.EventFilter) ([]*models.Event, error) {
	query := `
		SELECT id, entity_id, captured_on, event_type, severity, field, details, created_at
		FROM watch_events
		WHERE ($1 = '' OR entity_id = $1)
		  AND (cardinality($2::text[]) = 0 OR event_type = ANY($2))
		  AND ($3 = '' OR severity = $3)
		  AND ($4::date IS NULL OR captured_on >= $4)
		  AND ($5::date IS NULL OR captured_on <= $5)
		ORDER BY captured_on DESC, created_at DESC
		LIMIT $6`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}

	types := make([]string, len(filter.Types))
	for i, t := range filter.Types {
		types[i] = string(t)
	}

	var since, until any
	if !filter.Since.IsZero() {
		since = models.Day(filter.Since)
	}
	if !filter.Until.IsZero() {
		until = models.Day(filter.Until)
	}

	rows, err := r.db.Query(ctx, query,
		filter.EntityID, types, string(filter.Severity), since, until, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

func (r *eventRepository) CountByEntitySince(ctx context.Context, since time.Time, limit int) (map[string]int, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT entity_id, COUNT(*) AS count
		FROM watch_events
		WHERE captured_on >= $1
		GROUP BY entity_id
		ORDER BY count DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, models.Day(since), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var entityID string
		var count int
		if err := rows.Scan(&entityID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[entityID] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}

	return counts, nil
}

func scanEvent(rows pgx.Rows) (*models.Event, error) {
	var e models.Event
	var details []byte

	err := rows.Scan(
		&e.ID,
		&e.EntityID,
		&e.CapturedOn,
		&e.Type,
		&e.Severity,
		&e.Field,
		&details,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	e.CapturedOn = models.Day(e.CapturedOn)
	if len(details) > 0 && string(details) != "null" {
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event details: %w", err)
		}
	}

	return &e, nil
}
