package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the closed enumeration of normalized change facts.
type EventType string

const (
	EventNew                EventType = "NEW"
	EventVanished           EventType = "VANISHED"
	EventLicenseChanged     EventType = "LICENSE_CHANGED"
	EventPublisherChanged   EventType = "PUBLISHER_CHANGED"
	EventURLMoved           EventType = "URL_MOVED"
	EventColumnAdded        EventType = "COLUMN_ADDED"
	EventColumnRemoved      EventType = "COLUMN_REMOVED"
	EventColumnRenamed      EventType = "COLUMN_RENAMED"
	EventSchemaExpand       EventType = "SCHEMA_EXPAND"
	EventSchemaShrink       EventType = "SCHEMA_SHRINK"
	EventContentDrift       EventType = "CONTENT_DRIFT"
	EventRowcountSpike      EventType = "ROWCOUNT_SPIKE"
	EventRowcountDrop       EventType = "ROWCOUNT_DROP"
	EventContentHashChanged EventType = "CONTENT_HASH_CHANGED"
)

// Event is one normalized, deduplicated change fact. Uniqueness: at most one
// event per (entity_id, captured_on, event_type, field); writes are idempotent
// upserts on that key.
type Event struct {
	ID         uuid.UUID `json:"id"`
	EntityID   string    `json:"entity_id"`
	CapturedOn time.Time `json:"captured_on"`
	Type       EventType `json:"type"`
	Severity   Severity  `json:"severity"`

	// Field disambiguates events of the same type on the same day, e.g. the
	// column name for COLUMN_ADDED. Empty when the type is singular per day.
	Field string `json:"field,omitempty"`

	// Details embeds the originating field/value pair(s).
	Details map[string]any `json:"details,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Key returns the logical uniqueness key of the event.
func (e *Event) Key() string {
	return e.EntityID + "|" + e.CapturedOn.Format("2006-01-02") + "|" + string(e.Type) + "|" + e.Field
}

// EventFilter narrows an event query. Zero values mean "no constraint".
type EventFilter struct {
	EntityID string
	Types    []EventType
	Severity Severity
	Since    time.Time
	Until    time.Time
	Limit    int
}
