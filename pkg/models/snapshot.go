package models

import (
	"time"
)

// Snapshot is one capture of a tracked dataset's observable state at a
// capture date (day granularity). At most one snapshot exists per
// (entity_id, captured_on) pair; writes are upserts by date and the record is
// immutable otherwise. Snapshots are produced by the capture collaborator and
// read-only everywhere else.
type Snapshot struct {
	EntityID   string    `json:"entity_id"`
	CapturedOn time.Time `json:"captured_on"` // normalized to UTC midnight

	Metadata    SnapshotMetadata    `json:"metadata"`
	Schema      *SchemaSummary      `json:"schema,omitempty"`
	Fingerprint *ContentFingerprint `json:"fingerprint,omitempty"`

	Available bool          `json:"available"`
	Latency   time.Duration `json:"latency,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// SnapshotMetadata holds the descriptive fields of a capture. All fields are
// optional; absence is not an error.
type SnapshotMetadata struct {
	Title       string     `json:"title,omitempty"`
	Agency      string     `json:"agency,omitempty"`
	URL         string     `json:"url,omitempty"`
	License     string     `json:"license,omitempty"`
	Publisher   string     `json:"publisher,omitempty"`
	LandingPage string     `json:"landing_page,omitempty"`
	Format      string     `json:"format,omitempty"`
	ModifiedAt  *time.Time `json:"modified_at,omitempty"`
}

// SchemaSummary describes the observed tabular structure of a capture.
type SchemaSummary struct {
	Columns     []string          `json:"columns"` // ordered as observed upstream
	ColumnTypes map[string]string `json:"column_types,omitempty"`
	RowCount    int64             `json:"row_count"`
	ColumnCount int               `json:"column_count"`
}

// ContentFingerprint summarizes dataset content for drift comparison.
// Sketch holds a bounded set of hashed shingles for set-similarity; Quantiles
// maps column name to a per-quantile value map (e.g. "p50" -> 42.0).
type ContentFingerprint struct {
	Hash      string                        `json:"hash"`
	Sketch    []uint64                      `json:"sketch,omitempty"`
	Quantiles map[string]map[string]float64 `json:"quantiles,omitempty"`
}

// Day normalizes a timestamp to UTC midnight. Capture dates are compared at
// day granularity throughout the engine.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether two timestamps fall on the same UTC day.
func SameDay(a, b time.Time) bool {
	return Day(a).Equal(Day(b))
}
