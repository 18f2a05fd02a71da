package models

import "time"

// Lifecycle status constants.
const (
	LifecycleActive   = "active"
	LifecycleVanished = "vanished"
)

// LifecycleRecord tracks one entity's observation history. It is mutated only
// by the lifecycle manager in response to transitions; a missing record is
// created on first observation with status active.
type LifecycleRecord struct {
	EntityID      string     `json:"entity_id"`
	Status        string     `json:"status"`
	FirstSeen     time.Time  `json:"first_seen"`
	LastSeen      time.Time  `json:"last_seen"`
	DisappearedAt *time.Time `json:"disappeared_at,omitempty"`
	ReappearedAt  *time.Time `json:"reappeared_at,omitempty"`
	ChangeCount   int        `json:"change_count"`

	Recovery *RecoveryHint `json:"recovery,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// RecoveryHint is a best-effort enrichment supplied by the archival-recovery
// collaborator for a vanished entity. It is attached opportunistically and
// never blocks core processing.
type RecoveryHint struct {
	Source      string    `json:"source"`
	ArchivedURL string    `json:"archived_url"`
	ArchivedAt  time.Time `json:"archived_at"`
	Confidence  float64   `json:"confidence"`
}
