package models

import (
	"time"

	"github.com/google/uuid"
)

// Baseline is a frozen reference snapshot set used for ad hoc vanished/new
// comparisons. A missing baseline is created on first use.
type Baseline struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	FrozenOn  time.Time `json:"frozen_on"` // capture date the baseline was taken from
	EntityIDs []string  `json:"entity_ids"`
	CreatedAt time.Time `json:"created_at"`
}

// BaselineComparison is the result of comparing the current entity set
// against a frozen baseline.
type BaselineComparison struct {
	BaselineID uuid.UUID `json:"baseline_id"`
	Vanished   []string  `json:"vanished"` // in baseline, absent now
	New        []string  `json:"new"`      // present now, absent from baseline
	Changed    []string  `json:"changed"`  // present in both with a non-empty diff
}
