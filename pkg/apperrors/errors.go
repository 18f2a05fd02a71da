package apperrors

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write collides with existing state.
	ErrConflict = errors.New("conflict")

	// ErrMalformedSnapshot is returned when an ingested capture record is
	// missing its identity or capture date. Such records are rejected at the
	// ingestion boundary and never reach diffing.
	ErrMalformedSnapshot = errors.New("malformed snapshot")

	// ErrMissingSnapshotSet is returned when a periodic detection run targets
	// a date with zero recorded entities. An empty set almost always means a
	// capture outage, so it is surfaced instead of being interpreted as a
	// mass vanishing.
	ErrMissingSnapshotSet = errors.New("missing snapshot set")

	// ErrIncompleteDiffInput marks a sub-diff whose inputs were absent on one
	// or both sides. It is recorded as "no data", never as "no changes".
	ErrIncompleteDiffInput = errors.New("incomplete diff input")
)
