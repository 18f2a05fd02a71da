package diff

import (
	"github.com/datawatch-io/datawatch-engine/pkg/config"
	"github.com/datawatch-io/datawatch-engine/pkg/models"
)

// Engine computes structured diffs between two snapshots of one entity.
// Diff is total and pure: it never fails on well-formed input, missing
// optional fields are treated as absent rather than errors, and an
// uncomputable sub-diff is marked no-data instead of pretending to be
// unchanged. All heuristic thresholds come from the profile it was built with.
type Engine struct {
	cfg config.DiffConfig
}

// NewEngine creates a diff engine for the given profile.
func NewEngine(cfg config.DiffConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Diff compares two snapshots of the same entity. The metadata, schema, and
// content sub-diffs are computed independently.
func (e *Engine) Diff(from, to *models.Snapshot) *models.DiffResult {
	result := &models.DiffResult{
		EntityID: to.EntityID,
		FromDate: from.CapturedOn,
		ToDate:   to.CapturedOn,
	}

	result.Metadata = e.diffMetadata(from, to)
	result.Schema = e.diffSchema(from.Schema, to.Schema)
	result.Content = e.diffContent(from, to)

	return result
}
