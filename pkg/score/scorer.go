package score

import (
	"math"

	"github.com/datawatch-io/datawatch-engine/pkg/config"
	"github.com/datawatch-io/datawatch-engine/pkg/models"
)

// Scorer maps a diff result to a continuous volatility score and a discrete
// severity tier. Both functions are pure and deterministic; no-data sub-diffs
// contribute zero so missing captures never inflate a score.
type Scorer struct {
	cfg config.DiffConfig
}

// NewScorer creates a scorer for the given profile.
func NewScorer(cfg config.DiffConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score computes the volatility score and severity tier for one diff.
func (s *Scorer) Score(d *models.DiffResult) models.VolatilityScore {
	points := s.severityPoints(d)
	return models.VolatilityScore{
		Volatility: s.Volatility(d),
		Severity:   s.tierFor(points),
		Points:     points,
	}
}

// Volatility is the weighted blend of the three sub-diff signals, clamped to
// [0,1]. Schema breakage carries the highest weight; content drift the lowest
// since it is often benign.
func (s *Scorer) Volatility(d *models.DiffResult) float64 {
	metadataFraction := d.Metadata.ChangeFraction()

	var schemaChange float64
	if !d.Schema.NoData {
		schemaChange = normalizedSchemaChange(&d.Schema)
	}

	var contentDrift float64
	if !d.Content.NoData {
		contentDrift = 1 - clamp01(d.Content.Similarity)
	}

	v := metadataFraction*s.cfg.MetadataWeight +
		schemaChange*s.cfg.SchemaWeight +
		contentDrift*s.cfg.ContentWeight

	return math.Min(1.0, v)
}

// severityPoints applies the point rubric:
// +3 availability or license flip, +2 URL change, +2 schema churn above 0.5
// (else +1 above 0.25), +2 content drift, +2 row-count delta beyond the
// large-change threshold.
func (s *Scorer) severityPoints(d *models.DiffResult) int {
	points := 0

	if d.Metadata.AvailabilityFlip || d.Metadata.LicenseChanged {
		points += 3
	}
	if d.Metadata.URLChanged {
		points += 2
	}

	if !d.Schema.NoData {
		switch {
		case d.Schema.ChurnRate > 0.5:
			points += 2
		case d.Schema.ChurnRate > 0.25:
			points++
		}
		if RowCountSpike(d.Schema.OldRowCount, d.Schema.NewRowCount, s.cfg.RowCountSpikeFraction) {
			points += 2
		}
	}

	if !d.Content.NoData && d.Content.DriftDetected {
		points += 2
	}

	return points
}

func (s *Scorer) tierFor(points int) models.Severity {
	switch {
	case points >= s.cfg.HighSeverityPoints:
		return models.SeverityHigh
	case points >= s.cfg.MediumSeverityPoints:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// RowCountSpike reports whether the relative row-count change exceeds the
// large-change fraction. A move from zero rows to any rows counts as a spike.
func RowCountSpike(oldCount, newCount int64, fraction float64) bool {
	if oldCount == newCount {
		return false
	}
	if oldCount == 0 {
		return newCount != 0
	}
	rel := math.Abs(float64(newCount-oldCount)) / math.Abs(float64(oldCount))
	return rel > fraction
}

// normalizedSchemaChange scales the structural change count by the size of
// the column universe so a one-column rename on a two-column table scores
// higher than on a fifty-column one.
func normalizedSchemaChange(sd *models.SchemaDiff) float64 {
	count := sd.ChangeCount()
	if count == 0 {
		return 0
	}
	if sd.ColumnUniverse == 0 {
		return 1
	}
	return clamp01(float64(count) / float64(sd.ColumnUniverse))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
