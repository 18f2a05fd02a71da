package diff

import (
	"math"
	"sort"

	"github.com/datawatch-io/datawatch-engine/pkg/models"
)

// diffContent compares content fingerprints. Absence of a fingerprint on
// either side yields similarity 1.0 and a no-data marker: missing data must
// never look like drift.
func (e *Engine) diffContent(from, to *models.Snapshot) models.ContentDiff {
	cd := models.ContentDiff{Similarity: 1.0}

	if from.Schema != nil && to.Schema != nil {
		cd.RowCountDelta = to.Schema.RowCount - from.Schema.RowCount
	}

	fromFP, toFP := from.Fingerprint, to.Fingerprint
	if fromFP == nil || toFP == nil {
		cd.NoData = true
		return cd
	}

	if fromFP.Hash != "" && toFP.Hash != "" {
		if fromFP.Hash == toFP.Hash {
			// Identical digests mean identical content; nothing further to
			// compare.
			return cd
		}
		cd.HashChanged = true
	}

	if len(fromFP.Sketch) > 0 && len(toFP.Sketch) > 0 {
		cd.Similarity = sketchJaccard(fromFP.Sketch, toFP.Sketch)
	}
	cd.DriftDetected = cd.Similarity < e.cfg.ContentDriftThreshold

	cd.QuantileShifts = e.quantileShifts(fromFP.Quantiles, toFP.Quantiles)

	return cd
}

// sketchJaccard computes bounded set-similarity over two shingle sketches.
func sketchJaccard(a, b []uint64) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}

	set := make(map[uint64]bool, len(a))
	for _, v := range a {
		set[v] = true
	}

	intersection := 0
	seen := make(map[uint64]bool, len(b))
	union := len(set)
	for _, v := range b {
		if seen[v] {
			continue
		}
		seen[v] = true
		if set[v] {
			intersection++
		} else {
			union++
		}
	}

	if union == 0 {
		return 1.0
	}
	return float64(intersection) / float64(union)
}

// quantileShifts reports columns whose tracked quantile moved by more than
// the configured relative threshold. Columns present on only one side are
// skipped; that is an add/remove concern, not drift.
func (e *Engine) quantileShifts(from, to map[string]map[string]float64) []models.QuantileShift {
	if len(from) == 0 || len(to) == 0 {
		return nil
	}

	quantile := e.cfg.TrackedQuantile
	var shifts []models.QuantileShift
	for column, fromQ := range from {
		toQ, ok := to[column]
		if !ok {
			continue
		}
		oldVal, okOld := fromQ[quantile]
		newVal, okNew := toQ[quantile]
		if !okOld || !okNew {
			continue
		}

		var rel float64
		switch {
		case oldVal == newVal:
			continue
		case oldVal == 0:
			rel = 1.0 // any move off zero is treated as a full shift
		default:
			rel = math.Abs(newVal-oldVal) / math.Abs(oldVal)
		}

		if rel > e.cfg.QuantileShiftThreshold {
			shifts = append(shifts, models.QuantileShift{
				Column:         column,
				Quantile:       quantile,
				Old:            oldVal,
				New:            newVal,
				RelativeChange: rel,
			})
		}
	}

	// Map iteration order is random; keep output deterministic.
	sort.Slice(shifts, func(i, j int) bool { return shifts[i].Column < shifts[j].Column })
	return shifts
}
