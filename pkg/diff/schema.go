package diff

import (
	"sort"

	"github.com/datawatch-io/datawatch-engine/pkg/models"
)

// diffSchema compares two schema summaries. Column sets are compared by set
// difference; removed/added pairs are then run through rename detection so a
// renamed column does not show up as an unrelated drop plus add.
func (e *Engine) diffSchema(from, to *models.SchemaSummary) models.SchemaDiff {
	if from == nil || to == nil {
		return models.SchemaDiff{NoData: true}
	}

	sd := models.SchemaDiff{
		OldRowCount:   from.RowCount,
		NewRowCount:   to.RowCount,
		RowCountDelta: to.RowCount - from.RowCount,
	}

	fromSet := make(map[string]bool, len(from.Columns))
	for _, c := range from.Columns {
		fromSet[c] = true
	}
	toSet := make(map[string]bool, len(to.Columns))
	for _, c := range to.Columns {
		toSet[c] = true
	}

	var removed, added []string
	for _, c := range from.Columns {
		if !toSet[c] {
			removed = append(removed, c)
		}
	}
	for _, c := range to.Columns {
		if !fromSet[c] {
			added = append(added, c)
		}
	}

	renames := e.detectRenames(removed, added)
	renamedFrom := make(map[string]bool, len(renames))
	renamedTo := make(map[string]bool, len(renames))
	for _, r := range renames {
		renamedFrom[r.From] = true
		renamedTo[r.To] = true
	}

	for _, c := range removed {
		if !renamedFrom[c] {
			sd.RemovedColumns = append(sd.RemovedColumns, c)
		}
	}
	for _, c := range added {
		if !renamedTo[c] {
			sd.AddedColumns = append(sd.AddedColumns, c)
		}
	}
	sd.RenamedColumns = renames

	// Declared-type changes for columns present on both sides.
	if from.ColumnTypes != nil && to.ColumnTypes != nil {
		for _, c := range from.Columns {
			if !toSet[c] {
				continue
			}
			oldType, okOld := from.ColumnTypes[c]
			newType, okNew := to.ColumnTypes[c]
			if okOld && okNew && oldType != newType {
				sd.TypeChanges = append(sd.TypeChanges, models.ColumnTypeChange{
					Column:  c,
					OldType: oldType,
					NewType: newType,
				})
			}
		}
	}

	union := len(fromSet)
	for c := range toSet {
		if !fromSet[c] {
			union++
		}
	}
	sd.ColumnUniverse = union
	if union > 0 {
		changed := len(sd.AddedColumns) + len(sd.RemovedColumns) + len(sd.RenamedColumns)
		sd.ChurnRate = float64(changed) / float64(union)
	}

	return sd
}

// renameCandidate is one scored (removed, added) column pair.
type renameCandidate struct {
	fromIdx int
	toIdx   int
	sim     float64
}

// detectRenames greedily pairs removed and added columns by normalized string
// similarity. Only pairs strictly above the configured threshold are eligible;
// each column participates in at most one pairing. Ties are broken by
// first-encountered order so the pairing is deterministic.
func (e *Engine) detectRenames(removed, added []string) []models.ColumnRename {
	if len(removed) == 0 || len(added) == 0 {
		return nil
	}

	var candidates []renameCandidate
	for i, r := range removed {
		for j, a := range added {
			sim := Similarity(r, a)
			if sim > e.cfg.RenameSimilarityThreshold {
				candidates = append(candidates, renameCandidate{fromIdx: i, toIdx: j, sim: sim})
			}
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].sim != candidates[j].sim {
			return candidates[i].sim > candidates[j].sim
		}
		if candidates[i].fromIdx != candidates[j].fromIdx {
			return candidates[i].fromIdx < candidates[j].fromIdx
		}
		return candidates[i].toIdx < candidates[j].toIdx
	})

	usedFrom := make(map[int]bool, len(removed))
	usedTo := make(map[int]bool, len(added))
	var renames []models.ColumnRename
	for _, c := range candidates {
		if usedFrom[c.fromIdx] || usedTo[c.toIdx] {
			continue
		}
		usedFrom[c.fromIdx] = true
		usedTo[c.toIdx] = true
		renames = append(renames, models.ColumnRename{
			From:       removed[c.fromIdx],
			To:         added[c.toIdx],
			Similarity: c.sim,
		})
	}

	return renames
}
