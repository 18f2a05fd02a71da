package events

import (
	"time"

	"github.com/datawatch-io/datawatch-engine/pkg/config"
	"github.com/datawatch-io/datawatch-engine/pkg/models"
	"github.com/datawatch-io/datawatch-engine/pkg/score"
)

// Extractor maps a transition and its diff into normalized, typed events.
// Extraction is pure and deterministic: the same inputs always yield the same
// event set, in the same order. Persistence idempotence comes from the event
// store's upsert on (entity, date, type, field).
type Extractor struct {
	cfg config.DiffConfig
}

// NewExtractor creates an event extractor for the given profile.
func NewExtractor(cfg config.DiffConfig) *Extractor {
	return &Extractor{cfg: cfg}
}

// Extract derives the event set for one entity on one capture date. diff may
// be nil for NEW/VANISHED/UNCHANGED transitions.
func (x *Extractor) Extract(entityID string, date time.Time, transition models.Transition, diff *models.DiffResult) []models.Event {
	date = models.Day(date)

	switch transition {
	case models.TransitionNew:
		return []models.Event{x.event(entityID, date, models.EventNew, models.SeverityMedium, "", nil)}
	case models.TransitionVanished:
		return []models.Event{x.event(entityID, date, models.EventVanished, models.SeverityHigh, "", nil)}
	case models.TransitionUnchanged:
		return nil
	}

	if diff == nil {
		return nil
	}

	var out []models.Event

	out = append(out, x.metadataEvents(entityID, date, &diff.Metadata)...)
	out = append(out, x.schemaEvents(entityID, date, &diff.Schema)...)
	out = append(out, x.contentEvents(entityID, date, &diff.Content)...)

	// A changed content hash with no other detected cause still deserves a
	// low-severity record so the day is not silently dropped.
	if len(out) == 0 && diff.Content.HashChanged {
		out = append(out, x.event(entityID, date, models.EventContentHashChanged, models.SeverityLow, "", map[string]any{
			"hash_changed": true,
		}))
	}

	return out
}

func (x *Extractor) metadataEvents(entityID string, date time.Time, md *models.MetadataDiff) []models.Event {
	var out []models.Event

	for _, c := range md.Changes {
		switch c.Field {
		case "license":
			out = append(out, x.event(entityID, date, models.EventLicenseChanged, models.SeverityHigh, c.Field, fieldDetails(c)))
		case "publisher":
			out = append(out, x.event(entityID, date, models.EventPublisherChanged, models.SeverityMedium, c.Field, fieldDetails(c)))
		case "url", "landing_page":
			out = append(out, x.event(entityID, date, models.EventURLMoved, models.SeverityMedium, c.Field, fieldDetails(c)))
		}
	}

	return out
}

func (x *Extractor) schemaEvents(entityID string, date time.Time, sd *models.SchemaDiff) []models.Event {
	if sd.NoData {
		return nil
	}

	var out []models.Event

	for _, col := range sd.AddedColumns {
		out = append(out, x.event(entityID, date, models.EventColumnAdded, models.SeverityLow, col, map[string]any{
			"column": col,
		}))
	}
	for _, col := range sd.RemovedColumns {
		out = append(out, x.event(entityID, date, models.EventColumnRemoved, models.SeverityMedium, col, map[string]any{
			"column": col,
		}))
	}
	for _, r := range sd.RenamedColumns {
		out = append(out, x.event(entityID, date, models.EventColumnRenamed, models.SeverityMedium, r.From, map[string]any{
			"from":       r.From,
			"to":         r.To,
			"similarity": r.Similarity,
		}))
	}

	// Net growth or shrink only; a rename or an equal add/remove swap is not
	// a size change.
	net := len(sd.AddedColumns) - len(sd.RemovedColumns)
	if net > 0 {
		out = append(out, x.event(entityID, date, models.EventSchemaExpand, models.SeverityLow, "", map[string]any{
			"net_columns": net,
		}))
	} else if net < 0 {
		out = append(out, x.event(entityID, date, models.EventSchemaShrink, models.SeverityMedium, "", map[string]any{
			"net_columns": net,
		}))
	}

	if score.RowCountSpike(sd.OldRowCount, sd.NewRowCount, x.cfg.RowCountSpikeFraction) {
		details := map[string]any{
			"old_row_count": sd.OldRowCount,
			"new_row_count": sd.NewRowCount,
			"delta":         sd.RowCountDelta,
		}
		if sd.RowCountDelta > 0 {
			out = append(out, x.event(entityID, date, models.EventRowcountSpike, models.SeverityMedium, "", details))
		} else {
			out = append(out, x.event(entityID, date, models.EventRowcountDrop, models.SeverityMedium, "", details))
		}
	}

	return out
}

func (x *Extractor) contentEvents(entityID string, date time.Time, cd *models.ContentDiff) []models.Event {
	if cd.NoData {
		return nil
	}

	var out []models.Event

	if cd.DriftDetected {
		out = append(out, x.event(entityID, date, models.EventContentDrift, models.SeverityMedium, "", map[string]any{
			"similarity": cd.Similarity,
			"threshold":  x.cfg.ContentDriftThreshold,
		}))
	}

	for _, qs := range cd.QuantileShifts {
		out = append(out, x.event(entityID, date, models.EventContentDrift, models.SeverityLow, qs.Column+":"+qs.Quantile, map[string]any{
			"column":          qs.Column,
			"quantile":        qs.Quantile,
			"old":             qs.Old,
			"new":             qs.New,
			"relative_change": qs.RelativeChange,
		}))
	}

	return out
}

func (x *Extractor) event(entityID string, date time.Time, typ models.EventType, sev models.Severity, field string, details map[string]any) models.Event {
	return models.Event{
		EntityID:   entityID,
		CapturedOn: date,
		Type:       typ,
		Severity:   sev,
		Field:      field,
		Details:    details,
	}
}

func fieldDetails(c models.FieldChange) map[string]any {
	return map[string]any{
		"field": c.Field,
		"old":   c.Old,
		"new":   c.New,
	}
}
