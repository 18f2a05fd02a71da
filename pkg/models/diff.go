package models

import "time"

// DiffResult is a pure function of two snapshots of one entity, cacheable by
// (entity_id, from_date, to_date). Sub-diffs are independent; an uncomputable
// sub-diff is marked NoData rather than reported as unchanged.
type DiffResult struct {
	EntityID string    `json:"entity_id"`
	FromDate time.Time `json:"from_date"`
	ToDate   time.Time `json:"to_date"`

	Metadata MetadataDiff `json:"metadata"`
	Schema   SchemaDiff   `json:"schema"`
	Content  ContentDiff  `json:"content"`
}

// Empty reports whether no sub-diff detected any change. NoData sub-diffs do
// not count as changes.
func (d *DiffResult) Empty() bool {
	return !d.Metadata.Changed() && !d.Schema.Changed() && !d.Content.Changed()
}

// FieldChange records an old/new value pair for one metadata field.
type FieldChange struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// MetadataDiff captures per-field metadata changes between two captures.
type MetadataDiff struct {
	Changes []FieldChange `json:"changes,omitempty"`

	LicenseChanged     bool `json:"license_changed"`
	URLChanged         bool `json:"url_changed"`
	PublisherChanged   bool `json:"publisher_changed"`
	LandingPageChanged bool `json:"landing_page_changed"`
	AvailabilityFlip   bool `json:"availability_flip"`

	// FieldsCompared is the number of fixed fields checked, used to derive
	// the metadata change fraction for volatility scoring.
	FieldsCompared int `json:"fields_compared"`
}

// Changed reports whether any metadata field differs.
func (m *MetadataDiff) Changed() bool {
	return len(m.Changes) > 0 || m.AvailabilityFlip
}

// ChangeFraction returns the fraction of compared fields that changed, in [0,1].
func (m *MetadataDiff) ChangeFraction() float64 {
	if m.FieldsCompared == 0 {
		return 0
	}
	n := len(m.Changes)
	if n > m.FieldsCompared {
		n = m.FieldsCompared
	}
	return float64(n) / float64(m.FieldsCompared)
}

// ColumnRename is a paired from/to column produced by rename detection.
type ColumnRename struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Similarity float64 `json:"similarity"`
}

// ColumnTypeChange records a declared-type change for a surviving column.
type ColumnTypeChange struct {
	Column  string `json:"column"`
	OldType string `json:"old_type"`
	NewType string `json:"new_type"`
}

// SchemaDiff captures structural changes between two captures.
type SchemaDiff struct {
	NoData bool `json:"no_data,omitempty"` // schema summary absent on either side

	AddedColumns   []string           `json:"added_columns,omitempty"`
	RemovedColumns []string           `json:"removed_columns,omitempty"`
	RenamedColumns []ColumnRename     `json:"renamed_columns,omitempty"`
	TypeChanges    []ColumnTypeChange `json:"type_changes,omitempty"`

	RowCountDelta int64 `json:"row_count_delta"`
	OldRowCount   int64 `json:"old_row_count"`
	NewRowCount   int64 `json:"new_row_count"`

	// ColumnUniverse is |union of column names| across both sides.
	ColumnUniverse int `json:"column_universe"`

	// ChurnRate = (added+removed+renamed) / ColumnUniverse, 0 when the union
	// is empty.
	ChurnRate float64 `json:"churn_rate"`
}

// Changed reports whether any structural change was detected.
func (s *SchemaDiff) Changed() bool {
	if s.NoData {
		return false
	}
	return len(s.AddedColumns) > 0 || len(s.RemovedColumns) > 0 ||
		len(s.RenamedColumns) > 0 || len(s.TypeChanges) > 0 || s.RowCountDelta != 0
}

// ChangeCount is the number of structural changes, used for normalization.
func (s *SchemaDiff) ChangeCount() int {
	return len(s.AddedColumns) + len(s.RemovedColumns) + len(s.RenamedColumns) + len(s.TypeChanges)
}

// QuantileShift records a relative change of one column quantile beyond the
// configured threshold.
type QuantileShift struct {
	Column         string  `json:"column"`
	Quantile       string  `json:"quantile"`
	Old            float64 `json:"old"`
	New            float64 `json:"new"`
	RelativeChange float64 `json:"relative_change"`
}

// ContentDiff captures content-level drift between two captures.
type ContentDiff struct {
	NoData bool `json:"no_data,omitempty"` // fingerprint absent on either side

	// Similarity is in [0,1]. Absence of a fingerprint on either side yields
	// 1.0 so that missing data never looks like drift.
	Similarity     float64         `json:"similarity"`
	HashChanged    bool            `json:"hash_changed"`
	DriftDetected  bool            `json:"drift_detected"`
	QuantileShifts []QuantileShift `json:"quantile_shifts,omitempty"`
	RowCountDelta  int64           `json:"row_count_delta"`
}

// Changed reports whether any content-level change was detected.
func (c *ContentDiff) Changed() bool {
	if c.NoData {
		return c.HashChanged
	}
	return c.HashChanged || c.DriftDetected || len(c.QuantileShifts) > 0
}

// Severity is the discrete tier derived from the point rubric.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// VolatilityScore pairs the continuous instability measure with its tier.
type VolatilityScore struct {
	Volatility float64  `json:"volatility"` // in [0,1]
	Severity   Severity `json:"severity"`
	Points     int      `json:"points"` // raw rubric total behind Severity
}
