package diff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawatch-io/datawatch-engine/pkg/config"
	"github.com/datawatch-io/datawatch-engine/pkg/models"
)

func testConfig() config.DiffConfig {
	return config.DiffConfig{
		RenameSimilarityThreshold: 0.70,
		ContentDriftThreshold:     0.85,
		QuantileShiftThreshold:    0.15,
		TrackedQuantile:           "p50",
		RowCountSpikeFraction:     0.50,
		MetadataWeight:            0.3,
		SchemaWeight:              0.5,
		ContentWeight:             0.2,
		HighSeverityPoints:        5,
		MediumSeverityPoints:      3,
	}
}

func snapshot(entityID string, day int) *models.Snapshot {
	return &models.Snapshot{
		EntityID:   entityID,
		CapturedOn: time.Date(2026, 8, day, 0, 0, 0, 0, time.UTC),
		Metadata: models.SnapshotMetadata{
			Title:     "Air Quality Measurements",
			Agency:    "epa",
			URL:       "https://data.example.gov/air-quality.csv",
			License:   "cc-by",
			Publisher: "Office of Data",
			Format:    "csv",
		},
		Schema: &models.SchemaSummary{
			Columns:     []string{"site_id", "measured_at", "pm25"},
			ColumnTypes: map[string]string{"site_id": "text", "measured_at": "timestamp", "pm25": "float"},
			RowCount:    1000,
			ColumnCount: 3,
		},
		Available: true,
	}
}

func TestDiffIdenticalSnapshots(t *testing.T) {
	engine := NewEngine(testConfig())

	from := snapshot("epa/air-quality", 1)
	to := snapshot("epa/air-quality", 2)

	d := engine.Diff(from, to)
	assert.True(t, d.Empty())
	assert.False(t, d.Metadata.Changed())
	assert.False(t, d.Schema.Changed())
	assert.False(t, d.Content.Changed())
}

func TestDiffMetadataFields(t *testing.T) {
	engine := NewEngine(testConfig())

	from := snapshot("e", 1)
	to := snapshot("e", 2)
	to.Metadata.License = "cc0"
	to.Metadata.URL = "https://data.example.gov/v2/air-quality.csv"

	d := engine.Diff(from, to)
	require.True(t, d.Metadata.Changed())
	assert.True(t, d.Metadata.LicenseChanged)
	assert.True(t, d.Metadata.URLChanged)
	assert.False(t, d.Metadata.PublisherChanged)
	assert.Len(t, d.Metadata.Changes, 2)
	assert.Equal(t, 8, d.Metadata.FieldsCompared)
	assert.InDelta(t, 0.25, d.Metadata.ChangeFraction(), 1e-9)
}

func TestDiffAvailabilityFlip(t *testing.T) {
	engine := NewEngine(testConfig())

	from := snapshot("e", 1)
	to := snapshot("e", 2)
	to.Available = false

	d := engine.Diff(from, to)
	assert.True(t, d.Metadata.AvailabilityFlip)
	assert.True(t, d.Metadata.Changed())
	assert.False(t, d.Empty())
}

func TestDiffSchemaAddRemove(t *testing.T) {
	engine := NewEngine(testConfig())

	from := snapshot("e", 1)
	to := snapshot("e", 2)
	// a,b,c -> a,b,d: one removal plus one unrelated addition.
	from.Schema.Columns = []string{"a", "b", "c"}
	to.Schema.Columns = []string{"a", "b", "d"}
	from.Schema.ColumnTypes = nil
	to.Schema.ColumnTypes = nil
	to.Schema.RowCount = from.Schema.RowCount

	d := engine.Diff(from, to)
	assert.Equal(t, []string{"d"}, d.Schema.AddedColumns)
	assert.Equal(t, []string{"c"}, d.Schema.RemovedColumns)
	assert.Empty(t, d.Schema.RenamedColumns)
	assert.Equal(t, 4, d.Schema.ColumnUniverse)
	assert.InDelta(t, 0.5, d.Schema.ChurnRate, 1e-9)
}

func TestDiffSchemaRenameDetection(t *testing.T) {
	engine := NewEngine(testConfig())

	from := snapshot("e", 1)
	to := snapshot("e", 2)
	from.Schema.Columns = []string{"customer_id", "amount"}
	to.Schema.Columns = []string{"customerId", "amount"}
	from.Schema.ColumnTypes = nil
	to.Schema.ColumnTypes = nil

	d := engine.Diff(from, to)
	require.Len(t, d.Schema.RenamedColumns, 1)
	assert.Equal(t, "customer_id", d.Schema.RenamedColumns[0].From)
	assert.Equal(t, "customerId", d.Schema.RenamedColumns[0].To)
	assert.Greater(t, d.Schema.RenamedColumns[0].Similarity, 0.70)
	assert.Empty(t, d.Schema.AddedColumns)
	assert.Empty(t, d.Schema.RemovedColumns)
}

func TestDiffSchemaRenameOneToOne(t *testing.T) {
	engine := NewEngine(testConfig())

	// Two removed columns both resemble the single added one; only one
	// pairing may win and the outcome must be deterministic.
	renames := engine.detectRenames(
		[]string{"user_name", "username_old"},
		[]string{"username"},
	)
	require.Len(t, renames, 1)
	assert.Equal(t, "user_name", renames[0].From)
	assert.Equal(t, "username", renames[0].To)
}

func TestDiffSchemaNoRenameBelowThreshold(t *testing.T) {
	engine := NewEngine(testConfig())

	renames := engine.detectRenames([]string{"apple"}, []string{"zebra"})
	assert.Empty(t, renames)
}

func TestDiffSchemaTypeChanges(t *testing.T) {
	engine := NewEngine(testConfig())

	from := snapshot("e", 1)
	to := snapshot("e", 2)
	to.Schema.ColumnTypes = map[string]string{"site_id": "text", "measured_at": "timestamp", "pm25": "text"}

	d := engine.Diff(from, to)
	require.Len(t, d.Schema.TypeChanges, 1)
	assert.Equal(t, "pm25", d.Schema.TypeChanges[0].Column)
	assert.Equal(t, "float", d.Schema.TypeChanges[0].OldType)
	assert.Equal(t, "text", d.Schema.TypeChanges[0].NewType)
}

func TestDiffSchemaMissingSummary(t *testing.T) {
	engine := NewEngine(testConfig())

	from := snapshot("e", 1)
	to := snapshot("e", 2)
	to.Schema = nil

	d := engine.Diff(from, to)
	assert.True(t, d.Schema.NoData)
	assert.False(t, d.Schema.Changed())
	// Missing data is not "unchanged" at the result level either.
	assert.True(t, d.Empty(), "no-data sub-diff alone must not force a change")
}

func TestDiffContentMissingFingerprint(t *testing.T) {
	engine := NewEngine(testConfig())

	from := snapshot("e", 1)
	to := snapshot("e", 2)
	from.Fingerprint = &models.ContentFingerprint{Hash: "abc"}
	to.Fingerprint = nil

	d := engine.Diff(from, to)
	assert.True(t, d.Content.NoData)
	assert.Equal(t, 1.0, d.Content.Similarity)
	assert.False(t, d.Content.DriftDetected)
}

func TestDiffContentIdenticalHash(t *testing.T) {
	engine := NewEngine(testConfig())

	from := snapshot("e", 1)
	to := snapshot("e", 2)
	from.Fingerprint = &models.ContentFingerprint{Hash: "abc", Sketch: []uint64{1, 2, 3}}
	to.Fingerprint = &models.ContentFingerprint{Hash: "abc", Sketch: []uint64{7, 8, 9}}

	d := engine.Diff(from, to)
	assert.False(t, d.Content.HashChanged)
	assert.Equal(t, 1.0, d.Content.Similarity)
	assert.False(t, d.Content.Changed())
}

func TestDiffContentDrift(t *testing.T) {
	engine := NewEngine(testConfig())

	from := snapshot("e", 1)
	to := snapshot("e", 2)
	from.Fingerprint = &models.ContentFingerprint{Hash: "abc", Sketch: []uint64{1, 2, 3, 4}}
	to.Fingerprint = &models.ContentFingerprint{Hash: "def", Sketch: []uint64{1, 2, 9, 10}}

	d := engine.Diff(from, to)
	assert.True(t, d.Content.HashChanged)
	// Jaccard: 2 shared of 6 distinct.
	assert.InDelta(t, 2.0/6.0, d.Content.Similarity, 1e-9)
	assert.True(t, d.Content.DriftDetected)
}

func TestDiffContentQuantileShifts(t *testing.T) {
	engine := NewEngine(testConfig())

	from := snapshot("e", 1)
	to := snapshot("e", 2)
	from.Fingerprint = &models.ContentFingerprint{
		Hash: "abc",
		Quantiles: map[string]map[string]float64{
			"pm25":  {"p50": 100},
			"ozone": {"p50": 50},
			"noise": {"p50": 10},
		},
	}
	to.Fingerprint = &models.ContentFingerprint{
		Hash: "def",
		Quantiles: map[string]map[string]float64{
			"pm25":  {"p50": 130}, // 30% move, above threshold
			"ozone": {"p50": 52},  // 4% move, below threshold
			"other": {"p50": 99},  // only on one side, skipped
		},
	}

	d := engine.Diff(from, to)
	require.Len(t, d.Content.QuantileShifts, 1)
	shift := d.Content.QuantileShifts[0]
	assert.Equal(t, "pm25", shift.Column)
	assert.Equal(t, "p50", shift.Quantile)
	assert.InDelta(t, 0.3, shift.RelativeChange, 1e-9)
}

func TestDiffContentQuantileShiftFromZero(t *testing.T) {
	engine := NewEngine(testConfig())

	from := snapshot("e", 1)
	to := snapshot("e", 2)
	from.Fingerprint = &models.ContentFingerprint{
		Hash:      "abc",
		Quantiles: map[string]map[string]float64{"pm25": {"p50": 0}},
	}
	to.Fingerprint = &models.ContentFingerprint{
		Hash:      "def",
		Quantiles: map[string]map[string]float64{"pm25": {"p50": 5}},
	}

	d := engine.Diff(from, to)
	require.Len(t, d.Content.QuantileShifts, 1)
	assert.Equal(t, 1.0, d.Content.QuantileShifts[0].RelativeChange)
}

func TestDiffRowCountDelta(t *testing.T) {
	engine := NewEngine(testConfig())

	from := snapshot("e", 1)
	to := snapshot("e", 2)
	to.Schema.RowCount = 1800

	d := engine.Diff(from, to)
	assert.Equal(t, int64(800), d.Schema.RowCountDelta)
	assert.Equal(t, int64(800), d.Content.RowCountDelta)
	assert.True(t, d.Schema.Changed())
}

func TestDiffDeterministic(t *testing.T) {
	engine := NewEngine(testConfig())

	from := snapshot("e", 1)
	to := snapshot("e", 2)
	to.Metadata.License = "cc0"
	from.Schema.Columns = []string{"a_col", "b_col", "c_col"}
	to.Schema.Columns = []string{"a_col", "bcol", "d_col"}
	from.Fingerprint = &models.ContentFingerprint{
		Hash: "abc",
		Quantiles: map[string]map[string]float64{
			"x": {"p50": 1}, "y": {"p50": 2}, "z": {"p50": 3},
		},
	}
	to.Fingerprint = &models.ContentFingerprint{
		Hash: "def",
		Quantiles: map[string]map[string]float64{
			"x": {"p50": 2}, "y": {"p50": 4}, "z": {"p50": 6},
		},
	}

	first := engine.Diff(from, to)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, engine.Diff(from, to))
	}
}
