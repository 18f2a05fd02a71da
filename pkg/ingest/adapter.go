package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jinzhu/inflection"

	"github.com/datawatch-io/datawatch-engine/pkg/apperrors"
	"github.com/datawatch-io/datawatch-engine/pkg/jsonutil"
	"github.com/datawatch-io/datawatch-engine/pkg/models"
)

// Adapter normalizes heterogeneous capture payloads into the fixed Snapshot
// schema. Upstream portals disagree on field names and encodings, so all of
// that variance is absorbed here; the rest of the engine only ever sees
// models.Snapshot.
type Adapter struct{}

// NewAdapter creates a capture payload adapter.
func NewAdapter() *Adapter {
	return &Adapter{}
}

// Field aliases observed across upstream catalog portals.
var (
	idAliases          = []string{"entity_id", "dataset_id", "id", "identifier"}
	dateAliases        = []string{"captured_on", "capture_date", "snapshot_date", "date"}
	titleAliases       = []string{"title", "name", "dataset_title"}
	agencyAliases      = []string{"agency", "owner_org", "organization", "org"}
	urlAliases         = []string{"url", "download_url", "resource_url"}
	licenseAliases     = []string{"license", "licence", "license_title"}
	publisherAliases   = []string{"publisher", "publisher_name"}
	landingAliases     = []string{"landing_page", "landingPage", "homepage"}
	formatAliases      = []string{"format", "resource_format", "mimetype"}
	modifiedAliases    = []string{"modified", "modified_at", "last_modified", "metadata_modified"}
	rowCountAliases    = []string{"row_count", "rows", "record_count"}
	columnsAliases     = []string{"columns", "fields", "schema"}
	hashAliases        = []string{"content_hash", "hash", "sha256"}
	sketchAliases      = []string{"sketch", "similarity_digest", "minhash"}
	quantilesAliases   = []string{"quantiles", "column_quantiles"}
	availableAliases   = []string{"available", "availability", "reachable"}
	latencyMSAliases   = []string{"latency_ms", "response_ms"}
	capturedAtFallback = "captured_at"
)

// Normalize converts one raw capture payload into a Snapshot. Records missing
// identity or capture date are rejected with apperrors.ErrMalformedSnapshot;
// missing optional sub-fields are tolerated and left absent.
func (a *Adapter) Normalize(payload []byte) (*models.Snapshot, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: not a JSON object: %v", apperrors.ErrMalformedSnapshot, err)
	}

	entityID := firstString(raw, idAliases)
	if entityID == "" {
		return nil, fmt.Errorf("%w: missing entity identifier", apperrors.ErrMalformedSnapshot)
	}

	capturedOn, ok := firstDate(raw, dateAliases)
	if !ok {
		// Some collectors only stamp a full timestamp.
		capturedOn, ok = firstDate(raw, []string{capturedAtFallback})
	}
	if !ok {
		return nil, fmt.Errorf("%w: missing capture date for entity %q", apperrors.ErrMalformedSnapshot, entityID)
	}

	snap := &models.Snapshot{
		EntityID:   entityID,
		CapturedOn: models.Day(capturedOn),
		Metadata: models.SnapshotMetadata{
			Title:       firstString(raw, titleAliases),
			Agency:      firstString(raw, agencyAliases),
			URL:         firstString(raw, urlAliases),
			License:     firstString(raw, licenseAliases),
			Publisher:   firstString(raw, publisherAliases),
			LandingPage: firstString(raw, landingAliases),
			Format:      strings.ToUpper(firstString(raw, formatAliases)),
		},
		Available: firstBool(raw, availableAliases, true),
	}

	if modified, ok := firstDate(raw, modifiedAliases); ok {
		snap.Metadata.ModifiedAt = &modified
	}

	if ms := firstInt(raw, latencyMSAliases); ms > 0 {
		snap.Latency = time.Duration(ms) * time.Millisecond
	}

	// Portals that omit a title usually still carry a slug-like identifier.
	if snap.Metadata.Title == "" {
		snap.Metadata.Title = TitleFromSlug(entityID)
	}
	snap.Metadata.Agency = normalizeAgency(snap.Metadata.Agency)

	snap.Schema = parseSchema(raw)
	snap.Fingerprint = parseFingerprint(raw)

	return snap, nil
}

// parseSchema extracts the schema summary, accepting both a bare list of
// column names and a list of {name, type} objects.
func parseSchema(raw map[string]json.RawMessage) *models.SchemaSummary {
	colsRaw, ok := firstRaw(raw, columnsAliases)
	rowCount := firstInt(raw, rowCountAliases)
	if !ok && rowCount == 0 {
		return nil
	}

	summary := &models.SchemaSummary{RowCount: rowCount}

	if ok {
		var names []string
		if err := json.Unmarshal(colsRaw, &names); err == nil {
			summary.Columns = names
		} else {
			var objs []struct {
				Name string `json:"name"`
				ID   string `json:"id"`
				Type string `json:"type"`
			}
			if err := json.Unmarshal(colsRaw, &objs); err == nil {
				summary.ColumnTypes = make(map[string]string, len(objs))
				for _, o := range objs {
					name := o.Name
					if name == "" {
						name = o.ID
					}
					if name == "" {
						continue
					}
					summary.Columns = append(summary.Columns, name)
					if o.Type != "" {
						summary.ColumnTypes[name] = o.Type
					}
				}
				if len(summary.ColumnTypes) == 0 {
					summary.ColumnTypes = nil
				}
			}
		}
	}

	summary.ColumnCount = len(summary.Columns)
	if summary.ColumnCount == 0 && summary.RowCount == 0 {
		return nil
	}
	return summary
}

// parseFingerprint extracts the content fingerprint when present.
func parseFingerprint(raw map[string]json.RawMessage) *models.ContentFingerprint {
	hash := firstString(raw, hashAliases)
	sketchRaw, hasSketch := firstRaw(raw, sketchAliases)
	quantRaw, hasQuant := firstRaw(raw, quantilesAliases)
	if hash == "" && !hasSketch && !hasQuant {
		return nil
	}

	fp := &models.ContentFingerprint{Hash: hash}

	if hasSketch {
		var sketch []uint64
		if err := json.Unmarshal(sketchRaw, &sketch); err == nil {
			fp.Sketch = sketch
		}
	}
	if hasQuant {
		var quantiles map[string]map[string]float64
		if err := json.Unmarshal(quantRaw, &quantiles); err == nil {
			fp.Quantiles = quantiles
		}
	}

	return fp
}

// TitleFromSlug derives a readable title from a slug-like identifier,
// e.g. "air-quality-measurements" -> "Air Quality Measurements".
func TitleFromSlug(slug string) string {
	if idx := strings.LastIndex(slug, "/"); idx >= 0 {
		slug = slug[idx+1:]
	}
	words := strings.FieldsFunc(slug, func(r rune) bool {
		return r == '-' || r == '_' || r == '.'
	})
	for i, w := range words {
		if len(w) > 0 {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// normalizeAgency turns an owner-org slug into a display name, singularizing
// the trailing noun, e.g. "environmental-protection-agencies" ->
// "Environmental Protection Agency". Already-readable names pass through.
func normalizeAgency(agency string) string {
	if agency == "" || strings.Contains(agency, " ") {
		return agency
	}
	display := TitleFromSlug(agency)
	words := strings.Fields(display)
	if len(words) == 0 {
		return agency
	}
	words[len(words)-1] = inflection.Singular(words[len(words)-1])
	return strings.Join(words, " ")
}

func firstRaw(raw map[string]json.RawMessage, aliases []string) (json.RawMessage, bool) {
	for _, key := range aliases {
		if v, ok := raw[key]; ok && len(v) > 0 && string(v) != "null" {
			return v, true
		}
	}
	return nil, false
}

func firstString(raw map[string]json.RawMessage, aliases []string) string {
	if v, ok := firstRaw(raw, aliases); ok {
		return strings.TrimSpace(jsonutil.FlexibleStringValue(v))
	}
	return ""
}

func firstInt(raw map[string]json.RawMessage, aliases []string) int64 {
	if v, ok := firstRaw(raw, aliases); ok {
		return jsonutil.FlexibleInt64Value(v)
	}
	return 0
}

func firstBool(raw map[string]json.RawMessage, aliases []string, def bool) bool {
	if v, ok := firstRaw(raw, aliases); ok {
		return jsonutil.FlexibleBoolValue(v, def)
	}
	return def
}

func firstDate(raw map[string]json.RawMessage, aliases []string) (time.Time, bool) {
	v, ok := firstRaw(raw, aliases)
	if !ok {
		return time.Time{}, false
	}
	s := strings.TrimSpace(jsonutil.FlexibleStringValue(v))
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
