package diff

import (
	"time"

	"github.com/datawatch-io/datawatch-engine/pkg/models"
)

// diffMetadata runs the fixed-field equality check over the descriptive
// fields. Any inequality is a change; the derived booleans feed the severity
// rubric.
func (e *Engine) diffMetadata(from, to *models.Snapshot) models.MetadataDiff {
	type field struct {
		name     string
		old, new string
	}

	fields := []field{
		{"title", from.Metadata.Title, to.Metadata.Title},
		{"agency", from.Metadata.Agency, to.Metadata.Agency},
		{"url", from.Metadata.URL, to.Metadata.URL},
		{"license", from.Metadata.License, to.Metadata.License},
		{"publisher", from.Metadata.Publisher, to.Metadata.Publisher},
		{"landing_page", from.Metadata.LandingPage, to.Metadata.LandingPage},
		{"format", from.Metadata.Format, to.Metadata.Format},
		{"modified_at", formatModified(from.Metadata.ModifiedAt), formatModified(to.Metadata.ModifiedAt)},
	}

	md := models.MetadataDiff{
		FieldsCompared:   len(fields),
		AvailabilityFlip: from.Available != to.Available,
	}

	for _, f := range fields {
		if f.old == f.new {
			continue
		}
		md.Changes = append(md.Changes, models.FieldChange{Field: f.name, Old: f.old, New: f.new})

		switch f.name {
		case "license":
			md.LicenseChanged = true
		case "url":
			md.URLChanged = true
		case "publisher":
			md.PublisherChanged = true
		case "landing_page":
			md.LandingPageChanged = true
		}
	}

	return md
}

func formatModified(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
