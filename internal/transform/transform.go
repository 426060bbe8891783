// Package transform contains the pure row-shaping rules applied while
// migrating legacy rows into the target schemas. Every function here is
// side-effect free; validation failures surface as errors for the caller to
// count as per-row skips.
package transform

import (
	"fmt"
	"strings"
	"time"

	"github.com/leporid/migration-tools/internal/shared"
)

// kindToAspect maps the legacy image kind enum to target aspect identifiers.
// All current kinds share the ID-1 full-frame aspect.
var kindToAspect = map[string]string{
	"BACKGROUND": "id-1-ff",
	"FRAME":      "id-1-ff",
	"CHARACTER":  "id-1-ff",
	"MASK":       "id-1-ff",
	"LABEL":      "id-1-ff",
}

// DeriveAspectID maps a legacy image kind to the target aspect identifier.
// The lookup is case-insensitive. Unknown kinds return an error wrapping
// [shared.ErrUnknownAspect] so callers can skip the single row.
func DeriveAspectID(kind string) (string, error) {
	key := strings.ToUpper(kind)
	aspect, ok := kindToAspect[key]
	if !ok {
		return "", fmt.Errorf("%w: kind %q", shared.ErrUnknownAspect, kind)
	}
	return aspect, nil
}

// BuildImageLabels composes the labels array written to tbl_image.labels:
// the lowercased kind, the lowercased trimmed category when non-blank, and a
// literal "workshop" tag for images attributed to a real uploader.
func BuildImageLabels(kind, category string, workshop bool) []string {
	labels := []string{}
	if kind != "" {
		labels = append(labels, strings.ToLower(kind))
	}
	if normalized := strings.TrimSpace(category); normalized != "" {
		labels = append(labels, strings.ToLower(normalized))
	}
	if workshop {
		labels = append(labels, "workshop")
	}
	return labels
}

// BuildImageName generates the name field for a migrated image: the trimmed
// label when non-blank, else the trimmed legacy trace identifier, else empty.
func BuildImageName(label, traceID string) string {
	if trimmed := strings.TrimSpace(label); trimmed != "" {
		return trimmed
	}
	if trimmed := strings.TrimSpace(traceID); trimmed != "" {
		return trimmed
	}
	return ""
}

// BuildImageDescription joins the non-blank parts of the legacy name, the
// vendor-assigned sega name, and the lowercased kind.
func BuildImageDescription(name, segaName, kind string) string {
	parts := []string{}
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		parts = append(parts, trimmed)
	}
	if trimmed := strings.TrimSpace(segaName); trimmed != "" {
		parts = append(parts, trimmed)
	}
	if kind != "" {
		parts = append(parts, strings.ToLower(kind))
	}
	return strings.Join(parts, " / ")
}

// NormalizeTime converts legacy timestamps to the naive-UTC convention used
// by the target schemas: a zero timestamp defaults to now, a zoned timestamp
// is converted to UTC, and an already-UTC timestamp passes through.
func NormalizeTime(t time.Time, now time.Time) time.Time {
	if t.IsZero() {
		return now.UTC()
	}
	return t.UTC()
}

// CoerceBool normalizes a legacy flag that may arrive as NULL, boolean, or
// integer. NULL takes the caller-specified default; integers follow the
// usual zero-is-false rule.
func CoerceBool(value any, def bool) bool {
	switch v := value.(type) {
	case nil:
		return def
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	default:
		return def
	}
}
