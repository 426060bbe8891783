package ui

import (
	"strings"
	"testing"

	"github.com/leporid/migration-tools/internal/models"
)

func TestRenderSummary(t *testing.T) {
	out := RenderSummary("Migration summary", []Section{
		{Name: "users", Result: models.SectionResult{Processed: 4, Inserted: 2, Skipped: 2}},
		{Name: "images", Result: models.SectionResult{Processed: 3, Inserted: 1, Updated: 2}},
	})

	for _, want := range []string{"Migration summary", "users", "images", "4 processed", "2 inserted", "2 updated"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestRenderCopySummary(t *testing.T) {
	out := RenderCopySummary(10, 8, 2, 0)
	for _, want := range []string{"Image files", "10 processed", "8 copied", "2 missing"} {
		if !strings.Contains(out, want) {
			t.Errorf("copy summary missing %q:\n%s", want, out)
		}
	}
}
