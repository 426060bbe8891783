package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/leporid/migration-tools/internal/models"
)

var styles = NewPalette("#7D56F4", "#04B575", "#FF0000", "#FFA500", "#626262")

// struct Palette is a simple stylesheet built with named [lipgloss.Style] fields
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
}

func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title: NewBold(t).MarginBottom(1),
		ok:    NewBold(s),
		err:   NewBold(e),
		warn:  NewStyle(w),
		help:  NewEm(h),
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}

// Section pairs a migration section name with its counters for display.
type Section struct {
	Name   string
	Result models.SectionResult
}

// RenderSummary formats per-section counters as an aligned table under a
// styled title. Skipped counts above zero render in the warning color so
// they stand out in long runs.
func RenderSummary(title string, sections []Section) string {
	var b strings.Builder
	b.WriteString(styles.title.Render(title))
	b.WriteString("\n")

	width := 0
	for _, s := range sections {
		if len(s.Name) > width {
			width = len(s.Name)
		}
	}

	for _, s := range sections {
		skipped := fmt.Sprintf("%d skipped", s.Result.Skipped)
		if s.Result.Skipped > 0 {
			skipped = styles.warn.Render(skipped)
		}
		fmt.Fprintf(&b, "  %-*s  %4d processed  %s  %4d updated  %s\n",
			width, s.Name,
			s.Result.Processed,
			styles.ok.Render(fmt.Sprintf("%4d inserted", s.Result.Inserted)),
			s.Result.Updated,
			skipped)
	}
	return b.String()
}

// RenderCopySummary formats the file-copy counters.
func RenderCopySummary(processed, copied, missing, existing int) string {
	var b strings.Builder
	b.WriteString(styles.title.Render("Image files"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  %4d processed  %s  %4d existing  ",
		processed,
		styles.ok.Render(fmt.Sprintf("%4d copied", copied)),
		existing)
	missingText := fmt.Sprintf("%4d missing", missing)
	if missing > 0 {
		missingText = styles.warn.Render(missingText)
	}
	b.WriteString(missingText)
	b.WriteString("\n")
	return b.String()
}

// RenderDryRunNote returns the reminder printed after a dry run.
func RenderDryRunNote() string {
	return styles.help.Render("dry run: all transactions rolled back") + "\n"
}
