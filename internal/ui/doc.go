// Package ui renders migration run summaries for the terminal.
//
// Output is built from a small [Palette] of named [lipgloss.Style] values:
// section counters render as an aligned table with inserts highlighted and
// non-zero skip counts called out in the warning color.
package ui
