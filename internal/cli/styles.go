// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Shared lipgloss styles for CLI output.
//
// The color profile comes from colorProfile, so pipes and NO_COLOR get
// plain text.

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func init() {
	lipgloss.SetColorProfile(colorProfile())
}

// =============================================================================
// PALETTE
// =============================================================================

// Adaptive colors keep output readable on light and dark backgrounds.
var (
	colorAccent  = lipgloss.AdaptiveColor{Light: "25", Dark: "39"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "244", Dark: "242"}
	colorLabel   = lipgloss.AdaptiveColor{Light: "240", Dark: "245"}
	colorText    = lipgloss.AdaptiveColor{Light: "235", Dark: "252"}
	colorGood    = lipgloss.AdaptiveColor{Light: "28", Dark: "42"}
	colorBad     = lipgloss.AdaptiveColor{Light: "160", Dark: "196"}
	colorWarn    = lipgloss.AdaptiveColor{Light: "166", Dark: "214"}
	colorModelID = lipgloss.AdaptiveColor{Light: "29", Dark: "82"}
)

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	TitleStyle     = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	LabelStyle     = lipgloss.NewStyle().Foreground(colorLabel).Width(16)
	ValueStyle     = lipgloss.NewStyle().Foreground(colorText)
	PromptStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	ReasoningStyle = lipgloss.NewStyle().Italic(true).Foreground(colorMuted)
	SuccessStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorGood)
	ErrorStyle     = lipgloss.NewStyle().Bold(true).Foreground(colorBad)
	WarningStyle   = lipgloss.NewStyle().Foreground(colorWarn)
	DimStyle       = lipgloss.NewStyle().Foreground(colorMuted)
	// HighlightStyle marks model ids and pinned threads.
	HighlightStyle = lipgloss.NewStyle().Foreground(colorModelID)
	SeparatorStyle = lipgloss.NewStyle().Faint(true)
)

// =============================================================================
// HELPERS
// =============================================================================

// RenderSeparator renders a horizontal rule of the given width.
func RenderSeparator(width int) string {
	if width <= 0 {
		width = 40
	}
	return SeparatorStyle.Render(strings.Repeat("─", width))
}

// RenderStatus renders a bracketed status marker.
func RenderStatus(status string) string {
	switch strings.ToLower(status) {
	case "ok", "success":
		return SuccessStyle.Render("[OK]")
	case "error", "fail":
		return ErrorStyle.Render("[FAIL]")
	case "warning", "degraded":
		return WarningStyle.Render("[WARN]")
	default:
		return DimStyle.Render("[" + strings.ToUpper(status) + "]")
	}
}

// RenderField renders "label value" with an aligned label.
func RenderField(label, value string) string {
	return LabelStyle.Render(label) + ValueStyle.Render(value)
}
