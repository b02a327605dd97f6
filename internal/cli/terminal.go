// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// terminal.go - Terminal detection for the orchat CLI.

package cli

import (
	"os"
	"strconv"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const (
	defaultWidth = 80
	minWidth     = 40
)

// isTerminal reports whether v, usually a command's stdin or stdout, is an
// interactive terminal. Buffers and pipes are not.
func isTerminal(v any) bool {
	f, ok := v.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}

// terminalWidth returns the width of v when it is a terminal, then
// $COLUMNS, then 80. Results are clamped to at least 40 columns.
func terminalWidth(v any) int {
	width := 0
	if f, ok := v.(interface{ Fd() uintptr }); ok {
		width, _, _ = term.GetSize(int(f.Fd()))
	}
	if width <= 0 {
		width, _ = strconv.Atoi(os.Getenv("COLUMNS"))
	}
	switch {
	case width <= 0:
		return defaultWidth
	case width < minWidth:
		return minWidth
	}
	return width
}

// colorProfile picks the lipgloss color profile for stdout. NO_COLOR and
// CLICOLOR_FORCE are handled by termenv; FORCE_COLOR is honored as well.
func colorProfile() termenv.Profile {
	if os.Getenv("NO_COLOR") == "" && os.Getenv("FORCE_COLOR") != "" {
		return termenv.ANSI256
	}
	return termenv.NewOutput(os.Stdout).EnvColorProfile()
}
