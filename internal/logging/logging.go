// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/jeranaias/orchat/internal/config"
)

// Output formats.
const (
	FormatAuto    = "auto"
	FormatJSON    = "json"
	FormatConsole = "console"
)

// New returns a logger writing to w at the configured level. With format
// "auto" the output is human-readable when w is a terminal and JSON
// otherwise.
func New(cfg config.LogConfig, w io.Writer) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	var out io.Writer
	switch format := cfg.Format; format {
	case FormatConsole:
		out = consoleWriter(w)
	case FormatJSON:
		out = w
	case FormatAuto, "":
		if IsTerminal(w) {
			out = consoleWriter(w)
		} else {
			out = w
		}
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q", format)
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

// MustNew is New for process start-up, falling back to a stderr console
// logger when the configuration is invalid.
func MustNew(cfg config.LogConfig) zerolog.Logger {
	logger, err := New(cfg, os.Stderr)
	if err != nil {
		logger = zerolog.New(consoleWriter(os.Stderr)).With().Timestamp().Logger()
		logger.Warn().Err(err).Msg("falling back to default logging")
	}
	return logger
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func consoleWriter(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.TimeOnly,
		NoColor:    !IsTerminal(w),
	}
}
