// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// render.go - Terminal rendering of streamed chat turns.

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/orchat/internal/model"
	"github.com/jeranaias/orchat/internal/session"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// newMarkdownRenderer returns a glamour renderer sized to out, or nil when
// one cannot be built.
func newMarkdownRenderer(out io.Writer) *glamour.TermRenderer {
	width := terminalWidth(out) - 4
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil
	}
	return r
}

// renderMarkdown renders content for the terminal, returning it unchanged
// when r is nil or rendering fails.
func renderMarkdown(r *glamour.TermRenderer, content string) string {
	if r == nil {
		return content
	}
	rendered, err := r.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// =============================================================================
// TURN PRINTER
// =============================================================================

// turnPrinter turns session callbacks into terminal output. Answer text goes
// to out; reasoning, sources and metrics go to info.
type turnPrinter struct {
	out  io.Writer
	info io.Writer

	// markdown buffers the answer and renders it once complete.
	markdown *glamour.TermRenderer
	// reasoning prints streamed reasoning as it arrives.
	reasoning bool
	quiet     bool

	threadID     string
	inReasoning  bool
	wroteContent bool
	sources      []model.URLCitation
	seen         map[string]bool
}

func newTurnPrinter(out, info io.Writer, markdown, reasoning, quiet bool) *turnPrinter {
	p := &turnPrinter{
		out:       out,
		info:      info,
		reasoning: reasoning && !quiet,
		quiet:     quiet,
		seen:      make(map[string]bool),
	}
	if markdown {
		p.markdown = newMarkdownRenderer(out)
	}
	return p
}

// callbacks returns the session callbacks for one turn.
func (p *turnPrinter) callbacks() session.Callbacks {
	return session.Callbacks{
		OnThreadCreated: func(id string) {
			p.threadID = id
		},
		OnReasoningChunk: func(chunk, _ string, _ *model.TokenMetrics) {
			if !p.reasoning {
				return
			}
			if !p.inReasoning {
				p.inReasoning = true
				fmt.Fprintln(p.info, DimStyle.Render("[Thinking]"))
			}
			fmt.Fprint(p.info, ReasoningStyle.Render(chunk))
		},
		OnAnnotationsChunk: func(annotations []model.Annotation) {
			for _, a := range annotations {
				if a.URLCitation == nil || p.seen[a.URLCitation.URL] {
					continue
				}
				p.seen[a.URLCitation.URL] = true
				p.sources = append(p.sources, *a.URLCitation)
			}
		},
		OnChunk: func(chunk, _ string, _ *model.TokenMetrics) {
			p.endReasoning()
			if p.markdown != nil {
				return
			}
			p.wroteContent = true
			fmt.Fprint(p.out, chunk)
		},
		OnComplete: func(c *session.Completion) {
			p.complete(c)
		},
	}
}

func (p *turnPrinter) endReasoning() {
	if p.inReasoning {
		p.inReasoning = false
		fmt.Fprint(p.info, "\n\n")
	}
}

func (p *turnPrinter) complete(c *session.Completion) {
	p.endReasoning()
	if c.ThreadID != "" {
		p.threadID = c.ThreadID
	}

	if p.markdown != nil && c.AssistantMessage != nil {
		fmt.Fprint(p.out, renderMarkdown(p.markdown, c.AssistantMessage.Content))
	} else if p.wroteContent {
		fmt.Fprintln(p.out)
	}

	if p.quiet {
		return
	}
	if len(p.sources) > 0 {
		fmt.Fprintln(p.info, DimStyle.Render("Sources:"))
		for i, s := range p.sources {
			title := s.Title
			if title == "" {
				title = s.URL
			}
			fmt.Fprintf(p.info, "  %d. %s %s\n", i+1, title, DimStyle.Render(s.URL))
		}
	}
	if c.TokenMetrics != nil {
		fmt.Fprintln(p.info, DimStyle.Render("[Stats] "+c.TokenMetrics.Format()))
	}
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

// formatNumber formats an integer with commas for thousands.
func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return b.String()
}

// formatCost formats a dollar amount for display.
func formatCost(cost float64) string {
	if cost > 0 && cost < 0.0001 {
		return "<$0.0001"
	}
	return fmt.Sprintf("$%.4f", cost)
}
