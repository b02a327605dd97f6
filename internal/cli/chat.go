// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command.
//
// Examples:
//
//	orchat chat                                Start a new thread
//	orchat chat --model openai/gpt-4o          Use a specific model
//	orchat chat --thread <id>                  Continue a saved thread
//
// Interactive Commands (during chat):
//
//	/help, /h             Show available commands
//	/new                  Start a new thread
//	/thread [id]          Show or switch thread
//	/model [id]           Show or switch model
//	/reasoning [on|off|low|medium|high]
//	/web [on|off]         Toggle web search
//	/history              Show the thread's messages
//	/status, /s           Show session statistics
//	/quit, /q             Exit chat
//	Ctrl+C                Cancel the current answer
//	Ctrl+D                Exit chat
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/orchat/internal/config"
	"github.com/jeranaias/orchat/internal/model"
	"github.com/jeranaias/orchat/internal/protocol"
	"github.com/jeranaias/orchat/internal/session"
	"github.com/jeranaias/orchat/internal/util"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader provides line editing and persistent input history.
type lineReader struct {
	line        *liner.State
	historyFile string
}

func newLineReader() *lineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	r := &lineReader{line: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(r.historyFile); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}
	return r
}

// ReadLine reads one line, adding non-empty input to history.
func (r *lineReader) ReadLine(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with owner-only permissions and restores the terminal.
func (r *lineReader) Close() {
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			r.line.WriteHistory(f)
			f.Close()
		}
	}
	r.line.Close()
}

// =============================================================================
// SESSION STATE
// =============================================================================

// chatSession holds the state of one interactive chat.
type chatSession struct {
	ctrl *session.Controller
	api  *apiClient
	opts turnOptions

	out      io.Writer
	info     io.Writer
	markdown bool
	quiet    bool

	// pendingAttachments is true until the --file/--image attachments have
	// been sent with a message.
	pendingAttachments bool

	start       time.Time
	turns       int
	totalTokens int
	totalCost   float64
}

func newChatCmd(a *app) *cobra.Command {
	var opts turnOptions
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			if !isTerminal(os.Stdin) {
				return &UsageError{Reason: "chat needs an interactive terminal; use \"orchat ask\" for piped input"}
			}
			s := &chatSession{
				ctrl:               a.controller(),
				api:                a.api(),
				opts:               opts,
				out:                cmd.OutOrStdout(),
				info:               cmd.ErrOrStderr(),
				markdown:           !opts.noMarkdown && isTerminal(cmd.OutOrStdout()),
				quiet:              a.quiet,
				pendingAttachments: len(opts.files) > 0 || len(opts.images) > 0,
				start:              time.Now(),
			}
			return s.run(cmd.Context())
		},
	}
	opts.bind(cmd)
	return cmd
}

// =============================================================================
// CHAT LOOP
// =============================================================================

func (s *chatSession) run(ctx context.Context) error {
	if h, err := s.api.health(ctx); err != nil {
		return fmt.Errorf("cannot reach orchat server: %w", err)
	} else if !h.UpstreamConfigured {
		fmt.Fprintln(s.info, WarningStyle.Render("[Warning] The server has no OpenRouter API key configured"))
	}

	if !s.quiet {
		s.printWelcome()
	}

	input := newLineReader()
	defer input.Close()

	// First Ctrl+C during an answer cancels it; at the prompt liner handles it.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	stop := make(chan struct{})
	watcher := s.cancelOnInterrupt(sigCh, stop)
	defer func() {
		signal.Stop(sigCh)
		close(stop)
		<-watcher
	}()

	for {
		line, err := input.ReadLine(PromptStyle.Render("orchat> "))
		if err != nil {
			// liner.ErrPromptAborted (Ctrl+C) or io.EOF (Ctrl+D)
			fmt.Fprintln(s.out)
			s.printExitSummary()
			return nil
		}

		more, err := s.handleLine(ctx, line)
		if err != nil {
			fmt.Fprintf(s.info, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		}
		if !more {
			s.printExitSummary()
			return nil
		}
	}
}

// cancelOnInterrupt cancels the active stream for each signal on sigCh
// until stop is closed. The returned channel is closed once it has exited.
func (s *chatSession) cancelOnInterrupt(sigCh <-chan os.Signal, stop <-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case <-sigCh:
				if s.ctrl.IsStreaming() {
					s.ctrl.CancelActiveStream()
				}
			}
		}
	}()
	return done
}

// handleLine processes one line of input. It returns false when the session
// should end.
func (s *chatSession) handleLine(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return true, nil
	case strings.HasPrefix(line, "/"):
		return s.handleSlashCommand(ctx, line)
	case strings.EqualFold(line, "exit"), strings.EqualFold(line, "quit"):
		return false, nil
	}
	return true, s.send(ctx, line)
}

// send streams one message and records its metrics.
func (s *chatSession) send(ctx context.Context, content string) error {
	req, err := s.opts.request(content, s.pendingAttachments)
	if err != nil {
		return err
	}

	fmt.Fprintln(s.out)
	p := newTurnPrinter(s.out, s.info, s.markdown, true, s.quiet)
	c, err := s.ctrl.StreamMessage(ctx, req, p.callbacks())
	if err != nil {
		if session.IsCanceled(err) {
			fmt.Fprintln(s.info, "\n"+WarningStyle.Render("[Cancelled]"))
			return nil
		}
		return err
	}
	fmt.Fprintln(s.out)

	s.pendingAttachments = false
	s.opts.threadID = c.ThreadID
	s.turns++
	if m := c.TokenMetrics; m != nil {
		s.totalTokens += m.TotalTokens
		if m.EstimatedCost != nil {
			s.totalCost += *m.EstimatedCost
		}
	}
	return nil
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

func (s *chatSession) handleSlashCommand(ctx context.Context, line string) (bool, error) {
	parts := strings.Fields(line)
	command, args := strings.ToLower(parts[0]), parts[1:]

	switch command {
	case "/help", "/h", "/?", "/":
		s.printHelp()
	case "/quit", "/q", "/exit":
		return false, nil
	case "/new":
		s.opts.threadID = ""
		fmt.Fprintln(s.out, SuccessStyle.Render("[New thread]"))
	case "/thread":
		return true, s.threadCommand(ctx, args)
	case "/model", "/m":
		if len(args) == 0 {
			fmt.Fprintln(s.out, RenderField("Model:", s.modelLabel()))
			return true, nil
		}
		s.opts.model = args[0]
		fmt.Fprintf(s.out, "%s Switched to %s\n", RenderStatus("ok"), HighlightStyle.Render(args[0]))
	case "/reasoning":
		return true, s.toggle(&s.opts.reasoning, "Reasoning", args, true)
	case "/web":
		return true, s.toggle(&s.opts.webSearch, "Web search", args, false)
	case "/history":
		return true, s.printHistory(ctx)
	case "/status", "/s":
		s.printStatus()
	default:
		return true, &UsageError{Reason: fmt.Sprintf("unknown command: %s (type /help for commands)", command)}
	}
	return true, nil
}

func (s *chatSession) threadCommand(ctx context.Context, args []string) error {
	if len(args) == 0 {
		id := s.opts.threadID
		if id == "" {
			id = "(new)"
		}
		fmt.Fprintln(s.out, RenderField("Thread:", id))
		return nil
	}
	t, err := s.api.getThread(ctx, args[0])
	if err != nil {
		return err
	}
	s.opts.threadID = t.ID
	fmt.Fprintf(s.out, "%s Switched to %q (%d messages)\n", RenderStatus("ok"), t.Title, len(t.Messages))
	return nil
}

// toggle handles on/off arguments. An effort level also turns the feature
// on when effort is true.
func (s *chatSession) toggle(flag *bool, name string, args []string, effort bool) error {
	if len(args) == 0 {
		*flag = !*flag
	} else {
		switch v := strings.ToLower(args[0]); v {
		case "on", "true":
			*flag = true
		case "off", "false":
			*flag = false
		case protocol.EffortLow, protocol.EffortMedium, protocol.EffortHigh:
			if !effort {
				return &UsageError{Reason: "expected on or off"}
			}
			*flag = true
			s.opts.effort = v
		default:
			return &UsageError{Reason: fmt.Sprintf("invalid value %q", v)}
		}
	}
	state := "off"
	if *flag {
		state = "on"
		if effort && s.opts.effort != "" {
			state += " (" + s.opts.effort + ")"
		}
	}
	fmt.Fprintf(s.out, "%s %s %s\n", RenderStatus("ok"), name, state)
	return nil
}

// =============================================================================
// DISPLAY
// =============================================================================

func (s *chatSession) modelLabel() string {
	if s.opts.model == "" {
		return "server default"
	}
	return s.opts.model
}

func (s *chatSession) printWelcome() {
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, TitleStyle.Render("orchat interactive chat"))
	fmt.Fprintln(s.out, RenderSeparator(30))
	fmt.Fprintln(s.out, RenderField("Model:", s.modelLabel()))
	if s.opts.threadID != "" {
		fmt.Fprintln(s.out, RenderField("Thread:", s.opts.threadID))
	}
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, DimStyle.Render("Type your message and press Enter. Commands: /help, /quit"))
	fmt.Fprintln(s.out)
}

func (s *chatSession) printHelp() {
	commands := []struct{ cmd, desc string }{
		{"/help, /h", "Show this help"},
		{"/new", "Start a new thread"},
		{"/thread [id]", "Show or switch thread"},
		{"/model [id]", "Show or switch model"},
		{"/reasoning [...]", "Toggle reasoning, or set on|off|low|medium|high"},
		{"/web [on|off]", "Toggle web search"},
		{"/history", "Show the thread's messages"},
		{"/status, /s", "Show session statistics"},
		{"/quit, /q", "Exit chat"},
	}
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, TitleStyle.Render("Available Commands"))
	for _, c := range commands {
		fmt.Fprintf(s.out, "  %s  %s\n", HighlightStyle.Render(fmt.Sprintf("%-18s", c.cmd)), DimStyle.Render(c.desc))
	}
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, DimStyle.Render("Tip: Ctrl+C cancels the current answer, Ctrl+D exits"))
	fmt.Fprintln(s.out)
}

func (s *chatSession) printHistory(ctx context.Context) error {
	if s.opts.threadID == "" {
		fmt.Fprintln(s.out, DimStyle.Render("[No messages yet]"))
		return nil
	}
	t, err := s.api.getThread(ctx, s.opts.threadID)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out)
	for i, m := range t.Messages {
		role := PromptStyle.Render("You")
		if m.Role == model.RoleAssistant {
			role = HighlightStyle.Render("AI")
		}
		fmt.Fprintf(s.out, "  %d. %s: %s\n", i+1, role, util.TruncateRunes(util.SingleLine(m.Content), 100))
	}
	fmt.Fprintln(s.out)
	return nil
}

func (s *chatSession) printStatus() {
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, TitleStyle.Render("Session Status"))
	fmt.Fprintln(s.out, RenderField("Model:", s.modelLabel()))
	thread := s.opts.threadID
	if thread == "" {
		thread = "(new)"
	}
	fmt.Fprintln(s.out, RenderField("Thread:", thread))
	fmt.Fprintln(s.out, RenderField("Reasoning:", onOff(s.opts.reasoning)))
	fmt.Fprintln(s.out, RenderField("Web search:", onOff(s.opts.webSearch)))
	fmt.Fprintln(s.out, RenderField("Duration:", time.Since(s.start).Round(time.Second).String()))
	fmt.Fprintln(s.out, RenderField("Turns:", fmt.Sprintf("%d", s.turns)))
	fmt.Fprintln(s.out, RenderField("Tokens:", formatNumber(s.totalTokens)))
	fmt.Fprintln(s.out, RenderField("Cost:", formatCost(s.totalCost)))
	fmt.Fprintln(s.out)
}

func (s *chatSession) printExitSummary() {
	if s.turns > 0 && !s.quiet {
		fmt.Fprintln(s.out)
		fmt.Fprintln(s.out, TitleStyle.Render("Session Summary"))
		fmt.Fprintln(s.out, RenderField("Turns:", fmt.Sprintf("%d", s.turns)))
		fmt.Fprintln(s.out, RenderField("Tokens:", formatNumber(s.totalTokens)))
		fmt.Fprintln(s.out, RenderField("Cost:", formatCost(s.totalCost)))
		fmt.Fprintln(s.out, RenderField("Thread:", s.opts.threadID))
	}
	fmt.Fprintln(s.out, DimStyle.Render("Goodbye!"))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
