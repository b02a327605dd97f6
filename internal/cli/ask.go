// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - One-shot question command and shared turn options.
//
// Examples:
//
//	orchat ask "What is the capital of France?"
//	orchat ask --model anthropic/claude-sonnet-4 --reasoning "Prove it"
//	orchat ask --file main.go "Review this code"
//	echo "question" | orchat ask
package cli

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/orchat/internal/model"
	"github.com/jeranaias/orchat/internal/protocol"
	"github.com/jeranaias/orchat/internal/session"
)

// MaxFileSize bounds attached documents and images.
const MaxFileSize = 1 << 20

// =============================================================================
// TURN OPTIONS
// =============================================================================

// turnOptions are the per-message flags shared by ask and chat.
type turnOptions struct {
	model      string
	threadID   string
	reasoning  bool
	effort     string
	webSearch  bool
	files      []string
	images     []string
	noMarkdown bool
}

func (o *turnOptions) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&o.model, "model", "m", "", "model id (default from server)")
	f.StringVarP(&o.threadID, "thread", "t", "", "continue an existing thread")
	f.BoolVarP(&o.reasoning, "reasoning", "r", false, "enable model reasoning")
	f.StringVar(&o.effort, "effort", "", "reasoning and search effort: low, medium or high")
	f.BoolVarP(&o.webSearch, "web", "w", false, "enable web search")
	f.StringArrayVarP(&o.files, "file", "f", nil, "attach a text document (repeatable)")
	f.StringArrayVar(&o.images, "image", nil, "attach an image path or URL (repeatable)")
	f.BoolVar(&o.noMarkdown, "no-markdown", false, "print the raw answer")
}

func (o *turnOptions) validate() error {
	switch o.effort {
	case "", protocol.EffortLow, protocol.EffortMedium, protocol.EffortHigh:
		return nil
	}
	return &UsageError{Reason: fmt.Sprintf("invalid effort %q", o.effort), Example: "--effort high"}
}

// request builds the chat request for content. Attachments are only sent
// with the first message of a chat session.
func (o *turnOptions) request(content string, attach bool) (protocol.ChatRequest, error) {
	req := protocol.ChatRequest{
		Content:  content,
		ThreadID: o.threadID,
		Model:    o.model,
	}
	if o.reasoning {
		req.Reasoning = &protocol.Feature{Enabled: true, Effort: o.effort}
	}
	if o.webSearch {
		req.WebSearch = &protocol.Feature{Enabled: true, Effort: o.effort}
	}
	if !attach {
		return req, nil
	}

	for _, path := range o.files {
		doc, err := readDocument(path)
		if err != nil {
			return req, err
		}
		req.Documents = append(req.Documents, doc)
	}
	for _, ref := range o.images {
		img, err := readImage(ref)
		if err != nil {
			return req, err
		}
		req.Images = append(req.Images, img)
	}
	return req, nil
}

// =============================================================================
// ATTACHMENTS
// =============================================================================

func readLimited(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, &UsageError{Reason: path + " is a directory"}
	}
	if info.Size() > MaxFileSize {
		return nil, &UsageError{Reason: fmt.Sprintf("%s is too large (%d bytes, max %d)", path, info.Size(), MaxFileSize)}
	}
	return os.ReadFile(path)
}

// readDocument loads a text file as a document attachment.
func readDocument(path string) (model.Document, error) {
	data, err := readLimited(path)
	if err != nil {
		return model.Document{}, err
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "text/plain"
	}
	return model.Document{
		Name:     filepath.Base(path),
		MimeType: mimeType,
		Content:  string(data),
	}, nil
}

// readImage turns ref into an image attachment. Remote URLs are passed
// through; local files become data URLs.
func readImage(ref string) (model.Image, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "data:") {
		return model.Image{URL: ref}, nil
	}
	data, err := readLimited(ref)
	if err != nil {
		return model.Image{}, err
	}
	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return model.Image{}, &UsageError{Reason: fmt.Sprintf("%s is not an image (%s)", ref, mimeType)}
	}
	return model.Image{
		URL:      "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data),
		MimeType: mimeType,
		Name:     filepath.Base(ref),
	}, nil
}

// =============================================================================
// ASK COMMAND
// =============================================================================

func newAskCmd(a *app) *cobra.Command {
	var (
		opts     turnOptions
		noStream bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question",
		Long: `Send one message and print the answer.

The question is read from stdin when no argument is given.`,
		Example: `  orchat ask "Explain goroutines"
  orchat ask -r --effort high "Is 2^61-1 prime?"
  orchat ask -t <thread-id> "And in Rust?"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runAsk(ctx, a, cmd, &opts, noStream, args)
		},
	}
	opts.bind(cmd)
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "wait for the full answer instead of streaming")
	return cmd
}

func runAsk(ctx context.Context, a *app, cmd *cobra.Command, opts *turnOptions, noStream bool, args []string) error {
	if err := opts.validate(); err != nil {
		return err
	}
	question, err := readQuestion(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}
	req, err := opts.request(question, true)
	if err != nil {
		return err
	}
	if !req.HasInput() {
		return &UsageError{Reason: "no question given", Example: `orchat ask "What is a monad?"`}
	}

	out, info := cmd.OutOrStdout(), cmd.ErrOrStderr()
	ctrl := a.controller()

	var completion *session.Completion
	if noStream || a.jsonOut {
		completion, err = ctrl.Send(ctx, req)
	} else {
		markdown := !opts.noMarkdown && isTerminal(out)
		p := newTurnPrinter(out, info, markdown, true, a.quiet)
		completion, err = ctrl.StreamMessage(ctx, req, p.callbacks())
	}
	if err != nil {
		if session.IsCanceled(err) {
			fmt.Fprintln(info, WarningStyle.Render("[Cancelled]"))
		}
		return err
	}

	if a.jsonOut {
		return NewJSONResponse("ask", protocol.ChatResponse{
			ThreadID:         completion.ThreadID,
			UserMessage:      completion.UserMessage,
			AssistantMessage: completion.AssistantMessage,
			TokenMetrics:     completion.TokenMetrics,
		}).Write(out)
	}
	if noStream {
		p := newTurnPrinter(out, info, !opts.noMarkdown && isTerminal(out), false, a.quiet)
		p.complete(completion)
	}
	if !a.quiet && req.ThreadID == "" {
		fmt.Fprintln(info, DimStyle.Render("[Thread] "+completion.ThreadID))
	}
	return nil
}

// readQuestion joins args, or reads stdin when there are none.
func readQuestion(stdin io.Reader, args []string) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	if isTerminal(stdin) {
		return "", nil
	}
	data, err := io.ReadAll(io.LimitReader(stdin, MaxFileSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	if len(data) > MaxFileSize {
		return "", errors.New("stdin input too large")
	}
	return strings.TrimSpace(string(data)), nil
}
