// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// models.go - Model listing command.
//
// Examples:
//
//	orchat models                   Models offered by the server
//	orchat models --remote          Full OpenRouter catalog
//	orchat models --remote claude   Catalog filtered by id or name
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jeranaias/orchat/internal/cloud"
	"github.com/jeranaias/orchat/internal/model"
)

func newModelsCmd(a *app) *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "models [filter]",
		Short: "List available models",
		Long: `List the models the server offers.

With --remote the full OpenRouter catalog is fetched instead, with context
length and per-million-token pricing.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := ""
			if len(args) == 1 {
				filter = strings.ToLower(args[0])
			}
			if remote {
				return runRemoteModels(cmd.Context(), a, cmd.OutOrStdout(), filter)
			}
			return runModels(cmd.Context(), a, cmd, filter)
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "list the OpenRouter catalog")
	return cmd
}

func runModels(ctx context.Context, a *app, cmd *cobra.Command, filter string) error {
	resp, err := a.api().models(ctx)
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		// Server not running: the built-in registry is what it would serve.
		if !a.quiet && !a.jsonOut {
			fmt.Fprintln(cmd.ErrOrStderr(), DimStyle.Render("[Server unreachable, showing built-in registry]"))
		}
		resp, err = &modelsResponse{Models: model.Descriptors(), DefaultModel: a.cfg.Cloud.DefaultModel}, nil
	}
	if err != nil {
		return err
	}

	models := resp.Models[:0:0]
	for _, d := range resp.Models {
		if filter == "" || strings.Contains(strings.ToLower(d.ID+" "+d.Name), filter) {
			models = append(models, d)
		}
	}

	out := cmd.OutOrStdout()
	if a.jsonOut {
		return NewJSONResponse("models", modelsResponse{Models: models, DefaultModel: resp.DefaultModel}).Write(out)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tREASONING\tWEB SEARCH\tTIER")
	for _, d := range models {
		id := d.ID
		if d.ID == resp.DefaultModel {
			id += " (default)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", id, d.Name, featureMode(d.HasReasoning, d.ReasoningMode), featureMode(d.HasWebSearch, d.WebSearchMode), d.PricingTier)
	}
	return tw.Flush()
}

func featureMode(has bool, mode string) string {
	switch {
	case !has:
		return "-"
	case mode == "":
		return "yes"
	default:
		return mode
	}
}

func runRemoteModels(ctx context.Context, a *app, out io.Writer, filter string) error {
	client := cloud.NewOpenRouterClient(a.cfg.Cloud.OpenRouterKey).
		WithBaseURL(a.cfg.Cloud.BaseURL).
		WithLogger(a.logger)

	models, err := client.ListModels(ctx)
	if err != nil {
		return &CommandError{Command: "models", Action: "list", Err: err}
	}

	filtered := models[:0]
	for _, m := range models {
		if filter == "" || strings.Contains(strings.ToLower(m.ID+" "+m.Name), filter) {
			filtered = append(filtered, m)
		}
	}

	if a.jsonOut {
		return NewJSONResponse("models", filtered).Write(out)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCONTEXT\tINPUT $/M\tOUTPUT $/M")
	for _, m := range filtered {
		in, outPrice := "-", "-"
		if m.Pricing != nil {
			in, outPrice = perMillion(m.Pricing.Prompt), perMillion(m.Pricing.Completion)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, formatNumber(m.ContextLength), in, outPrice)
	}
	return tw.Flush()
}

// perMillion converts OpenRouter's per-token decimal string into dollars
// per million tokens.
func perMillion(perToken string) string {
	v, err := strconv.ParseFloat(perToken, 64)
	if err != nil || v < 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f", v*1e6)
}
