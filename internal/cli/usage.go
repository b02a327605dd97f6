// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// usage.go - Token and cost usage report.

package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newUsageCmd(a *app) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show token and cost usage recorded by the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 || days > 365 {
				return &UsageError{Reason: "--days must be between 1 and 365"}
			}
			usage, err := a.api().usage(cmd.Context(), days)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return NewJSONResponse("usage", usage).Write(cmd.OutOrStdout())
			}
			return printUsage(cmd.OutOrStdout(), usage, days)
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "trend window in days")
	return cmd
}

func printUsage(w io.Writer, u *usageResponse, days int) error {
	fmt.Fprintln(w, TitleStyle.Render("Usage by model"))
	if len(u.Models) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No requests recorded"))
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tREQUESTS\tINPUT\tOUTPUT\tCOST")
	for _, m := range u.Models {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
			m.Model, m.Requests, formatNumber(m.InputTokens), formatNumber(m.OutputTokens), formatCost(m.Cost))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if u.Trends == nil {
		return nil
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, TitleStyle.Render(fmt.Sprintf("Last %d days", days)))
	for _, d := range u.Trends.DailyBreakdown {
		fmt.Fprintf(w, "  %s  %4d req  %10s tok  %s\n", d.Date, d.Requests, formatNumber(d.Tokens), formatCost(d.Cost))
	}
	fmt.Fprintln(w, RenderField("Total tokens:", formatNumber(u.Trends.TotalTokens)))
	fmt.Fprintln(w, RenderField("Total cost:", formatCost(u.Trends.TotalCost)))
	return nil
}
