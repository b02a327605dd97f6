// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// threads.go - Thread management commands.
//
// Examples:
//
//	orchat threads list
//	orchat threads list --search "kubernetes"
//	orchat threads show <id>
//	orchat threads export <id> -o chat.md
//	orchat threads rename <id> "New title"
//	orchat threads pin <id>
//	orchat threads delete <id>
package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jeranaias/orchat/internal/model"
	"github.com/jeranaias/orchat/internal/util"
)

func newThreadsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "threads",
		Aliases: []string{"thread"},
		Short:   "Manage saved threads",
	}
	cmd.AddCommand(
		newThreadsListCmd(a),
		newThreadsShowCmd(a),
		newThreadsExportCmd(a),
		newThreadsRenameCmd(a),
		newThreadsPinCmd(a, true),
		newThreadsPinCmd(a, false),
		newThreadsDeleteCmd(a),
	)
	return cmd
}

func newThreadsListCmd(a *app) *cobra.Command {
	var search string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List threads, pinned first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			threads, err := a.api().listThreads(cmd.Context(), search)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return NewJSONResponse("threads list", threads).Write(cmd.OutOrStdout())
			}
			printThreadList(cmd.OutOrStdout(), threads)
			return nil
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "only threads whose title or messages contain text")
	return cmd
}

func printThreadList(w io.Writer, threads []model.ThreadMeta) {
	if len(threads) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No threads"))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tMODEL\tMESSAGES\tUPDATED")
	for _, t := range threads {
		title := util.TruncateRunes(t.Title, 40)
		if t.IsPinned {
			title = "* " + title
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			t.ID, title, t.CurrentModel, t.MessageCount, t.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	tw.Flush()
}

func newThreadsShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a thread's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			thread, err := a.api().getThread(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if a.jsonOut {
				return NewJSONResponse("threads show", thread).Write(cmd.OutOrStdout())
			}
			printThread(cmd.OutOrStdout(), thread)
			return nil
		},
	}
}

func printThread(w io.Writer, t *model.Thread) {
	fmt.Fprintln(w, TitleStyle.Render(t.Title))
	fmt.Fprintln(w, RenderField("Thread:", t.ID))
	if t.CurrentModel != "" {
		fmt.Fprintln(w, RenderField("Model:", t.CurrentModel))
	}
	fmt.Fprintln(w, RenderSeparator(40))

	for _, m := range t.Messages {
		label := PromptStyle.Render(m.Role.DisplayName())
		if m.ModelID != "" {
			label += " " + DimStyle.Render("("+m.ModelID+")")
		}
		fmt.Fprintln(w, label)
		if len(m.Images) > 0 {
			fmt.Fprintln(w, DimStyle.Render(fmt.Sprintf("[%d image(s)]", len(m.Images))))
		}
		fmt.Fprintln(w, strings.TrimSpace(m.Content))
		fmt.Fprintln(w)
	}
}

func newThreadsExportCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a thread as Markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := a.api().exportThread(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = io.WriteString(cmd.OutOrStdout(), md)
				return err
			}
			if err := util.AtomicWriteFile(output, []byte(md), 0600); err != nil {
				return &CommandError{Command: "threads", Action: "export", Err: err}
			}
			if !a.quiet {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s Exported to %s\n", RenderStatus("ok"), output)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func newThreadsRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename a thread",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.TrimSpace(strings.Join(args[1:], " "))
			if title == "" {
				return &UsageError{Reason: "title must not be empty"}
			}
			meta, err := a.api().updateThread(cmd.Context(), args[0], threadPatch{Title: &title})
			if err != nil {
				return err
			}
			return a.reportThread(cmd, "threads rename", meta, "Renamed")
		},
	}
}

func newThreadsPinCmd(a *app, pin bool) *cobra.Command {
	use, short, verb := "pin <id>", "Pin a thread to the top of the list", "Pinned"
	if !pin {
		use, short, verb = "unpin <id>", "Unpin a thread", "Unpinned"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := a.api().updateThread(cmd.Context(), args[0], threadPatch{IsPinned: &pin})
			if err != nil {
				return err
			}
			return a.reportThread(cmd, "threads "+cmd.Name(), meta, verb)
		},
	}
}

func (a *app) reportThread(cmd *cobra.Command, command string, meta *model.ThreadMeta, verb string) error {
	if a.jsonOut {
		return NewJSONResponse(command, meta).Write(cmd.OutOrStdout())
	}
	if !a.quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", RenderStatus("ok"), verb, meta.Title)
	}
	return nil
}

func newThreadsDeleteCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a thread",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				if !isTerminal(cmd.InOrStdin()) {
					return &UsageError{Reason: "refusing to delete without --yes", Example: "orchat threads delete <id> --yes"}
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Delete thread %s? [y/N] ", args[0])
				var answer string
				fmt.Fscanln(cmd.InOrStdin(), &answer)
				if !strings.EqualFold(strings.TrimSpace(answer), "y") {
					return nil
				}
			}
			if err := a.api().deleteThread(cmd.Context(), args[0]); err != nil {
				return err
			}
			if a.jsonOut {
				return NewJSONResponse("threads delete", map[string]string{"id": args[0]}).Write(cmd.OutOrStdout())
			}
			if !a.quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %s\n", RenderStatus("ok"), args[0])
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}
