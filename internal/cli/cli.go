// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Root command and shared state for the orchat CLI.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jeranaias/orchat/internal/config"
	"github.com/jeranaias/orchat/internal/logging"
	"github.com/jeranaias/orchat/internal/session"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// app holds state shared by every subcommand. It is populated by the root
// command's PersistentPreRunE.
type app struct {
	// Global flags
	configPath string
	serverURL  string
	logLevel   string
	jsonOut    bool
	quiet      bool

	cfg    *config.Config
	logger zerolog.Logger
}

// NewRootCmd builds the orchat command tree.
func NewRootCmd() *cobra.Command {
	a := &app{logger: zerolog.Nop()}

	cmd := &cobra.Command{
		Use:   "orchat",
		Short: "Streaming chat over OpenRouter",
		Long: `orchat relays chat turns to OpenRouter models and streams the answers back.

Run "orchat serve" to start the API server, then talk to it with
"orchat chat" or "orchat ask".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "config file (default ~/.orchat/config.toml)")
	pf.StringVarP(&a.serverURL, "server", "s", "", "orchat server URL (overrides client.server_url)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level (overrides log.level)")
	pf.BoolVar(&a.jsonOut, "json", false, "output JSON")
	pf.BoolVarP(&a.quiet, "quiet", "q", false, "minimal output")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newChatCmd(a))
	cmd.AddCommand(newAskCmd(a))
	cmd.AddCommand(newModelsCmd(a))
	cmd.AddCommand(newThreadsCmd(a))
	cmd.AddCommand(newUsageCmd(a))
	cmd.AddCommand(newConfigCmd(a))
	return cmd
}

// load reads configuration and applies global flag overrides.
func (a *app) load(cmd *cobra.Command) error {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadFromPath(a.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	if a.serverURL != "" {
		cfg.Client.ServerURL = a.serverURL
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}

	logger, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	for _, w := range cfg.Warnings {
		logger.Warn().Msg(w)
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}

// controller returns a session controller for the configured server.
func (a *app) controller() *session.Controller {
	return session.NewController(a.cfg.Client.ServerURL).
		WithAuthToken(a.cfg.Server.AuthToken).
		WithLogger(a.logger)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// No config needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "orchat %s (commit: %s, built: %s)\n", Version, GitCommit, BuildDate)
		},
	}
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	return execute(NewRootCmd(), os.Stderr)
}

func execute(root *cobra.Command, stderr io.Writer) int {
	cmd, err := root.ExecuteC()
	if err == nil {
		return ExitSuccess
	}
	if jsonMode, _ := root.PersistentFlags().GetBool("json"); jsonMode {
		_ = NewJSONErrorResponse(cmd.Name(), err).Write(root.OutOrStdout())
	} else {
		fmt.Fprintf(stderr, "%s %v\n", ErrorStyle.Render("Error:"), err)
	}
	return ExitCodeFor(err)
}
