// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Config command implementation.
//
// Subcommands:
//
//	show (default)      Display the effective configuration, secrets redacted
//	get <key>           Print one value
//	set <key> <value>   Set a value in the config file
//	keys                List the settable keys
//	path                Show the config file location
//
// Keys use dot notation matching the TOML layout, e.g. cloud.default_model,
// server.rate_limit, log.level.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/orchat/internal/config"
)

// secretKeys are redacted by get unless --reveal is given.
var secretKeys = map[string]bool{
	"cloud.openrouter_key": true,
	"server.auth_token":    true,
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(a, cmd)
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Display the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigShow(a, cmd)
			},
		},
		newConfigGetCmd(a),
		newConfigSetCmd(a),
		&cobra.Command{
			Use:   "keys",
			Short: "List the settable keys",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if a.jsonOut {
					return NewJSONResponse("config keys", config.Keys()).Write(cmd.OutOrStdout())
				}
				for _, k := range config.Keys() {
					fmt.Fprintln(cmd.OutOrStdout(), k)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Show the config file location",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := a.configFile()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			},
		},
	)
	return cmd
}

func runConfigShow(a *app, cmd *cobra.Command) error {
	if a.jsonOut {
		// String is already redacted JSON.
		_, err := fmt.Fprintln(cmd.OutOrStdout(), a.cfg.String())
		return err
	}
	path, _ := a.configFile()
	fmt.Fprintln(cmd.OutOrStdout(), TitleStyle.Render("orchat configuration"))
	fmt.Fprintln(cmd.OutOrStdout(), DimStyle.Render(path))
	fmt.Fprintln(cmd.OutOrStdout(), a.cfg.String())
	return nil
}

func newConfigGetCmd(a *app) *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:               "get <key>",
		Short:             "Print one configuration value",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeConfigKey,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := strings.ToLower(args[0])
			v, err := a.cfg.Get(key)
			if err != nil {
				return &UsageError{Reason: err.Error(), Example: "orchat config get cloud.default_model"}
			}
			if s, ok := v.(string); ok && secretKeys[key] && !reveal && s != "" {
				v = maskSecret(s)
			}
			if a.jsonOut {
				return NewJSONResponse("config get", map[string]any{key: v}).Write(cmd.OutOrStdout())
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print secrets in full")
	return cmd
}

func newConfigSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Example: `  orchat config set cloud.default_model anthropic/claude-sonnet-4
  orchat config set cloud.openrouter_key sk-or-...
  orchat config set server.allowed_origins http://localhost:5173,https://chat.example.com`,
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: completeConfigKey,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := strings.ToLower(args[0])
			path, err := a.configFile()
			if err != nil {
				return err
			}

			// Edit the file's own contents so environment overrides are not
			// written back.
			cfg := config.Default()
			if _, statErr := os.Stat(path); statErr == nil {
				if err := loadConfigFile(cfg, path); err != nil {
					return err
				}
			} else if !errors.Is(statErr, os.ErrNotExist) {
				return statErr
			}

			if err := cfg.Set(key, args[1]); err != nil {
				return &UsageError{Reason: err.Error(), Example: "orchat config keys"}
			}
			cfg.SetDefaults()
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := saveConfigFile(cfg, path); err != nil {
				return err
			}

			if !a.quiet {
				shown := args[1]
				if secretKeys[key] {
					shown = maskSecret(shown)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s = %s\n", RenderStatus("ok"), key, shown)
			}
			return nil
		},
	}
}

// completeConfigKey completes the key argument of get and set.
func completeConfigKey(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return config.Keys(), cobra.ShellCompDirectiveNoFileComp
}

// configFile returns the file config commands read and write.
func (a *app) configFile() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	if path, err := config.ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if tomlPath, _ := config.ConfigPathTOML(); !fileExists(tomlPath) {
				return path, nil
			}
		}
	}
	return config.ConfigPathTOML()
}

func loadConfigFile(cfg *config.Config, path string) error {
	if strings.HasSuffix(path, ".json") {
		return config.LoadJSON(cfg, path)
	}
	return config.LoadTOML(cfg, path)
}

func saveConfigFile(cfg *config.Config, path string) error {
	if strings.HasSuffix(path, ".json") {
		return config.SaveJSON(cfg, path)
	}
	return config.SaveTOML(cfg, path)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// maskSecret keeps the first and last four characters of long secrets.
func maskSecret(s string) string {
	if len(s) <= 12 {
		return "****"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
