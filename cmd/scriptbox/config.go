// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/invowk/scriptbox/internal/config"
	"github.com/invowk/scriptbox/internal/issue"

	"github.com/spf13/cobra"
)

// newConfigCommand creates the `scriptbox config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage scriptbox configuration",
		Long: `Manage scriptbox configuration.

Configuration is stored in:
  - Linux: ~/.config/scriptbox/config.cue
  - macOS: ~/Library/Application Support/scriptbox/config.cue
  - Windows: %APPDATA%\scriptbox\config.cue

Environment variables override the file: SCRIPTBOX_LOG_LEVEL,
SCRIPTBOX_HANDSHAKE_TIMEOUT, SCRIPTBOX_QUOTAS_MAX_DEPTH and so on.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(cmd.Context(), app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.fail(showConfigPath(app))
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.fail(initConfig(app, force))
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	cfgCmd.AddCommand(initCmd)

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output the effective configuration as CUE",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := app.loadConfig(cmd.Context())
			if err != nil {
				return app.fail(err)
			}
			_, err = io.WriteString(app.stdout, config.GenerateCUE(cfg))
			return err
		},
	})

	return cfgCmd
}

func showConfig(ctx context.Context, app *App) error {
	cfg, path, err := app.loadConfig(ctx)
	if err != nil {
		if rendered, renderErr := issue.Get(issue.ConfigLoadFailedId).Render(""); renderErr == nil {
			_, _ = io.WriteString(app.stderr, rendered)
		}
		return app.fail(err)
	}

	keyStyle := CmdStyle
	valueStyle := SuccessStyle
	out := app.stdout

	fmt.Fprintln(out, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(out)
	if path != "" {
		fmt.Fprintf(out, "%s: %s\n", keyStyle.Render("Config file"), path)
	} else {
		fmt.Fprintf(out, "%s: %s\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	}
	fmt.Fprintln(out)

	stateDir := cfg.StateDir
	if stateDir == "" {
		stateDir = SubtitleStyle.Render("(system temp directory)")
	} else {
		stateDir = valueStyle.Render(stateDir)
	}
	fmt.Fprintf(out, "%s: %s\n", keyStyle.Render("log_level"), valueStyle.Render(cfg.LogLevel))
	fmt.Fprintf(out, "%s: %s\n", keyStyle.Render("state_dir"), stateDir)
	fmt.Fprintf(out, "%s: %s\n", keyStyle.Render("max_attempts"), valueStyle.Render(fmt.Sprint(cfg.MaxAttempts)))
	fmt.Fprintf(out, "%s: %s\n", keyStyle.Render("max_dumps"), valueStyle.Render(fmt.Sprint(cfg.MaxDumps)))

	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s:\n", keyStyle.Render("handshake"))
	fmt.Fprintf(out, "  poll_interval: %s\n", valueStyle.Render(cfg.Handshake.PollInterval.String()))
	fmt.Fprintf(out, "  timeout: %s\n", valueStyle.Render(cfg.Handshake.Timeout.String()))

	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s:\n", keyStyle.Render("quotas"))
	fmt.Fprintf(out, "  max_depth: %s\n", valueStyle.Render(fmt.Sprint(cfg.Quotas.MaxDepth)))
	fmt.Fprintf(out, "  max_expanded_depth: %s\n", valueStyle.Render(fmt.Sprint(cfg.Quotas.MaxExpandedDepth)))
	fmt.Fprintf(out, "  max_enumerable_length: %s\n", valueStyle.Render(fmt.Sprint(cfg.Quotas.MaxEnumerableLength)))
	fmt.Fprintf(out, "  max_string_length: %s\n", valueStyle.Render(fmt.Sprint(cfg.Quotas.MaxStringLength)))

	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s:\n", keyStyle.Render("session"))
	fmt.Fprintf(out, "  references: %s\n", listOrNone(cfg.Session.References))
	fmt.Fprintf(out, "  imports: %s\n", listOrNone(cfg.Session.Imports))
	if cfg.Session.WorkingDirectory != "" {
		fmt.Fprintf(out, "  working_directory: %s\n", valueStyle.Render(cfg.Session.WorkingDirectory))
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s:\n", keyStyle.Render("ui"))
	fmt.Fprintf(out, "  color_scheme: %s\n", valueStyle.Render(cfg.UI.ColorScheme.String()))
	fmt.Fprintf(out, "  verbose: %s\n", valueStyle.Render(fmt.Sprint(cfg.UI.Verbose)))
	return nil
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return SubtitleStyle.Render("(none configured)")
	}
	return SuccessStyle.Render(strings.Join(items, ", "))
}

func showConfigPath(app *App) error {
	dir, err := config.ConfigDir()
	if err != nil {
		return err
	}
	file := app.configPath
	if file == "" {
		if file, err = config.DefaultPath(); err != nil {
			return err
		}
	}
	fmt.Fprintf(app.stdout, "Config directory: %s\n", dir)
	fmt.Fprintf(app.stdout, "Config file: %s\n", file)
	return nil
}

func initConfig(app *App, force bool) error {
	path, err := config.CreateDefaultConfig(app.configPath, force)
	if errors.Is(err, config.ErrConfigExists) {
		return issue.NewErrorContext().
			WithOperation("create configuration").
			WithResource(path).
			WithSuggestion("Use --force to overwrite it with the defaults").
			Wrap(err).
			BuildError()
	}
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}
	fmt.Fprintf(app.stdout, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), path)
	return nil
}
