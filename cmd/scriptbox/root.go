// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the scriptbox command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "scriptbox",
		Short: "Run shell snippets in crash-resilient worker processes",
		Long: TitleStyle.Render("scriptbox") + SubtitleStyle.Render(" - crash-resilient script sessions") + `

scriptbox evaluates shell snippets in a worker process that keeps session
state between submissions. Results stream back as trees bounded by quotas.
A worker that crashes or hangs is replaced transparently, together with
everything it started.

` + SubtitleStyle.Render("Examples:") + `
  scriptbox run                 Start an interactive session
  scriptbox run build.sh        Run a script and print its results
  scriptbox run -w build.sh     Re-run the script whenever it changes
  scriptbox config show         Show the effective configuration
  scriptbox issues              List known issues and their fixes`,
		SilenceUsage: true,
	}

	root.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	root.PersistentFlags().StringVar(&app.configPath, "config", "", "config file (default is <config dir>/scriptbox/config.cue)")

	root.SetIn(app.stdin)
	root.SetOut(app.stdout)
	root.SetErr(app.stderr)

	root.AddCommand(
		newRunCommand(app),
		newConfigCommand(app),
		newIssuesCommand(app),
		newInternalCommand(),
	)
	return root
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI and exits. It is called by main.main().
func Execute() {
	root := NewRootCommand(NewApp(Dependencies{}))
	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(errorHandler),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

// errorHandler leaves ExitErrors alone: they were reported by App.fail or
// carry only an exit code.
func errorHandler(w io.Writer, styles fang.Styles, err error) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return
	}
	fang.DefaultErrorHandler(w, styles, err)
}
