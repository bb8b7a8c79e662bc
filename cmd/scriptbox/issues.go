// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"

	"github.com/invowk/scriptbox/internal/config"
	"github.com/invowk/scriptbox/internal/issue"

	"github.com/spf13/cobra"
)

func newIssuesCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "issues [id|slug]",
		Short: "Explain known problems and how to fix them",
		Long: `Without arguments, list every known issue. With an issue number or slug,
render its explanation. Error messages name the slug to look up.`,
		Example: `  scriptbox issues
  scriptbox issues worker-unavailable
  scriptbox issues 2`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				listIssues(app.stdout)
				return nil
			}
			i, ok := issue.Lookup(args[0])
			if !ok {
				return app.fail(issue.NewErrorContext().
					WithOperation("look up issue").
					WithResource(args[0]).
					WithSuggestion("Run 'scriptbox issues' to list the known issues").
					Wrap(fmt.Errorf("unknown issue %q", args[0])).
					BuildError())
			}

			style := string(config.ColorSchemeAuto)
			if cfg, _, err := app.loadConfig(cmd.Context()); err == nil {
				style = cfg.UI.ColorScheme.String()
			}
			rendered, err := i.Render(style)
			if err != nil {
				return app.fail(err)
			}
			_, err = io.WriteString(app.stdout, rendered)
			return err
		},
	}
}

func listIssues(w io.Writer) {
	fmt.Fprintln(w, TitleStyle.Render("Known issues"))
	fmt.Fprintln(w)
	for _, i := range issue.Values() {
		fmt.Fprintf(w, "  %s  %-22s %s\n",
			VerboseStyle.Render(fmt.Sprintf("%2d", i.Id())),
			CmdStyle.Render(i.Slug()),
			i.Title())
	}
}
