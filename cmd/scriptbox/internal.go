// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"os"

	"github.com/invowk/scriptbox/internal/engine/shell"
	"github.com/invowk/scriptbox/internal/worker"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

// newInternalCommand creates the hidden commands the host starts as child
// processes.
func newInternalCommand() *cobra.Command {
	internalCmd := &cobra.Command{
		Use:    "internal",
		Short:  "Internal commands (not for direct use)",
		Hidden: true,
	}
	internalCmd.AddCommand(newInternalWorkerCommand())
	return internalCmd
}

// newInternalWorkerCommand serves one session over the endpoint chosen by
// the supervisor:
//
//	scriptbox internal worker <endpoint> <sync> --pid <controllerPid>
//
// The handshake token is passed in the environment.
func newInternalWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:                "worker <endpoint> <sync> --pid <controllerPid>",
		Short:              "Serve a session (internal use only)",
		Hidden:             true,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			level, err := log.ParseLevel(os.Getenv(workerLogLevelEnv))
			if err != nil {
				level = log.InfoLevel
			}
			logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "worker", Level: level})

			cfg, err := worker.ParseArgs(args)
			if err != nil {
				logger.Error("invalid worker arguments", "error", err)
				return &ExitError{Code: 2, Err: err}
			}
			cfg.Engine = shell.New()
			cfg.Logger = logger
			if err := worker.Serve(cmd.Context(), cfg); err != nil {
				logger.Error("worker stopped", "error", err)
				return &ExitError{Code: 1, Err: err}
			}
			return nil
		},
	}
}
