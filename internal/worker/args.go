// SPDX-License-Identifier: MPL-2.0

package worker

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/invowk/scriptbox/internal/protocol"

	"github.com/spf13/pflag"
)

// ErrMissingToken is returned when the worker was started without a token.
var ErrMissingToken = errors.New("worker token not set in " + protocol.EnvWorkerToken)

// NewConfig builds the configuration of a worker started as
// "<endpoint> <sync> --pid <controllerPid>". The token is read from the
// environment and then removed from it, so scripts run by the worker and
// the processes they start never see it.
func NewConfig(endpoint, syncPath string, parentPID int) (Config, error) {
	ep, err := protocol.ParseEndpoint(endpoint)
	if err != nil {
		return Config{}, err
	}
	token := os.Getenv(protocol.EnvWorkerToken)
	if token == "" {
		return Config{}, ErrMissingToken
	}
	if err := os.Unsetenv(protocol.EnvWorkerToken); err != nil {
		return Config{}, fmt.Errorf("failed to clear %s: %w", protocol.EnvWorkerToken, err)
	}
	return Config{
		Endpoint:  ep,
		SyncPath:  syncPath,
		Token:     token,
		ParentPID: parentPID,
	}, nil
}

// ParseArgs parses the worker command line without the command prefix.
func ParseArgs(args []string) (Config, error) {
	fs := pflag.NewFlagSet("worker", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	pid := fs.Int("pid", 0, "controller process id")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() != 2 {
		return Config{}, fmt.Errorf("expected <endpoint> <sync>, got %d arguments", fs.NArg())
	}
	return NewConfig(fs.Arg(0), fs.Arg(1), *pid)
}
