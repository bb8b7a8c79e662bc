// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the scriptbox command line.
//
// The same binary is both the host and the worker: the hidden
// "internal worker" command is what the supervisor starts for every
// session.
package cmd
