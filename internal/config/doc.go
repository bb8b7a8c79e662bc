// SPDX-License-Identifier: MPL-2.0

// Package config loads the scriptbox configuration with Viper, using CUE as
// the file format.
//
// The file lives at ~/.config/scriptbox/config.cue (XDG_CONFIG_HOME on
// Linux, ~/Library/Application Support/scriptbox on macOS and
// %APPDATA%\scriptbox on Windows) and is validated against the embedded
// config_schema.cue. Built-in defaults apply to omitted fields, and
// SCRIPTBOX_* environment variables override both, e.g.
// SCRIPTBOX_HANDSHAKE_TIMEOUT=1m.
package config
