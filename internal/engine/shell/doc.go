// SPDX-License-Identifier: MPL-2.0

// Package shell implements engine.Engine on top of the mvdan.cc/sh
// interpreter.
//
// One Engine owns a single interp.Runner, so variables, functions and the
// working directory set by one submission are visible to the next. Two
// builtins are added to the language: dump streams a value back to the
// controller, and throw raises a script error carrying the calling line.
// A trailing arithmetic command such as ((1+1)) is dumped as an int.
package shell
