// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/invowk/scriptbox/cmd/scriptbox"

func main() {
	cmd.Execute()
}
