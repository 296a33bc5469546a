// SPDX-License-Identifier: MPL-2.0

// Command pyfreeze discovers the module graph of Python programs.
package main

import cmd "github.com/invowk/pyfreeze/cmd/pyfreeze"

func main() {
	cmd.Execute()
}
