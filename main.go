// SPDX-License-Identifier: MPL-2.0

package main

import cmd "rtpi-cli/cmd/rtpi"

func main() {
	cmd.Execute()
}
