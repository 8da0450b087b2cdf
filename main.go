// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/invowk/cougar/cmd/cougar"

func main() {
	cmd.Execute()
}
