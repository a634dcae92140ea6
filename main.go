// ./main.go
package main

import (
	"github.com/xkilldash9x/autosetname/cmd"
)

// main is the entry point when built from the repository root. It shares
// signal handling, exit codes and the panic sentinel with cmd/autosetname.
func main() {
	cmd.Main()
}
