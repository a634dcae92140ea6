// File: cmd/autosetname/main.go
/*
Copyright © 2025 Kyle McAllister (xkilldash9x@proton.me)
*/

package main

import "github.com/xkilldash9x/autosetname/cmd"

// main is the entry point of the application.
func main() {
	cmd.Main()
}
