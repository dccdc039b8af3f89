// The main package for the batchcrawl executable.
package main

import (
	"github.com/JakeFAU/batchcrawl/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
