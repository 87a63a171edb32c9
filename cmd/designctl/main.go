// Command designctl works with design-graph fixtures offline: it renders
// view documents as canonical text and evaluates tenant policy files.
package main

import (
	"fmt"
	"os"
)

const (
	exitSuccess = 0
	exitError   = 2
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitError)
	}
	os.Exit(exitSuccess)
}
