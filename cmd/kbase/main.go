// Command kbase is the entry point for the knowledge-base retrieval engine.
// It provides a CLI interface (via Cobra) for ingesting, reviewing, and
// searching documents, and an HTTP server exposing the same operations.
package main

import (
	"fmt"
	"os"

	"github.com/knowos/kbase-go/cmd/kbase/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
