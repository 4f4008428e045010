// Command syncd runs the Matrix /sync client from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/c0deZ3R0/go-matrix-sync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
