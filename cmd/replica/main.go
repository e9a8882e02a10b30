// Command replica serves, watches and mutates replicated collections.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/replica/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
