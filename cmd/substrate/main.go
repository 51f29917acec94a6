// Command substrate runs and inspects message-passing simulations.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/substrate/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
