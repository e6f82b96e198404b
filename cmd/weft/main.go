// Command weft hashes, locks and plans rebuilds of a shared program graph.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/weft/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		var exitErr *cli.ExitError
		// Commands report their own errors; only surface the rest.
		if !errors.As(err, &exitErr) || exitErr.Err != nil {
			fmt.Fprintln(os.Stderr, "weft:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
