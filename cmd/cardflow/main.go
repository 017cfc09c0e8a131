// Command cardflow compiles process definitions and runs the card workflow
// engine against a SQLite store.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/cardflow/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
