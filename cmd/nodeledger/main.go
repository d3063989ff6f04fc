// Command nodeledger tracks the state of cluster resources as an active
// record plus a timestamped history.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/nodeledger/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
