// Command sealgauge runs the encrypted telemetry scoring service.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/sealgauge/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
