package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// RootCmd is the root command for the seed node binary.
var RootCmd = &cobra.Command{
	Use:              "seed",
	Short:            "gossip overlay seed node",
	TraverseChildren: true,
}

func init() {
	RootCmd.AddCommand(NewRunCmd())
}

// Execute runs the command tree and returns the process exit code: 0 on
// normal shutdown, 1 on a config or bind error, 2 on an unhandled fault.
func Execute() (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintln(os.Stderr, "fatal:", r)
			code = 2
		}
	}()

	if err := RootCmd.Execute(); err != nil {
		if ExitCode != 0 {
			return ExitCode
		}
		return 1
	}
	return 0
}
