// File: cmd/hioload-dp/root.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "hioload-dp",
	Short: "User-space packet data plane",
	Long: `hioload-dp switches packets between physical, ring and vhost ports
from poll-mode threads pinned to dedicated cores.

Start the data plane with 'hioload-dp run --config dp.yaml' and drive it
with 'hioload-dp ctl'.
`,
	SilenceUsage: true,
}

// Execute runs the root command. It is called once by main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd, ctlCmd)
}
