// File: cmd/hioload-dp/ctl.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-dp/control"
	"github.com/momentics/hioload-dp/facade"
)

var socketPath string

var ctlCmd = &cobra.Command{
	Use:   "ctl [command] [args...]",
	Short: "Send an admin command to a running data plane",
	Example: `  hioload-dp ctl show phy0
  hioload-dp ctl set-admin-state phy0 down
  hioload-dp ctl stats`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cl, err := control.Dial(socketPath)
		if err != nil {
			return err
		}
		defer cl.Close()
		out, err := cl.Call(args...)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	ctlCmd.Flags().StringVar(&socketPath, "socket", facade.DefaultConfig().Socket, "command socket of the data plane")
}
