// Package dhtsimcmd wires the simulator into a command line tool.
package dhtsimcmd

import (
	"github.com/spf13/cobra"
)

func Execute() error {
	return NewRootCmd().Execute()
}

func NewRootCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "dhtsim",
		Short: "dhtsim: a discrete-event simulator for DHT overlays",
	}
	c.AddCommand(newRunCmd())
	c.AddCommand(newNetworksCmd())
	c.AddCommand(newCreateConfigCmd())
	return c
}
