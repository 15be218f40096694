package dhtsimcmd

import (
	"bufio"
	"fmt"

	"github.com/spf13/cobra"

	"dhtsim/simulation"
)

func newNetworksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-dhts",
		Short: "lists the registered DHT variants",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := bufio.NewWriter(cmd.OutOrStdout())
			for _, name := range simulation.Factories() {
				fmt.Fprintf(w, "%s\n", name)
			}
			return w.Flush()
		},
	}
}
