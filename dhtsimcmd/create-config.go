package dhtsimcmd

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"dhtsim/simulation"
)

func newCreateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-config",
		Short: "creates a new default config and writes it to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(simulation.DefaultConfig())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			out.Write(data)
			return nil
		},
	}
}
