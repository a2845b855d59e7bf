package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// markerCmd prints the applied sequence marker
var markerCmd = &cobra.Command{
	Use:   "marker <path>",
	Short: "Print the last applied log sequence of a partition store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ps, err := openStore(cmd, args[0], true)
		if err != nil {
			return err
		}
		defer closeStore(cmd, ps)

		seq, err := ps.LastAppliedSequence()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), seq)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(markerCmd)

	addPartitionFlag(markerCmd)
}
