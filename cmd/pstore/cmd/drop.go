package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// dropCmd deletes every key of a partition
var dropCmd = &cobra.Command{
	Use:   "drop <path>",
	Short: "Delete all state of a partition store",
	Long: `Delete every key of the partition, the applied sequence marker included,
in one atomic batch. The store reopens empty. Requires --yes.`,
	Args: cobra.ExactArgs(1),
	RunE: runDrop,
}

func init() {
	rootCmd.AddCommand(dropCmd)

	addPartitionFlag(dropCmd)
	dropCmd.Flags().Bool("yes", false, "confirm deleting the partition state")
	dropCmd.Flags().Bool("compact", false, "compact the emptied range afterwards")
}

func runDrop(cmd *cobra.Command, args []string) error {
	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		return fmt.Errorf("refusing to drop partition state without --yes")
	}
	ps, err := openStore(cmd, args[0], false)
	if err != nil {
		return err
	}
	defer closeStore(cmd, ps)

	before, err := ps.LastAppliedSequence()
	if err != nil {
		return err
	}
	if err := ps.DeletePartitionRange(); err != nil {
		return err
	}
	if compact, _ := cmd.Flags().GetBool("compact"); compact {
		if err := ps.Compact(); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "partition %d dropped (was at sequence %d)\n", ps.PartitionID(), before)
	return nil
}
