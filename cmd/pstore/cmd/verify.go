package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"partitionstore/pkg/store/keys"
	"partitionstore/pkg/store/tables"
)

// verifyCmd checks a store for corruption
var verifyCmd = &cobra.Command{
	Use:   "verify <path>",
	Short: "Decode every key and status of a partition store",
	Long: `Open the store read-only, which checks the partition descriptor and the
applied sequence marker, then decode every key of the partition and every
invocation status value. Exits non-zero on the first malformed entry.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	addPartitionFlag(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	ps, err := openStore(cmd, args[0], true)
	if err != nil {
		return err
	}
	defer closeStore(cmd, ps)

	snap, err := ps.NewSnapshot()
	if err != nil {
		return err
	}
	defer snap.Close()

	counts := make(map[keys.Domain]int)
	var bytes uint64
	sc := tables.ScanPartition(snap, tables.ScanOptions{})
	defer sc.Close()
	for sc.Next() {
		k := sc.Key()
		counts[k.Domain()]++
		bytes += uint64(len(sc.Value()))
		if k.Domain() == keys.DomainStatus {
			if _, err := tables.DecodeStatus(sc.Value()); err != nil {
				return fmt.Errorf("status %s: %w", describeKey(k), err)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("partition %d is corrupt: %w", ps.PartitionID(), err)
	}

	seq, err := ps.LastAppliedSequence()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "partition %d OK\n", ps.PartitionID())
	fmt.Fprintf(out, "applied sequence: %d\n", seq)
	fmt.Fprintf(out, "values: %s\n", humanize.IBytes(bytes))
	for _, d := range keys.Domains() {
		fmt.Fprintf(out, "  %-8s %s\n", d, humanize.Comma(int64(counts[d])))
	}
	return nil
}
