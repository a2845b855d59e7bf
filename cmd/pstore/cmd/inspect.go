package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"partitionstore/pkg/store/keys"
	"partitionstore/pkg/store/tables"
)

// inspectCmd lists the decoded keys of a store
var inspectCmd = &cobra.Command{
	Use:   "inspect <path>",
	Short: "List the decoded keys of a partition store",
	Long: `Open the store read-only and print every key of the partition in key
order, optionally restricted to one domain (status, inbox, outbox, timer,
journal, dedup, state, meta).`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	addPartitionFlag(inspectCmd)
	inspectCmd.Flags().StringP("domain", "d", "", "only list keys of this domain")
	inspectCmd.Flags().IntP("limit", "n", 100, "maximum number of keys to print (0 for all)")
}

func runInspect(cmd *cobra.Command, args []string) error {
	domain, _ := cmd.Flags().GetString("domain")
	limit, _ := cmd.Flags().GetInt("limit")
	if limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}

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

	opts := tables.ScanOptions{Limit: limit}
	var sc *tables.Scanner[keys.Key]
	if domain == "" {
		sc = tables.ScanPartition(snap, opts)
	} else {
		d, err := keys.ParseDomain(domain)
		if err != nil {
			return err
		}
		sc = tables.ScanDomain(snap, d, opts)
	}
	defer sc.Close()

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DOMAIN\tKEY\tVALUE")
	n := 0
	for sc.Next() {
		k := sc.Key()
		fmt.Fprintf(tw, "%s\t%s\t%s\n", k.Domain(), describeKey(k), humanize.IBytes(uint64(len(sc.Value()))))
		n++
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if limit > 0 && n == limit {
		fmt.Fprintf(cmd.OutOrStdout(), "(stopped at --limit %d, resume after %x)\n", limit, sc.Cursor())
	}
	return nil
}
