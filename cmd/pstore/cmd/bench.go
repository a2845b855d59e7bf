package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"partitionstore/pkg/bench"
	"partitionstore/pkg/logger"
	"partitionstore/pkg/shutdown"
	"partitionstore/pkg/store"
)

// benchCmd represents the bench command
var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark commits and scans against a local partition store",
	Long: `Commit synthetic state machine batches (status, inbox, journal, timer and
state entries plus the applied sequence) while concurrent scanners read
snapshots, then report commit and scan latency percentiles.

Without --dir the store lives in a temporary directory that is removed
afterwards.`,
	Args: cobra.NoArgs,
	RunE: runBench,
}

var (
	benchDir         string
	benchPartition   uint64
	benchBatches     int
	benchInvocations int
	benchJournal     int
	benchValueSize   int
	benchRate        int
	benchScanners    int
	benchScanLimit   int
	benchFormat      string
	benchNoWAL       bool
)

func init() {
	rootCmd.AddCommand(benchCmd)

	benchCmd.Flags().StringVar(&benchDir, "dir", "", "store directory (default: temporary)")
	benchCmd.Flags().Uint64Var(&benchPartition, "partition", 0, "partition id of the benchmark store")
	benchCmd.Flags().IntVar(&benchBatches, "batches", bench.DefaultBatches, "number of batches to commit")
	benchCmd.Flags().IntVar(&benchInvocations, "invocations", bench.DefaultInvocationsPerBatch, "invocations touched per batch")
	benchCmd.Flags().IntVar(&benchJournal, "journal-entries", bench.DefaultJournalEntries, "journal entries per invocation")
	benchCmd.Flags().IntVar(&benchValueSize, "value-size", bench.DefaultValueSize, "value size in bytes")
	benchCmd.Flags().IntVar(&benchRate, "rate", 0, "batches per second (0 for unlimited)")
	benchCmd.Flags().IntVar(&benchScanners, "scanners", bench.DefaultScanners, "concurrent snapshot scanners")
	benchCmd.Flags().IntVar(&benchScanLimit, "scan-limit", bench.DefaultScanLimit, "entries read per scan")
	benchCmd.Flags().StringVar(&benchFormat, "format", "text", "output format: text or yaml")
	benchCmd.Flags().BoolVar(&benchNoWAL, "no-wal", false, "disable the write ahead log (unsafe, measures the engine only)")
}

func runBench(cmd *cobra.Command, _ []string) error {
	if benchFormat != "text" && benchFormat != "yaml" {
		return fmt.Errorf("unknown format %q", benchFormat)
	}
	lv, _ := cmd.Flags().GetString("log-level")
	if lv == "" {
		lv = "warn"
	}
	logger.Init(lv, "stderr")
	defer logger.Sync()

	ctx, cancel := shutdown.SetupSignalHandler(cmd.Context())
	defer cancel()

	res, err := bench.Run(ctx, bench.Config{
		Dir:                 benchDir,
		Partition:           benchPartition,
		Options:             store.Options{DisableWAL: benchNoWAL, AllowUnsafeNoWAL: benchNoWAL},
		Batches:             benchBatches,
		InvocationsPerBatch: benchInvocations,
		JournalEntries:      benchJournal,
		ValueSize:           benchValueSize,
		Rate:                benchRate,
		Scanners:            benchScanners,
		ScanLimit:           benchScanLimit,
	})
	if err != nil {
		return err
	}
	if benchFormat == "yaml" {
		return res.WriteYAML(cmd.OutOrStdout())
	}
	return res.WriteText(cmd.OutOrStdout())
}
