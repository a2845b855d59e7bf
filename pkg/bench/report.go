package bench

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-yaml"
)

// WriteText prints a human readable report.
func (r Result) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "partition %d: %s batches, %s mutations, %s in %s (%.0f batches/s)\n",
		r.Partition,
		humanize.Comma(int64(r.Batches)),
		humanize.Comma(r.Mutations),
		humanize.IBytes(uint64(r.Bytes)),
		r.Elapsed.Round(time.Millisecond),
		r.BatchesPerSecond(),
	)
	fmt.Fprintf(w, "applied sequence: %d\n", r.FinalSequence)
	fmt.Fprintf(w, "scans: %s reading %s entries\n\n", humanize.Comma(r.Scans), humanize.Comma(r.ScannedEntries))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "op\tcount\tmean\tp50\tp90\tp99\tmax")
	for _, row := range []struct {
		name string
		l    Latency
	}{{"commit", r.Commit}, {"scan", r.Scan}} {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			row.name, humanize.Comma(row.l.Count), row.l.Mean, row.l.P50, row.l.P90, row.l.P99, row.l.Max)
	}
	return tw.Flush()
}

// WriteYAML prints the report as yaml.
func (r Result) WriteYAML(w io.Writer) error {
	b, err := yaml.Marshal(r)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
