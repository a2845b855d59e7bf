package banner

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"partitionstore/pkg/config"
)

const banner = `
 ██████╗ ███████╗████████╗ ██████╗ ██████╗ ███████╗
 ██╔══██╗██╔════╝╚══██╔══╝██╔═══██╗██╔══██╗██╔════╝
 ██████╔╝███████╗   ██║   ██║   ██║██████╔╝█████╗
 ██╔═══╝ ╚════██║   ██║   ██║   ██║██╔══██╗██╔══╝
 ██║     ███████║   ██║   ╚██████╔╝██║  ██║███████╗
 ╚═╝     ╚══════╝   ╚═╝    ╚═════╝ ╚═╝  ╚═╝╚══════╝
`

// PrintWithEff prints the banner and the effective configuration that
// serve is about to run with.
func PrintWithEff(w io.Writer, eff config.EffectiveConfigResult, version string) {
	src := eff.Source
	if src == "" {
		src = "defaults"
	}

	fmt.Fprint(w, banner)
	fmt.Fprintln(w, "== Config =====================================================")
	fmt.Fprintf(w, "Root:        %s\n", eff.Root)
	if version != "" {
		fmt.Fprintf(w, "Version:     %s\n", version)
	}
	fmt.Fprintf(w, "Config:      %s\n", src)
	if eff.Config == nil {
		return
	}
	cfg := eff.Config
	ids := make([]string, 0, len(cfg.Store.Partitions))
	for _, id := range cfg.Store.Partitions {
		ids = append(ids, fmt.Sprint(id))
	}
	fmt.Fprintf(w, "Partitions:  %s\n", strings.Join(ids, ","))
	opts := cfg.Store.Options().WithDefaults()
	fmt.Fprintf(w, "Cache:       %s per partition\n", humanize.IBytes(uint64(opts.CacheSize)))
	if cfg.Metrics.IsEnabled() {
		fmt.Fprintf(w, "Metrics:     %s\n", cfg.Metrics.Address)
	}

	fmt.Fprintln(w, "\n== Production? =================================================")
	if opts.DisableWAL {
		fmt.Fprintln(w, "- WAL: DISABLED (acknowledged commits can be lost)")
	} else {
		fmt.Fprintln(w, "- WAL: OK (synced commits)")
	}
	if cfg.Pruner.Enabled {
		mode := "active"
		if cfg.Pruner.DryRun {
			mode = "dry run"
		}
		fmt.Fprintf(w, "- Journal pruner: %s (%s)\n", mode, cfg.Pruner.Cron)
	} else {
		fmt.Fprintln(w, "- Journal pruner: off (journals of finished invocations are kept)")
	}
	if cfg.Logging.AuditDir != "" {
		fmt.Fprintf(w, "- Audit log: %s\n", cfg.Logging.AuditDir)
	}
	fmt.Fprintln(w, "===============================================================")
}
