package app

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/raulk/clock"
	"github.com/valyala/fasthttp"

	"partitionstore/internal/pruner"
	"partitionstore/pkg/config"
	"partitionstore/pkg/config/banner"
	"partitionstore/pkg/logger"
	"partitionstore/pkg/partition"
	"partitionstore/pkg/sensor"
	"partitionstore/pkg/store"
)

// App groups the long running components of `pstore serve`.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string
	clock     clock.Clock

	registry *prometheus.Registry
	mgr      *partition.Manager

	hwSensor   *sensor.Sensor
	pruner     *pruner.Pruner
	prunerStop func()

	srvFast *fasthttp.Server
	ln      net.Listener
	addr    atomic.Value // string
	state   atomic.Value // string
}

// New sets up what does not need a running context: metrics registry and
// the partition registry. Partitions are opened by Run.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	if eff.Config == nil {
		return nil, fmt.Errorf("effective config is nil")
	}
	cfg := eff.Config

	reg := prometheus.NewRegistry()
	if err := store.RegisterMetrics(reg); err != nil {
		return nil, fmt.Errorf("register store metrics: %w", err)
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go metrics: %w", err)
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("register process metrics: %w", err)
	}

	if err := os.MkdirAll(eff.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root %s: %w", eff.Root, err)
	}

	opts := cfg.Store.Options()
	if opts.DisableWAL {
		full := opts.WithDefaults()
		logger.LogConfigSummary("config_durability_summary", []string{
			"wal: disabled",
			fmt.Sprintf("memtable_size: %s", humanize.IBytes(uint64(full.MemTableSize))),
			fmt.Sprintf("commits_at_risk: up to %d memtables per partition", full.MemTableStopWritesThreshold),
		})
	}

	a := &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		clock:     clock.New(),
		registry:  reg,
		mgr:       partition.NewManager(eff.Root, opts),
	}
	a.state.Store("initialized")
	return a, nil
}

// Manager exposes the partition registry.
func (a *App) Manager() *partition.Manager { return a.mgr }

// State reports the lifecycle phase of the app.
func (a *App) State() string { return a.state.Load().(string) }

// Addr returns the bound metrics address once Run has started serving.
func (a *App) Addr() string {
	addr, _ := a.addr.Load().(string)
	return addr
}

// Run opens the configured partitions, starts the sensor, the pruner and
// the metrics server, then blocks until ctx is done or the server fails.
func (a *App) Run(ctx context.Context) error {
	cfg := a.eff.Config
	a.state.Store("starting")
	a.printBanner()

	if err := a.mgr.OpenAll(ctx, cfg.Store.Partitions); err != nil {
		a.state.Store("failed")
		return fmt.Errorf("open partitions: %w", err)
	}

	mon := cfg.Sensor.Monitor
	a.hwSensor = sensor.NewSensor(sensor.MonitorConfig{
		Path:               a.eff.Root,
		PollInterval:       mon.PollInterval.Duration(),
		DiskHighPct:        mon.DiskHighPct,
		DiskLowPct:         mon.DiskLowPct,
		MemHighPct:         mon.MemHighPct,
		CompactionDebtHigh: uint64(mon.CompactionDebtHigh.Int64()),
		RecoveryWindow:     mon.RecoveryWindow.Duration(),
	}, a.mgr, a.clock)
	a.hwSensor.Start()

	if cfg.Pruner.Enabled {
		pc := cfg.Pruner
		a.pruner = pruner.New(pruner.Config{
			Cron:        pc.Cron,
			GracePeriod: pc.GracePeriod.Duration(),
			BatchSize:   pc.BatchSize,
			DryRun:      pc.DryRun,
			Paused:      pc.Paused,
			LockTTL:     pc.LockTTL.Duration(),
			LeaseDir:    a.eff.Root,
		}, a.mgr, a.clock)
		stop, err := a.pruner.Start(ctx)
		if err != nil {
			return err
		}
		a.prunerStop = stop
	} else {
		logger.Info("pruner_disabled")
	}

	var errCh <-chan error
	if cfg.Metrics.IsEnabled() {
		ch, err := a.startHTTP(cfg.Metrics.Address)
		if err != nil {
			return err
		}
		errCh = ch
	}

	a.state.Store("running")
	logger.Info("app_running", "partitions", a.mgr.IDs(), "metrics", a.Addr())
	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "" && a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	banner.PrintWithEff(os.Stdout, a.eff, verStr)
}
