package config

import (
	"fmt"
	"strings"

	"github.com/adhocore/gronx"
)

// set defaults, fail fast on critical errors
func ValidateConfig(eff *EffectiveConfigResult) error {
	cfg := eff.Config
	if cfg == nil {
		return fmt.Errorf("effective config is nil")
	}
	cfg.applyDefaults()
	eff.Root = cfg.Store.Root

	if strings.TrimSpace(cfg.Store.Root) == "" {
		return fmt.Errorf("store root is empty: set --root flag, PSTORE_STORE_ROOT env, or store.root in config")
	}
	if len(cfg.Store.Partitions) == 0 {
		return fmt.Errorf("no partitions configured: set store.partitions or PSTORE_STORE_PARTITIONS")
	}
	if err := cfg.Store.Options().WithDefaults().Validate(); err != nil {
		return err
	}

	switch sink := cfg.Logging.Sink; {
	case sink == "stdout", sink == "stderr":
	case strings.HasPrefix(sink, "file:") && len(sink) > len("file:"):
	default:
		return fmt.Errorf("invalid logging.sink %q: want stdout, stderr or file:<path>", sink)
	}

	p := cfg.Pruner
	if !gronx.IsValid(p.Cron) {
		return fmt.Errorf("invalid pruner cron expression: %s", p.Cron)
	}
	if p.GracePeriod.Duration() < 0 {
		return fmt.Errorf("pruner.grace_period must not be negative")
	}
	if p.BatchSize < 1 || p.BatchSize > maxPrunerBatchSize {
		return fmt.Errorf("pruner.batch_size must be within [1, %d], got %d", maxPrunerBatchSize, p.BatchSize)
	}
	if p.LockTTL.Duration() <= 0 {
		return fmt.Errorf("pruner.lock_ttl must be positive")
	}

	m := cfg.Sensor.Monitor
	for name, pct := range map[string]int{
		"disk_high_pct": m.DiskHighPct,
		"disk_low_pct":  m.DiskLowPct,
		"mem_high_pct":  m.MemHighPct,
	} {
		if pct < 1 || pct > 100 {
			return fmt.Errorf("sensor.monitor.%s must be within [1, 100], got %d", name, pct)
		}
	}
	if m.DiskLowPct >= m.DiskHighPct {
		return fmt.Errorf("sensor.monitor.disk_low_pct (%d) must be below disk_high_pct (%d)", m.DiskLowPct, m.DiskHighPct)
	}
	if m.PollInterval.Duration() <= 0 || m.RecoveryWindow.Duration() <= 0 {
		return fmt.Errorf("sensor.monitor intervals must be positive")
	}
	if m.CompactionDebtHigh <= 0 {
		return fmt.Errorf("sensor.monitor.compaction_debt_high must be positive")
	}

	if cfg.Metrics.IsEnabled() && strings.TrimSpace(cfg.Metrics.Address) == "" {
		return fmt.Errorf("metrics enabled without an address")
	}
	return nil
}
