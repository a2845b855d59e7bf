package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"partitionstore/pkg/store"
)

// Defaults for the process level configuration. Engine defaults live in
// store.Options.WithDefaults.
const (
	defaultRoot        = "./data"
	defaultConfigPath  = "./config.yaml"
	defaultLogLevel    = "info"
	defaultLogSink     = "stdout"
	defaultMetricsAddr = ":9464"

	// pruner defaults
	defaultPrunerCron        = "*/10 * * * *"
	defaultPrunerGracePeriod = time.Hour
	defaultPrunerBatchSize   = 512
	defaultPrunerLockTTL     = 300 * time.Second
	maxPrunerBatchSize       = 1 << 16

	// sensor defaults
	defaultSensorPollInterval       = 5 * time.Second
	defaultSensorDiskHighPct        = 80
	defaultSensorDiskLowPct         = 60
	defaultSensorMemHighPct         = 90
	defaultSensorCompactionDebtHigh = 1 << 30
	defaultSensorRecoveryWindow     = 30 * time.Second
)

// LoadConfigFile reads and parses a config file.
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ResolveConfigPath returns the config file path, preferring flag, then env.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("PSTORE_CONFIG"); p != "" {
		return p
	}
	if flagPath == "" {
		return defaultConfigPath
	}
	return flagPath
}

// applyDefaults fills every zero valued field that has a documented default.
func (c *Config) applyDefaults() {
	if c.Store.Root == "" {
		c.Store.Root = defaultRoot
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Sink == "" {
		c.Logging.Sink = defaultLogSink
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = defaultMetricsAddr
	}

	p := &c.Pruner
	if p.Cron == "" {
		p.Cron = defaultPrunerCron
	}
	if p.GracePeriod.Duration() == 0 {
		p.GracePeriod = Duration(defaultPrunerGracePeriod)
	}
	if p.BatchSize == 0 {
		p.BatchSize = defaultPrunerBatchSize
	}
	if p.LockTTL.Duration() == 0 {
		p.LockTTL = Duration(defaultPrunerLockTTL)
	}

	m := &c.Sensor.Monitor
	if m.PollInterval.Duration() == 0 {
		m.PollInterval = Duration(defaultSensorPollInterval)
	}
	if m.DiskHighPct == 0 {
		m.DiskHighPct = defaultSensorDiskHighPct
	}
	if m.DiskLowPct == 0 {
		m.DiskLowPct = defaultSensorDiskLowPct
	}
	if m.MemHighPct == 0 {
		m.MemHighPct = defaultSensorMemHighPct
	}
	if m.CompactionDebtHigh == 0 {
		m.CompactionDebtHigh = SizeBytes(defaultSensorCompactionDebtHigh)
	}
	if m.RecoveryWindow.Duration() == 0 {
		m.RecoveryWindow = Duration(defaultSensorRecoveryWindow)
	}
}

// Options converts the engine tuning into store.Options. Zero values are
// left for store.Options.WithDefaults.
func (s *StoreConfig) Options() store.Options {
	return store.Options{
		CacheSize:                   s.CacheSize.Int64(),
		MemTableSize:                s.MemTableSize.Int64(),
		MemTableStopWritesThreshold: s.MemTableStopWritesThreshold,
		L0CompactionThreshold:       s.L0CompactionThreshold,
		L0StopWritesThreshold:       s.L0StopWritesThreshold,
		LBaseMaxBytes:               s.LBaseMaxBytes.Int64(),
		MaxConcurrentCompactions:    s.MaxConcurrentCompactions,
		MaxOpenFiles:                s.MaxOpenFiles,
		BytesPerSync:                int(s.BytesPerSync.Int64()),
		DisableWAL:                  s.DisableWAL,
		AllowUnsafeNoWAL:            s.AllowUnsafeNoWAL,
	}
}

// Summary renders the effective configuration for logger.LogConfigSummary.
func (c *Config) Summary() []string {
	opts := c.Store.Options().WithDefaults()
	items := []string{
		fmt.Sprintf("store.root=%s", c.Store.Root),
		fmt.Sprintf("store.partitions=%v", c.Store.Partitions),
		fmt.Sprintf("store.cache_size=%s", SizeBytes(opts.CacheSize)),
		fmt.Sprintf("store.memtable_size=%s", SizeBytes(opts.MemTableSize)),
		fmt.Sprintf("store.l0=%d/%d", opts.L0CompactionThreshold, opts.L0StopWritesThreshold),
		fmt.Sprintf("store.disable_wal=%t", opts.DisableWAL),
		fmt.Sprintf("logging.level=%s", c.Logging.Level),
		fmt.Sprintf("pruner.enabled=%t cron=%q grace=%s dry_run=%t", c.Pruner.Enabled, c.Pruner.Cron, c.Pruner.GracePeriod.Duration(), c.Pruner.DryRun),
		fmt.Sprintf("sensor.poll_interval=%s", c.Sensor.Monitor.PollInterval.Duration()),
	}
	if c.Metrics.IsEnabled() {
		items = append(items, "metrics.address="+c.Metrics.Address)
	} else {
		items = append(items, "metrics=disabled")
	}
	return items
}
