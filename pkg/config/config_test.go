package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"partitionstore/pkg/store"
)

const sampleConfig = `
store:
  root: /var/lib/pstore
  partitions: [0, 1, 2]
  cache_size: 128MB
  memtable_size: 16MiB
  l0_compaction_threshold: 8
  l0_stop_writes_threshold: 24
  bytes_per_sync: 1MB
logging: { level: debug, sink: stderr }
pruner: { enabled: true, cron: "0 * * * *", grace_period: 2h, batch_size: 64, dry_run: true }
sensor: { monitor: { poll_interval: 1s, compaction_debt_high: 2GiB } }
metrics: { enabled: false }
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigFile(t *testing.T) {
	cfg, err := LoadConfigFile(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/pstore", cfg.Store.Root)
	assert.Equal(t, []uint64{0, 1, 2}, cfg.Store.Partitions)
	assert.Equal(t, SizeBytes(128_000_000), cfg.Store.CacheSize)
	assert.Equal(t, SizeBytes(16<<20), cfg.Store.MemTableSize)
	assert.Equal(t, 2*time.Hour, cfg.Pruner.GracePeriod.Duration())
	assert.Equal(t, time.Second, cfg.Sensor.Monitor.PollInterval.Duration())
	assert.Equal(t, SizeBytes(2<<30), cfg.Sensor.Monitor.CompactionDebtHigh)
	assert.False(t, cfg.Metrics.IsEnabled())

	opts := cfg.Store.Options()
	assert.Equal(t, int64(16<<20), opts.MemTableSize)
	assert.Equal(t, 8, opts.L0CompactionThreshold)
	assert.Equal(t, 1_000_000, opts.BytesPerSync)
	assert.Zero(t, opts.MaxOpenFiles, "unset values are left for store defaults")
}

func TestLoadConfigFileRejectsBadSize(t *testing.T) {
	_, err := LoadConfigFile(writeConfig(t, "store:\n  cache_size: lots\n"))
	require.Error(t, err)
}

func TestSizeAndDurationParsing(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want SizeBytes
	}{
		{"", 0},
		{"4096", 4096},
		{"64MB", 64_000_000},
		{"64 MiB", 64 << 20},
		{"1GiB", 1 << 30},
	} {
		got, err := parseSize(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	for _, tc := range []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"250ms", 250 * time.Millisecond},
		{"1h30m", 90 * time.Minute},
		{"2.5", 2500 * time.Millisecond},
	} {
		got, err := parseDuration(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got.Duration(), tc.in)
	}

	_, err := parseDuration("soon")
	assert.Error(t, err)
}

func TestSizeBytesMarshalsHumanReadable(t *testing.T) {
	out, err := yaml.Marshal(struct {
		Size SizeBytes `yaml:"size"`
		Wait Duration  `yaml:"wait"`
	}{SizeBytes(64 << 20), Duration(90 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, "size: 64 MiB\nwait: 1m30s\n", string(out))

	var back struct {
		Size SizeBytes `yaml:"size"`
	}
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, SizeBytes(64<<20), back.Size)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("PSTORE_STORE_PARTITIONS", "4, 5,4,x")
	t.Setenv("PSTORE_STORE_CACHE_SIZE", "8MiB")
	t.Setenv("PSTORE_PRUNER_DRY_RUN", "false")
	t.Setenv("PSTORE_METRICS_ENABLED", "yes")
	t.Setenv("PSTORE_SENSOR_MONITOR_DISK_HIGH_PCT", "not-a-number")

	fileCfg, err := LoadConfigFile(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	eff, err := LoadEffectiveConfig(Flags{Set: map[string]bool{}}, fileCfg, true)
	require.NoError(t, err)

	cfg := eff.Config
	assert.Equal(t, "config+env", eff.Source)
	assert.Equal(t, []uint64{4, 5}, cfg.Store.Partitions)
	assert.Equal(t, SizeBytes(8<<20), cfg.Store.CacheSize)
	assert.False(t, cfg.Pruner.DryRun)
	assert.True(t, cfg.Metrics.IsEnabled())
	assert.Zero(t, cfg.Sensor.Monitor.DiskHighPct, "unparseable env values are ignored")
	assert.Equal(t, "/var/lib/pstore", eff.Root)
	assert.Equal(t, []uint64{0, 1, 2}, fileCfg.Store.Partitions, "file config is not mutated")
}

func TestFlagsOverrideEverything(t *testing.T) {
	t.Setenv("PSTORE_STORE_ROOT", "/from/env")
	flags := Flags{Root: "/from/flags", Set: map[string]bool{"root": true}}
	eff, err := LoadEffectiveConfig(flags, &Config{}, false)
	require.NoError(t, err)
	assert.Equal(t, "/from/flags", eff.Root)
	assert.Equal(t, "env+flags", eff.Source)
}

func TestMissingExplicitConfigFile(t *testing.T) {
	flags := Flags{Config: filepath.Join(t.TempDir(), "nope.yaml"), Set: map[string]bool{"config": true}}
	fileCfg, found, err := ParseConfigFile(flags)
	require.NoError(t, err)
	assert.False(t, found)
	_, err = LoadEffectiveConfig(flags, fileCfg, found)
	assert.Error(t, err)
}

func TestResolveConfigPath(t *testing.T) {
	assert.Equal(t, defaultConfigPath, ResolveConfigPath("", false))
	t.Setenv("PSTORE_CONFIG", "/etc/pstore.yaml")
	assert.Equal(t, "/etc/pstore.yaml", ResolveConfigPath("./config.yaml", false))
	assert.Equal(t, "./mine.yaml", ResolveConfigPath("./mine.yaml", true))
}

func TestValidateConfigFillsDefaults(t *testing.T) {
	eff := &EffectiveConfigResult{Config: &Config{Store: StoreConfig{Partitions: []uint64{0}}}}
	require.NoError(t, ValidateConfig(eff))

	cfg := eff.Config
	assert.Equal(t, defaultRoot, eff.Root)
	assert.Equal(t, defaultPrunerCron, cfg.Pruner.Cron)
	assert.Equal(t, defaultPrunerBatchSize, cfg.Pruner.BatchSize)
	assert.Equal(t, defaultSensorDiskHighPct, cfg.Sensor.Monitor.DiskHighPct)
	assert.Equal(t, defaultMetricsAddr, cfg.Metrics.Address)
	assert.True(t, cfg.Metrics.IsEnabled())
	assert.NotEmpty(t, cfg.Summary())
}

func TestValidateConfigRejects(t *testing.T) {
	valid := func() *Config {
		return &Config{Store: StoreConfig{Root: "/data", Partitions: []uint64{1}}}
	}
	for _, tc := range []struct {
		name   string
		mutate func(*Config)
	}{
		{"no partitions", func(c *Config) { c.Store.Partitions = nil }},
		{"bad cron", func(c *Config) { c.Pruner.Cron = "every tuesday" }},
		{"negative batch", func(c *Config) { c.Pruner.BatchSize = -1 }},
		{"disk thresholds inverted", func(c *Config) { c.Sensor.Monitor.DiskLowPct = 90 }},
		{"pct out of range", func(c *Config) { c.Sensor.Monitor.MemHighPct = 120 }},
		{"bad sink", func(c *Config) { c.Logging.Sink = "syslog" }},
		{"wal disabled unsafely", func(c *Config) { c.Store.DisableWAL = true }},
		{"stop writes below compaction", func(c *Config) {
			c.Store.L0CompactionThreshold = 10
			c.Store.L0StopWritesThreshold = 5
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := ValidateConfig(&EffectiveConfigResult{Config: cfg})
			require.Error(t, err)
		})
	}

	t.Run("engine errors are invalid config", func(t *testing.T) {
		cfg := valid()
		cfg.Store.MaxOpenFiles = 3
		err := ValidateConfig(&EffectiveConfigResult{Config: cfg})
		assert.True(t, store.IsInvalidConfig(err), "got %v", err)
	})
}
