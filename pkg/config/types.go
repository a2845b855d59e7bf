package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
	Pruner  PrunerConfig  `yaml:"pruner"`
	Sensor  SensorConfig  `yaml:"sensor"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// StoreConfig holds the partition layout and engine tuning shared by every
// partition store of the process.
type StoreConfig struct {
	Root       string   `yaml:"root"`
	Partitions []uint64 `yaml:"partitions"`

	CacheSize                   SizeBytes `yaml:"cache_size"`
	MemTableSize                SizeBytes `yaml:"memtable_size"`
	MemTableStopWritesThreshold int       `yaml:"memtable_stop_writes_threshold"`
	L0CompactionThreshold       int       `yaml:"l0_compaction_threshold"`
	L0StopWritesThreshold       int       `yaml:"l0_stop_writes_threshold"`
	LBaseMaxBytes               SizeBytes `yaml:"lbase_max_bytes"`
	MaxConcurrentCompactions    int       `yaml:"max_concurrent_compactions"`
	MaxOpenFiles                int       `yaml:"max_open_files"`
	BytesPerSync                SizeBytes `yaml:"bytes_per_sync"`
	// DisableWAL is only honoured together with AllowUnsafeNoWAL.
	DisableWAL       bool `yaml:"disable_wal"`
	AllowUnsafeNoWAL bool `yaml:"allow_unsafe_no_wal"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// Sink is stdout, stderr or file:<path>.
	Sink     string `yaml:"sink"`
	AuditDir string `yaml:"audit_dir"`
}

// PrunerConfig controls the scheduled journal pruner.
type PrunerConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Cron        string   `yaml:"cron"`
	GracePeriod Duration `yaml:"grace_period"`
	BatchSize   int      `yaml:"batch_size"`
	DryRun      bool     `yaml:"dry_run"`
	Paused      bool     `yaml:"paused"`
	// LockTTL is the lease TTL a run holds while pruning.
	LockTTL Duration `yaml:"lock_ttl"`
}

// SensorConfig holds sensor related tuning knobs.
type SensorConfig struct {
	Monitor struct {
		PollInterval       Duration  `yaml:"poll_interval"`
		DiskHighPct        int       `yaml:"disk_high_pct"`
		DiskLowPct         int       `yaml:"disk_low_pct"`
		MemHighPct         int       `yaml:"mem_high_pct"`
		CompactionDebtHigh SizeBytes `yaml:"compaction_debt_high"`
		RecoveryWindow     Duration  `yaml:"recovery_window"`
	} `yaml:"monitor"`
}

// MetricsConfig controls the metrics and health endpoint.
type MetricsConfig struct {
	// Enabled defaults to true when unset.
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
}

func (m MetricsConfig) IsEnabled() bool { return m.Enabled == nil || *m.Enabled }

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	v, err := parseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SizeBytes) MarshalYAML() (interface{}, error) {
	if s < 0 {
		return int64(s), nil
	}
	return humanize.IBytes(uint64(s)), nil
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func (s SizeBytes) String() string {
	if s < 0 {
		return strconv.FormatInt(int64(s), 10)
	}
	return humanize.IBytes(uint64(s))
}

func parseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) { return time.Duration(d).String(), nil }

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func parseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}
