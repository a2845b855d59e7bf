package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
)

// holds parsed command-line flag values and which were set
type Flags struct {
	Config string
	Root   string
	Set    map[string]bool
}

// holds the results of applying environment overrides
type EnvResult struct {
	Keys    []string
	EnvUsed bool
}

// holds the result of LoadEffectiveConfig
type EffectiveConfigResult struct {
	Config *Config
	Root   string
	Source string // "defaults" or any of "config", "env", "flags" joined by "+"
}

// loads config from file, returns config, found bool, and error
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := LoadConfigFile(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// ParseConfigEnvs overlays PSTORE_* environment variables onto cfg and
// reports which were applied. Unparseable values are ignored.
func ParseConfigEnvs(cfg *Config) EnvResult {
	envs := map[string]string{
		"STORE_ROOT":                       os.Getenv("PSTORE_STORE_ROOT"),
		"STORE_PARTITIONS":                 os.Getenv("PSTORE_STORE_PARTITIONS"),
		"STORE_CACHE_SIZE":                 os.Getenv("PSTORE_STORE_CACHE_SIZE"),
		"STORE_MEMTABLE_SIZE":              os.Getenv("PSTORE_STORE_MEMTABLE_SIZE"),
		"STORE_L0_COMPACTION_THRESHOLD":    os.Getenv("PSTORE_STORE_L0_COMPACTION_THRESHOLD"),
		"STORE_L0_STOP_WRITES_THRESHOLD":   os.Getenv("PSTORE_STORE_L0_STOP_WRITES_THRESHOLD"),
		"STORE_LBASE_MAX_BYTES":            os.Getenv("PSTORE_STORE_LBASE_MAX_BYTES"),
		"STORE_MAX_CONCURRENT_COMPACTIONS": os.Getenv("PSTORE_STORE_MAX_CONCURRENT_COMPACTIONS"),
		"STORE_MAX_OPEN_FILES":             os.Getenv("PSTORE_STORE_MAX_OPEN_FILES"),
		"STORE_BYTES_PER_SYNC":             os.Getenv("PSTORE_STORE_BYTES_PER_SYNC"),
		"STORE_DISABLE_WAL":                os.Getenv("PSTORE_STORE_DISABLE_WAL"),

		// logging
		"LOG_LEVEL":     os.Getenv("PSTORE_LOG_LEVEL"),
		"LOG_SINK":      os.Getenv("PSTORE_LOG_SINK"),
		"LOG_AUDIT_DIR": os.Getenv("PSTORE_LOG_AUDIT_DIR"),

		// pruner
		"PRUNER_ENABLED":      os.Getenv("PSTORE_PRUNER_ENABLED"),
		"PRUNER_CRON":         os.Getenv("PSTORE_PRUNER_CRON"),
		"PRUNER_GRACE_PERIOD": os.Getenv("PSTORE_PRUNER_GRACE_PERIOD"),
		"PRUNER_BATCH_SIZE":   os.Getenv("PSTORE_PRUNER_BATCH_SIZE"),
		"PRUNER_DRY_RUN":      os.Getenv("PSTORE_PRUNER_DRY_RUN"),
		"PRUNER_LOCK_TTL":     os.Getenv("PSTORE_PRUNER_LOCK_TTL"),

		// sensor.monitor
		"SENSOR_MONITOR_POLL_INTERVAL":        os.Getenv("PSTORE_SENSOR_MONITOR_POLL_INTERVAL"),
		"SENSOR_MONITOR_DISK_HIGH_PCT":        os.Getenv("PSTORE_SENSOR_MONITOR_DISK_HIGH_PCT"),
		"SENSOR_MONITOR_DISK_LOW_PCT":         os.Getenv("PSTORE_SENSOR_MONITOR_DISK_LOW_PCT"),
		"SENSOR_MONITOR_MEM_HIGH_PCT":         os.Getenv("PSTORE_SENSOR_MONITOR_MEM_HIGH_PCT"),
		"SENSOR_MONITOR_COMPACTION_DEBT_HIGH": os.Getenv("PSTORE_SENSOR_MONITOR_COMPACTION_DEBT_HIGH"),
		"SENSOR_MONITOR_RECOVERY_WINDOW":      os.Getenv("PSTORE_SENSOR_MONITOR_RECOVERY_WINDOW"),

		// metrics
		"METRICS_ENABLED": os.Getenv("PSTORE_METRICS_ENABLED"),
		"METRICS_ADDRESS": os.Getenv("PSTORE_METRICS_ADDRESS"),
	}

	var res EnvResult
	for k, v := range envs {
		if v != "" {
			res.Keys = append(res.Keys, "PSTORE_"+k)
		}
	}
	slices.Sort(res.Keys)
	res.EnvUsed = len(res.Keys) > 0
	if !res.EnvUsed {
		return res
	}

	// parse helpers
	parseList := func(v string) []string {
		if v == "" {
			return nil
		}
		parts := []string{}
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		return lo.Uniq(parts)
	}

	parseBool := func(v string, def bool) bool {
		if v == "" {
			return def
		}
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes":
			return true
		default:
			return false
		}
	}

	parseInt64 := func(v string, def int64) int64 {
		if v == "" {
			return def
		}
		if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return i
		}
		return def
	}

	parseSizeBytes := func(v string, def SizeBytes) SizeBytes {
		if strings.TrimSpace(v) == "" {
			return def
		}
		if u, err := humanize.ParseBytes(v); err == nil {
			return SizeBytes(u)
		}
		if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return SizeBytes(i)
		}
		return def
	}

	parseDuration := func(v string, def Duration) Duration {
		if strings.TrimSpace(v) == "" {
			return def
		}
		if td, err := time.ParseDuration(v); err == nil {
			return Duration(td)
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return Duration(time.Duration(f * float64(time.Second)))
		}
		return def
	}

	// store
	s := &cfg.Store
	if v := envs["STORE_ROOT"]; v != "" {
		s.Root = v
	}
	if v := envs["STORE_PARTITIONS"]; v != "" {
		ids := lo.FilterMap(parseList(v), func(p string, _ int) (uint64, bool) {
			id, err := strconv.ParseUint(p, 10, 64)
			return id, err == nil
		})
		s.Partitions = lo.Uniq(ids)
	}
	s.CacheSize = parseSizeBytes(envs["STORE_CACHE_SIZE"], s.CacheSize)
	s.MemTableSize = parseSizeBytes(envs["STORE_MEMTABLE_SIZE"], s.MemTableSize)
	s.L0CompactionThreshold = int(parseInt64(envs["STORE_L0_COMPACTION_THRESHOLD"], int64(s.L0CompactionThreshold)))
	s.L0StopWritesThreshold = int(parseInt64(envs["STORE_L0_STOP_WRITES_THRESHOLD"], int64(s.L0StopWritesThreshold)))
	s.LBaseMaxBytes = parseSizeBytes(envs["STORE_LBASE_MAX_BYTES"], s.LBaseMaxBytes)
	s.MaxConcurrentCompactions = int(parseInt64(envs["STORE_MAX_CONCURRENT_COMPACTIONS"], int64(s.MaxConcurrentCompactions)))
	s.MaxOpenFiles = int(parseInt64(envs["STORE_MAX_OPEN_FILES"], int64(s.MaxOpenFiles)))
	s.BytesPerSync = parseSizeBytes(envs["STORE_BYTES_PER_SYNC"], s.BytesPerSync)
	s.DisableWAL = parseBool(envs["STORE_DISABLE_WAL"], s.DisableWAL)

	// logging
	if v := envs["LOG_LEVEL"]; v != "" {
		cfg.Logging.Level = v
	}
	if v := envs["LOG_SINK"]; v != "" {
		cfg.Logging.Sink = v
	}
	if v := envs["LOG_AUDIT_DIR"]; v != "" {
		cfg.Logging.AuditDir = v
	}

	// pruner
	p := &cfg.Pruner
	p.Enabled = parseBool(envs["PRUNER_ENABLED"], p.Enabled)
	if v := envs["PRUNER_CRON"]; v != "" {
		p.Cron = strings.TrimSpace(v)
	}
	p.GracePeriod = parseDuration(envs["PRUNER_GRACE_PERIOD"], p.GracePeriod)
	p.BatchSize = int(parseInt64(envs["PRUNER_BATCH_SIZE"], int64(p.BatchSize)))
	p.DryRun = parseBool(envs["PRUNER_DRY_RUN"], p.DryRun)
	p.LockTTL = parseDuration(envs["PRUNER_LOCK_TTL"], p.LockTTL)

	// sensor.monitor
	m := &cfg.Sensor.Monitor
	m.PollInterval = parseDuration(envs["SENSOR_MONITOR_POLL_INTERVAL"], m.PollInterval)
	m.DiskHighPct = int(parseInt64(envs["SENSOR_MONITOR_DISK_HIGH_PCT"], int64(m.DiskHighPct)))
	m.DiskLowPct = int(parseInt64(envs["SENSOR_MONITOR_DISK_LOW_PCT"], int64(m.DiskLowPct)))
	m.MemHighPct = int(parseInt64(envs["SENSOR_MONITOR_MEM_HIGH_PCT"], int64(m.MemHighPct)))
	m.CompactionDebtHigh = parseSizeBytes(envs["SENSOR_MONITOR_COMPACTION_DEBT_HIGH"], m.CompactionDebtHigh)
	m.RecoveryWindow = parseDuration(envs["SENSOR_MONITOR_RECOVERY_WINDOW"], m.RecoveryWindow)

	// metrics
	if v := envs["METRICS_ENABLED"]; v != "" {
		enabled := parseBool(v, true)
		cfg.Metrics.Enabled = &enabled
	}
	if v := envs["METRICS_ADDRESS"]; v != "" {
		cfg.Metrics.Address = v
	}
	return res
}

// LoadEffectiveConfig merges the config sources, flags over env over file
// over defaults. Defaults themselves are filled by ValidateConfig.
func LoadEffectiveConfig(flags Flags, fileCfg *Config, fileExists bool) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult
	if flags.Set["config"] && !fileExists {
		return res, fmt.Errorf("config file %s not found", flags.Config)
	}

	cfg := &Config{}
	var sources []string
	if fileExists && fileCfg != nil {
		*cfg = *fileCfg
		cfg.Store.Partitions = slices.Clone(fileCfg.Store.Partitions)
		sources = append(sources, "config")
	}
	if envRes := ParseConfigEnvs(cfg); envRes.EnvUsed {
		sources = append(sources, "env")
	}
	if flags.Set["root"] {
		cfg.Store.Root = flags.Root
		sources = append(sources, "flags")
	}
	if len(sources) == 0 {
		sources = append(sources, "defaults")
	}

	res.Config = cfg
	res.Root = cfg.Store.Root
	res.Source = strings.Join(sources, "+")
	return res, nil
}
