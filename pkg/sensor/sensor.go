package sensor

import (
	"slices"
	"sync"
	"time"

	"github.com/raulk/clock"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"partitionstore/pkg/logger"
	"partitionstore/pkg/store"
)

// Stores is the set of partition stores the sensor samples.
// partition.Manager satisfies it.
type Stores interface {
	Range(fn func(id uint64, ps *store.PartitionStore) bool)
}

// MonitorConfig holds the thresholds of the sensor.
type MonitorConfig struct {
	// Path is the filesystem whose usage is sampled, usually the store root.
	Path               string
	PollInterval       time.Duration
	DiskHighPct        int
	DiskLowPct         int
	MemHighPct         int
	CompactionDebtHigh uint64
	RecoveryWindow     time.Duration
}

// Status is a point in time view of the raised alerts.
type Status struct {
	DiskAlert     bool     `json:"disk_alert"`
	MemAlert      bool     `json:"mem_alert"`
	DiskUsedPct   float64  `json:"disk_used_pct"`
	MemUsedPct    float64  `json:"mem_used_pct"`
	DebtAlerts    []uint64 `json:"compaction_debt_alerts,omitempty"`
	LastSampledAt string   `json:"last_sampled_at,omitempty"`
}

// alarm raises immediately and clears only after the sampled value stayed
// below the low watermark for the whole recovery window.
type alarm struct {
	active     bool
	clearSince time.Time
}

// update returns +1 when the alarm was raised, -1 when it cleared.
func (a *alarm) update(now time.Time, high, low bool, window time.Duration) int {
	switch {
	case high:
		a.clearSince = time.Time{}
		if !a.active {
			a.active = true
			return 1
		}
	case a.active && low:
		if a.clearSince.IsZero() {
			a.clearSince = now
		}
		if now.Sub(a.clearSince) >= window {
			a.active = false
			a.clearSince = time.Time{}
			return -1
		}
	case a.active:
		a.clearSince = time.Time{}
	}
	return 0
}

// Sensor samples disk, memory and the compaction debt of every store and
// logs an alert when a threshold is crossed.
type Sensor struct {
	config MonitorConfig
	stores Stores
	clock  clock.Clock

	diskUsage func(path string) (float64, error)
	memUsage  func() (float64, error)

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu      sync.Mutex
	disk    alarm
	memory  alarm
	debt    map[uint64]*alarm
	diskPct float64
	memPct  float64
	sampled time.Time
}

// NewSensor builds a sensor over stores; a nil clock uses the wall clock.
func NewSensor(config MonitorConfig, stores Stores, clk clock.Clock) *Sensor {
	if clk == nil {
		clk = clock.New()
	}
	if config.Path == "" {
		config.Path = "/"
	}
	return &Sensor{
		config:    config,
		stores:    stores,
		clock:     clk,
		diskUsage: diskUsedPct,
		memUsage:  memUsedPct,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		debt:      make(map[uint64]*alarm),
	}
}

func diskUsedPct(path string) (float64, error) {
	u, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return u.UsedPercent, nil
}

func memUsedPct() (float64, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return v.UsedPercent, nil
}

// Start launches the polling loop.
func (s *Sensor) Start() {
	go s.run()
}

// Stop ends the polling loop and waits for it to exit.
func (s *Sensor) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.done
}

func (s *Sensor) run() {
	defer close(s.done)
	ticker := s.clock.Ticker(s.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.check()
		case <-s.stopCh:
			return
		}
	}
}

// check takes one sample of every probe.
func (s *Sensor) check() {
	now := s.clock.Now()
	cfg := s.config

	diskPct, diskErr := s.diskUsage(cfg.Path)
	memPct, memErr := s.memUsage()
	if diskErr != nil {
		logger.Warn("sensor_disk_probe_failed", "path", cfg.Path, "error", diskErr)
	}
	if memErr != nil {
		logger.Warn("sensor_mem_probe_failed", "error", memErr)
	}

	type sample struct {
		id   uint64
		debt uint64
	}
	var samples []sample
	if s.stores != nil {
		s.stores.Range(func(id uint64, ps *store.PartitionStore) bool {
			stats, err := ps.EngineMetrics()
			if err != nil {
				logger.Debug("sensor_engine_metrics_skipped", "partition", id, "error", err)
				return true
			}
			samples = append(samples, sample{id: id, debt: stats.CompactionDebt})
			return true
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sampled = now

	if diskErr == nil {
		s.diskPct = diskPct
		switch s.disk.update(now, diskPct > float64(cfg.DiskHighPct), diskPct < float64(cfg.DiskLowPct), cfg.RecoveryWindow) {
		case 1:
			logger.Warn("disk_usage_high", "used_pct", diskPct, "threshold_pct", cfg.DiskHighPct, "path", cfg.Path)
		case -1:
			logger.Info("disk_usage_recovered", "used_pct", diskPct, "low_pct", cfg.DiskLowPct, "window", cfg.RecoveryWindow)
		}
	}
	if memErr == nil {
		s.memPct = memPct
		high := memPct > float64(cfg.MemHighPct)
		switch s.memory.update(now, high, !high, cfg.RecoveryWindow) {
		case 1:
			logger.Warn("memory_usage_high", "used_pct", memPct, "threshold_pct", cfg.MemHighPct)
		case -1:
			logger.Info("memory_usage_recovered", "used_pct", memPct, "window", cfg.RecoveryWindow)
		}
	}

	seen := make(map[uint64]bool, len(samples))
	for _, sm := range samples {
		seen[sm.id] = true
		a, ok := s.debt[sm.id]
		if !ok {
			a = &alarm{}
			s.debt[sm.id] = a
		}
		high := sm.debt > cfg.CompactionDebtHigh
		switch a.update(now, high, sm.debt <= cfg.CompactionDebtHigh/2, cfg.RecoveryWindow) {
		case 1:
			logger.Warn("compaction_debt_high", "partition", sm.id, "debt_bytes", sm.debt, "threshold_bytes", cfg.CompactionDebtHigh)
		case -1:
			logger.Info("compaction_debt_recovered", "partition", sm.id, "debt_bytes", sm.debt)
		}
	}
	for id := range s.debt {
		if !seen[id] {
			delete(s.debt, id)
		}
	}
}

// Status returns the alerts raised by the latest samples.
func (s *Sensor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		DiskAlert:   s.disk.active,
		MemAlert:    s.memory.active,
		DiskUsedPct: s.diskPct,
		MemUsedPct:  s.memPct,
	}
	for id, a := range s.debt {
		if a.active {
			st.DebtAlerts = append(st.DebtAlerts, id)
		}
	}
	slices.Sort(st.DebtAlerts)
	if !s.sampled.IsZero() {
		st.LastSampledAt = s.sampled.UTC().Format(time.RFC3339)
	}
	return st
}
