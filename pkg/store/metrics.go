package store

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	commitLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pstore_commit_latency_seconds",
			Help:    "Latency of write batch commits.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		},
		[]string{"partition"},
	)
	commitBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pstore_commit_bytes_total",
			Help: "Bytes written by committed batches.",
		},
		[]string{"partition"},
	)
	commitMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pstore_commit_mutations_total",
			Help: "Mutations applied by committed batches.",
		},
		[]string{"partition"},
	)
	commitFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pstore_commit_failures_total",
			Help: "Commits rejected by the engine.",
		},
		[]string{"partition"},
	)
	compactionDebt = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pstore_compaction_debt_bytes",
			Help: "Estimated bytes that compactions must rewrite to settle the LSM.",
		},
		[]string{"partition"},
	)
	compactionsInProgress = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pstore_compactions_in_progress",
			Help: "Compactions currently running.",
		},
		[]string{"partition"},
	)
	l0Files = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pstore_l0_files",
			Help: "Number of sstables in L0.",
		},
		[]string{"partition"},
	)
	diskUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pstore_disk_usage_bytes",
			Help: "On-disk size of the partition engine.",
		},
		[]string{"partition"},
	)
	storeState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pstore_store_state",
			Help: "Lifecycle state of the partition store (0 closed, 1 opening, 2 open, 3 closing, 4 corrupted).",
		},
		[]string{"partition"},
	)

	collectors = []prometheus.Collector{
		commitLatency, commitBytes, commitMutations, commitFailures,
		compactionDebt, compactionsInProgress, l0Files, diskUsage, storeState,
	}
	registerMu sync.Mutex
	registered = map[prometheus.Registerer]bool{}
)

// RegisterMetrics registers the store collectors on reg once. Collectors work
// without registration; registration only exposes them.
func RegisterMetrics(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	registerMu.Lock()
	defer registerMu.Unlock()
	if registered[reg] {
		return nil
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	registered[reg] = true
	return nil
}

// partitionMetrics caches the labelled children of one partition.
type partitionMetrics struct {
	label       string
	latency     prometheus.Observer
	bytes       prometheus.Counter
	mutations   prometheus.Counter
	failures    prometheus.Counter
	debt        prometheus.Gauge
	compactions prometheus.Gauge
	l0          prometheus.Gauge
	disk        prometheus.Gauge
	state       prometheus.Gauge
}

func newPartitionMetrics(partition uint64) *partitionMetrics {
	label := strconv.FormatUint(partition, 10)
	return &partitionMetrics{
		label:       label,
		latency:     commitLatency.WithLabelValues(label),
		bytes:       commitBytes.WithLabelValues(label),
		mutations:   commitMutations.WithLabelValues(label),
		failures:    commitFailures.WithLabelValues(label),
		debt:        compactionDebt.WithLabelValues(label),
		compactions: compactionsInProgress.WithLabelValues(label),
		l0:          l0Files.WithLabelValues(label),
		disk:        diskUsage.WithLabelValues(label),
		state:       storeState.WithLabelValues(label),
	}
}

func (m *partitionMetrics) observeCommit(d time.Duration, bytes, mutations int) {
	m.latency.Observe(d.Seconds())
	m.bytes.Add(float64(bytes))
	m.mutations.Add(float64(mutations))
}

func (m *partitionMetrics) observeEngine(s EngineStats) {
	m.debt.Set(float64(s.CompactionDebt))
	m.compactions.Set(float64(s.CompactionsInProgress))
	m.l0.Set(float64(s.L0Files))
	m.disk.Set(float64(s.DiskUsage))
}

// forget drops the labelled series of a retired partition.
func (m *partitionMetrics) forget() {
	for _, v := range []interface{ DeleteLabelValues(...string) bool }{
		commitLatency, commitBytes, commitMutations, commitFailures,
		compactionDebt, compactionsInProgress, l0Files, diskUsage, storeState,
	} {
		v.DeleteLabelValues(m.label)
	}
}
