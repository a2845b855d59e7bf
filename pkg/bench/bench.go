// Package bench drives a partition store with synthetic state machine
// batches and concurrent scans and reports latency distributions.
package bench

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"partitionstore/pkg/logger"
	"partitionstore/pkg/store"
	"partitionstore/pkg/store/keys"
	"partitionstore/pkg/store/tables"
)

const (
	DefaultBatches             = 1000
	DefaultInvocationsPerBatch = 4
	DefaultJournalEntries      = 4
	DefaultValueSize           = 128
	DefaultScanners            = 2
	DefaultScanLimit           = 1000

	services = 8

	// histogram range in microseconds
	minLatencyMicros = 1
	maxLatencyMicros = int64(time.Minute / time.Microsecond)
	sigFigs          = 3
)

// Config describes one benchmark run.
type Config struct {
	// Dir holds the store. An empty Dir runs against a temporary directory
	// that is removed afterwards.
	Dir       string
	Partition uint64
	Options   store.Options

	Batches             int
	InvocationsPerBatch int
	JournalEntries      int
	ValueSize           int
	// Rate caps batches per second. Zero means unlimited.
	Rate      int
	Scanners  int
	ScanLimit int
}

func (c Config) withDefaults() Config {
	if c.Batches == 0 {
		c.Batches = DefaultBatches
	}
	if c.InvocationsPerBatch == 0 {
		c.InvocationsPerBatch = DefaultInvocationsPerBatch
	}
	if c.JournalEntries == 0 {
		c.JournalEntries = DefaultJournalEntries
	}
	if c.ValueSize == 0 {
		c.ValueSize = DefaultValueSize
	}
	if c.ScanLimit == 0 {
		c.ScanLimit = DefaultScanLimit
	}
	return c
}

func (c Config) validate() error {
	switch {
	case c.Batches < 0:
		return errors.Newf("batches must be positive, got %d", c.Batches)
	case c.InvocationsPerBatch < 0:
		return errors.Newf("invocations per batch must be positive, got %d", c.InvocationsPerBatch)
	case c.JournalEntries < 0:
		return errors.Newf("journal entries must not be negative, got %d", c.JournalEntries)
	case c.ValueSize < 0:
		return errors.Newf("value size must not be negative, got %d", c.ValueSize)
	case c.Rate < 0:
		return errors.Newf("rate must not be negative, got %d", c.Rate)
	case c.Scanners < 0:
		return errors.Newf("scanners must not be negative, got %d", c.Scanners)
	}
	return nil
}

// Latency summarises one histogram.
type Latency struct {
	Count int64         `yaml:"count"`
	Mean  time.Duration `yaml:"mean"`
	P50   time.Duration `yaml:"p50"`
	P90   time.Duration `yaml:"p90"`
	P99   time.Duration `yaml:"p99"`
	Max   time.Duration `yaml:"max"`
}

func summarize(h *hdrhistogram.Histogram) Latency {
	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return Latency{
		Count: h.TotalCount(),
		Mean:  us(int64(h.Mean())),
		P50:   us(h.ValueAtQuantile(50)),
		P90:   us(h.ValueAtQuantile(90)),
		P99:   us(h.ValueAtQuantile(99)),
		Max:   us(h.Max()),
	}
}

// Result is the outcome of Run.
type Result struct {
	Partition      uint64        `yaml:"partition"`
	Batches        int           `yaml:"batches"`
	Mutations      int64         `yaml:"mutations"`
	Bytes          int64         `yaml:"bytes"`
	Elapsed        time.Duration `yaml:"elapsed"`
	FinalSequence  uint64        `yaml:"final_sequence"`
	Scans          int64         `yaml:"scans"`
	ScannedEntries int64         `yaml:"scanned_entries"`
	Commit         Latency       `yaml:"commit"`
	Scan           Latency       `yaml:"scan"`
}

// BatchesPerSecond is the commit throughput over the whole run.
func (r Result) BatchesPerSecond() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Batches) / r.Elapsed.Seconds()
}

func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(minLatencyMicros, maxLatencyMicros, sigFigs)
}

func record(h *hdrhistogram.Histogram, d time.Duration) {
	v := d.Microseconds()
	if v < minLatencyMicros {
		v = minLatencyMicros
	}
	if v > maxLatencyMicros {
		v = maxLatencyMicros
	}
	_ = h.RecordValue(v)
}

// Run opens the store, commits cfg.Batches synthetic batches while the
// scanners read snapshots, and closes the store.
func Run(ctx context.Context, cfg Config) (Result, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return Result{}, err
	}

	dir := cfg.Dir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "pstore-bench-*")
		if err != nil {
			return Result{}, errors.Wrap(err, "create bench dir")
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	ps, err := store.Open(cfg.Partition, dir, cfg.Options)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if cerr := ps.Close(); cerr != nil {
			logger.Warn("bench_close_failed", "path", dir, "error", cerr)
		}
	}()

	start, err := ps.LastAppliedSequence()
	if err != nil {
		return Result{}, err
	}
	logger.Info("bench_started", "path", dir, "partition", cfg.Partition, "batches", cfg.Batches, "scanners", cfg.Scanners, "rate", cfg.Rate)

	r := &runner{cfg: cfg, ps: ps, set: tables.For(cfg.Partition), seq: start}
	res, err := r.run(ctx)
	if err != nil {
		return res, err
	}
	logger.Info("bench_finished", "batches", res.Batches, "elapsed", res.Elapsed, "p99", res.Commit.P99)
	return res, nil
}

type runner struct {
	cfg   Config
	ps    *store.PartitionStore
	set   tables.Set
	value []byte

	seq     uint64
	inboxNo uint64

	mutations atomic.Int64
	bytes     atomic.Int64
	scans     atomic.Int64
	scanned   atomic.Int64
}

func (r *runner) run(ctx context.Context) (Result, error) {
	r.value = make([]byte, r.cfg.ValueSize)
	if _, err := rand.Read(r.value); err != nil {
		return Result{}, errors.Wrap(err, "generate payload")
	}

	var limiter *rate.Limiter
	if r.cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.cfg.Rate), 1)
	}

	commitHist := newHistogram()
	scanHists := make([]*hdrhistogram.Histogram, r.cfg.Scanners)
	writerDone := make(chan struct{})
	committed := 0

	began := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(writerDone)
		for i := 0; i < r.cfg.Batches; i++ {
			if limiter != nil {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
			} else if err := gctx.Err(); err != nil {
				return err
			}
			d, err := r.commitOne()
			if err != nil {
				return errors.Wrapf(err, "batch %d", i)
			}
			record(commitHist, d)
			committed++
		}
		return nil
	})
	for i := range scanHists {
		h := newHistogram()
		scanHists[i] = h
		domains := []keys.Domain{keys.DomainStatus, keys.DomainInbox, keys.DomainJournal, keys.DomainTimer}
		offset := i
		g.Go(func() error {
			for n := offset; ; n++ {
				d, err := r.scanOne(domains[n%len(domains)])
				if err != nil {
					return err
				}
				record(h, d)
				select {
				case <-writerDone:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
			}
		})
	}
	err := g.Wait()
	elapsed := time.Since(began)

	scanHist := newHistogram()
	for _, h := range scanHists {
		scanHist.Merge(h)
	}
	res := Result{
		Partition:      r.cfg.Partition,
		Batches:        committed,
		Mutations:      r.mutations.Load(),
		Bytes:          r.bytes.Load(),
		Elapsed:        elapsed,
		Scans:          r.scans.Load(),
		ScannedEntries: r.scanned.Load(),
		Commit:         summarize(commitHist),
		Scan:           summarize(scanHist),
	}
	seq, serr := r.ps.LastAppliedSequence()
	if serr != nil {
		return res, errors.CombineErrors(err, serr)
	}
	res.FinalSequence = seq
	return res, err
}

// commitOne stages one batch shaped like a state machine step: per
// invocation a status, an inbox entry, journal entries, a timer and a
// state entry, plus the applied sequence.
func (r *runner) commitOne() (time.Duration, error) {
	b := r.ps.NewBatch()
	now := time.Now()
	for i := 0; i < r.cfg.InvocationsPerBatch; i++ {
		inv := keys.NewInvocationID()
		service := fmt.Sprintf("bench-svc-%d", r.inboxNo%services)
		if err := r.stage(b, service, inv, now, i); err != nil {
			b.Discard()
			return 0, err
		}
		r.inboxNo++
	}
	r.seq++
	if err := b.SetAppliedSequence(r.seq); err != nil {
		b.Discard()
		return 0, err
	}
	mutations, size := b.Count(), b.Size()

	began := time.Now()
	if err := r.ps.Commit(b); err != nil {
		return 0, err
	}
	d := time.Since(began)
	r.mutations.Add(int64(mutations))
	r.bytes.Add(int64(size))
	return d, nil
}

func (r *runner) stage(b *store.Batch, service string, inv uuid.UUID, now time.Time, i int) error {
	err := r.set.Status.Put(b, service, inv, tables.InvocationStatus{
		Status:     tables.StatusInvoked,
		CreatedAt:  now,
		ModifiedAt: now,
		Payload:    r.value,
	})
	if err != nil {
		return err
	}
	if err := r.set.Inbox.Put(b, service, r.inboxNo, r.value); err != nil {
		return err
	}
	for j := 0; j < r.cfg.JournalEntries; j++ {
		if err := r.set.Journal.Put(b, inv, uint32(j), r.value); err != nil {
			return err
		}
	}
	fireAt := now.Add(time.Duration(i+1) * time.Second)
	if err := r.set.Timer.Put(b, r.set.Timer.Key(fireAt, inv, 0), r.value); err != nil {
		return err
	}
	return r.set.State.Put(b, service, inv.String(), []byte("counter"), r.value)
}

func (r *runner) scanOne(d keys.Domain) (time.Duration, error) {
	began := time.Now()
	snap, err := r.ps.NewSnapshot()
	if err != nil {
		return 0, err
	}
	sc := tables.ScanDomain(snap, d, tables.ScanOptions{Limit: r.cfg.ScanLimit})
	var n int64
	for sc.Next() {
		n++
	}
	err = errors.CombineErrors(sc.Err(), sc.Close())
	err = errors.CombineErrors(err, snap.Close())
	if err != nil {
		return 0, errors.Wrapf(err, "scan %s", d)
	}
	r.scans.Add(1)
	r.scanned.Add(n)
	return time.Since(began), nil
}
