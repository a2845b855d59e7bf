// Package pruner deletes the journals of finished invocations once their
// grace period has passed.
//
// Pruning never rides on the batch that completes an invocation. It is a
// separate batch issued after the completion is durable, it never carries
// the applied sequence marker, and running it again over pruned invocations
// changes nothing.
package pruner

import (
	"cmp"
	"context"
	"slices"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/raulk/clock"

	"partitionstore/pkg/logger"
	"partitionstore/pkg/store"
	"partitionstore/pkg/store/keys"
	"partitionstore/pkg/store/tables"
)

// Stores is the set of partition stores the pruner walks.
// partition.Manager satisfies it.
type Stores interface {
	Range(fn func(id uint64, ps *store.PartitionStore) bool)
}

// Config controls scheduling and the size of a run.
type Config struct {
	Cron        string
	GracePeriod time.Duration
	// BatchSize bounds the invocations pruned by one committed batch.
	BatchSize int
	DryRun    bool
	Paused    bool
	LockTTL   time.Duration
	// LeaseDir holds pruner.lock, usually the store root.
	LeaseDir string
}

// Report summarises one run.
type Report struct {
	RunID         string
	DryRun        bool
	Partitions    int
	Scanned       int
	Eligible      int
	Pruned        int
	AlreadyPruned int
	Batches       int
	Failed        int
}

type Pruner struct {
	cfg     Config
	stores  Stores
	clock   clock.Clock
	lease   *fileLease
	running atomic.Bool
	runs    atomic.Int64

	// afterSnapshot runs while a partition snapshot is held. Tests use it to
	// pause a run.
	afterSnapshot func(ctx context.Context)
}

// New builds a pruner; a nil clock uses the wall clock.
func New(cfg Config, stores Stores, clk clock.Clock) *Pruner {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 512
	}
	return &Pruner{
		cfg:    cfg,
		stores: stores,
		clock:  clk,
		lease:  newFileLease(cfg.LeaseDir, clk),
	}
}

// Runs counts completed scheduled runs.
func (p *Pruner) Runs() int64 { return p.runs.Load() }

// Start runs the cron schedule until ctx is done or stop is called. stop
// returns once the schedule and any run in flight have finished, so the
// stores can be closed after it.
func (p *Pruner) Start(ctx context.Context) (stop func(), err error) {
	if !gronx.IsValid(p.cfg.Cron) {
		return nil, errors.Newf("invalid pruner cron expression: %q", p.cfg.Cron)
	}
	ctx, cancel := context.WithCancel(ctx)
	logger.Info("pruner_enabled", "cron", p.cfg.Cron, "grace_period", p.cfg.GracePeriod, "dry_run", p.cfg.DryRun)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.scheduleLoop(ctx)
	}()
	return func() {
		cancel()
		<-done
		logger.Info("pruner_stopped")
	}, nil
}

func (p *Pruner) scheduleLoop(ctx context.Context) {
	for {
		now := p.clock.Now()
		next, err := gronx.NextTickAfter(p.cfg.Cron, now, false)
		if err != nil {
			logger.Error("pruner_nexttick_failed", "cron", p.cfg.Cron, "error", err)
			select {
			case <-p.clock.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		select {
		case <-p.clock.After(next.Sub(now)):
			p.runJob(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// runJob skips the tick when the previous run is still going.
func (p *Pruner) runJob(ctx context.Context) {
	if p.cfg.Paused {
		logger.Info("pruner_paused_skip")
		return
	}
	if !p.running.CompareAndSwap(false, true) {
		logger.Warn("pruner_run_overlap_skipped")
		return
	}
	defer p.running.Store(false)
	if _, err := p.RunOnce(ctx); err != nil {
		logger.Error("pruner_run_error", "error", err)
	}
	p.runs.Add(1)
}

// RunOnce takes the lease and prunes every open partition. A run that
// cannot take the lease returns an empty report and no error.
func (p *Pruner) RunOnce(ctx context.Context) (Report, error) {
	rep := Report{RunID: uuid.NewString(), DryRun: p.cfg.DryRun}
	owner := uuid.NewString()
	ttl := p.cfg.LockTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	acq, err := p.lease.Acquire(owner, ttl)
	if err != nil {
		return rep, errors.Wrap(err, "pruner lease acquire")
	}
	if !acq {
		logger.Info("pruner_lease_not_acquired")
		return rep, nil
	}
	defer func() {
		if err := p.lease.Release(owner); err != nil {
			logger.Error("pruner_lease_release_error", "error", err)
		}
	}()

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	go p.heartbeat(runCtx, runCancel, owner, ttl)

	started := p.clock.Now()
	cutoff := started.Add(-p.cfg.GracePeriod)
	logger.AuditInfo("pruner_audit_header", "run_id", rep.RunID, "started_at", started.UTC().Format(time.RFC3339), "dry_run", p.cfg.DryRun, "cutoff", cutoff.UTC().Format(time.RFC3339))

	type target struct {
		id uint64
		ps *store.PartitionStore
	}
	var targets []target
	if p.stores != nil {
		p.stores.Range(func(id uint64, ps *store.PartitionStore) bool {
			targets = append(targets, target{id, ps})
			return true
		})
	}
	slices.SortFunc(targets, func(a, b target) int { return cmp.Compare(a.id, b.id) })

	var result *multierror.Error
	for _, t := range targets {
		if err := runCtx.Err(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "pruner run aborted"))
			break
		}
		if t.ps.ReadOnly() || t.ps.State() != store.StateOpen {
			continue
		}
		rep.Partitions++
		if err := p.prunePartition(runCtx, rep.RunID, t.ps, cutoff, &rep); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "prune partition %d", t.id))
		}
	}

	logger.AuditInfo("pruner_audit_footer", "run_id", rep.RunID, "scanned", rep.Scanned, "eligible", rep.Eligible, "pruned", rep.Pruned, "already_pruned", rep.AlreadyPruned, "failed", rep.Failed)
	logger.Info("pruner_run_complete", "run_id", rep.RunID, "partitions", rep.Partitions, "pruned", rep.Pruned, "batches", rep.Batches, "took", p.clock.Now().Sub(started))
	return rep, result.ErrorOrNil()
}

// heartbeat renews the lease every ttl/3 and aborts the run after three
// consecutive failures.
func (p *Pruner) heartbeat(ctx context.Context, abort context.CancelFunc, owner string, ttl time.Duration) {
	t := p.clock.Ticker(ttl / 3)
	defer t.Stop()
	const maxConsecutiveRenewFails = 3
	var failCount int
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := p.lease.Renew(owner, ttl); err != nil {
				failCount++
				logger.Error("pruner_lease_renew_failed", "error", err, "count", failCount)
				if failCount >= maxConsecutiveRenewFails {
					logger.Error("pruner_lease_renew_failed_fatal", "owner", owner)
					abort()
					return
				}
				continue
			}
			failCount = 0
		}
	}
}

func (p *Pruner) prunePartition(ctx context.Context, runID string, ps *store.PartitionStore, cutoff time.Time, rep *Report) error {
	set := tables.For(ps.PartitionID())
	snap, err := ps.NewSnapshot()
	if err != nil {
		return err
	}
	defer snap.Close()
	if p.afterSnapshot != nil {
		p.afterSnapshot(ctx)
	}

	var (
		batch   *store.Batch
		pending []keys.StatusKey
	)
	commit := func() error {
		if batch == nil || len(pending) == 0 {
			return nil
		}
		err := ps.Commit(batch)
		batch = nil
		if err != nil {
			rep.Failed += len(pending)
			for _, k := range pending {
				audit(runID, k, "failed", err)
			}
			pending = pending[:0]
			return err
		}
		rep.Batches++
		rep.Pruned += len(pending)
		for _, k := range pending {
			audit(runID, k, "success", nil)
		}
		pending = pending[:0]
		return nil
	}
	// discard drops the staged deletes of a run that stops early
	discard := func() {
		if batch != nil {
			batch.Discard()
			batch = nil
		}
		pending = pending[:0]
	}

	sc := set.Status.ScanAll(snap, tables.ScanOptions{})
	defer sc.Close()
	for sc.Next() {
		if err := ctx.Err(); err != nil {
			discard()
			return err
		}
		rep.Scanned++
		k := sc.Key()
		st, err := tables.DecodeStatus(sc.Value())
		if err != nil {
			rep.Failed++
			logger.Error("pruner_status_undecodable", "partition", k.Partition, "service", k.Service, "invocation", k.Invocation, "error", err)
			discard()
			return errors.Wrapf(err, "status of invocation %s", k.Invocation)
		}
		if !st.Status.Terminal() || !st.ModifiedAt.Before(cutoff) {
			continue
		}
		// the journal is read from the live store so a journal pruned after
		// the snapshot was taken is not deleted twice
		has, err := hasJournal(set.Journal, ps, k)
		if err != nil {
			discard()
			return err
		}
		if !has {
			rep.AlreadyPruned++
			continue
		}
		rep.Eligible++
		if p.cfg.DryRun {
			audit(runID, k, "dry_run", nil)
			continue
		}
		if batch == nil {
			batch = ps.NewBatch()
		}
		if err := set.Journal.DeleteAll(batch, k.Invocation); err != nil {
			discard()
			return err
		}
		pending = append(pending, k)
		if len(pending) >= p.cfg.BatchSize {
			if err := commit(); err != nil {
				return err
			}
		}
	}
	if err := sc.Err(); err != nil {
		discard()
		return err
	}
	return commit()
}

func hasJournal(j tables.JournalTable, r store.Reader, k keys.StatusKey) (bool, error) {
	sc := j.Scan(r, k.Invocation, tables.ScanOptions{Limit: 1})
	found := sc.Next()
	return found, errors.CombineErrors(sc.Err(), sc.Close())
}

func audit(runID string, k keys.StatusKey, status string, err error) {
	args := []any{"run_id", runID, "partition", k.Partition, "service", k.Service, "invocation", k.Invocation.String(), "status", status}
	if err != nil {
		args = append(args, "error", err.Error())
	}
	logger.AuditInfo("pruner_audit_item", args...)
}
