package pruner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/raulk/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partitionstore/pkg/partition"
	"partitionstore/pkg/store"
	"partitionstore/pkg/store/keys"
	"partitionstore/pkg/store/tables"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	mgr   *partition.Manager
	ps    *store.PartitionStore
	set   tables.Set
	clock *clock.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mgr := partition.NewManager(t.TempDir(), store.Options{CacheSize: 1 << 20, MemTableSize: 1 << 20})
	ps, err := mgr.Open(context.Background(), 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.CloseAll() })
	clk := clock.NewMock()
	clk.Set(epoch)
	return &fixture{mgr: mgr, ps: ps, set: tables.For(1), clock: clk}
}

func (f *fixture) pruner(cfg Config) *Pruner {
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = time.Hour
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = time.Minute
	}
	cfg.LeaseDir = f.mgr.Root()
	return New(cfg, f.mgr, f.clock)
}

// seed writes one invocation with a status and journal entries.
func (f *fixture) seed(t *testing.T, st tables.Status, age time.Duration, journal int) uuid.UUID {
	t.Helper()
	inv := uuid.New()
	b := f.ps.NewBatch()
	require.NoError(t, f.set.Status.Put(b, "svc", inv, tables.InvocationStatus{
		Status:     st,
		CreatedAt:  epoch.Add(-age - time.Minute),
		ModifiedAt: epoch.Add(-age),
	}))
	for i := 0; i < journal; i++ {
		require.NoError(t, f.set.Journal.Put(b, inv, uint32(i), []byte("entry")))
	}
	require.NoError(t, f.ps.Commit(b))
	return inv
}

func (f *fixture) journalLen(t *testing.T, inv uuid.UUID) uint32 {
	t.Helper()
	n, err := f.set.Journal.Length(f.ps, inv)
	require.NoError(t, err)
	return n
}

func TestPrunesFinishedJournalsOnly(t *testing.T) {
	f := newFixture(t)
	old := f.seed(t, tables.StatusCompleted, 2*time.Hour, 3)
	recent := f.seed(t, tables.StatusCompleted, 10*time.Minute, 2)
	running := f.seed(t, tables.StatusInvoked, 5*time.Hour, 4)
	f.seed(t, tables.StatusFree, 3*time.Hour, 0)

	b := f.ps.NewBatch()
	require.NoError(t, f.set.Outbox.Put(b, 1, []byte("x")))
	require.NoError(t, b.SetAppliedSequence(10))
	require.NoError(t, f.ps.Commit(b))

	rep, err := f.pruner(Config{}).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Partitions)
	assert.Equal(t, 4, rep.Scanned)
	assert.Equal(t, 1, rep.Eligible)
	assert.Equal(t, 1, rep.Pruned)
	assert.Equal(t, 1, rep.AlreadyPruned)
	assert.Equal(t, 1, rep.Batches)

	assert.Zero(t, f.journalLen(t, old))
	assert.Equal(t, uint32(2), f.journalLen(t, recent))
	assert.Equal(t, uint32(4), f.journalLen(t, running))

	seq, err := f.ps.LastAppliedSequence()
	require.NoError(t, err)
	assert.Equal(t, uint64(10), seq, "pruning never moves the marker")

	_, ok, err := f.set.Status.Get(f.ps, "svc", old)
	require.NoError(t, err)
	assert.True(t, ok, "status entries are kept")
}

func TestPruningIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, tables.StatusCompleted, 2*time.Hour, 3)
	f.seed(t, tables.StatusFree, 2*time.Hour, 1)
	p := f.pruner(Config{})

	first, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Pruned)

	second, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Pruned)
	assert.Zero(t, second.Batches)
	assert.Equal(t, 2, second.AlreadyPruned)
}

func TestBatchesAreBounded(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.seed(t, tables.StatusCompleted, 2*time.Hour, 2)
	}
	rep, err := f.pruner(Config{BatchSize: 2}).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Pruned)
	assert.Equal(t, 3, rep.Batches)
}

func TestDryRunDeletesNothing(t *testing.T) {
	f := newFixture(t)
	inv := f.seed(t, tables.StatusCompleted, 2*time.Hour, 3)
	rep, err := f.pruner(Config{DryRun: true}).RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.DryRun)
	assert.Equal(t, 1, rep.Eligible)
	assert.Zero(t, rep.Pruned)
	assert.Equal(t, uint32(3), f.journalLen(t, inv))
}

func TestGracePeriodFollowsClock(t *testing.T) {
	f := newFixture(t)
	inv := f.seed(t, tables.StatusCompleted, 10*time.Minute, 1)
	p := f.pruner(Config{})

	rep, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Pruned)

	f.clock.Add(time.Hour)
	rep, err = p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Pruned)
	assert.Zero(t, f.journalLen(t, inv))
}

func TestHeldLeaseSkipsRun(t *testing.T) {
	f := newFixture(t)
	inv := f.seed(t, tables.StatusCompleted, 2*time.Hour, 1)
	p := f.pruner(Config{LockTTL: time.Minute})

	ok, err := p.lease.Acquire("someone-else", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	rep, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Partitions)
	assert.Equal(t, uint32(1), f.journalLen(t, inv))

	// an expired lease is taken over
	f.clock.Add(2 * time.Minute)
	rep, err = p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Pruned)
}

func TestLeaseOwnership(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(epoch)
	l := newFileLease(t.TempDir(), clk)

	ok, err := l.Acquire("a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = l.Acquire("b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, l.Renew("b", time.Minute), ErrNotOwner)
	assert.ErrorIs(t, l.Release("b"), ErrNotOwner)

	require.NoError(t, l.Renew("a", time.Hour))
	clk.Add(30 * time.Minute)
	ok, err = l.Acquire("b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "renewal extended the lease")

	require.NoError(t, l.Release("a"))
	ok, err = l.Acquire("b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestScheduleRunsOnCron(t *testing.T) {
	f := newFixture(t)
	f.seed(t, tables.StatusCompleted, 2*time.Hour, 1)
	p := f.pruner(Config{Cron: "* * * * *"})

	stop, err := p.Start(context.Background())
	require.NoError(t, err)
	defer stop()

	require.Eventually(t, func() bool {
		f.clock.Add(time.Minute)
		return p.Runs() > 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStartRejectsBadCron(t *testing.T) {
	f := newFixture(t)
	_, err := f.pruner(Config{Cron: "whenever"}).Start(context.Background())
	assert.Error(t, err)
}

func TestStopWaitsForRunInFlight(t *testing.T) {
	f := newFixture(t)
	inv := f.seed(t, tables.StatusCompleted, 2*time.Hour, 2)
	p := f.pruner(Config{Cron: "* * * * *"})

	paused := make(chan struct{})
	var once sync.Once
	p.afterSnapshot = func(ctx context.Context) {
		once.Do(func() { close(paused) })
		<-ctx.Done()
	}

	stop, err := p.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		select {
		case <-paused:
			return true
		default:
			f.clock.Add(time.Minute)
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
	require.True(t, p.running.Load(), "a run holds a snapshot")

	stopped := make(chan struct{})
	go func() {
		stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not return")
	}
	assert.False(t, p.running.Load(), "stop returned before the run finished")
	assert.Equal(t, uint32(2), f.journalLen(t, inv), "a cancelled run commits nothing")

	// the run released its snapshot, so the stores close cleanly
	require.NoError(t, f.mgr.CloseAll())
}

func TestCorruptStatusFailsTheRun(t *testing.T) {
	f := newFixture(t)
	inv := f.seed(t, tables.StatusCompleted, 2*time.Hour, 2)

	b := f.ps.NewBatch()
	require.NoError(t, b.Set(keys.StatusKey{Partition: 1, Service: "svc", Invocation: uuid.New()}, []byte{0xff}))
	require.NoError(t, f.ps.Commit(b))

	rep, err := f.pruner(Config{}).RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, tables.IsMalformedValue(err), "got %v", err)
	assert.Contains(t, err.Error(), "status of invocation")
	assert.Equal(t, 1, rep.Failed)
	assert.Zero(t, rep.Pruned)
	assert.Equal(t, uint32(2), f.journalLen(t, inv), "staged deletes are dropped")
}
