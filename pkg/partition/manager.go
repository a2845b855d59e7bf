package partition

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"partitionstore/pkg/logger"
	"partitionstore/pkg/store"
)

// ErrUnknownPartition is returned for ids the manager does not hold.
var ErrUnknownPartition = errors.New("partition is not registered")

// slot reserves an id while its store is opening; ps is set once open.
type slot struct {
	ps atomic.Pointer[store.PartitionStore]
}

// Manager owns the partition stores of one process. Every store is opened,
// looked up and closed through it; there is no process wide engine handle.
type Manager struct {
	root  string
	opts  store.Options
	slots *xsync.MapOf[uint64, *slot]
}

func NewManager(root string, opts store.Options) *Manager {
	return &Manager{
		root:  root,
		opts:  opts,
		slots: xsync.NewMapOf[uint64, *slot](),
	}
}

func (m *Manager) Root() string { return m.root }

// PathFor returns the directory of partition id under the manager root.
func (m *Manager) PathFor(id uint64) string {
	return filepath.Join(m.root, fmt.Sprintf("partition-%d", id))
}

// Open opens partition id and registers it. Opening an id that is already
// registered, or still opening, fails with store.ErrLockContention.
func (m *Manager) Open(ctx context.Context, id uint64) (*store.PartitionStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sl := &slot{}
	if _, loaded := m.slots.LoadOrStore(id, sl); loaded {
		return nil, store.LockContentionf("partition %d is already registered", id)
	}
	ps, err := store.Open(id, m.PathFor(id), m.opts)
	if err != nil {
		m.slots.Delete(id)
		return nil, err
	}
	sl.ps.Store(ps)
	logger.Debug("partition_registered", "partition", id, "path", ps.Path())
	return ps, nil
}

// OpenAll opens ids concurrently. When any open fails the stores opened by
// this call are closed again and the first error is returned.
func (m *Manager) OpenAll(ctx context.Context, ids []uint64) error {
	ids = lo.Uniq(ids)
	opened := make([]*store.PartitionStore, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			ps, err := m.Open(gctx, id)
			if err != nil {
				return errors.Wrapf(err, "open partition %d", id)
			}
			opened[i] = ps
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, ps := range opened {
			if ps == nil {
				continue
			}
			if cerr := m.Close(ps.PartitionID()); cerr != nil {
				logger.Warn("partition_rollback_close_failed", "partition", ps.PartitionID(), "error", cerr)
			}
		}
		return err
	}
	logger.Info("partitions_opened", "count", len(ids), "root", m.root)
	return nil
}

// Get returns the open store of id.
func (m *Manager) Get(id uint64) (*store.PartitionStore, bool) {
	sl, ok := m.slots.Load(id)
	if !ok {
		return nil, false
	}
	ps := sl.ps.Load()
	return ps, ps != nil
}

func (m *Manager) lookup(id uint64) (*store.PartitionStore, error) {
	ps, ok := m.Get(id)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownPartition, "partition %d", id)
	}
	return ps, nil
}

// Close closes and unregisters partition id.
func (m *Manager) Close(id uint64) error {
	ps, err := m.lookup(id)
	if err != nil {
		return err
	}
	err = ps.Close()
	m.slots.Delete(id)
	return err
}

// Retire deletes every key of the partition, closes it and removes its
// directory. The id can be opened again afterwards as an empty partition.
func (m *Manager) Retire(id uint64) error {
	ps, err := m.lookup(id)
	if err != nil {
		return err
	}
	var result *multierror.Error
	if err := ps.DeletePartitionRange(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := ps.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	ps.ForgetMetrics()
	m.slots.Delete(id)
	if err := os.RemoveAll(ps.Path()); err != nil {
		result = multierror.Append(result, errors.Wrapf(err, "remove %s", ps.Path()))
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	logger.AuditInfo("partition_retired", "partition", id, "path", ps.Path())
	return nil
}

// CloseAll closes every registered store and reports all failures.
func (m *Manager) CloseAll() error {
	return m.closeEach((*store.PartitionStore).Close)
}

func (m *Manager) closeEach(closeFn func(*store.PartitionStore) error) error {
	var result *multierror.Error
	m.slots.Range(func(id uint64, sl *slot) bool {
		if ps := sl.ps.Load(); ps != nil {
			if err := closeFn(ps); err != nil {
				result = multierror.Append(result, errors.Wrapf(err, "close partition %d", id))
			}
			m.slots.Delete(id)
		}
		return true
	})
	return result.ErrorOrNil()
}

// Range calls fn for every open store until fn returns false.
func (m *Manager) Range(fn func(id uint64, ps *store.PartitionStore) bool) {
	m.slots.Range(func(id uint64, sl *slot) bool {
		if ps := sl.ps.Load(); ps != nil {
			return fn(id, ps)
		}
		return true
	})
}

// Len counts the open stores.
func (m *Manager) Len() int {
	n := 0
	m.Range(func(uint64, *store.PartitionStore) bool {
		n++
		return true
	})
	return n
}

// IDs returns the open partition ids in ascending order.
func (m *Manager) IDs() []uint64 {
	var ids []uint64
	m.Range(func(id uint64, _ *store.PartitionStore) bool {
		ids = append(ids, id)
		return true
	})
	slices.Sort(ids)
	return ids
}

// Ready reports whether every id in want is registered and open.
func (m *Manager) Ready(want []uint64) bool {
	for _, id := range want {
		ps, ok := m.Get(id)
		if !ok || ps.State() != store.StateOpen {
			return false
		}
	}
	return true
}
