package store

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
	"github.com/cockroachdb/pebble"

	"partitionstore/pkg/logger"
	"partitionstore/pkg/store/keys"
)

// State is the lifecycle state of a PartitionStore.
type State int32

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
	StateCorrupted
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateCorrupted:
		return "corrupted"
	}
	return "unknown"
}

// Reader is the read side shared by the live store and snapshots.
type Reader interface {
	PartitionID() uint64
	// Get returns a copy of the value stored under key or ErrNotFound.
	Get(key []byte) ([]byte, error)
	// NewIter returns an ascending iterator over [lower, upper). Either bound
	// may be nil.
	NewIter(lower, upper []byte) (*Iterator, error)
}

// PartitionStore owns the pebble engine of exactly one partition.
type PartitionStore struct {
	id   uint64
	path string
	opts Options

	db    *pebble.DB
	cache *pebble.Cache
	lock  *dirLock

	state atomic.Int32
	// lifeMu is held shared by reads and commits, exclusively by Close.
	lifeMu   sync.RWMutex
	commitMu sync.Mutex
	applied  atomic.Uint64
	readers  atomic.Int64

	metrics *partitionMetrics
}

var _ Reader = (*PartitionStore)(nil)

// Open opens or creates the store of partition id at path.
func Open(id uint64, path string, opts Options) (*PartitionStore, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if path == "" {
		return nil, invalidConfig("partition %d: empty path", id)
	}
	fs := opts.fs()
	if _, err := fs.Stat(path); err != nil {
		if !oserror.IsNotExist(err) {
			return nil, engineUnavailable(err, "stat %s", path)
		}
		if opts.ReadOnly || opts.ErrorIfNotExists {
			return nil, invalidConfig("partition %d: directory %s does not exist", id, path)
		}
		if err := fs.MkdirAll(path, 0o755); err != nil {
			return nil, engineUnavailable(err, "create %s", path)
		}
	}

	s := &PartitionStore{id: id, path: path, opts: opts, metrics: newPartitionMetrics(id)}
	s.setState(StateOpening)

	// an engine on a custom filesystem is guarded by pebble's own LOCK file
	if opts.FS == nil {
		lock, err := acquireDirLock(path, opts.ReadOnly)
		if err != nil {
			s.setState(StateClosed)
			return nil, err
		}
		s.lock = lock
	}

	s.cache = pebble.NewCache(opts.CacheSize)
	db, err := pebble.Open(path, opts.pebbleOptions(s.cache, engineLogger{partition: id}))
	if err != nil {
		s.releaseOnFailure()
		logger.Error("partition_store_open_failed", "partition", id, "path", path, "error", err)
		switch {
		case isCorruption(err):
			return nil, corrupt(err, "open partition %d", id)
		case isLockHeld(err):
			return nil, lockContention(err, "open partition %d", id)
		default:
			return nil, engineUnavailable(err, "open partition %d", id)
		}
	}
	s.db = db

	if err := s.checkIntegrity(); err != nil {
		if cerr := s.db.Close(); cerr != nil {
			logger.Warn("partition_store_close_failed", "partition", id, "error", cerr)
		}
		s.db = nil
		s.releaseOnFailure()
		logger.Error("partition_store_integrity_failed", "partition", id, "path", path, "error", err)
		return nil, err
	}

	s.setState(StateOpen)
	logger.Info("partition_store_opened", "partition", id, "path", path,
		"read_only", opts.ReadOnly, "applied_sequence", s.applied.Load())
	return s, nil
}

func (s *PartitionStore) releaseOnFailure() {
	if s.cache != nil {
		s.cache.Unref()
		s.cache = nil
	}
	if err := s.lock.release(); err != nil {
		logger.Warn("partition_lock_release_failed", "partition", s.id, "error", err)
	}
	s.lock = nil
	s.setState(StateClosed)
}

// checkIntegrity verifies the descriptor and the applied sequence marker.
// A fresh store gets its descriptor written here.
func (s *PartitionStore) checkIntegrity() error {
	desc, err := s.rawGet(s.db, descriptorKey(s.id))
	switch {
	case IsNotFound(err):
		empty, eerr := s.engineEmpty()
		if eerr != nil {
			return eerr
		}
		if !empty {
			return corrupt(nil, "%s holds data but no descriptor for partition %d", s.path, s.id)
		}
		if !s.opts.ReadOnly {
			if err := s.db.Set(descriptorKey(s.id), encodeDescriptor(s.id), s.opts.writeOptions()); err != nil {
				return engineUnavailable(err, "write descriptor of partition %d", s.id)
			}
		}
		s.applied.Store(0)
		return nil
	case err != nil:
		return err
	}
	if err := checkDescriptor(s.id, desc); err != nil {
		return err
	}

	marker, err := s.rawGet(s.db, markerKey(s.id))
	switch {
	case IsNotFound(err):
		s.applied.Store(0)
	case err != nil:
		return err
	default:
		seq, derr := decodeMarker(marker)
		if derr != nil {
			return derr
		}
		s.applied.Store(seq)
	}
	return nil
}

// engineEmpty reports whether the directory holds no key at all. A store
// directory belongs to a single partition, so keys of any partition count.
func (s *PartitionStore) engineEmpty() (bool, error) {
	it, err := s.db.NewIter(nil)
	if err != nil {
		return false, engineUnavailable(err, "scan partition %d", s.id)
	}
	empty := !it.First()
	if err := errors.CombineErrors(it.Error(), it.Close()); err != nil {
		if isCorruption(err) {
			return false, corrupt(err, "scan partition %d", s.id)
		}
		return false, engineUnavailable(err, "scan partition %d", s.id)
	}
	return empty, nil
}

type getter interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

// rawGet copies the value out of the engine before releasing it.
func (s *PartitionStore) rawGet(g getter, key []byte) ([]byte, error) {
	v, closer, err := g.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		if isCorruption(err) {
			return nil, corrupt(err, "read partition %d", s.id)
		}
		return nil, engineUnavailable(err, "read partition %d", s.id)
	}
	out := append([]byte(nil), v...)
	if err := closer.Close(); err != nil {
		return nil, engineUnavailable(err, "release value of partition %d", s.id)
	}
	return out, nil
}

// Close flushes and closes the engine and releases the directory lock.
// Calling Close on a closed store is a no-op.
func (s *PartitionStore) Close() error {
	var prev State
	for {
		prev = State(s.state.Load())
		if prev != StateOpen && prev != StateCorrupted {
			return nil
		}
		if s.state.CompareAndSwap(int32(prev), int32(StateClosing)) {
			break
		}
	}
	s.metrics.state.Set(float64(StateClosing))

	// reads, iterator moves and commits fail from here on, so live scans
	// stop and release their iterators
	leaked := s.drainReaders()

	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	var err error
	if leaked > 0 {
		err = errors.Wrapf(ErrReadersOpen, "partition %d: %d snapshots or iterators not released", s.id, leaked)
	}
	if prev != StateCorrupted && !s.opts.ReadOnly {
		if ferr := s.db.Flush(); ferr != nil {
			err = errors.CombineErrors(err, engineUnavailable(ferr, "flush partition %d", s.id))
		}
	}
	if cerr := s.db.Close(); cerr != nil {
		err = errors.CombineErrors(err, engineUnavailable(cerr, "close partition %d", s.id))
	}
	s.db = nil
	if s.cache != nil {
		s.cache.Unref()
		s.cache = nil
	}
	if lerr := s.lock.release(); lerr != nil {
		err = errors.CombineErrors(err, errors.Wrapf(lerr, "release lock of partition %d", s.id))
	}
	s.lock = nil
	s.setState(StateClosed)

	if err != nil {
		logger.Error("partition_store_close_failed", "partition", s.id, "error", err)
		return err
	}
	logger.Info("partition_store_closed", "partition", s.id, "path", s.path)
	return nil
}

// drainReaders waits up to ReaderDrainTimeout for open snapshots and
// iterators to be closed and returns how many are left.
func (s *PartitionStore) drainReaders() int64 {
	deadline := time.Now().Add(s.opts.ReaderDrainTimeout)
	for {
		n := s.readers.Load()
		if n <= 0 {
			return 0
		}
		if !time.Now().Before(deadline) {
			logger.Warn("partition_store_readers_leaked", "partition", s.id, "readers", n)
			return n
		}
		time.Sleep(readerDrainPoll)
	}
}

func (s *PartitionStore) setState(st State) {
	s.state.Store(int32(st))
	s.metrics.state.Set(float64(st))
}

// markCorrupted moves an open store to the terminal Corrupted state.
func (s *PartitionStore) markCorrupted(cause error) {
	if s.state.CompareAndSwap(int32(StateOpen), int32(StateCorrupted)) {
		s.metrics.state.Set(float64(StateCorrupted))
		logger.Error("partition_store_corrupted", "partition", s.id, "path", s.path, "error", cause)
	}
}

// usable reports whether the store accepts reads and commits. Callers hold
// lifeMu shared.
func (s *PartitionStore) usable() error {
	switch State(s.state.Load()) {
	case StateOpen:
		return nil
	case StateCorrupted:
		return errors.Mark(errors.Newf("partition %d is corrupted; close and reopen", s.id), ErrEngineUnavailable)
	default:
		return errors.Wrapf(ErrNotOpen, "partition %d", s.id)
	}
}

// readFailed classifies an engine read error and poisons the store.
func (s *PartitionStore) readFailed(err error) error {
	if IsNotFound(err) {
		return err
	}
	s.markCorrupted(err)
	return errors.Mark(err, ErrEngineUnavailable)
}

func (s *PartitionStore) PartitionID() uint64 { return s.id }
func (s *PartitionStore) Path() string        { return s.path }
func (s *PartitionStore) State() State        { return State(s.state.Load()) }
func (s *PartitionStore) ReadOnly() bool      { return s.opts.ReadOnly }

// Get reads the latest committed value of key.
func (s *PartitionStore) Get(key []byte) ([]byte, error) {
	s.lifeMu.RLock()
	defer s.lifeMu.RUnlock()
	if err := s.usable(); err != nil {
		return nil, err
	}
	v, err := s.rawGet(s.db, key)
	if err != nil {
		return nil, s.readFailed(err)
	}
	return v, nil
}

// NewIter returns an iterator over the committed state at the time of the
// call. pebble iterators pin their own sequence number, so later commits are
// never observed.
func (s *PartitionStore) NewIter(lower, upper []byte) (*Iterator, error) {
	s.lifeMu.RLock()
	defer s.lifeMu.RUnlock()
	if err := s.usable(); err != nil {
		return nil, err
	}
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, s.readFailed(engineUnavailable(err, "iterate partition %d", s.id))
	}
	return newIterator(s, it, nil), nil
}

// NewSnapshot captures a consistent read view. The snapshot must be closed
// before the store.
func (s *PartitionStore) NewSnapshot() (*Snapshot, error) {
	s.lifeMu.RLock()
	defer s.lifeMu.RUnlock()
	if err := s.usable(); err != nil {
		return nil, err
	}
	s.readers.Add(1)
	return &Snapshot{store: s, snap: s.db.NewSnapshot()}, nil
}

// LastAppliedSequence returns the applied sequence marker, zero for a store
// that never committed one.
func (s *PartitionStore) LastAppliedSequence() (uint64, error) {
	s.lifeMu.RLock()
	defer s.lifeMu.RUnlock()
	if err := s.usable(); err != nil {
		return 0, err
	}
	return s.applied.Load(), nil
}

// DeletePartitionRange removes every key of the partition, the marker
// included, in one atomic batch. The descriptor is written again in the
// same batch so the store reopens as an empty store.
func (s *PartitionStore) DeletePartitionRange() error {
	s.lifeMu.RLock()
	defer s.lifeMu.RUnlock()
	if err := s.usable(); err != nil {
		return err
	}
	if s.opts.ReadOnly {
		return errors.Wrapf(ErrReadOnly, "partition %d", s.id)
	}
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	start, end := keys.PartitionRange(s.id)
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.DeleteRange(start, end, nil); err != nil {
		return engineUnavailable(err, "stage range delete of partition %d", s.id)
	}
	if err := b.Set(descriptorKey(s.id), encodeDescriptor(s.id), nil); err != nil {
		return engineUnavailable(err, "stage descriptor of partition %d", s.id)
	}
	if err := b.Commit(s.opts.writeOptions()); err != nil {
		s.metrics.failures.Inc()
		s.markCorrupted(err)
		return engineUnavailable(err, "delete partition %d", s.id)
	}
	s.applied.Store(0)
	logger.Info("partition_range_deleted", "partition", s.id, "path", s.path)
	return nil
}

// Flush persists the memtable to sstables.
func (s *PartitionStore) Flush() error {
	s.lifeMu.RLock()
	defer s.lifeMu.RUnlock()
	if err := s.usable(); err != nil {
		return err
	}
	if s.opts.ReadOnly {
		return nil
	}
	if err := s.db.Flush(); err != nil {
		s.metrics.failures.Inc()
		s.markCorrupted(err)
		return engineUnavailable(err, "flush partition %d", s.id)
	}
	return nil
}

// Compact runs a manual compaction over the whole partition range.
func (s *PartitionStore) Compact() error {
	s.lifeMu.RLock()
	defer s.lifeMu.RUnlock()
	if err := s.usable(); err != nil {
		return err
	}
	if s.opts.ReadOnly {
		return errors.Wrapf(ErrReadOnly, "partition %d", s.id)
	}
	start, end := keys.PartitionRange(s.id)
	began := time.Now()
	if err := s.db.Compact(start, end, true); err != nil {
		s.metrics.failures.Inc()
		s.markCorrupted(err)
		return engineUnavailable(err, "compact partition %d", s.id)
	}
	logger.Info("partition_compacted", "partition", s.id, "duration", time.Since(began))
	return nil
}

// EngineStats is a point in time view of engine health.
type EngineStats struct {
	CompactionDebt        uint64
	CompactionsInProgress int64
	L0Files               int64
	WALSize               uint64
	MemTableSize          uint64
	DiskUsage             uint64
}

// EngineMetrics samples pebble metrics and refreshes the partition gauges.
func (s *PartitionStore) EngineMetrics() (EngineStats, error) {
	s.lifeMu.RLock()
	defer s.lifeMu.RUnlock()
	if s.db == nil {
		return EngineStats{}, errors.Wrapf(ErrNotOpen, "partition %d", s.id)
	}
	m := s.db.Metrics()
	st := EngineStats{
		CompactionDebt:        m.Compact.EstimatedDebt,
		CompactionsInProgress: m.Compact.NumInProgress,
		L0Files:               m.Levels[0].NumFiles,
		WALSize:               m.WAL.Size,
		MemTableSize:          m.MemTable.Size,
		DiskUsage:             m.DiskSpaceUsage(),
	}
	s.metrics.observeEngine(st)
	return st, nil
}

// ForgetMetrics drops the labelled metric series of this partition. Used
// when a partition is retired for good.
func (s *PartitionStore) ForgetMetrics() {
	s.metrics.forget()
}
