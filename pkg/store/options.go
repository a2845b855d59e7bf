package store

import (
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/dustin/go-humanize"
)

// Defaults for Options. Zero valued fields take these values in
// WithDefaults; explicit negative values are rejected by Validate.
const (
	DefaultCacheSize                   = 64 << 20
	DefaultMemTableSize                = 32 << 20
	DefaultMemTableStopWritesThreshold = 4
	DefaultL0CompactionThreshold       = 4
	DefaultL0StopWritesThreshold       = 12
	DefaultLBaseMaxBytes               = 64 << 20
	DefaultMaxConcurrentCompactions    = 1
	DefaultMaxOpenFiles                = 1000
	DefaultBytesPerSync                = 512 << 10
	DefaultReaderDrainTimeout          = 10 * time.Second

	maxMemTableSize = 4 << 30
	readerDrainPoll = 5 * time.Millisecond
)

// Options tunes the engine of one partition store.
type Options struct {
	// CacheSize is the block cache size in bytes.
	CacheSize int64
	// MemTableSize is the size of a single memtable in bytes.
	MemTableSize int64
	// MemTableStopWritesThreshold is the number of queued memtables at which
	// writes stall.
	MemTableStopWritesThreshold int
	// L0CompactionThreshold is the L0 read amplification that triggers a
	// compaction; L0StopWritesThreshold is the one that stalls writes.
	L0CompactionThreshold int
	L0StopWritesThreshold int
	// LBaseMaxBytes is the target size of the base level.
	LBaseMaxBytes            int64
	MaxConcurrentCompactions int
	MaxOpenFiles             int
	BytesPerSync             int

	// DisableWAL trades durability of acknowledged commits for speed and is
	// only accepted together with AllowUnsafeNoWAL (benchmarks).
	DisableWAL       bool
	AllowUnsafeNoWAL bool

	// ReadOnly opens an existing store for inspection. Commits are rejected.
	ReadOnly bool
	// ErrorIfNotExists fails Open when the directory holds no store.
	ErrorIfNotExists bool

	// ReaderDrainTimeout bounds how long Close waits for open snapshots and
	// iterators before closing the engine underneath them.
	ReaderDrainTimeout time.Duration

	// FS replaces the operating system filesystem, e.g. with vfs.NewStrictMem
	// to simulate crashes. Nil uses vfs.Default.
	FS vfs.FS
}

// DefaultOptions returns Options with every documented default applied.
func DefaultOptions() Options {
	return Options{}.WithDefaults()
}

// WithDefaults fills zero valued fields.
func (o Options) WithDefaults() Options {
	if o.CacheSize == 0 {
		o.CacheSize = DefaultCacheSize
	}
	if o.MemTableSize == 0 {
		o.MemTableSize = DefaultMemTableSize
	}
	if o.MemTableStopWritesThreshold == 0 {
		o.MemTableStopWritesThreshold = DefaultMemTableStopWritesThreshold
	}
	if o.L0CompactionThreshold == 0 {
		o.L0CompactionThreshold = DefaultL0CompactionThreshold
	}
	if o.L0StopWritesThreshold == 0 {
		o.L0StopWritesThreshold = DefaultL0StopWritesThreshold
	}
	if o.LBaseMaxBytes == 0 {
		o.LBaseMaxBytes = DefaultLBaseMaxBytes
	}
	if o.MaxConcurrentCompactions == 0 {
		o.MaxConcurrentCompactions = DefaultMaxConcurrentCompactions
	}
	if o.MaxOpenFiles == 0 {
		o.MaxOpenFiles = DefaultMaxOpenFiles
	}
	if o.BytesPerSync == 0 {
		o.BytesPerSync = DefaultBytesPerSync
	}
	if o.ReaderDrainTimeout == 0 {
		o.ReaderDrainTimeout = DefaultReaderDrainTimeout
	}
	return o
}

// Validate checks Options after defaults are applied. Invalid combinations
// are reported, never clamped.
func (o Options) Validate() error {
	switch {
	case o.CacheSize < 0:
		return invalidConfig("cache size must be positive, got %d", o.CacheSize)
	case o.MemTableSize <= 0:
		return invalidConfig("memtable size must be positive, got %d", o.MemTableSize)
	case o.MemTableSize > maxMemTableSize:
		return invalidConfig("memtable size %s exceeds %s", humanize.IBytes(uint64(o.MemTableSize)), humanize.IBytes(maxMemTableSize))
	case o.MemTableStopWritesThreshold < 2:
		return invalidConfig("memtable stop writes threshold must be at least 2, got %d", o.MemTableStopWritesThreshold)
	case o.L0CompactionThreshold <= 0:
		return invalidConfig("l0 compaction threshold must be positive, got %d", o.L0CompactionThreshold)
	case o.L0StopWritesThreshold < o.L0CompactionThreshold:
		return invalidConfig("l0 stop writes threshold (%d) is below l0 compaction threshold (%d)", o.L0StopWritesThreshold, o.L0CompactionThreshold)
	case o.LBaseMaxBytes <= 0:
		return invalidConfig("lbase max bytes must be positive, got %d", o.LBaseMaxBytes)
	case o.MaxConcurrentCompactions <= 0:
		return invalidConfig("max concurrent compactions must be positive, got %d", o.MaxConcurrentCompactions)
	case o.MaxOpenFiles < 16:
		return invalidConfig("max open files must be at least 16, got %d", o.MaxOpenFiles)
	case o.BytesPerSync < 0:
		return invalidConfig("bytes per sync must not be negative, got %d", o.BytesPerSync)
	case o.ReaderDrainTimeout < 0:
		return invalidConfig("reader drain timeout must not be negative, got %s", o.ReaderDrainTimeout)
	case o.DisableWAL && !o.AllowUnsafeNoWAL:
		return invalidConfig("disable_wal requires allow_unsafe_no_wal")
	case o.ReadOnly && o.DisableWAL:
		return invalidConfig("disable_wal has no meaning for a read-only store")
	}
	return nil
}

// pebbleOptions builds the engine options. The caller owns cache and must
// Unref it after the DB is closed.
func (o Options) pebbleOptions(cache *pebble.Cache, log pebble.Logger) *pebble.Options {
	compactions := o.MaxConcurrentCompactions
	po := &pebble.Options{
		Cache:                       cache,
		MemTableSize:                uint64(o.MemTableSize),
		MemTableStopWritesThreshold: o.MemTableStopWritesThreshold,
		L0CompactionThreshold:       o.L0CompactionThreshold,
		L0StopWritesThreshold:       o.L0StopWritesThreshold,
		LBaseMaxBytes:               o.LBaseMaxBytes,
		MaxConcurrentCompactions:    func() int { return compactions },
		MaxOpenFiles:                o.MaxOpenFiles,
		BytesPerSync:                o.BytesPerSync,
		DisableWAL:                  o.DisableWAL,
		ReadOnly:                    o.ReadOnly,
		ErrorIfNotExists:            o.ErrorIfNotExists || o.ReadOnly,
		Logger:                      log,
		FS:                          o.FS,
	}
	return po.EnsureDefaults()
}

func (o Options) fs() vfs.FS {
	if o.FS == nil {
		return vfs.Default
	}
	return o.FS
}

func (o Options) writeOptions() *pebble.WriteOptions {
	if o.DisableWAL {
		return pebble.NoSync
	}
	return pebble.Sync
}
