package tables

import (
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partitionstore/pkg/store"
	"partitionstore/pkg/store/keys"
)

func openStore(t *testing.T, id uint64, dir string) *store.PartitionStore {
	t.Helper()
	s, err := store.Open(id, dir, store.Options{CacheSize: 1 << 20, MemTableSize: 1 << 20})
	require.NoError(t, err)
	return s
}

func commit(t *testing.T, s *store.PartitionStore, stage func(b *store.Batch)) {
	t.Helper()
	b := s.NewBatch()
	stage(b)
	require.NoError(t, s.Commit(b))
}

func TestInboxSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, 1, dir)
	inbox := NewInboxTable(1)
	commit(t, s, func(b *store.Batch) {
		for seq := uint64(1); seq <= 5; seq++ {
			require.NoError(t, inbox.Put(b, "A", seq, []byte(fmt.Sprintf("inv-%d", seq))))
		}
		require.NoError(t, inbox.Put(b, "AB", 1, []byte("other service")))
		require.NoError(t, b.SetAppliedSequence(17))
	})
	require.NoError(t, s.Close())

	s = openStore(t, 1, dir)
	defer s.Close()
	entries, err := inbox.Scan(s, "A", SeqRange{}, ScanOptions{}).All()
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i, e := range entries {
		assert.Equal(t, uint64(i+1), e.Key.Seq)
		assert.Equal(t, "A", e.Key.Service)
		assert.Equal(t, fmt.Sprintf("inv-%d", i+1), string(e.Value))
	}
	seq, err := s.LastAppliedSequence()
	require.NoError(t, err)
	assert.Equal(t, uint64(17), seq)
}

func TestInboxQueueOperations(t *testing.T) {
	s := openStore(t, 2, t.TempDir())
	defer s.Close()
	inbox := NewInboxTable(2)
	commit(t, s, func(b *store.Batch) {
		for _, seq := range []uint64{7, 3, 5} {
			require.NoError(t, inbox.Put(b, "svc", seq, []byte{byte(seq)}))
		}
	})

	head, ok, err := inbox.Peek(s, "svc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(3), head.Key.Seq)

	b := s.NewBatch()
	popped, ok, err := inbox.Pop(s, b, "svc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(3), popped.Key.Seq)
	require.NoError(t, s.Commit(b))

	n, err := inbox.Len(s, "svc")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ranged, err := inbox.Scan(s, "svc", SeqRange{From: 5, To: 7}, ScanOptions{}).All()
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, uint64(5), ranged[0].Key.Seq)

	_, ok, err = inbox.Peek(s, "empty")
	require.NoError(t, err)
	assert.False(t, ok)

	require.Error(t, inbox.Put(s.NewBatch(), "", 1, nil))
}

func TestScanResumesFromCursor(t *testing.T) {
	s := openStore(t, 1, t.TempDir())
	defer s.Close()
	outbox := NewOutboxTable(1)
	commit(t, s, func(b *store.Batch) {
		for seq := uint64(1); seq <= 10; seq++ {
			require.NoError(t, outbox.Put(b, seq, nil))
		}
	})

	var got []uint64
	var cursor Cursor
	for {
		sc := outbox.Scan(s, SeqRange{}, ScanOptions{After: cursor, Limit: 3})
		n := 0
		for sc.Next() {
			got = append(got, sc.Key().Seq)
			cursor = sc.Cursor()
			n++
		}
		require.NoError(t, sc.Err())
		require.NoError(t, sc.Close())
		if n == 0 {
			break
		}
	}
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, got)
}

func TestOutboxTruncate(t *testing.T) {
	s := openStore(t, 1, t.TempDir())
	defer s.Close()
	outbox := NewOutboxTable(1)
	commit(t, s, func(b *store.Batch) {
		for seq := uint64(1); seq <= 6; seq++ {
			require.NoError(t, outbox.Put(b, seq, []byte{byte(seq)}))
		}
	})
	commit(t, s, func(b *store.Batch) {
		require.NoError(t, outbox.TruncateBefore(b, 4))
	})

	head, ok, err := outbox.Head(s)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(4), head.Key.Seq)
	_, ok, err = outbox.Get(s, 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTimersScanInFireOrder(t *testing.T) {
	s := openStore(t, 5, t.TempDir())
	defer s.Close()
	timers := NewTimerTable(5)

	base := time.UnixMilli(1_700_000_000_000)
	lo := uuid.UUID{0x01}
	hi := uuid.UUID{0x02}
	want := []keys.TimerKey{
		timers.Key(base, lo, 0),
		timers.Key(base, lo, 1),
		timers.Key(base, hi, 0),
		timers.Key(base.Add(time.Second), lo, 0),
		timers.Key(base.Add(time.Hour), hi, 3),
	}
	commit(t, s, func(b *store.Batch) {
		for i := len(want) - 1; i >= 0; i-- {
			require.NoError(t, timers.Put(b, want[i], []byte("t")))
		}
	})

	all, err := timers.Scan(s, ScanOptions{}).All()
	require.NoError(t, err)
	var got []keys.TimerKey
	for _, e := range all {
		got = append(got, e.Key)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("timer order mismatch (-want +got):\n%s", diff)
	}

	due, err := timers.ScanDue(s, base.Add(time.Second), 0).All()
	require.NoError(t, err)
	assert.Len(t, due, 4)

	limited, err := timers.ScanDue(s, base.Add(time.Hour), 2).All()
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	after, err := timers.ScanAfter(s, &want[1], 10).All()
	require.NoError(t, err)
	require.Len(t, after, 3)
	assert.Equal(t, want[2], after[0].Key)

	first, err := timers.ScanAfter(s, nil, 1).All()
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, want[0], first[0].Key)
}

func TestJournalLengthAndDeleteAll(t *testing.T) {
	s := openStore(t, 1, t.TempDir())
	defer s.Close()
	journal := NewJournalTable(1)
	inv := keys.NewInvocationID()
	other := keys.NewInvocationID()
	commit(t, s, func(b *store.Batch) {
		for i := uint32(0); i < 4; i++ {
			require.NoError(t, journal.Put(b, inv, i, []byte{byte(i)}))
		}
		require.NoError(t, journal.Put(b, other, 0, []byte("keep")))
	})

	n, err := journal.Length(s, inv)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), n)

	entries, err := journal.Scan(s, inv, ScanOptions{}).All()
	require.NoError(t, err)
	for i, e := range entries {
		assert.Equal(t, uint32(i), e.Key.Index)
	}

	commit(t, s, func(b *store.Batch) {
		require.NoError(t, journal.DeleteAll(b, inv))
	})
	n, err = journal.Length(s, inv)
	require.NoError(t, err)
	assert.Zero(t, n)
	v, ok, err := journal.Get(s, other, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "keep", string(v))

	require.Error(t, journal.Put(s.NewBatch(), uuid.Nil, 0, nil))
}

func TestStatusRoundTrip(t *testing.T) {
	s := openStore(t, 1, t.TempDir())
	defer s.Close()
	status := NewStatusTable(1)
	inv := keys.NewInvocationID()
	want := InvocationStatus{
		Status:     StatusSuspended,
		RetryCount: 2,
		CreatedAt:  time.UnixMilli(1_700_000_000_000),
		ModifiedAt: time.UnixMilli(1_700_000_500_000),
		Payload:    []byte("payload"),
	}
	commit(t, s, func(b *store.Batch) {
		require.NoError(t, status.Put(b, "greeter", inv, want))
		require.NoError(t, status.Put(b, "other", keys.NewInvocationID(), InvocationStatus{Status: StatusInvoked}))
	})

	got, ok, err := status.Get(s, "greeter", inv)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.RetryCount, got.RetryCount)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, want.ModifiedAt.Equal(got.ModifiedAt))
	assert.Equal(t, want.Payload, got.Payload)

	byService, err := status.ScanService(s, "greeter", ScanOptions{}).All()
	require.NoError(t, err)
	require.Len(t, byService, 1)
	assert.Equal(t, inv, byService[0].Key.Invocation)

	all, err := status.ScanAll(s, ScanOptions{}).All()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.Error(t, status.Put(s.NewBatch(), "greeter", inv, InvocationStatus{}))
}

func TestDecodeStatusRejectsGarbage(t *testing.T) {
	valid := InvocationStatus{Status: StatusCompleted}.Encode()
	cases := map[string][]byte{
		"short":          valid[:5],
		"bad version":    append([]byte{9}, valid[1:]...),
		"unknown status": append([]byte{valid[0], 42}, valid[2:]...),
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeStatus(raw)
			require.Error(t, err)
			assert.True(t, IsMalformedValue(err))
			assert.True(t, store.IsCorrupt(err))
		})
	}
	assert.True(t, StatusFree.Terminal())
	assert.False(t, StatusInvoked.Terminal())
}

func TestDedup(t *testing.T) {
	s := openStore(t, 1, t.TempDir())
	defer s.Close()
	dedup := NewDedupTable(1)
	ingress := keys.IngressProducer("http")
	peer := keys.PartitionProducer(9)

	dup, err := dedup.IsDuplicate(s, ingress, 1)
	require.NoError(t, err)
	assert.False(t, dup, "unknown producer is never a duplicate")

	commit(t, s, func(b *store.Batch) {
		require.NoError(t, dedup.Put(b, ingress, 10))
		require.NoError(t, dedup.Put(b, peer, 3))
	})
	for _, tc := range []struct {
		producer keys.ProducerID
		seq      uint64
		want     bool
	}{
		{ingress, 9, true},
		{ingress, 10, true},
		{ingress, 11, false},
		{peer, 3, true},
		{peer, 4, false},
	} {
		dup, err := dedup.IsDuplicate(s, tc.producer, tc.seq)
		require.NoError(t, err)
		assert.Equal(t, tc.want, dup, "%s seq %d", tc.producer, tc.seq)
	}

	all, err := dedup.ScanAll(s, ScanOptions{}).All()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, peer, all[0].Key.Producer, "partition producers sort first")

	require.Error(t, dedup.Put(s.NewBatch(), keys.IngressProducer(""), 1))
}

func TestStateDeleteService(t *testing.T) {
	s := openStore(t, 1, t.TempDir())
	defer s.Close()
	state := NewStateTable(1)
	commit(t, s, func(b *store.Batch) {
		require.NoError(t, state.Put(b, "cart", "alice", []byte("items"), []byte("3")))
		require.NoError(t, state.Put(b, "cart", "alice", []byte("total"), []byte("42")))
		require.NoError(t, state.Put(b, "cart", "alicia", []byte("items"), []byte("1")))
	})

	entries, err := state.ScanService(s, "cart", "alice", ScanOptions{}).All()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, []byte("items"), entries[0].Key.Key)

	commit(t, s, func(b *store.Batch) {
		require.NoError(t, state.DeleteService(b, "cart", "alice"))
	})
	entries, err = state.ScanService(s, "cart", "alice", ScanOptions{}).All()
	require.NoError(t, err)
	assert.Empty(t, entries)
	v, ok, err := state.Get(s, "cart", "alicia", []byte("items"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", string(v))
}

func TestScanWithSnapshot(t *testing.T) {
	s := openStore(t, 1, t.TempDir())
	defer s.Close()
	outbox := NewOutboxTable(1)
	commit(t, s, func(b *store.Batch) { require.NoError(t, outbox.Put(b, 1, nil)) })

	snap, err := s.NewSnapshot()
	require.NoError(t, err)
	defer snap.Close()
	commit(t, s, func(b *store.Batch) { require.NoError(t, outbox.Put(b, 2, nil)) })

	old, err := outbox.Scan(snap, SeqRange{}, ScanOptions{}).All()
	require.NoError(t, err)
	assert.Len(t, old, 1)
	cur, err := outbox.Scan(s, SeqRange{}, ScanOptions{}).All()
	require.NoError(t, err)
	assert.Len(t, cur, 2)
}

func TestReaderOfOtherPartition(t *testing.T) {
	s := openStore(t, 1, t.TempDir())
	defer s.Close()

	_, _, err := NewOutboxTable(2).Get(s, 1)
	assert.ErrorIs(t, err, store.ErrPartitionMismatch)
	_, err = NewOutboxTable(2).Scan(s, SeqRange{}, ScanOptions{}).All()
	assert.ErrorIs(t, err, store.ErrPartitionMismatch)
}

func TestScanPartitionDecodesEveryDomain(t *testing.T) {
	s := openStore(t, 3, t.TempDir())
	defer s.Close()
	set := For(3)
	inv := keys.NewInvocationID()
	commit(t, s, func(b *store.Batch) {
		require.NoError(t, set.Status.Put(b, "svc", inv, InvocationStatus{Status: StatusInvoked}))
		require.NoError(t, set.Inbox.Put(b, "svc", 1, nil))
		require.NoError(t, set.Outbox.Put(b, 1, nil))
		require.NoError(t, set.Timer.Put(b, set.Timer.Key(time.Now(), inv, 0), nil))
		require.NoError(t, set.Journal.Put(b, inv, 0, nil))
		require.NoError(t, set.Dedup.Put(b, keys.PartitionProducer(1), 1))
		require.NoError(t, set.State.Put(b, "svc", "k", []byte("s"), nil))
		require.NoError(t, b.SetAppliedSequence(1))
	})

	all, err := ScanPartition(s, ScanOptions{}).All()
	require.NoError(t, err)
	var domains []keys.Domain
	for _, e := range all {
		domains = append(domains, e.Key.Domain())
	}
	// the meta domain holds the marker and the descriptor
	assert.Equal(t, append(keys.Domains(), keys.DomainMeta), domains)

	journal, err := ScanDomain(s, keys.DomainJournal, ScanOptions{}).All()
	require.NoError(t, err)
	assert.Len(t, journal, 1)
}

// writeRaw puts a key into a closed store without going through the codec.
func writeRaw(t *testing.T, dir string, key, value []byte) {
	t.Helper()
	db, err := pebble.Open(dir, &pebble.Options{})
	require.NoError(t, err)
	require.NoError(t, db.Set(key, value, pebble.Sync))
	require.NoError(t, db.Close())
}

func TestScanSurfacesMalformedKey(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, 1, dir)
	inbox := NewInboxTable(1)
	commit(t, s, func(b *store.Batch) {
		for seq := uint64(1); seq <= 3; seq++ {
			require.NoError(t, inbox.Put(b, "A", seq, []byte("inv")))
		}
	})
	require.NoError(t, s.Close())

	// a sequence of three bytes sorts after the valid entries of service A
	bad := append(keys.InboxServicePrefix(1, "A"), 0x01, 0x02, 0x03)
	writeRaw(t, dir, bad, []byte("garbage"))

	s = openStore(t, 1, dir)
	defer s.Close()

	sc := inbox.Scan(s, "A", SeqRange{}, ScanOptions{})
	var seen []uint64
	for sc.Next() {
		seen = append(seen, sc.Key().Seq)
	}
	err := sc.Err()
	require.Error(t, err)
	assert.True(t, keys.IsMalformedKey(err), "got %v", err)
	assert.Equal(t, []uint64{1, 2, 3}, seen)
	require.NoError(t, sc.Close())

	_, err = ScanPartition(s, ScanOptions{}).All()
	assert.True(t, keys.IsMalformedKey(err), "got %v", err)
}
