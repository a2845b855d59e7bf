package sensor

import (
	"errors"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partitionstore/pkg/store"
)

type fakeStores map[uint64]*store.PartitionStore

func (f fakeStores) Range(fn func(id uint64, ps *store.PartitionStore) bool) {
	for id, ps := range f {
		if !fn(id, ps) {
			return
		}
	}
}

func newTestSensor(stores Stores) (*Sensor, *clock.Mock, *float64) {
	clk := clock.NewMock()
	s := NewSensor(MonitorConfig{
		PollInterval:       time.Second,
		DiskHighPct:        80,
		DiskLowPct:         60,
		MemHighPct:         90,
		CompactionDebtHigh: 1 << 30,
		RecoveryWindow:     10 * time.Second,
	}, stores, clk)
	disk := new(float64)
	s.diskUsage = func(string) (float64, error) { return *disk, nil }
	s.memUsage = func() (float64, error) { return 10, nil }
	return s, clk, disk
}

func TestDiskAlertHysteresis(t *testing.T) {
	s, clk, disk := newTestSensor(nil)

	*disk = 50
	s.check()
	assert.False(t, s.Status().DiskAlert)

	*disk = 85
	s.check()
	assert.True(t, s.Status().DiskAlert)

	// between the watermarks the alert holds
	*disk = 70
	clk.Add(time.Minute)
	s.check()
	assert.True(t, s.Status().DiskAlert)

	// below the low watermark it clears only after the recovery window
	*disk = 40
	s.check()
	assert.True(t, s.Status().DiskAlert)
	clk.Add(5 * time.Second)
	s.check()
	assert.True(t, s.Status().DiskAlert)
	clk.Add(5 * time.Second)
	s.check()
	assert.False(t, s.Status().DiskAlert)
}

func TestRecoveryWindowRestartsOnSpike(t *testing.T) {
	s, clk, disk := newTestSensor(nil)
	*disk = 90
	s.check()

	*disk = 40
	s.check()
	clk.Add(8 * time.Second)
	*disk = 95
	s.check()
	*disk = 40
	s.check()
	clk.Add(8 * time.Second)
	s.check()
	assert.True(t, s.Status().DiskAlert, "window restarted after the spike")
	clk.Add(2 * time.Second)
	s.check()
	assert.False(t, s.Status().DiskAlert)
}

func TestSampleFailureKeepsState(t *testing.T) {
	s, _, disk := newTestSensor(nil)
	*disk = 90
	s.check()
	s.diskUsage = func(string) (float64, error) { return 0, errors.New("statfs") }
	s.check()
	st := s.Status()
	assert.True(t, st.DiskAlert)
	assert.Equal(t, 90.0, st.DiskUsedPct)
	assert.NotEmpty(t, st.LastSampledAt)
}

func TestSamplesOpenStores(t *testing.T) {
	ps, err := store.Open(1, t.TempDir(), store.Options{CacheSize: 1 << 20, MemTableSize: 1 << 20})
	require.NoError(t, err)
	closed, err := store.Open(2, t.TempDir(), store.Options{CacheSize: 1 << 20, MemTableSize: 1 << 20})
	require.NoError(t, err)
	require.NoError(t, closed.Close())
	defer ps.Close()

	s, _, _ := newTestSensor(fakeStores{1: ps, 2: closed})
	s.check()
	assert.Empty(t, s.Status().DebtAlerts)
	assert.Contains(t, s.debt, uint64(1))
	assert.NotContains(t, s.debt, uint64(2), "closed stores are skipped")
}

func TestStartStopWithMockClock(t *testing.T) {
	s, clk, disk := newTestSensor(nil)
	*disk = 99
	s.Start()
	require.Eventually(t, func() bool {
		clk.Add(time.Second)
		return s.Status().DiskAlert
	}, 5*time.Second, 10*time.Millisecond)
	s.Stop()
	s.Stop()
}
