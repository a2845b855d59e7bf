package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partitionstore/pkg/store"
	"partitionstore/pkg/store/keys"
	"partitionstore/pkg/store/tables"
)

// execute runs the root command with args after resetting every flag, since
// the command tree is package global.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var reset func(c *cobra.Command)
	reset = func(c *cobra.Command) {
		c.Flags().VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
		for _, sub := range c.Commands() {
			reset(sub)
		}
	}
	reset(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// seedStore writes two invocations and a marker of 7 into a fresh store.
func seedStore(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	ps, err := store.Open(1, dir, store.Options{CacheSize: 1 << 20, MemTableSize: 1 << 20})
	require.NoError(t, err)

	set := tables.For(1)
	b := ps.NewBatch()
	for i := 0; i < 2; i++ {
		inv := uuid.New()
		require.NoError(t, set.Status.Put(b, "greeter", inv, tables.InvocationStatus{Status: tables.StatusInvoked}))
		require.NoError(t, set.Journal.Put(b, inv, 0, []byte("input")))
	}
	require.NoError(t, set.Inbox.Put(b, "greeter", 1, []byte("hello")))
	require.NoError(t, b.SetAppliedSequence(7))
	require.NoError(t, ps.Commit(b))
	require.NoError(t, ps.Close())
	return dir
}

func TestMarkerCommand(t *testing.T) {
	dir := seedStore(t)
	out, err := execute(t, "marker", dir, "--partition", "1")
	require.NoError(t, err)
	assert.Equal(t, "7", strings.TrimSpace(out))
}

func TestMarkerRequiresPartition(t *testing.T) {
	dir := seedStore(t)
	_, err := execute(t, "marker", dir)
	assert.Error(t, err)
}

func TestMarkerRejectsWrongPartition(t *testing.T) {
	dir := seedStore(t)
	_, err := execute(t, "marker", dir, "--partition", "2")
	assert.Error(t, err)
}

func TestInspectCommand(t *testing.T) {
	dir := seedStore(t)

	out, err := execute(t, "inspect", dir, "--partition", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "service=greeter seq=1")
	assert.Contains(t, out, "kind=")
	assert.Equal(t, 2, strings.Count(out, "journal "))

	out, err = execute(t, "inspect", dir, "-p", "1", "--domain", "inbox")
	require.NoError(t, err)
	assert.Contains(t, out, "service=greeter seq=1")
	assert.NotContains(t, out, "journal")

	out, err = execute(t, "inspect", dir, "-p", "1", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "stopped at --limit 1")

	_, err = execute(t, "inspect", dir, "-p", "1", "--domain", "nope")
	assert.Error(t, err)
}

func TestVerifyCommand(t *testing.T) {
	dir := seedStore(t)
	out, err := execute(t, "verify", dir, "--partition", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "partition 1 OK")
	assert.Contains(t, out, "applied sequence: 7")

	_, err = execute(t, "verify", filepath.Join(dir, "missing"), "--partition", "1")
	assert.Error(t, err)
}

func TestVerifyFailsOnMalformedKey(t *testing.T) {
	dir := seedStore(t)
	db, err := pebble.Open(dir, &pebble.Options{})
	require.NoError(t, err)
	bad := append(keys.InboxServicePrefix(1, "greeter"), 0xff)
	require.NoError(t, db.Set(bad, []byte("x"), pebble.Sync))
	require.NoError(t, db.Close())

	out, err := execute(t, "verify", dir, "--partition", "1")
	require.Error(t, err)
	assert.True(t, keys.IsMalformedKey(err), "got %v", err)
	assert.Contains(t, err.Error(), "partition 1 is corrupt")
	assert.NotContains(t, out, "OK")
}

func TestDropCommand(t *testing.T) {
	dir := seedStore(t)

	_, err := execute(t, "drop", dir, "--partition", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")

	out, err := execute(t, "drop", dir, "--partition", "1", "--yes", "--compact")
	require.NoError(t, err)
	assert.Contains(t, out, "was at sequence 7")

	out, err = execute(t, "marker", dir, "--partition", "1")
	require.NoError(t, err)
	assert.Equal(t, "0", strings.TrimSpace(out))
}

func TestBenchCommand(t *testing.T) {
	out, err := execute(t, "bench", "--batches", "5", "--scanners", "1", "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "batches: 5")
	assert.Contains(t, out, "final_sequence: 5")

	_, err = execute(t, "bench", "--format", "xml")
	assert.Error(t, err)
}

func TestConfigCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("store:\n  partitions: [3, 4]\n  cache_size: 8MiB\n"), 0o644))

	out, err := execute(t, "config", "--config", cfgPath, "--root", filepath.Join(dir, "data"))
	require.NoError(t, err)
	assert.Contains(t, out, "# source: config")
	assert.Contains(t, out, filepath.Join(dir, "data"))
	assert.Contains(t, out, "*/10 * * * *")
	assert.Contains(t, out, "cache_size: 8.0 MiB")

	_, err = execute(t, "config", "--config", filepath.Join(dir, "absent.yaml"))
	assert.Error(t, err)
}
