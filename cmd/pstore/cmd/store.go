package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"partitionstore/pkg/store"
	"partitionstore/pkg/store/keys"
)

// addPartitionFlag registers the --partition flag shared by the store
// maintenance commands.
func addPartitionFlag(c *cobra.Command) {
	c.Flags().Uint64P("partition", "p", 0, "partition id the store directory belongs to")
	_ = c.MarkFlagRequired("partition")
}

// openStore opens the store under path. The directory must already hold a
// store; maintenance commands never create one.
func openStore(cmd *cobra.Command, path string, readOnly bool) (*store.PartitionStore, error) {
	id, err := cmd.Flags().GetUint64("partition")
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("store directory: %w", err)
	}
	ps, err := store.Open(id, path, store.Options{ReadOnly: readOnly, ErrorIfNotExists: true})
	if err != nil {
		return nil, fmt.Errorf("open partition %d at %s: %w", id, path, err)
	}
	return ps, nil
}

func closeStore(cmd *cobra.Command, ps *store.PartitionStore) {
	if err := ps.Close(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "close %s: %v\n", ps.Path(), err)
	}
}

// describeKey renders the fields of a decoded key.
func describeKey(k keys.Key) string {
	switch k := k.(type) {
	case keys.StatusKey:
		return fmt.Sprintf("service=%s invocation=%s", k.Service, k.Invocation)
	case keys.InboxKey:
		return fmt.Sprintf("service=%s seq=%d", k.Service, k.Seq)
	case keys.OutboxKey:
		return fmt.Sprintf("seq=%d", k.Seq)
	case keys.TimerKey:
		return fmt.Sprintf("fire_at=%d invocation=%s index=%d", k.FireAt, k.Invocation, k.Index)
	case keys.JournalKey:
		return fmt.Sprintf("invocation=%s index=%d", k.Invocation, k.Index)
	case keys.DedupKey:
		return fmt.Sprintf("producer=%s", k.Producer)
	case keys.StateKey:
		return fmt.Sprintf("service=%s key=%s state_key=%q", k.ServiceName, k.ServiceKey, k.Key)
	case keys.MetaKey:
		return fmt.Sprintf("kind=%s", k.Kind)
	default:
		return fmt.Sprintf("%v", k)
	}
}
