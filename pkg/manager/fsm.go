package manager

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/cuemby/netledger/pkg/metrics"
	"github.com/cuemby/netledger/pkg/storage"
)

// opCommit is the only operation carried by the log today
const opCommit = "commit"

// Command is one entry of the Raft log
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// LedgerFSM applies replicated transaction commits to the local bolt store.
// Every node validates each commit against the same ordered history, so a
// commit that conflicts on one node conflicts on all of them.
type LedgerFSM struct {
	mu    sync.RWMutex
	store *storage.BoltStore
}

// NewLedgerFSM returns an FSM writing to store
func NewLedgerFSM(store *storage.BoltStore) *LedgerFSM {
	return &LedgerFSM{store: store}
}

// Apply is called by Raft once a log entry is committed. The returned value
// is the commit error, nil on success.
func (f *LedgerFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case opCommit:
		var c storage.Commit
		if err := json.Unmarshal(cmd.Data, &c); err != nil {
			return fmt.Errorf("failed to unmarshal commit: %w", err)
		}
		err := f.store.Apply(&c)
		switch {
		case err == nil:
			metrics.StoreCommits.WithLabelValues(metrics.ResultSuccess).Inc()
		case errors.Is(err, storage.ErrConflict):
			metrics.StoreCommits.WithLabelValues(metrics.ResultConflict).Inc()
		default:
			metrics.StoreCommits.WithLabelValues(metrics.ResultError).Inc()
		}
		return err

	default:
		return fmt.Errorf("unknown command: %s", cmd.Op)
	}
}

// Snapshot captures every entry of the local store so Raft can compact its log
func (f *LedgerFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entries, rev, err := f.store.Dump()
	if err != nil {
		return nil, fmt.Errorf("failed to dump store: %w", err)
	}
	return &ledgerSnapshot{Revision: rev, Entries: entries}, nil
}

// Restore replaces the local store with the content of a snapshot
func (f *LedgerFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot ledgerSnapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.store.Restore(snapshot.Entries, snapshot.Revision); err != nil {
		return fmt.Errorf("failed to restore store: %w", err)
	}
	return nil
}

// ledgerSnapshot is a point-in-time copy of the store
type ledgerSnapshot struct {
	Revision uint64          `json:"revision"`
	Entries  []storage.Entry `json:"entries"`
}

// Persist writes the snapshot to sink
func (s *ledgerSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}

	return err
}

// Release is a no-op, the snapshot holds no resources
func (s *ledgerSnapshot) Release() {}
