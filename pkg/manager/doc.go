/*
Package manager replicates the ledger's store across a cluster of nodes with
Raft consensus.

Each node keeps a full copy of the store in a local bolt file. Transactions
read that copy; their commits are proposed to the Raft log and applied, in
log order, on every node by LedgerFSM:

	┌──────────────── NODE ────────────────┐
	│  ledger.Ledger                       │
	│      │ Begin / Commit                │
	│  ┌───▼──────────────────────────┐    │
	│  │ Manager (storage.Store)      │    │
	│  │  reads ──► local BoltStore   │    │
	│  │  commits ─► raft.Apply       │    │
	│  └───┬──────────────────────────┘    │
	│  ┌───▼──────────────────────────┐    │
	│  │ Raft (log + stable in bolt,  │◄───┼──► peers
	│  │ file snapshots, TCP)         │    │
	│  └───┬──────────────────────────┘    │
	│  ┌───▼──────────────────────────┐    │
	│  │ LedgerFSM ─► BoltStore.Apply │    │
	│  └──────────────────────────────┘    │
	└──────────────────────────────────────┘

A commit carries the versions of every key its transaction read. The FSM
validates them against the state produced by all earlier log entries, so two
transactions that read the same key and were proposed concurrently cannot
both apply: the later one returns storage.ErrConflict to its caller. Reads on
a node that lags behind only cause conflicts, never lost updates.

Only the leader accepts commits. On a follower, Apply fails with
ErrNotLeader, which wraps storage.ErrReadOnly; reads keep working.

# Membership

Bootstrap initializes a cluster from this node and an optional list of
peers. Join starts a node that waits for the leader to add it with AddVoter.
RemoveServer takes a node out of the configuration.

# Usage

	m, err := manager.NewManager(&manager.Config{
		NodeID:   "node-1",
		BindAddr: "10.0.0.1:7946",
		DataDir:  "/var/lib/netledger",
	})
	if err != nil {
		return err
	}
	defer m.Shutdown()

	if err := m.Bootstrap(); err != nil {
		return err
	}
	if err := m.WaitForLeader(10 * time.Second); err != nil {
		return err
	}

	l, err := ledger.New(m, codec.NewRegistry())

Raft statistics are exposed through RaftStats for metrics.Collector.
*/
package manager
