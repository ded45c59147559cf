package manager

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"

	"github.com/cuemby/netledger/pkg/log"
	"github.com/cuemby/netledger/pkg/metrics"
	"github.com/cuemby/netledger/pkg/storage"
)

// applyTimeout bounds how long a commit may wait to be enqueued in the log
const applyTimeout = 5 * time.Second

// ErrNotLeader is returned when a commit is submitted to a follower. It
// wraps storage.ErrReadOnly: followers still serve reads.
var ErrNotLeader = fmt.Errorf("not the raft leader: %w", storage.ErrReadOnly)

// Manager is a ledger node. It replicates transaction commits through Raft
// and implements storage.Store, so a ledger can run directly on top of it:
// reads come from the local bolt copy, commits go through the log.
type Manager struct {
	nodeID   string
	bindAddr string
	dataDir  string
	logger   zerolog.Logger

	raft   *raft.Raft
	fsm    *LedgerFSM
	store  *storage.BoltStore
	closer []func() error
}

// Config holds configuration for creating a Manager
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// NewManager opens the local store of a node. Raft is started by Bootstrap
// or Join.
func NewManager(cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	return &Manager{
		nodeID:   cfg.NodeID,
		bindAddr: cfg.BindAddr,
		dataDir:  cfg.DataDir,
		logger:   log.WithComponent("manager").With().Str("node_id", cfg.NodeID).Logger(),
		fsm:      NewLedgerFSM(store),
		store:    store,
	}, nil
}

func (m *Manager) raftConfig() *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.nodeID)
	config.LogOutput = m.logger

	// Tuned for LAN deployments: followers start an election after 500ms
	// without a heartbeat, failover completes in a few seconds.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	return config
}

// openRaft builds the on-disk Raft stores and the TCP transport
func (m *Manager) openRaft() (raft.Transport, error) {
	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, m.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	m.closer = append(m.closer, transport.Close)

	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, m.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create log store: %w", err)
	}
	m.closer = append(m.closer, logStore.Close)

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create stable store: %w", err)
	}
	m.closer = append(m.closer, stableStore.Close)

	return transport, m.start(logStore, stableStore, snapshotStore, transport)
}

func (m *Manager) start(logs raft.LogStore, stable raft.StableStore, snaps raft.SnapshotStore, transport raft.Transport) error {
	r, err := raft.NewRaft(m.raftConfig(), m.fsm, logs, stable, snaps, transport)
	if err != nil {
		return fmt.Errorf("failed to create raft: %w", err)
	}
	m.raft = r
	return nil
}

// Bootstrap starts Raft and initializes a new cluster made of this node and
// the given peers. Bootstrapping a node that already holds state is a no-op.
func (m *Manager) Bootstrap(peers ...raft.Server) error {
	transport, err := m.openRaft()
	if err != nil {
		return err
	}
	return m.bootstrap(transport.LocalAddr(), peers)
}

func (m *Manager) bootstrap(self raft.ServerAddress, peers []raft.Server) error {
	configuration := raft.Configuration{
		Servers: append([]raft.Server{{
			ID:      raft.ServerID(m.nodeID),
			Address: self,
		}}, peers...),
	}

	future := m.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}

	m.logger.Info().
		Int("servers", len(configuration.Servers)).
		Msg("Cluster bootstrapped")
	return nil
}

// Join starts Raft without bootstrapping. The node becomes a member once the
// leader adds it with AddVoter, or if it was listed as a peer at bootstrap.
func (m *Manager) Join() error {
	if _, err := m.openRaft(); err != nil {
		return err
	}
	m.logger.Info().Str("bind_addr", m.bindAddr).Msg("Waiting to be added to the cluster")
	return nil
}

// AddVoter adds a node to the cluster. It must be called on the leader.
func (m *Manager) AddVoter(nodeID, address string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	if !m.IsLeader() {
		return fmt.Errorf("%w, current leader: %s", ErrNotLeader, m.LeaderAddr())
	}

	future := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter: %w", err)
	}

	m.logger.Info().Str("voter", nodeID).Str("address", address).Msg("Added voter")
	return nil
}

// RemoveServer removes a node from the cluster. It must be called on the
// leader.
func (m *Manager) RemoveServer(nodeID string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	if !m.IsLeader() {
		return ErrNotLeader
	}

	future := m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to remove server: %w", err)
	}

	m.logger.Info().Str("server", nodeID).Msg("Removed server")
	return nil
}

// Servers returns the current cluster configuration
func (m *Manager) Servers() ([]raft.Server, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("raft not initialized")
	}

	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}

	return future.Configuration().Servers, nil
}

// IsLeader returns true if this node is the Raft leader
func (m *Manager) IsLeader() bool {
	if m.raft == nil {
		return false
	}
	return m.raft.State() == raft.Leader
}

// LeaderAddr returns the address of the current Raft leader
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	addr, _ := m.raft.LeaderWithID()
	return string(addr)
}

// WaitForLeader blocks until the cluster has a leader or timeout elapses
func (m *Manager) WaitForLeader(timeout time.Duration) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(timeout)

	for {
		if m.LeaderAddr() != "" {
			return nil
		}
		select {
		case <-ticker.C:
		case <-deadline:
			return fmt.Errorf("no leader elected after %s", timeout)
		}
	}
}

// RaftStats returns the Raft figures exported as metrics
func (m *Manager) RaftStats() map[string]interface{} {
	if m.raft == nil {
		return nil
	}

	stats := make(map[string]interface{})
	stats["state"] = m.raft.State().String()
	stats["last_log_index"] = m.raft.LastIndex()
	stats["applied_index"] = m.raft.AppliedIndex()
	stats["leader"] = m.LeaderAddr()
	if servers, err := m.Servers(); err == nil {
		stats["num_peers"] = len(servers)
	}

	return stats
}

// Revision returns the revision of the last commit applied locally
func (m *Manager) Revision() (uint64, error) {
	return m.store.Revision()
}

// Begin starts a transaction reading the local copy of the store
func (m *Manager) Begin() storage.Tx {
	return storage.NewTx(m)
}

// Snapshot returns a read view of the local copy of the store
func (m *Manager) Snapshot() (storage.Snapshot, error) {
	return m.store.Snapshot()
}

// Apply proposes c to the log and waits until it is applied locally. The
// commit is validated by the state machine, so a stale read on this node
// surfaces as storage.ErrConflict, never as a lost update.
func (m *Manager) Apply(c *storage.Commit) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("%w, current leader: %s", ErrNotLeader, m.LeaderAddr())
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal commit: %w", err)
	}
	cmd, err := json.Marshal(Command{Op: opCommit, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	timer := metrics.NewTimer()
	future := m.raft.Apply(cmd, applyTimeout)
	err = future.Error()
	timer.ObserveDuration(metrics.RaftApplyDuration)
	if err != nil {
		if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) {
			return fmt.Errorf("%w: %v", ErrNotLeader, err)
		}
		return fmt.Errorf("failed to apply command: %w", err)
	}

	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}

	return nil
}

// Close shuts the node down
func (m *Manager) Close() error {
	return m.Shutdown()
}

// Shutdown stops Raft and closes every store
func (m *Manager) Shutdown() error {
	if m.raft != nil {
		future := m.raft.Shutdown()
		if err := future.Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %w", err)
		}
		m.raft = nil
	}

	for i := len(m.closer) - 1; i >= 0; i-- {
		if err := m.closer[i](); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to close raft store")
		}
	}
	m.closer = nil

	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}
		m.store = nil
	}

	m.logger.Info().Msg("Manager stopped")
	return nil
}
