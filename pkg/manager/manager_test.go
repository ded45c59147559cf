package manager

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/netledger/pkg/codec"
	"github.com/cuemby/netledger/pkg/ledger"
	"github.com/cuemby/netledger/pkg/storage"
	"github.com/cuemby/netledger/pkg/types"
)

type testNode struct {
	*Manager
	addr      raft.ServerAddress
	transport *raft.InmemTransport
}

// newTestNode starts a manager on in-memory raft stores and transport
func newTestNode(t *testing.T, id string) *testNode {
	t.Helper()

	m, err := NewManager(&Config{NodeID: id, DataDir: t.TempDir()})
	require.NoError(t, err)

	addr, transport := raft.NewInmemTransport(raft.ServerAddress(id))
	require.NoError(t, m.start(raft.NewInmemStore(), raft.NewInmemStore(), raft.NewInmemSnapshotStore(), transport))
	t.Cleanup(func() { m.Shutdown() })

	return &testNode{Manager: m, addr: addr, transport: transport}
}

// newTestCluster bootstraps the first node alone, then adds the others as
// voters through it
func newTestCluster(t *testing.T, size int) []*testNode {
	t.Helper()

	nodes := make([]*testNode, size)
	for i := range nodes {
		nodes[i] = newTestNode(t, fmt.Sprintf("node-%d", i+1))
	}
	for _, a := range nodes {
		for _, b := range nodes {
			if a != b {
				a.transport.Connect(b.addr, b.transport)
			}
		}
	}

	leader := nodes[0]
	require.NoError(t, leader.bootstrap(leader.addr, nil))
	require.Eventually(t, leader.IsLeader, 5*time.Second, 20*time.Millisecond)

	for _, n := range nodes[1:] {
		require.NoError(t, leader.AddVoter(n.nodeID, string(n.addr)))
	}
	return nodes
}

func commitPut(t *testing.T, s storage.Store, table, key, value string) error {
	t.Helper()
	tx := s.Begin()
	defer tx.Abort()
	_, ok, err := tx.PutIfAbsent(table, key, []byte(value))
	require.NoError(t, err)
	require.True(t, ok)
	return tx.Commit()
}

func TestSingleNodeCommit(t *testing.T) {
	nodes := newTestCluster(t, 1)
	m := nodes[0]

	require.NoError(t, commitPut(t, m, "t", "a", "1"))

	tx := m.Begin()
	defer tx.Abort()
	v, ok, err := tx.Get("t", "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", string(v))

	rev, err := m.Revision()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rev)
}

func TestReplicationToFollowers(t *testing.T) {
	nodes := newTestCluster(t, 3)
	leader := nodes[0]

	require.NoError(t, commitPut(t, leader, "t", "a", "1"))
	require.NoError(t, commitPut(t, leader, "t", "b", "2"))

	for _, n := range nodes[1:] {
		follower := n
		assert.Eventually(t, func() bool {
			rev, err := follower.Revision()
			return err == nil && rev == 2
		}, 5*time.Second, 20*time.Millisecond, "follower %s did not catch up", follower.nodeID)

		tx := follower.Begin()
		v, ok, err := tx.Get("t", "b")
		tx.Abort()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "2", string(v))
	}

	servers, err := leader.Servers()
	require.NoError(t, err)
	assert.Len(t, servers, 3)
	assert.Equal(t, 3, leader.RaftStats()["num_peers"])
}

func TestFollowerRejectsCommits(t *testing.T) {
	nodes := newTestCluster(t, 2)
	follower := nodes[1]

	require.Eventually(t, func() bool { return follower.LeaderAddr() != "" }, 5*time.Second, 20*time.Millisecond)
	assert.False(t, follower.IsLeader())
	assert.Equal(t, string(nodes[0].addr), follower.LeaderAddr())

	err := commitPut(t, follower, "t", "a", "1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotLeader))
	assert.True(t, errors.Is(err, storage.ErrReadOnly))

	assert.True(t, errors.Is(follower.AddVoter("node-9", "node-9"), ErrNotLeader))
}

func TestConflictsAreDetectedByTheLog(t *testing.T) {
	nodes := newTestCluster(t, 1)
	m := nodes[0]
	require.NoError(t, commitPut(t, m, "t", "a", "1"))

	tx1 := m.Begin()
	tx2 := m.Begin()
	defer tx1.Abort()
	defer tx2.Abort()

	ok, err := tx1.Replace("t", "a", []byte("1"), []byte("x"))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = tx2.Replace("t", "a", []byte("1"), []byte("y"))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, tx1.Commit())
	assert.ErrorIs(t, tx2.Commit(), storage.ErrConflict)
}

func TestLedgerOnReplicatedStore(t *testing.T) {
	nodes := newTestCluster(t, 3)
	leader, follower := nodes[0], nodes[1]

	l, err := ledger.New(leader, codec.NewRegistry())
	require.NoError(t, err)

	device := types.Discrete(types.Opaque("of:1"))
	port := device.Child(types.Port(1))
	vlan := port.Child(types.VLAN(100))
	ok, err := l.Register([]types.Resource{device, port, vlan})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Allocate("tunnel-1", vlan)
	require.NoError(t, err)
	require.True(t, ok)

	// Reads on a follower see the leader's commits once applied
	rev, err := leader.Revision()
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		r, err := follower.Revision()
		return err == nil && r == rev
	}, 5*time.Second, 20*time.Millisecond)

	replica, err := ledger.New(follower, codec.NewRegistry())
	require.NoError(t, err)
	allocs, err := replica.GetResourceAllocations(vlan.ID)
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, types.ConsumerID("tunnel-1"), allocs[0].Consumer)

	// Mutations through a follower fail with an error, not a refusal
	ok, err = replica.Release(allocs)
	assert.False(t, ok)
	assert.ErrorIs(t, err, storage.ErrReadOnly)
}

func TestRemoveServer(t *testing.T) {
	nodes := newTestCluster(t, 3)
	leader := nodes[0]

	require.NoError(t, leader.RemoveServer("node-3"))

	servers, err := leader.Servers()
	require.NoError(t, err)
	assert.Len(t, servers, 2)
}

type bufferSink struct {
	bytes.Buffer
	cancelled bool
}

func (s *bufferSink) ID() string    { return "test" }
func (s *bufferSink) Close() error  { return nil }
func (s *bufferSink) Cancel() error { s.cancelled = true; return nil }

func TestFSMSnapshotRestore(t *testing.T) {
	src, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer src.Close()

	fsm := NewLedgerFSM(src)
	commit := storage.Commit{
		TxID: "tx-1",
		Writes: []storage.Write{
			{Table: "t", Key: "a", Value: []byte("1")},
			{Table: "u", Key: "b", Value: []byte("2")},
		},
	}
	data, err := json.Marshal(commit)
	require.NoError(t, err)
	cmd, err := json.Marshal(Command{Op: opCommit, Data: data})
	require.NoError(t, err)
	assert.Nil(t, fsm.Apply(&raft.Log{Data: cmd}))

	snap, err := fsm.Snapshot()
	require.NoError(t, err)
	sink := &bufferSink{}
	require.NoError(t, snap.Persist(sink))
	assert.False(t, sink.cancelled)

	dst, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer dst.Close()
	require.NoError(t, commitPut(t, dst, "stale", "x", "y"))

	require.NoError(t, NewLedgerFSM(dst).Restore(io.NopCloser(&sink.Buffer)))

	want, wantRev, err := src.Dump()
	require.NoError(t, err)
	got, gotRev, err := dst.Dump()
	require.NoError(t, err)
	assert.Equal(t, wantRev, gotRev)
	assert.ElementsMatch(t, want, got)
}

func TestFSMApplyErrors(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	fsm := NewLedgerFSM(store)

	resp := fsm.Apply(&raft.Log{Data: []byte("not json")})
	assert.Error(t, resp.(error))

	cmd, err := json.Marshal(Command{Op: "drop_everything"})
	require.NoError(t, err)
	resp = fsm.Apply(&raft.Log{Data: cmd})
	assert.EqualError(t, resp.(error), "unknown command: drop_everything")

	data, err := json.Marshal(storage.Commit{
		TxID:   "tx-1",
		Reads:  []storage.Read{{Table: "t", Key: "a", Version: 3}},
		Writes: []storage.Write{{Table: "t", Key: "a", Value: []byte("1")}},
	})
	require.NoError(t, err)
	cmd, err = json.Marshal(Command{Op: opCommit, Data: data})
	require.NoError(t, err)
	resp = fsm.Apply(&raft.Log{Data: cmd})
	assert.ErrorIs(t, resp.(error), storage.ErrConflict)
}
