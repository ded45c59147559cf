package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fakeRaft struct {
	leader bool
	stats  map[string]interface{}
}

func (f fakeRaft) IsLeader() bool                    { return f.leader }
func (f fakeRaft) RaftStats() map[string]interface{} { return f.stats }

type fakeRevision struct {
	rev uint64
	err error
}

func (f fakeRevision) Revision() (uint64, error) { return f.rev, f.err }

func TestCollectorCollect(t *testing.T) {
	c := NewCollector(fakeRaft{
		leader: true,
		stats: map[string]interface{}{
			"last_log_index": uint64(42),
			"applied_index":  uint64(40),
			"num_peers":      3,
		},
	}, fakeRevision{rev: 17})
	c.collect()

	assert.Equal(t, 1.0, testutil.ToFloat64(RaftLeader))
	assert.Equal(t, 42.0, testutil.ToFloat64(RaftLogIndex))
	assert.Equal(t, 40.0, testutil.ToFloat64(RaftAppliedIndex))
	assert.Equal(t, 3.0, testutil.ToFloat64(RaftPeers))
	assert.Equal(t, 17.0, testutil.ToFloat64(StoreRevision))

	// A failing store leaves the last value in place
	c = NewCollector(fakeRaft{}, fakeRevision{err: errors.New("closed")})
	c.collect()
	assert.Equal(t, 0.0, testutil.ToFloat64(RaftLeader))
	assert.Equal(t, 17.0, testutil.ToFloat64(StoreRevision))
}

func TestCollectorNilSources(t *testing.T) {
	c := NewCollector(nil, nil)
	assert.NotPanics(t, c.collect)

	c.Start()
	c.Stop()
}
