package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	if timer.start.IsZero() {
		t.Fatal("NewTimer() start time is zero")
	}

	sleep := 20 * time.Millisecond
	time.Sleep(sleep)

	first := timer.Duration()
	if first < sleep {
		t.Errorf("Duration() = %v, want >= %v", first, sleep)
	}
	if second := timer.Duration(); second < first {
		t.Errorf("Duration() went backwards: %v then %v", first, second)
	}
}

func TestTimerObserveDuration(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_duration_seconds",
		Help: "Test duration histogram",
	})

	NewTimer().ObserveDuration(histogram)

	if got := testutil.CollectAndCount(histogram); got != 1 {
		t.Errorf("expected 1 collected metric, got %d", got)
	}
}

func TestTimerObserveDurationVec(t *testing.T) {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_duration_vec_seconds",
		Help: "Test duration histogram vec",
	}, []string{"op"})

	NewTimer().ObserveDurationVec(vec, "allocate")
	NewTimer().ObserveDurationVec(vec, "release")

	if got := testutil.CollectAndCount(vec); got != 2 {
		t.Errorf("expected 2 label sets, got %d", got)
	}
}

type timerFakeRaft struct {
	leader bool
	stats  map[string]interface{}
}

func (f timerFakeRaft) IsLeader() bool                    { return f.leader }
func (f timerFakeRaft) RaftStats() map[string]interface{} { return f.stats }

type timerFakeRevision uint64

func (f timerFakeRevision) Revision() (uint64, error) { return uint64(f), nil }

func TestTimerCollectorCollect(t *testing.T) {
	c := NewCollector(timerFakeRaft{
		leader: true,
		stats: map[string]interface{}{
			"last_log_index": uint64(42),
			"applied_index":  uint64(40),
			"num_peers":      2,
		},
	}, timerFakeRevision(7))

	c.collect()

	checks := []struct {
		name  string
		gauge prometheus.Gauge
		want  float64
	}{
		{"leader", RaftLeader, 1},
		{"log index", RaftLogIndex, 42},
		{"applied index", RaftAppliedIndex, 40},
		{"peers", RaftPeers, 2},
		{"revision", StoreRevision, 7},
	}
	for _, check := range checks {
		if got := testutil.ToFloat64(check.gauge); got != check.want {
			t.Errorf("%s = %v, want %v", check.name, got, check.want)
		}
	}
}
