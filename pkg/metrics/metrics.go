package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels for LedgerOperations and StoreCommits
const (
	ResultSuccess = "success"
	ResultRefused = "refused"
	ResultError   = "error"

	// ResultConflict counts commits rejected by version validation
	ResultConflict = "conflict"
)

var (
	// Ledger metrics
	LedgerOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netledger_ledger_operations_total",
			Help: "Total number of ledger operations by operation and result",
		},
		[]string{"op", "result"},
	)

	LedgerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netledger_ledger_failures_total",
			Help: "Refused ledger operations by operation and reason",
		},
		[]string{"op", "reason"},
	)

	LedgerOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netledger_ledger_operation_duration_seconds",
			Help:    "Ledger operation duration in seconds, transaction included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netledger_events_published_total",
			Help: "Total number of ledger events published by type",
		},
		[]string{"type"},
	)

	// Store metrics
	StoreCommits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netledger_store_commits_total",
			Help: "Total number of applied transaction commits by result",
		},
		[]string{"result"},
	)

	StoreRevision = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "netledger_store_revision",
			Help: "Revision of the last commit applied to the local store",
		},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "netledger_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "netledger_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "netledger_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "netledger_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "netledger_raft_apply_duration_seconds",
			Help:    "Time from proposing a commit to the log until it is applied",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(LedgerOperations)
	prometheus.MustRegister(LedgerFailures)
	prometheus.MustRegister(LedgerOperationDuration)
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(StoreCommits)
	prometheus.MustRegister(StoreRevision)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
