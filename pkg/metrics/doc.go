/*
Package metrics exposes Prometheus metrics and health endpoints for netledger.

All metrics are registered with the default registry at init and served by
Handler on /metrics.

# Ledger

	netledger_ledger_operations_total{op,result}        result: success, refused, error
	netledger_ledger_failures_total{op,reason}          why a request was refused
	netledger_ledger_operation_duration_seconds{op}     transaction included
	netledger_events_published_total{type}

A refused operation is one the ledger answered with false: the resource was
already allocated, capacity was insufficient, a parent was missing, another
transaction won a conflict, and so on. Errors are storage or transport
failures.

# Store and raft

	netledger_store_commits_total{result}
	netledger_store_revision
	netledger_raft_is_leader
	netledger_raft_peers_total
	netledger_raft_log_index
	netledger_raft_applied_index
	netledger_raft_apply_duration_seconds

Gauges derived from raft state are refreshed every 15 seconds by a Collector.

# Health

HealthChecker aggregates the health reported by components. /health is
unhealthy as soon as one component is; /ready stays not_ready until every
critical component (raft and store for a server) has reported healthy.

# Usage

	timer := metrics.NewTimer()
	ok, err := l.Allocate(consumer, resources...)
	timer.ObserveDurationVec(metrics.LedgerOperationDuration, "allocate")

	http.Handle("/metrics", metrics.Handler())
*/
package metrics
