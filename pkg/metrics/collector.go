package metrics

import (
	"time"
)

// RaftSource is what the collector reads raft state from
type RaftSource interface {
	IsLeader() bool
	RaftStats() map[string]interface{}
}

// RevisionSource reports the revision of the local store
type RevisionSource interface {
	Revision() (uint64, error)
}

// Collector periodically refreshes the gauges that cannot be updated inline
type Collector struct {
	raft     RaftSource
	store    RevisionSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector. store may be nil.
func NewCollector(raft RaftSource, store RevisionSource) *Collector {
	return &Collector{
		raft:     raft,
		store:    store,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectRaftMetrics()
	c.collectStoreMetrics()
}

func (c *Collector) collectRaftMetrics() {
	if c.raft == nil {
		return
	}

	if c.raft.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}

	stats := c.raft.RaftStats()
	if stats == nil {
		return
	}
	if lastIndex, ok := stats["last_log_index"].(uint64); ok {
		RaftLogIndex.Set(float64(lastIndex))
	}
	if appliedIndex, ok := stats["applied_index"].(uint64); ok {
		RaftAppliedIndex.Set(float64(appliedIndex))
	}
	if peers, ok := stats["num_peers"].(int); ok {
		RaftPeers.Set(float64(peers))
	}
}

func (c *Collector) collectStoreMetrics() {
	if c.store == nil {
		return
	}
	rev, err := c.store.Revision()
	if err != nil {
		return
	}
	StoreRevision.Set(float64(rev))
}
