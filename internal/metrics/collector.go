// Package metrics provides in-memory counters for the status engine.
package metrics

import (
	"sync"
	"time"
)

// Counter names for the collector.
const (
	TransitionsCommitted = "transitions_committed"
	ProposalsRejected    = "proposals_rejected"
	ProposalsNoop        = "proposals_noop"
	ProgressUpdates      = "progress_updates"
	MalformedMessages    = "malformed_messages"
	MessagesReceived     = "messages_received"
	ChannelFaults        = "channel_faults"
	ChannelReconnects    = "channel_reconnects"
	CleanupsScheduled    = "cleanups_scheduled"
	CleanupsFired        = "cleanups_fired"
	CleanupsSkipped      = "cleanups_skipped"
	JobsStarted          = "jobs_started"
	JobsSucceeded        = "jobs_succeeded"
	JobsFailed           = "jobs_failed"
)

// Snapshot represents collector state at a point in time.
type Snapshot struct {
	UptimeSeconds float64          `json:"uptimeSeconds"`
	Counters      map[string]int64 `json:"counters"`
	JobTimings    *TimingSnapshot  `json:"jobTimings,omitempty"`
}

// TimingSnapshot provides computed stats for settled jobs.
type TimingSnapshot struct {
	Count     int64   `json:"count"`
	AvgTimeMs float64 `json:"avgTimeMs"`
	MinTimeMs int64   `json:"minTimeMs"`
	MaxTimeMs int64   `json:"maxTimeMs"`
}

// Collector aggregates counters and job timings.
// All methods are thread-safe and safe to call on a nil receiver.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	counters  map[string]int64

	jobCount int64
	jobTotal time.Duration
	jobMin   time.Duration
	jobMax   time.Duration
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		counters:  make(map[string]int64),
	}
}

// Inc adds one to the named counter.
func (c *Collector) Inc(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.counters[name]++
	c.mu.Unlock()
}

// Get returns the current value of a counter.
func (c *Collector) Get(name string) int64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[name]
}

// RecordJob records the duration of a settled job.
func (c *Collector) RecordJob(d time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.jobCount++
	c.jobTotal += d
	if c.jobCount == 1 || d < c.jobMin {
		c.jobMin = d
	}
	if d > c.jobMax {
		c.jobMax = d
	}
}

// Snapshot returns a copy of the current state.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{Counters: map[string]int64{}}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Counters:      make(map[string]int64, len(c.counters)),
	}
	for k, v := range c.counters {
		snap.Counters[k] = v
	}
	if c.jobCount > 0 {
		snap.JobTimings = &TimingSnapshot{
			Count:     c.jobCount,
			AvgTimeMs: float64(c.jobTotal.Milliseconds()) / float64(c.jobCount),
			MinTimeMs: c.jobMin.Milliseconds(),
			MaxTimeMs: c.jobMax.Milliseconds(),
		}
	}
	return snap
}
