// Package metricssurface aggregates rolling counters and windowed
// statistics about swarm coordination and exposes them as a single
// snapshot for external observers, the way the teacher's metrics
// collector aggregates per-agent token/cost counters into periodic
// snapshots.
package metricssurface

import (
	"sort"
	"sync"
	"time"
)

const (
	maxConsensusSamples = 1000
	maxDispatchSamples  = 1000
)

// LiveGauges carries point-in-time values the collector cannot derive on
// its own — they live in the registry, tree, health monitor, and balancer,
// and are supplied by the composition root at snapshot time rather than
// duplicated into the collector.
type LiveGauges struct {
	TotalAgentsManaged      int
	ActiveCoordinationNodes int
	HealthyAgents           int
	DegradedAgents          int
	FailedAgents            int
	PendingRecoveries       int
	GlobalQueueSize         int
}

// Snapshot is the single point-in-time view exposed to external
// observers via the administrative HTTP surface.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	TotalAgentsManaged      int `json:"totalAgentsManaged"`
	ActiveCoordinationNodes int `json:"activeCoordinationNodes"`
	HealthyAgents           int `json:"healthyAgents"`
	DegradedAgents          int `json:"degradedAgents"`
	FailedAgents            int `json:"failedAgents"`
	PendingRecoveries       int `json:"pendingRecoveries"`
	GlobalQueueSize         int `json:"globalQueueSize"`

	TasksCoordinated       uint64 `json:"tasksCoordinated"`
	WorkStealingOperations uint64 `json:"workStealingOperations"`
	RebalancingOperations  uint64 `json:"rebalancingOperations"`
	AgentFailures          uint64 `json:"agentFailures"`
	AgentRecoveries        uint64 `json:"agentRecoveries"`

	TotalProposals       uint64  `json:"totalProposals"`
	ApprovedProposals    uint64  `json:"approved"`
	RejectedProposals    uint64  `json:"rejected"`
	TimedOutProposals    uint64  `json:"timedOut"`
	AvgConsensusTimeMS   float64 `json:"avgConsensusTime"`
	AvgParticipationRate float64 `json:"avgParticipationRate"`

	DispatchLatencyEMAMS float64   `json:"dispatchLatencyEma"`
	DispatchLatencyP50MS float64   `json:"dispatchLatencyP50"`
	DispatchLatencyP95MS float64   `json:"dispatchLatencyP95"`
	DispatchLatencyP99MS float64   `json:"dispatchLatencyP99"`
}

// Collector accumulates rolling counters and windowed samples and
// produces Snapshot values on demand. All counters are monotonic for
// the lifetime of the collector; only the consensus and dispatch
// windows are bounded rings.
type Collector struct {
	mu sync.Mutex

	tasksCoordinated       uint64
	workStealingOperations uint64
	rebalancingOperations  uint64
	agentFailures          uint64
	agentRecoveries        uint64

	totalProposals    uint64
	approvedProposals uint64
	rejectedProposals uint64
	timedOutProposals uint64

	consensusTimes    []float64 // milliseconds, ring bounded to maxConsensusSamples
	participationRate []float64

	dispatchLatencyEMA float64
	dispatchSamples    []float64 // milliseconds, ring bounded to maxDispatchSamples

	history    []Snapshot
	maxHistory int
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		maxHistory: 1000,
	}
}

// RecordTaskCoordinated increments the tasks-coordinated counter,
// called once per successful dispatch.
func (c *Collector) RecordTaskCoordinated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasksCoordinated++
}

// RecordWorkStolen increments the work-stealing-operations counter.
func (c *Collector) RecordWorkStolen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workStealingOperations++
}

// RecordRebalanced increments the rebalancing-operations counter.
func (c *Collector) RecordRebalanced() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebalancingOperations++
}

// RecordAgentFailure increments the agent-failures counter.
func (c *Collector) RecordAgentFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentFailures++
}

// RecordAgentRecovery increments the agent-recoveries counter.
func (c *Collector) RecordAgentRecovery() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentRecoveries++
}

// RecordConsensus folds one completed proposal's outcome into the
// rolling counters and the bounded consensus-time/participation-rate
// windows.
func (c *Collector) RecordConsensus(approved, rejected, timedOut bool, elapsed time.Duration, participationRate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalProposals++
	switch {
	case approved:
		c.approvedProposals++
	case rejected:
		c.rejectedProposals++
	case timedOut:
		c.timedOutProposals++
	}

	c.consensusTimes = appendBounded(c.consensusTimes, float64(elapsed.Milliseconds()), maxConsensusSamples)
	c.participationRate = appendBounded(c.participationRate, participationRate, maxConsensusSamples)
}

// RecordDispatchLatency folds one dispatch's latency into the EMA and
// the bounded percentile window.
func (c *Collector) RecordDispatchLatency(elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ms := float64(elapsed.Milliseconds())
	if c.dispatchLatencyEMA == 0 {
		c.dispatchLatencyEMA = ms
	} else {
		c.dispatchLatencyEMA = (c.dispatchLatencyEMA + ms) / 2
	}
	c.dispatchSamples = appendBounded(c.dispatchSamples, ms, maxDispatchSamples)
}

func appendBounded(ring []float64, v float64, max int) []float64 {
	ring = append(ring, v)
	if len(ring) > max {
		ring = ring[len(ring)-max:]
	}
	return ring
}

// Snapshot combines the live gauges supplied by the caller with the
// collector's rolling counters and windowed statistics into a single
// consistent view, and appends it to the bounded history.
func (c *Collector) Snapshot(gauges LiveGauges) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Timestamp: time.Now(),

		TotalAgentsManaged:      gauges.TotalAgentsManaged,
		ActiveCoordinationNodes: gauges.ActiveCoordinationNodes,
		HealthyAgents:           gauges.HealthyAgents,
		DegradedAgents:          gauges.DegradedAgents,
		FailedAgents:            gauges.FailedAgents,
		PendingRecoveries:       gauges.PendingRecoveries,
		GlobalQueueSize:         gauges.GlobalQueueSize,

		TasksCoordinated:       c.tasksCoordinated,
		WorkStealingOperations: c.workStealingOperations,
		RebalancingOperations:  c.rebalancingOperations,
		AgentFailures:          c.agentFailures,
		AgentRecoveries:        c.agentRecoveries,

		TotalProposals:    c.totalProposals,
		ApprovedProposals: c.approvedProposals,
		RejectedProposals: c.rejectedProposals,
		TimedOutProposals: c.timedOutProposals,

		DispatchLatencyEMAMS: c.dispatchLatencyEMA,
	}

	s.AvgConsensusTimeMS = average(c.consensusTimes)
	s.AvgParticipationRate = average(c.participationRate)

	s.DispatchLatencyP50MS = percentile(c.dispatchSamples, 0.50)
	s.DispatchLatencyP95MS = percentile(c.dispatchSamples, 0.95)
	s.DispatchLatencyP99MS = percentile(c.dispatchSamples, 0.99)

	c.history = append(c.history, s)
	if len(c.history) > c.maxHistory {
		c.history = c.history[len(c.history)-c.maxHistory:]
	}

	return s
}

// History returns a copy of every retained snapshot, oldest first.
func (c *Collector) History() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Snapshot, len(c.history))
	copy(out, c.history)
	return out
}

// ResetHistory clears the retained snapshot history without touching
// the rolling counters or windows.
func (c *Collector) ResetHistory() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
}

func average(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples))
}

// percentile computes the nearest-rank percentile over a copy of
// samples, leaving the collector's stored window untouched.
func percentile(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	rank := p * float64(len(sorted))
	idx := int(rank)
	if float64(idx) < rank {
		idx++ // nearest rank is ceil(p*n)
	}
	idx--
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
