package metricssurface

import (
	"testing"
	"time"
)

func TestRecordCountersAccumulate(t *testing.T) {
	c := NewCollector()

	c.RecordTaskCoordinated()
	c.RecordTaskCoordinated()
	c.RecordWorkStolen()
	c.RecordRebalanced()
	c.RecordAgentFailure()
	c.RecordAgentRecovery()

	snap := c.Snapshot(LiveGauges{})
	if snap.TasksCoordinated != 2 {
		t.Errorf("expected 2 tasks coordinated, got %d", snap.TasksCoordinated)
	}
	if snap.WorkStealingOperations != 1 {
		t.Errorf("expected 1 work-stealing operation, got %d", snap.WorkStealingOperations)
	}
	if snap.RebalancingOperations != 1 {
		t.Errorf("expected 1 rebalancing operation, got %d", snap.RebalancingOperations)
	}
	if snap.AgentFailures != 1 || snap.AgentRecoveries != 1 {
		t.Errorf("expected 1 failure and 1 recovery, got %d/%d", snap.AgentFailures, snap.AgentRecoveries)
	}
}

func TestSnapshotCarriesLiveGauges(t *testing.T) {
	c := NewCollector()

	gauges := LiveGauges{
		TotalAgentsManaged:      10,
		ActiveCoordinationNodes: 3,
		HealthyAgents:           8,
		DegradedAgents:          1,
		FailedAgents:            1,
		PendingRecoveries:       1,
		GlobalQueueSize:         5,
	}

	snap := c.Snapshot(gauges)
	if snap.TotalAgentsManaged != 10 || snap.HealthyAgents != 8 || snap.GlobalQueueSize != 5 {
		t.Errorf("live gauges not carried through: %+v", snap)
	}
}

func TestRecordConsensusTracksOutcomesAndAverages(t *testing.T) {
	c := NewCollector()

	c.RecordConsensus(true, false, false, 100*time.Millisecond, 1.0)
	c.RecordConsensus(false, true, false, 200*time.Millisecond, 0.6)
	c.RecordConsensus(false, false, true, 300*time.Millisecond, 0.4)

	snap := c.Snapshot(LiveGauges{})
	if snap.TotalProposals != 3 {
		t.Fatalf("expected 3 proposals, got %d", snap.TotalProposals)
	}
	if snap.ApprovedProposals != 1 || snap.RejectedProposals != 1 || snap.TimedOutProposals != 1 {
		t.Errorf("outcome counters wrong: %+v", snap)
	}
	wantAvg := (100.0 + 200.0 + 300.0) / 3.0
	if snap.AvgConsensusTimeMS != wantAvg {
		t.Errorf("expected avg consensus time %.2f, got %.2f", wantAvg, snap.AvgConsensusTimeMS)
	}
}

func TestRecordDispatchLatencyComputesEMAAndPercentiles(t *testing.T) {
	c := NewCollector()

	for _, ms := range []int{10, 20, 30, 40, 50} {
		c.RecordDispatchLatency(time.Duration(ms) * time.Millisecond)
	}

	snap := c.Snapshot(LiveGauges{})
	if snap.DispatchLatencyEMAMS <= 0 {
		t.Errorf("expected non-zero EMA, got %.2f", snap.DispatchLatencyEMAMS)
	}
	if snap.DispatchLatencyP50MS <= 0 || snap.DispatchLatencyP95MS <= 0 {
		t.Errorf("expected non-zero percentiles, got p50=%.2f p95=%.2f", snap.DispatchLatencyP50MS, snap.DispatchLatencyP95MS)
	}
	if snap.DispatchLatencyP95MS < snap.DispatchLatencyP50MS {
		t.Errorf("p95 (%.2f) should be >= p50 (%.2f)", snap.DispatchLatencyP95MS, snap.DispatchLatencyP50MS)
	}
}

func TestConsensusWindowIsBounded(t *testing.T) {
	c := NewCollector()

	for i := 0; i < maxConsensusSamples+50; i++ {
		c.RecordConsensus(true, false, false, time.Millisecond, 1.0)
	}

	if len(c.consensusTimes) != maxConsensusSamples {
		t.Errorf("expected consensus window bounded to %d, got %d", maxConsensusSamples, len(c.consensusTimes))
	}
	// Total proposal count is not windowed, only the sample rings.
	snap := c.Snapshot(LiveGauges{})
	if snap.TotalProposals != uint64(maxConsensusSamples+50) {
		t.Errorf("expected unbounded total proposal count, got %d", snap.TotalProposals)
	}
}

func TestHistoryAccumulatesAndResets(t *testing.T) {
	c := NewCollector()

	c.Snapshot(LiveGauges{})
	c.Snapshot(LiveGauges{})
	if len(c.History()) != 2 {
		t.Fatalf("expected 2 snapshots in history, got %d", len(c.History()))
	}

	c.ResetHistory()
	if len(c.History()) != 0 {
		t.Errorf("expected history cleared, got %d entries", len(c.History()))
	}
}
