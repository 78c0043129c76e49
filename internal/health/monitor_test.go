package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentswarm/core/internal/config"
	"github.com/agentswarm/core/internal/coordination"
	"github.com/agentswarm/core/internal/eventbus"
	"github.com/agentswarm/core/internal/registry"
)

func testCfg() config.HealthConfig {
	return config.HealthConfig{
		CheckInterval:   time.Second,
		RecoveryTimeout: 5 * time.Second,
		MaxBackoff:      60 * time.Second,
	}
}

func TestCheckCycleDegradesAtOnePointFiveIntervals(t *testing.T) {
	reg := registry.New()
	reg.Register(&registry.Agent{ID: "a1", Health: registry.HealthHealthy, LastHeartbeat: time.Now().Add(-2 * time.Second)})

	m := New(testCfg(), reg, nil, nil, nil)
	m.CheckCycle(time.Now())

	got := reg.Get("a1")
	if got.Health != registry.HealthDegraded {
		t.Fatalf("expected degraded, got %s", got.Health)
	}
}

func TestCheckCycleFailsAtThreeIntervalsAndEnqueuesRecovery(t *testing.T) {
	reg := registry.New()
	reg.Register(&registry.Agent{ID: "a1", Health: registry.HealthHealthy, LastHeartbeat: time.Now().Add(-4 * time.Second)})
	tree := coordination.New(10, 2)
	tree.Place("a1")

	m := New(testCfg(), reg, tree, nil, nil)
	m.CheckCycle(time.Now())

	got := reg.Get("a1")
	if got.Health != registry.HealthFailed {
		t.Fatalf("expected failed, got %s", got.Health)
	}
	if m.PendingRecoveries() != 1 {
		t.Fatalf("expected 1 pending recovery, got %d", m.PendingRecoveries())
	}
	if tree.NodeOf("a1") != "" {
		t.Fatal("expected agent removed from coordination tree on failure")
	}
}

func TestCheckCycleHealthyWithinThresholdsStaysHealthy(t *testing.T) {
	reg := registry.New()
	reg.Register(&registry.Agent{ID: "a1", Health: registry.HealthHealthy, LastHeartbeat: time.Now()})

	m := New(testCfg(), reg, nil, nil, nil)
	m.CheckCycle(time.Now())

	got := reg.Get("a1")
	if got.Health != registry.HealthHealthy {
		t.Fatalf("expected healthy, got %s", got.Health)
	}
}

func TestCheckCycleIsIdempotentOncePerTick(t *testing.T) {
	reg := registry.New()
	reg.Register(&registry.Agent{ID: "a1", Health: registry.HealthHealthy, LastHeartbeat: time.Now().Add(-4 * time.Second)})
	tree := coordination.New(10, 2)
	tree.Place("a1")

	m := New(testCfg(), reg, tree, nil, nil)
	now := time.Now()
	m.CheckCycle(now)
	m.CheckCycle(now)

	if m.PendingRecoveries() != 1 {
		t.Fatalf("expected recovery enqueued exactly once, got %d", m.PendingRecoveries())
	}
}

type fakeRecoverer struct {
	failTimes int
	calls     int
}

func (f *fakeRecoverer) Recover(ctx context.Context, agentID string) error {
	f.calls++
	if f.calls <= f.failTimes {
		return errors.New("not ready")
	}
	return nil
}

func TestRecoveryCycleRestoresHealthyOnSuccess(t *testing.T) {
	reg := registry.New()
	reg.Register(&registry.Agent{ID: "a1", Health: registry.HealthFailed, LastHeartbeat: time.Now().Add(-10 * time.Second)})

	cfg := testCfg()
	m := New(cfg, reg, nil, eventbus.New(nil), &fakeRecoverer{})
	now := time.Now()
	m.enqueueRecovery("a1", now.Add(-cfg.RecoveryTimeout))

	m.RecoveryCycle(context.Background(), now)

	got := reg.Get("a1")
	if got.Health != registry.HealthHealthy {
		t.Fatalf("expected healthy after successful recovery, got %s", got.Health)
	}
	if m.PendingRecoveries() != 0 {
		t.Fatalf("expected recovery entry cleared, got %d pending", m.PendingRecoveries())
	}
}

func TestRecoveryCycleBacksOffOnFailureUpToCeiling(t *testing.T) {
	reg := registry.New()
	reg.Register(&registry.Agent{ID: "a1", Health: registry.HealthFailed, LastHeartbeat: time.Now().Add(-10 * time.Second)})

	cfg := testCfg()
	cfg.MaxBackoff = 1 * time.Hour // high enough that the first doubling is not clamped
	rec := &fakeRecoverer{failTimes: 100}
	m := New(cfg, reg, nil, nil, rec)

	now := time.Now()
	m.enqueueRecovery("a1", now.Add(-cfg.RecoveryTimeout))

	m.RecoveryCycle(context.Background(), now)
	m.mu.Lock()
	first := m.queue[0].backoff
	m.mu.Unlock()
	if first != cfg.RecoveryTimeout*2 {
		t.Fatalf("expected backoff doubled to %s, got %s", cfg.RecoveryTimeout*2, first)
	}

	// drive enough more cycles that backoff would exceed a tight ceiling
	// without clamping.
	cfg.MaxBackoff = 8 * time.Second
	m.cfg.MaxBackoff = cfg.MaxBackoff
	for i := 0; i < 5; i++ {
		m.mu.Lock()
		m.queue[0].nextAttempt = now
		m.mu.Unlock()
		m.RecoveryCycle(context.Background(), now)
	}

	m.mu.Lock()
	final := m.queue[0].backoff
	m.mu.Unlock()
	if final > cfg.MaxBackoff {
		t.Fatalf("expected backoff clamped to ceiling %s, got %s", cfg.MaxBackoff, final)
	}
}

func TestRecoveryCycleNoRecovererLeavesQueued(t *testing.T) {
	reg := registry.New()
	reg.Register(&registry.Agent{ID: "a1", Health: registry.HealthFailed, LastHeartbeat: time.Now()})

	m := New(testCfg(), reg, nil, nil, nil)
	m.enqueueRecovery("a1", time.Now())
	m.RecoveryCycle(context.Background(), time.Now().Add(time.Hour))

	if m.PendingRecoveries() != 1 {
		t.Fatalf("expected entry to remain queued with no recoverer, got %d", m.PendingRecoveries())
	}
}
