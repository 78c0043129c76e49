// Package health runs the heartbeat-age check and recovery queue that
// drive an agent's degraded/failed transitions, generalizing the
// teacher's ticker-plus-consecutive-failure-counter health monitor to a
// heartbeat-age model with exponential-backoff recovery.
package health

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/agentswarm/core/internal/config"
	"github.com/agentswarm/core/internal/coordination"
	"github.com/agentswarm/core/internal/eventbus"
	"github.com/agentswarm/core/internal/registry"
)

// Recoverer delegates actual agent recovery to an external lifecycle
// manager outside this core. A nil Recoverer leaves failed agents queued
// indefinitely (useful in tests and for cores that recover agents purely
// through an operator-driven Intervention Channel relaunch).
type Recoverer interface {
	Recover(ctx context.Context, agentID string) error
}

type recoveryEntry struct {
	agentID     string
	failedAt    time.Time
	nextAttempt time.Time
	backoff     time.Duration
	attempts    int
}

// Monitor owns the heartbeat-age check cycle and the recovery queue.
type Monitor struct {
	cfg       config.HealthConfig
	registry  *registry.Registry
	tree      *coordination.Tree
	bus       *eventbus.Bus
	recoverer Recoverer

	// OnAgentFailed is invoked synchronously, under no lock of this
	// Monitor's, right after an agent transitions to failed. The Task
	// Dispatcher uses it to re-queue the agent's in-flight tasks — a
	// direct method-call hook rather than a bus subscription, so that
	// ordering between the health transition and the re-queue stays
	// explicit (see component design's linearizability guarantee).
	OnAgentFailed func(agentID string)

	mu    sync.Mutex
	queue []*recoveryEntry
}

// New creates a Monitor bound to the given registry and coordination
// tree. recoverer may be nil.
func New(cfg config.HealthConfig, reg *registry.Registry, tree *coordination.Tree, bus *eventbus.Bus, recoverer Recoverer) *Monitor {
	return &Monitor{
		cfg:       cfg,
		registry:  reg,
		tree:      tree,
		bus:       bus,
		recoverer: recoverer,
	}
}

// Run drives the check cycle and the recovery cycle on the same ticker,
// returning when ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			m.CheckCycle(now)
			m.RecoveryCycle(ctx, now)
		}
	}
}

// CheckCycle computes heartbeat age for every registered agent and
// applies the degraded/failed transition thresholds. Exported so it can
// be driven deterministically in tests without waiting on a ticker.
func (m *Monitor) CheckCycle(now time.Time) {
	interval := m.cfg.CheckInterval
	failedThreshold := time.Duration(3 * interval)
	degradedThreshold := time.Duration(float64(interval) * 1.5)

	for _, a := range m.registry.Snapshot() {
		since := now.Sub(a.LastHeartbeat)

		switch {
		case since > failedThreshold && a.Health != registry.HealthFailed:
			m.registry.SetHealth(a.ID, registry.HealthFailed)
			if m.tree != nil {
				m.tree.Remove(a.ID, a.InFlight)
			}
			m.enqueueRecovery(a.ID, now)
			m.publish(eventbus.EventAgentFailed, a.ID, map[string]interface{}{
				"sinceHeartbeatMs": since.Milliseconds(),
			})
			log.Printf("[HEALTH] agent %s failed: no heartbeat for %s", a.ID, since)
			if m.OnAgentFailed != nil {
				m.OnAgentFailed(a.ID)
			}

		case since > degradedThreshold && a.Health == registry.HealthHealthy:
			m.registry.SetHealth(a.ID, registry.HealthDegraded)
			m.publish(eventbus.EventAgentDegraded, a.ID, map[string]interface{}{
				"sinceHeartbeatMs": since.Milliseconds(),
			})
		}
	}
}

func (m *Monitor) enqueueRecovery(agentID string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.queue {
		if e.agentID == agentID {
			return
		}
	}
	m.queue = append(m.queue, &recoveryEntry{
		agentID:     agentID,
		failedAt:    now,
		nextAttempt: now.Add(m.cfg.RecoveryTimeout),
		backoff:     m.cfg.RecoveryTimeout,
	})
}

// RecoveryCycle drains recovery entries whose next-attempt time has
// arrived, asking the Recoverer to bring the agent back. A successful
// recovery restores the agent to healthy and refreshes its heartbeat; a
// failed attempt re-enqueues with exponential backoff up to MaxBackoff.
func (m *Monitor) RecoveryCycle(ctx context.Context, now time.Time) {
	if m.recoverer == nil {
		return
	}

	var due []*recoveryEntry
	m.mu.Lock()
	remaining := m.queue[:0]
	for _, e := range m.queue {
		if !now.Before(e.nextAttempt) {
			due = append(due, e)
		} else {
			remaining = append(remaining, e)
		}
	}
	m.queue = remaining
	m.mu.Unlock()

	for _, e := range due {
		err := m.recoverer.Recover(ctx, e.agentID)
		if err == nil {
			m.registry.SetHealth(e.agentID, registry.HealthHealthy)
			m.registry.Heartbeat(e.agentID)
			m.publish(eventbus.EventAgentRecovered, e.agentID, map[string]interface{}{
				"attempts": e.attempts + 1,
			})
			log.Printf("[HEALTH] agent %s recovered after %d attempt(s)", e.agentID, e.attempts+1)
			continue
		}

		e.attempts++
		e.backoff *= 2
		if e.backoff > m.cfg.MaxBackoff {
			e.backoff = m.cfg.MaxBackoff
		}
		e.nextAttempt = now.Add(e.backoff)

		m.mu.Lock()
		m.queue = append(m.queue, e)
		m.mu.Unlock()

		log.Printf("[HEALTH] agent %s recovery attempt %d failed: %v, retrying in %s", e.agentID, e.attempts, err, e.backoff)
	}
}

// PendingRecoveries returns the number of agents currently queued for
// recovery.
func (m *Monitor) PendingRecoveries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *Monitor) publish(t eventbus.EventType, agentID string, payload map[string]interface{}) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.New(t, "", agentID, "health", payload))
}
