// Package registry is the catalog of logical agents: their capabilities,
// health state, and load statistics. It is pure data with typed
// accessors — placement policy lives in the coordination tree, scheduling
// policy in the load balancer.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/agentswarm/core/internal/swarmerr"
)

// Registry is the thread-safe catalog of registered agents.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		agents: make(map[string]*Agent),
	}
}

// Register inserts a new agent. Returns swarmerr.ErrAlreadyExists if the
// id is already registered.
func (r *Registry) Register(agent *Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[agent.ID]; exists {
		return fmt.Errorf("agent %s: %w", agent.ID, swarmerr.ErrAlreadyExists)
	}

	if agent.Health == "" {
		agent.Health = HealthHealthy
	}
	if agent.LastHeartbeat.IsZero() {
		agent.LastHeartbeat = time.Now()
	}

	r.agents[agent.ID] = agent.clone()
	return nil
}

// Unregister removes an agent. Idempotent: unregistering an unknown id is
// not an error.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, id)
}

// Heartbeat updates last-seen for an agent and, if it was degraded,
// restores it to healthy. Heartbeats for unknown ids are silently
// dropped — the agent may have been unregistered concurrently.
func (r *Registry) Heartbeat(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return
	}

	a.LastHeartbeat = time.Now()
	if a.Health == HealthDegraded {
		a.Health = HealthHealthy
	}
}

// ReportCompletion decrements the in-flight counter (floor 0), updates the
// EMA latency, and is the registry-side half of clearing a completed
// task's agent binding (the task-to-agent map itself lives in dispatch).
func (r *Registry) ReportCompletion(id string, executionTime time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return
	}

	if a.InFlight > 0 {
		a.InFlight--
	}

	ms := float64(executionTime.Milliseconds())
	if a.EMALatencyMS == 0 {
		a.EMALatencyMS = ms
	} else {
		a.EMALatencyMS = (a.EMALatencyMS + ms) / 2
	}
}

// IncrementInFlight bumps an agent's in-flight counter on assignment.
func (r *Registry) IncrementInFlight(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[id]; ok {
		a.InFlight++
	}
}

// SetHealth transitions an agent's health state directly. Used by the
// health monitor, which owns the degraded/failed transition policy.
func (r *Registry) SetHealth(id string, h Health) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[id]; ok {
		a.Health = h
	}
}

// SetNodeID records which coordination node currently owns this agent.
func (r *Registry) SetNodeID(id, nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[id]; ok {
		a.NodeID = nodeID
	}
}

// Get returns a copy of the named agent, or nil if unknown.
func (r *Registry) Get(id string) *Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil
	}
	return a.clone()
}

// Exists reports whether an id is currently registered.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[id]
	return ok
}

// Snapshot returns a consistent copy-on-read view of all registered
// agents.
func (r *Registry) Snapshot() map[string]*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*Agent, len(r.agents))
	for id, a := range r.agents {
		out[id] = a.clone()
	}
	return out
}

// Healthy returns copies of all agents currently marked healthy.
func (r *Registry) Healthy() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Agent
	for _, a := range r.agents {
		if a.Health == HealthHealthy {
			out = append(out, a.clone())
		}
	}
	return out
}

// Count returns the total number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// CountByHealth returns the number of agents in each health state.
func (r *Registry) CountByHealth() (healthy, degraded, failed int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, a := range r.agents {
		switch a.Health {
		case HealthHealthy:
			healthy++
		case HealthDegraded:
			degraded++
		case HealthFailed:
			failed++
		}
	}
	return
}
