package registry

import "time"

// Health is the coarse-grained health state of a registered agent.
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	HealthFailed   Health = "failed"
)

// Agent is a logical worker registered with the core.
type Agent struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Capabilities  []string  `json:"capabilities"`
	Level         int       `json:"level"`
	Health        Health    `json:"health"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	InFlight      int       `json:"in_flight"`
	EMALatencyMS  float64   `json:"ema_latency_ms"`

	// NodeID is the coordination node this agent is currently placed in.
	// It is maintained by the coordination tree, not the registry, but is
	// carried here so a registry snapshot alone identifies placement.
	NodeID string `json:"node_id"`
}

// HasCapability reports whether the agent advertises the given capability.
func (a *Agent) HasCapability(cap string) bool {
	for _, c := range a.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// clone returns a deep-enough copy safe to hand to callers outside the lock.
func (a *Agent) clone() *Agent {
	cp := *a
	cp.Capabilities = append([]string(nil), a.Capabilities...)
	return &cp
}
