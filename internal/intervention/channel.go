// Package intervention implements the Intervention Channel: the
// authoritative path for human-issued directives (redirect, pause,
// resume, priority change, goal/constraint edits, and swarm relaunch)
// targeting a swarm or a single agent. It generalizes the teacher's
// append-only Captain.escalations slice into a full
// pending->acknowledged->applied/rejected state machine with
// relaunch-ceiling enforcement and retention cleanup.
package intervention

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentswarm/core/internal/eventbus"
	"github.com/agentswarm/core/internal/persistence"
	"github.com/agentswarm/core/internal/swarmerr"
)

// Action is one of the directives a human may issue through the channel.
type Action string

const (
	ActionRedirect       Action = "redirect"
	ActionPause          Action = "pause"
	ActionResume         Action = "resume"
	ActionPriorityChange Action = "priority-change"
	ActionRelaunchSwarm  Action = "relaunch-swarm"
	ActionModifyGoal     Action = "modify-goal"
	ActionAddConstraint  Action = "add-constraint"
)

var validActions = map[Action]bool{
	ActionRedirect: true, ActionPause: true, ActionResume: true,
	ActionPriorityChange: true, ActionRelaunchSwarm: true,
	ActionModifyGoal: true, ActionAddConstraint: true,
}

// Status is the intervention's lifecycle state. Transitions are
// monotonic: pending -> acknowledged -> applied, or pending -> rejected.
type Status string

const (
	StatusPending      Status = "pending"
	StatusAcknowledged Status = "acknowledged"
	StatusApplied      Status = "applied"
	StatusRejected     Status = "rejected"
)

const maxMessageLen = 5000

// Intervention is one directive's full record, generalizing the
// teacher's Escalation to the spec's richer action/status/metadata
// shape.
type Intervention struct {
	ID        string
	SwarmID   string
	AgentID   string // optional: empty targets the whole swarm
	Action    Action
	Message   string
	Status    Status
	Metadata  map[string]interface{}
	CreatedAt time.Time
	UpdatedAt time.Time

	// Response, set once an agent applies the intervention.
	AppliedBy     string
	ApplyDetail   string
}

// Notifier is the subset of transport.AgentNotifier the channel needs to
// deliver a pending intervention to its target agent(s).
type Notifier interface {
	DeliverIntervention(swarmID string, msg InterventionDeliverMessage) error
}

// InterventionDeliverMessage mirrors transport.InterventionDeliverMessage
// without importing transport, avoiding a dependency cycle.
type InterventionDeliverMessage struct {
	ID       string
	SwarmID  string
	AgentID  string
	Action   string
	Message  string
	Metadata map[string]interface{}
}

// Channel is the in-memory, mutex-guarded intervention store. It is the
// single authority for live intervention status; persistence.Store and
// persistence.AuditLog are best-effort mirrors for audit/restart, never
// read back into live state.
type Channel struct {
	mu sync.Mutex

	relaunchCeiling int
	maxAge          time.Duration

	bySwarm map[string]map[string]*Intervention // swarmID -> interventionID -> record
	relaunchCounters map[string]int

	bus      *eventbus.Bus
	notifier Notifier
	store    *persistence.Store
	audit    *persistence.AuditLog
}

// New creates a Channel. relaunchCeiling defaults to 10 and maxAge to 7
// days if zero-valued, matching the spec's defaults.
func New(relaunchCeiling int, maxAge time.Duration, bus *eventbus.Bus, notifier Notifier, store *persistence.Store, audit *persistence.AuditLog) *Channel {
	if relaunchCeiling <= 0 {
		relaunchCeiling = 10
	}
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	return &Channel{
		relaunchCeiling:  relaunchCeiling,
		maxAge:           maxAge,
		bySwarm:          make(map[string]map[string]*Intervention),
		relaunchCounters: make(map[string]int),
		bus:              bus,
		notifier:         notifier,
		store:            store,
		audit:            audit,
	}
}

// Submit creates a new intervention for swarmID (and optionally a single
// agentID), implementing eventbus.InterventionSubmitter so the WebSocket
// session hub can drive it directly from an observer's
// send-intervention message.
func (c *Channel) Submit(swarmID, agentID, action, message string) (id, status, reason string, err error) {
	act := Action(action)
	if swarmID == "" || !validActions[act] {
		return "", "", "", fmt.Errorf("%w: invalid swarm id or action %q", swarmerr.ErrBadRequest, action)
	}
	if len(message) > maxMessageLen {
		return "", "", "", fmt.Errorf("%w: message exceeds %d characters", swarmerr.ErrBadRequest, maxMessageLen)
	}

	intv, err := c.submitWithMetadata(swarmID, agentID, act, message, nil)
	if err != nil {
		return "", "", "", err
	}
	if intv.Status == StatusRejected {
		return intv.ID, string(intv.Status), intv.rejectReason(), nil
	}
	return intv.ID, string(intv.Status), "", nil
}

// SubmitWithMetadata is the full entry point, used when the caller
// already has structured metadata (new priority, new goal, constraints)
// to attach.
func (c *Channel) SubmitWithMetadata(swarmID, agentID string, action Action, message string, metadata map[string]interface{}) (*Intervention, error) {
	if !validActions[action] {
		return nil, fmt.Errorf("%w: unknown action %q", swarmerr.ErrBadRequest, action)
	}
	if len(message) > maxMessageLen {
		return nil, fmt.Errorf("%w: message exceeds %d characters", swarmerr.ErrBadRequest, maxMessageLen)
	}
	return c.submitWithMetadata(swarmID, agentID, action, message, metadata)
}

func (c *Channel) submitWithMetadata(swarmID, agentID string, action Action, message string, metadata map[string]interface{}) (*Intervention, error) {
	c.mu.Lock()

	if action == ActionRelaunchSwarm {
		count := c.relaunchCounters[swarmID]
		if count >= c.relaunchCeiling {
			c.mu.Unlock()
			intv := &Intervention{
				ID: uuid.New().String(), SwarmID: swarmID, AgentID: agentID,
				Action: action, Message: message, Status: StatusRejected,
				Metadata: map[string]interface{}{
					"reason": fmt.Sprintf("Cannot relaunch swarm: maximum %d attempts reached", c.relaunchCeiling),
				},
				CreatedAt: time.Now(), UpdatedAt: time.Now(),
			}
			c.persist(intv)
			return intv, nil
		}
		c.relaunchCounters[swarmID] = count + 1
		if metadata == nil {
			metadata = make(map[string]interface{})
		}
		metadata["relaunchCount"] = c.relaunchCounters[swarmID]
		metadata["modificationPlan"] = c.buildModificationPlan(swarmID)
	}

	intv := &Intervention{
		ID: uuid.New().String(), SwarmID: swarmID, AgentID: agentID,
		Action: action, Message: message, Status: StatusPending,
		Metadata: metadata, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}

	if c.bySwarm[swarmID] == nil {
		c.bySwarm[swarmID] = make(map[string]*Intervention)
	}
	c.bySwarm[swarmID][intv.ID] = intv
	c.mu.Unlock()

	c.persist(intv)

	if c.bus != nil {
		eventType := eventbus.EventHumanIntervention
		if action == ActionRelaunchSwarm {
			eventType = eventbus.EventSwarmRelaunchRequested
		}
		c.bus.Publish(eventbus.New(eventType, swarmID, agentID, "intervention", map[string]interface{}{
			"interventionId": intv.ID,
			"action":         string(action),
			"status":         string(intv.Status),
		}))
	}

	if c.notifier != nil {
		c.notifier.DeliverIntervention(swarmID, InterventionDeliverMessage{
			ID: intv.ID, SwarmID: swarmID, AgentID: agentID,
			Action: string(action), Message: message, Metadata: intv.Metadata,
		})
	}

	return intv, nil
}

// buildModificationPlan derives a relaunch's agent-type composition and
// learnings from the swarm's prior interventions. Previous relaunch
// interventions' metadata is the only source consulted; a swarm with no
// prior relaunch gets an empty plan.
func (c *Channel) buildModificationPlan(swarmID string) map[string]interface{} {
	var learnings []string
	for _, intv := range c.bySwarm[swarmID] {
		if intv.Action == ActionRelaunchSwarm {
			if l, ok := intv.Metadata["learnings"].(string); ok && l != "" {
				learnings = append(learnings, l)
			}
		}
	}
	return map[string]interface{}{"learnings": learnings}
}

func (i *Intervention) rejectReason() string {
	if reason, ok := i.Metadata["reason"].(string); ok {
		return reason
	}
	return ""
}

// Acknowledge moves an intervention from pending to acknowledged. It is
// idempotent: acknowledging an already-acknowledged or applied
// intervention is a no-op that returns nil, since status is monotonic
// and must never regress.
func (c *Channel) Acknowledge(interventionID, agentID string) error {
	c.mu.Lock()
	intv := c.find(interventionID)
	if intv == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: intervention %s", swarmerr.ErrNotFound, interventionID)
	}
	if intv.Status == StatusPending {
		intv.Status = StatusAcknowledged
		intv.UpdatedAt = time.Now()
	}
	snapshot := *intv
	c.mu.Unlock()

	c.persist(&snapshot)
	if c.bus != nil {
		c.bus.Publish(eventbus.New(eventbus.EventHumanIntervention, snapshot.SwarmID, agentID, "intervention", map[string]interface{}{
			"interventionId": snapshot.ID,
			"status":         string(snapshot.Status),
		}))
	}
	return nil
}

// Apply moves an intervention to applied with a response detail.
// Idempotent for the same reason as Acknowledge.
func (c *Channel) Apply(interventionID, agentID, detail string) error {
	c.mu.Lock()
	intv := c.find(interventionID)
	if intv == nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: intervention %s", swarmerr.ErrNotFound, interventionID)
	}
	if intv.Status == StatusPending || intv.Status == StatusAcknowledged {
		intv.Status = StatusApplied
		intv.AppliedBy = agentID
		intv.ApplyDetail = detail
		intv.UpdatedAt = time.Now()
	}
	snapshot := *intv
	c.mu.Unlock()

	c.persist(&snapshot)
	if c.bus != nil {
		c.bus.Publish(eventbus.New(eventbus.EventHumanIntervention, snapshot.SwarmID, agentID, "intervention", map[string]interface{}{
			"interventionId": snapshot.ID,
			"status":         string(snapshot.Status),
			"detail":         detail,
		}))
	}
	return nil
}

func (c *Channel) find(id string) *Intervention {
	for _, byID := range c.bySwarm {
		if intv, ok := byID[id]; ok {
			return intv
		}
	}
	return nil
}

// Get returns a copy of one intervention's current state.
func (c *Channel) Get(interventionID string) (*Intervention, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	intv := c.find(interventionID)
	if intv == nil {
		return nil, false
	}
	cp := *intv
	return &cp, true
}

// History returns every intervention recorded for a swarm, oldest first.
func (c *Channel) History(swarmID string) []*Intervention {
	c.mu.Lock()
	defer c.mu.Unlock()

	byID := c.bySwarm[swarmID]
	out := make([]*Intervention, 0, len(byID))
	for _, intv := range byID {
		cp := *intv
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// RelaunchCount returns how many times a swarm has been relaunched.
func (c *Channel) RelaunchCount(swarmID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.relaunchCounters[swarmID]
}

// Cleanup removes interventions older than the configured retention
// window, mirroring the periodic sweep the health monitor's recovery
// loop runs for stale recovery entries.
func (c *Channel) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.maxAge)
	removed := 0
	for swarmID, byID := range c.bySwarm {
		for id, intv := range byID {
			if intv.CreatedAt.Before(cutoff) {
				delete(byID, id)
				removed++
			}
		}
		c.bySwarm[swarmID] = byID
	}
	if c.store != nil {
		c.store.PruneInterventionsOlderThan(c.maxAge)
	}
	return removed
}

func (c *Channel) persist(intv *Intervention) {
	rec := persistence.InterventionRecord{
		ID: intv.ID, SwarmID: intv.SwarmID, AgentID: intv.AgentID,
		Action: string(intv.Action), Message: intv.Message,
		Status: string(intv.Status), Metadata: intv.Metadata,
		CreatedAt: intv.CreatedAt,
	}
	if c.store != nil {
		c.store.RecordIntervention(rec)
	}
	if c.audit != nil {
		if err := c.audit.Record(rec); err != nil {
			// Audit failures are dropped here and reported nowhere: the
			// channel's in-memory state is the source of truth and does
			// not fail an intervention because the audit sink is down.
			_ = err
		}
	}
}

// HandleAck adapts transport.InterventionAckMessage-shaped data (passed
// as plain fields to avoid importing transport) into the appropriate
// Acknowledge/Apply call. The composition root wires this as
// transport.HandlerCallbacks.OnInterventionAck.
func (c *Channel) HandleAck(interventionID, agentID string, applied bool, detail string) error {
	if applied {
		return c.Apply(interventionID, agentID, detail)
	}
	return c.Acknowledge(interventionID, agentID)
}
