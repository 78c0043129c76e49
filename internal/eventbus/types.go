package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// EventType names one of the lifecycle/telemetry event kinds carried by
// the bus.
type EventType string

const (
	EventAgentMessage        EventType = "agent-message"
	EventStatusChange        EventType = "status-change"
	EventHumanIntervention   EventType = "human-intervention"
	EventTransparencyInsight EventType = "transparency-insight"
	EventSwarmEvent          EventType = "swarm-event"
	EventWorkStolen          EventType = "work-stolen"
	EventLoadRebalanced      EventType = "load-rebalanced"
	EventAgentFailed         EventType = "agent-failed"
	EventAgentDegraded       EventType = "agent-degraded"
	EventAgentRecovered      EventType = "agent-recovered"
	EventLeaderElected       EventType = "leader-elected"
	EventHeartbeatSent       EventType = "heartbeat-sent"
	EventTaskQueued          EventType = "task-queued"
	EventTaskCoordinated     EventType = "task-coordinated"
	EventConsensusReached    EventType = "consensus-reached"
	EventTimeout             EventType = "timeout"
	EventBadRequest          EventType = "bad-request"
	EventSwarmRelaunchRequested EventType = "swarm-relaunch-requested"
)

// AllEventTypes returns every defined event type, used to populate the
// `connected` handshake message's supported-events list.
func AllEventTypes() []EventType {
	return []EventType{
		EventAgentMessage, EventStatusChange, EventHumanIntervention,
		EventTransparencyInsight, EventSwarmEvent, EventWorkStolen,
		EventLoadRebalanced, EventAgentFailed, EventAgentDegraded,
		EventAgentRecovered, EventLeaderElected, EventHeartbeatSent,
		EventTaskQueued, EventTaskCoordinated, EventConsensusReached,
		EventTimeout, EventBadRequest, EventSwarmRelaunchRequested,
	}
}

// Room returns the event-bus room name for a swarm id.
func Room(swarmID string) string {
	return "swarm-" + swarmID
}

// Event is a lifecycle/telemetry event published to a room.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	SwarmID   string                 `json:"swarm_id,omitempty"`
	AgentID   string                 `json:"agent_id,omitempty"`
	Publisher string                 `json:"-"` // internal ordering key, not serialized
	Seq       uint64                 `json:"seq"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// New creates an event with an auto-generated id and current timestamp.
// publisher identifies the internal component emitting the event, used
// only to key the per-publisher ordering sequence — it is not part of
// the wire payload.
func New(eventType EventType, swarmID, agentID, publisher string, payload map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		SwarmID:   swarmID,
		AgentID:   agentID,
		Publisher: publisher,
		Payload:   payload,
	}
}
