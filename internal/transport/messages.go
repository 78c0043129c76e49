package transport

import "time"

// Subject pattern constants for the agent-facing NATS transport. Use
// fmt.Sprintf with the %s patterns to address a specific agent or swarm.
const (
	// SubjectAgentHeartbeat is published by an agent on every heartbeat.
	SubjectAgentHeartbeat = "agent.%s.heartbeat"
	// SubjectAllHeartbeats subscribes to every agent's heartbeats.
	SubjectAllHeartbeats = "agent.*.heartbeat"

	// SubjectAgentStatus carries status/health-relevant updates from an agent.
	SubjectAgentStatus = "agent.%s.status"
	SubjectAllStatus   = "agent.*.status"

	// SubjectVoteRequest is a request-reply subject the consensus engine
	// uses to solicit a vote from a specific agent.
	SubjectVoteRequest = "agent.%s.vote"

	// SubjectTaskAssign notifies an agent it has been assigned a task.
	SubjectTaskAssign = "agent.%s.task.assign"
	// SubjectTaskReport is where an agent reports task completion or failure.
	SubjectTaskReport = "agent.%s.task.report"

	// SubjectInterventionDeliver delivers a pending intervention to its
	// target agent (or to every agent in a swarm when no agent is targeted).
	SubjectInterventionDeliver = "swarm.%s.intervention"
	// SubjectInterventionAck is where an agent acknowledges or applies an
	// intervention.
	SubjectInterventionAck = "swarm.%s.intervention.ack"
)

// HeartbeatMessage is published by an agent to keep its registry entry
// alive.
type HeartbeatMessage struct {
	AgentID   string    `json:"agent_id"`
	InFlight  int       `json:"in_flight"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusMessage carries a free-form status update from an agent, shown
// to observers via the event bus's agent-message event.
type StatusMessage struct {
	AgentID   string    `json:"agent_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// VoteRequest is sent to a specific agent to solicit its vote on a
// consensus proposal.
type VoteRequest struct {
	ProposalID string                 `json:"proposal_id"`
	Protocol   string                 `json:"protocol"`
	Subject    string                 `json:"subject"`
	Payload    map[string]interface{} `json:"payload"`
}

// VoteResponse is the agent's reply to a VoteRequest.
type VoteResponse struct {
	AgentID string `json:"agent_id"`
	Approve bool   `json:"approve"`
}

// TaskAssignMessage notifies an agent that a task has been bound to it.
type TaskAssignMessage struct {
	TaskID   string            `json:"task_id"`
	Type     string            `json:"type"`
	Priority int               `json:"priority"`
	Payload  map[string]string `json:"payload"`
	Deadline *time.Time        `json:"deadline,omitempty"`
}

// TaskReportMessage is how an agent reports the outcome of a task it was
// assigned.
type TaskReportMessage struct {
	TaskID        string        `json:"task_id"`
	AgentID       string        `json:"agent_id"`
	Success       bool          `json:"success"`
	ExecutionTime time.Duration `json:"execution_time"`
	Error         string        `json:"error,omitempty"`
}

// InterventionDeliverMessage delivers a pending human intervention to an
// agent (or every agent subscribed in the swarm, if AgentID is empty).
type InterventionDeliverMessage struct {
	ID       string                 `json:"id"`
	SwarmID  string                 `json:"swarm_id"`
	AgentID  string                 `json:"agent_id,omitempty"`
	Action   string                 `json:"action"`
	Message  string                 `json:"message"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// InterventionAckMessage is how an agent acknowledges or applies an
// intervention it received.
type InterventionAckMessage struct {
	InterventionID string `json:"intervention_id"`
	AgentID        string `json:"agent_id"`
	Applied        bool   `json:"applied"` // false: acknowledge only, true: applied with Detail
	Detail         string `json:"detail,omitempty"`
}
