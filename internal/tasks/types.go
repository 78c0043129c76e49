// Package tasks is the Task entity and its priority queues: the global
// queue and per-node queues the dispatcher and load balancer move tasks
// through.
package tasks

import (
	"fmt"
	"time"
)

// Priority is the four-level urgency band from the data model.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// String renders a Priority for logging and event payloads.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusQueued     Status = "queued"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// validTransitions defines allowed status transitions, same shape as the
// original task state machine generalized to the spec's status set.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusQueued, StatusAssigned},
	StatusQueued:     {StatusAssigned},
	StatusAssigned:   {StatusInProgress, StatusQueued, StatusFailed},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusQueued},
	StatusFailed:     {StatusQueued},
}

// Task is a unit of work the dispatcher assigns to an agent.
type Task struct {
	ID               string            `json:"id"`
	Type             string            `json:"type"`
	Payload          map[string]string `json:"payload"`
	Priority         Priority          `json:"priority"`
	TargetAgentHint  string            `json:"target_agent_hint,omitempty"`
	Status           Status            `json:"status"`
	AssignedTo       string            `json:"assigned_to,omitempty"`
	NodeID           string            `json:"node_id,omitempty"`
	RetryCount       int               `json:"retry_count"`
	SubmittedAt      time.Time         `json:"submitted_at"`
	Deadline         *time.Time        `json:"deadline,omitempty"`
	AssignedAt       *time.Time        `json:"assigned_at,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
}

// New creates a pending task with the caller-supplied id.
func New(id, taskType string, priority Priority, payload map[string]string) *Task {
	return &Task{
		ID:          id,
		Type:        taskType,
		Payload:     payload,
		Priority:    priority,
		Status:      StatusPending,
		SubmittedAt: time.Now(),
	}
}

// Validate checks the task descriptor per the dispatcher's validation
// step: non-empty id, known type, priority in set.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if t.Type == "" {
		return fmt.Errorf("task type is required")
	}
	if t.Priority < PriorityLow || t.Priority > PriorityCritical {
		return fmt.Errorf("priority out of range")
	}
	return nil
}

// TransitionTo attempts to move the task to a new status.
func (t *Task) TransitionTo(newStatus Status) error {
	allowed, ok := validTransitions[t.Status]
	if !ok {
		return fmt.Errorf("unknown current status: %s", t.Status)
	}
	for _, s := range allowed {
		if s == newStatus {
			t.Status = newStatus
			return nil
		}
	}
	return fmt.Errorf("invalid transition from %s to %s", t.Status, newStatus)
}

// IsTerminal reports whether the task has reached a final state.
func (t *Task) IsTerminal() bool {
	return t.Status == StatusCompleted
}

// IsExpired reports whether the task's deadline has passed.
func (t *Task) IsExpired(now time.Time) bool {
	return t.Deadline != nil && now.After(*t.Deadline)
}
