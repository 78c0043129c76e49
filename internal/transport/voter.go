package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/agentswarm/core/internal/consensus"
)

// DefaultVoteTimeout bounds a single agent's round trip for a vote
// request when the caller's context carries no deadline.
const DefaultVoteTimeout = 2 * time.Second

// AgentNotifier is the single adapter from the transport to every
// domain interface that talks to agents: consensus.Voter, the
// dispatcher's task-assignment notifier, and the intervention channel's
// delivery notifier. One struct, one client, three responsibilities —
// mirroring the teacher's single Client wrapping many subject-specific
// convenience methods.
type AgentNotifier struct {
	Client *Client
}

// RequestVote sends a VoteRequest to agentID and waits for its
// VoteResponse within the proposal's context deadline. Implements
// consensus.Voter.
func (v *AgentNotifier) RequestVote(ctx context.Context, agentID string, p consensus.Proposal) (consensus.Vote, error) {
	subject := fmt.Sprintf(SubjectVoteRequest, agentID)

	req := VoteRequest{
		ProposalID: p.ID,
		Protocol:   string(p.Protocol),
		Subject:    p.Subject,
		Payload:    p.Payload,
	}

	timeout := DefaultVoteTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			timeout = remaining
		}
	}

	var resp VoteResponse
	if err := v.Client.RequestJSON(subject, req, &resp, timeout); err != nil {
		return consensus.Vote{}, fmt.Errorf("vote request to %s failed: %w", agentID, err)
	}

	return consensus.Vote{AgentID: resp.AgentID, Approve: resp.Approve}, nil
}

// AssignTask notifies an agent that a task has been bound to it. This is
// a fire-and-forget publish: the dispatcher does not block on agent
// acknowledgment, matching the non-blocking dispatch fast path.
func (v *AgentNotifier) AssignTask(agentID string, msg TaskAssignMessage) error {
	return v.Client.PublishJSON(fmt.Sprintf(SubjectTaskAssign, agentID), msg)
}

// DeliverIntervention publishes a pending intervention to its target
// swarm room (and implicitly its target agent, carried in the payload).
func (v *AgentNotifier) DeliverIntervention(swarmID string, msg InterventionDeliverMessage) error {
	return v.Client.PublishJSON(fmt.Sprintf(SubjectInterventionDeliver, swarmID), msg)
}
