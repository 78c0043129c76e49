// Package consensus implements the swarm's pluggable voting protocols:
// quorum, raft, pbft, and fast-paxos, all satisfying the same Protocol
// interface so the engine can dispatch on a proposal's tag the way the
// teacher's Captain dispatches on a mission's task type.
package consensus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Decision is the outcome of a consensus round.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	DecisionTimeout  Decision = "timeout"
)

// ProtocolKind names one of the four supported voting protocols.
type ProtocolKind string

const (
	ProtocolQuorum    ProtocolKind = "quorum"
	ProtocolRaft      ProtocolKind = "raft"
	ProtocolPBFT      ProtocolKind = "pbft"
	ProtocolFastPaxos ProtocolKind = "fast-paxos"
)

// Vote is a single participant's response to a proposal.
type Vote struct {
	AgentID string `json:"agentId"`
	Approve bool   `json:"approve"`
}

// Proposal is the unit of work submitted to the consensus engine.
type Proposal struct {
	ID       string       `json:"id"`
	Protocol ProtocolKind `json:"protocol"`
	SwarmID  string       `json:"swarmId"`
	Subject  string       `json:"subject"`
	Payload  map[string]interface{} `json:"payload"`
}

// NewProposal builds a Proposal with a generated id.
func NewProposal(protocol ProtocolKind, swarmID, subject string, payload map[string]interface{}) Proposal {
	return Proposal{
		ID:       uuid.NewString(),
		Protocol: protocol,
		SwarmID:  swarmID,
		Subject:  subject,
		Payload:  payload,
	}
}

// Result is the outcome reported back by a protocol's Propose call.
type Result struct {
	ProposalID        string        `json:"proposalId"`
	Decision          Decision      `json:"decision"`
	Votes             []Vote        `json:"votes"`
	Elapsed           time.Duration `json:"elapsed"`
	ParticipationRate float64       `json:"participationRate"`
}

// Voter casts a vote on a proposal. In production this is backed by the
// agent-facing transport; tests supply a synchronous stub.
type Voter interface {
	RequestVote(ctx context.Context, agentID string, p Proposal) (Vote, error)
}

// Protocol is the interface every voting algorithm implements. The
// engine selects an implementation by Proposal.Protocol and calls
// Propose without needing to know which algorithm is behind it.
type Protocol interface {
	Propose(ctx context.Context, p Proposal, agentIDs []string) (Result, error)
}

func quorumOf(n int) int {
	return n/2 + 1
}
