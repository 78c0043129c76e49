package consensus

import (
	"context"
	"fmt"
	"time"

	"github.com/agentswarm/core/internal/swarmerr"
)

// PBFTProtocol implements a Byzantine-tolerant three-phase vote:
// pre-prepare, prepare, commit. Requires at least 3f+1 agents; f is the
// configured Byzantine-tolerance parameter.
type PBFTProtocol struct {
	Voter   Voter
	F       int
	Timeout time.Duration
}

// Propose runs the pre-prepare/prepare/commit rounds and decides
// approved iff the commit round reaches quorum = 2f+1. Returns
// swarmerr.ErrInsufficientCapacity if fewer than 3f+1 agents are
// available — the caller decides whether to retry with a different
// protocol.
func (b *PBFTProtocol) Propose(ctx context.Context, p Proposal, agentIDs []string) (Result, error) {
	start := time.Now()
	n := len(agentIDs)
	required := 3*b.F + 1
	if n < required {
		return Result{}, fmt.Errorf("pbft requires %d agents for f=%d, have %d: %w", required, b.F, n, swarmerr.ErrInsufficientCapacity)
	}

	quorum := 2*b.F + 1

	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	// pre-prepare: leader (this node) broadcasts the proposal; no vote
	// collection needed at this phase, it only seeds the prepare round.

	prepareVotes := broadcastVotes(ctx, b.Voter, p, agentIDs)
	prepareApprovals := countApprovals(prepareVotes)
	if prepareApprovals < quorum {
		decision := DecisionTimeout
		if len(prepareVotes) > 0 {
			decision = DecisionRejected
		}
		return Result{
			ProposalID:        p.ID,
			Decision:          decision,
			Votes:             prepareVotes,
			Elapsed:           time.Since(start),
			ParticipationRate: participationRate(len(prepareVotes), n),
		}, nil
	}

	commitVotes := broadcastVotes(ctx, b.Voter, p, agentIDs)
	commitApprovals := countApprovals(commitVotes)

	decision := DecisionTimeout
	switch {
	case commitApprovals >= quorum:
		decision = DecisionApproved
	case len(commitVotes) > 0:
		decision = DecisionRejected
	}

	return Result{
		ProposalID:        p.ID,
		Decision:          decision,
		Votes:             commitVotes,
		Elapsed:           time.Since(start),
		ParticipationRate: participationRate(len(commitVotes), n),
	}, nil
}

func countApprovals(votes []Vote) int {
	n := 0
	for _, v := range votes {
		if v.Approve {
			n++
		}
	}
	return n
}
