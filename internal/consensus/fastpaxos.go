package consensus

import (
	"context"
	"time"
)

// FastPaxosProtocol implements the fast-path/slow-path decision rule:
// broadcast once and decide immediately if the fast-path supermajority
// (0.75*N) responds approve; otherwise fall back to a slow path of one
// further accept round deciding on a simple majority. The slow path runs
// no separate prepare round.
type FastPaxosProtocol struct {
	Voter   Voter
	Timeout time.Duration
}

// Propose runs the fast path first; if it falls short of the
// supermajority it runs a second accept round and decides on ordinary
// majority.
func (f *FastPaxosProtocol) Propose(ctx context.Context, p Proposal, agentIDs []string) (Result, error) {
	start := time.Now()
	n := len(agentIDs)

	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	fastQuorum := (n * 3) / 4
	votes := broadcastVotes(ctx, f.Voter, p, agentIDs)
	approvals := countApprovals(votes)

	if approvals >= fastQuorum && fastQuorum > 0 {
		return Result{
			ProposalID:        p.ID,
			Decision:          DecisionApproved,
			Votes:             votes,
			Elapsed:           time.Since(start),
			ParticipationRate: participationRate(len(votes), n),
		}, nil
	}

	// Slow path: a second accept round, deciding on ordinary majority.
	acceptVotes := broadcastVotes(ctx, f.Voter, p, agentIDs)
	acceptApprovals := countApprovals(acceptVotes)
	quorum := quorumOf(n)

	decision := DecisionTimeout
	switch {
	case acceptApprovals >= quorum:
		decision = DecisionApproved
	case len(acceptVotes) > 0:
		decision = DecisionRejected
	}

	return Result{
		ProposalID:        p.ID,
		Decision:          decision,
		Votes:             acceptVotes,
		Elapsed:           time.Since(start),
		ParticipationRate: participationRate(len(acceptVotes), n),
	}, nil
}
