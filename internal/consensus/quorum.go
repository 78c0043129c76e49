package consensus

import (
	"context"
	"sync"
	"time"
)

// QuorumProtocol implements simple-majority voting: broadcast to every
// agent, collect the votes, and decide approved/rejected if one side
// reaches quorum = floor(N/2)+1, otherwise timeout.
type QuorumProtocol struct {
	Voter   Voter
	Timeout time.Duration
}

// Propose broadcasts p to every agent in agentIDs and blocks until every
// agent has answered, the timeout elapses, or ctx is cancelled; reaching
// quorum early does not end the wait.
func (q *QuorumProtocol) Propose(ctx context.Context, p Proposal, agentIDs []string) (Result, error) {
	start := time.Now()
	n := len(agentIDs)
	quorum := quorumOf(n)

	ctx, cancel := context.WithTimeout(ctx, q.Timeout)
	defer cancel()

	votes := broadcastVotes(ctx, q.Voter, p, agentIDs)

	approve, reject := 0, 0
	for _, v := range votes {
		if v.Approve {
			approve++
		} else {
			reject++
		}
	}

	decision := DecisionTimeout
	switch {
	case approve >= quorum:
		decision = DecisionApproved
	case reject >= quorum:
		decision = DecisionRejected
	}

	return Result{
		ProposalID:        p.ID,
		Decision:          decision,
		Votes:             votes,
		Elapsed:           time.Since(start),
		ParticipationRate: participationRate(len(votes), n),
	}, nil
}

// broadcastVotes fans RequestVote out to every agent concurrently and
// collects whichever votes arrive before ctx is done. Agents that error
// or never respond simply do not contribute a vote.
func broadcastVotes(ctx context.Context, voter Voter, p Proposal, agentIDs []string) []Vote {
	if voter == nil || len(agentIDs) == 0 {
		return nil
	}

	var (
		mu    sync.Mutex
		votes []Vote
		wg    sync.WaitGroup
	)

	for _, id := range agentIDs {
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			v, err := voter.RequestVote(ctx, agentID, p)
			if err != nil {
				return
			}
			mu.Lock()
			votes = append(votes, v)
			mu.Unlock()
		}(id)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]Vote, len(votes))
	copy(out, votes)
	return out
}

func participationRate(votes, n int) float64 {
	if n == 0 {
		return 0
	}
	return float64(votes) / float64(n)
}
