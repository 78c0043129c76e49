package consensus

import (
	"context"
	"sync"
	"time"
)

type raftRole string

const (
	raftFollower  raftRole = "follower"
	raftCandidate raftRole = "candidate"
	raftLeader    raftRole = "leader"
)

// logEntry is a committed (or attempted) proposal in the raft log.
type logEntry struct {
	term     uint64
	proposal Proposal
}

// RaftProtocol is a simplified single-core Raft: this engine instance
// always acts as the node attempting to drive proposals through the
// cluster of agents, running a leader election (if not already leader)
// followed by log replication for each Propose call.
type RaftProtocol struct {
	Voter            Voter
	ElectionTimeout  time.Duration
	HeartbeatTimeout time.Duration

	mu          sync.Mutex
	currentTerm uint64
	votedFor    string
	role        raftRole
	leaderID    string
	log         []logEntry
	commitIndex int
}

const selfNodeID = "core"

// Propose runs an election if this node is not already leader, then
// replicates the proposal as a log entry, committing it once a strict
// majority of agents (including self) acknowledge.
func (r *RaftProtocol) Propose(ctx context.Context, p Proposal, agentIDs []string) (Result, error) {
	start := time.Now()
	n := len(agentIDs) + 1 // agents plus this node
	quorum := quorumOf(n)

	ctx, cancel := context.WithTimeout(ctx, r.electionTimeout())
	defer cancel()

	r.mu.Lock()
	isLeader := r.role == raftLeader
	r.mu.Unlock()

	if !isLeader {
		won := r.runElection(ctx, agentIDs, quorum)
		if !won {
			return Result{
				ProposalID:        p.ID,
				Decision:          DecisionTimeout,
				Elapsed:           time.Since(start),
				ParticipationRate: 0,
			}, nil
		}
	}

	r.mu.Lock()
	if len(r.log) == 0 {
		r.commitIndex = -1 // nothing committed until a majority acks
	}
	r.log = append(r.log, logEntry{term: r.currentTerm, proposal: p})
	term := r.currentTerm
	r.mu.Unlock()

	votes := broadcastVotes(ctx, r.Voter, p, agentIDs)
	acks := 1 // leader acknowledges its own entry
	for _, v := range votes {
		if v.Approve {
			acks++
		}
	}

	decision := DecisionTimeout
	if acks >= quorum {
		decision = DecisionApproved
		r.mu.Lock()
		r.commitIndex = len(r.log) - 1
		_ = term
		r.mu.Unlock()
	} else if len(votes) > 0 {
		decision = DecisionRejected
	}

	return Result{
		ProposalID:        p.ID,
		Decision:          decision,
		Votes:             votes,
		Elapsed:           time.Since(start),
		ParticipationRate: participationRate(len(votes)+1, n),
	}, nil
}

// runElection increments the term, votes for self, and requests votes
// from every agent. It returns true iff this node wins a strict
// majority (including its own vote).
func (r *RaftProtocol) runElection(ctx context.Context, agentIDs []string, quorum int) bool {
	r.mu.Lock()
	r.role = raftCandidate
	r.currentTerm++
	r.votedFor = selfNodeID
	term := r.currentTerm
	r.mu.Unlock()

	electProposal := Proposal{ID: "election", Subject: "leader-election", Payload: map[string]interface{}{"term": term}}
	votes := broadcastVotes(ctx, r.Voter, electProposal, agentIDs)

	approvals := 1 // self vote
	for _, v := range votes {
		if v.Approve {
			approvals++
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if approvals >= quorum {
		r.role = raftLeader
		r.leaderID = selfNodeID
		return true
	}
	r.role = raftFollower
	r.leaderID = ""
	return false
}

func (r *RaftProtocol) electionTimeout() time.Duration {
	if r.ElectionTimeout > 0 {
		return r.ElectionTimeout
	}
	return 5 * time.Second
}

// IsLeader reports whether this node currently believes itself to be
// the raft leader.
func (r *RaftProtocol) IsLeader() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.role == raftLeader
}

// CommitIndex returns the index of the last committed log entry, or -1
// if nothing has been committed.
func (r *RaftProtocol) CommitIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.log) == 0 {
		return -1
	}
	return r.commitIndex
}
