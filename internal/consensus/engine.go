package consensus

import (
	"context"
	"fmt"

	"github.com/agentswarm/core/internal/config"
)

// Engine dispatches a Proposal to the protocol implementation named by
// its Protocol tag, the same tagged-dispatch shape the teacher's Captain
// uses to pick a mission mode, rather than a virtual-inheritance
// hierarchy of protocol types.
type Engine struct {
	protocols map[ProtocolKind]Protocol
}

// NewEngine constructs every protocol implementation from cfg, wired to
// the given Voter (the agent-facing transport in production, a
// synchronous stub in tests).
func NewEngine(cfg config.ConsensusConfig, voter Voter) *Engine {
	return &Engine{
		protocols: map[ProtocolKind]Protocol{
			ProtocolQuorum: &QuorumProtocol{Voter: voter, Timeout: cfg.Timeout},
			ProtocolRaft: &RaftProtocol{
				Voter:            voter,
				ElectionTimeout:  cfg.RaftElectionTimeout,
				HeartbeatTimeout: cfg.RaftHeartbeat,
			},
			ProtocolPBFT:      &PBFTProtocol{Voter: voter, F: cfg.ByzantineF, Timeout: cfg.Timeout},
			ProtocolFastPaxos: &FastPaxosProtocol{Voter: voter, Timeout: cfg.Timeout},
		},
	}
}

// Propose runs p through the protocol it names. An unknown protocol tag
// is refused with a plain error that wraps no swarmerr sentinel.
func (e *Engine) Propose(ctx context.Context, p Proposal, agentIDs []string) (Result, error) {
	proto, ok := e.protocols[p.Protocol]
	if !ok {
		return Result{}, fmt.Errorf("unknown consensus protocol: %s", p.Protocol)
	}
	return proto.Propose(ctx, p, agentIDs)
}

// Protocol returns the named protocol implementation directly, for
// callers that need to inspect protocol-specific state such as Raft
// leadership.
func (e *Engine) Protocol(kind ProtocolKind) Protocol {
	return e.protocols[kind]
}
