// Package balancer selects a target agent per task using a pluggable
// strategy and periodically rebalances coordination-node queues via work
// stealing, generalizing the teacher's priority queue and ticker-driven
// background-cycle conventions to a configurable scheduling policy.
package balancer

import (
	"math/rand"
	"sync/atomic"

	"github.com/agentswarm/core/internal/registry"
	"github.com/agentswarm/core/internal/swarmerr"
)

// Strategy names one of the four dispatch strategies from the component
// design.
type Strategy string

const (
	LeastLoaded Strategy = "least-loaded"
	RoundRobin  Strategy = "round-robin"
	Random      Strategy = "random"
	Weighted    Strategy = "weighted"
)

// Select picks a target agent among the healthy candidates using the
// configured strategy. Returns swarmerr.ErrNoHealthyAgent if candidates
// is empty.
func Select(strategy Strategy, candidates []*registry.Agent, totalCoordinated *uint64) (*registry.Agent, error) {
	if len(candidates) == 0 {
		return nil, swarmerr.ErrNoHealthyAgent
	}

	switch strategy {
	case RoundRobin:
		n := atomic.AddUint64(totalCoordinated, 1) - 1
		return candidates[int(n%uint64(len(candidates)))], nil
	case Random:
		return candidates[rand.Intn(len(candidates))], nil
	case Weighted:
		return selectWeighted(candidates), nil
	case LeastLoaded:
		fallthrough
	default:
		return selectLeastLoaded(candidates), nil
	}
}

// selectLeastLoaded picks the smallest in-flight counter; ties broken by
// most-recent heartbeat.
func selectLeastLoaded(candidates []*registry.Agent) *registry.Agent {
	best := candidates[0]
	for _, a := range candidates[1:] {
		if a.InFlight < best.InFlight {
			best = a
			continue
		}
		if a.InFlight == best.InFlight && a.LastHeartbeat.After(best.LastHeartbeat) {
			best = a
		}
	}
	return best
}

// selectWeighted scores each agent by
// 0.7/(inflight+1) + 0.3*(1000/max(ema_latency, eps)) and picks the max.
func selectWeighted(candidates []*registry.Agent) *registry.Agent {
	const eps = 1e-6

	best := candidates[0]
	bestScore := weightedScore(best, eps)
	for _, a := range candidates[1:] {
		score := weightedScore(a, eps)
		if score > bestScore {
			best = a
			bestScore = score
		}
	}
	return best
}

func weightedScore(a *registry.Agent, eps float64) float64 {
	latency := a.EMALatencyMS
	if latency < eps {
		latency = eps
	}
	return 0.7/float64(a.InFlight+1) + 0.3*(1000.0/latency)
}
