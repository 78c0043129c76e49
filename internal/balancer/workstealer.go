package balancer

import (
	"context"
	"log"
	"time"

	"github.com/agentswarm/core/internal/config"
	"github.com/agentswarm/core/internal/coordination"
	"github.com/agentswarm/core/internal/eventbus"
	"github.com/agentswarm/core/internal/registry"
	"github.com/agentswarm/core/internal/tasks"
)

// Balancer owns per-node work queues, the global queue, and the
// background work-stealing/rebalance cycles.
type Balancer struct {
	strategy Strategy
	lbCfg    config.LoadBalancingConfig
	wsCfg    config.WorkStealingConfig

	registry *registry.Registry
	tree     *coordination.Tree
	bus      *eventbus.Bus

	globalQueue *tasks.Queue
	nodeQueues  map[string]*tasks.Queue

	totalCoordinated uint64
	imbalanced       bool
}

// New creates a Balancer bound to the given registry, coordination tree,
// and event bus.
func New(lbCfg config.LoadBalancingConfig, wsCfg config.WorkStealingConfig, reg *registry.Registry, tree *coordination.Tree, bus *eventbus.Bus) *Balancer {
	return &Balancer{
		strategy:    Strategy(lbCfg.Strategy),
		lbCfg:       lbCfg,
		wsCfg:       wsCfg,
		registry:    reg,
		tree:        tree,
		bus:         bus,
		globalQueue: tasks.NewQueue(),
		nodeQueues:  make(map[string]*tasks.Queue),
	}
}

// SelectAgent picks a target agent among currently healthy agents using
// the configured strategy.
func (b *Balancer) SelectAgent() (*registry.Agent, error) {
	return Select(b.strategy, b.registry.Healthy(), &b.totalCoordinated)
}

// GlobalQueue returns the dispatcher's fallback queue for tasks with no
// healthy agent at dispatch time.
func (b *Balancer) GlobalQueue() *tasks.Queue {
	return b.globalQueue
}

// NodeQueue returns (creating if necessary) the local work queue for a
// coordination node.
func (b *Balancer) NodeQueue(nodeID string) *tasks.Queue {
	q, ok := b.nodeQueues[nodeID]
	if !ok {
		q = tasks.NewQueue()
		b.nodeQueues[nodeID] = q
	}
	return q
}

// Run starts the work-stealing and rebalance background loops. It
// returns when ctx is cancelled, following the same ticker-plus-select
// shape as other background cycles in this core.
func (b *Balancer) Run(ctx context.Context) {
	var wsTicker, rebalanceTicker *time.Ticker

	if b.wsCfg.Enabled {
		wsTicker = time.NewTicker(b.wsCfg.Interval)
		defer wsTicker.Stop()
	}
	rebalanceTicker = time.NewTicker(b.lbCfg.RebalanceInterval)
	defer rebalanceTicker.Stop()

	var wsChan <-chan time.Time
	if wsTicker != nil {
		wsChan = wsTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-wsChan:
			b.stealCycle()
		case <-rebalanceTicker.C:
			b.rebalanceCycle()
		}
	}
}

// stealCycle implements the work-stealing algorithm from the component
// design: find the most- and least-loaded nodes; if the gap exceeds
// thresholdRatio of the least-loaded node's load, move a bounded batch of
// tasks from the heaviest to the lightest node's queue.
func (b *Balancer) stealCycle() {
	snap := b.tree.Snapshot()
	if len(snap) < 2 {
		return
	}

	var highID, lowID string
	highLoad, lowLoad := -1, -1
	for id, n := range snap {
		if highLoad == -1 || n.Load > highLoad {
			highLoad = n.Load
			highID = id
		}
		if lowLoad == -1 || n.Load < lowLoad {
			lowLoad = n.Load
			lowID = id
		}
	}

	if highID == "" || lowID == "" || highID == lowID {
		return
	}

	threshold := float64(lowLoad) * b.wsCfg.ThresholdRatio
	if float64(highLoad-lowLoad) <= threshold {
		return
	}

	srcQueue, ok := b.nodeQueues[highID]
	if !ok || srcQueue.Len() == 0 {
		return
	}

	count := (highLoad - lowLoad) / 2
	if count > b.wsCfg.MaxTasksToSteal {
		count = b.wsCfg.MaxTasksToSteal
	}
	if count > srcQueue.Len() {
		count = srcQueue.Len()
	}
	if count < b.wsCfg.MinTasksToSteal {
		count = b.wsCfg.MinTasksToSteal
	}
	if count > srcQueue.Len() {
		count = srcQueue.Len()
	}
	if count <= 0 {
		return
	}

	moved := srcQueue.PopN(count)
	dstQueue := b.NodeQueue(lowID)
	for _, t := range moved {
		t.NodeID = lowID
		dstQueue.Add(t)
	}

	b.tree.AdjustLoad(highID, -len(moved))
	b.tree.AdjustLoad(lowID, len(moved))

	if b.bus != nil {
		b.bus.Publish(eventbus.New(eventbus.EventWorkStolen, "", "", "balancer", map[string]interface{}{
			"from":  highID,
			"to":    lowID,
			"count": len(moved),
		}))
	}

	log.Printf("[BALANCER] work stolen: from=%s to=%s count=%d", highID, lowID, len(moved))
}

// rebalanceCycle checks whether any node deviates from the mean load by
// more than the configured imbalance ratio and, if so, schedules
// additional steal passes until the deviation falls back within bounds.
func (b *Balancer) rebalanceCycle() {
	snap := b.tree.Snapshot()
	if len(snap) == 0 {
		return
	}

	total := 0
	for _, n := range snap {
		total += n.Load
	}
	mean := float64(total) / float64(len(snap))
	if mean == 0 {
		b.imbalanced = false
		return
	}

	imbalanced := false
	for _, n := range snap {
		deviation := (float64(n.Load) - mean) / mean
		if deviation < 0 {
			deviation = -deviation
		}
		if deviation > b.lbCfg.ImbalanceRatio {
			imbalanced = true
			break
		}
	}

	b.imbalanced = imbalanced
	if !imbalanced {
		return
	}

	if b.bus != nil {
		b.bus.Publish(eventbus.New(eventbus.EventLoadRebalanced, "", "", "balancer", map[string]interface{}{
			"mean": mean,
		}))
	}

	// Run extra steal passes until the deviation clears or we give up
	// after a bounded number of attempts, to avoid an unbounded loop on
	// the ticker goroutine.
	for i := 0; i < 5 && b.imbalanced; i++ {
		b.stealCycle()
		b.recomputeImbalance()
	}
}

func (b *Balancer) recomputeImbalance() {
	snap := b.tree.Snapshot()
	if len(snap) == 0 {
		b.imbalanced = false
		return
	}
	total := 0
	for _, n := range snap {
		total += n.Load
	}
	mean := float64(total) / float64(len(snap))
	if mean == 0 {
		b.imbalanced = false
		return
	}
	for _, n := range snap {
		deviation := (float64(n.Load) - mean) / mean
		if deviation < 0 {
			deviation = -deviation
		}
		if deviation > b.lbCfg.ImbalanceRatio {
			b.imbalanced = true
			return
		}
	}
	b.imbalanced = false
}

// IsImbalanced reports whether the last rebalance cycle found the system
// imbalanced.
func (b *Balancer) IsImbalanced() bool {
	return b.imbalanced
}
