package coordination

import (
	"fmt"
	"sync"

	"github.com/agentswarm/core/internal/swarmerr"
)

// Tree is the coordination tree arena: it owns every Node and the
// agent-to-node mapping. A single mutex guards the whole structure since
// placement decisions must see a consistent view across nodes.
type Tree struct {
	mu sync.Mutex

	maxAgentsPerNode int
	hierarchyDepth   int

	nodes     map[string]*Node
	agentNode map[string]string // agent id -> node id
	rootID    string
	nextID    int
}

// New creates a tree with a root node at level 0 and the given bounds.
func New(maxAgentsPerNode, hierarchyDepth int) *Tree {
	t := &Tree{
		maxAgentsPerNode: maxAgentsPerNode,
		hierarchyDepth:   hierarchyDepth,
		nodes:            make(map[string]*Node),
		agentNode:        make(map[string]string),
	}
	root := newNode("node-0", 0, maxAgentsPerNode, "")
	t.nodes[root.ID] = root
	t.rootID = root.ID
	t.nextID = 1
	return t
}

// Place implements the placement algorithm from the component design:
//  1. target level L = min(floor(totalAgents/maxAgentsPerNode), hierarchyDepth-1)
//  2. among nodes at level L below capacity, pick the least-loaded
//  3. if none exists, create one, attaching ancestors as needed
//
// Returns the id of the node the agent was placed into.
func (t *Tree) Place(agentID string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.agentNode[agentID]; exists {
		return "", fmt.Errorf("agent %s: %w", agentID, swarmerr.ErrAlreadyExists)
	}

	totalAgents := len(t.agentNode)
	level := totalAgents / t.maxAgentsPerNode
	if level > t.hierarchyDepth-1 {
		level = t.hierarchyDepth - 1
	}

	node := t.leastLoadedAtLevelLocked(level)
	if node == nil {
		node = t.createNodeAtLevelLocked(level)
	}

	node.Agents[agentID] = struct{}{}
	t.agentNode[agentID] = node.ID
	return node.ID, nil
}

// leastLoadedAtLevelLocked returns the least-loaded node at level that is
// still below capacity, or nil if none qualifies.
func (t *Tree) leastLoadedAtLevelLocked(level int) *Node {
	var best *Node
	for _, n := range t.nodes {
		if n.Level != level || !n.belowCapacityLocked() {
			continue
		}
		if best == nil || n.Load < best.Load {
			best = n
		}
	}
	return best
}

// createNodeAtLevelLocked creates a new node at level, attaching it to a
// parent at level-1 with sub-coordinator room, creating ancestors as
// needed. The recursion always terminates because the root exists at
// level 0 and each new node strictly reduces the available-slot deficit.
func (t *Tree) createNodeAtLevelLocked(level int) *Node {
	if level == 0 {
		root := t.nodes[t.rootID]
		return root
	}

	parent := t.findOrCreateParentLocked(level - 1)

	id := fmt.Sprintf("node-%d", t.nextID)
	t.nextID++
	n := newNode(id, level, t.maxAgentsPerNode, parent.ID)
	t.nodes[id] = n
	parent.Children = append(parent.Children, id)
	return n
}

// findOrCreateParentLocked finds a node at level with room for another
// child (fan-out is bounded by the same maxAgentsPerNode capacity as
// agent membership, since the spec leaves the sub-coordinator bound
// otherwise unspecified — see DESIGN.md), or creates one, recursively
// ensuring its own ancestors exist.
func (t *Tree) findOrCreateParentLocked(level int) *Node {
	if level == 0 {
		return t.nodes[t.rootID]
	}

	for _, n := range t.nodes {
		if n.Level == level && len(n.Children) < t.maxAgentsPerNode {
			return n
		}
	}

	return t.createNodeAtLevelLocked(level)
}

// Remove detaches an agent from its node, decrementing the node's load by
// inFlight (the count of the agent's in-flight tasks at the moment of
// removal). Empty nodes are not destroyed — they are reused for future
// registrations to avoid thrash.
func (t *Tree) Remove(agentID string, inFlight int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	nodeID, ok := t.agentNode[agentID]
	if !ok {
		return
	}

	delete(t.agentNode, agentID)
	n, ok := t.nodes[nodeID]
	if !ok {
		return
	}
	delete(n.Agents, agentID)
	n.Load -= inFlight
	if n.Load < 0 {
		n.Load = 0
	}
}

// NodeOf returns the node id an agent is currently placed in, or "" if
// the agent is not placed.
func (t *Tree) NodeOf(agentID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.agentNode[agentID]
}

// AdjustLoad changes a node's load counter by delta, floored at 0. Used
// by the dispatcher and work stealer to keep node.load equal to the sum
// of in-flight counts of its agents.
func (t *Tree) AdjustLoad(nodeID string, delta int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[nodeID]
	if !ok {
		return
	}
	n.Load += delta
	if n.Load < 0 {
		n.Load = 0
	}
}

// Snapshot returns a consistent copy-out view of every node, keyed by id.
func (t *Tree) Snapshot() map[string]Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]Snapshot, len(t.nodes))
	for id, n := range t.nodes {
		out[id] = n.snapshotLocked()
	}
	return out
}

// Node returns a copy-out view of a single node, or ok=false if unknown.
func (t *Tree) Node(id string) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return Snapshot{}, false
	}
	return n.snapshotLocked(), true
}

// Depth returns the configured maximum hierarchy depth.
func (t *Tree) Depth() int {
	return t.hierarchyDepth
}

// RootID returns the id of the root node.
func (t *Tree) RootID() string {
	return t.rootID
}

// NodeCount returns the number of coordination nodes currently in the
// tree (including empty, reused nodes).
func (t *Tree) NodeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes)
}
