// Package coordination maintains the hierarchical coordination tree: a
// multi-level structure whose fan-out per node is bounded by
// maxAgentsPerNode and whose depth is bounded by hierarchyDepth.
package coordination

// Node is one level of the coordination hierarchy. It owns a bounded
// subset of agent ids and a local work queue (load counter only — the
// actual task objects live in the balancer's queues).
//
// Parent/child relationships are by id only, never by owning reference,
// so the tree arena (Tree) is the sole owner of every Node, and the sole
// lock is the Tree's — Node itself carries none.
type Node struct {
	ID       string
	Level    int
	Capacity int

	ParentID string
	Children []string

	Agents map[string]struct{}
	Load   int
}

func newNode(id string, level, capacity int, parentID string) *Node {
	return &Node{
		ID:       id,
		Level:    level,
		Capacity: capacity,
		ParentID: parentID,
		Agents:   make(map[string]struct{}),
	}
}

// Snapshot is a copy-out view of a Node's state, safe to hand to callers
// outside the tree's lock.
type Snapshot struct {
	ID       string
	Level    int
	Capacity int
	ParentID string
	Children []string
	Agents   []string
	Load     int
}

func (n *Node) snapshotLocked() Snapshot {
	agents := make([]string, 0, len(n.Agents))
	for id := range n.Agents {
		agents = append(agents, id)
	}
	return Snapshot{
		ID:       n.ID,
		Level:    n.Level,
		Capacity: n.Capacity,
		ParentID: n.ParentID,
		Children: append([]string(nil), n.Children...),
		Agents:   agents,
		Load:     n.Load,
	}
}

func (n *Node) sizeLocked() int {
	return len(n.Agents)
}

func (n *Node) belowCapacityLocked() bool {
	return n.sizeLocked() < n.Capacity
}
