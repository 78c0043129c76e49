package coordination

import (
	"fmt"
	"testing"
)

func TestPlaceRespectsCapacity(t *testing.T) {
	tree := New(2, 3)

	for i := 0; i < 6; i++ {
		if _, err := tree.Place(fmt.Sprintf("a%d", i)); err != nil {
			t.Fatalf("place a%d: %v", i, err)
		}
	}

	for id, snap := range tree.Snapshot() {
		if len(snap.Agents) > 2 {
			t.Fatalf("node %s exceeds capacity: %d agents", id, len(snap.Agents))
		}
	}
}

func TestPlaceDuplicateAgent(t *testing.T) {
	tree := New(2, 3)
	if _, err := tree.Place("a1"); err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := tree.Place("a1"); err == nil {
		t.Fatalf("expected error placing duplicate agent")
	}
}

func TestDepthNeverExceedsHierarchyDepth(t *testing.T) {
	tree := New(1, 2)

	for i := 0; i < 20; i++ {
		if _, err := tree.Place(fmt.Sprintf("a%d", i)); err != nil {
			t.Fatalf("place a%d: %v", i, err)
		}
	}

	for _, snap := range tree.Snapshot() {
		if snap.Level >= tree.Depth() {
			t.Fatalf("node level %d exceeds hierarchy depth %d", snap.Level, tree.Depth())
		}
	}
}

func TestEveryNonRootNodeHasExactlyOneParent(t *testing.T) {
	tree := New(1, 4)

	for i := 0; i < 20; i++ {
		if _, err := tree.Place(fmt.Sprintf("a%d", i)); err != nil {
			t.Fatalf("place a%d: %v", i, err)
		}
	}

	for id, snap := range tree.Snapshot() {
		if snap.Level == 0 {
			continue
		}
		if snap.ParentID == "" {
			t.Fatalf("non-root node %s has no parent", id)
		}
	}
}

func TestRemoveDecrementsLoadAndReusesNode(t *testing.T) {
	tree := New(5, 3)
	nodeID, err := tree.Place("a1")
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	tree.AdjustLoad(nodeID, 4)

	tree.Remove("a1", 4)

	snap, _ := tree.Node(nodeID)
	if snap.Load != 0 {
		t.Fatalf("expected load 0 after removal, got %d", snap.Load)
	}
	if len(snap.Agents) != 0 {
		t.Fatalf("expected agent removed from node")
	}

	// Node must still exist for reuse (not destroyed).
	if _, ok := tree.Node(nodeID); !ok {
		t.Fatalf("expected node to persist after agent removal")
	}

	if _, err := tree.Place("a2"); err != nil {
		t.Fatalf("place into reused node: %v", err)
	}
}

func TestAdjustLoadFloorsAtZero(t *testing.T) {
	tree := New(5, 3)
	nodeID, _ := tree.Place("a1")
	tree.AdjustLoad(nodeID, -10)

	snap, _ := tree.Node(nodeID)
	if snap.Load != 0 {
		t.Fatalf("expected load floored at 0, got %d", snap.Load)
	}
}
