package persistence

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/agentswarm/core/internal/metricssurface"
)

func TestNewStore(t *testing.T) {
	store := NewStore("/tmp/test-state.json")
	if store == nil {
		t.Fatal("NewStore returned nil")
	}
	if store.filepath != "/tmp/test-state.json" {
		t.Errorf("filepath = %q, want %q", store.filepath, "/tmp/test-state.json")
	}
}

func TestLoadEmptyFile(t *testing.T) {
	tmpDir := t.TempDir()
	storePath := filepath.Join(tmpDir, "data", "state.json")

	store := NewStore(storePath)
	state, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if state == nil {
		t.Fatal("Load() returned nil state")
	}
	if len(state.Agents) != 0 {
		t.Errorf("expected empty Agents map, got %d agents", len(state.Agents))
	}
	if len(state.Nodes) != 0 {
		t.Errorf("expected empty Nodes map, got %d nodes", len(state.Nodes))
	}
}

func TestLoadExistingFile(t *testing.T) {
	tmpDir := t.TempDir()
	storePath := filepath.Join(tmpDir, "state.json")

	testJSON := `{
		"agents": {
			"agent-1": {
				"id": "agent-1",
				"type": "worker",
				"health": "healthy"
			}
		},
		"nodes": {},
		"interventionHistory": {},
		"relaunchCounters": {}
	}`
	if err := os.WriteFile(storePath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	store := NewStore(storePath)
	state, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(state.Agents) != 1 {
		t.Errorf("expected 1 agent, got %d", len(state.Agents))
	}
	if state.Agents["agent-1"].Health != "healthy" {
		t.Errorf("expected health healthy, got %q", state.Agents["agent-1"].Health)
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	storePath := filepath.Join(tmpDir, "state.json")

	store := NewStore(storePath)
	store.Load()

	store.ReplaceAgents(map[string]AgentRecord{
		"agent-1": {ID: "agent-1", Type: "worker", Health: "healthy"},
	})

	if err := store.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	store2 := NewStore(storePath)
	state, err := store2.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := state.Agents["agent-1"]; !ok {
		t.Error("expected agent-1 to be persisted")
	}
}

func TestReplaceNodes(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "state.json"))
	store.Load()

	store.ReplaceNodes(map[string]NodeRecord{
		"root": {ID: "root", Level: 0, Capacity: 10, Agents: []string{"agent-1"}},
	})

	state := store.GetState()
	if state.Nodes["root"].Capacity != 10 {
		t.Errorf("expected capacity 10, got %d", state.Nodes["root"].Capacity)
	}
}

func TestRecordAndListIntervention(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "state.json"))
	store.Load()

	rec := InterventionRecord{
		ID:        "intv-1",
		SwarmID:   "swarm-1",
		Action:    "pause",
		Message:   "pause for review",
		Status:    "pending",
		CreatedAt: time.Now(),
	}
	store.RecordIntervention(rec)

	history := store.InterventionHistory("swarm-1")
	if len(history) != 1 {
		t.Fatalf("expected 1 intervention, got %d", len(history))
	}

	rec.Status = "acknowledged"
	store.RecordIntervention(rec)

	history = store.InterventionHistory("swarm-1")
	if len(history) != 1 {
		t.Fatalf("expected amend not append, got %d records", len(history))
	}
	if history[0].Status != "acknowledged" {
		t.Errorf("expected status acknowledged, got %q", history[0].Status)
	}
}

func TestRelaunchCounter(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "state.json"))
	store.Load()

	if n := store.IncrementRelaunchCounter("swarm-1"); n != 1 {
		t.Errorf("expected 1, got %d", n)
	}
	if n := store.IncrementRelaunchCounter("swarm-1"); n != 2 {
		t.Errorf("expected 2, got %d", n)
	}
	if n := store.RelaunchCount("swarm-1"); n != 2 {
		t.Errorf("expected count 2, got %d", n)
	}
	if n := store.RelaunchCount("swarm-other"); n != 0 {
		t.Errorf("expected 0 for unknown swarm, got %d", n)
	}
}

func TestRecordMetricsSnapshot(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "state.json"))
	store.Load()

	snap := metricssurface.Snapshot{TotalAgentsManaged: 5}
	store.RecordMetricsSnapshot(snap)

	state := store.GetState()
	if state.LastMetrics == nil {
		t.Fatal("expected last metrics to be set")
	}
	if state.LastMetrics.TotalAgentsManaged != 5 {
		t.Errorf("expected 5, got %d", state.LastMetrics.TotalAgentsManaged)
	}
}

func TestPruneInterventionsOlderThan(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "state.json"))
	store.Load()

	store.RecordIntervention(InterventionRecord{
		ID: "old", SwarmID: "swarm-1", CreatedAt: time.Now().Add(-10 * 24 * time.Hour),
	})
	store.RecordIntervention(InterventionRecord{
		ID: "new", SwarmID: "swarm-1", CreatedAt: time.Now(),
	})

	removed := store.PruneInterventionsOlderThan(7 * 24 * time.Hour)
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}

	history := store.InterventionHistory("swarm-1")
	if len(history) != 1 || history[0].ID != "new" {
		t.Errorf("expected only 'new' to remain, got %+v", history)
	}
}

func TestConcurrentAccess(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "state.json"))
	store.Load()

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			store.ReplaceAgents(map[string]AgentRecord{"agent-A": {ID: "agent-A"}})
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			store.IncrementRelaunchCounter("swarm-A")
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			store.GetState()
		}
	}()

	wg.Wait()
}

func TestConcurrentSaveOperations(t *testing.T) {
	tmpDir := t.TempDir()
	storePath := filepath.Join(tmpDir, "state.json")
	store := NewStore(storePath)
	store.Load()

	const goroutines = 10
	const iterations = 50
	var wg sync.WaitGroup
	wg.Add(goroutines)

	for g := 0; g < goroutines; g++ {
		gID := g
		go func() {
			defer wg.Done()
			agentID := filepath.Join("Agent", string(rune('A'+gID)))
			for i := 0; i < iterations; i++ {
				store.ReplaceAgents(map[string]AgentRecord{agentID: {ID: agentID}})
				store.IncrementRelaunchCounter(agentID)
				if i%10 == 0 {
					store.Save()
				}
			}
		}()
	}

	wg.Wait()

	if err := store.Save(); err != nil {
		t.Fatalf("Save() after concurrent operations failed: %v", err)
	}

	store2 := NewStore(storePath)
	if _, err := store2.Load(); err != nil {
		t.Fatalf("Load() after concurrent operations failed: %v", err)
	}
}
