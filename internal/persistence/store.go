// Package persistence implements the best-effort JSON snapshot the core
// writes on shutdown and can reload on startup, grounded on the
// teacher's debounced single-mutex JSONStore.
package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agentswarm/core/internal/metricssurface"
)

// AgentRecord is the persisted view of one registered agent.
type AgentRecord struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Capabilities  []string  `json:"capabilities"`
	Level         int       `json:"level"`
	Health        string    `json:"health"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
	InFlight      int       `json:"inFlight"`
	EMALatencyMS  float64   `json:"emaLatencyMs"`
	NodeID        string    `json:"nodeId"`
}

// NodeRecord is the persisted view of one coordination node, including
// its agent membership.
type NodeRecord struct {
	ID       string   `json:"id"`
	Level    int      `json:"level"`
	Capacity int      `json:"capacity"`
	ParentID string   `json:"parentId"`
	Children []string `json:"children"`
	Agents   []string `json:"agents"`
	Load     int      `json:"load"`
}

// InterventionRecord is the persisted view of one intervention, kept for
// audit even though live intervention state itself is in-memory only.
type InterventionRecord struct {
	ID        string                 `json:"id"`
	SwarmID   string                 `json:"swarmId"`
	AgentID   string                 `json:"agentId,omitempty"`
	Action    string                 `json:"action"`
	Message   string                 `json:"message"`
	Status    string                 `json:"status"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// SwarmState is the full document persisted to disk. Unknown fields are
// ignored on load so that older snapshots remain loadable after the
// document grows new sections.
type SwarmState struct {
	SavedAt time.Time `json:"savedAt"`

	Agents map[string]AgentRecord `json:"agents"`
	Nodes  map[string]NodeRecord  `json:"nodes"`

	InterventionHistory map[string][]InterventionRecord `json:"interventionHistory"`
	RelaunchCounters    map[string]int                   `json:"relaunchCounters"`

	LastMetrics *metricssurface.Snapshot `json:"lastMetrics,omitempty"`
}

func newSwarmState() *SwarmState {
	return &SwarmState{
		Agents:              make(map[string]AgentRecord),
		Nodes:               make(map[string]NodeRecord),
		InterventionHistory: make(map[string][]InterventionRecord),
		RelaunchCounters:    make(map[string]int),
	}
}

// Store is the JSON-file-backed persistence layer. A single mutex guards
// the in-memory document; the background saves that updates schedule are
// debounced the way the teacher's JSONStore debounces writes behind
// agent/metric updates, while Save itself writes at once.
type Store struct {
	mu       sync.RWMutex
	filepath string
	state    *SwarmState

	saveMu    sync.Mutex
	saveTimer *time.Timer
}

// NewStore creates a Store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{
		filepath: path,
		state:    newSwarmState(),
	}
}

// Load reads the snapshot document from disk, or starts from an empty
// document if none exists yet.
func (s *Store) Load() (*SwarmState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.filepath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			s.state = newSwarmState()
			return s.state, nil
		}
		return nil, err
	}

	state := newSwarmState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}
	if state.Agents == nil {
		state.Agents = make(map[string]AgentRecord)
	}
	if state.Nodes == nil {
		state.Nodes = make(map[string]NodeRecord)
	}
	if state.InterventionHistory == nil {
		state.InterventionHistory = make(map[string][]InterventionRecord)
	}
	if state.RelaunchCounters == nil {
		state.RelaunchCounters = make(map[string]int)
	}

	s.state = state
	return s.state, nil
}

// Save writes the current document to disk immediately.
func (s *Store) Save() error {
	s.mu.RLock()
	s.state.SavedAt = time.Now()
	data, err := json.MarshalIndent(s.state, "", "  ")
	s.mu.RUnlock()

	if err != nil {
		return err
	}
	return os.WriteFile(s.filepath, data, 0644)
}

// scheduleSave debounces background saves triggered by replace calls, so
// a burst of heartbeats doesn't force a write per update.
func (s *Store) scheduleSave() {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.saveTimer = time.AfterFunc(500*time.Millisecond, func() {
		s.Save()
	})
}

// ReplaceAgents overwrites the persisted agent set with a fresh snapshot
// from the registry.
func (s *Store) ReplaceAgents(agents map[string]AgentRecord) {
	s.mu.Lock()
	s.state.Agents = agents
	s.mu.Unlock()
	s.scheduleSave()
}

// ReplaceNodes overwrites the persisted coordination-node set with a
// fresh snapshot from the tree.
func (s *Store) ReplaceNodes(nodes map[string]NodeRecord) {
	s.mu.Lock()
	s.state.Nodes = nodes
	s.mu.Unlock()
	s.scheduleSave()
}

// RecordIntervention appends (or amends, if already present) one
// intervention's record in its swarm's history.
func (s *Store) RecordIntervention(rec InterventionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.state.InterventionHistory[rec.SwarmID]
	for i, existing := range history {
		if existing.ID == rec.ID {
			history[i] = rec
			s.state.InterventionHistory[rec.SwarmID] = history
			s.scheduleSave()
			return
		}
	}
	s.state.InterventionHistory[rec.SwarmID] = append(history, rec)
	s.scheduleSave()
}

// InterventionHistory returns a copy of the recorded interventions for a
// swarm, oldest first.
func (s *Store) InterventionHistory(swarmID string) []InterventionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.state.InterventionHistory[swarmID]
	out := make([]InterventionRecord, len(history))
	copy(out, history)
	return out
}

// IncrementRelaunchCounter increments and returns a swarm's relaunch
// counter.
func (s *Store) IncrementRelaunchCounter(swarmID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.RelaunchCounters[swarmID]++
	count := s.state.RelaunchCounters[swarmID]
	s.scheduleSave()
	return count
}

// RelaunchCount returns a swarm's current relaunch counter without
// incrementing it.
func (s *Store) RelaunchCount(swarmID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.RelaunchCounters[swarmID]
}

// RecordMetricsSnapshot stores the most recent metrics snapshot for
// inclusion in the next persisted document.
func (s *Store) RecordMetricsSnapshot(snap metricssurface.Snapshot) {
	s.mu.Lock()
	s.state.LastMetrics = &snap
	s.mu.Unlock()
	s.scheduleSave()
}

// GetState returns the current in-memory document. Callers must treat
// the result as read-only.
func (s *Store) GetState() *SwarmState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// PruneInterventionsOlderThan removes intervention records older than
// maxAge from every swarm's history, matching the configurable retention
// window the Intervention Channel enforces for live state.
func (s *Store) PruneInterventionsOlderThan(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for swarmID, history := range s.state.InterventionHistory {
		kept := history[:0]
		for _, rec := range history {
			if rec.CreatedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, rec)
		}
		s.state.InterventionHistory[swarmID] = kept
	}
	if removed > 0 {
		s.scheduleSave()
	}
	return removed
}
