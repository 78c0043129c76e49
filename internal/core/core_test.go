package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentswarm/core/internal/config"
	"github.com/agentswarm/core/internal/registry"
	"github.com/agentswarm/core/internal/tasks"
)

func testConfig(t *testing.T) *config.SwarmConfig {
	t.Helper()
	cfg := config.DefaultSwarmConfig()
	cfg.StatePath = filepath.Join(t.TempDir(), "state.json")
	cfg.Health.CheckInterval = 50 * time.Millisecond
	cfg.WorkStealing.Interval = 50 * time.Millisecond
	cfg.LoadBalancing.RebalanceInterval = 50 * time.Millisecond
	return cfg
}

func TestNewCoreWithoutTransport(t *testing.T) {
	c, err := New(testConfig(t), nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.Dispatcher == nil || c.Interventions == nil || c.Health == nil {
		t.Fatal("expected all core components to be constructed")
	}
	if c.Consensus != nil {
		t.Error("expected nil consensus engine with no transport notifier configured")
	}
}

func TestCoreStartStopPersistsState(t *testing.T) {
	cfg := testConfig(t)
	c, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	c.Registry.Register(&registry.Agent{ID: "agent-1", Health: registry.HealthHealthy, LastHeartbeat: time.Now()})

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if _, err := os.Stat(cfg.StatePath); err != nil {
		t.Fatalf("expected state file to be written: %v", err)
	}
}

func TestCoreDispatchIntegration(t *testing.T) {
	cfg := testConfig(t)
	c, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer c.Stop()

	nodeID, err := c.Tree.Place("agent-1")
	if err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	c.Registry.Register(&registry.Agent{ID: "agent-1", Health: registry.HealthHealthy, LastHeartbeat: time.Now(), NodeID: nodeID})

	task := tasks.New("task-1", "analysis", tasks.PriorityMedium, nil)
	result, err := c.Dispatcher.Dispatch(context.Background(), task)
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if result.AgentID != "agent-1" {
		t.Errorf("expected assignment to agent-1, got %s", result.AgentID)
	}
}
