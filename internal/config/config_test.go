package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "swarm.yaml")

	configYAML := `coordination:
  max_agents_per_node: 50
  hierarchy_depth: 3

work_stealing:
  threshold_ratio: 3.5

consensus:
  protocol: raft
  timeout: 10s
`
	if err := os.WriteFile(configPath, []byte(configYAML), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Coordination.MaxAgentsPerNode != 50 {
		t.Errorf("expected max_agents_per_node 50, got %d", cfg.Coordination.MaxAgentsPerNode)
	}
	if cfg.Coordination.HierarchyDepth != 3 {
		t.Errorf("expected hierarchy_depth 3, got %d", cfg.Coordination.HierarchyDepth)
	}
	if cfg.Consensus.Protocol != "raft" {
		t.Errorf("expected protocol raft, got %s", cfg.Consensus.Protocol)
	}
	if cfg.Consensus.Timeout != 10*time.Second {
		t.Errorf("expected consensus timeout 10s, got %s", cfg.Consensus.Timeout)
	}

	// Fields untouched by the override document keep their documented
	// defaults, including duration fields decoded through the
	// shadow-struct UnmarshalYAML path.
	if cfg.WorkStealing.Enabled != true {
		t.Errorf("expected work_stealing.enabled to default true")
	}
	if cfg.WorkStealing.Interval != 500*time.Millisecond {
		t.Errorf("expected work_stealing.interval to default to 500ms, got %s", cfg.WorkStealing.Interval)
	}
	if cfg.WorkStealing.ThresholdRatio != 3.5 {
		t.Errorf("expected threshold_ratio 3.5, got %f", cfg.WorkStealing.ThresholdRatio)
	}
	if cfg.Health.CheckInterval != 1*time.Second {
		t.Errorf("expected health.check_interval to default to 1s, got %s", cfg.Health.CheckInterval)
	}
	if cfg.Intervention.RelaunchCeiling != 10 {
		t.Errorf("expected relaunch_ceiling to default to 10, got %d", cfg.Intervention.RelaunchCeiling)
	}
	if cfg.Intervention.MaxAge != 7*24*time.Hour {
		t.Errorf("expected intervention.max_age to default to 7 days, got %s", cfg.Intervention.MaxAge)
	}
}

func TestLoadRejectsUnknownStrategyAndProtocol(t *testing.T) {
	tmpDir := t.TempDir()

	badStrategy := filepath.Join(tmpDir, "bad-strategy.yaml")
	os.WriteFile(badStrategy, []byte("load_balancing:\n  strategy: lottery\n"), 0644)
	if _, err := Load(badStrategy); err == nil {
		t.Error("expected error for unknown load balancing strategy")
	}

	badProtocol := filepath.Join(tmpDir, "bad-protocol.yaml")
	os.WriteFile(badProtocol, []byte("consensus:\n  protocol: byzantine-generals\n"), 0644)
	if _, err := Load(badProtocol); err == nil {
		t.Error("expected error for unknown consensus protocol")
	}
}

func TestLoadRejectsInvalidCoordinationBounds(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "swarm.yaml")
	os.WriteFile(configPath, []byte("coordination:\n  hierarchy_depth: 0\n"), 0644)

	if _, err := Load(configPath); err == nil {
		t.Error("expected error for hierarchy_depth < 1")
	}
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "swarm.yaml")
	os.WriteFile(configPath, []byte("health:\n  check_interval: \"not-a-duration\"\n"), 0644)

	if _, err := Load(configPath); err == nil {
		t.Error("expected error for malformed duration string")
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}
