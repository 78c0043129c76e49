// Package config loads the coordination core's deployment configuration
// from YAML, the way team rosters were loaded in the project this core
// grew out of.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CoordinationConfig bounds the shape of the coordination tree.
type CoordinationConfig struct {
	MaxAgentsPerNode int `yaml:"max_agents_per_node"`
	HierarchyDepth   int `yaml:"hierarchy_depth"`
}

// WorkStealingConfig controls the work-stealer background loop.
type WorkStealingConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Interval         time.Duration `yaml:"interval"`
	ThresholdRatio   float64       `yaml:"threshold_ratio"`
	MinTasksToSteal  int           `yaml:"min_tasks_to_steal"`
	MaxTasksToSteal  int           `yaml:"max_tasks_to_steal"`
}

// UnmarshalYAML lets operators write durations as "500ms"/"5s" strings
// in the deployment document; yaml.v3 has no built-in support for
// decoding a string scalar into a time.Duration, so each config section
// carrying one unmarshals through a shadow struct and
// time.ParseDuration.
func (w *WorkStealingConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	shadow := struct {
		Enabled         bool    `yaml:"enabled"`
		Interval        string  `yaml:"interval"`
		ThresholdRatio  float64 `yaml:"threshold_ratio"`
		MinTasksToSteal int     `yaml:"min_tasks_to_steal"`
		MaxTasksToSteal int     `yaml:"max_tasks_to_steal"`
	}{
		Enabled:         w.Enabled,
		Interval:        w.Interval.String(),
		ThresholdRatio:  w.ThresholdRatio,
		MinTasksToSteal: w.MinTasksToSteal,
		MaxTasksToSteal: w.MaxTasksToSteal,
	}
	if err := unmarshal(&shadow); err != nil {
		return err
	}
	w.Enabled = shadow.Enabled
	w.ThresholdRatio = shadow.ThresholdRatio
	w.MinTasksToSteal = shadow.MinTasksToSteal
	w.MaxTasksToSteal = shadow.MaxTasksToSteal
	if shadow.Interval != "" {
		d, err := time.ParseDuration(shadow.Interval)
		if err != nil {
			return fmt.Errorf("work_stealing.interval: %w", err)
		}
		w.Interval = d
	}
	return nil
}

// LoadBalancingConfig selects and tunes the dispatch strategy.
type LoadBalancingConfig struct {
	Strategy          string        `yaml:"strategy"` // least-loaded | round-robin | random | weighted
	RebalanceInterval time.Duration `yaml:"rebalance_interval"`
	ImbalanceRatio    float64       `yaml:"imbalance_ratio"`
}

// UnmarshalYAML, see WorkStealingConfig.UnmarshalYAML.
func (l *LoadBalancingConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	shadow := struct {
		Strategy          string  `yaml:"strategy"`
		RebalanceInterval string  `yaml:"rebalance_interval"`
		ImbalanceRatio    float64 `yaml:"imbalance_ratio"`
	}{
		Strategy:          l.Strategy,
		RebalanceInterval: l.RebalanceInterval.String(),
		ImbalanceRatio:    l.ImbalanceRatio,
	}
	if err := unmarshal(&shadow); err != nil {
		return err
	}
	l.Strategy = shadow.Strategy
	l.ImbalanceRatio = shadow.ImbalanceRatio
	if shadow.RebalanceInterval != "" {
		d, err := time.ParseDuration(shadow.RebalanceInterval)
		if err != nil {
			return fmt.Errorf("load_balancing.rebalance_interval: %w", err)
		}
		l.RebalanceInterval = d
	}
	return nil
}

// HealthConfig tunes the heartbeat-based health monitor.
type HealthConfig struct {
	CheckInterval   time.Duration `yaml:"check_interval"`
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
}

// UnmarshalYAML, see WorkStealingConfig.UnmarshalYAML.
func (h *HealthConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	shadow := struct {
		CheckInterval   string `yaml:"check_interval"`
		RecoveryTimeout string `yaml:"recovery_timeout"`
		MaxBackoff      string `yaml:"max_backoff"`
	}{
		CheckInterval:   h.CheckInterval.String(),
		RecoveryTimeout: h.RecoveryTimeout.String(),
		MaxBackoff:      h.MaxBackoff.String(),
	}
	if err := unmarshal(&shadow); err != nil {
		return err
	}
	for _, f := range []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"check_interval", shadow.CheckInterval, &h.CheckInterval},
		{"recovery_timeout", shadow.RecoveryTimeout, &h.RecoveryTimeout},
		{"max_backoff", shadow.MaxBackoff, &h.MaxBackoff},
	} {
		if f.src == "" {
			continue
		}
		d, err := time.ParseDuration(f.src)
		if err != nil {
			return fmt.Errorf("health.%s: %w", f.name, err)
		}
		*f.dst = d
	}
	return nil
}

// ConsensusConfig selects and tunes the consensus protocol.
type ConsensusConfig struct {
	Protocol          string        `yaml:"protocol"` // raft | pbft | quorum | fast-paxos
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	ByzantineF        int           `yaml:"byzantine_f"`
	ExplicitQuorum    int           `yaml:"explicit_quorum_size"`
	RaftHeartbeat     time.Duration `yaml:"raft_heartbeat"`
	RaftElectionTimeout time.Duration `yaml:"raft_election_timeout"`
}

// UnmarshalYAML, see WorkStealingConfig.UnmarshalYAML.
func (c *ConsensusConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	shadow := struct {
		Protocol            string `yaml:"protocol"`
		Timeout             string `yaml:"timeout"`
		MaxRetries          int    `yaml:"max_retries"`
		ByzantineF          int    `yaml:"byzantine_f"`
		ExplicitQuorum      int    `yaml:"explicit_quorum_size"`
		RaftHeartbeat       string `yaml:"raft_heartbeat"`
		RaftElectionTimeout string `yaml:"raft_election_timeout"`
	}{
		Protocol:            c.Protocol,
		Timeout:             c.Timeout.String(),
		MaxRetries:          c.MaxRetries,
		ByzantineF:          c.ByzantineF,
		ExplicitQuorum:      c.ExplicitQuorum,
		RaftHeartbeat:       c.RaftHeartbeat.String(),
		RaftElectionTimeout: c.RaftElectionTimeout.String(),
	}
	if err := unmarshal(&shadow); err != nil {
		return err
	}
	c.Protocol = shadow.Protocol
	c.MaxRetries = shadow.MaxRetries
	c.ByzantineF = shadow.ByzantineF
	c.ExplicitQuorum = shadow.ExplicitQuorum
	for _, f := range []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"timeout", shadow.Timeout, &c.Timeout},
		{"raft_heartbeat", shadow.RaftHeartbeat, &c.RaftHeartbeat},
		{"raft_election_timeout", shadow.RaftElectionTimeout, &c.RaftElectionTimeout},
	} {
		if f.src == "" {
			continue
		}
		d, err := time.ParseDuration(f.src)
		if err != nil {
			return fmt.Errorf("consensus.%s: %w", f.name, err)
		}
		*f.dst = d
	}
	return nil
}

// EventBusConfig tunes ingress policy for the event bus.
type EventBusConfig struct {
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
	RateLimitWindow    time.Duration `yaml:"rate_limit_window"`
	AllowedOrigins     []string      `yaml:"allowed_origins"`
	SubscriberBuffer   int           `yaml:"subscriber_buffer"`
}

// UnmarshalYAML, see WorkStealingConfig.UnmarshalYAML.
func (e *EventBusConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	shadow := struct {
		RateLimitPerMinute int      `yaml:"rate_limit_per_minute"`
		RateLimitWindow    string   `yaml:"rate_limit_window"`
		AllowedOrigins     []string `yaml:"allowed_origins"`
		SubscriberBuffer   int      `yaml:"subscriber_buffer"`
	}{
		RateLimitPerMinute: e.RateLimitPerMinute,
		RateLimitWindow:    e.RateLimitWindow.String(),
		AllowedOrigins:     e.AllowedOrigins,
		SubscriberBuffer:   e.SubscriberBuffer,
	}
	if err := unmarshal(&shadow); err != nil {
		return err
	}
	e.RateLimitPerMinute = shadow.RateLimitPerMinute
	e.AllowedOrigins = shadow.AllowedOrigins
	e.SubscriberBuffer = shadow.SubscriberBuffer
	if shadow.RateLimitWindow != "" {
		d, err := time.ParseDuration(shadow.RateLimitWindow)
		if err != nil {
			return fmt.Errorf("event_bus.rate_limit_window: %w", err)
		}
		e.RateLimitWindow = d
	}
	return nil
}

// InterventionConfig tunes the human intervention channel.
type InterventionConfig struct {
	RelaunchCeiling int           `yaml:"relaunch_ceiling"`
	MaxAge          time.Duration `yaml:"max_age"`
}

// UnmarshalYAML, see WorkStealingConfig.UnmarshalYAML.
func (i *InterventionConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	shadow := struct {
		RelaunchCeiling int    `yaml:"relaunch_ceiling"`
		MaxAge          string `yaml:"max_age"`
	}{
		RelaunchCeiling: i.RelaunchCeiling,
		MaxAge:          i.MaxAge.String(),
	}
	if err := unmarshal(&shadow); err != nil {
		return err
	}
	i.RelaunchCeiling = shadow.RelaunchCeiling
	if shadow.MaxAge != "" {
		d, err := time.ParseDuration(shadow.MaxAge)
		if err != nil {
			return fmt.Errorf("intervention.max_age: %w", err)
		}
		i.MaxAge = d
	}
	return nil
}

// SwarmConfig is the top-level deployment configuration document.
type SwarmConfig struct {
	Coordination CoordinationConfig  `yaml:"coordination"`
	WorkStealing WorkStealingConfig  `yaml:"work_stealing"`
	LoadBalancing LoadBalancingConfig `yaml:"load_balancing"`
	Health       HealthConfig        `yaml:"health"`
	Consensus    ConsensusConfig     `yaml:"consensus"`
	EventBus     EventBusConfig      `yaml:"event_bus"`
	Intervention InterventionConfig  `yaml:"intervention"`
	NATSURL      string              `yaml:"nats_url"`
	HTTPAddr     string              `yaml:"http_addr"`
	StatePath    string              `yaml:"state_path"`
	AuditDBPath  string              `yaml:"audit_db_path"`
}

// DefaultSwarmConfig returns the documented defaults from the component
// design, mirroring how thresholds.go ships baked-in production defaults.
func DefaultSwarmConfig() *SwarmConfig {
	return &SwarmConfig{
		Coordination: CoordinationConfig{
			MaxAgentsPerNode: 25,
			HierarchyDepth:   4,
		},
		WorkStealing: WorkStealingConfig{
			Enabled:         true,
			Interval:        500 * time.Millisecond,
			ThresholdRatio:  2.0,
			MinTasksToSteal: 1,
			MaxTasksToSteal: 5,
		},
		LoadBalancing: LoadBalancingConfig{
			Strategy:          "least-loaded",
			RebalanceInterval: 5 * time.Second,
			ImbalanceRatio:    0.30,
		},
		Health: HealthConfig{
			CheckInterval:   1 * time.Second,
			RecoveryTimeout: 5 * time.Second,
			MaxBackoff:      60 * time.Second,
		},
		Consensus: ConsensusConfig{
			Protocol:            "quorum",
			Timeout:             5 * time.Second,
			MaxRetries:          0,
			ByzantineF:          1,
			RaftHeartbeat:       1 * time.Second,
			RaftElectionTimeout: 5 * time.Second,
		},
		EventBus: EventBusConfig{
			RateLimitPerMinute: 100,
			RateLimitWindow:    60 * time.Second,
			SubscriberBuffer:   100,
		},
		Intervention: InterventionConfig{
			RelaunchCeiling: 10,
			MaxAge:          7 * 24 * time.Hour,
		},
		NATSURL:     "nats://127.0.0.1:4222",
		HTTPAddr:    ":8090",
		StatePath:   "swarm-state.json",
		AuditDBPath: "swarm-audit.db",
	}
}

// Load reads a SwarmConfig from a YAML file, applying documented defaults
// for any section left unset, and validates bounds required by the
// component design (e.g. hierarchy depth must allow at least a root).
func Load(path string) (*SwarmConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := DefaultSwarmConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the structural invariants the coordination tree and
// consensus engine depend on.
func (c *SwarmConfig) Validate() error {
	if c.Coordination.HierarchyDepth < 1 {
		return fmt.Errorf("hierarchy_depth must be >= 1")
	}
	if c.Coordination.MaxAgentsPerNode < 1 {
		return fmt.Errorf("max_agents_per_node must be >= 1")
	}
	switch c.LoadBalancing.Strategy {
	case "least-loaded", "round-robin", "random", "weighted":
	default:
		return fmt.Errorf("unknown load balancing strategy: %s", c.LoadBalancing.Strategy)
	}
	switch c.Consensus.Protocol {
	case "quorum", "raft", "pbft", "fast-paxos":
	default:
		return fmt.Errorf("unknown consensus protocol: %s", c.Consensus.Protocol)
	}
	return nil
}
