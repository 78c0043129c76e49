// Package core is the composition root: it owns one instance of every
// coordination-core component and starts/stops their background loops
// together, the way the teacher's Server struct composes its engines and
// drives backgroundTasks under one stopChan.
package core

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/agentswarm/core/internal/balancer"
	"github.com/agentswarm/core/internal/config"
	"github.com/agentswarm/core/internal/consensus"
	"github.com/agentswarm/core/internal/coordination"
	"github.com/agentswarm/core/internal/dispatch"
	"github.com/agentswarm/core/internal/eventbus"
	"github.com/agentswarm/core/internal/health"
	"github.com/agentswarm/core/internal/intervention"
	"github.com/agentswarm/core/internal/metricssurface"
	"github.com/agentswarm/core/internal/persistence"
	"github.com/agentswarm/core/internal/registry"
	"github.com/agentswarm/core/internal/transport"
)

// metricsSnapshotInterval matches the teacher's backgroundTasks cadence
// for alert/health checks and metric snapshots.
const metricsSnapshotInterval = 30 * time.Second

// Core wires the registry, coordination tree, balancer, health monitor,
// consensus engine, event bus, dispatcher, intervention channel, metrics
// collector, and persistence layer into one explicit, test-constructible
// value, replacing the teacher's package-level singletons.
type Core struct {
	Config *config.SwarmConfig

	Registry      *registry.Registry
	Tree          *coordination.Tree
	Balancer      *balancer.Balancer
	Health        *health.Monitor
	Consensus     *consensus.Engine
	Bus           *eventbus.Bus
	Dispatcher    *dispatch.Dispatcher
	Interventions *intervention.Channel
	Metrics       *metricssurface.Collector
	Store         *persistence.Store
	Audit         *persistence.AuditLog

	transportClient *transport.Client
	transportHandler *transport.Handler
	notifier         *transport.AgentNotifier

	stopOnce sync.Once
	stopChan chan struct{}
}

// New constructs a Core from cfg. The NATS client and audit database are
// optional: pass nil for natsClient to run fully in-process (useful for
// tests and for the HTTP-only administrative surface), and nil for
// auditDB to skip SQLite-backed audit retention.
func New(cfg *config.SwarmConfig, natsClient *transport.Client, auditDB *persistence.AuditLog) (*Core, error) {
	reg := registry.New()
	tree := coordination.New(cfg.Coordination.MaxAgentsPerNode, cfg.Coordination.HierarchyDepth)
	bus := eventbus.New(nil)
	bal := balancer.New(cfg.LoadBalancing, cfg.WorkStealing, reg, tree, bus)
	metrics := metricssurface.NewCollector()
	store := persistence.NewStore(cfg.StatePath)

	var notifier *transport.AgentNotifier
	if natsClient != nil {
		notifier = &transport.AgentNotifier{Client: natsClient}
	}

	var engine *consensus.Engine
	if notifier != nil {
		engine = consensus.NewEngine(cfg.Consensus, notifier)
	}

	var dispatcherNotifier dispatch.AgentNotifier
	if notifier != nil {
		dispatcherNotifier = &dispatchNotifierAdapter{notifier: notifier}
	}
	dispatcher := dispatch.New(reg, tree, bal, engine, bus, metrics, dispatcherNotifier)

	var interventionNotifier intervention.Notifier
	if notifier != nil {
		interventionNotifier = &interventionNotifierAdapter{notifier: notifier}
	}
	interventions := intervention.New(cfg.Intervention.RelaunchCeiling, cfg.Intervention.MaxAge, bus, interventionNotifier, store, auditDB)

	monitor := health.New(cfg.Health, reg, tree, bus, nil)
	monitor.OnAgentFailed = dispatcher.HandleAgentFailed

	c := &Core{
		Config:        cfg,
		Registry:      reg,
		Tree:          tree,
		Balancer:      bal,
		Health:        monitor,
		Consensus:     engine,
		Bus:           bus,
		Dispatcher:    dispatcher,
		Interventions: interventions,
		Metrics:       metrics,
		Store:         store,
		Audit:         auditDB,
		transportClient: natsClient,
		stopChan:        make(chan struct{}),
	}

	if natsClient != nil {
		c.notifier = notifier
		c.transportHandler = transport.NewHandler(natsClient, transport.HandlerCallbacks{
			OnHeartbeat: func(agentID string, inFlight int) error {
				reg.Heartbeat(agentID)
				return nil
			},
			OnStatus: func(agentID, status, message string) error {
				return nil
			},
			OnTaskReport: func(msg transport.TaskReportMessage) error {
				return dispatcher.ReportCompletion(msg.TaskID, msg.AgentID, msg.Success, msg.ExecutionTime)
			},
			OnInterventionAck: func(msg transport.InterventionAckMessage) error {
				return interventions.HandleAck(msg.InterventionID, msg.AgentID, msg.Applied, msg.Detail)
			},
		})
	}

	return c, nil
}

// dispatchNotifierAdapter adapts transport.AgentNotifier.AssignTask's
// transport-domain message type to dispatch.TaskAssignMessage, breaking
// the import cycle that would otherwise exist between dispatch and
// transport.
type dispatchNotifierAdapter struct {
	notifier *transport.AgentNotifier
}

func (a *dispatchNotifierAdapter) AssignTask(agentID string, msg dispatch.TaskAssignMessage) error {
	return a.notifier.AssignTask(agentID, transport.TaskAssignMessage{
		TaskID:   msg.TaskID,
		Type:     msg.Type,
		Priority: msg.Priority,
		Payload:  msg.Payload,
		Deadline: msg.Deadline,
	})
}

type interventionNotifierAdapter struct {
	notifier *transport.AgentNotifier
}

func (a *interventionNotifierAdapter) DeliverIntervention(swarmID string, msg intervention.InterventionDeliverMessage) error {
	return a.notifier.DeliverIntervention(swarmID, transport.InterventionDeliverMessage{
		ID: msg.ID, SwarmID: msg.SwarmID, AgentID: msg.AgentID,
		Action: msg.Action, Message: msg.Message, Metadata: msg.Metadata,
	})
}

// Start loads persisted state (if any), starts the agent-facing
// transport handler (if configured), and launches every background
// loop. It returns once everything is running; loops stop when ctx is
// cancelled or Stop is called.
func (c *Core) Start(ctx context.Context) error {
	if _, err := c.Store.Load(); err != nil {
		return fmt.Errorf("failed to load persisted state: %w", err)
	}

	if c.transportHandler != nil {
		if err := c.transportHandler.Start(); err != nil {
			return fmt.Errorf("failed to start transport handler: %w", err)
		}
	}

	go c.Balancer.Run(ctx)
	go c.Health.Run(ctx)
	go c.Dispatcher.Run(ctx, c.Config.LoadBalancing.RebalanceInterval)
	go c.backgroundTasks(ctx)

	return nil
}

// backgroundTasks periodically snapshots metrics, persists registry and
// tree state, and sweeps expired interventions, mirroring the teacher's
// single-ticker backgroundTasks loop.
func (c *Core) backgroundTasks(ctx context.Context) {
	ticker := time.NewTicker(metricsSnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.snapshotAndPersist()
			removed := c.Interventions.Cleanup()
			if removed > 0 {
				log.Printf("[CORE] cleaned up %d expired interventions", removed)
			}
		}
	}
}

func (c *Core) snapshotAndPersist() {
	healthy, degraded, failed := c.Registry.CountByHealth()
	gauges := metricssurface.LiveGauges{
		TotalAgentsManaged:      c.Registry.Count(),
		ActiveCoordinationNodes: c.Tree.NodeCount(),
		HealthyAgents:           healthy,
		DegradedAgents:          degraded,
		FailedAgents:            failed,
		GlobalQueueSize:         c.Balancer.GlobalQueue().Len(),
	}
	snap := c.Metrics.Snapshot(gauges)
	c.Store.RecordMetricsSnapshot(snap)

	c.Store.ReplaceAgents(agentRecords(c.Registry.Snapshot()))
	c.Store.ReplaceNodes(nodeRecords(c.Tree.Snapshot()))
}

func agentRecords(agents map[string]*registry.Agent) map[string]persistence.AgentRecord {
	out := make(map[string]persistence.AgentRecord, len(agents))
	for id, a := range agents {
		out[id] = persistence.AgentRecord{
			ID: a.ID, Type: a.Type, Capabilities: a.Capabilities, Level: a.Level,
			Health: string(a.Health), LastHeartbeat: a.LastHeartbeat,
			InFlight: a.InFlight, EMALatencyMS: a.EMALatencyMS, NodeID: a.NodeID,
		}
	}
	return out
}

func nodeRecords(nodes map[string]coordination.Snapshot) map[string]persistence.NodeRecord {
	out := make(map[string]persistence.NodeRecord, len(nodes))
	for id, n := range nodes {
		out[id] = persistence.NodeRecord{
			ID: n.ID, Level: n.Level, Capacity: n.Capacity, ParentID: n.ParentID,
			Children: n.Children, Agents: n.Agents, Load: n.Load,
		}
	}
	return out
}

// Stop halts background loops and writes a final best-effort snapshot,
// mirroring the teacher's Shutdown saving state before closing.
func (c *Core) Stop() error {
	c.stopOnce.Do(func() { close(c.stopChan) })

	if c.transportHandler != nil {
		c.transportHandler.Stop()
	}

	c.snapshotAndPersist()
	return c.Store.Save()
}

// Status answers an observer's request-status query (SPEC_FULL.md
// external-interface table, `request-status`). With neither field set it
// returns a coordination-wide summary; with agentId set it returns that
// agent's registry record and node id. swarmId does not narrow the
// result: with only swarmId set the coordination-wide summary is returned.
func (c *Core) Status(swarmID, agentID string) map[string]interface{} {
	if agentID != "" {
		agent := c.Registry.Get(agentID)
		if agent == nil {
			return map[string]interface{}{"error": "NotFound", "agentId": agentID}
		}
		return map[string]interface{}{
			"agentId":   agent.ID,
			"type":      agent.Type,
			"health":    string(agent.Health),
			"nodeId":    agent.NodeID,
			"inFlight":  agent.InFlight,
			"emaLatency": agent.EMALatencyMS,
		}
	}

	healthy, degraded, failed := c.Registry.CountByHealth()
	return map[string]interface{}{
		"totalAgentsManaged":      c.Registry.Count(),
		"activeCoordinationNodes": c.Tree.NodeCount(),
		"healthyAgents":           healthy,
		"degradedAgents":          degraded,
		"failedAgents":            failed,
		"globalQueueSize":         c.Balancer.GlobalQueue().Len(),
	}
}
