// Package dispatch implements the Task Dispatcher: the public ingress
// that validates a task descriptor, optionally gates it through the
// consensus engine, obtains an assignment from the load balancer, and
// notifies the chosen agent — composing the registry, coordination tree,
// balancer, consensus engine, event bus, and transport layers the same
// way the teacher's CoordinationHandler composes a parser, decision
// engine, and dispatcher behind one request handler.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentswarm/core/internal/balancer"
	"github.com/agentswarm/core/internal/coordination"
	"github.com/agentswarm/core/internal/consensus"
	"github.com/agentswarm/core/internal/eventbus"
	"github.com/agentswarm/core/internal/metricssurface"
	"github.com/agentswarm/core/internal/registry"
	"github.com/agentswarm/core/internal/swarmerr"
	"github.com/agentswarm/core/internal/tasks"
)

// AgentNotifier is the subset of transport.AgentNotifier the dispatcher
// needs, kept as a small interface so the dispatcher can be tested
// without a live NATS connection.
type AgentNotifier interface {
	AssignTask(agentID string, msg TaskAssignMessage) error
}

// TaskAssignMessage mirrors transport.TaskAssignMessage's shape without
// importing the transport package, avoiding a dependency cycle back from
// transport into dispatch. The core composition root adapts
// transport.TaskAssignMessage to this type at the call site.
type TaskAssignMessage struct {
	TaskID   string
	Type     string
	Priority int
	Payload  map[string]string
	Deadline *time.Time
}

// Result is returned by Dispatch and describes how a task was handled.
type Result struct {
	TaskID  string
	AgentID string
	Queued  bool
}

// Dispatcher is the single entry point tasks are submitted through.
type Dispatcher struct {
	registry        *registry.Registry
	tree            *coordination.Tree
	balancer        *balancer.Balancer
	consensusEngine *consensus.Engine
	bus             *eventbus.Bus
	metrics         *metricssurface.Collector
	notifier        AgentNotifier

	// RequireConsensus, when true, gates every dispatch behind a
	// consensus proposal of Protocol before an assignment is made.
	RequireConsensus bool
	Protocol         consensus.ProtocolKind

	mu         sync.Mutex
	inFlight   map[string]*tasks.Task   // taskID -> task
	taskAgent  map[string]string        // taskID -> agentID
	agentTasks map[string][]string      // agentID -> taskIDs currently in flight
}

// New creates a Dispatcher bound to the given components. notifier may
// be nil, in which case assignment is purely internal bookkeeping with
// no outbound agent notification (used in tests).
func New(reg *registry.Registry, tree *coordination.Tree, bal *balancer.Balancer, engine *consensus.Engine, bus *eventbus.Bus, metrics *metricssurface.Collector, notifier AgentNotifier) *Dispatcher {
	return &Dispatcher{
		registry:        reg,
		tree:            tree,
		balancer:        bal,
		consensusEngine: engine,
		bus:             bus,
		metrics:         metrics,
		notifier:        notifier,
		Protocol:        consensus.ProtocolQuorum,
		inFlight:        make(map[string]*tasks.Task),
		taskAgent:       make(map[string]string),
		agentTasks:      make(map[string][]string),
	}
}

// Dispatch validates task, optionally gates it through consensus, and
// either assigns it to a healthy agent or queues it on the global queue
// if none is currently available.
func (d *Dispatcher) Dispatch(ctx context.Context, task *tasks.Task) (*Result, error) {
	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", swarmerr.ErrBadRequest, err)
	}

	if d.RequireConsensus && d.consensusEngine != nil {
		agentIDs := healthyIDs(d.registry)
		proposal := consensus.NewProposal(d.Protocol, "", "task-assignment", map[string]interface{}{
			"taskId": task.ID,
			"type":   task.Type,
		})
		result, err := d.consensusEngine.Propose(ctx, proposal, agentIDs)
		if err != nil {
			return nil, fmt.Errorf("consensus gating failed: %w", err)
		}
		if d.metrics != nil {
			d.metrics.RecordConsensus(
				result.Decision == consensus.DecisionApproved,
				result.Decision == consensus.DecisionRejected,
				result.Decision == consensus.DecisionTimeout,
				result.Elapsed, result.ParticipationRate,
			)
		}
		if result.Decision != consensus.DecisionApproved {
			return nil, fmt.Errorf("%w: task assignment %s", swarmerr.ErrForbidden, result.Decision)
		}
	}

	start := time.Now()
	agent, err := d.balancer.SelectAgent()
	if err != nil {
		return d.enqueue(task, "no-healthy-agent")
	}

	if err := task.TransitionTo(tasks.StatusAssigned); err != nil {
		return nil, fmt.Errorf("%w: %v", swarmerr.ErrInternal, err)
	}
	task.AssignedTo = agent.ID
	task.NodeID = agent.NodeID
	now := time.Now()
	task.AssignedAt = &now

	d.mu.Lock()
	d.inFlight[task.ID] = task
	d.taskAgent[task.ID] = agent.ID
	d.agentTasks[agent.ID] = append(d.agentTasks[agent.ID], task.ID)
	d.mu.Unlock()

	d.registry.IncrementInFlight(agent.ID)
	if agent.NodeID != "" {
		d.tree.AdjustLoad(agent.NodeID, 1)
	}

	if d.metrics != nil {
		d.metrics.RecordTaskCoordinated()
		d.metrics.RecordDispatchLatency(time.Since(start))
	}

	if d.bus != nil {
		d.bus.Publish(eventbus.New(eventbus.EventTaskCoordinated, "", agent.ID, "dispatch", map[string]interface{}{
			"taskId":  task.ID,
			"agentId": agent.ID,
		}))
	}

	if d.notifier != nil {
		if err := d.notifier.AssignTask(agent.ID, TaskAssignMessage{
			TaskID:   task.ID,
			Type:     task.Type,
			Priority: int(task.Priority),
			Payload:  task.Payload,
			Deadline: task.Deadline,
		}); err != nil {
			// Notification failure does not unwind the dispatch: the
			// agent's next heartbeat/report cycle or the health monitor's
			// failure detection will surface the problem and the task
			// will be re-queued like any other agent failure.
			return &Result{TaskID: task.ID, AgentID: agent.ID}, fmt.Errorf("assignment notification failed: %w", err)
		}
	}

	return &Result{TaskID: task.ID, AgentID: agent.ID}, nil
}

// enqueue places task on the global queue and emits TaskQueued.
func (d *Dispatcher) enqueue(task *tasks.Task, reason string) (*Result, error) {
	if err := task.TransitionTo(tasks.StatusQueued); err != nil {
		return nil, fmt.Errorf("%w: %v", swarmerr.ErrInternal, err)
	}
	d.balancer.GlobalQueue().Add(task)

	if d.bus != nil {
		d.bus.Publish(eventbus.New(eventbus.EventTaskQueued, "", "", "dispatch", map[string]interface{}{
			"taskId": task.ID,
			"reason": reason,
		}))
	}
	return &Result{TaskID: task.ID, Queued: true}, nil
}

// ReportCompletion records a task's outcome: success moves it to
// terminal completion; failure increments its retry count and returns it
// to the global queue.
func (d *Dispatcher) ReportCompletion(taskID, agentID string, success bool, executionTime time.Duration) error {
	d.mu.Lock()
	task, ok := d.inFlight[taskID]
	if ok {
		delete(d.inFlight, taskID)
		delete(d.taskAgent, taskID)
		d.removeAgentTaskLocked(agentID, taskID)
	}
	d.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: task %s", swarmerr.ErrNotFound, taskID)
	}

	d.registry.ReportCompletion(agentID, executionTime)
	if nodeID := d.tree.NodeOf(agentID); nodeID != "" {
		d.tree.AdjustLoad(nodeID, -1)
	}

	if success {
		if err := task.TransitionTo(tasks.StatusCompleted); err != nil {
			return fmt.Errorf("%w: %v", swarmerr.ErrInternal, err)
		}
		now := time.Now()
		task.CompletedAt = &now
		return nil
	}

	task.RetryCount++
	_, err := d.enqueue(task, "task-failed")
	return err
}

// HandleAgentFailed re-queues every task currently in flight on agentID.
// It is installed as health.Monitor.OnAgentFailed by the composition
// root so a mid-flight agent failure doesn't strand tasks.
func (d *Dispatcher) HandleAgentFailed(agentID string) {
	d.mu.Lock()
	taskIDs := append([]string(nil), d.agentTasks[agentID]...)
	delete(d.agentTasks, agentID)

	var orphaned []*tasks.Task
	for _, id := range taskIDs {
		if task, ok := d.inFlight[id]; ok {
			delete(d.inFlight, id)
			delete(d.taskAgent, id)
			task.RetryCount++
			orphaned = append(orphaned, task)
		}
	}
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.RecordAgentFailure()
	}

	for _, task := range orphaned {
		d.enqueue(task, "agent-failed")
	}
}

func (d *Dispatcher) removeAgentTaskLocked(agentID, taskID string) {
	ids := d.agentTasks[agentID]
	for i, id := range ids {
		if id == taskID {
			d.agentTasks[agentID] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}

// InFlightCount returns the number of tasks currently bound to an agent.
func (d *Dispatcher) InFlightCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inFlight)
}

// Run drains the global queue onto newly available healthy agents once
// per interval, fulfilling the dispatcher's promise that a queued task
// is assigned within one rebalance cycle of a healthy agent appearing.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drainGlobalQueue()
		}
	}
}

func (d *Dispatcher) drainGlobalQueue() {
	queue := d.balancer.GlobalQueue()
	for queue.Len() > 0 {
		agent, err := d.balancer.SelectAgent()
		if err != nil {
			return
		}
		task := queue.Pop()
		if task == nil {
			return
		}

		if err := task.TransitionTo(tasks.StatusAssigned); err != nil {
			continue
		}
		task.AssignedTo = agent.ID
		task.NodeID = agent.NodeID
		now := time.Now()
		task.AssignedAt = &now

		d.mu.Lock()
		d.inFlight[task.ID] = task
		d.taskAgent[task.ID] = agent.ID
		d.agentTasks[agent.ID] = append(d.agentTasks[agent.ID], task.ID)
		d.mu.Unlock()

		d.registry.IncrementInFlight(agent.ID)
		if agent.NodeID != "" {
			d.tree.AdjustLoad(agent.NodeID, 1)
		}
		if d.metrics != nil {
			d.metrics.RecordTaskCoordinated()
		}
		if d.bus != nil {
			d.bus.Publish(eventbus.New(eventbus.EventTaskCoordinated, "", agent.ID, "dispatch", map[string]interface{}{
				"taskId":  task.ID,
				"agentId": agent.ID,
				"drained": true,
			}))
		}
		if d.notifier != nil {
			d.notifier.AssignTask(agent.ID, TaskAssignMessage{
				TaskID:   task.ID,
				Type:     task.Type,
				Priority: int(task.Priority),
				Payload:  task.Payload,
				Deadline: task.Deadline,
			})
		}
	}
}

func healthyIDs(reg *registry.Registry) []string {
	healthy := reg.Healthy()
	ids := make([]string, len(healthy))
	for i, a := range healthy {
		ids[i] = a.ID
	}
	return ids
}
