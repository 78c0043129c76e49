package transport

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/nats-io/nats.go"
)

// HandlerCallbacks defines the callbacks the handler invokes to hand
// inbound agent traffic to the core's components.
type HandlerCallbacks struct {
	OnHeartbeat         func(agentID string, inFlight int) error
	OnStatus            func(agentID, status, message string) error
	OnTaskReport         func(msg TaskReportMessage) error
	OnInterventionAck   func(msg InterventionAckMessage) error
}

// Handler subscribes to the agent-facing subjects and delegates to
// HandlerCallbacks, generalizing the teacher's single-purpose NATS
// message handler to the swarm coordination subjects.
type Handler struct {
	client    *Client
	callbacks HandlerCallbacks

	subs   []*nats.Subscription
	subsMu sync.Mutex

	running bool
}

// NewHandler creates a new handler bound to client.
func NewHandler(client *Client, callbacks HandlerCallbacks) *Handler {
	return &Handler{client: client, callbacks: callbacks}
}

// Start subscribes to every agent-facing ingress subject.
func (h *Handler) Start() error {
	if h.running {
		return fmt.Errorf("handler already running")
	}
	h.running = true

	subs := []struct {
		subject string
		fn      func(*Message)
	}{
		{SubjectAllHeartbeats, h.handleHeartbeat},
		{SubjectAllStatus, h.handleStatus},
	}
	for _, s := range subs {
		sub, err := h.client.Subscribe(s.subject, s.fn)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
		}
		h.addSub(sub)
	}

	// Task reports and intervention acks use a wildcard across every
	// agent/swarm, since the dispatcher and intervention channel route by
	// the id carried in the payload, not the subject.
	reportSub, err := h.client.Subscribe("agent.*.task.report", h.handleTaskReport)
	if err != nil {
		return fmt.Errorf("failed to subscribe to task reports: %w", err)
	}
	h.addSub(reportSub)

	ackSub, err := h.client.Subscribe("swarm.*.intervention.ack", h.handleInterventionAck)
	if err != nil {
		return fmt.Errorf("failed to subscribe to intervention acks: %w", err)
	}
	h.addSub(ackSub)

	log.Printf("[TRANSPORT] handler started, subscribed to %d subjects", len(h.subs))
	return nil
}

// Stop unsubscribes from every subject.
func (h *Handler) Stop() {
	if !h.running {
		return
	}
	h.subsMu.Lock()
	for _, sub := range h.subs {
		sub.Unsubscribe()
	}
	h.subs = nil
	h.subsMu.Unlock()
	h.running = false
	log.Printf("[TRANSPORT] handler stopped")
}

func (h *Handler) addSub(sub *nats.Subscription) {
	h.subsMu.Lock()
	h.subs = append(h.subs, sub)
	h.subsMu.Unlock()
}

func (h *Handler) handleHeartbeat(msg *Message) {
	var hb HeartbeatMessage
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		log.Printf("[TRANSPORT] invalid heartbeat: %v", err)
		return
	}
	if h.callbacks.OnHeartbeat != nil {
		if err := h.callbacks.OnHeartbeat(hb.AgentID, hb.InFlight); err != nil {
			log.Printf("[TRANSPORT] heartbeat callback error: %v", err)
		}
	}
}

func (h *Handler) handleStatus(msg *Message) {
	var s StatusMessage
	if err := json.Unmarshal(msg.Data, &s); err != nil {
		log.Printf("[TRANSPORT] invalid status message: %v", err)
		return
	}
	if h.callbacks.OnStatus != nil {
		if err := h.callbacks.OnStatus(s.AgentID, s.Status, s.Message); err != nil {
			log.Printf("[TRANSPORT] status callback error: %v", err)
		}
	}
}

func (h *Handler) handleTaskReport(msg *Message) {
	var rpt TaskReportMessage
	if err := json.Unmarshal(msg.Data, &rpt); err != nil {
		log.Printf("[TRANSPORT] invalid task report: %v", err)
		return
	}
	if h.callbacks.OnTaskReport != nil {
		if err := h.callbacks.OnTaskReport(rpt); err != nil {
			log.Printf("[TRANSPORT] task report callback error: %v", err)
		}
	}
}

func (h *Handler) handleInterventionAck(msg *Message) {
	var ack InterventionAckMessage
	if err := json.Unmarshal(msg.Data, &ack); err != nil {
		log.Printf("[TRANSPORT] invalid intervention ack: %v", err)
		return
	}
	if h.callbacks.OnInterventionAck != nil {
		if err := h.callbacks.OnInterventionAck(ack); err != nil {
			log.Printf("[TRANSPORT] intervention ack callback error: %v", err)
		}
	}
}
