package eventbus

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebSocket buffer size, same constant as the single-hub version this
// generalizes.
const SessionBufferSize = 256

const (
	maxMessageLen    = 5000
	maxIDFieldLen    = 100
	maxFilterPayload = 10000
)

// allowedActions mirrors the intervention channel's action set without
// importing that package, to keep the bus decoupled from its consumers.
var allowedActions = map[string]bool{
	"redirect":        true,
	"pause":           true,
	"resume":          true,
	"priority-change": true,
	"relaunch-swarm":  true,
	"modify-goal":     true,
	"add-constraint":  true,
}

// allowedCommands is the fixed allow-list for orchestration-command
// passthroughs.
var allowedCommands = map[string]bool{
	"status":  true,
	"pause":   true,
	"resume":  true,
}

// InterventionSubmitter is implemented by the intervention channel.
type InterventionSubmitter interface {
	Submit(swarmID, agentID, action, message string) (id string, status string, reason string, err error)
}

// StatusProvider answers request-status queries.
type StatusProvider interface {
	Status(swarmID, agentID string) map[string]interface{}
}

// ClientMessage is an inbound message from an observer session.
type ClientMessage struct {
	Type    string          `json:"type"`
	SwarmID string          `json:"swarmId,omitempty"`
	UserID  string          `json:"userId,omitempty"`
	Message string          `json:"message,omitempty"`
	Action  string          `json:"action,omitempty"`
	AgentID string          `json:"agentId,omitempty"`
	Command string          `json:"command,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerMessage is an outbound broadcast or response.
type ServerMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// rateWindow is a sliding 60-second message counter per session.
type rateWindow struct {
	mu    sync.Mutex
	stamp []time.Time
}

func (w *rateWindow) allow(limit int, window time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-window)
	kept := w.stamp[:0]
	for _, s := range w.stamp {
		if s.After(cutoff) {
			kept = append(kept, s)
		}
	}
	w.stamp = kept

	if len(w.stamp) >= limit {
		return false
	}
	w.stamp = append(w.stamp, now)
	return true
}

// Session is one observer's WebSocket connection.
type Session struct {
	ID   string
	conn *websocket.Conn
	send chan []byte

	hub  *SessionHub
	rate *rateWindow

	mu      sync.Mutex
	rooms   map[string]string // room -> subscription id
	filters map[string]Filter
}

// SessionHub manages observer sessions and bridges them to the Bus.
type SessionHub struct {
	Bus                *Bus
	AllowedOrigins     []string
	RateLimitPerWindow int
	RateLimitWindow    time.Duration

	Interventions InterventionSubmitter
	Status        StatusProvider

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionHub creates a hub wired to bus.
func NewSessionHub(bus *Bus) *SessionHub {
	return &SessionHub{
		Bus:                bus,
		RateLimitPerWindow: 100,
		RateLimitWindow:    60 * time.Second,
		sessions:           make(map[string]*Session),
	}
}

// CheckOrigin validates the Origin header against the allow-list at
// handshake time. An empty allow-list permits all origins (for local
// development).
func (h *SessionHub) CheckOrigin(r *http.Request) bool {
	if len(h.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}

// Register creates and starts a new session from an upgraded connection.
func (h *SessionHub) Register(conn *websocket.Conn) *Session {
	s := &Session{
		ID:      uuid.New().String(),
		conn:    conn,
		send:    make(chan []byte, SessionBufferSize),
		hub:     h,
		rate:    &rateWindow{},
		rooms:   make(map[string]string),
		filters: make(map[string]Filter),
	}

	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()

	s.writeServerMessage(ServerMessage{
		Type:      "connected",
		Timestamp: time.Now(),
		Payload: map[string]interface{}{
			"sessionId":      s.ID,
			"serverTime":     time.Now().Format(time.RFC3339),
			"supportedEvents": AllEventTypes(),
		},
	})

	go s.writePump()
	go s.readPump()

	return s
}

func (h *SessionHub) unregister(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s.ID)
	h.mu.Unlock()

	s.mu.Lock()
	for room, subID := range s.rooms {
		h.Bus.Unsubscribe(room, subID)
	}
	s.mu.Unlock()

	close(s.send)
}

// SessionCount returns the number of connected sessions.
func (h *SessionHub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (s *Session) readPump() {
	defer func() {
		s.hub.unregister(s)
		s.conn.Close()
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		if !s.rate.allow(s.hub.RateLimitPerWindow, s.hub.RateLimitWindow) {
			s.respondError("RateLimited", "rate limit exceeded")
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.respondError("BadRequest", "malformed message")
			continue
		}

		s.handle(msg)
	}
}

func (s *Session) writePump() {
	defer s.conn.Close()

	for message := range s.send {
		if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	s.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (s *Session) handle(msg ClientMessage) {
	switch msg.Type {
	case "join-swarm":
		s.handleJoin(msg)
	case "leave-swarm":
		s.handleLeave(msg)
	case "send-intervention":
		s.handleIntervention(msg)
	case "request-status":
		s.handleStatus(msg)
	case "set-filter":
		s.handleSetFilter(msg)
	default:
		if msg.Command != "" {
			s.handleCommand(msg)
			return
		}
		s.respondError("BadRequest", fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func (s *Session) handleJoin(msg ClientMessage) {
	if msg.SwarmID == "" || len(msg.SwarmID) > maxIDFieldLen {
		s.respondError("BadRequest", "swarmId is required and must be <=100 chars")
		return
	}
	if len(msg.UserID) > maxIDFieldLen {
		s.respondError("BadRequest", "userId must be <=100 chars")
		return
	}

	room := Room(msg.SwarmID)

	s.mu.Lock()
	if _, already := s.rooms[room]; already {
		s.mu.Unlock()
		return
	}
	subID, ch := s.hub.Bus.Subscribe(room, 100, s.filterFor(room))
	s.rooms[room] = subID
	s.mu.Unlock()

	go s.pumpRoom(ch)

	s.writeServerMessage(ServerMessage{
		Type:      "joined-swarm",
		Timestamp: time.Now(),
		Payload:   map[string]interface{}{"swarmId": msg.SwarmID},
	})
}

func (s *Session) pumpRoom(ch <-chan Event) {
	for ev := range ch {
		s.writeServerMessage(ServerMessage{Type: string(ev.Type), Timestamp: ev.Timestamp, Payload: ev})
	}
}

func (s *Session) handleLeave(msg ClientMessage) {
	if msg.SwarmID == "" {
		s.respondError("BadRequest", "swarmId is required")
		return
	}
	room := Room(msg.SwarmID)

	s.mu.Lock()
	subID, ok := s.rooms[room]
	if ok {
		delete(s.rooms, room)
		delete(s.filters, room)
	}
	s.mu.Unlock()

	if ok {
		s.hub.Bus.Unsubscribe(room, subID)
	}
}

func (s *Session) handleIntervention(msg ClientMessage) {
	if msg.SwarmID == "" || msg.Message == "" || msg.Action == "" {
		s.respondError("BadRequest", "swarmId, message and action are required")
		return
	}
	if len(msg.Message) > maxMessageLen {
		s.respondError("BadRequest", "message exceeds 5000 chars")
		return
	}
	if !allowedActions[msg.Action] {
		s.respondError("BadRequest", fmt.Sprintf("unknown action %q", msg.Action))
		return
	}
	if len(msg.AgentID) > maxIDFieldLen {
		s.respondError("BadRequest", "agentId must be <=100 chars")
		return
	}

	if s.hub.Interventions == nil {
		s.respondError("Internal", "intervention channel unavailable")
		return
	}

	id, status, reason, err := s.hub.Interventions.Submit(msg.SwarmID, msg.AgentID, msg.Action, msg.Message)
	if err != nil {
		s.respondError("Internal", err.Error())
		return
	}

	s.writeServerMessage(ServerMessage{
		Type:      "intervention-status",
		Timestamp: time.Now(),
		Payload:   map[string]interface{}{"id": id, "status": status, "reason": reason},
	})
}

func (s *Session) handleStatus(msg ClientMessage) {
	if len(msg.SwarmID) > maxIDFieldLen || len(msg.AgentID) > maxIDFieldLen {
		s.respondError("BadRequest", "swarmId/agentId must be <=100 chars")
		return
	}

	var payload map[string]interface{}
	if s.hub.Status != nil {
		payload = s.hub.Status.Status(msg.SwarmID, msg.AgentID)
	}

	s.writeServerMessage(ServerMessage{Type: "status", Timestamp: time.Now(), Payload: payload})
}

func (s *Session) handleSetFilter(msg ClientMessage) {
	if len(msg.Payload) > maxFilterPayload {
		s.respondError("BadRequest", "filter payload exceeds 10000 bytes")
		return
	}

	var spec struct {
		SwarmID   string   `json:"swarmId"`
		EventType []string `json:"eventTypes"`
	}
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &spec); err != nil {
			s.respondError("BadRequest", "malformed filter payload")
			return
		}
	}

	room := Room(spec.SwarmID)
	allow := make(map[EventType]bool, len(spec.EventType))
	for _, t := range spec.EventType {
		allow[EventType(t)] = true
	}

	var filter Filter
	if len(allow) > 0 {
		filter = func(ev Event) bool { return allow[ev.Type] }
	}

	s.mu.Lock()
	s.filters[room] = filter
	_, joined := s.rooms[room]
	s.mu.Unlock()

	if joined {
		// Re-subscribing with the new filter is the simplest way to apply
		// it to an already-joined room without a bespoke update path on Bus.
		s.mu.Lock()
		oldSub := s.rooms[room]
		s.mu.Unlock()
		s.hub.Bus.Unsubscribe(room, oldSub)

		subID, ch := s.hub.Bus.Subscribe(room, 100, filter)
		s.mu.Lock()
		s.rooms[room] = subID
		s.mu.Unlock()
		go s.pumpRoom(ch)
	}
}

func (s *Session) handleCommand(msg ClientMessage) {
	if !allowedCommands[msg.Command] {
		s.respondError("BadRequest", fmt.Sprintf("command %q not allowed", msg.Command))
		return
	}
	s.writeServerMessage(ServerMessage{
		Type:      "command-ack",
		Timestamp: time.Now(),
		Payload:   map[string]interface{}{"command": msg.Command},
	})
}

func (s *Session) filterFor(room string) Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters[room]
}

func (s *Session) respondError(code, message string) {
	s.writeServerMessage(ServerMessage{
		Type:      "error",
		Timestamp: time.Now(),
		Payload:   map[string]interface{}{"code": code, "message": message},
	})
}

func (s *Session) writeServerMessage(msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[EVENTBUS] failed to marshal server message: %v", err)
		return
	}
	select {
	case s.send <- data:
	default:
		log.Printf("[EVENTBUS] session %s send buffer full, dropping message type=%s", s.ID, msg.Type)
	}
}
