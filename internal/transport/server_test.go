package transport

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// TestEmbeddedServer_StartStop verifies the in-process broker used by this
// package's own tests starts, accepts connections, and shuts down cleanly.
func TestEmbeddedServer_StartStop(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "swarm-transport-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	config := EmbeddedServerConfig{
		Port:      14222,
		JetStream: true,
		DataDir:   filepath.Join(tempDir, "jetstream"),
	}

	server, err := NewEmbeddedServer(config)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	if server.IsRunning() {
		t.Error("server should not be running before Start()")
	}

	if err := server.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer server.Shutdown()

	if !server.IsRunning() {
		t.Error("server should be running after Start()")
	}

	expectedURL := "nats://127.0.0.1:14222"
	if server.URL() != expectedURL {
		t.Errorf("expected URL %s, got %s", expectedURL, server.URL())
	}

	client, err := NewClient(server.URL())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()
	if !client.IsConnected() {
		t.Error("client should be connected to the embedded server")
	}

	server.Shutdown()
	if server.IsRunning() {
		t.Error("server should not be running after Shutdown()")
	}
}

// TestEmbeddedServer_ConfigValidation tests configuration validation.
func TestEmbeddedServer_ConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		config      EmbeddedServerConfig
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid config with JetStream",
			config: EmbeddedServerConfig{Port: 14226, JetStream: true, DataDir: "/tmp/test"},
		},
		{
			name:   "valid config without JetStream",
			config: EmbeddedServerConfig{Port: 14226, JetStream: false},
		},
		{
			name:        "JetStream enabled without DataDir",
			config:      EmbeddedServerConfig{Port: 14226, JetStream: true, DataDir: ""},
			expectError: true,
			errorMsg:    "DataDir is required when JetStream is enabled",
		},
		{
			name:   "default port when not specified",
			config: EmbeddedServerConfig{Port: 0, JetStream: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, err := NewEmbeddedServer(tt.config)

			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.errorMsg)
				}
				if err.Error() != tt.errorMsg {
					t.Errorf("expected error %q, got %q", tt.errorMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("expected no error, got: %v", err)
			}
			if server == nil {
				t.Fatal("expected server to be created")
			}
			if tt.config.Port == 0 && server.config.Port != 4222 {
				t.Errorf("expected default port 4222, got %d", server.config.Port)
			}
		})
	}
}

// newHandlerTestClients starts an embedded broker and returns a connected
// core-side client (driving Handler) and an agent-side client to publish
// inbound traffic from.
func newHandlerTestClients(t *testing.T, port int) (*EmbeddedServer, *Client, *Client) {
	t.Helper()

	server, err := NewEmbeddedServer(EmbeddedServerConfig{Port: port})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}

	core, err := NewClient(server.URL())
	if err != nil {
		server.Shutdown()
		t.Fatalf("failed to create core client: %v", err)
	}

	agent, err := NewClient(server.URL())
	if err != nil {
		core.Close()
		server.Shutdown()
		t.Fatalf("failed to create agent client: %v", err)
	}

	return server, core, agent
}

// TestHandler_HeartbeatAndStatus verifies the handler decodes inbound
// heartbeat and status messages and invokes the matching callback.
func TestHandler_HeartbeatAndStatus(t *testing.T) {
	server, core, agent := newHandlerTestClients(t, 14227)
	defer server.Shutdown()
	defer core.Close()
	defer agent.Close()

	var mu sync.Mutex
	var heartbeatAgent string
	var heartbeatInFlight int
	heartbeatSeen := make(chan struct{}, 1)

	var statusAgent, status, message string
	statusSeen := make(chan struct{}, 1)

	h := NewHandler(core, HandlerCallbacks{
		OnHeartbeat: func(agentID string, inFlight int) error {
			mu.Lock()
			heartbeatAgent, heartbeatInFlight = agentID, inFlight
			mu.Unlock()
			heartbeatSeen <- struct{}{}
			return nil
		},
		OnStatus: func(agentID, st, msg string) error {
			mu.Lock()
			statusAgent, status, message = agentID, st, msg
			mu.Unlock()
			statusSeen <- struct{}{}
			return nil
		},
	})
	if err := h.Start(); err != nil {
		t.Fatalf("failed to start handler: %v", err)
	}
	defer h.Stop()
	time.Sleep(100 * time.Millisecond)

	hbSubject := fmt.Sprintf(SubjectAgentHeartbeat, "agent-042")
	if err := agent.PublishJSON(hbSubject, HeartbeatMessage{AgentID: "agent-042", InFlight: 2, Timestamp: time.Now()}); err != nil {
		t.Fatalf("failed to publish heartbeat: %v", err)
	}

	select {
	case <-heartbeatSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnHeartbeat")
	}
	mu.Lock()
	if heartbeatAgent != "agent-042" || heartbeatInFlight != 2 {
		t.Errorf("unexpected heartbeat callback args: %s, %d", heartbeatAgent, heartbeatInFlight)
	}
	mu.Unlock()

	statusSubject := fmt.Sprintf(SubjectAgentStatus, "agent-042")
	if err := agent.PublishJSON(statusSubject, StatusMessage{AgentID: "agent-042", Status: "busy", Message: "running task-1", Timestamp: time.Now()}); err != nil {
		t.Fatalf("failed to publish status: %v", err)
	}

	select {
	case <-statusSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnStatus")
	}
	mu.Lock()
	defer mu.Unlock()
	if statusAgent != "agent-042" || status != "busy" || message != "running task-1" {
		t.Errorf("unexpected status callback args: %s, %s, %s", statusAgent, status, message)
	}
}

// TestHandler_TaskReportAndInterventionAck verifies the handler routes a
// task report and an intervention ack to their respective callbacks.
func TestHandler_TaskReportAndInterventionAck(t *testing.T) {
	server, core, agent := newHandlerTestClients(t, 14228)
	defer server.Shutdown()
	defer core.Close()
	defer agent.Close()

	reportCh := make(chan TaskReportMessage, 1)
	ackCh := make(chan InterventionAckMessage, 1)

	h := NewHandler(core, HandlerCallbacks{
		OnTaskReport: func(msg TaskReportMessage) error {
			reportCh <- msg
			return nil
		},
		OnInterventionAck: func(msg InterventionAckMessage) error {
			ackCh <- msg
			return nil
		},
	})
	if err := h.Start(); err != nil {
		t.Fatalf("failed to start handler: %v", err)
	}
	defer h.Stop()
	time.Sleep(100 * time.Millisecond)

	reportSubject := fmt.Sprintf(SubjectTaskReport, "agent-010")
	report := TaskReportMessage{TaskID: "task-7", AgentID: "agent-010", Success: true, ExecutionTime: 5 * time.Millisecond}
	if err := agent.PublishJSON(reportSubject, report); err != nil {
		t.Fatalf("failed to publish task report: %v", err)
	}

	select {
	case got := <-reportCh:
		if got.TaskID != "task-7" || !got.Success {
			t.Errorf("unexpected task report: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnTaskReport")
	}

	ackSubject := fmt.Sprintf(SubjectInterventionAck, "swarm-9")
	ack := InterventionAckMessage{InterventionID: "int-5", AgentID: "agent-010", Applied: true, Detail: "relaunched"}
	if err := agent.PublishJSON(ackSubject, ack); err != nil {
		t.Fatalf("failed to publish intervention ack: %v", err)
	}

	select {
	case got := <-ackCh:
		if got.InterventionID != "int-5" || !got.Applied {
			t.Errorf("unexpected intervention ack: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnInterventionAck")
	}
}

// TestHandler_StartTwiceFails verifies Start refuses a second subscription
// pass on an already-running handler.
func TestHandler_StartTwiceFails(t *testing.T) {
	server, core, agent := newHandlerTestClients(t, 14229)
	defer server.Shutdown()
	defer core.Close()
	defer agent.Close()

	h := NewHandler(core, HandlerCallbacks{})
	if err := h.Start(); err != nil {
		t.Fatalf("failed to start handler: %v", err)
	}
	defer h.Stop()

	if err := h.Start(); err == nil {
		t.Error("expected error starting an already-running handler")
	}
}

// TestHandler_InvalidPayloadIsIgnored verifies a malformed message on a
// handled subject is dropped rather than invoking the callback or panicking.
func TestHandler_InvalidPayloadIsIgnored(t *testing.T) {
	server, core, agent := newHandlerTestClients(t, 14230)
	defer server.Shutdown()
	defer core.Close()
	defer agent.Close()

	called := make(chan struct{}, 1)
	h := NewHandler(core, HandlerCallbacks{
		OnHeartbeat: func(agentID string, inFlight int) error {
			called <- struct{}{}
			return nil
		},
	})
	if err := h.Start(); err != nil {
		t.Fatalf("failed to start handler: %v", err)
	}
	defer h.Stop()
	time.Sleep(100 * time.Millisecond)

	malformed, _ := json.Marshal("not-an-object")
	subject := fmt.Sprintf(SubjectAgentHeartbeat, "agent-broken")
	if err := agent.Publish(subject, malformed); err != nil {
		t.Fatalf("failed to publish malformed payload: %v", err)
	}

	select {
	case <-called:
		t.Fatal("OnHeartbeat should not be called for a malformed payload")
	case <-time.After(300 * time.Millisecond):
	}
}
