package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/agentswarm/core/internal/balancer"
	"github.com/agentswarm/core/internal/config"
	"github.com/agentswarm/core/internal/coordination"
	"github.com/agentswarm/core/internal/dispatch"
	"github.com/agentswarm/core/internal/eventbus"
	"github.com/agentswarm/core/internal/intervention"
	"github.com/agentswarm/core/internal/metricssurface"
	"github.com/agentswarm/core/internal/registry"
)

func newTestHandler(t *testing.T) (*Handler, *registry.Registry, *coordination.Tree) {
	t.Helper()
	reg := registry.New()
	tree := coordination.New(10, 3)
	bus := eventbus.New(nil)
	bal := balancer.New(
		config.LoadBalancingConfig{Strategy: "least-loaded"},
		config.WorkStealingConfig{Enabled: false},
		reg, tree, bus,
	)
	metrics := metricssurface.NewCollector()
	d := dispatch.New(reg, tree, bal, nil, bus, metrics, nil)
	ic := intervention.New(10, 7*24*time.Hour, bus, nil, nil, nil)

	h := New(d, ic, metrics, func() metricssurface.LiveGauges {
		return metricssurface.LiveGauges{TotalAgentsManaged: len(reg.Healthy())}
	})
	return h, reg, tree
}

func newTestRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func TestSubmitTaskQueuesWithoutHealthyAgent(t *testing.T) {
	h, _, _ := newTestHandler(t)
	r := newTestRouter(h)

	body, _ := json.Marshal(submitTaskRequest{ID: "t1", Type: "analysis", Priority: 1})
	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var result dispatch.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !result.Queued {
		t.Error("expected task to be queued with no registered agents")
	}
}

func TestSubmitTaskRejectsBadPayload(t *testing.T) {
	h, _, _ := newTestHandler(t)
	r := newTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSubmitInterventionAndRelaunchCeiling(t *testing.T) {
	h, _, _ := newTestHandler(t)
	r := newTestRouter(h)

	for i := 0; i < 10; i++ {
		body, _ := json.Marshal(submitInterventionRequest{SwarmID: "swarm-1", Action: "relaunch-swarm", Message: "retry"})
		req := httptest.NewRequest(http.MethodPost, "/interventions", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201, got %d", i+1, rec.Code)
		}
	}

	body, _ := json.Marshal(submitInterventionRequest{SwarmID: "swarm-1", Action: "relaunch-swarm", Message: "one more"})
	req := httptest.NewRequest(http.MethodPost, "/interventions", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["status"] != "rejected" {
		t.Fatalf("expected rejected status on 11th relaunch, got %v", resp)
	}
}

func TestMetricsEndpointReturnsSnapshot(t *testing.T) {
	h, reg, tree := newTestHandler(t)
	nodeID, _ := tree.Place("agent-1")
	reg.Register(&registry.Agent{ID: "agent-1", Health: registry.HealthHealthy, NodeID: nodeID})

	r := newTestRouter(h)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap metricssurface.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.TotalAgentsManaged != 1 {
		t.Errorf("expected 1 managed agent, got %d", snap.TotalAgentsManaged)
	}
}
