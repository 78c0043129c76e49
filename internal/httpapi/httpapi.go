// Package httpapi exposes the administrative HTTP surface: task
// submission, intervention submission/history, and a metrics snapshot
// endpoint, grounded on the teacher's CaptainHandler/SupervisorHandler
// route-registration and response-helper conventions.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/agentswarm/core/internal/dispatch"
	"github.com/agentswarm/core/internal/intervention"
	"github.com/agentswarm/core/internal/metricssurface"
	"github.com/agentswarm/core/internal/swarmerr"
	"github.com/agentswarm/core/internal/tasks"
)

// MaxPayloadSize bounds request bodies to guard against oversized
// payloads, same limit the teacher applies to every mutating endpoint.
const MaxPayloadSize = 1 * 1024 * 1024 // 1MB

func limitRequestSize(r *http.Request) {
	r.Body = http.MaxBytesReader(nil, r.Body, MaxPayloadSize)
}

// Handler wires the administrative endpoints to the dispatcher,
// intervention channel, and metrics collector.
type Handler struct {
	dispatcher   *dispatch.Dispatcher
	interventions *intervention.Channel
	metrics      *metricssurface.Collector
	gauges       func() metricssurface.LiveGauges
}

// New creates a Handler. gauges supplies the live snapshot fields the
// metrics collector doesn't own itself (agent/node counts), typically
// backed by the composition root's registry/tree.
func New(d *dispatch.Dispatcher, ic *intervention.Channel, m *metricssurface.Collector, gauges func() metricssurface.LiveGauges) *Handler {
	return &Handler{dispatcher: d, interventions: ic, metrics: m, gauges: gauges}
}

// RegisterRoutes registers every administrative endpoint on r.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/tasks", h.handleSubmitTask).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{id}/completion", h.handleReportCompletion).Methods(http.MethodPost)
	r.HandleFunc("/interventions", h.handleSubmitIntervention).Methods(http.MethodPost)
	r.HandleFunc("/interventions/{id}/acknowledge", h.handleAcknowledge).Methods(http.MethodPost)
	r.HandleFunc("/interventions/{id}/apply", h.handleApply).Methods(http.MethodPost)
	r.HandleFunc("/swarms/{swarmId}/interventions", h.handleInterventionHistory).Methods(http.MethodGet)
	r.HandleFunc("/metrics", h.handleMetrics).Methods(http.MethodGet)
}

type submitTaskRequest struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Priority int               `json:"priority"`
	Payload  map[string]string `json:"payload"`
}

func (h *Handler) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	limitRequestSize(r)

	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	task := tasks.New(req.ID, req.Type, tasks.Priority(req.Priority), req.Payload)
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	result, err := h.dispatcher.Dispatch(ctx, task)
	if err != nil {
		respondSwarmErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, result)
}

type completionRequest struct {
	AgentID       string `json:"agentId"`
	Success       bool   `json:"success"`
	ExecutionTime int64  `json:"executionTimeMs"`
}

func (h *Handler) handleReportCompletion(w http.ResponseWriter, r *http.Request) {
	limitRequestSize(r)
	taskID := mux.Vars(r)["id"]

	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.dispatcher.ReportCompletion(taskID, req.AgentID, req.Success, time.Duration(req.ExecutionTime)*time.Millisecond)
	if err != nil {
		respondSwarmErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitInterventionRequest struct {
	SwarmID string `json:"swarmId"`
	AgentID string `json:"agentId,omitempty"`
	Action  string `json:"action"`
	Message string `json:"message"`
}

func (h *Handler) handleSubmitIntervention(w http.ResponseWriter, r *http.Request) {
	limitRequestSize(r)

	var req submitInterventionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, status, reason, err := h.interventions.Submit(req.SwarmID, req.AgentID, req.Action, req.Message)
	if err != nil {
		respondSwarmErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": id, "status": status, "reason": reason})
}

type ackRequest struct {
	AgentID string `json:"agentId"`
	Detail  string `json:"detail,omitempty"`
}

func (h *Handler) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	limitRequestSize(r)
	id := mux.Vars(r)["id"]

	var req ackRequest
	json.NewDecoder(r.Body).Decode(&req)

	if err := h.interventions.Acknowledge(id, req.AgentID); err != nil {
		respondSwarmErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (h *Handler) handleApply(w http.ResponseWriter, r *http.Request) {
	limitRequestSize(r)
	id := mux.Vars(r)["id"]

	var req ackRequest
	json.NewDecoder(r.Body).Decode(&req)

	if err := h.interventions.Apply(id, req.AgentID, req.Detail); err != nil {
		respondSwarmErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

func (h *Handler) handleInterventionHistory(w http.ResponseWriter, r *http.Request) {
	swarmID := mux.Vars(r)["swarmId"]
	respondJSON(w, http.StatusOK, h.interventions.History(swarmID))
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var gauges metricssurface.LiveGauges
	if h.gauges != nil {
		gauges = h.gauges()
	}
	respondJSON(w, http.StatusOK, h.metrics.Snapshot(gauges))
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// respondSwarmErr maps a sentinel error to its wire code and an
// appropriate HTTP status, following the taxonomy in internal/swarmerr.
func respondSwarmErr(w http.ResponseWriter, err error) {
	code := swarmerr.CodeFor(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, swarmerr.ErrBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, swarmerr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, swarmerr.ErrAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, swarmerr.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, swarmerr.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, swarmerr.ErrRelaunchCeilingReached):
		status = http.StatusConflict
	case errors.Is(err, swarmerr.ErrInsufficientCapacity):
		status = http.StatusServiceUnavailable
	case errors.Is(err, swarmerr.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, swarmerr.ErrNoHealthyAgent):
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error(), "code": string(code)})
}
