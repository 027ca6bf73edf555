package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zapflow/zapflow/internal/flow"
	"github.com/zapflow/zapflow/internal/graph"
	"github.com/zapflow/zapflow/internal/messaging"
	"github.com/zapflow/zapflow/internal/models"
	"github.com/zapflow/zapflow/internal/reconcile"
)

type flowResult struct {
	Flow     graph.Document `json:"flow"`
	Bindings flow.Bindings  `json:"bindings"`
}

type saveFlowRequest struct {
	Flow     json.RawMessage `json:"flow"`
	Bindings flow.Bindings   `json:"bindings"`
}

type saveFlowResult struct {
	Result   reconcile.Result `json:"result"`
	Bindings flow.Bindings    `json:"bindings"`
}

type simulateRequest struct {
	Messages []string `json:"messages" validate:"required,min=1"`
	Name     string   `json:"name"`
}

type simulateResult struct {
	SessionID     string                   `json:"session_id"`
	Transcript    []models.TranscriptEntry `json:"transcript"`
	CurrentNodeID string                   `json:"current_node_id,omitempty"`
	State         flow.State               `json:"state"`
}

type suggestRequest struct {
	Triggers []string `json:"trigger_words" validate:"required,min=1"`
	Intent   string   `json:"intent" validate:"required"`
}

// getFlowHandler synthesizes a graph from the project's stored templates and
// returns the exported flow document together with its binding table.
func (s *Server) getFlowHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := operatorFromContext(r.Context())
	if !ok {
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Missing session"))
		return
	}
	projectID := chi.URLParam(r, "projectID")

	p, err := s.loadOwnedProject(projectID, claims.OperatorID)
	if err != nil {
		slog.Error("Server.getFlowHandler: project lookup failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load project"))
		return
	}
	if p == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Project not found"))
		return
	}

	templates, err := s.st.ListMessages(projectID)
	if err != nil {
		slog.Error("Server.getFlowHandler: failed to list messages", "project_id", projectID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list messages"))
		return
	}

	g, bindings, err := flow.Synthesize(flow.DefaultPolicy(), templates)
	if err != nil {
		slog.Error("Server.getFlowHandler: synthesis failed", "project_id", projectID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to build flow"))
		return
	}

	doc := graph.Export(g, p.Description)
	writeJSONResponse(w, http.StatusOK, models.Success(flowResult{Flow: doc, Bindings: bindings}))
}

// saveFlowHandler imports an edited flow document and reconciles its
// template-bearing nodes against the project's persisted templates.
func (s *Server) saveFlowHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	claims, ok := operatorFromContext(r.Context())
	if !ok {
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Missing session"))
		return
	}
	projectID := chi.URLParam(r, "projectID")

	p, err := s.loadOwnedProject(projectID, claims.OperatorID)
	if err != nil {
		slog.Error("Server.saveFlowHandler: project lookup failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load project"))
		return
	}
	if p == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Project not found"))
		return
	}

	var req saveFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.saveFlowHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if len(req.Flow) == 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: flow"))
		return
	}

	g, err := graph.Import(req.Flow)
	if err != nil {
		if errors.Is(err, graph.ErrInvalidFormat) {
			slog.Warn("Server.saveFlowHandler: rejected flow document", "project_id", projectID, "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid flow document"))
			return
		}
		slog.Error("Server.saveFlowHandler: import failed", "project_id", projectID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to import flow"))
		return
	}

	persisted, err := s.st.ListMessages(projectID)
	if err != nil {
		slog.Error("Server.saveFlowHandler: failed to list messages", "project_id", projectID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list messages"))
		return
	}

	bindings := req.Bindings
	if bindings == nil {
		bindings = flow.Bindings{}
	}

	rec := reconcile.New(&storeTemplateStore{st: s.st})
	res, err := rec.Apply(r.Context(), projectID, g, bindings, persisted)
	if err != nil {
		slog.Error("Server.saveFlowHandler: reconciliation halted", "project_id", projectID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save flow"))
		return
	}

	slog.Info("Server.saveFlowHandler: flow saved", "project_id", projectID,
		"created", res.Created, "updated", res.Updated, "skipped", res.Skipped, "failed", res.Failed)
	writeJSONResponse(w, http.StatusOK, models.Success(saveFlowResult{Result: res, Bindings: bindings}))
}

// simulateHandler runs a scripted simulation over the project's flow and
// returns the resulting transcript. Replies are evaluated inline, without the
// interactive typing delay.
func (s *Server) simulateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	claims, ok := operatorFromContext(r.Context())
	if !ok {
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Missing session"))
		return
	}
	projectID := chi.URLParam(r, "projectID")

	p, err := s.loadOwnedProject(projectID, claims.OperatorID)
	if err != nil {
		slog.Error("Server.simulateHandler: project lookup failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load project"))
		return
	}
	if p == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Project not found"))
		return
	}

	var req simulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.simulateHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		slog.Warn("Server.simulateHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("At least one message is required"))
		return
	}

	templates, err := s.st.ListMessages(projectID)
	if err != nil {
		slog.Error("Server.simulateHandler: failed to list messages", "project_id", projectID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list messages"))
		return
	}

	g, bindings, err := flow.Synthesize(flow.DefaultPolicy(), templates)
	if err != nil {
		slog.Error("Server.simulateHandler: synthesis failed", "project_id", projectID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to build flow"))
		return
	}

	opts := []flow.SimulatorOption{flow.WithTypingDelay(0)}
	if req.Name != "" {
		opts = append(opts, flow.WithSimulatedName(req.Name))
	}
	sim := flow.NewSimulator(g, bindings, templates, opts...)
	if err := sim.Start(); err != nil {
		slog.Error("Server.simulateHandler: failed to start simulation", "project_id", projectID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to start simulation"))
		return
	}
	for _, msg := range req.Messages {
		if err := sim.Submit(msg); err != nil {
			slog.Error("Server.simulateHandler: submit failed", "project_id", projectID, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Simulation failed"))
			return
		}
	}

	result := simulateResult{
		SessionID:     sim.SessionID(),
		Transcript:    sim.Transcript(),
		CurrentNodeID: sim.CurrentNodeID(),
		State:         sim.State(),
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// suggestHandler generates a candidate response text via the GenAI client.
func (s *Server) suggestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if s.gaClient == nil {
		slog.Warn("Server.suggestHandler: GenAI client not configured")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("GenAI client not configured"))
		return
	}

	var req suggestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.suggestHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		slog.Warn("Server.suggestHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Trigger words and intent are required"))
		return
	}

	text, err := s.gaClient.SuggestResponse(r.Context(), req.Triggers, req.Intent)
	if err != nil {
		slog.Error("Server.suggestHandler: suggestion failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to generate suggestion"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"response_text": text}))
}

// twilioWebhookHandler forwards inbound Twilio webhooks to the messaging
// service when one is configured.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	ts, ok := s.msgService.(*messaging.TwilioService)
	if !ok || ts == nil {
		slog.Warn("Server.twilioWebhookHandler: messaging service not configured")
		writeJSONResponse(w, http.StatusNotFound, models.Error("Messaging service not configured"))
		return
	}
	ts.TwilioWebhookHandler(w, r)
}
