package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/zapflow/zapflow/internal/models"
)

type createProjectRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

func (s *Server) listProjectsHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := operatorFromContext(r.Context())
	if !ok {
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Missing session"))
		return
	}

	projects, err := s.st.ListProjects(claims.OperatorID)
	if err != nil {
		slog.Error("Server.listProjectsHandler: failed to list projects", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list projects"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(projects))
}

func (s *Server) createProjectHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	claims, ok := operatorFromContext(r.Context())
	if !ok {
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Missing session"))
		return
	}

	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.createProjectHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		slog.Warn("Server.createProjectHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Project name is required"))
		return
	}

	p := models.Project{
		ID:          uuid.NewString(),
		OperatorID:  claims.OperatorID,
		Name:        req.Name,
		Description: req.Description,
		Active:      true,
		CreatedAt:   time.Now(),
	}
	if err := p.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.st.CreateProject(p); err != nil {
		slog.Error("Server.createProjectHandler: failed to store project", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create project"))
		return
	}

	slog.Info("Server.createProjectHandler: project created", "project_id", p.ID)
	writeJSONResponse(w, http.StatusCreated, models.Success(p))
}

func (s *Server) setDefaultProjectHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := operatorFromContext(r.Context())
	if !ok {
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Missing session"))
		return
	}
	projectID := chi.URLParam(r, "projectID")

	p, err := s.loadOwnedProject(projectID, claims.OperatorID)
	if err != nil {
		slog.Error("Server.setDefaultProjectHandler: project lookup failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load project"))
		return
	}
	if p == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Project not found"))
		return
	}

	if err := s.st.SetDefaultProject(claims.OperatorID, projectID); err != nil {
		slog.Error("Server.setDefaultProjectHandler: failed to set default", "project_id", projectID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to set default project"))
		return
	}

	slog.Info("Server.setDefaultProjectHandler: default project set", "project_id", projectID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Default project set", nil))
}

func (s *Server) listMessagesHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := operatorFromContext(r.Context())
	if !ok {
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Missing session"))
		return
	}
	projectID := chi.URLParam(r, "projectID")

	p, err := s.loadOwnedProject(projectID, claims.OperatorID)
	if err != nil {
		slog.Error("Server.listMessagesHandler: project lookup failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load project"))
		return
	}
	if p == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Project not found"))
		return
	}

	templates, err := s.st.ListMessages(projectID)
	if err != nil {
		slog.Error("Server.listMessagesHandler: failed to list messages", "project_id", projectID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list messages"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(templates))
}

func (s *Server) createMessageHandler(w http.ResponseWriter, r *http.Request) {
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
		slog.Error("Server.createMessageHandler: project lookup failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load project"))
		return
	}
	if p == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Project not found"))
		return
	}

	var t models.Template
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		slog.Warn("Server.createMessageHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	t.ID = uuid.NewString()
	t.ProjectID = projectID
	t.CreatedAt = time.Now()
	if err := t.Validate(); err != nil {
		slog.Warn("Server.createMessageHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if err := s.st.CreateMessage(t); err != nil {
		slog.Error("Server.createMessageHandler: failed to store message", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create message"))
		return
	}

	slog.Info("Server.createMessageHandler: message created", "template_id", t.ID, "project_id", projectID)
	writeJSONResponse(w, http.StatusCreated, models.Success(t))
}

func (s *Server) updateMessageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	claims, ok := operatorFromContext(r.Context())
	if !ok {
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Missing session"))
		return
	}
	messageID := chi.URLParam(r, "messageID")

	existing, err := s.loadOwnedMessage(messageID, claims.OperatorID)
	if err != nil {
		slog.Error("Server.updateMessageHandler: message lookup failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load message"))
		return
	}
	if existing == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Message not found"))
		return
	}

	var t models.Template
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		slog.Warn("Server.updateMessageHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	t.ID = messageID
	t.ProjectID = existing.ProjectID
	if err := t.Validate(); err != nil {
		slog.Warn("Server.updateMessageHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if err := s.st.UpdateMessage(t); err != nil {
		slog.Error("Server.updateMessageHandler: failed to update message", "template_id", messageID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update message"))
		return
	}

	slog.Info("Server.updateMessageHandler: message updated", "template_id", messageID)
	writeJSONResponse(w, http.StatusOK, models.Success(t))
}

func (s *Server) deleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := operatorFromContext(r.Context())
	if !ok {
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Missing session"))
		return
	}
	messageID := chi.URLParam(r, "messageID")

	existing, err := s.loadOwnedMessage(messageID, claims.OperatorID)
	if err != nil {
		slog.Error("Server.deleteMessageHandler: message lookup failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load message"))
		return
	}
	if existing == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Message not found"))
		return
	}

	if err := s.st.DeleteMessage(messageID); err != nil {
		slog.Error("Server.deleteMessageHandler: failed to delete message", "template_id", messageID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to delete message"))
		return
	}

	slog.Info("Server.deleteMessageHandler: message deleted", "template_id", messageID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message deleted", nil))
}

// loadOwnedProject fetches a project and checks it belongs to the operator.
// Returns nil without error when missing or owned by someone else.
func (s *Server) loadOwnedProject(projectID, operatorID string) (*models.Project, error) {
	p, err := s.st.GetProject(projectID)
	if err != nil {
		return nil, err
	}
	if p == nil || p.OperatorID != operatorID {
		return nil, nil
	}
	return p, nil
}

// loadOwnedMessage fetches a template and checks its project belongs to the
// operator. Returns nil without error when missing or not owned.
func (s *Server) loadOwnedMessage(messageID, operatorID string) (*models.Template, error) {
	t, err := s.st.GetMessage(messageID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, nil
	}
	p, err := s.loadOwnedProject(t.ProjectID, operatorID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	return t, nil
}
