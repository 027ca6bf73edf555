package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zapflow/zapflow/internal/auth"
	"github.com/zapflow/zapflow/internal/models"
)

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type sessionResult struct {
	Token    string          `json:"token"`
	Operator models.Operator `json:"operator"`
}

func (s *Server) registerHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.registerHandler: processing register request")

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.registerHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validate.Struct(req); err != nil {
		slog.Warn("Server.registerHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Email and a password of at least 8 characters are required"))
		return
	}

	if existing, err := s.st.GetOperatorByEmail(req.Email); err != nil {
		slog.Error("Server.registerHandler: operator lookup failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create account"))
		return
	} else if existing != nil {
		slog.Warn("Server.registerHandler: email already registered", "email", req.Email)
		writeJSONResponse(w, http.StatusConflict, models.Error("Email is already registered"))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		slog.Error("Server.registerHandler: failed to hash password", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create account"))
		return
	}

	op := models.Operator{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
	if err := s.st.CreateOperator(op); err != nil {
		slog.Error("Server.registerHandler: failed to store operator", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create account"))
		return
	}

	token, err := s.tokens.IssueToken(op.ID, op.Email)
	if err != nil {
		slog.Error("Server.registerHandler: failed to issue token", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create session"))
		return
	}

	slog.Info("Server.registerHandler: operator registered", "operator_id", op.ID)
	writeJSONResponse(w, http.StatusCreated, models.Success(sessionResult{Token: token, Operator: op}))
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.loginHandler: processing login request")

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.loginHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validate.Struct(req); err != nil {
		slog.Warn("Server.loginHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Email and password are required"))
		return
	}

	op, err := s.st.GetOperatorByEmail(req.Email)
	if err != nil {
		slog.Error("Server.loginHandler: operator lookup failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to log in"))
		return
	}
	if op == nil || auth.CheckPassword(op.PasswordHash, req.Password) != nil {
		slog.Warn("Server.loginHandler: invalid credentials", "email", req.Email)
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Invalid email or password"))
		return
	}

	token, err := s.tokens.IssueToken(op.ID, op.Email)
	if err != nil {
		slog.Error("Server.loginHandler: failed to issue token", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create session"))
		return
	}

	slog.Info("Server.loginHandler: operator logged in", "operator_id", op.ID)
	writeJSONResponse(w, http.StatusOK, models.Success(sessionResult{Token: token, Operator: *op}))
}
