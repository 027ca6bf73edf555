// Package api provides HTTP handlers and the main API server logic for ZapFlow.
//
// It exposes RESTful endpoints for operator accounts, projects, reply
// templates, flow synthesis and simulation, and the inbound Twilio webhook.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/zapflow/zapflow/internal/auth"
	"github.com/zapflow/zapflow/internal/genai"
	"github.com/zapflow/zapflow/internal/messaging"
	"github.com/zapflow/zapflow/internal/models"
	"github.com/zapflow/zapflow/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// DefaultShutdownTimeout bounds graceful shutdown on context cancellation.
const DefaultShutdownTimeout = 10 * time.Second

type contextKey string

// claimsContextKey carries the authenticated operator's claims.
const claimsContextKey contextKey = "zapflow.claims"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr           string
	AllowedOrigins []string
	MsgService     messaging.Service
	GenAIClient    *genai.Client
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithAllowedOrigins sets the CORS allowed origins.
func WithAllowedOrigins(origins []string) Option {
	return func(o *Opts) { o.AllowedOrigins = origins }
}

// WithMessagingService attaches a messaging service for the Twilio webhook.
func WithMessagingService(svc messaging.Service) Option {
	return func(o *Opts) { o.MsgService = svc }
}

// WithGenAIClient attaches a GenAI client for the suggest endpoint.
func WithGenAIClient(c *genai.Client) Option {
	return func(o *Opts) { o.GenAIClient = c }
}

// Server wires the store, token service and optional integrations into an
// HTTP API.
type Server struct {
	st         store.Store
	tokens     *auth.Service
	validate   *validator.Validate
	msgService messaging.Service
	gaClient   *genai.Client
	addr       string
	origins    []string
}

// NewServer creates an API server over the given store and token service.
func NewServer(st store.Store, tokens *auth.Service, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, AllowedOrigins: []string{"*"}}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		st:         st,
		tokens:     tokens,
		validate:   validator.New(),
		msgService: cfg.MsgService,
		gaClient:   cfg.GenAIClient,
		addr:       cfg.Addr,
		origins:    cfg.AllowedOrigins,
	}
}

// Router builds the chi router with all routes and middleware configured.
func (s *Server) Router() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/health", s.healthHandler)
	router.Post("/auth/register", s.registerHandler)
	router.Post("/auth/login", s.loginHandler)
	router.Post("/webhook/twilio", s.twilioWebhookHandler)

	router.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/projects", s.listProjectsHandler)
		r.Post("/projects", s.createProjectHandler)
		r.Post("/projects/{projectID}/set-default", s.setDefaultProjectHandler)

		r.Get("/projects/{projectID}/messages", s.listMessagesHandler)
		r.Post("/projects/{projectID}/messages", s.createMessageHandler)
		r.Put("/messages/{messageID}", s.updateMessageHandler)
		r.Delete("/messages/{messageID}", s.deleteMessageHandler)

		r.Get("/projects/{projectID}/flow", s.getFlowHandler)
		r.Post("/projects/{projectID}/flow", s.saveFlowHandler)
		r.Post("/projects/{projectID}/simulate", s.simulateHandler)

		r.Post("/suggest", s.suggestHandler)
	})

	return router
}

// Run starts the HTTP server and blocks until the context is canceled or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ZapFlow API running", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown failed", "error", err)
			return err
		}
		slog.Info("Server shut down")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("ok", nil))
}

// authMiddleware validates the bearer token and stores the claims in the
// request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.tokens.ValidateToken(r.Header.Get("Authorization"))
		if err != nil {
			slog.Warn("Server.authMiddleware: rejected request", "path", r.URL.Path, "error", err)
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Invalid or expired token"))
			return
		}
		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// operatorFromContext returns the authenticated operator's claims.
func operatorFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*auth.Claims)
	return claims, ok
}

// storeTemplateStore adapts store.Store to the reconciler's template store
// interface, assigning ids on create the way the remote store would.
type storeTemplateStore struct {
	st store.Store
}

func (a *storeTemplateStore) CreateMessage(ctx context.Context, projectID string, t models.Template) (models.Template, error) {
	t.ID = uuid.NewString()
	t.ProjectID = projectID
	t.CreatedAt = time.Now()
	if err := a.st.CreateMessage(t); err != nil {
		return models.Template{}, err
	}
	return t, nil
}

func (a *storeTemplateStore) UpdateMessage(ctx context.Context, t models.Template) (models.Template, error) {
	if err := a.st.UpdateMessage(t); err != nil {
		return models.Template{}, err
	}
	return t, nil
}

func (a *storeTemplateStore) DeleteMessage(ctx context.Context, id string) error {
	return a.st.DeleteMessage(id)
}
