package messaging

import (
	"context"
	"errors"
	"log/slog"

	"github.com/zapflow/zapflow/internal/flow"
	"github.com/zapflow/zapflow/internal/models"
	"github.com/zapflow/zapflow/internal/store"
)

// ErrNoProject is returned when a responder is created without a project to serve.
var ErrNoProject = errors.New("responder requires a project ID")

// DefaultContactName substitutes the {name} placeholder for live conversations,
// where the sender's display name is not available.
const DefaultContactName = "cliente"

// ResponderOpts holds configuration options for the Responder.
type ResponderOpts struct {
	ContactName string
}

// ResponderOption defines a configuration option for the Responder.
type ResponderOption func(*ResponderOpts)

// WithContactName overrides the {name} placeholder value used in replies.
func WithContactName(name string) ResponderOption {
	return func(o *ResponderOpts) { o.ContactName = name }
}

// Responder answers inbound messages by matching them against a project's
// active templates and sending the rendered response back through the service.
type Responder struct {
	service     Service
	store       store.Store
	projectID   string
	contactName string
}

// NewResponder creates a responder serving one project's templates.
func NewResponder(service Service, st store.Store, projectID string, opts ...ResponderOption) (*Responder, error) {
	if projectID == "" {
		return nil, ErrNoProject
	}
	cfg := ResponderOpts{ContactName: DefaultContactName}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Responder{
		service:     service,
		store:       st,
		projectID:   projectID,
		contactName: cfg.ContactName,
	}, nil
}

// Run consumes inbound messages until the context is canceled or the
// service's response channel closes. Each message is answered at most once.
func (r *Responder) Run(ctx context.Context) {
	slog.Info("Responder started", "project_id", r.projectID)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Responder stopped", "reason", ctx.Err())
			return
		case resp, ok := <-r.service.Responses():
			if !ok {
				slog.Info("Responder stopped: response channel closed")
				return
			}
			r.handle(ctx, resp)
		}
	}
}

// handle matches one inbound message and sends the reply, if any.
func (r *Responder) handle(ctx context.Context, resp models.Response) {
	templates, err := r.store.ListMessages(r.projectID)
	if err != nil {
		slog.Error("Responder failed to load templates", "project_id", r.projectID, "error", err)
		return
	}

	tmpl, ok := flow.MatchTemplate(templates, resp.Body)
	if !ok {
		slog.Debug("Responder found no matching template", "from", resp.From, "body", resp.Body)
		return
	}

	body := flow.RenderResponse(tmpl, r.contactName)
	if err := r.service.SendMessage(ctx, resp.From, body); err != nil {
		slog.Error("Responder failed to send reply", "to", resp.From, "template_id", tmpl.ID, "error", err)
		return
	}
	slog.Info("Responder sent reply", "to", resp.From, "template_id", tmpl.ID)
}
