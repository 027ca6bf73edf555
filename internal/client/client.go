// Package client provides a typed consumer of the template store HTTP
// contract. The reconciliation layer drives it to persist graph edits.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zapflow/zapflow/internal/models"
)

// Store-boundary errors. These are expected at runtime and recoverable:
// callers report the failure and restore prior in-memory state.
var (
	// ErrAuthExpired signals a 401 from the store. The in-flight operation
	// must abort without partial application; batch operations must issue
	// no further calls.
	ErrAuthExpired = errors.New("store credential expired")
	// ErrStoreUnavailable signals a network failure or a non-2xx response
	// other than 401.
	ErrStoreUnavailable = errors.New("template store unavailable")
)

// DefaultTimeout bounds each store request.
const DefaultTimeout = 10 * time.Second

// Opts holds configuration options for the store client.
type Opts struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// Option defines a configuration option for the store client.
type Option func(*Opts)

// WithBaseURL sets the store's base URL.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = strings.TrimRight(url, "/") }
}

// WithToken sets the bearer credential sent on every call.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithHTTPClient injects an HTTP client (tests use httptest servers).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTP = c }
}

// Client talks to the template store API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a template store client.
func New(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("store base URL not set")
	}
	if cfg.HTTP == nil {
		cfg.HTTP = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{baseURL: cfg.BaseURL, token: cfg.Token, http: cfg.HTTP}, nil
}

// SetToken replaces the bearer credential after a session refresh.
func (c *Client) SetToken(token string) {
	c.token = token
}

// ListProjects returns all projects visible to the credential.
func (c *Client) ListProjects(ctx context.Context) ([]models.Project, error) {
	var out []models.Project
	if err := c.do(ctx, http.MethodGet, "/projects", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateProject creates a project and returns it with its assigned id.
func (c *Client) CreateProject(ctx context.Context, p models.Project) (models.Project, error) {
	var out models.Project
	if err := c.do(ctx, http.MethodPost, "/projects", p, &out); err != nil {
		return models.Project{}, err
	}
	return out, nil
}

// SetDefaultProject marks the project as the default one.
func (c *Client) SetDefaultProject(ctx context.Context, projectID string) error {
	return c.do(ctx, http.MethodPost, "/projects/"+projectID+"/set-default", nil, nil)
}

// ListMessages returns the ordered template list of a project.
func (c *Client) ListMessages(ctx context.Context, projectID string) ([]models.Template, error) {
	var out []models.Template
	if err := c.do(ctx, http.MethodGet, "/projects/"+projectID+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateMessage persists a new template and returns it with its assigned id.
func (c *Client) CreateMessage(ctx context.Context, projectID string, t models.Template) (models.Template, error) {
	var out models.Template
	if err := c.do(ctx, http.MethodPost, "/projects/"+projectID+"/messages", t, &out); err != nil {
		return models.Template{}, err
	}
	return out, nil
}

// UpdateMessage replaces a persisted template's content.
func (c *Client) UpdateMessage(ctx context.Context, t models.Template) (models.Template, error) {
	var out models.Template
	if err := c.do(ctx, http.MethodPut, "/messages/"+t.ID, t, &out); err != nil {
		return models.Template{}, err
	}
	return out, nil
}

// DeleteMessage removes a persisted template.
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+id, nil, nil)
}

// do issues one request and decodes the wrapped result. A 401 maps to
// ErrAuthExpired, everything else non-2xx to ErrStoreUnavailable.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("Store request failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		slog.Warn("Store credential rejected", "method", method, "path", path)
		return ErrAuthExpired
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("Store returned error status", "method", method, "path", path, "status", resp.StatusCode)
		return fmt.Errorf("%w: status %d", ErrStoreUnavailable, resp.StatusCode)
	}
	if out == nil {
		return nil
	}

	var envelope struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", ErrStoreUnavailable, err)
	}
	if envelope.Status != "" && envelope.Status != string(models.APIStatusOK) {
		return fmt.Errorf("%w: %s", ErrStoreUnavailable, envelope.Message)
	}
	if len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("%w: failed to decode result: %v", ErrStoreUnavailable, err)
	}
	return nil
}
