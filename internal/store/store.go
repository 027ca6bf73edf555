// Package store provides storage backends for zapflow.
//
// It includes an in-memory store for tests and SQLite/PostgreSQL backed
// stores for operators, projects, and reply templates.
package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zapflow/zapflow/internal/models"
)

// Store is the persistence abstraction used by the API server.
type Store interface {
	CreateOperator(op models.Operator) error
	GetOperatorByEmail(email string) (*models.Operator, error)

	CreateProject(p models.Project) error
	GetProject(id string) (*models.Project, error)
	ListProjects(operatorID string) ([]models.Project, error)
	SetDefaultProject(operatorID, projectID string) error

	CreateMessage(t models.Template) error
	GetMessage(id string) (*models.Template, error)
	ListMessages(projectID string) ([]models.Template, error)
	UpdateMessage(t models.Template) error
	DeleteMessage(id string) error

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN configures a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN configures a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL connection strings and
// "sqlite" for everything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore is a map-backed Store for tests and ephemeral deployments.
type InMemoryStore struct {
	mu        sync.RWMutex
	operators map[string]models.Operator // keyed by email
	projects  map[string]models.Project
	messages  map[string]models.Template
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		operators: make(map[string]models.Operator),
		projects:  make(map[string]models.Project),
		messages:  make(map[string]models.Template),
	}
}

func (s *InMemoryStore) CreateOperator(op models.Operator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.operators[op.Email]; exists {
		return fmt.Errorf("operator %s already exists", op.Email)
	}
	s.operators[op.Email] = op
	return nil
}

func (s *InMemoryStore) GetOperatorByEmail(email string) (*models.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.operators[email]
	if !ok {
		return nil, nil
	}
	return &op, nil
}

func (s *InMemoryStore) CreateProject(p models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = p
	return nil
}

func (s *InMemoryStore) GetProject(id string) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *InMemoryStore) ListProjects(operatorID string) ([]models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Project
	for _, p := range s.projects {
		if operatorID == "" || p.OperatorID == operatorID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) SetDefaultProject(operatorID, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.projects[projectID]
	if !ok {
		return fmt.Errorf("project %s not found", projectID)
	}
	for id, p := range s.projects {
		if p.OperatorID == target.OperatorID && p.Default {
			p.Default = false
			s.projects[id] = p
		}
	}
	target.Default = true
	s.projects[projectID] = target
	return nil
}

func (s *InMemoryStore) CreateMessage(t models.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[t.ID] = t
	return nil
}

func (s *InMemoryStore) GetMessage(id string) (*models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *InMemoryStore) ListMessages(projectID string) ([]models.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Template
	for _, t := range s.messages {
		if t.ProjectID == projectID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

func (s *InMemoryStore) UpdateMessage(t models.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.messages[t.ID]
	if !ok {
		return fmt.Errorf("message %s not found", t.ID)
	}
	if t.ProjectID == "" {
		t.ProjectID = existing.ProjectID
	}
	s.messages[t.ID] = t
	return nil
}

func (s *InMemoryStore) DeleteMessage(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, id)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
