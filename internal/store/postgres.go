// Package store provides storage backends for zapflow.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "embed"

	_ "github.com/lib/pq"
	"github.com/zapflow/zapflow/internal/models"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists operators, projects, and templates in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgreSQL migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) CreateOperator(op models.Operator) error {
	_, err := s.db.Exec(`INSERT INTO operators (id, email, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
		op.ID, op.Email, op.PasswordHash, op.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateOperator failed", "error", err, "email", op.Email)
		return fmt.Errorf("failed to insert operator %s: %w", op.Email, err)
	}
	return nil
}

func (s *PostgresStore) GetOperatorByEmail(email string) (*models.Operator, error) {
	var op models.Operator
	err := s.db.QueryRow(`SELECT id, email, password_hash, created_at FROM operators WHERE email = $1`, email).
		Scan(&op.ID, &op.Email, &op.PasswordHash, &op.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetOperatorByEmail failed", "error", err, "email", email)
		return nil, err
	}
	return &op, nil
}

func (s *PostgresStore) CreateProject(p models.Project) error {
	_, err := s.db.Exec(`INSERT INTO projects (id, operator_id, name, description, is_active, is_default, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.OperatorID, p.Name, p.Description, p.Active, p.Default, p.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateProject failed", "error", err, "id", p.ID)
		return fmt.Errorf("failed to insert project %s: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetProject(id string) (*models.Project, error) {
	var p models.Project
	err := s.db.QueryRow(`SELECT id, operator_id, name, description, is_active, is_default, created_at FROM projects WHERE id = $1`, id).
		Scan(&p.ID, &p.OperatorID, &p.Name, &p.Description, &p.Active, &p.Default, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetProject failed", "error", err, "id", id)
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) ListProjects(operatorID string) ([]models.Project, error) {
	rows, err := s.db.Query(`SELECT id, operator_id, name, description, is_active, is_default, created_at FROM projects WHERE operator_id = $1 ORDER BY created_at`, operatorID)
	if err != nil {
		slog.Error("PostgresStore ListProjects query failed", "error", err)
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.OperatorID, &p.Name, &p.Description, &p.Active, &p.Default, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project row: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate project rows: %w", err)
	}
	return projects, nil
}

func (s *PostgresStore) SetDefaultProject(operatorID, projectID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE projects SET is_default = FALSE WHERE operator_id = $1`, operatorID); err != nil {
		slog.Error("PostgresStore SetDefaultProject clear failed", "error", err, "operator_id", operatorID)
		return err
	}
	if _, err := tx.Exec(`UPDATE projects SET is_default = TRUE WHERE id = $1`, projectID); err != nil {
		slog.Error("PostgresStore SetDefaultProject set failed", "error", err, "project_id", projectID)
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) CreateMessage(t models.Template) error {
	triggers, err := json.Marshal(t.Triggers)
	if err != nil {
		return fmt.Errorf("failed to encode triggers: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO messages (id, project_id, trigger_words, response_text, is_active, order_index, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.ProjectID, string(triggers), t.Response, t.Active, t.OrderIndex, t.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateMessage failed", "error", err, "id", t.ID)
		return fmt.Errorf("failed to insert message %s: %w", t.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetMessage(id string) (*models.Template, error) {
	var t models.Template
	var triggers string
	err := s.db.QueryRow(`SELECT id, project_id, trigger_words, response_text, is_active, order_index, created_at FROM messages WHERE id = $1`, id).
		Scan(&t.ID, &t.ProjectID, &triggers, &t.Response, &t.Active, &t.OrderIndex, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetMessage failed", "error", err, "id", id)
		return nil, err
	}
	if err := json.Unmarshal([]byte(triggers), &t.Triggers); err != nil {
		return nil, fmt.Errorf("failed to decode triggers for %s: %w", id, err)
	}
	return &t, nil
}

func (s *PostgresStore) ListMessages(projectID string) ([]models.Template, error) {
	rows, err := s.db.Query(`SELECT id, project_id, trigger_words, response_text, is_active, order_index, created_at FROM messages WHERE project_id = $1 ORDER BY order_index`, projectID)
	if err != nil {
		slog.Error("PostgresStore ListMessages query failed", "error", err, "project_id", projectID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var templates []models.Template
	for rows.Next() {
		var t models.Template
		var triggers string
		if err := rows.Scan(&t.ID, &t.ProjectID, &triggers, &t.Response, &t.Active, &t.OrderIndex, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if err := json.Unmarshal([]byte(triggers), &t.Triggers); err != nil {
			return nil, fmt.Errorf("failed to decode triggers for %s: %w", t.ID, err)
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	return templates, nil
}

func (s *PostgresStore) UpdateMessage(t models.Template) error {
	triggers, err := json.Marshal(t.Triggers)
	if err != nil {
		return fmt.Errorf("failed to encode triggers: %w", err)
	}
	res, err := s.db.Exec(`UPDATE messages SET trigger_words = $1, response_text = $2, is_active = $3, order_index = $4 WHERE id = $5`,
		string(triggers), t.Response, t.Active, t.OrderIndex, t.ID)
	if err != nil {
		slog.Error("PostgresStore UpdateMessage failed", "error", err, "id", t.ID)
		return fmt.Errorf("failed to update message %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %s not found", t.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteMessage(id string) error {
	_, err := s.db.Exec(`DELETE FROM messages WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteMessage failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete message %s: %w", id, err)
	}
	return nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	return s.db.Close()
}
