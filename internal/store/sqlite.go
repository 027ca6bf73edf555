// Package store provides storage backends for zapflow.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
	"github.com/zapflow/zapflow/internal/models"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists operators, projects, and templates in a SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateOperator(op models.Operator) error {
	_, err := s.db.Exec(`INSERT INTO operators (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		op.ID, op.Email, op.PasswordHash, op.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateOperator failed", "error", err, "email", op.Email)
		return fmt.Errorf("failed to insert operator %s: %w", op.Email, err)
	}
	slog.Debug("SQLiteStore CreateOperator succeeded", "email", op.Email)
	return nil
}

func (s *SQLiteStore) GetOperatorByEmail(email string) (*models.Operator, error) {
	var op models.Operator
	err := s.db.QueryRow(`SELECT id, email, password_hash, created_at FROM operators WHERE email = ?`, email).
		Scan(&op.ID, &op.Email, &op.PasswordHash, &op.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetOperatorByEmail failed", "error", err, "email", email)
		return nil, err
	}
	return &op, nil
}

func (s *SQLiteStore) CreateProject(p models.Project) error {
	_, err := s.db.Exec(`INSERT INTO projects (id, operator_id, name, description, is_active, is_default, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OperatorID, p.Name, p.Description, p.Active, p.Default, p.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateProject failed", "error", err, "id", p.ID)
		return fmt.Errorf("failed to insert project %s: %w", p.ID, err)
	}
	slog.Debug("SQLiteStore CreateProject succeeded", "id", p.ID, "name", p.Name)
	return nil
}

func (s *SQLiteStore) GetProject(id string) (*models.Project, error) {
	var p models.Project
	err := s.db.QueryRow(`SELECT id, operator_id, name, description, is_active, is_default, created_at FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.OperatorID, &p.Name, &p.Description, &p.Active, &p.Default, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetProject failed", "error", err, "id", id)
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) ListProjects(operatorID string) ([]models.Project, error) {
	rows, err := s.db.Query(`SELECT id, operator_id, name, description, is_active, is_default, created_at FROM projects WHERE operator_id = ? ORDER BY created_at`, operatorID)
	if err != nil {
		slog.Error("SQLiteStore ListProjects query failed", "error", err)
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.OperatorID, &p.Name, &p.Description, &p.Active, &p.Default, &p.CreatedAt); err != nil {
			slog.Error("SQLiteStore ListProjects scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan project row: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate project rows: %w", err)
	}
	slog.Debug("SQLiteStore ListProjects succeeded", "count", len(projects))
	return projects, nil
}

func (s *SQLiteStore) SetDefaultProject(operatorID, projectID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE projects SET is_default = 0 WHERE operator_id = ?`, operatorID); err != nil {
		slog.Error("SQLiteStore SetDefaultProject clear failed", "error", err, "operator_id", operatorID)
		return err
	}
	if _, err := tx.Exec(`UPDATE projects SET is_default = 1 WHERE id = ?`, projectID); err != nil {
		slog.Error("SQLiteStore SetDefaultProject set failed", "error", err, "project_id", projectID)
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit default project: %w", err)
	}
	slog.Debug("SQLiteStore SetDefaultProject succeeded", "project_id", projectID)
	return nil
}

func (s *SQLiteStore) CreateMessage(t models.Template) error {
	triggers, err := json.Marshal(t.Triggers)
	if err != nil {
		return fmt.Errorf("failed to encode triggers: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO messages (id, project_id, trigger_words, response_text, is_active, order_index, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, string(triggers), t.Response, t.Active, t.OrderIndex, t.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateMessage failed", "error", err, "id", t.ID)
		return fmt.Errorf("failed to insert message %s: %w", t.ID, err)
	}
	slog.Debug("SQLiteStore CreateMessage succeeded", "id", t.ID, "project_id", t.ProjectID)
	return nil
}

func (s *SQLiteStore) GetMessage(id string) (*models.Template, error) {
	var t models.Template
	var triggers string
	err := s.db.QueryRow(`SELECT id, project_id, trigger_words, response_text, is_active, order_index, created_at FROM messages WHERE id = ?`, id).
		Scan(&t.ID, &t.ProjectID, &triggers, &t.Response, &t.Active, &t.OrderIndex, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetMessage failed", "error", err, "id", id)
		return nil, err
	}
	if err := json.Unmarshal([]byte(triggers), &t.Triggers); err != nil {
		slog.Error("SQLiteStore GetMessage trigger decode failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to decode triggers for %s: %w", id, err)
	}
	return &t, nil
}

func (s *SQLiteStore) ListMessages(projectID string) ([]models.Template, error) {
	rows, err := s.db.Query(`SELECT id, project_id, trigger_words, response_text, is_active, order_index, created_at FROM messages WHERE project_id = ? ORDER BY order_index`, projectID)
	if err != nil {
		slog.Error("SQLiteStore ListMessages query failed", "error", err, "project_id", projectID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var templates []models.Template
	for rows.Next() {
		var t models.Template
		var triggers string
		if err := rows.Scan(&t.ID, &t.ProjectID, &triggers, &t.Response, &t.Active, &t.OrderIndex, &t.CreatedAt); err != nil {
			slog.Error("SQLiteStore ListMessages scan failed", "error", err)
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
	slog.Debug("SQLiteStore ListMessages succeeded", "project_id", projectID, "count", len(templates))
	return templates, nil
}

func (s *SQLiteStore) UpdateMessage(t models.Template) error {
	triggers, err := json.Marshal(t.Triggers)
	if err != nil {
		return fmt.Errorf("failed to encode triggers: %w", err)
	}
	res, err := s.db.Exec(`UPDATE messages SET trigger_words = ?, response_text = ?, is_active = ?, order_index = ? WHERE id = ?`,
		string(triggers), t.Response, t.Active, t.OrderIndex, t.ID)
	if err != nil {
		slog.Error("SQLiteStore UpdateMessage failed", "error", err, "id", t.ID)
		return fmt.Errorf("failed to update message %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %s not found", t.ID)
	}
	slog.Debug("SQLiteStore UpdateMessage succeeded", "id", t.ID)
	return nil
}

func (s *SQLiteStore) DeleteMessage(id string) error {
	_, err := s.db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteMessage failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete message %s: %w", id, err)
	}
	slog.Debug("SQLiteStore DeleteMessage succeeded", "id", id)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
