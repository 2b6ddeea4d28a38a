package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// ProjectStorage implements interfaces.ProjectRepo over SQLite.
type ProjectStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

func NewProjectStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.ProjectRepo {
	return &ProjectStorage{db: db, logger: logger}
}

func (s *ProjectStorage) Create(ctx context.Context, p *models.Project) error {
	schemaJSON, err := p.SchemaJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize schema: %w", err)
	}
	entityTypesJSON, err := p.EntityTypesJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize entity types: %w", err)
	}
	contextJSON, err := p.ContextJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize context: %w", err)
	}

	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now

	_, err = s.db.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, deleted, schema_json, entity_types_json, context_json, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, schemaJSON, entityTypesJSON, contextJSON, now.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

func (s *ProjectStorage) Get(ctx context.Context, id string) (*models.Project, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT id, name, deleted, schema_json, entity_types_json, context_json, created_at, updated_at
		FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %s not found", id)
	}
	return p, err
}

func (s *ProjectStorage) GetByName(ctx context.Context, name string) (*models.Project, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT id, name, deleted, schema_json, entity_types_json, context_json, created_at, updated_at
		FROM projects WHERE name = ? AND deleted = 0`, name)
	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %q not found", name)
	}
	return p, err
}

func (s *ProjectStorage) Update(ctx context.Context, p *models.Project) error {
	schemaJSON, err := p.SchemaJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize schema: %w", err)
	}
	entityTypesJSON, err := p.EntityTypesJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize entity types: %w", err)
	}
	contextJSON, err := p.ContextJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize context: %w", err)
	}

	now := time.Now()
	p.UpdatedAt = now
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE projects SET name = ?, schema_json = ?, entity_types_json = ?, context_json = ?, updated_at = ?
		WHERE id = ? AND deleted = 0`,
		p.Name, schemaJSON, entityTypesJSON, contextJSON, now.Unix(), p.ID)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project %s not found", p.ID)
	}
	return nil
}

func (s *ProjectStorage) SoftDelete(ctx context.Context, id string) error {
	now := time.Now()
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE projects SET deleted = 1, updated_at = ? WHERE id = ?`, now.Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project %s not found", id)
	}
	return nil
}

func (s *ProjectStorage) List(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT id, name, deleted, schema_json, entity_types_json, context_json, created_at, updated_at
		FROM projects WHERE deleted = 0 ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		p, err := scanProjectRows(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func scanProject(row *sql.Row) (*models.Project, error) {
	return scanProjectGeneric(row)
}

func scanProjectRows(rows *sql.Rows) (*models.Project, error) {
	return scanProjectGeneric(rows)
}

func scanProjectGeneric(s rowScanner) (*models.Project, error) {
	var (
		id, name, schemaJSON, entityTypesJSON, contextJSON string
		deleted                                            int
		createdAt, updatedAt                                int64
	)
	if err := s.Scan(&id, &name, &deleted, &schemaJSON, &entityTypesJSON, &contextJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	p := &models.Project{
		ID:        id,
		Name:      name,
		Deleted:   deleted != 0,
		CreatedAt: unixToTime(createdAt),
		UpdatedAt: unixToTime(updatedAt),
	}
	if err := json.Unmarshal([]byte(schemaJSON), &p.Schema); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	if err := json.Unmarshal([]byte(entityTypesJSON), &p.EntityTypes); err != nil {
		return nil, fmt.Errorf("failed to parse entity types: %w", err)
	}
	if err := json.Unmarshal([]byte(contextJSON), &p.Context); err != nil {
		return nil, fmt.Errorf("failed to parse context: %w", err)
	}
	return p, nil
}
