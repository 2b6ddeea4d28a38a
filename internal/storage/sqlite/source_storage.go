package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// SourceStorage implements interfaces.SourceRepo over SQLite. Upsert is
// idempotent on (project_id, uri), matching the teacher's unique-conflict
// get-or-create idiom.
type SourceStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

func NewSourceStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.SourceRepo {
	return &SourceStorage{db: db, logger: logger}
}

func (s *SourceStorage) Upsert(ctx context.Context, src *models.Source) error {
	if src.ID == "" {
		src.ID = common.NewID("src")
	}
	now := time.Now()
	if src.Status == "" {
		src.Status = models.SourceStatusPending
	}
	src.UpdatedAt = now
	if src.CreatedAt.IsZero() {
		src.CreatedAt = now
	}

	errorsJSON, err := marshalErrors(src.Errors)
	if err != nil {
		return fmt.Errorf("failed to serialize errors: %w", err)
	}

	err = retryWithExponentialBackoff(ctx, func() error {
		_, dbErr := s.db.db.ExecContext(ctx, `
			INSERT INTO sources (id, project_id, uri, source_group, content, cleaned_content,
				domain, title, status, errors_json, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(project_id, uri) DO UPDATE SET
				content = excluded.content,
				domain = excluded.domain,
				title = excluded.title,
				status = excluded.status,
				errors_json = excluded.errors_json,
				updated_at = excluded.updated_at`,
			src.ID, src.ProjectID, src.URI, src.SourceGroup, src.Content, src.CleanedContent,
			src.Metadata.Domain, src.Metadata.Title, string(src.Status), errorsJSON,
			src.CreatedAt.Unix(), now.Unix())
		return dbErr
	}, 5, 100*time.Millisecond, s.logger)
	if err != nil {
		return fmt.Errorf("failed to upsert source: %w", err)
	}

	// Reconcile the caller's ID with the row that actually exists, since an
	// upsert against an existing (project_id, uri) keeps the original ID.
	existing, err := s.GetByURI(ctx, src.ProjectID, src.URI)
	if err != nil {
		return fmt.Errorf("failed to reload source after upsert: %w", err)
	}
	src.ID = existing.ID
	src.CreatedAt = existing.CreatedAt
	return nil
}

func (s *SourceStorage) Get(ctx context.Context, id string) (*models.Source, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT id, project_id, uri, source_group, content, cleaned_content, domain, title,
			status, errors_json, created_at, updated_at
		FROM sources WHERE id = ?`, id)
	src, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("source %s not found", id)
	}
	return src, err
}

func (s *SourceStorage) GetByURI(ctx context.Context, projectID, uri string) (*models.Source, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT id, project_id, uri, source_group, content, cleaned_content, domain, title,
			status, errors_json, created_at, updated_at
		FROM sources WHERE project_id = ? AND uri = ?`, projectID, uri)
	src, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("source %s/%s not found", projectID, uri)
	}
	return src, err
}

func (s *SourceStorage) UpdateCleanedContent(ctx context.Context, id string, cleaned string) error {
	now := time.Now()
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE sources SET cleaned_content = ?, updated_at = ? WHERE id = ?`, cleaned, now.Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update cleaned content: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("source %s not found", id)
	}
	return nil
}

func (s *SourceStorage) UpdateStatus(ctx context.Context, id string, status models.SourceStatus, errs []string) error {
	errorsJSON, err := marshalErrors(errs)
	if err != nil {
		return fmt.Errorf("failed to serialize errors: %w", err)
	}
	now := time.Now()
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE sources SET status = ?, errors_json = ?, updated_at = ? WHERE id = ?`,
		string(status), errorsJSON, now.Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update source status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("source %s not found", id)
	}
	return nil
}

func (s *SourceStorage) List(ctx context.Context, opts interfaces.SourceListOptions) ([]*models.Source, error) {
	query := `SELECT id, project_id, uri, source_group, content, cleaned_content, domain, title,
		status, errors_json, created_at, updated_at FROM sources WHERE 1=1`
	var args []interface{}
	if opts.ProjectID != "" {
		query += " AND project_id = ?"
		args = append(args, opts.ProjectID)
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []*models.Source
	for rows.Next() {
		src, err := scanSourceRows(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func (s *SourceStorage) Count(ctx context.Context, opts interfaces.SourceListOptions) (int, error) {
	query := `SELECT COUNT(*) FROM sources WHERE 1=1`
	var args []interface{}
	if opts.ProjectID != "" {
		query += " AND project_id = ?"
		args = append(args, opts.ProjectID)
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	var count int
	if err := s.db.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sources: %w", err)
	}
	return count, nil
}

func marshalErrors(errs []string) (sql.NullString, error) {
	if len(errs) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(errs)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{Valid: true, String: string(b)}, nil
}

func scanSource(row *sql.Row) (*models.Source, error) {
	return scanSourceGeneric(row)
}

func scanSourceRows(rows *sql.Rows) (*models.Source, error) {
	return scanSourceGeneric(rows)
}

func scanSourceGeneric(s rowScanner) (*models.Source, error) {
	var (
		id, projectID, uri, sourceGroup, content, status string
		cleanedContent, domain, title, errorsJSON         sql.NullString
		createdAt, updatedAt                              int64
	)
	if err := s.Scan(&id, &projectID, &uri, &sourceGroup, &content, &cleanedContent, &domain, &title,
		&status, &errorsJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	src := &models.Source{
		ID:          id,
		ProjectID:   projectID,
		URI:         uri,
		SourceGroup: sourceGroup,
		Content:     content,
		Status:      models.SourceStatus(status),
		CreatedAt:   unixToTime(createdAt),
		UpdatedAt:   unixToTime(updatedAt),
	}
	if cleanedContent.Valid {
		src.CleanedContent = &cleanedContent.String
	}
	src.Metadata = models.SourceMeta{Domain: domain.String, Title: title.String}
	if errorsJSON.Valid && errorsJSON.String != "" {
		_ = json.Unmarshal([]byte(errorsJSON.String), &src.Errors)
	}
	return src, nil
}
