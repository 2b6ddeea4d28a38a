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

// EntityStorage implements interfaces.EntityRepo over SQLite. GetOrCreate and
// GetOrCreateLink follow the teacher's unique-conflict-then-fetch idiom
// (sources.go upsert), adapted to also report whether the call created the
// row, so a caller can tell a new row from an existing one without a second
// existence check.
type EntityStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

func NewEntityStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.EntityRepo {
	return &EntityStorage{db: db, logger: logger}
}

func (s *EntityStorage) GetOrCreate(ctx context.Context, e *models.Entity) (*models.Entity, bool, error) {
	var attrsJSON sql.NullString
	if len(e.Attributes) > 0 {
		b, err := json.Marshal(e.Attributes)
		if err != nil {
			return nil, false, fmt.Errorf("failed to serialize attributes: %w", err)
		}
		attrsJSON = sql.NullString{Valid: true, String: string(b)}
	}

	if e.ID == "" {
		e.ID = common.NewID("ent")
	}
	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}

	var created bool
	err := retryWithExponentialBackoff(ctx, func() error {
		res, dbErr := s.db.db.ExecContext(ctx, `
			INSERT INTO entities (id, project_id, source_group, entity_type, normalized_value, value, attributes_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(project_id, source_group, entity_type, normalized_value) DO NOTHING`,
			e.ID, e.ProjectID, e.SourceGroup, e.EntityType, e.NormalizedValue, e.Value, attrsJSON, e.CreatedAt.Unix())
		if dbErr != nil {
			return dbErr
		}
		n, dbErr := res.RowsAffected()
		if dbErr != nil {
			return dbErr
		}
		created = n > 0
		return nil
	}, 5, 100*time.Millisecond, s.logger)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get-or-create entity: %w", err)
	}

	if created {
		return e, true, nil
	}

	existing, err := s.getByNaturalKey(ctx, e.ProjectID, e.SourceGroup, e.EntityType, e.NormalizedValue)
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch existing entity: %w", err)
	}
	return existing, false, nil
}

func (s *EntityStorage) getByNaturalKey(ctx context.Context, projectID, sourceGroup, entityType, normalizedValue string) (*models.Entity, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT id, project_id, source_group, entity_type, normalized_value, value, attributes_json, created_at
		FROM entities WHERE project_id = ? AND source_group = ? AND entity_type = ? AND normalized_value = ?`,
		projectID, sourceGroup, entityType, normalizedValue)
	return scanEntity(row)
}

func (s *EntityStorage) Get(ctx context.Context, id string) (*models.Entity, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT id, project_id, source_group, entity_type, normalized_value, value, attributes_json, created_at
		FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("entity %s not found", id)
	}
	return e, err
}

func (s *EntityStorage) GetOrCreateLink(ctx context.Context, extractionID, entityID, role string) (*models.ExtractionEntity, bool, error) {
	id := common.NewID("extent")
	now := time.Now()

	var created bool
	err := retryWithExponentialBackoff(ctx, func() error {
		res, dbErr := s.db.db.ExecContext(ctx, `
			INSERT INTO extraction_entities (id, extraction_id, entity_id, role, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(extraction_id, entity_id, role) DO NOTHING`,
			id, extractionID, entityID, role, now.Unix())
		if dbErr != nil {
			return dbErr
		}
		n, dbErr := res.RowsAffected()
		if dbErr != nil {
			return dbErr
		}
		created = n > 0
		return nil
	}, 5, 100*time.Millisecond, s.logger)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get-or-create extraction-entity link: %w", err)
	}

	if created {
		return &models.ExtractionEntity{ID: id, ExtractionID: extractionID, EntityID: entityID, Role: role, CreatedAt: now}, true, nil
	}

	row := s.db.db.QueryRowContext(ctx, `
		SELECT id, extraction_id, entity_id, role, created_at
		FROM extraction_entities WHERE extraction_id = ? AND entity_id = ? AND role = ?`,
		extractionID, entityID, role)
	var (
		linkID    string
		createdAt int64
	)
	link := &models.ExtractionEntity{}
	if err := row.Scan(&linkID, &link.ExtractionID, &link.EntityID, &link.Role, &createdAt); err != nil {
		return nil, false, fmt.Errorf("failed to fetch existing link: %w", err)
	}
	link.ID = linkID
	link.CreatedAt = unixToTime(createdAt)
	return link, false, nil
}

func scanEntity(row *sql.Row) (*models.Entity, error) {
	var (
		id, projectID, sourceGroup, entityType, normalizedValue, value string
		attrsJSON                                                      sql.NullString
		createdAt                                                      int64
	)
	if err := row.Scan(&id, &projectID, &sourceGroup, &entityType, &normalizedValue, &value, &attrsJSON, &createdAt); err != nil {
		return nil, err
	}
	e := &models.Entity{
		ID:              id,
		ProjectID:       projectID,
		SourceGroup:     sourceGroup,
		EntityType:      entityType,
		NormalizedValue: normalizedValue,
		Value:           value,
		CreatedAt:       unixToTime(createdAt),
	}
	if attrsJSON.Valid && attrsJSON.String != "" {
		_ = json.Unmarshal([]byte(attrsJSON.String), &e.Attributes)
	}
	return e, nil
}
