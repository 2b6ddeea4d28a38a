package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// ExtractionStorage implements interfaces.ExtractionRepo over SQLite.
type ExtractionStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

func NewExtractionStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.ExtractionRepo {
	return &ExtractionStorage{db: db, logger: logger}
}

func (s *ExtractionStorage) CreateBatch(ctx context.Context, extractions []*models.Extraction) error {
	if len(extractions) == 0 {
		return nil
	}
	now := time.Now()

	return retryWithExponentialBackoff(ctx, func() error {
		tx, err := s.db.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO extractions (id, project_id, source_id, source_group, extraction_type,
				data_json, confidence, embedding_id, entities_extracted, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, NULL, 0, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		ftsStmt, err := tx.PrepareContext(ctx,
			`INSERT INTO extractions_fts (rowid, data_text) VALUES ((SELECT rowid FROM extractions WHERE id = ?), ?)`)
		if err != nil {
			return err
		}
		defer ftsStmt.Close()

		for _, e := range extractions {
			if e.ID == "" {
				e.ID = common.NewID("ext")
			}
			if e.CreatedAt.IsZero() {
				e.CreatedAt = now
			}
			dataJSON, err := json.Marshal(e.Data)
			if err != nil {
				return fmt.Errorf("failed to serialize extraction data: %w", err)
			}
			if _, err := stmt.ExecContext(ctx, e.ID, e.ProjectID, e.SourceID, e.SourceGroup,
				e.ExtractionType, string(dataJSON), e.Confidence, e.CreatedAt.Unix()); err != nil {
				return fmt.Errorf("failed to insert extraction %s: %w", e.ID, err)
			}
			if _, err := ftsStmt.ExecContext(ctx, e.ID, flattenDataText(e.Data)); err != nil {
				return fmt.Errorf("failed to index extraction %s: %w", e.ID, err)
			}
		}
		return tx.Commit()
	}, 5, 100*time.Millisecond, s.logger)
}

func (s *ExtractionStorage) Get(ctx context.Context, id string) (*models.Extraction, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT id, project_id, source_id, source_group, extraction_type, data_json, confidence,
			embedding_id, entities_extracted, created_at
		FROM extractions WHERE id = ?`, id)
	e, err := scanExtraction(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("extraction %s not found", id)
	}
	return e, err
}

func (s *ExtractionStorage) ListBySource(ctx context.Context, sourceID string) ([]*models.Extraction, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT id, project_id, source_id, source_group, extraction_type, data_json, confidence,
			embedding_id, entities_extracted, created_at
		FROM extractions WHERE source_id = ? ORDER BY created_at ASC`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list extractions: %w", err)
	}
	defer rows.Close()
	return scanExtractionRowsAll(rows)
}

func (s *ExtractionStorage) UpdateEmbeddingIDsBatch(ctx context.Context, idToPointID map[string]string) error {
	if len(idToPointID) == 0 {
		return nil
	}
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE extractions SET embedding_id = ? WHERE id = ? AND embedding_id IS NULL`)
	if err != nil {
		return fmt.Errorf("failed to prepare update: %w", err)
	}
	defer stmt.Close()

	for extractionID, pointID := range idToPointID {
		if _, err := stmt.ExecContext(ctx, pointID, extractionID); err != nil {
			return fmt.Errorf("failed to set embedding_id for %s: %w", extractionID, err)
		}
	}
	return tx.Commit()
}

func (s *ExtractionStorage) MarkEntitiesExtracted(ctx context.Context, id string) error {
	res, err := s.db.db.ExecContext(ctx,
		`UPDATE extractions SET entities_extracted = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark entities extracted: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("extraction %s not found", id)
	}
	return nil
}

func (s *ExtractionStorage) ListOrphans(ctx context.Context, limit int) ([]*models.Extraction, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT id, project_id, source_id, source_group, extraction_type, data_json, confidence,
			embedding_id, entities_extracted, created_at
		FROM extractions WHERE embedding_id IS NULL ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orphan extractions: %w", err)
	}
	defer rows.Close()
	return scanExtractionRowsAll(rows)
}

func (s *ExtractionStorage) ListPendingEntityExtraction(ctx context.Context, limit int) ([]*models.Extraction, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT id, project_id, source_id, source_group, extraction_type, data_json, confidence,
			embedding_id, entities_extracted, created_at
		FROM extractions WHERE entities_extracted = 0 ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending entity extractions: %w", err)
	}
	defer rows.Close()
	return scanExtractionRowsAll(rows)
}

func scanExtractionRowsAll(rows *sql.Rows) ([]*models.Extraction, error) {
	var out []*models.Extraction
	for rows.Next() {
		e, err := scanExtractionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanExtraction(row *sql.Row) (*models.Extraction, error) {
	return scanExtractionGeneric(row)
}

func scanExtractionRows(rows *sql.Rows) (*models.Extraction, error) {
	return scanExtractionGeneric(rows)
}

func scanExtractionGeneric(s rowScanner) (*models.Extraction, error) {
	var (
		id, projectID, sourceID, sourceGroup, extractionType, dataJSON string
		embeddingID                                                    sql.NullString
		confidence                                                     float64
		entitiesExtracted                                              int
		createdAt                                                      int64
	)
	if err := s.Scan(&id, &projectID, &sourceID, &sourceGroup, &extractionType, &dataJSON,
		&confidence, &embeddingID, &entitiesExtracted, &createdAt); err != nil {
		return nil, err
	}

	e := &models.Extraction{
		ID:                id,
		ProjectID:         projectID,
		SourceID:          sourceID,
		SourceGroup:       sourceGroup,
		ExtractionType:    extractionType,
		Confidence:        confidence,
		EntitiesExtracted: entitiesExtracted != 0,
		CreatedAt:         unixToTime(createdAt),
	}
	if embeddingID.Valid {
		e.EmbeddingID = &embeddingID.String
	}
	if err := json.Unmarshal([]byte(dataJSON), &e.Data); err != nil {
		return nil, fmt.Errorf("failed to parse extraction data: %w", err)
	}
	return e, nil
}

// flattenDataText renders an extraction's field values as whitespace-joined
// text for the FTS index; not queried by the core (spec §1 excludes the
// report/export surface) but populated to keep the index consistent.
func flattenDataText(data map[string]interface{}) string {
	var parts []string
	for _, v := range data {
		if s, ok := v.(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
