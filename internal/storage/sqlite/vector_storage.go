package sqlite

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
)

// VectorStorage implements interfaces.VectorRepo over sqlite-vec's vec0
// virtual table (spec §4.11), grounded on bbiangul-go-reason/store.go's
// InsertEmbedding/VectorSearch pattern. Payload is not stored inline in the
// vec0 row (vec0 only carries point_id + embedding) — Search joins back to
// extractions for project/source_group scoping and payload assembly.
type VectorStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

func NewVectorStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.VectorRepo {
	return &VectorStorage{db: db, logger: logger}
}

// InitCollection is a no-op: the vec0 table is created once at fixed
// dimension by InitSchema and is not re-sized per collection.
func (s *VectorStorage) InitCollection(ctx context.Context, name string, dim int) error {
	return nil
}

// Upsert replaces any existing row for item.ID. vec0 virtual tables reject
// ON CONFLICT clauses, so the old row is deleted before the insert.
func (s *VectorStorage) Upsert(ctx context.Context, item interfaces.EmbeddingItem) error {
	if _, err := s.db.db.ExecContext(ctx, `DELETE FROM vec_extractions WHERE point_id = ?`, item.ID); err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}
	_, err := s.db.db.ExecContext(ctx,
		`INSERT INTO vec_extractions (point_id, embedding) VALUES (?, ?)`,
		item.ID, serializeFloat32(item.Vector))
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}
	return nil
}

func (s *VectorStorage) UpsertBatch(ctx context.Context, items []interfaces.EmbeddingItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO vec_extractions (point_id, embedding) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch upsert: %w", err)
	}
	defer stmt.Close()

	for _, item := range items {
		// Delete-then-insert, as in Upsert: vec0 has no ON CONFLICT support.
		if _, err := tx.ExecContext(ctx, `DELETE FROM vec_extractions WHERE point_id = ?`, item.ID); err != nil {
			return fmt.Errorf("failed to upsert embedding %s: %w", item.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, item.ID, serializeFloat32(item.Vector)); err != nil {
			return fmt.Errorf("failed to upsert embedding %s: %w", item.ID, err)
		}
	}
	return tx.Commit()
}

// Search performs a vec0 KNN query, then filters/decorates hits by joining
// back to extractions for the project/source_group scope (vec0 has no WHERE
// support beyond the MATCH/k clause).
func (s *VectorStorage) Search(ctx context.Context, vector []float32, limit int, filter interfaces.VectorSearchFilter) ([]interfaces.VectorSearchResult, error) {
	// Over-fetch from vec0 since post-filtering by project/source_group may
	// discard candidates; widen k to make the final limit reliable.
	k := limit * 5
	if k < 50 {
		k = 50
	}

	rows, err := s.db.db.QueryContext(ctx, `
		SELECT v.point_id, v.distance, e.id, e.project_id, e.source_id, e.source_group,
			e.extraction_type, e.data_json, e.confidence
		FROM vec_extractions v
		JOIN extractions e ON e.embedding_id = v.point_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance`, serializeFloat32(vector), k)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}
	defer rows.Close()

	var results []interfaces.VectorSearchResult
	for rows.Next() {
		var (
			pointID, extractionID, projectID, sourceID, sourceGroup, extractionType, dataJSON string
			distance, confidence                                                              float64
		)
		if err := rows.Scan(&pointID, &distance, &extractionID, &projectID, &sourceID, &sourceGroup,
			&extractionType, &dataJSON, &confidence); err != nil {
			return nil, fmt.Errorf("failed to scan vector hit: %w", err)
		}
		if filter.ProjectID != "" && projectID != filter.ProjectID {
			continue
		}
		if filter.SourceGroup != "" && sourceGroup != filter.SourceGroup {
			continue
		}

		var data map[string]interface{}
		_ = json.Unmarshal([]byte(dataJSON), &data)

		results = append(results, interfaces.VectorSearchResult{
			ID:    pointID,
			Score: 1.0 - distance, // vec_extractions declares distance_metric=cosine; similarity = 1 - cosine distance
			Payload: map[string]interface{}{
				"extraction_id":   extractionID,
				"project_id":      projectID,
				"source_id":       sourceID,
				"source_group":    sourceGroup,
				"extraction_type": extractionType,
				"data":            data,
				"confidence":      confidence,
			},
		})
		if len(results) >= limit {
			break
		}
	}
	return results, rows.Err()
}

func (s *VectorStorage) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM vec_extractions WHERE point_id IN (%s)", placeholders), args...)
	if err != nil {
		return fmt.Errorf("failed to delete embeddings: %w", err)
	}
	return nil
}

// serializeFloat32 converts a float32 slice to little-endian bytes for
// sqlite-vec, the wire format its vec0 columns expect.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
