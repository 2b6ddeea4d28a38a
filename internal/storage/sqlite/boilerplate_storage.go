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

// BoilerplateStorage implements interfaces.DomainBoilerplateRepo over SQLite.
type BoilerplateStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

func NewBoilerplateStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.DomainBoilerplateRepo {
	return &BoilerplateStorage{db: db, logger: logger}
}

func (s *BoilerplateStorage) Upsert(ctx context.Context, db *models.DomainBoilerplate) error {
	hashesJSON, err := json.Marshal(db.BoilerplateHashes)
	if err != nil {
		return fmt.Errorf("failed to serialize boilerplate hashes: %w", err)
	}
	db.UpdatedAt = time.Now()

	_, err = s.db.db.ExecContext(ctx, `
		INSERT INTO domain_boilerplate (project_id, domain, hashes_json, threshold_pct, min_pages,
			min_block_chars, pages_analyzed, blocks_total, blocks_boilerplate, bytes_removed_avg, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, domain) DO UPDATE SET
			hashes_json = excluded.hashes_json,
			threshold_pct = excluded.threshold_pct,
			min_pages = excluded.min_pages,
			min_block_chars = excluded.min_block_chars,
			pages_analyzed = excluded.pages_analyzed,
			blocks_total = excluded.blocks_total,
			blocks_boilerplate = excluded.blocks_boilerplate,
			bytes_removed_avg = excluded.bytes_removed_avg,
			updated_at = excluded.updated_at`,
		db.ProjectID, db.Domain, string(hashesJSON), db.ThresholdPct, db.MinPages, db.MinBlockChars,
		db.PagesAnalyzed, db.BlocksTotal, db.BlocksBoilerplate, db.BytesRemovedAvg, db.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert domain boilerplate: %w", err)
	}
	return nil
}

func (s *BoilerplateStorage) Get(ctx context.Context, projectID, domain string) (*models.DomainBoilerplate, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT project_id, domain, hashes_json, threshold_pct, min_pages, min_block_chars,
			pages_analyzed, blocks_total, blocks_boilerplate, bytes_removed_avg, updated_at
		FROM domain_boilerplate WHERE project_id = ? AND domain = ?`, projectID, domain)

	var (
		hashesJSON                                                                string
		thresholdPct, bytesRemovedAvg                                             float64
		minPages, minBlockChars, pagesAnalyzed, blocksTotal, blocksBoilerplate    int
		updatedAt                                                                 int64
	)
	result := &models.DomainBoilerplate{}
	err := row.Scan(&result.ProjectID, &result.Domain, &hashesJSON, &thresholdPct, &minPages,
		&minBlockChars, &pagesAnalyzed, &blocksTotal, &blocksBoilerplate, &bytesRemovedAvg, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("domain boilerplate %s/%s not found", projectID, domain)
	}
	if err != nil {
		return nil, err
	}

	result.ThresholdPct = thresholdPct
	result.MinPages = minPages
	result.MinBlockChars = minBlockChars
	result.PagesAnalyzed = pagesAnalyzed
	result.BlocksTotal = blocksTotal
	result.BlocksBoilerplate = blocksBoilerplate
	result.BytesRemovedAvg = bytesRemovedAvg
	result.UpdatedAt = unixToTime(updatedAt)
	if err := json.Unmarshal([]byte(hashesJSON), &result.BoilerplateHashes); err != nil {
		return nil, fmt.Errorf("failed to parse boilerplate hashes: %w", err)
	}
	return result, nil
}
