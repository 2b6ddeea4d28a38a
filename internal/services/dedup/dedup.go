// Package dedup implements the Deduplicator: embedding-similarity checks
// against prior extractions scoped to (project_id, source_group), the unit
// within which duplication is defined (spec §4.10).
package dedup

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// DefaultThreshold is the similarity score at or above which a candidate is
// considered a duplicate (spec §4.10; score == 0.90 is a duplicate per the
// boundary test in spec §8).
const DefaultThreshold = 0.90

// Deduplicator checks a candidate Extraction against the vector store for
// a prior near-duplicate within the same (project, source_group).
type Deduplicator struct {
	embeddings interfaces.EmbeddingService
	vectors    interfaces.VectorRepo
	config     *common.DedupConfig
	logger     arbor.ILogger
}

func New(embeddings interfaces.EmbeddingService, vectors interfaces.VectorRepo, config *common.DedupConfig, logger arbor.ILogger) *Deduplicator {
	return &Deduplicator{embeddings: embeddings, vectors: vectors, config: config, logger: logger}
}

// CheckResult reports whether a candidate is a duplicate of an existing
// record, and if so, which one.
type CheckResult struct {
	IsDuplicate bool
	MatchID     string
	Score       float64
}

// Check embeds the candidate's canonical text and queries the vector store
// scoped to (project_id, source_group), limit 1 by similarity (spec §4.10).
func (d *Deduplicator) Check(ctx context.Context, candidate *models.Extraction) (*CheckResult, error) {
	threshold := d.config.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	text := canonicalText(candidate)
	if text == "" {
		return &CheckResult{}, nil
	}

	vec, err := d.embeddings.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed dedup candidate: %w", err)
	}

	hits, err := d.vectors.Search(ctx, vec, 1, interfaces.VectorSearchFilter{
		ProjectID:   candidate.ProjectID,
		SourceGroup: candidate.SourceGroup,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query vector store for dedup: %w", err)
	}
	if len(hits) == 0 {
		return &CheckResult{}, nil
	}

	best := hits[0]
	if best.Score >= threshold {
		return &CheckResult{IsDuplicate: true, MatchID: best.ID, Score: best.Score}, nil
	}
	return &CheckResult{Score: best.Score}, nil
}

// canonicalText returns the text used for embedding: the primary (longest
// non-empty text-like) field, falling back to a compact JSON rendering.
func canonicalText(e *models.Extraction) string {
	if t := e.CanonicalText(); t != "" {
		return t
	}
	b, err := json.Marshal(e.Data)
	if err != nil {
		return ""
	}
	return string(b)
}
