// Package embeddingpipeline batches embedding generation, vector upsert, and
// embedding-id bookkeeping for newly persisted Extractions, plus a
// repeatable orphan-recovery sweep for rows whose embedding write failed
// (spec §4.11).
package embeddingpipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// Pipeline wires EmbeddingService and VectorRepo together and updates
// ExtractionRepo's embedding_id bookkeeping.
type Pipeline struct {
	embeddings  interfaces.EmbeddingService
	vectors     interfaces.VectorRepo
	extractions interfaces.ExtractionRepo
	logger      arbor.ILogger
}

func New(embeddings interfaces.EmbeddingService, vectors interfaces.VectorRepo, extractions interfaces.ExtractionRepo, logger arbor.ILogger) *Pipeline {
	return &Pipeline{embeddings: embeddings, vectors: vectors, extractions: extractions, logger: logger}
}

// Run embeds, upserts, and records embedding_ids for the given persisted
// Extractions (spec §4.11 steps 1-5). If upsert fails, the Extractions
// remain persisted with embedding_id = null (orphans) for later recovery.
func (p *Pipeline) Run(ctx context.Context, extractions []*models.Extraction) error {
	if len(extractions) == 0 {
		return nil
	}

	texts := make([]string, len(extractions))
	for i, e := range extractions {
		texts[i] = canonicalText(e)
	}

	vectors, err := p.embeddings.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed batch: %w", err)
	}
	if len(vectors) != len(extractions) {
		return fmt.Errorf("embedding batch size mismatch: got %d vectors for %d extractions", len(vectors), len(extractions))
	}

	items := make([]interfaces.EmbeddingItem, len(extractions))
	for i, e := range extractions {
		items[i] = interfaces.EmbeddingItem{
			ID:     e.ID,
			Vector: vectors[i],
			Payload: map[string]interface{}{
				"project_id":      e.ProjectID,
				"source_group":    e.SourceGroup,
				"extraction_type": e.ExtractionType,
				"confidence":      e.Confidence,
			},
		}
	}

	if err := p.vectors.UpsertBatch(ctx, items); err != nil {
		return fmt.Errorf("failed to upsert embedding batch: %w", err)
	}

	idToPointID := make(map[string]string, len(extractions))
	for _, e := range extractions {
		idToPointID[e.ID] = e.ID
	}
	if err := p.extractions.UpdateEmbeddingIDsBatch(ctx, idToPointID); err != nil {
		return fmt.Errorf("failed to update embedding ids: %w", err)
	}
	return nil
}

// RecoverOrphans retries steps 2-5 for Extractions whose embedding_id is
// still null. Safe to run repeatedly: vector upsert is idempotent on id and
// the id-update only touches rows still missing an embedding_id.
func (p *Pipeline) RecoverOrphans(ctx context.Context, batchSize int) (int, error) {
	orphans, err := p.extractions.ListOrphans(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list orphan extractions: %w", err)
	}
	if len(orphans) == 0 {
		return 0, nil
	}
	if err := p.Run(ctx, orphans); err != nil {
		return 0, fmt.Errorf("failed to recover orphans: %w", err)
	}
	p.logger.Info().Int("count", len(orphans)).Msg("recovered orphan embeddings")
	return len(orphans), nil
}

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
