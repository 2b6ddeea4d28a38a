// Package extractionpipeline is the top-level glue for one Source (spec
// §4.12): it wires BoilerplateEngine, SchemaOrchestrator, Deduplicator,
// EmbeddingPipeline, and EntityExtractor, then updates the Source's
// lifecycle status.
package extractionpipeline

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/boilerplate"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/dedup"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/embeddingpipeline"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/entityextractor"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/orchestrator"
)

// Stats reports the per-source counters the Job's result carries (spec §7).
type Stats struct {
	SourcesProcessed   int
	ExtractionsCreated int
	ChunksProcessed    int
}

// Pipeline wires the extraction stages for one Source.
type Pipeline struct {
	projects     interfaces.ProjectRepo
	sources      interfaces.SourceRepo
	extractions  interfaces.ExtractionRepo
	boilerplate  *boilerplate.Engine
	orchestrator *orchestrator.Orchestrator
	dedup        *dedup.Deduplicator
	embeddings   *embeddingpipeline.Pipeline
	entities     *entityextractor.EntityExtractor
	config       *common.BoilerplateConfig
	logger       arbor.ILogger
}

func New(
	projects interfaces.ProjectRepo,
	sources interfaces.SourceRepo,
	extractions interfaces.ExtractionRepo,
	bp *boilerplate.Engine,
	orch *orchestrator.Orchestrator,
	dd *dedup.Deduplicator,
	ep *embeddingpipeline.Pipeline,
	ee *entityextractor.EntityExtractor,
	config *common.BoilerplateConfig,
	logger arbor.ILogger,
) *Pipeline {
	return &Pipeline{
		projects: projects, sources: sources, extractions: extractions,
		boilerplate: bp, orchestrator: orch, dedup: dd, embeddings: ep, entities: ee,
		config: config, logger: logger,
	}
}

// Run executes spec §4.12 steps 1-9 for one Source.
func (p *Pipeline) Run(ctx context.Context, sourceID string, isCancelled orchestrator.CancelChecker) (*Stats, error) {
	source, err := p.sources.Get(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load source %s: %w", sourceID, err)
	}

	if source.Content == "" {
		_ = p.sources.UpdateStatus(ctx, source.ID, models.SourceStatusFailed, []string{"no content"})
		return &Stats{SourcesProcessed: 1}, nil
	}

	project, err := p.projects.Get(ctx, source.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project %s: %w", source.ProjectID, err)
	}

	p.maybeStripBoilerplate(ctx, source)

	result, err := p.orchestrator.Run(ctx, project, source, isCancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to run extraction orchestrator: %w", err)
	}

	if result.SkippedByRule {
		_ = p.sources.UpdateStatus(ctx, source.ID, models.SourceStatusExtracted, nil)
		return &Stats{SourcesProcessed: 1}, nil
	}

	var toCreate []*models.Extraction
	for _, e := range result.Extractions {
		if p.dedup != nil {
			check, err := p.dedup.Check(ctx, e)
			if err != nil {
				p.logger.Warn().Err(err).Str("source_id", source.ID).Msg("dedup check failed; keeping candidate")
			} else if check.IsDuplicate {
				p.logger.Debug().Str("source_id", source.ID).Str("match_id", check.MatchID).
					Msg("skipping duplicate extraction")
				continue
			}
		}
		e.ID = common.NewID("ext")
		toCreate = append(toCreate, e)
	}

	if len(toCreate) == 0 {
		_ = p.sources.UpdateStatus(ctx, source.ID, models.SourceStatusFailed, []string{"no extractions produced"})
		return &Stats{SourcesProcessed: 1, ChunksProcessed: result.ChunksProcessed}, nil
	}

	if err := p.extractions.CreateBatch(ctx, toCreate); err != nil {
		return nil, fmt.Errorf("failed to persist extractions: %w", err)
	}

	if err := p.embeddings.Run(ctx, toCreate); err != nil {
		p.logger.Warn().Err(err).Str("source_id", source.ID).
			Msg("embedding pipeline failed; extractions remain orphaned for later recovery")
	}

	for _, e := range toCreate {
		if err := p.entities.Run(ctx, project, e); err != nil {
			p.logger.Warn().Err(err).Str("extraction_id", e.ID).
				Msg("entity extraction failed; left entities_extracted=false for retry sweep")
			continue
		}
		if err := p.extractions.MarkEntitiesExtracted(ctx, e.ID); err != nil {
			p.logger.Warn().Err(err).Str("extraction_id", e.ID).Msg("failed to mark entities_extracted")
		}
	}

	if err := p.sources.UpdateStatus(ctx, source.ID, models.SourceStatusExtracted, nil); err != nil {
		return nil, fmt.Errorf("failed to mark source extracted: %w", err)
	}

	return &Stats{
		SourcesProcessed:   1,
		ExtractionsCreated: len(toCreate),
		ChunksProcessed:    result.ChunksProcessed,
	}, nil
}

// maybeStripBoilerplate recomputes cleaned_content from the current
// domain fingerprint when boilerplate detection is enabled. A failure to
// strip (e.g. too little per-domain data yet) is non-fatal: the
// orchestrator falls back to raw content (spec §4.6 "safety rule").
func (p *Pipeline) maybeStripBoilerplate(ctx context.Context, source *models.Source) {
	if p.config == nil || !p.config.Enabled {
		return
	}
	cleaned, _, err := p.boilerplate.Strip(ctx, source.ProjectID, source.Metadata.Domain, source.Content)
	if err != nil {
		p.logger.Warn().Err(err).Str("source_id", source.ID).Msg("boilerplate strip failed")
		return
	}
	if cleaned == "" {
		// Safety rule (spec §4.6): never let cleaning produce a vacuous extraction.
		return
	}
	if err := p.sources.UpdateCleanedContent(ctx, source.ID, cleaned); err != nil {
		p.logger.Warn().Err(err).Str("source_id", source.ID).Msg("failed to persist cleaned content")
		return
	}
	source.CleanedContent = &cleaned
}
