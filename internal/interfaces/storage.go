// Package interfaces defines the typed contracts the core depends on:
// repositories over the relational and vector stores, the shared KV, and
// the external collaborators (Fetcher, LLMEndpoint, EmbeddingService).
package interfaces

import (
	"context"
	"time"

	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// ProjectRepo persists Project records.
type ProjectRepo interface {
	Create(ctx context.Context, p *models.Project) error
	Get(ctx context.Context, id string) (*models.Project, error)
	GetByName(ctx context.Context, name string) (*models.Project, error)
	Update(ctx context.Context, p *models.Project) error
	SoftDelete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.Project, error)
}

// SourceListOptions filters SourceRepo.List.
type SourceListOptions struct {
	ProjectID string
	Status    models.SourceStatus
	Limit     int
}

// SourceRepo persists Source records, keyed uniquely by (project_id, uri).
type SourceRepo interface {
	Upsert(ctx context.Context, s *models.Source) error
	Get(ctx context.Context, id string) (*models.Source, error)
	GetByURI(ctx context.Context, projectID, uri string) (*models.Source, error)
	UpdateCleanedContent(ctx context.Context, id string, cleaned string) error
	UpdateStatus(ctx context.Context, id string, status models.SourceStatus, errs []string) error
	List(ctx context.Context, opts SourceListOptions) ([]*models.Source, error)
	Count(ctx context.Context, opts SourceListOptions) (int, error)
}

// ExtractionRepo persists Extraction records.
type ExtractionRepo interface {
	CreateBatch(ctx context.Context, extractions []*models.Extraction) error
	Get(ctx context.Context, id string) (*models.Extraction, error)
	ListBySource(ctx context.Context, sourceID string) ([]*models.Extraction, error)
	UpdateEmbeddingIDsBatch(ctx context.Context, idToPointID map[string]string) error
	MarkEntitiesExtracted(ctx context.Context, id string) error
	ListOrphans(ctx context.Context, limit int) ([]*models.Extraction, error)
	ListPendingEntityExtraction(ctx context.Context, limit int) ([]*models.Extraction, error)
}

// EntityRepo persists Entity and ExtractionEntity records.
type EntityRepo interface {
	// GetOrCreate upserts on (project_id, source_group, entity_type, normalized_value).
	GetOrCreate(ctx context.Context, e *models.Entity) (*models.Entity, bool, error)
	// GetOrCreateLink is idempotent on (extraction_id, entity_id, role).
	GetOrCreateLink(ctx context.Context, extractionID, entityID, role string) (*models.ExtractionEntity, bool, error)
	Get(ctx context.Context, id string) (*models.Entity, error)
}

// DomainBoilerplateRepo persists per-(project, domain) fingerprints.
type DomainBoilerplateRepo interface {
	Upsert(ctx context.Context, db *models.DomainBoilerplate) error
	Get(ctx context.Context, projectID, domain string) (*models.DomainBoilerplate, error)
}

// JobListOptions filters JobStore.List.
type JobListOptions struct {
	Type   models.JobType
	Status models.JobStatus
	Limit  int
}

// JobStore exposes a narrow transactional interface over the relational
// store (spec §4.1). claim_next must be race-free across concurrent callers.
type JobStore interface {
	Create(ctx context.Context, job *models.Job) (string, error)
	ClaimNext(ctx context.Context, jobType models.JobType, staleThreshold time.Duration) (*models.Job, error)
	Heartbeat(ctx context.Context, jobID string) error
	RequestCancel(ctx context.Context, jobID string) error
	IsCancelRequested(ctx context.Context, jobID string) (bool, error)
	Complete(ctx context.Context, jobID string, result *models.JobResult) error
	Fail(ctx context.Context, jobID string, errMsg string) error
	MarkCancelled(ctx context.Context, jobID string, partial *models.JobResult) error
	Delete(ctx context.Context, jobID string) error
	Get(ctx context.Context, jobID string) (*models.Job, error)
	List(ctx context.Context, opts JobListOptions) ([]*models.Job, error)
}

// VectorSearchFilter scopes VectorRepo.Search to a project/source_group.
type VectorSearchFilter struct {
	ProjectID   string
	SourceGroup string
}

// VectorSearchResult is one scored hit from VectorRepo.Search.
type VectorSearchResult struct {
	ID      string
	Score   float64
	Payload map[string]interface{}
}

// EmbeddingItem is one row passed to VectorRepo.UpsertBatch.
type EmbeddingItem struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

// VectorRepo is the typed contract over the vector store (spec §6).
// Upsert is idempotent on id.
type VectorRepo interface {
	InitCollection(ctx context.Context, name string, dim int) error
	Upsert(ctx context.Context, item EmbeddingItem) error
	UpsertBatch(ctx context.Context, items []EmbeddingItem) error
	Search(ctx context.Context, vector []float32, limit int, filter VectorSearchFilter) ([]VectorSearchResult, error)
	Delete(ctx context.Context, ids []string) error
}
