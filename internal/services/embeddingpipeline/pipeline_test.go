package embeddingpipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// fakeEmbeddingService is a scriptable interfaces.EmbeddingService.
type fakeEmbeddingService struct {
	dim     int
	failing bool
}

func (f *fakeEmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, f.dim), nil
}

func (f *fakeEmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.failing {
		return nil, errors.New("embedding service unavailable")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func (f *fakeEmbeddingService) Dimension() int { return f.dim }

var _ interfaces.EmbeddingService = (*fakeEmbeddingService)(nil)

// fakeVectorRepo is an in-memory interfaces.VectorRepo.
type fakeVectorRepo struct {
	mu      sync.Mutex
	points  map[string]interfaces.EmbeddingItem
	failing bool
}

func newFakeVectorRepo() *fakeVectorRepo { return &fakeVectorRepo{points: make(map[string]interfaces.EmbeddingItem)} }

func (v *fakeVectorRepo) InitCollection(ctx context.Context, name string, dim int) error { return nil }

func (v *fakeVectorRepo) Upsert(ctx context.Context, item interfaces.EmbeddingItem) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.points[item.ID] = item
	return nil
}

func (v *fakeVectorRepo) UpsertBatch(ctx context.Context, items []interfaces.EmbeddingItem) error {
	if v.failing {
		return errors.New("vector store unavailable")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, item := range items {
		v.points[item.ID] = item
	}
	return nil
}

func (v *fakeVectorRepo) Search(ctx context.Context, vector []float32, limit int, filter interfaces.VectorSearchFilter) ([]interfaces.VectorSearchResult, error) {
	return nil, nil
}

func (v *fakeVectorRepo) Delete(ctx context.Context, ids []string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, id := range ids {
		delete(v.points, id)
	}
	return nil
}

var _ interfaces.VectorRepo = (*fakeVectorRepo)(nil)

// fakeExtractionRepo is an in-memory interfaces.ExtractionRepo.
type fakeExtractionRepo struct {
	mu   sync.Mutex
	rows map[string]*models.Extraction
}

func newFakeExtractionRepo(extractions ...*models.Extraction) *fakeExtractionRepo {
	r := &fakeExtractionRepo{rows: make(map[string]*models.Extraction)}
	for _, e := range extractions {
		r.rows[e.ID] = e
	}
	return r
}

func (r *fakeExtractionRepo) CreateBatch(ctx context.Context, extractions []*models.Extraction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range extractions {
		r.rows[e.ID] = e
	}
	return nil
}

func (r *fakeExtractionRepo) Get(ctx context.Context, id string) (*models.Extraction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rows[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return e, nil
}

func (r *fakeExtractionRepo) ListBySource(ctx context.Context, sourceID string) ([]*models.Extraction, error) {
	return nil, nil
}

func (r *fakeExtractionRepo) UpdateEmbeddingIDsBatch(ctx context.Context, idToPointID map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, pointID := range idToPointID {
		e, ok := r.rows[id]
		if !ok || e.EmbeddingID != nil {
			continue // spec §4.11: WHERE id IN (...) AND embedding_id IS NULL
		}
		pid := pointID
		e.EmbeddingID = &pid
	}
	return nil
}

func (r *fakeExtractionRepo) MarkEntitiesExtracted(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.rows[id]; ok {
		e.EntitiesExtracted = true
	}
	return nil
}

func (r *fakeExtractionRepo) ListOrphans(ctx context.Context, limit int) ([]*models.Extraction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Extraction
	for _, e := range r.rows {
		if e.EmbeddingID == nil {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *fakeExtractionRepo) ListPendingEntityExtraction(ctx context.Context, limit int) ([]*models.Extraction, error) {
	return nil, nil
}

var _ interfaces.ExtractionRepo = (*fakeExtractionRepo)(nil)

// TestPipeline_Run_EmbedsUpsertsAndRecordsIDs covers spec §4.11 steps 1-5.
func TestPipeline_Run_EmbedsUpsertsAndRecordsIDs(t *testing.T) {
	extractions := []*models.Extraction{
		{ID: "e1", ProjectID: "p1", SourceGroup: "acme", ExtractionType: "overview", Data: map[string]interface{}{"summary": "hello"}},
	}
	repo := newFakeExtractionRepo(extractions...)
	vectors := newFakeVectorRepo()
	pipeline := New(&fakeEmbeddingService{dim: 4}, vectors, repo, arbor.NewLogger())

	if err := pipeline.Run(context.Background(), extractions); err != nil {
		t.Fatalf("run: %v", err)
	}

	if extractions[0].EmbeddingID == nil {
		t.Fatal("expected embedding_id to be set")
	}
	if _, ok := vectors.points[*extractions[0].EmbeddingID]; !ok {
		t.Fatal("expected vector store to hold the point")
	}
}

// TestPipeline_Run_EmptyIsNoOp covers the len(extractions)==0 short-circuit.
func TestPipeline_Run_EmptyIsNoOp(t *testing.T) {
	repo := newFakeExtractionRepo()
	pipeline := New(&fakeEmbeddingService{dim: 4}, newFakeVectorRepo(), repo, arbor.NewLogger())
	if err := pipeline.Run(context.Background(), nil); err != nil {
		t.Fatalf("expected nil error for empty batch, got %v", err)
	}
}

// TestPipeline_OrphanRecovery covers spec seed scenario 3: two Extractions
// whose vector upsert failed remain orphans (embedding_id = null); a sweep
// recovers both, and re-running the sweep is a no-op.
func TestPipeline_OrphanRecovery(t *testing.T) {
	extractions := []*models.Extraction{
		{ID: "e1", ProjectID: "p1", SourceGroup: "acme", ExtractionType: "overview", Data: map[string]interface{}{"a": "1"}},
		{ID: "e2", ProjectID: "p1", SourceGroup: "acme", ExtractionType: "overview", Data: map[string]interface{}{"b": "2"}},
	}
	repo := newFakeExtractionRepo(extractions...)
	vectors := newFakeVectorRepo()
	vectors.failing = true
	pipeline := New(&fakeEmbeddingService{dim: 4}, vectors, repo, arbor.NewLogger())

	// Simulate the ExtractionPipeline persisting the rows, then the
	// embedding step failing (vector store down): both stay orphaned.
	if err := pipeline.Run(context.Background(), extractions); err == nil {
		t.Fatal("expected Run to fail while the vector store is down")
	}
	for _, e := range extractions {
		if e.EmbeddingID != nil {
			t.Fatalf("expected %s to remain an orphan after a failed run", e.ID)
		}
	}

	// The vector store recovers; the orphan sweep retries steps 2-5.
	vectors.failing = false
	recovered, err := pipeline.RecoverOrphans(context.Background(), 50)
	if err != nil {
		t.Fatalf("recover orphans: %v", err)
	}
	if recovered != 2 {
		t.Fatalf("expected 2 recovered, got %d", recovered)
	}
	for _, e := range extractions {
		if e.EmbeddingID == nil {
			t.Fatalf("expected %s to have a non-nil embedding_id after recovery", e.ID)
		}
		if _, ok := vectors.points[*e.EmbeddingID]; !ok {
			t.Fatalf("expected vector store to hold point for %s", e.ID)
		}
	}

	// Re-running the sweep is a no-op: no orphans remain.
	recovered, err = pipeline.RecoverOrphans(context.Background(), 50)
	if err != nil {
		t.Fatalf("second recover orphans: %v", err)
	}
	if recovered != 0 {
		t.Fatalf("expected second sweep to be a no-op, got %d recovered", recovered)
	}
}

// TestPipeline_Run_EmbedFailureLeavesOrphans covers the "steps 2-4 fail"
// branch when EmbedBatch itself errors.
func TestPipeline_Run_EmbedFailureLeavesOrphans(t *testing.T) {
	extractions := []*models.Extraction{
		{ID: "e1", ProjectID: "p1", SourceGroup: "acme", ExtractionType: "overview", Data: map[string]interface{}{"a": "1"}},
	}
	repo := newFakeExtractionRepo(extractions...)
	embedder := &fakeEmbeddingService{dim: 4, failing: true}
	pipeline := New(embedder, newFakeVectorRepo(), repo, arbor.NewLogger())

	if err := pipeline.Run(context.Background(), extractions); err == nil {
		t.Fatal("expected error when embedding service is down")
	}
	if extractions[0].EmbeddingID != nil {
		t.Fatal("expected extraction to remain an orphan")
	}
}
