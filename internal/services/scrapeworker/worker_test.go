package scrapeworker

import (
	"context"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/ratelimit"
)

type fakeFetcher struct {
	result *interfaces.ScrapeResult
	err    error
}

func (f *fakeFetcher) Scrape(ctx context.Context, url string, opts interfaces.ScrapeOptions) (*interfaces.ScrapeResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}
func (f *fakeFetcher) StartCrawl(ctx context.Context, url string, opts interfaces.CrawlOptions) (string, error) {
	return "", nil
}
func (f *fakeFetcher) GetCrawlStatus(ctx context.Context, crawlID string) (*interfaces.CrawlStatusResult, error) {
	return nil, nil
}

type fakeSourceRepo struct {
	upserted *models.Source
}

func (f *fakeSourceRepo) Upsert(ctx context.Context, s *models.Source) error {
	f.upserted = s
	return nil
}
func (f *fakeSourceRepo) Get(ctx context.Context, id string) (*models.Source, error) { return nil, nil }
func (f *fakeSourceRepo) GetByURI(ctx context.Context, projectID, uri string) (*models.Source, error) {
	return nil, nil
}
func (f *fakeSourceRepo) UpdateCleanedContent(ctx context.Context, id, cleaned string) error {
	return nil
}
func (f *fakeSourceRepo) UpdateStatus(ctx context.Context, id string, status models.SourceStatus, errs []string) error {
	return nil
}
func (f *fakeSourceRepo) List(ctx context.Context, opts interfaces.SourceListOptions) ([]*models.Source, error) {
	return nil, nil
}
func (f *fakeSourceRepo) Count(ctx context.Context, opts interfaces.SourceListOptions) (int, error) {
	return 0, nil
}

// TestWorker_Run_ScrapesAndUpsertsSource covers spec §4.13's success path.
func TestWorker_Run_ScrapesAndUpsertsSource(t *testing.T) {
	fetcher := &fakeFetcher{result: &interfaces.ScrapeResult{Content: "hello world"}}
	sources := &fakeSourceRepo{}
	limiter := ratelimit.New(&noopRateLimitCounter{}, ratelimit.Config{MaxConcurrentPerDomain: 2, DailyLimit: 100})
	worker := New(fetcher, sources, limiter, &common.ScrapeConfig{TimeoutSeconds: 30}, arbor.NewLogger())

	err := worker.Run(context.Background(), Payload{ProjectID: "p1", URI: "https://example.com/page", SourceGroup: "example"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sources.upserted == nil {
		t.Fatal("expected a source to be upserted")
	}
	if sources.upserted.Content != "hello world" {
		t.Fatalf("expected scraped content to be persisted, got %q", sources.upserted.Content)
	}
	if sources.upserted.Metadata.Domain != "example.com" {
		t.Fatalf("expected domain to be derived from the URI, got %q", sources.upserted.Metadata.Domain)
	}
	if sources.upserted.Status != models.SourceStatusPending {
		t.Fatalf("expected a freshly scraped source to start pending, got %s", sources.upserted.Status)
	}
}

// TestWorker_Run_FetcherErrorPropagates covers the fetcher-failure path: the
// job fails, and nothing is upserted.
func TestWorker_Run_FetcherErrorPropagates(t *testing.T) {
	fetcher := &fakeFetcher{err: errScrapeFailed}
	sources := &fakeSourceRepo{}
	limiter := ratelimit.New(&noopRateLimitCounter{}, ratelimit.Config{MaxConcurrentPerDomain: 2, DailyLimit: 100})
	worker := New(fetcher, sources, limiter, &common.ScrapeConfig{TimeoutSeconds: 30}, arbor.NewLogger())

	err := worker.Run(context.Background(), Payload{ProjectID: "p1", URI: "https://example.com/page"})
	if err == nil {
		t.Fatal("expected the fetcher error to propagate")
	}
	if sources.upserted != nil {
		t.Fatal("expected no source to be upserted on fetch failure")
	}
}

// TestWorker_Run_FetcherReportedErrorFailsJob covers the case where Scrape
// succeeds at the transport level but the fetcher reports a page-level error.
func TestWorker_Run_FetcherReportedErrorFailsJob(t *testing.T) {
	fetcher := &fakeFetcher{result: &interfaces.ScrapeResult{Error: "blocked by robots.txt"}}
	sources := &fakeSourceRepo{}
	limiter := ratelimit.New(&noopRateLimitCounter{}, ratelimit.Config{MaxConcurrentPerDomain: 2, DailyLimit: 100})
	worker := New(fetcher, sources, limiter, &common.ScrapeConfig{TimeoutSeconds: 30}, arbor.NewLogger())

	err := worker.Run(context.Background(), Payload{ProjectID: "p1", URI: "https://example.com/page"})
	if err == nil {
		t.Fatal("expected a fetcher-reported error to fail the job")
	}
	if sources.upserted != nil {
		t.Fatal("expected no source to be upserted when the fetcher reports an error")
	}
}

type scrapeFailedErr struct{}

func (scrapeFailedErr) Error() string { return "scrape failed" }

var errScrapeFailed = scrapeFailedErr{}

type noopRateLimitCounter struct{}

func (n *noopRateLimitCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	return 0, nil
}
func (n *noopRateLimitCounter) Get(ctx context.Context, key string) (int64, error) { return 0, nil }
