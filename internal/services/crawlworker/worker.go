// Package crawlworker drives the Fetcher's multi-page crawl flow: start a
// crawl, poll get_crawl_status until terminal, persist every returned page as
// a Source, and enqueue one extract Job per page (spec §4.13).
package crawlworker

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
	"github.com/TKontu/knowledge-extraction-sub001/internal/services/ratelimit"
)

// Worker executes one crawl job end to end.
type Worker struct {
	fetcher interfaces.Fetcher
	sources interfaces.SourceRepo
	jobs    interfaces.JobStore
	limiter *ratelimit.Limiter
	config  *common.CrawlConfig
	logger  arbor.ILogger
}

func New(fetcher interfaces.Fetcher, sources interfaces.SourceRepo, jobs interfaces.JobStore, limiter *ratelimit.Limiter, config *common.CrawlConfig, logger arbor.ILogger) *Worker {
	return &Worker{fetcher: fetcher, sources: sources, jobs: jobs, limiter: limiter, config: config, logger: logger}
}

// Payload is the crawl job's decoded payload.
type Payload struct {
	ProjectID   string   `json:"project_id"`
	URI         string   `json:"uri"`
	SourceGroup string   `json:"source_group"`
	Depth       int      `json:"depth"`
	Limit       int      `json:"limit"`
	Include     []string `json:"include"`
	Exclude     []string `json:"exclude"`
}

// IsCancelRequested lets the scheduler inject a cancellation checkpoint.
type IsCancelRequested func(ctx context.Context) (bool, error)

// Run starts the crawl, polls to completion, persists pages, and enqueues
// one extract Job per page. A crawl that completes with zero pages is
// reported as a successful job carrying Result.ZeroPages=true rather than
// a failure, since the site may legitimately have nothing new to offer.
func (w *Worker) Run(ctx context.Context, jobID string, payload Payload, isCancelled IsCancelRequested) (*models.JobResult, error) {
	release, err := w.limiter.Acquire(ctx, payload.URI)
	if err != nil {
		return nil, fmt.Errorf("rate limited: %w", err)
	}
	defer release()

	crawlID, err := w.fetcher.StartCrawl(ctx, payload.URI, interfaces.CrawlOptions{
		Depth:   payload.Depth,
		Limit:   payload.Limit,
		Include: payload.Include,
		Exclude: payload.Exclude,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start crawl for %s: %w", payload.URI, err)
	}

	pollInterval := time.Duration(w.config.PollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var status *interfaces.CrawlStatusResult
	for {
		if cancelled, err := isCancelled(ctx); err == nil && cancelled {
			return nil, context.Canceled
		}

		status, err = w.fetcher.GetCrawlStatus(ctx, crawlID)
		if err != nil {
			return nil, fmt.Errorf("failed to poll crawl status for %s: %w", crawlID, err)
		}
		if status.Status == interfaces.CrawlStatusCompleted || status.Status == interfaces.CrawlStatusFailed {
			break
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if status.Status == interfaces.CrawlStatusFailed {
		return nil, fmt.Errorf("crawl %s failed: %s", crawlID, status.Error)
	}

	if len(status.Pages) == 0 {
		w.logger.Warn().Str("uri", payload.URI).Str("crawl_id", crawlID).
			Msg("crawl completed with zero pages")
		return &models.JobResult{ZeroPages: true}, nil
	}

	fetched := 0
	for _, page := range status.Pages {
		domain := hostOf(page.URL)
		source := &models.Source{
			ProjectID:   payload.ProjectID,
			URI:         page.URL,
			SourceGroup: payload.SourceGroup,
			Content:     page.Markdown,
			Metadata:    models.SourceMeta{Domain: domain, Title: page.Title},
			Status:      models.SourceStatusPending,
		}
		if err := w.sources.Upsert(ctx, source); err != nil {
			w.logger.Warn().Err(err).Str("uri", page.URL).Msg("failed to persist crawled page")
			continue
		}
		fetched++

		extractJob := &models.Job{
			ParentID: &jobID,
			Type:     models.JobTypeExtract,
			Status:   models.JobStatusQueued,
			Payload:  map[string]interface{}{"source_id": source.ID},
		}
		if _, err := w.jobs.Create(ctx, extractJob); err != nil {
			w.logger.Warn().Err(err).Str("source_id", source.ID).Msg("failed to enqueue extract job for crawled page")
		}
	}

	return &models.JobResult{PagesFetched: fetched}, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
