// Package scrapeworker drives the Fetcher for single-URL scrape jobs,
// persisting the returned content as a Source (spec §4.13).
package scrapeworker

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

// Worker executes one scrape job: fetch a URL, upsert the resulting Source.
type Worker struct {
	fetcher   interfaces.Fetcher
	sources   interfaces.SourceRepo
	limiter   *ratelimit.Limiter
	config    *common.ScrapeConfig
	logger    arbor.ILogger
}

func New(fetcher interfaces.Fetcher, sources interfaces.SourceRepo, limiter *ratelimit.Limiter, config *common.ScrapeConfig, logger arbor.ILogger) *Worker {
	return &Worker{fetcher: fetcher, sources: sources, limiter: limiter, config: config, logger: logger}
}

// Payload is the scrape job's decoded payload.
type Payload struct {
	ProjectID   string `json:"project_id"`
	URI         string `json:"uri"`
	SourceGroup string `json:"source_group"`
}

// Run fetches payload.URI and upserts a Source keyed on (project_id, uri).
func (w *Worker) Run(ctx context.Context, payload Payload) error {
	release, err := w.limiter.Acquire(ctx, payload.URI)
	if err != nil {
		return fmt.Errorf("rate limited: %w", err)
	}
	defer release()

	timeout := w.config.TimeoutSeconds
	if timeout <= 0 {
		timeout = 180
	}
	fetchCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	result, err := w.fetcher.Scrape(fetchCtx, payload.URI, interfaces.ScrapeOptions{Timeout: timeout})
	if err != nil {
		return fmt.Errorf("failed to scrape %s: %w", payload.URI, err)
	}
	if result.Error != "" {
		return fmt.Errorf("fetcher reported error for %s: %s", payload.URI, result.Error)
	}

	domain := hostOf(payload.URI)
	source := &models.Source{
		ProjectID:   payload.ProjectID,
		URI:         payload.URI,
		SourceGroup: payload.SourceGroup,
		Content:     result.Content,
		Metadata:    models.SourceMeta{Domain: domain},
		Status:      models.SourceStatusPending,
	}

	if err := w.sources.Upsert(ctx, source); err != nil {
		return fmt.Errorf("failed to persist source %s: %w", payload.URI, err)
	}

	w.logger.Info().Str("uri", payload.URI).Int("content_len", len(result.Content)).Msg("scraped source")
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
