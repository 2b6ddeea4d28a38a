package interfaces

import (
	"context"

	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// ScrapeResult is the opaque Fetcher's response to a single-page scrape.
type ScrapeResult struct {
	Content        string
	StatusCode     int
	Error          string
	DiscoveredURLs []string
}

// ScrapeOptions configures a single Fetcher.Scrape call.
type ScrapeOptions struct {
	Timeout int // seconds
}

// CrawlOptions configures Fetcher.StartCrawl.
type CrawlOptions struct {
	Depth          int
	Limit          int
	Include        []string
	Exclude        []string
	BackwardLinks  bool
}

// CrawlPage is one page surfaced by a crawl status poll.
type CrawlPage struct {
	Markdown string
	URL      string
	Title    string
}

// CrawlStatusResult is the Fetcher's answer to get_crawl_status.
type CrawlStatusResult struct {
	Status    string // "scraping" | "completed" | "failed"
	Total     int
	Completed int
	Pages     []CrawlPage
	Error     string
}

const (
	CrawlStatusScraping = "scraping"
	CrawlStatusCompleted = "completed"
	CrawlStatusFailed    = "failed"
)

// Fetcher is the opaque browser/rendering collaborator (spec §6). The core
// never drives a browser directly; it only consumes this contract.
type Fetcher interface {
	Scrape(ctx context.Context, url string, opts ScrapeOptions) (*ScrapeResult, error)
	StartCrawl(ctx context.Context, url string, opts CrawlOptions) (string, error)
	GetCrawlStatus(ctx context.Context, crawlID string) (*CrawlStatusResult, error)
}

// CompletionRequest is one call to an LLMEndpoint.
type CompletionRequest struct {
	Messages    []models.Message
	JSONMode    bool
	Temperature float32
	MaxTokens   int
	Model       string
}

// CompletionResult is an LLMEndpoint's response.
type CompletionResult struct {
	ContentText string
	Usage       models.CompletionUsage
}

// LLMEndpoint is the remote completion service contract (spec §6). It
// raises on network or 5xx; JSON parsing/repair is the caller's job.
type LLMEndpoint interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}

// EmbeddingService embeds text into fixed-dimensionality vectors.
type EmbeddingService interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}
