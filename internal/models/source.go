package models

import "time"

// SourceStatus is the lifecycle status of a crawled/scraped Source.
type SourceStatus string

const (
	SourceStatusPending   SourceStatus = "pending"
	SourceStatusExtracted SourceStatus = "extracted"
	SourceStatusFailed    SourceStatus = "failed"
)

// Source is a crawled or scraped page belonging to a Project, identified by
// (project_id, uri). Content is mutated only by CrawlWorker/ScrapeWorker;
// cleaned_content and status are mutated only by the ExtractionPipeline.
type Source struct {
	ID              string       `json:"id"`
	ProjectID       string       `json:"project_id"`
	URI             string       `json:"uri"`
	SourceGroup     string       `json:"source_group"`
	Content         string       `json:"content"`
	CleanedContent  *string      `json:"cleaned_content,omitempty"`
	Metadata        SourceMeta   `json:"metadata"`
	Status          SourceStatus `json:"status"`
	Errors          []string     `json:"errors,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// SourceMeta carries the page-level metadata the Fetcher returns alongside content.
type SourceMeta struct {
	Domain string `json:"domain"`
	Title  string `json:"title,omitempty"`
}

// EffectiveContent returns cleaned_content when non-empty, otherwise the raw
// content, per the ExtractionPipeline's "never vacuous extraction" rule.
func (s *Source) EffectiveContent() string {
	if s.CleanedContent != nil && *s.CleanedContent != "" {
		return *s.CleanedContent
	}
	return s.Content
}
