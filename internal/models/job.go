package models

import (
	"encoding/json"
	"time"
)

// JobType enumerates the kinds of work the scheduler dispatches.
type JobType string

const (
	JobTypeScrape  JobType = "scrape"
	JobTypeCrawl   JobType = "crawl"
	JobTypeExtract JobType = "extract"
	JobTypeReport  JobType = "report"
	JobTypeDedup   JobType = "dedup"
)

// JobStatus is the lifecycle status of a Job. Transitions are monotone
// except running→queued (reclaim only) and *→cancelled (from running or
// cancelling only).
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusRunning    JobStatus = "running"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusCancelling JobStatus = "cancelling"
)

// JobResult carries per-stage counters a worker reports back on completion,
// cancellation, or failure. Not every field applies to every job type.
type JobResult struct {
	SourcesProcessed  int  `json:"sources_processed"`
	ExtractionsCreated int `json:"extractions_created"`
	ChunksProcessed   int  `json:"chunks_processed,omitempty"`
	PagesFetched      int  `json:"pages_fetched,omitempty"`
	ZeroPages         bool `json:"zero_pages,omitempty"`
}

// Job is a persistent, transactional unit of work claimed by exactly one
// worker at a time (JobStore.claim_next is race-free by construction).
type Job struct {
	ID                    string     `json:"id"`
	ParentID              *string    `json:"parent_id,omitempty"`
	Type                  JobType    `json:"type"`
	Status                JobStatus  `json:"status"`
	Priority              int        `json:"priority"`
	Payload               map[string]interface{} `json:"payload"`
	Result                *JobResult `json:"result,omitempty"`
	Error                 *string    `json:"error,omitempty"`
	CancellationRequested bool       `json:"cancellation_requested"`
	LastHeartbeatAt       time.Time  `json:"last_heartbeat_at"`
	CreatedAt             time.Time  `json:"created_at"`
	StartedAt             *time.Time `json:"started_at,omitempty"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// PayloadJSON marshals the payload for persistence in a JSON column.
func (j *Job) PayloadJSON() (string, error) {
	if j.Payload == nil {
		return "{}", nil
	}
	b, err := json.Marshal(j.Payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ResultJSON marshals the result, or "" if nil.
func (j *Job) ResultJSON() (string, error) {
	if j.Result == nil {
		return "", nil
	}
	b, err := json.Marshal(j.Result)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// IsTerminal reports whether the job is in a status from which claim_next
// and request_cancel no longer apply.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// DefaultStaleThreshold returns the per-type duration beyond which a running
// job without a fresh heartbeat is eligible for reclaim (spec §4.1).
func DefaultStaleThreshold(t JobType) time.Duration {
	switch t {
	case JobTypeScrape:
		return 5 * time.Minute
	case JobTypeExtract:
		return 15 * time.Minute
	case JobTypeCrawl:
		return 30 * time.Minute
	case JobTypeReport:
		return 10 * time.Minute
	default:
		return 10 * time.Minute
	}
}

// DefaultConcurrency returns the per-type worker semaphore size (spec §4.2).
func DefaultConcurrency(t JobType) int {
	switch t {
	case JobTypeCrawl:
		return 6
	default:
		return 1
	}
}
