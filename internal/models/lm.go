package models

import "time"

// LMRequestType enumerates the kinds of requests the LMBroker carries.
type LMRequestType string

const (
	LMRequestExtractFacts      LMRequestType = "extract_facts"
	LMRequestExtractFieldGroup LMRequestType = "extract_field_group"
	LMRequestExtractEntities   LMRequestType = "extract_entities"
	LMRequestComplete          LMRequestType = "complete"
)

// LMRequest is a stream-resident, transient record submitted to the broker.
type LMRequest struct {
	RequestID   string                 `json:"request_id"`
	RequestType LMRequestType          `json:"request_type"`
	Messages    []Message              `json:"messages"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	Priority    int                    `json:"priority"`
	CreatedAt   time.Time              `json:"created_at"`
	TimeoutAt   time.Time              `json:"timeout_at"`
	RetryCount  int                    `json:"retry_count"`
}

// LMResponseStatus is the outcome of processing an LMRequest.
type LMResponseStatus string

const (
	LMResponseSuccess LMResponseStatus = "success"
	LMResponseError   LMResponseStatus = "error"
	LMResponseTimeout LMResponseStatus = "timeout"
)

// LMResponse is a KV-resident, TTL-bounded record keyed by request_id.
type LMResponse struct {
	RequestID       string           `json:"request_id"`
	Status          LMResponseStatus `json:"status"`
	Result          string           `json:"result,omitempty"`
	Error           string           `json:"error,omitempty"`
	ProcessingTimeMs int64            `json:"processing_time_ms"`
	CompletedAt     time.Time        `json:"completed_at"`
}

// Message is a single chat turn passed to an LLMEndpoint.
type Message struct {
	Role    string `json:"role"` // "system" | "user" | "assistant"
	Content string `json:"content"`
}

// CompletionUsage reports token accounting from an LLMEndpoint call.
type CompletionUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
