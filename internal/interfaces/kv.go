package interfaces

import (
	"context"
	"time"

	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// KeyValueStorage is the generic secrets/config KV surface used by
// common.ResolveAPIKey and the operator-facing variable store.
type KeyValueStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// RequestStream is the LMBroker's append-only request log with
// consumer-group semantics: each entry is delivered to exactly one consumer
// at a time; unacknowledged entries may be re-delivered after a timeout.
type RequestStream interface {
	Append(ctx context.Context, req *models.LMRequest) error
	// Read pulls up to max undelivered-or-timed-out entries for group.
	Read(ctx context.Context, group string, max int) ([]*models.LMRequest, error)
	Ack(ctx context.Context, group, requestID string) error
	Depth(ctx context.Context) (int, error)
	// Trim drops the oldest acknowledged entries once the stream exceeds cap.
	Trim(ctx context.Context, cap int) error
}

// ResponseBucket is the broker's per-request TTL-bounded response store.
type ResponseBucket interface {
	Put(ctx context.Context, resp *models.LMResponse, ttl time.Duration) error
	Get(ctx context.Context, requestID string) (*models.LMResponse, bool, error)
}

// DLQ is a list-backed dead-letter queue (lpush/lrange/lrem semantics).
type DLQ interface {
	Push(ctx context.Context, listKey string, payload map[string]interface{}) error
	List(ctx context.Context, listKey string, limit int) ([]map[string]interface{}, error)
}

// RateLimitCounter is a KV counter family supporting incr/expire, used for
// per-domain token buckets and daily caps.
type RateLimitCounter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
}
