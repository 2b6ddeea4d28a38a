package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
)

// rateLimitRecord tracks a windowed counter keyed by an arbitrary rate-limit
// scope (e.g. "ratelimit:example.com:2026-07-31").
type rateLimitRecord struct {
	Key       string `badgerhold:"key"`
	Count     int64
	ExpiresAt time.Time
}

// RateLimitStorage implements interfaces.RateLimitCounter over badgerhold.
// Expired records are lazily reset on the first Incr/Get past ExpiresAt
// rather than swept by a background job, following the teacher's
// lazy-expiry-on-read idiom for runtime state records.
type RateLimitStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

func NewRateLimitStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RateLimitCounter {
	return &RateLimitStorage{db: db, logger: logger}
}

func (s *RateLimitStorage) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	var rec rateLimitRecord
	err := s.db.Store().Get(key, &rec)
	now := time.Now()
	if err == badgerhold.ErrNotFound || (err == nil && now.After(rec.ExpiresAt)) {
		rec = rateLimitRecord{Key: key, Count: 0, ExpiresAt: now.Add(window)}
	} else if err != nil {
		return 0, fmt.Errorf("failed to get rate limit counter %q: %w", key, err)
	}

	rec.Count++
	if err := s.db.Store().Upsert(key, &rec); err != nil {
		return 0, fmt.Errorf("failed to increment rate limit counter %q: %w", key, err)
	}
	return rec.Count, nil
}

func (s *RateLimitStorage) Get(ctx context.Context, key string) (int64, error) {
	var rec rateLimitRecord
	err := s.db.Store().Get(key, &rec)
	if err == badgerhold.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get rate limit counter %q: %w", key, err)
	}
	if time.Now().After(rec.ExpiresAt) {
		return 0, nil
	}
	return rec.Count, nil
}
