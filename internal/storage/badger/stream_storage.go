package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// redeliveryTimeout bounds how long a claimed-but-unacknowledged entry is
// held before another Read call may reclaim it for the same group.
const redeliveryTimeout = 2 * time.Minute

// streamEntry is one request in the append-only log, keyed by a monotonic
// sequence number (badgerhold key) so Read can claim in submission order.
// Mirrors the teacher's JobStatusRecord split: Request is the immutable
// payload, the Claimed*/Acked fields are the mutable runtime state.
type streamEntry struct {
	Seq        int64 `badgerhold:"key"`
	Request    models.LMRequest
	Acked      bool   `badgerhold:"index"`
	ClaimedBy  string
	ClaimedAt  time.Time
}

// StreamStorage implements interfaces.RequestStream over badgerhold. Rather
// than a separate per-group cursor record, each entry's own ClaimedBy/
// ClaimedAt fields double as the consumer-group cursor: a claim is just
// "group X currently owns this entry since time T", which is enough to
// support redelivery without a second indexed type.
type StreamStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex
	nextSeq int64
}

func NewStreamStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RequestStream {
	s := &StreamStorage{db: db, logger: logger}
	s.nextSeq = s.loadMaxSeq() + 1
	return s
}

func (s *StreamStorage) loadMaxSeq() int64 {
	var entries []streamEntry
	if err := s.db.Store().Find(&entries, badgerhold.Where("Seq").Ge(int64(0)).SortBy("Seq").Reverse().Limit(1)); err != nil {
		return 0
	}
	if len(entries) == 0 {
		return 0
	}
	return entries[0].Seq
}

func (s *StreamStorage) Append(ctx context.Context, req *models.LMRequest) error {
	s.mu.Lock()
	seq := s.nextSeq
	s.nextSeq++
	s.mu.Unlock()

	entry := &streamEntry{Seq: seq, Request: *req}
	if err := s.db.Store().Insert(seq, entry); err != nil {
		return fmt.Errorf("failed to append request %s: %w", req.RequestID, err)
	}
	return nil
}

// Read claims up to max entries for group: unclaimed entries first, then
// entries claimed by any group past redeliveryTimeout without an ack.
func (s *StreamStorage) Read(ctx context.Context, group string, max int) ([]*models.LMRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []streamEntry
	if err := s.db.Store().Find(&candidates, badgerhold.Where("Acked").Eq(false).SortBy("Seq")); err != nil {
		return nil, fmt.Errorf("failed to scan request stream: %w", err)
	}

	now := time.Now()
	var claimed []*models.LMRequest
	for i := range candidates {
		if len(claimed) >= max {
			break
		}
		e := &candidates[i]
		if e.ClaimedBy != "" && now.Sub(e.ClaimedAt) < redeliveryTimeout {
			continue // held by an active consumer, not yet eligible for redelivery
		}

		e.ClaimedBy = group
		e.ClaimedAt = now
		if err := s.db.Store().Update(e.Seq, e); err != nil {
			return nil, fmt.Errorf("failed to claim request %s: %w", e.Request.RequestID, err)
		}
		req := e.Request
		claimed = append(claimed, &req)
	}
	return claimed, nil
}

func (s *StreamStorage) Ack(ctx context.Context, group, requestID string) error {
	var entries []streamEntry
	if err := s.db.Store().Find(&entries, badgerhold.Where("Acked").Eq(false)); err != nil {
		return fmt.Errorf("failed to find request %s to ack: %w", requestID, err)
	}
	for _, e := range entries {
		if e.Request.RequestID != requestID {
			continue
		}
		e.Acked = true
		if err := s.db.Store().Update(e.Seq, &e); err != nil {
			return fmt.Errorf("failed to ack request %s: %w", requestID, err)
		}
		return nil
	}
	return fmt.Errorf("request %s not found or already acked", requestID)
}

func (s *StreamStorage) Depth(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&streamEntry{}, badgerhold.Where("Acked").Eq(false))
	if err != nil {
		return 0, fmt.Errorf("failed to count stream depth: %w", err)
	}
	return int(count), nil
}

// Trim drops the oldest acknowledged entries once the stream exceeds cap,
// keeping the acknowledged backlog bounded without disturbing pending work.
func (s *StreamStorage) Trim(ctx context.Context, cap int) error {
	total, err := s.db.Store().Count(&streamEntry{}, nil)
	if err != nil {
		return fmt.Errorf("failed to count stream: %w", err)
	}
	if int(total) <= cap {
		return nil
	}

	var acked []streamEntry
	if err := s.db.Store().Find(&acked, badgerhold.Where("Acked").Eq(true).SortBy("Seq")); err != nil {
		return fmt.Errorf("failed to find acknowledged entries to trim: %w", err)
	}

	excess := int(total) - cap
	if excess > len(acked) {
		excess = len(acked)
	}
	for i := 0; i < excess; i++ {
		if err := s.db.Store().Delete(acked[i].Seq, &streamEntry{}); err != nil && err != badgerhold.ErrNotFound {
			return fmt.Errorf("failed to trim entry seq=%d: %w", acked[i].Seq, err)
		}
	}
	return nil
}
