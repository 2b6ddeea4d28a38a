package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
)

// dlqEntry is one dead-lettered payload appended to a named list.
type dlqEntry struct {
	ID        string `badgerhold:"key"`
	ListKey   string `badgerhold:"index"`
	Payload   map[string]interface{}
	CreatedAt time.Time
}

// DLQStorage implements interfaces.DLQ over badgerhold with lpush/lrange
// semantics approximated by an indexed ListKey field plus a CreatedAt sort,
// grounded on the teacher's badgerhold.Where(...).Eq(...) query idiom in
// queue_storage.go's GetJobsByStatus.
type DLQStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

func NewDLQStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DLQ {
	return &DLQStorage{db: db, logger: logger}
}

func (s *DLQStorage) Push(ctx context.Context, listKey string, payload map[string]interface{}) error {
	entry := &dlqEntry{
		ID:        common.NewID("dlq"),
		ListKey:   listKey,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	if err := s.db.Store().Insert(entry.ID, entry); err != nil {
		return fmt.Errorf("failed to push dlq entry to %q: %w", listKey, err)
	}
	return nil
}

func (s *DLQStorage) List(ctx context.Context, listKey string, limit int) ([]map[string]interface{}, error) {
	var entries []dlqEntry
	query := badgerhold.Where("ListKey").Eq(listKey).SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.db.Store().Find(&entries, query); err != nil {
		return nil, fmt.Errorf("failed to list dlq entries for %q: %w", listKey, err)
	}

	out := make([]map[string]interface{}, len(entries))
	for i, e := range entries {
		out[i] = e.Payload
	}
	return out, nil
}
