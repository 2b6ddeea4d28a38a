package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
	"github.com/TKontu/knowledge-extraction-sub001/internal/models"
)

// ResponseStorage implements interfaces.ResponseBucket directly against the
// underlying badger.DB (bypassing badgerhold, which has no TTL support) so
// expiry is enforced by badger's own value-log GC rather than lazy checks.
type ResponseStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

func NewResponseStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ResponseBucket {
	return &ResponseStorage{db: db, logger: logger}
}

func responseKey(requestID string) []byte {
	return []byte("llm:response:" + requestID)
}

func (s *ResponseStorage) Put(ctx context.Context, resp *models.LMResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to serialize response %s: %w", resp.RequestID, err)
	}
	err = s.db.Store().Badger().Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(responseKey(resp.RequestID), data).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("failed to store response for %s: %w", resp.RequestID, err)
	}
	return nil
}

func (s *ResponseStorage) Get(ctx context.Context, requestID string) (*models.LMResponse, bool, error) {
	var resp models.LMResponse
	var found bool
	err := s.db.Store().Badger().View(func(txn *badger.Txn) error {
		item, err := txn.Get(responseKey(requestID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &resp)
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to get response for %s: %w", requestID, err)
	}
	if !found {
		return nil, false, nil
	}
	return &resp, true, nil
}
