package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
)

// kvRecord is a single key/value row in the generic secrets/config store.
type kvRecord struct {
	Key   string `badgerhold:"key"`
	Value string
}

// KVStorage implements interfaces.KeyValueStorage over badgerhold.
type KVStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

func NewKVStorage(db *BadgerDB, logger arbor.ILogger) interfaces.KeyValueStorage {
	return &KVStorage{db: db, logger: logger}
}

func (s *KVStorage) Get(ctx context.Context, key string) (string, error) {
	var rec kvRecord
	if err := s.db.Store().Get(key, &rec); err != nil {
		if err == badgerhold.ErrNotFound {
			return "", fmt.Errorf("key %q not found", key)
		}
		return "", fmt.Errorf("failed to get key %q: %w", key, err)
	}
	return rec.Value, nil
}

func (s *KVStorage) Set(ctx context.Context, key, value string) error {
	rec := &kvRecord{Key: key, Value: value}
	if err := s.db.Store().Upsert(key, rec); err != nil {
		return fmt.Errorf("failed to set key %q: %w", key, err)
	}
	return nil
}

func (s *KVStorage) Delete(ctx context.Context, key string) error {
	if err := s.db.Store().Delete(key, &kvRecord{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}
