package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
	"github.com/TKontu/knowledge-extraction-sub001/internal/interfaces"
)

// Manager wires the Badger-backed KV surfaces: the generic secrets/config
// store, the LM broker's request stream and response bucket, the dead-letter
// lists, and the per-domain rate-limit counters.
type Manager struct {
	db        *BadgerDB
	kv        interfaces.KeyValueStorage
	stream    interfaces.RequestStream
	responses interfaces.ResponseBucket
	dlq       interfaces.DLQ
	rateLimit interfaces.RateLimitCounter
	logger    arbor.ILogger
}

// NewManager opens the Badger database and constructs every KV surface.
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:        db,
		kv:        NewKVStorage(db, logger),
		stream:    NewStreamStorage(db, logger),
		responses: NewResponseStorage(db, logger),
		dlq:       NewDLQStorage(db, logger),
		rateLimit: NewRateLimitStorage(db, logger),
		logger:    logger,
	}

	logger.Info().Msg("Badger storage manager initialized (kv, stream, responses, dlq, rateLimit)")
	return manager, nil
}

func (m *Manager) KeyValueStorage() interfaces.KeyValueStorage { return m.kv }
func (m *Manager) RequestStream() interfaces.RequestStream     { return m.stream }
func (m *Manager) ResponseBucket() interfaces.ResponseBucket   { return m.responses }
func (m *Manager) DLQ() interfaces.DLQ                         { return m.dlq }
func (m *Manager) RateLimitCounter() interfaces.RateLimitCounter { return m.rateLimit }

// DB returns the underlying BadgerDB wrapper.
func (m *Manager) DB() *BadgerDB { return m.db }

// Close closes the database connection.
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
