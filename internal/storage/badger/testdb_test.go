package badger

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
)

// setupTestDB opens a throwaway Badger database under t.TempDir(), mirroring
// the sqlite package's setupTestDB helper.
func setupTestDB(t *testing.T) (*BadgerDB, func()) {
	t.Helper()
	tempDir := t.TempDir()

	config := &common.BadgerConfig{Path: tempDir}
	logger := arbor.NewLogger()

	db, err := NewBadgerDB(logger, config)
	require.NoError(t, err)

	cleanup := func() { db.Close() }
	return db, cleanup
}
