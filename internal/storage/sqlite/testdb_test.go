package sqlite

import (
	"os"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/TKontu/knowledge-extraction-sub001/internal/common"
)

// setupTestDB opens a throwaway SQLite database under t.TempDir(), mirroring
// the teacher's document_storage_search_test.go helper of the same name.
func setupTestDB(t *testing.T) (*SQLiteDB, func()) {
	t.Helper()
	tempDir := t.TempDir()
	dbPath := tempDir + "/test.db"

	config := &common.SQLiteConfig{
		Path:          dbPath,
		CacheSizeMB:   16,
		BusyTimeoutMS: 5000,
		WALMode:       false,
		EmbeddingDim:  8,
	}

	logger := arbor.NewLogger()

	db, err := NewSQLiteDB(logger, config)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.RemoveAll(tempDir)
	}
	return db, cleanup
}
