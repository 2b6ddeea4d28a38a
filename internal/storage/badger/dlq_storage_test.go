package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

// TestDLQStorage_PushAndList covers spec §4.4: failed LM requests land in
// llm:dlq with full context, retrievable newest-first.
func TestDLQStorage_PushAndList(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	storage := NewDLQStorage(db, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.Push(ctx, "llm:dlq", map[string]interface{}{"request_id": "r1", "error": "boom"}))
	require.NoError(t, storage.Push(ctx, "llm:dlq", map[string]interface{}{"request_id": "r2", "error": "timeout"}))
	require.NoError(t, storage.Push(ctx, "scrape:dlq", map[string]interface{}{"url": "https://example.com"}))

	items, err := storage.List(ctx, "llm:dlq", 0)
	require.NoError(t, err)
	require.Len(t, items, 2, "scrape:dlq entries must not leak into llm:dlq's list")

	ids := []interface{}{items[0]["request_id"], items[1]["request_id"]}
	require.ElementsMatch(t, []interface{}{"r1", "r2"}, ids)

	scrapeItems, err := storage.List(ctx, "scrape:dlq", 0)
	require.NoError(t, err)
	require.Len(t, scrapeItems, 1)
	require.Equal(t, "https://example.com", scrapeItems[0]["url"])
}

// TestDLQStorage_ListRespectsLimit covers the limit parameter.
func TestDLQStorage_ListRespectsLimit(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	storage := NewDLQStorage(db, arbor.NewLogger())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, storage.Push(ctx, "extraction:dlq", map[string]interface{}{"i": i}))
	}

	items, err := storage.List(ctx, "extraction:dlq", 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
}

// TestDLQStorage_ListEmptyListKey covers an unused list key returning an
// empty (not nil-erroring) result.
func TestDLQStorage_ListEmptyListKey(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	storage := NewDLQStorage(db, arbor.NewLogger())

	items, err := storage.List(context.Background(), "nothing:here", 0)
	require.NoError(t, err)
	require.Empty(t, items)
}
