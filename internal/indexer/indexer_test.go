package indexer

import (
	"path/filepath"
	"testing"

	"github.com/gcbaptista/go-search-engine/config"
	"github.com/gcbaptista/go-search-engine/internal/kv"
	"github.com/gcbaptista/go-search-engine/model"
	"github.com/gcbaptista/go-search-engine/store"
	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T) *store.Index {
	t.Helper()
	idx, err := store.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func movieSettings() *config.IndexSettings {
	settings := config.DefaultIndexSettings("movies")
	settings.SearchableFields = []string{"title", "overview"}
	settings.FilterableFields = []string{"year", "genre"}
	return &settings
}

func TestAddDocumentsInfersPrimaryKeyAndIndexes(t *testing.T) {
	idx := openTestIndex(t)
	settings := movieSettings()

	docs := []model.Document{
		{"id": "matrix", "title": "The Matrix", "overview": "A hacker discovers reality", "year": float64(1999), "genre": "Action"},
		{"id": "inception", "title": "Inception", "overview": "A thief steals secrets", "year": float64(2010), "genre": "Action"},
	}

	report, err := AddDocuments(idx, settings, docs, 2, func() bool { return false })
	require.NoError(t, err)
	require.Equal(t, "id", report.PrimaryKey)
	require.Equal(t, 2, report.IndexedCount)
	require.Empty(t, report.FailedRecords)

	require.NoError(t, idx.View(func(tx *kv.Tx) error {
		pk, ok := store.GetPrimaryKey(tx)
		require.True(t, ok)
		require.Equal(t, "id", pk)

		docID, ok, err := store.ResolveExternalID(tx, "matrix")
		require.NoError(t, err)
		require.True(t, ok)

		got, ok, err := store.GetDocument(tx, docID)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "The Matrix", got["title"])
		return nil
	}))
}

func TestAddDocumentsSkipsRecordsMissingPrimaryKey(t *testing.T) {
	idx := openTestIndex(t)
	settings := movieSettings()

	docs := []model.Document{
		{"id": "matrix", "title": "The Matrix"},
		{"title": "No id here"},
	}

	report, err := AddDocuments(idx, settings, docs, 1, func() bool { return false })
	require.NoError(t, err)
	require.Equal(t, 1, report.IndexedCount)
	require.Len(t, report.FailedRecords, 1)
}

func TestAddDocumentsReplacesExistingDocumentPostings(t *testing.T) {
	idx := openTestIndex(t)
	settings := movieSettings()

	_, err := AddDocuments(idx, settings, []model.Document{
		{"id": "matrix", "title": "The Matrix", "genre": "Action"},
	}, 1, func() bool { return false })
	require.NoError(t, err)

	_, err = AddDocuments(idx, settings, []model.Document{
		{"id": "matrix", "title": "The Matrix Reloaded", "genre": "Sci-Fi"},
	}, 1, func() bool { return false })
	require.NoError(t, err)

	require.NoError(t, idx.View(func(tx *kv.Tx) error {
		docID, ok, err := store.ResolveExternalID(tx, "matrix")
		require.NoError(t, err)
		require.True(t, ok)

		got, ok, err := store.GetDocument(tx, docID)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "The Matrix Reloaded", got["title"])
		return nil
	}))
}

func TestRemoveDocumentsDeletesByExternalID(t *testing.T) {
	idx := openTestIndex(t)
	settings := movieSettings()

	_, err := AddDocuments(idx, settings, []model.Document{
		{"id": "matrix", "title": "The Matrix"},
		{"id": "inception", "title": "Inception"},
	}, 1, func() bool { return false })
	require.NoError(t, err)

	removed, err := RemoveDocuments(idx, []string{"matrix", "does-not-exist"}, func() bool { return false })
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	require.NoError(t, idx.View(func(tx *kv.Tx) error {
		_, ok, err := store.ResolveExternalID(tx, "matrix")
		require.NoError(t, err)
		require.False(t, ok)

		docID, ok, err := store.ResolveExternalID(tx, "inception")
		require.NoError(t, err)
		require.True(t, ok)
		_, ok, err = store.GetDocument(tx, docID)
		require.NoError(t, err)
		require.True(t, ok)
		return nil
	}))
}

func TestAddDocumentsStopsWhenMustStopFires(t *testing.T) {
	idx := openTestIndex(t)
	settings := movieSettings()

	calls := 0
	mustStop := func() bool {
		calls++
		return calls > 1
	}

	docs := make([]model.Document, 0, microBatchSize+5)
	for i := 0; i < microBatchSize+5; i++ {
		docs = append(docs, model.Document{"id": string(rune('a' + i%26)), "title": "doc"})
	}

	report, err := AddDocuments(idx, settings, docs, 2, mustStop)
	require.NoError(t, err)
	require.Less(t, report.IndexedCount, len(docs))
}
