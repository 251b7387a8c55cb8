package batchstore

import (
	"path/filepath"
	"testing"

	"github.com/gcbaptista/go-search-engine/model"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "batches.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAssignsIncrementingUID(t *testing.T) {
	s := openTestStore(t)

	first, err := s.Create(model.Batch{TaskIDs: []uint32{1}})
	require.NoError(t, err)
	second, err := s.Create(model.Batch{TaskIDs: []uint32{2}})
	require.NoError(t, err)

	require.Equal(t, uint32(0), first.UID)
	require.Equal(t, uint32(1), second.UID)
}

func TestUpdatePersistsProgress(t *testing.T) {
	s := openTestStore(t)
	batch, err := s.Create(model.Batch{TaskIDs: []uint32{1, 2}})
	require.NoError(t, err)

	batch.Progress = &model.BatchProgress{Phase: "indexing", Current: 1, Total: 2}
	require.NoError(t, s.Update(batch))

	got, ok, err := s.Get(batch.UID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "indexing", got.Progress.Phase)
}

func TestDeleteRemovesBatchRecord(t *testing.T) {
	s := openTestStore(t)
	batch, err := s.Create(model.Batch{TaskIDs: []uint32{1}})
	require.NoError(t, err)

	require.NoError(t, s.Delete(batch.UID))

	_, ok, err := s.Get(batch.UID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListReturnsAllBatches(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Create(model.Batch{TaskIDs: []uint32{1}})
	require.NoError(t, err)
	_, err = s.Create(model.Batch{TaskIDs: []uint32{2}})
	require.NoError(t, err)

	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestTasksInBatchReadsMapping(t *testing.T) {
	s := openTestStore(t)
	batch, err := s.Create(model.Batch{TaskIDs: []uint32{3, 5, 9}})
	require.NoError(t, err)

	bm, err := s.TasksInBatch(batch.UID)
	require.NoError(t, err)
	require.Equal(t, []uint32{3, 5, 9}, bm.ToArray())
}

func TestMatchingFiltersByKindAndIndex(t *testing.T) {
	s := openTestStore(t)
	docs, err := s.Create(model.Batch{
		TaskIDs:   []uint32{1},
		Kinds:     []model.TaskKind{model.KindDocumentAdd},
		IndexUIDs: []string{"movies"},
	})
	require.NoError(t, err)
	_, err = s.Create(model.Batch{
		TaskIDs:   []uint32{2},
		Kinds:     []model.TaskKind{model.KindSettingsUpdate},
		IndexUIDs: []string{"books"},
	})
	require.NoError(t, err)

	byKind, err := s.Matching(BatchesQuery{Kinds: []model.TaskKind{model.KindDocumentAdd}})
	require.NoError(t, err)
	require.Len(t, byKind, 1)
	require.Equal(t, docs.UID, byKind[0].UID)

	byIndex, err := s.Matching(BatchesQuery{IndexUIDs: []string{"movies"}})
	require.NoError(t, err)
	require.Len(t, byIndex, 1)
	require.Equal(t, docs.UID, byIndex[0].UID)

	both, err := s.Matching(BatchesQuery{
		Kinds:     []model.TaskKind{model.KindDocumentAdd},
		IndexUIDs: []string{"books"},
	})
	require.NoError(t, err)
	require.Empty(t, both, "kind and index filters intersect")
}

func TestDeletePrunesMappingAndIndexes(t *testing.T) {
	s := openTestStore(t)
	batch, err := s.Create(model.Batch{
		TaskIDs:   []uint32{1, 2},
		Kinds:     []model.TaskKind{model.KindDocumentAdd},
		IndexUIDs: []string{"movies"},
	})
	require.NoError(t, err)

	require.NoError(t, s.Delete(batch.UID))

	bm, err := s.TasksInBatch(batch.UID)
	require.NoError(t, err)
	require.True(t, bm.IsEmpty())

	matches, err := s.Matching(BatchesQuery{Kinds: []model.TaskKind{model.KindDocumentAdd}})
	require.NoError(t, err)
	require.Empty(t, matches)
}
