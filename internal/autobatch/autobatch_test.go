package autobatch

import (
	"testing"

	"github.com/gcbaptista/go-search-engine/model"
	"github.com/stretchr/testify/require"
)

func noReindex(string) bool { return false }

func TestMergesConsecutiveDocumentAddsOnSameIndex(t *testing.T) {
	tasks := []model.Task{
		{ID: 1, Kind: model.KindDocumentAdd, IndexUID: "movies"},
		{ID: 2, Kind: model.KindDocumentAdd, IndexUID: "movies"},
		{ID: 3, Kind: model.KindDocumentAdd, IndexUID: "movies"},
	}
	sel := Next(tasks, noReindex)
	require.Equal(t, []uint32{1, 2, 3}, sel.TaskIDs)
}

func TestStopsAtDifferentIndex(t *testing.T) {
	tasks := []model.Task{
		{ID: 1, Kind: model.KindDocumentAdd, IndexUID: "movies"},
		{ID: 2, Kind: model.KindDocumentAdd, IndexUID: "books"},
	}
	sel := Next(tasks, noReindex)
	require.Equal(t, []uint32{1}, sel.TaskIDs)
}

func TestIndexDeleteIsAlwaysSolo(t *testing.T) {
	tasks := []model.Task{
		{ID: 1, Kind: model.KindDocumentAdd, IndexUID: "movies"},
		{ID: 2, Kind: model.KindIndexDelete, IndexUID: "movies"},
	}
	sel := Next(tasks, noReindex)
	// IndexDelete has higher priority, so it's picked as the seed.
	require.Equal(t, []uint32{2}, sel.TaskIDs)
}

func TestTaskCancelIsGlobalSoloAndHighPriority(t *testing.T) {
	tasks := []model.Task{
		{ID: 1, Kind: model.KindDocumentAdd, IndexUID: "movies"},
		{ID: 2, Kind: model.KindTaskCancel},
	}
	sel := Next(tasks, noReindex)
	require.Equal(t, []uint32{2}, sel.TaskIDs)
}

func TestSettingsUpdateBlocksBatchingWhenReindexRequired(t *testing.T) {
	tasks := []model.Task{
		{ID: 1, Kind: model.KindSettingsUpdate, IndexUID: "movies"},
		{ID: 2, Kind: model.KindDocumentAdd, IndexUID: "movies"},
	}
	requiresReindex := func(string) bool { return true }
	sel := Next(tasks, requiresReindex)
	require.Equal(t, []uint32{1}, sel.TaskIDs)
}

func TestSettingsUpdateBatchesWithDocumentAddWhenNoReindexNeeded(t *testing.T) {
	tasks := []model.Task{
		{ID: 1, Kind: model.KindSettingsUpdate, IndexUID: "movies"},
		{ID: 2, Kind: model.KindDocumentAdd, IndexUID: "movies"},
	}
	sel := Next(tasks, noReindex)
	require.Equal(t, []uint32{1, 2}, sel.TaskIDs)
}

func TestDeleteByIdsMergesWithDocumentAdd(t *testing.T) {
	tasks := []model.Task{
		{ID: 1, Kind: model.KindDocumentAdd, IndexUID: "movies"},
		{ID: 2, Kind: model.KindDocumentDeleteByIds, IndexUID: "movies"},
	}
	sel := Next(tasks, noReindex)
	require.Equal(t, []uint32{1, 2}, sel.TaskIDs)
}

func TestEmptyCandidatesYieldsNoBatch(t *testing.T) {
	sel := Next(nil, noReindex)
	require.Empty(t, sel.TaskIDs)
}
