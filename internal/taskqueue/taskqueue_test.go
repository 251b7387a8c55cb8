package taskqueue

import (
	"path/filepath"
	"testing"

	searchErrors "github.com/gcbaptista/go-search-engine/internal/errors"
	"github.com/gcbaptista/go-search-engine/model"
	"github.com/stretchr/testify/require"
)

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := Open(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestRegisterAssignsIncrementingIDs(t *testing.T) {
	q := openTestQueue(t)

	first, err := q.Register(model.Task{Kind: model.KindDocumentAdd, IndexUID: "movies"})
	require.NoError(t, err)
	second, err := q.Register(model.Task{Kind: model.KindDocumentAdd, IndexUID: "movies"})
	require.NoError(t, err)

	require.Equal(t, uint32(0), first.ID)
	require.Equal(t, uint32(1), second.ID)
	require.Equal(t, model.TaskEnqueued, first.Status)
}

func TestRegisterRejectsBadExplicitID(t *testing.T) {
	q := openTestQueue(t)
	_, err := q.Register(model.Task{Kind: model.KindDocumentAdd})
	require.NoError(t, err)
	_, err = q.Register(model.Task{Kind: model.KindDocumentAdd})
	require.NoError(t, err)

	_, err = q.Register(model.Task{ID: 1, Kind: model.KindDocumentAdd})
	require.Error(t, err)
	var badID *searchErrors.BadTaskIDError
	require.ErrorAs(t, err, &badID)
}

func TestGetUnknownTaskReturnsNotFound(t *testing.T) {
	q := openTestQueue(t)
	_, err := q.Get(999)
	require.ErrorIs(t, err, searchErrors.ErrTaskNotFound)
}

func TestTransitionUpdatesStatusIndex(t *testing.T) {
	q := openTestQueue(t)
	task, err := q.Register(model.Task{Kind: model.KindDocumentAdd, IndexUID: "movies"})
	require.NoError(t, err)

	_, err = q.Transition(task.ID, func(t *model.Task) { t.Status = model.TaskProcessing })
	require.NoError(t, err)

	enqueued, err := q.Matching(model.TasksQuery{Statuses: []model.TaskStatus{model.TaskEnqueued}})
	require.NoError(t, err)
	require.Empty(t, enqueued)

	processing, err := q.Matching(model.TasksQuery{Statuses: []model.TaskStatus{model.TaskProcessing}})
	require.NoError(t, err)
	require.Len(t, processing, 1)
	require.Equal(t, task.ID, processing[0].ID)
}

func TestMatchingFiltersByIndexAndKind(t *testing.T) {
	q := openTestQueue(t)
	_, err := q.Register(model.Task{Kind: model.KindDocumentAdd, IndexUID: "movies"})
	require.NoError(t, err)
	_, err = q.Register(model.Task{Kind: model.KindIndexDelete, IndexUID: "books"})
	require.NoError(t, err)

	results, err := q.Matching(model.TasksQuery{IndexUIDs: []string{"movies"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, model.KindDocumentAdd, results[0].Kind)

	results, err = q.Matching(model.TasksQuery{Kinds: []model.TaskKind{model.KindIndexDelete}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "books", results[0].IndexUID)
}

func TestCancelTasksOnlyAffectsEnqueued(t *testing.T) {
	q := openTestQueue(t)
	enqueued, err := q.Register(model.Task{Kind: model.KindDocumentAdd, IndexUID: "movies"})
	require.NoError(t, err)
	processing, err := q.Register(model.Task{Kind: model.KindDocumentAdd, IndexUID: "movies"})
	require.NoError(t, err)
	_, err = q.Transition(processing.ID, func(t *model.Task) { t.Status = model.TaskProcessing })
	require.NoError(t, err)

	canceled, err := q.CancelTasks([]uint32{enqueued.ID, processing.ID}, 99)
	require.NoError(t, err)
	require.Equal(t, []uint32{enqueued.ID}, canceled)

	got, err := q.Get(enqueued.ID)
	require.NoError(t, err)
	require.Equal(t, model.TaskCanceled, got.Status)
	require.NotNil(t, got.CanceledBy)
	require.Equal(t, uint32(99), *got.CanceledBy)

	stillProcessing, err := q.Get(processing.ID)
	require.NoError(t, err)
	require.Equal(t, model.TaskProcessing, stillProcessing.Status)
}

func TestDeleteTasksOnlySucceedsForTerminalTasks(t *testing.T) {
	q := openTestQueue(t)
	enqueued, err := q.Register(model.Task{Kind: model.KindDocumentAdd, IndexUID: "movies"})
	require.NoError(t, err)
	finished, err := q.Register(model.Task{Kind: model.KindDocumentAdd, IndexUID: "movies"})
	require.NoError(t, err)
	_, err = q.Transition(finished.ID, func(t *model.Task) { t.Status = model.TaskSucceeded })
	require.NoError(t, err)

	deleted, err := q.DeleteTasks([]uint32{enqueued.ID, finished.ID})
	require.NoError(t, err)
	require.Equal(t, []uint32{finished.ID}, deleted)

	_, err = q.Get(enqueued.ID)
	require.NoError(t, err, "still-enqueued task must survive a delete request")

	_, err = q.Get(finished.ID)
	require.ErrorIs(t, err, searchErrors.ErrTaskNotFound)
}

func TestCleanupNoopsBelowMaxTasks(t *testing.T) {
	q := openTestQueue(t)
	task, err := q.Register(model.Task{Kind: model.KindDocumentAdd})
	require.NoError(t, err)
	_, err = q.Transition(task.ID, func(t *model.Task) { t.Status = model.TaskSucceeded })
	require.NoError(t, err)

	require.NoError(t, q.Cleanup(10, 5, 2, nil))

	count, err := q.Count()
	require.NoError(t, err)
	require.Equal(t, 1, count, "cleanup below maxTasks must not register a delete task")
}

func TestCleanupSkipsBelowMinimumToProceed(t *testing.T) {
	q := openTestQueue(t)
	task, err := q.Register(model.Task{Kind: model.KindDocumentAdd})
	require.NoError(t, err)
	_, err = q.Transition(task.ID, func(t *model.Task) { t.Status = model.TaskSucceeded })
	require.NoError(t, err)

	var logged string
	require.NoError(t, q.Cleanup(1, 5, 2, func(format string, args ...interface{}) { logged = format }))

	count, err := q.Count()
	require.NoError(t, err)
	require.Equal(t, 1, count, "one eligible task is below minDeleteToProceed=2, so nothing is registered")
	require.NotEmpty(t, logged)
}

func TestCleanupRegistersAutoDeleteForOldestFinished(t *testing.T) {
	q := openTestQueue(t)
	var ids []uint32
	for i := 0; i < 5; i++ {
		task, err := q.Register(model.Task{Kind: model.KindDocumentAdd})
		require.NoError(t, err)
		_, err = q.Transition(task.ID, func(t *model.Task) { t.Status = model.TaskSucceeded })
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}
	// one still-enqueued task must never be targeted by cleanup.
	live, err := q.Register(model.Task{Kind: model.KindDocumentAdd})
	require.NoError(t, err)

	require.NoError(t, q.Cleanup(5, 3, 2, nil))

	deleteTasks, err := q.Matching(model.TasksQuery{Kinds: []model.TaskKind{model.KindTaskDelete}})
	require.NoError(t, err)
	require.Len(t, deleteTasks, 1)
	require.Len(t, deleteTasks[0].TargetTaskIDs, 3, "deleteBatchSize bounds the sweep to the 3 oldest finished tasks")
	require.Subset(t, ids, deleteTasks[0].TargetTaskIDs)
	require.NotContains(t, deleteTasks[0].TargetTaskIDs, live.ID)
}

func TestEnqueuedIDsOnlyReturnsEnqueued(t *testing.T) {
	q := openTestQueue(t)
	a, err := q.Register(model.Task{Kind: model.KindDocumentAdd})
	require.NoError(t, err)
	b, err := q.Register(model.Task{Kind: model.KindDocumentAdd})
	require.NoError(t, err)
	_, err = q.Transition(b.ID, func(t *model.Task) { t.Status = model.TaskProcessing })
	require.NoError(t, err)

	ids, err := q.EnqueuedIDs()
	require.NoError(t, err)
	require.Equal(t, []uint32{a.ID}, ids)
}

func TestMatchingFiltersByCanceledByAndBatchUID(t *testing.T) {
	q := openTestQueue(t)
	target, err := q.Register(model.Task{Kind: model.KindDocumentAdd, IndexUID: "movies"})
	require.NoError(t, err)
	other, err := q.Register(model.Task{Kind: model.KindDocumentAdd, IndexUID: "movies"})
	require.NoError(t, err)

	canceled, err := q.CancelTasks([]uint32{target.ID}, 42)
	require.NoError(t, err)
	require.Equal(t, []uint32{target.ID}, canceled)

	batchUID := uint32(7)
	_, err = q.Transition(other.ID, func(t *model.Task) { t.BatchUID = &batchUID })
	require.NoError(t, err)

	byCanceler, err := q.Matching(model.TasksQuery{CanceledBy: []uint32{42}})
	require.NoError(t, err)
	require.Len(t, byCanceler, 1)
	require.Equal(t, target.ID, byCanceler[0].ID)

	byBatch, err := q.Matching(model.TasksQuery{BatchUIDs: []uint32{batchUID}})
	require.NoError(t, err)
	require.Len(t, byBatch, 1)
	require.Equal(t, other.ID, byBatch[0].ID)
}

func TestMatchingHonorsFromAndReverse(t *testing.T) {
	q := openTestQueue(t)
	for i := 0; i < 4; i++ {
		_, err := q.Register(model.Task{Kind: model.KindDocumentAdd})
		require.NoError(t, err)
	}

	from := uint32(2)
	forward, err := q.Matching(model.TasksQuery{From: &from})
	require.NoError(t, err)
	require.Len(t, forward, 2, "forward iteration treats from as an inclusive lower bound")
	require.Equal(t, uint32(2), forward[0].ID)

	reversed, err := q.Matching(model.TasksQuery{From: &from, Reverse: true})
	require.NoError(t, err)
	require.Len(t, reversed, 2, "reverse iteration treats from as an exclusive upper bound")
	require.Equal(t, uint32(1), reversed[0].ID)
	require.Equal(t, uint32(0), reversed[1].ID)
}

func TestDeleteTasksPrunesEverySecondaryIndex(t *testing.T) {
	q := openTestQueue(t)
	task, err := q.Register(model.Task{Kind: model.KindDocumentAdd, IndexUID: "movies"})
	require.NoError(t, err)
	canceled, err := q.CancelTasks([]uint32{task.ID}, 42)
	require.NoError(t, err)
	require.Equal(t, []uint32{task.ID}, canceled)

	deleted, err := q.DeleteTasks([]uint32{task.ID})
	require.NoError(t, err)
	require.Equal(t, []uint32{task.ID}, deleted)

	for name, query := range map[string]model.TasksQuery{
		"status":      {Statuses: []model.TaskStatus{model.TaskCanceled}},
		"kind":        {Kinds: []model.TaskKind{model.KindDocumentAdd}},
		"index":       {IndexUIDs: []string{"movies"}},
		"canceled-by": {CanceledBy: []uint32{42}},
	} {
		matches, err := q.Matching(query)
		require.NoError(t, err)
		require.Empty(t, matches, "deleted task must vanish from the %s index", name)
	}
}

func TestRegisterDryRunLeavesNoTrace(t *testing.T) {
	q := openTestQueue(t)
	_, err := q.Register(model.Task{Kind: model.KindDocumentAdd})
	require.NoError(t, err)

	preview, err := q.RegisterDryRun(model.Task{Kind: model.KindSettingsUpdate, IndexUID: "movies"})
	require.NoError(t, err)
	require.Equal(t, uint32(1), preview.ID, "dry run reports the id the task would get")
	require.Equal(t, model.TaskEnqueued, preview.Status)

	count, err := q.Count()
	require.NoError(t, err)
	require.Equal(t, 1, count, "dry run must not persist anything")

	real, err := q.Register(model.Task{Kind: model.KindSettingsUpdate, IndexUID: "movies"})
	require.NoError(t, err)
	require.Equal(t, uint32(1), real.ID, "next id was not consumed by the dry run")
}
