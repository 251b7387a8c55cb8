package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	domainErrors "github.com/gcbaptista/go-search-engine/internal/errors"

	"github.com/gcbaptista/go-search-engine/internal/batchstore"
	"github.com/gcbaptista/go-search-engine/internal/taskqueue"
	"github.com/gcbaptista/go-search-engine/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type stubProcessor struct {
	onProcess func(tasks []model.Task) (map[uint32]TaskOutcome, error)
}

func (p *stubProcessor) Process(_ context.Context, _ func() bool, _ model.Batch, tasks []model.Task) (map[uint32]TaskOutcome, error) {
	return p.onProcess(tasks)
}

func newTestHarness(t *testing.T, proc Processor) (*Scheduler, *taskqueue.Queue) {
	t.Helper()
	dir := t.TempDir()
	q, err := taskqueue.Open(filepath.Join(dir, "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	b, err := batchstore.Open(filepath.Join(dir, "batches.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	s := New(q, b, proc, func(string) bool { return false }, zerolog.Nop())
	s.WithCleanupPolicy(CleanupPolicy{MaxTasks: 1_000_000, DeleteBatchSize: 100_000, MinimumDeleteToProceed: 2})
	return s, q
}

type stubContentDeleter struct {
	deleted []string
}

func (d *stubContentDeleter) Delete(uuid string) error {
	d.deleted = append(d.deleted, uuid)
	return nil
}

func TestFinishBatchDeletesUpdateFileForTerminalTask(t *testing.T) {
	proc := &stubProcessor{onProcess: func(tasks []model.Task) (map[uint32]TaskOutcome, error) {
		outcomes := make(map[uint32]TaskOutcome)
		for _, t := range tasks {
			outcomes[t.ID] = TaskOutcome{Status: model.TaskSucceeded}
		}
		return outcomes, nil
	}}
	s, q := newTestHarness(t, proc)
	deleter := &stubContentDeleter{}
	s.WithContentDeleter(deleter)

	contentUUID := "deadbeef"
	_, err := q.Register(model.Task{Kind: model.KindDocumentAdd, IndexUID: "movies", ContentUUID: &contentUUID})
	require.NoError(t, err)

	require.True(t, s.runOnce())
	require.Equal(t, []string{contentUUID}, deleter.deleted)
}

func TestRunOnceProcessesSingleBatch(t *testing.T) {
	processed := make(chan []model.Task, 1)
	proc := &stubProcessor{onProcess: func(tasks []model.Task) (map[uint32]TaskOutcome, error) {
		processed <- tasks
		outcomes := make(map[uint32]TaskOutcome)
		for _, t := range tasks {
			outcomes[t.ID] = TaskOutcome{Status: model.TaskSucceeded}
		}
		return outcomes, nil
	}}

	s, q := newTestHarness(t, proc)
	task, err := q.Register(model.Task{Kind: model.KindDocumentAdd, IndexUID: "movies"})
	require.NoError(t, err)

	ran := s.runOnce()
	require.True(t, ran)

	select {
	case tasks := <-processed:
		require.Len(t, tasks, 1)
		require.Equal(t, task.ID, tasks[0].ID)
	case <-time.After(time.Second):
		t.Fatal("processor was not invoked")
	}

	got, err := q.Get(task.ID)
	require.NoError(t, err)
	require.Equal(t, model.TaskSucceeded, got.Status)
	require.NotNil(t, got.FinishedAt)
}

func TestRunOnceReturnsFalseWhenQueueEmpty(t *testing.T) {
	proc := &stubProcessor{onProcess: func(tasks []model.Task) (map[uint32]TaskOutcome, error) {
		t.Fatal("processor should not run with no enqueued tasks")
		return nil, nil
	}}
	s, _ := newTestHarness(t, proc)
	require.False(t, s.runOnce())
}

func TestFatalErrorReturnsTaskToEnqueued(t *testing.T) {
	proc := &stubProcessor{onProcess: func(tasks []model.Task) (map[uint32]TaskOutcome, error) {
		return nil, domainErrors.ErrStoreBusy
	}}
	s, q := newTestHarness(t, proc)
	task, err := q.Register(model.Task{Kind: model.KindDocumentAdd, IndexUID: "movies"})
	require.NoError(t, err)

	require.True(t, s.runOnce())

	got, err := q.Get(task.ID)
	require.NoError(t, err)
	require.Equal(t, model.TaskEnqueued, got.Status)
	require.Nil(t, got.StartedAt)
}

func TestFatalErrorEscalatesToFailedAfterMaxAttempts(t *testing.T) {
	proc := &stubProcessor{onProcess: func(tasks []model.Task) (map[uint32]TaskOutcome, error) {
		return nil, errors.New("disk on fire")
	}}
	s, q := newTestHarness(t, proc)
	_, err := q.Register(model.Task{Kind: model.KindDocumentAdd, IndexUID: "movies"})
	require.NoError(t, err)

	for i := 0; i < maxBatchAttempts; i++ {
		require.True(t, s.runOnce())
	}

	tasks, err := q.Matching(model.TasksQuery{Statuses: []model.TaskStatus{model.TaskFailed}})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}

func TestFatalErrorDeletesBatchRecord(t *testing.T) {
	proc := &stubProcessor{onProcess: func(tasks []model.Task) (map[uint32]TaskOutcome, error) {
		return nil, domainErrors.ErrStoreBusy
	}}
	s, q := newTestHarness(t, proc)
	_, err := q.Register(model.Task{Kind: model.KindDocumentAdd, IndexUID: "movies"})
	require.NoError(t, err)

	require.True(t, s.runOnce())

	batches, err := s.batches.List()
	require.NoError(t, err)
	require.Empty(t, batches)
}

func TestCancelInFlightStopsBatchAndMarksTaskCanceled(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	proc := &stubProcessor{onProcess: func(tasks []model.Task) (map[uint32]TaskOutcome, error) {
		close(started)
		<-release
		outcomes := make(map[uint32]TaskOutcome)
		for _, t := range tasks {
			outcomes[t.ID] = TaskOutcome{Status: model.TaskSucceeded}
		}
		return outcomes, nil
	}}
	s, q := newTestHarness(t, proc)

	addTask, err := q.Register(model.Task{Kind: model.KindDocumentAdd, IndexUID: "movies"})
	require.NoError(t, err)

	done := make(chan bool, 1)
	go func() { done <- s.runOnce() }()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("processor never started")
	}

	cancelTask, err := q.Register(model.Task{Kind: model.KindTaskCancel, TargetTaskIDs: []uint32{addTask.ID}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.cancelRequested.Load()
	}, time.Second, 5*time.Millisecond, "cancel watcher never flipped mustStop")

	close(release)

	select {
	case ran := <-done:
		require.True(t, ran)
	case <-time.After(time.Second):
		t.Fatal("runOnce never returned")
	}

	got, err := q.Get(addTask.ID)
	require.NoError(t, err)
	require.Equal(t, model.TaskCanceled, got.Status)
	require.NotNil(t, got.CanceledBy)
	require.Equal(t, cancelTask.ID, *got.CanceledBy)
}

func TestPartialFailureDoesNotPoisonOtherTasksInBatch(t *testing.T) {
	proc := &stubProcessor{onProcess: func(tasks []model.Task) (map[uint32]TaskOutcome, error) {
		outcomes := make(map[uint32]TaskOutcome)
		for i, task := range tasks {
			if i == 0 {
				outcomes[task.ID] = TaskOutcome{Status: model.TaskFailed, Error: &model.TaskError{Message: "bad record"}}
			} else {
				outcomes[task.ID] = TaskOutcome{Status: model.TaskSucceeded}
			}
		}
		return outcomes, nil
	}}
	s, q := newTestHarness(t, proc)
	first, err := q.Register(model.Task{Kind: model.KindDocumentAdd, IndexUID: "movies"})
	require.NoError(t, err)
	second, err := q.Register(model.Task{Kind: model.KindDocumentAdd, IndexUID: "movies"})
	require.NoError(t, err)

	require.True(t, s.runOnce())

	gotFirst, err := q.Get(first.ID)
	require.NoError(t, err)
	require.Equal(t, model.TaskFailed, gotFirst.Status)

	gotSecond, err := q.Get(second.ID)
	require.NoError(t, err)
	require.Equal(t, model.TaskSucceeded, gotSecond.Status)
}
