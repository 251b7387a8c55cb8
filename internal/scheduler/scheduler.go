// Package scheduler runs a single dedicated run loop: pick the next batch,
// mark it Processing, hand it to the processor, commit the outcome, and
// loop, with a cooperative "must-stop" flag the processor checks at its
// own checkpoints so a shutdown or an in-flight TaskCancel can preempt a
// long indexing run without losing already-committed state.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gcbaptista/go-search-engine/internal/autobatch"
	"github.com/gcbaptista/go-search-engine/internal/batchstore"
	"github.com/gcbaptista/go-search-engine/internal/taskqueue"
	"github.com/gcbaptista/go-search-engine/model"
	"github.com/rs/zerolog"
)

// TaskOutcome is what the processor reports for one task once a batch
// finishes running.
type TaskOutcome struct {
	Status  model.TaskStatus // TaskSucceeded, TaskFailed, or TaskCanceled
	Error   *model.TaskError
	Details model.TaskDetails
	// CanceledBy is set when Status is TaskCanceled because a TaskCancel
	// task targeted this task while it was still Processing; the scheduler
	// fills this in itself (cancelWatch), not the processor.
	CanceledBy *uint32
}

// Processor applies one batch of tasks. mustStop reports, at whatever
// checkpoints the processor's own indexing loop defines, whether the
// scheduler wants this batch torn down cooperatively. A non-nil returned
// error is always a fatal, batch-wide error; per-task failures are reported through the returned map
// instead.
type Processor interface {
	Process(ctx context.Context, mustStop func() bool, batch model.Batch, tasks []model.Task) (map[uint32]TaskOutcome, error)
}

// RequiresReindexFunc answers, for one index, whether a pending
// SettingsUpdate would force a reindex, wired to
// config.IndexSettings.RequiresReindex by the caller that knows the
// index's current and pending settings.
type RequiresReindexFunc func(indexUID string) bool

// CleanupPolicy bounds the auto-delete sweep the scheduler runs against the
// task queue after every batch commit.
type CleanupPolicy struct {
	MaxTasks               int
	DeleteBatchSize        int
	MinimumDeleteToProceed int
}

// ContentDeleter removes a task's referenced update-file payload once that
// task reaches a terminal state and no other task still references it,
// wired to engine.UpdateFiles.Delete. A nil ContentDeleter (the default)
// leaves update files in place, e.g. for tests that don't care about disk
// cleanup.
type ContentDeleter interface {
	Delete(uuid string) error
}

const (
	maxBatchAttempts   = 5
	pollInterval       = 50 * time.Millisecond
	initialBackoff     = 100 * time.Millisecond
	maxBackoff         = 5 * time.Second
	// cancelWatchInterval is how often the cancel watcher re-polls the
	// queue for a TaskCancel targeting the batch currently Processing; it
	// runs faster than pollInterval since it's the only thing standing
	// between a cancel request and an in-flight batch noticing it.
	cancelWatchInterval = 20 * time.Millisecond
)

// Scheduler owns the write path for one engine instance: exactly one
// goroutine ever calls taskqueue.Queue.Transition / batchstore.Store.Create
// for mutation purposes, keeping a single-writer model.
type Scheduler struct {
	queue      *taskqueue.Queue
	batches    *batchstore.Store
	processor  Processor
	requiresReindex RequiresReindexFunc
	cleanup    CleanupPolicy
	content    ContentDeleter
	log        zerolog.Logger

	wake     chan struct{}
	stop     chan struct{}
	wg       sync.WaitGroup
	stopping atomic.Bool

	// cancelRequested is set by the cancel watcher when a newly registered
	// TaskCancel targets a task in the batch currently Processing; mustStop
	// consults it the same way it consults stopping, so the indexer's
	// existing checkpoints unwind the batch without waiting for it to
	// finish on its own.
	cancelRequested atomic.Bool

	mu       sync.Mutex
	attempts map[uint32]int // keyed by the batch's seed task id
}

// New constructs a Scheduler. Call Start to begin running the loop.
func New(queue *taskqueue.Queue, batches *batchstore.Store, processor Processor, requiresReindex RequiresReindexFunc, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		queue:           queue,
		batches:         batches,
		processor:       processor,
		requiresReindex: requiresReindex,
		cleanup:         CleanupPolicy{MaxTasks: 1_000_000, DeleteBatchSize: 100_000, MinimumDeleteToProceed: 2},
		log:             log.With().Str("component", "scheduler").Logger(),
		wake:            make(chan struct{}, 1),
		stop:            make(chan struct{}),
		attempts:        make(map[uint32]int),
	}
}

// WithCleanupPolicy overrides the default auto-delete bounds (1,000,000
// max tasks, 100,000 per sweep, minimum 2 to proceed). Call before Start.
func (s *Scheduler) WithCleanupPolicy(policy CleanupPolicy) *Scheduler {
	s.cleanup = policy
	return s
}

// WithContentDeleter wires the update-file store so finishBatch can delete
// a task's payload once it lands in a terminal state. Call before Start.
func (s *Scheduler) WithContentDeleter(deleter ContentDeleter) *Scheduler {
	s.content = deleter
	return s
}

// Start begins the run loop in a background goroutine.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop signals the run loop to exit after its current batch finishes and
// waits for it to do so.
func (s *Scheduler) Stop() {
	s.stopping.Store(true)
	close(s.stop)
	s.wg.Wait()
}

// mustStop reports whether a shutdown is in progress or the batch currently
// running has had one of its tasks targeted by a TaskCancel, passed into
// the processor as the cooperative cancellation checkpoint.
func (s *Scheduler) mustStop() bool {
	return s.stopping.Load() || s.cancelRequested.Load()
}

// cancelWatch tracks, for one in-flight batch, which of its tasks a
// TaskCancel has targeted and by whom. Polling runs in its own goroutine so
// a cancel registered while runOnce is blocked inside processor.Process can
// still flip mustStop before that call returns on its own.
type cancelWatch struct {
	stop chan struct{}
	done chan struct{}

	mu       sync.Mutex
	canceled map[uint32]uint32 // target task id -> canceling task id
}

// beginCancelWatch starts watching for TaskCancel tasks targeting any of
// tasks, resetting cancelRequested for the new batch.
func (s *Scheduler) beginCancelWatch(tasks []model.Task) *cancelWatch {
	targets := make(map[uint32]bool, len(tasks))
	for _, t := range tasks {
		targets[t.ID] = true
	}
	s.cancelRequested.Store(false)
	w := &cancelWatch{stop: make(chan struct{}), done: make(chan struct{}), canceled: make(map[uint32]uint32)}
	go s.runCancelWatch(w, targets)
	return w
}

func (s *Scheduler) runCancelWatch(w *cancelWatch, targets map[uint32]bool) {
	defer close(w.done)
	ticker := time.NewTicker(cancelWatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
		}
		cancels, err := s.queue.Matching(model.TasksQuery{
			Statuses: []model.TaskStatus{model.TaskEnqueued},
			Kinds:    []model.TaskKind{model.KindTaskCancel},
		})
		if err != nil {
			continue
		}
		newlyFound := false
		w.mu.Lock()
		for _, c := range cancels {
			for _, id := range c.TargetTaskIDs {
				if !targets[id] {
					continue
				}
				if _, already := w.canceled[id]; already {
					continue
				}
				w.canceled[id] = c.ID
				newlyFound = true
			}
		}
		w.mu.Unlock()
		if newlyFound {
			s.cancelRequested.Store(true)
		}
	}
}

// endCancelWatch stops the watcher, clears cancelRequested so the next
// batch starts unaffected, and returns whatever it found.
func (s *Scheduler) endCancelWatch(w *cancelWatch) map[uint32]uint32 {
	close(w.stop)
	<-w.done
	s.cancelRequested.Store(false)
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.canceled
}

// Wake nudges the scheduler to re-check for work immediately instead of
// waiting for the next poll tick, called by register() after committing a
// new task.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		case <-s.wake:
		}

		for s.runOnce() {
			if s.mustStop() {
				break
			}
		}
	}
}

// runOnce forms and runs at most one batch. It returns true if a batch was
// found and run, so the caller can immediately look for more work instead
// of waiting out a full poll interval.
func (s *Scheduler) runOnce() bool {
	candidates, err := s.queue.EnqueuedIDsWithTasks()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list enqueued tasks")
		return false
	}
	if len(candidates) == 0 {
		return false
	}

	sel := autobatch.Next(candidates, s.requiresReindex)
	if len(sel.TaskIDs) == 0 {
		return false
	}

	tasks := make([]model.Task, 0, len(sel.TaskIDs))
	for _, id := range sel.TaskIDs {
		t, err := s.queue.Get(id)
		if err != nil {
			s.log.Error().Err(err).Uint32("task", id).Msg("selected task vanished before processing")
			return true
		}
		tasks = append(tasks, t)
	}

	batch, err := s.beginBatch(tasks, sel.StopReason)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to begin batch")
		return true
	}

	watch := s.beginCancelWatch(tasks)
	ctx := context.Background()
	outcomes, procErr := s.processor.Process(ctx, s.mustStop, batch, tasks)
	canceled := s.endCancelWatch(watch)

	if procErr != nil {
		s.handleFatalBatchError(batch, tasks, procErr)
		return true
	}

	for id, by := range canceled {
		canceledBy := by
		outcomes[id] = TaskOutcome{Status: model.TaskCanceled, CanceledBy: &canceledBy}
	}

	s.finishBatch(batch, tasks, outcomes)
	return true
}

func (s *Scheduler) beginBatch(tasks []model.Task, stopReason string) (model.Batch, error) {
	now := time.Now()
	ids := make([]uint32, len(tasks))
	kinds := make([]model.TaskKind, 0, len(tasks))
	indexUIDs := make([]string, 0, 1)
	seenIndex := map[string]bool{}
	for i, t := range tasks {
		ids[i] = t.ID
		kinds = append(kinds, t.Kind)
		if t.IndexUID != "" && !seenIndex[t.IndexUID] {
			seenIndex[t.IndexUID] = true
			indexUIDs = append(indexUIDs, t.IndexUID)
		}
	}

	batch, err := s.batches.Create(model.Batch{
		TaskIDs:    ids,
		StartedAt:  &now,
		Kinds:      kinds,
		IndexUIDs:  indexUIDs,
		StopReason: stopReason,
	})
	if err != nil {
		return model.Batch{}, err
	}

	for _, t := range tasks {
		if _, err := s.queue.Transition(t.ID, func(task *model.Task) {
			task.Status = model.TaskProcessing
			started := now
			task.StartedAt = &started
			uid := batch.UID
			task.BatchUID = &uid
		}); err != nil {
			return batch, err
		}
	}
	return batch, nil
}

func (s *Scheduler) finishBatch(batch model.Batch, tasks []model.Task, outcomes map[uint32]TaskOutcome) {
	now := time.Now()
	for _, t := range tasks {
		outcome, ok := outcomes[t.ID]
		if !ok {
			outcome = TaskOutcome{Status: model.TaskFailed, Error: &model.TaskError{
				Code: "internal", Message: "processor returned no outcome for task", Type: "fatal",
			}}
		}
		if _, err := s.queue.Transition(t.ID, func(task *model.Task) {
			task.Status = outcome.Status
			finished := now
			task.FinishedAt = &finished
			task.Error = outcome.Error
			task.Details = outcome.Details
			if outcome.CanceledBy != nil {
				task.CanceledBy = outcome.CanceledBy
			}
		}); err != nil {
			s.log.Error().Err(err).Uint32("task", t.ID).Msg("failed to commit task outcome")
		}
		if t.ContentUUID != nil && s.content != nil {
			if err := s.content.Delete(*t.ContentUUID); err != nil {
				s.log.Error().Err(err).Uint32("task", t.ID).Msg("failed to delete update file for finished task")
			}
		}
	}
	batch.FinishedAt = &now
	if err := s.batches.Update(batch); err != nil {
		s.log.Error().Err(err).Uint32("batch", batch.UID).Msg("failed to commit batch completion")
	}

	s.mu.Lock()
	delete(s.attempts, batch.TaskIDs[0])
	s.mu.Unlock()

	if err := s.queue.Cleanup(s.cleanup.MaxTasks, s.cleanup.DeleteBatchSize, s.cleanup.MinimumDeleteToProceed, func(format string, args ...interface{}) {
		s.log.Info().Msgf(format, args...)
	}); err != nil {
		s.log.Error().Err(err).Msg("task queue cleanup failed")
	}
}

// handleFatalBatchError implements the fatal-error path: the batch's tasks
// return to Enqueued (started-at cleared, batch record deleted) and the
// scheduler retries after a backoff, promoting to Failed with an Internal
// error after maxBatchAttempts (in which case the batch record is kept,
// finished, as a diagnostic trail of the exhausted attempt).
func (s *Scheduler) handleFatalBatchError(batch model.Batch, tasks []model.Task, procErr error) {
	seed := batch.TaskIDs[0]

	s.mu.Lock()
	s.attempts[seed]++
	attempt := s.attempts[seed]
	s.mu.Unlock()

	s.log.Warn().Err(procErr).Uint32("batch", batch.UID).Int("attempt", attempt).Msg("batch failed with a fatal error")

	if attempt >= maxBatchAttempts {
		now := time.Now()
		for _, t := range tasks {
			s.queue.Transition(t.ID, func(task *model.Task) {
				task.Status = model.TaskFailed
				task.FinishedAt = &now
				task.Error = &model.TaskError{
					Code: "internal", Message: procErr.Error(), Type: "fatal",
				}
			})
		}
		batch.FinishedAt = &now
		batch.StopReason = "exhausted retry attempts"
		s.batches.Update(batch)

		s.mu.Lock()
		delete(s.attempts, seed)
		s.mu.Unlock()
		return
	}

	for _, t := range tasks {
		s.queue.Transition(t.ID, func(task *model.Task) {
			task.Status = model.TaskEnqueued
			task.StartedAt = nil
			task.BatchUID = nil
		})
	}
	if err := s.batches.Delete(batch.UID); err != nil {
		s.log.Error().Err(err).Uint32("batch", batch.UID).Msg("failed to delete aborted batch record")
	}

	backoff := initialBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	time.Sleep(backoff)
}
