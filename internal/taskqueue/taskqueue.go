// Package taskqueue is the durable task queue: register, fetch, and filter
// tasks; track task ids sorted by status, kind, and index, as roaring
// bitmaps; and hand the scheduler whatever it needs to pick the next
// batch. It is backed by internal/kv instead of an in-process map, so the
// queue survives a restart.
package taskqueue

import (
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/gcbaptista/go-search-engine/internal/errors"
	"github.com/gcbaptista/go-search-engine/internal/kv"
	"github.com/gcbaptista/go-search-engine/model"
)

const (
	bucketTasks         kv.Bucket = "tasks"
	bucketMain          kv.Bucket = "main"
	bucketByStatus      kv.Bucket = "by_status"
	bucketByKind        kv.Bucket = "by_kind"
	bucketByIndexUID    kv.Bucket = "by_index_uid"
	bucketByCanceledBy  kv.Bucket = "by_canceled_by"
	bucketByEnqueuedAt  kv.Bucket = "by_enqueued_at"
	bucketByStartedAt   kv.Bucket = "by_started_at"
	bucketByFinishedAt  kv.Bucket = "by_finished_at"
)

var allBuckets = []kv.Bucket{
	bucketTasks, bucketMain, bucketByStatus, bucketByKind, bucketByIndexUID,
	bucketByCanceledBy, bucketByEnqueuedAt, bucketByStartedAt, bucketByFinishedAt,
}

const mainKeyNextID = "next_task_id"

// storedTask is the on-disk shape of a task. model.Task tags TargetTaskIDs
// and Filter as json:"-" since that same struct is also the public API
// response for a task and neither field is meant to leak there; storedTask
// gives them their own JSON keys (shadowing the embedded, hidden ones) so a
// TaskCancel/TaskDelete's resolved target set survives a restart instead of
// silently reverting to an empty slice on the next Get.
type storedTask struct {
	model.Task
	TargetTaskIDs []uint32          `json:"targetTaskIds,omitempty"`
	Filter        *model.TaskFilter `json:"filter,omitempty"`
}

func encodeTask(task model.Task) ([]byte, error) {
	return kv.EncodeJSON(storedTask{Task: task, TargetTaskIDs: task.TargetTaskIDs, Filter: task.Filter})
}

func decodeTask(raw []byte) (model.Task, error) {
	var st storedTask
	if err := kv.DecodeJSON(raw, &st); err != nil {
		return model.Task{}, err
	}
	task := st.Task
	task.TargetTaskIDs = st.TargetTaskIDs
	task.Filter = st.Filter
	return task, nil
}

// Queue is the durable, persisted task queue for one engine instance.
type Queue struct {
	env *kv.Env
}

// Open opens (creating if absent) the queue's backing store.
func Open(path string) (*Queue, error) {
	env, err := kv.Open(path)
	if err != nil {
		return nil, fmt.Errorf("taskqueue: open: %w", err)
	}
	if err := env.CreateBucketsIfNotExist(allBuckets...); err != nil {
		env.Close()
		return nil, fmt.Errorf("taskqueue: initialize buckets: %w", err)
	}
	return &Queue{env: env}, nil
}

// Close releases the underlying file.
func (q *Queue) Close() error { return q.env.Close() }

// Register assigns the next task id, persists the task as Enqueued, and
// updates every secondary index, all in one write transaction. The
// "at most one register() in flight" invariant is bbolt's own
// single-writer guarantee, not anything this package adds on top.
func (q *Queue) Register(task model.Task) (model.Task, error) {
	err := q.env.Update(func(tx *kv.WriteTx) error {
		main, err := tx.Bucket(bucketMain)
		if err != nil {
			return err
		}
		var nextID uint32
		if raw := main.Get([]byte(mainKeyNextID)); raw != nil {
			nextID, err = kv.DecodeUint32(raw)
			if err != nil {
				return err
			}
		}

		if task.ID != 0 {
			if task.ID < nextID {
				return errors.NewBadTaskIDError(task.ID, nextID)
			}
			nextID = task.ID
		} else {
			task.ID = nextID
		}
		task.Status = model.TaskEnqueued
		if task.EnqueuedAt.IsZero() {
			task.EnqueuedAt = time.Now()
		}

		if err := main.Put([]byte(mainKeyNextID), kv.EncodeUint32(nextID+1)); err != nil {
			return err
		}
		return putTask(tx, task, nil)
	})
	return task, err
}

// RegisterDryRun runs the same id assignment and validation as Register
// and returns the task that would have been created, without persisting
// anything: no record, no secondary-index writes, no next-id bump.
func (q *Queue) RegisterDryRun(task model.Task) (model.Task, error) {
	err := q.env.View(func(tx *kv.Tx) error {
		main := tx.Bucket(bucketMain)
		var nextID uint32
		if raw := main.Get([]byte(mainKeyNextID)); raw != nil {
			var err error
			nextID, err = kv.DecodeUint32(raw)
			if err != nil {
				return err
			}
		}
		if task.ID != 0 {
			if task.ID < nextID {
				return errors.NewBadTaskIDError(task.ID, nextID)
			}
		} else {
			task.ID = nextID
		}
		task.Status = model.TaskEnqueued
		if task.EnqueuedAt.IsZero() {
			task.EnqueuedAt = time.Now()
		}
		return nil
	})
	return task, err
}

// Get fetches a task by id.
func (q *Queue) Get(id uint32) (model.Task, error) {
	var task model.Task
	err := q.env.View(func(tx *kv.Tx) error {
		b := tx.Bucket(bucketTasks)
		raw := b.Get(kv.EncodeUint32(id))
		if raw == nil {
			return errors.NewTaskNotFoundError(id)
		}
		var err error
		task, err = decodeTask(raw)
		return err
	})
	return task, err
}

// Transition moves a task to a new terminal or in-progress state,
// updating every secondary index that cares about status.
func (q *Queue) Transition(id uint32, mutate func(*model.Task)) (model.Task, error) {
	var updated model.Task
	err := q.env.Update(func(tx *kv.WriteTx) error {
		b, err := tx.Bucket(bucketTasks)
		if err != nil {
			return err
		}
		raw := b.Get(kv.EncodeUint32(id))
		if raw == nil {
			return errors.NewTaskNotFoundError(id)
		}
		previous, err := decodeTask(raw)
		if err != nil {
			return err
		}
		updated = previous
		mutate(&updated)
		return putTask(tx, updated, &previous)
	})
	return updated, err
}

func putTask(tx *kv.WriteTx, task model.Task, previous *model.Task) error {
	tasksBucket, err := tx.Bucket(bucketTasks)
	if err != nil {
		return err
	}
	encoded, err := encodeTask(task)
	if err != nil {
		return err
	}
	if err := tasksBucket.Put(kv.EncodeUint32(task.ID), encoded); err != nil {
		return err
	}

	if previous != nil && previous.Status != task.Status {
		if err := removeFromStatusIndex(tx, previous.Status, task.ID); err != nil {
			return err
		}
	}
	if previous == nil || previous.Status != task.Status {
		if err := addToStatusIndex(tx, task.Status, task.ID); err != nil {
			return err
		}
	}

	if previous == nil {
		if err := addToBitmapIndex(tx, bucketByKind, []byte(task.Kind), task.ID); err != nil {
			return err
		}
		if task.IndexUID != "" {
			if err := addToBitmapIndex(tx, bucketByIndexUID, []byte(task.IndexUID), task.ID); err != nil {
				return err
			}
		}
		if err := addToBitmapIndex(tx, bucketByEnqueuedAt, kv.EncodeInt64(task.EnqueuedAt.UnixNano()), task.ID); err != nil {
			return err
		}
	}

	if task.StartedAt != nil && (previous == nil || previous.StartedAt == nil) {
		if err := addToBitmapIndex(tx, bucketByStartedAt, kv.EncodeInt64(task.StartedAt.UnixNano()), task.ID); err != nil {
			return err
		}
	}
	if previous != nil && previous.StartedAt != nil && task.StartedAt == nil {
		if err := removeFromBitmapIndex(tx, bucketByStartedAt, kv.EncodeInt64(previous.StartedAt.UnixNano()), task.ID); err != nil {
			return err
		}
	}

	if task.CanceledBy != nil && (previous == nil || previous.CanceledBy == nil) {
		if err := addToBitmapIndex(tx, bucketByCanceledBy, kv.EncodeUint32(*task.CanceledBy), task.ID); err != nil {
			return err
		}
	}

	if task.FinishedAt != nil && (previous == nil || previous.FinishedAt == nil) {
		if err := addToBitmapIndex(tx, bucketByFinishedAt, kv.EncodeInt64(task.FinishedAt.UnixNano()), task.ID); err != nil {
			return err
		}
	}

	return nil
}

func addToStatusIndex(tx *kv.WriteTx, status model.TaskStatus, id uint32) error {
	return addToBitmapIndex(tx, bucketByStatus, []byte(status), id)
}

func removeFromStatusIndex(tx *kv.WriteTx, status model.TaskStatus, id uint32) error {
	return removeFromBitmapIndex(tx, bucketByStatus, []byte(status), id)
}

func addToBitmapIndex(tx *kv.WriteTx, bucket kv.Bucket, key []byte, id uint32) error {
	b, err := tx.Bucket(bucket)
	if err != nil {
		return err
	}
	bm, err := decodeBitmap(b, key)
	if err != nil {
		return err
	}
	bm.Add(id)
	return putBitmap(b, key, bm)
}

func removeFromBitmapIndex(tx *kv.WriteTx, bucket kv.Bucket, key []byte, id uint32) error {
	b, err := tx.Bucket(bucket)
	if err != nil {
		return err
	}
	bm, err := decodeBitmap(b, key)
	if err != nil {
		return err
	}
	bm.Remove(id)
	return putBitmap(b, key, bm)
}

func decodeBitmap(b *kv.BucketHandle, key []byte) (*roaring.Bitmap, error) {
	return kv.DecodeBitmap(b.Get(key))
}

func putBitmap(b *kv.BucketHandle, key []byte, bm *roaring.Bitmap) error {
	if bm.IsEmpty() {
		return b.Delete(key)
	}
	encoded, err := kv.EncodeBitmap(bm)
	if err != nil {
		return err
	}
	return b.Put(key, encoded)
}

// Count returns the total number of tasks currently held in the queue,
// live or finished, the figure Cleanup compares against maxTasks.
func (q *Queue) Count() (int, error) {
	var n int
	err := q.env.View(func(tx *kv.Tx) error {
		b := tx.Bucket(bucketTasks)
		return b.ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	})
	return n, err
}

// Cleanup implements the auto-delete policy: once the queue holds at least
// maxTasks tasks, it registers a synthetic TaskDelete targeting up to
// deleteBatchSize of the oldest finished (Succeeded/Failed/Canceled) tasks.
// If fewer than minDeleteToProceed tasks are eligible, it logs via logf and
// returns without registering anything: deleting one or zero tasks isn't
// worth a write transaction. Called by the scheduler after every batch
// commit.
func (q *Queue) Cleanup(maxTasks, deleteBatchSize, minDeleteToProceed int, logf func(format string, args ...interface{})) error {
	total, err := q.Count()
	if err != nil {
		return fmt.Errorf("taskqueue: cleanup: count: %w", err)
	}
	if total < maxTasks {
		return nil
	}

	oldest, err := q.oldestFinished(deleteBatchSize)
	if err != nil {
		return fmt.Errorf("taskqueue: cleanup: scan oldest finished: %w", err)
	}
	if len(oldest) < minDeleteToProceed {
		if logf != nil {
			logf("taskqueue: cleanup found only %d finished task(s), below the minimum of %d to proceed; skipping", len(oldest), minDeleteToProceed)
		}
		return nil
	}

	cutoff := oldest[len(oldest)-1].EnqueuedAt.Add(time.Nanosecond)
	targets := make([]uint32, len(oldest))
	for i, t := range oldest {
		targets[i] = t.ID
	}

	_, err = q.Register(model.Task{
		Kind:          model.KindTaskDelete,
		TargetTaskIDs: targets,
		Filter: &model.TaskFilter{
			BeforeEnqueuedAt: &cutoff,
			Statuses:         []model.TaskStatus{model.TaskSucceeded, model.TaskFailed, model.TaskCanceled},
		},
		Metadata: stringPtr("auto-delete: queue at or above max-tasks"),
	})
	if err != nil {
		return fmt.Errorf("taskqueue: cleanup: register auto-delete task: %w", err)
	}
	return nil
}

func stringPtr(s string) *string { return &s }

// oldestFinished scans bucketByEnqueuedAt in ascending (oldest-first) key
// order and returns up to limit terminal-status tasks.
func (q *Queue) oldestFinished(limit int) ([]model.Task, error) {
	var result []model.Task
	err := q.env.View(func(tx *kv.Tx) error {
		byTime := tx.Bucket(bucketByEnqueuedAt)
		tasksBucket := tx.Bucket(bucketTasks)
		if byTime == nil || tasksBucket == nil {
			return nil
		}
		return byTime.ForEachRange(nil, nil, func(_, v []byte) error {
			bm, err := kv.DecodeBitmap(v)
			if err != nil {
				return err
			}
			it := bm.Iterator()
			for it.HasNext() {
				id := it.Next()
				raw := tasksBucket.Get(kv.EncodeUint32(id))
				if raw == nil {
					continue
				}
				t, err := decodeTask(raw)
				if err != nil {
					return err
				}
				if !t.Status.IsTerminal() {
					continue
				}
				result = append(result, t)
				if len(result) >= limit {
					return errStopScan
				}
			}
			return nil
		})
	})
	if err == errStopScan {
		err = nil
	}
	return result, err
}

// errStopScan unwinds oldestFinished's ForEachRange walk once limit tasks
// have been collected; it never escapes oldestFinished.
var errStopScan = errStopScanErr{}

type errStopScanErr struct{}

func (errStopScanErr) Error() string { return "taskqueue: scan stopped" }

// Matching returns every task id satisfying filter, intersecting the
// secondary-index bitmaps for each populated filter dimension rather than
// scanning the whole task bucket.
func (q *Queue) Matching(filter model.TasksQuery) ([]model.Task, error) {
	var result []model.Task
	err := q.env.View(func(tx *kv.Tx) error {
		var candidate *roaring.Bitmap

		intersect := func(bucket kv.Bucket, keys [][]byte) error {
			b := tx.Bucket(bucket)
			union := roaring.New()
			for _, k := range keys {
				bm, err := kv.DecodeBitmap(b.Get(k))
				if err != nil {
					return err
				}
				union.Or(bm)
			}
			if candidate == nil {
				candidate = union
			} else {
				candidate.And(union)
			}
			return nil
		}

		if len(filter.Statuses) > 0 {
			keys := make([][]byte, len(filter.Statuses))
			for i, s := range filter.Statuses {
				keys[i] = []byte(s)
			}
			if err := intersect(bucketByStatus, keys); err != nil {
				return err
			}
		}
		if len(filter.Kinds) > 0 {
			keys := make([][]byte, len(filter.Kinds))
			for i, k := range filter.Kinds {
				keys[i] = []byte(k)
			}
			if err := intersect(bucketByKind, keys); err != nil {
				return err
			}
		}
		if len(filter.IndexUIDs) > 0 {
			keys := make([][]byte, len(filter.IndexUIDs))
			for i, uid := range filter.IndexUIDs {
				keys[i] = []byte(uid)
			}
			if err := intersect(bucketByIndexUID, keys); err != nil {
				return err
			}
		}
		if len(filter.CanceledBy) > 0 {
			keys := make([][]byte, len(filter.CanceledBy))
			for i, id := range filter.CanceledBy {
				keys[i] = kv.EncodeUint32(id)
			}
			if err := intersect(bucketByCanceledBy, keys); err != nil {
				return err
			}
		}
		if len(filter.UIDs) > 0 {
			explicit := roaring.New()
			for _, id := range filter.UIDs {
				explicit.Add(id)
			}
			if candidate == nil {
				candidate = explicit
			} else {
				candidate.And(explicit)
			}
		}

		tasksBucket := tx.Bucket(bucketTasks)
		if candidate == nil {
			return tasksBucket.ForEach(func(k, v []byte) error {
				t, err := decodeTask(v)
				if err != nil {
					return err
				}
				if taskMatchesResidualFilters(t, filter) {
					result = append(result, t)
				}
				return nil
			})
		}

		it := candidate.Iterator()
		for it.HasNext() {
			id := it.Next()
			raw := tasksBucket.Get(kv.EncodeUint32(id))
			if raw == nil {
				continue
			}
			t, err := decodeTask(raw)
			if err != nil {
				return err
			}
			if taskMatchesResidualFilters(t, filter) {
				result = append(result, t)
			}
		}
		return nil
	})
	if filter.Reverse {
		for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
			result[i], result[j] = result[j], result[i]
		}
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, err
}

// taskMatchesResidualFilters applies the filter dimensions no secondary
// index serves: the id bound (From is an inclusive lower bound when
// iterating forward, an exclusive upper bound when Reverse), the batch-uid
// membership check, and the exclusive time bounds.
func taskMatchesResidualFilters(t model.Task, filter model.TasksQuery) bool {
	if filter.From != nil {
		if filter.Reverse {
			if t.ID >= *filter.From {
				return false
			}
		} else if t.ID < *filter.From {
			return false
		}
	}
	if len(filter.BatchUIDs) > 0 {
		if t.BatchUID == nil {
			return false
		}
		found := false
		for _, uid := range filter.BatchUIDs {
			if uid == *t.BatchUID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.BeforeEnqueuedAt != nil && !t.EnqueuedAt.Before(*filter.BeforeEnqueuedAt) {
		return false
	}
	if filter.AfterEnqueuedAt != nil && !t.EnqueuedAt.After(*filter.AfterEnqueuedAt) {
		return false
	}
	if filter.BeforeStartedAt != nil && (t.StartedAt == nil || !t.StartedAt.Before(*filter.BeforeStartedAt)) {
		return false
	}
	if filter.AfterStartedAt != nil && (t.StartedAt == nil || !t.StartedAt.After(*filter.AfterStartedAt)) {
		return false
	}
	if filter.BeforeFinishedAt != nil && (t.FinishedAt == nil || !t.FinishedAt.Before(*filter.BeforeFinishedAt)) {
		return false
	}
	if filter.AfterFinishedAt != nil && (t.FinishedAt == nil || !t.FinishedAt.After(*filter.AfterFinishedAt)) {
		return false
	}
	return true
}

// EnqueuedIDsWithTasks returns every task currently in the Enqueued
// status, in ascending id order: the candidate pool the scheduler's
// batch-formation step draws from.
func (q *Queue) EnqueuedIDsWithTasks() ([]model.Task, error) {
	return q.Matching(model.TasksQuery{Statuses: []model.TaskStatus{model.TaskEnqueued}})
}

// EnqueuedIDs returns, in ascending id order, every task id currently in
// the Enqueued status.
func (q *Queue) EnqueuedIDs() ([]uint32, error) {
	tasks, err := q.EnqueuedIDsWithTasks()
	if err != nil {
		return nil, err
	}
	ids := make([]uint32, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids, nil
}

// CancelTasks marks every still-Enqueued task among ids as Canceled,
// recording canceledBy for each. A target that's Processing when this runs
// is left alone here: scheduler.Scheduler's cancel watcher already
// intercepts that case directly against the in-flight batch (flipping
// mustStop and recording the cancellation itself), so by the time a
// TaskCancel task's own batch reaches this call, a formerly-Processing
// target has already been driven to a terminal status. Returns the ids
// actually canceled by this call.
func (q *Queue) CancelTasks(ids []uint32, canceledBy uint32) ([]uint32, error) {
	var canceled []uint32
	for _, id := range ids {
		updated, err := q.Transition(id, func(t *model.Task) {
			if t.Status == model.TaskEnqueued {
				t.Status = model.TaskCanceled
				now := time.Now()
				t.FinishedAt = &now
				t.CanceledBy = &canceledBy
			}
		})
		if err != nil {
			return canceled, err
		}
		if updated.Status == model.TaskCanceled && updated.CanceledBy != nil && *updated.CanceledBy == canceledBy {
			canceled = append(canceled, id)
		}
	}
	return canceled, nil
}

// DeleteTasks removes finished tasks from the queue entirely, pruning every secondary index they appear in.
// Tasks not yet in a terminal state are skipped.
func (q *Queue) DeleteTasks(ids []uint32) ([]uint32, error) {
	var deleted []uint32
	err := q.env.Update(func(tx *kv.WriteTx) error {
		tasksBucket, err := tx.Bucket(bucketTasks)
		if err != nil {
			return err
		}
		for _, id := range ids {
			raw := tasksBucket.Get(kv.EncodeUint32(id))
			if raw == nil {
				continue
			}
			t, err := decodeTask(raw)
			if err != nil {
				return err
			}
			if !t.Status.IsTerminal() {
				continue
			}
			if err := tasksBucket.Delete(kv.EncodeUint32(id)); err != nil {
				return err
			}
			if err := removeFromBitmapIndex(tx, bucketByStatus, []byte(t.Status), id); err != nil {
				return err
			}
			if err := removeFromBitmapIndex(tx, bucketByKind, []byte(t.Kind), id); err != nil {
				return err
			}
			if t.IndexUID != "" {
				if err := removeFromBitmapIndex(tx, bucketByIndexUID, []byte(t.IndexUID), id); err != nil {
					return err
				}
			}
			if err := removeFromBitmapIndex(tx, bucketByEnqueuedAt, kv.EncodeInt64(t.EnqueuedAt.UnixNano()), id); err != nil {
				return err
			}
			if t.StartedAt != nil {
				if err := removeFromBitmapIndex(tx, bucketByStartedAt, kv.EncodeInt64(t.StartedAt.UnixNano()), id); err != nil {
					return err
				}
			}
			if t.FinishedAt != nil {
				if err := removeFromBitmapIndex(tx, bucketByFinishedAt, kv.EncodeInt64(t.FinishedAt.UnixNano()), id); err != nil {
					return err
				}
			}
			if t.CanceledBy != nil {
				if err := removeFromBitmapIndex(tx, bucketByCanceledBy, kv.EncodeUint32(*t.CanceledBy), id); err != nil {
					return err
				}
			}
			deleted = append(deleted, id)
		}
		return nil
	})
	return deleted, err
}
