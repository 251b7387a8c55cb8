package model

import "time"

// TaskStatus is the lifecycle state of a Task. Transitions are
// Enqueued -> Processing -> {Succeeded, Failed, Canceled}.
type TaskStatus string

const (
	TaskEnqueued   TaskStatus = "enqueued"
	TaskProcessing TaskStatus = "processing"
	TaskSucceeded  TaskStatus = "succeeded"
	TaskFailed     TaskStatus = "failed"
	TaskCanceled   TaskStatus = "canceled"
)

// IsTerminal reports whether status will never change again.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskCanceled
}

// TaskKind identifies the shape of the mutation carried by a Task.
type TaskKind string

const (
	KindDocumentAdd           TaskKind = "documentAdd"
	KindDocumentDeleteByIds   TaskKind = "documentDeleteByIds"
	KindDocumentDeleteByFilter TaskKind = "documentDeleteByFilter"
	KindDocumentEdit          TaskKind = "documentEdit"
	KindSettingsUpdate        TaskKind = "settingsUpdate"
	KindIndexCreate           TaskKind = "indexCreate"
	KindIndexUpdate           TaskKind = "indexUpdate"
	KindIndexDelete           TaskKind = "indexDelete"
	KindIndexSwap             TaskKind = "indexSwap"
	KindDumpCreate            TaskKind = "dumpCreate"
	KindSnapshotCreate        TaskKind = "snapshotCreate"
	KindTaskCancel            TaskKind = "taskCancel"
	KindTaskDelete            TaskKind = "taskDelete"
	KindNetworkTopologyChange TaskKind = "networkTopologyChange"
)

// globalSoloKinds fence all subsequent tasks until they finish.
var globalSoloKinds = map[TaskKind]bool{
	KindTaskCancel:     true,
	KindTaskDelete:     true,
	KindDumpCreate:     true,
	KindSnapshotCreate: true,
}

// IsGlobalSolo reports whether a task of this kind must be the sole member
// of its batch and block every other index while it runs.
func (k TaskKind) IsGlobalSolo() bool { return globalSoloKinds[k] }

// IndexSolo kinds terminate or rename the index they target, so no other
// task against that index may share their batch.
func (k TaskKind) IsIndexSolo() bool {
	return k == KindIndexDelete || k == KindIndexSwap
}

// TaskError is the typed, user-visible description of a task failure. It
// always carries a stable Code so API responses can be keyed on it.
type TaskError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type"` // "user" | "transient" | "fatal" | "partial"
	Link    string `json:"link,omitempty"`
}

func (e *TaskError) Error() string { return e.Message }

// TaskDetails is a kind-specific, free-form summary of what the task did.
// Mirrored as JSON so it can be embedded verbatim in API responses.
type TaskDetails map[string]interface{}

// TaskFilter describes a task-matching query embedded in a
// TaskCancel or TaskDelete task. The filter is resolved to a concrete set
// of task ids at registration time (see engine.App.prepareTask), never later,
// so that later registrations cannot silently change which tasks a
// cancel/delete affects.
type TaskFilter struct {
	UIDs          []uint32     `json:"uids,omitempty"`
	BatchUIDs     []uint32     `json:"batchUids,omitempty"`
	Statuses      []TaskStatus `json:"statuses,omitempty"`
	Kinds         []TaskKind   `json:"kinds,omitempty"`
	IndexUIDs     []string     `json:"indexUids,omitempty"`
	BeforeEnqueuedAt *time.Time `json:"beforeEnqueuedAt,omitempty"`
	AfterEnqueuedAt  *time.Time `json:"afterEnqueuedAt,omitempty"`
}

// Task is a single unit of asynchronous mutation work.
type Task struct {
	ID         uint32      `json:"uid"`
	Kind       TaskKind    `json:"kind"`
	Status     TaskStatus  `json:"status"`
	IndexUID   string      `json:"indexUid,omitempty"`
	EnqueuedAt time.Time   `json:"enqueuedAt"`
	StartedAt  *time.Time  `json:"startedAt,omitempty"`
	FinishedAt *time.Time  `json:"finishedAt,omitempty"`
	BatchUID   *uint32     `json:"batchUid,omitempty"`
	Error      *TaskError  `json:"error,omitempty"`
	Details    TaskDetails `json:"details,omitempty"`

	// ContentUUID references an update file in the update-file store, set
	// only on DocumentAdd tasks.
	ContentUUID *string `json:"contentUuid,omitempty"`
	// Metadata is an opaque caller-supplied label, never interpreted.
	Metadata *string `json:"metadata,omitempty"`

	// CanceledBy is set once this task is Canceled; it names the TaskCancel
	// task responsible.
	CanceledBy *uint32 `json:"canceledBy,omitempty"`

	// TargetTaskIDs holds the resolved target set for TaskCancel/TaskDelete
	// tasks, computed once at registration.
	TargetTaskIDs []uint32 `json:"-"`
	// Filter is the original filter a TaskCancel/TaskDelete was registered
	// with, kept for diagnostics; TargetTaskIDs is authoritative.
	Filter *TaskFilter `json:"-"`
}

// TasksQuery describes the arguments to Queue.Matching.
type TasksQuery struct {
	Limit   int
	From    *uint32
	Reverse bool

	UIDs      []uint32
	BatchUIDs []uint32
	Statuses  []TaskStatus
	Kinds     []TaskKind
	IndexUIDs []string
	CanceledBy []uint32

	BeforeEnqueuedAt *time.Time
	AfterEnqueuedAt  *time.Time
	BeforeStartedAt  *time.Time
	AfterStartedAt   *time.Time
	BeforeFinishedAt *time.Time
	AfterFinishedAt  *time.Time
}
