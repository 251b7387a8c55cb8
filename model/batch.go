package model

import "time"

// BatchProgress tracks which step of batch processing is underway, surfaced
// in API responses for a whole batch of tasks processed together.
type BatchProgress struct {
	Phase   string `json:"phase"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
}

// Batch is a group of tasks the scheduler processes atomically.
type Batch struct {
	UID uint32 `json:"uid"`

	TaskIDs []uint32 `json:"taskIds"`

	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	Progress *BatchProgress `json:"progress,omitempty"`

	Kinds     []TaskKind `json:"kinds"`
	IndexUIDs []string   `json:"indexUids"`

	StopReason string `json:"stopReason"`
}
