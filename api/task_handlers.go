package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gcbaptista/go-search-engine/internal/engine"
	"github.com/gcbaptista/go-search-engine/model"
)

// GetTaskHandler returns one task by its numeric uid.
func GetTaskHandler(app *engine.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("taskUID"), 10, 32)
		if err != nil {
			SendError(c, http.StatusBadRequest, ErrorCodeInvalidRequest, "Invalid task uid")
			return
		}
		task, err := app.Queue.Get(uint32(id))
		if err != nil {
			SendTaskNotFoundError(c, c.Param("taskUID"))
			return
		}
		c.JSON(http.StatusOK, task)
	}
}

// ListTasksQuery is ListTasksHandler's query-string binding.
type ListTasksQuery struct {
	Limit      int      `form:"limit"`
	From       *uint32  `form:"from"`
	Reverse    bool     `form:"reverse"`
	IndexUIDs  []string `form:"indexUids"`
	Statuses   []string `form:"statuses"`
	Kinds      []string `form:"kinds"`
	BatchUIDs  []uint32 `form:"batchUids"`
	CanceledBy []uint32 `form:"canceledBy"`
}

// ListTasksHandler lists tasks matching the query-string filters.
func ListTasksHandler(app *engine.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q ListTasksQuery
		if result := ValidateQueryBinding(c, &q); result.HasErrors() {
			SendValidationError(c, result)
			return
		}

		query := model.TasksQuery{
			Limit:      q.Limit,
			From:       q.From,
			Reverse:    q.Reverse,
			IndexUIDs:  q.IndexUIDs,
			BatchUIDs:  q.BatchUIDs,
			CanceledBy: q.CanceledBy,
		}
		for _, s := range q.Statuses {
			query.Statuses = append(query.Statuses, model.TaskStatus(s))
		}
		for _, k := range q.Kinds {
			query.Kinds = append(query.Kinds, model.TaskKind(k))
		}

		tasks, err := app.Queue.Matching(query)
		if err != nil {
			SendInternalError(c, "listTasks", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": tasks})
	}
}

// TaskFilterRequest is the request body CancelTasksHandler and
// DeleteTasksHandler accept, describing which tasks the registered
// TaskCancel/TaskDelete task should target.
type TaskFilterRequest struct {
	UIDs      []uint32 `json:"uids,omitempty"`
	Statuses  []string `json:"statuses,omitempty"`
	Kinds     []string `json:"kinds,omitempty"`
	IndexUIDs []string `json:"indexUids,omitempty"`
}

func (r TaskFilterRequest) toModel() *model.TaskFilter {
	f := &model.TaskFilter{UIDs: r.UIDs, IndexUIDs: r.IndexUIDs}
	for _, s := range r.Statuses {
		f.Statuses = append(f.Statuses, model.TaskStatus(s))
	}
	for _, k := range r.Kinds {
		f.Kinds = append(f.Kinds, model.TaskKind(k))
	}
	return f
}

// registerMaybeDryRun routes a task through RegisterTask, or through
// RegisterTaskDryRun when the request carries ?dryRun=true, in which case
// nothing is enqueued and the caller just sees the task that would have
// been.
func registerMaybeDryRun(c *gin.Context, app *engine.App, task model.Task) (model.Task, error) {
	if c.Query("dryRun") == "true" {
		return app.RegisterTaskDryRun(task)
	}
	return app.RegisterTask(task)
}

// CancelTasksHandler registers a TaskCancel task whose target set is
// resolved from the request body's filter at registration time.
func CancelTasksHandler(app *engine.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TaskFilterRequest
		if result := ValidateJSONBinding(c, &req); result.HasErrors() {
			SendValidationError(c, result)
			return
		}

		task, err := registerMaybeDryRun(c, app, model.Task{
			Kind:   model.KindTaskCancel,
			Filter: req.toModel(),
		})
		if err != nil {
			SendTaskExecutionError(c, "taskCancel", err)
			return
		}
		c.JSON(http.StatusAccepted, task)
	}
}

// DeleteTasksHandler registers a TaskDelete task whose target set is
// resolved from the request body's filter at registration time.
func DeleteTasksHandler(app *engine.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TaskFilterRequest
		if result := ValidateJSONBinding(c, &req); result.HasErrors() {
			SendValidationError(c, result)
			return
		}

		task, err := registerMaybeDryRun(c, app, model.Task{
			Kind:   model.KindTaskDelete,
			Filter: req.toModel(),
		})
		if err != nil {
			SendTaskExecutionError(c, "taskDelete", err)
			return
		}
		c.JSON(http.StatusAccepted, task)
	}
}
