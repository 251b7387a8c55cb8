package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gcbaptista/go-search-engine/internal/batchstore"
	"github.com/gcbaptista/go-search-engine/internal/engine"
	"github.com/gcbaptista/go-search-engine/model"
)

// GetBatchHandler returns one batch by its numeric uid, with the task ids
// it grouped read off the batch-to-tasks mapping.
func GetBatchHandler(app *engine.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, err := strconv.ParseUint(c.Param("batchUID"), 10, 32)
		if err != nil {
			SendError(c, http.StatusBadRequest, ErrorCodeInvalidRequest, "Invalid batch uid")
			return
		}
		batch, found, err := app.Batches.Get(uint32(uid))
		if err != nil {
			SendInternalError(c, "getBatch", err)
			return
		}
		if !found {
			SendError(c, http.StatusNotFound, ErrorCodeBatchNotFound,
				"Batch '"+c.Param("batchUID")+"' not found")
			return
		}
		c.JSON(http.StatusOK, batch)
	}
}

// ListBatchesQuery is ListBatchesHandler's query-string binding.
type ListBatchesQuery struct {
	Limit     int      `form:"limit"`
	UIDs      []uint32 `form:"uids"`
	Kinds     []string `form:"kinds"`
	IndexUIDs []string `form:"indexUids"`
}

// ListBatchesHandler lists batches matching the query-string filters.
func ListBatchesHandler(app *engine.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q ListBatchesQuery
		if result := ValidateQueryBinding(c, &q); result.HasErrors() {
			SendValidationError(c, result)
			return
		}

		query := batchstore.BatchesQuery{Limit: q.Limit, UIDs: q.UIDs, IndexUIDs: q.IndexUIDs}
		for _, k := range q.Kinds {
			query.Kinds = append(query.Kinds, model.TaskKind(k))
		}

		batches, err := app.Batches.Matching(query)
		if err != nil {
			SendInternalError(c, "listBatches", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": batches})
	}
}
