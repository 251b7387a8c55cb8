package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gcbaptista/go-search-engine/internal/engine"
	"github.com/gcbaptista/go-search-engine/model"
)

// AddDocumentsHandler registers a DocumentAdd task for the documents in
// the request body.
func AddDocumentsHandler(app *engine.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.Param("indexName")
		if !app.Registry.Exists(uid) {
			SendIndexNotFoundError(c, uid)
			return
		}

		var docs []model.Document
		if result := ValidateJSONBinding(c, &docs); result.HasErrors() {
			SendValidationError(c, result)
			return
		}
		if result := ValidateDocuments(docs); result.HasErrors() {
			SendValidationError(c, result)
			return
		}

		uuid, err := app.UpdateFiles.WriteDocuments(docs)
		if err != nil {
			SendInternalError(c, "documentAdd", err)
			return
		}
		task, err := app.RegisterTask(model.Task{
			Kind:        model.KindDocumentAdd,
			IndexUID:    uid,
			ContentUUID: &uuid,
		})
		if err != nil {
			SendTaskExecutionError(c, "documentAdd", err)
			return
		}
		c.JSON(http.StatusAccepted, task)
	}
}

// EditDocumentsHandler registers a DocumentEdit task applying a JSON merge
// patch, keyed by primary key, for each document in the request body.
func EditDocumentsHandler(app *engine.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.Param("indexName")
		if !app.Registry.Exists(uid) {
			SendIndexNotFoundError(c, uid)
			return
		}

		var patches []model.Document
		if result := ValidateJSONBinding(c, &patches); result.HasErrors() {
			SendValidationError(c, result)
			return
		}
		if result := ValidateDocuments(patches); result.HasErrors() {
			SendValidationError(c, result)
			return
		}

		uuid, err := app.UpdateFiles.WriteDocuments(patches)
		if err != nil {
			SendInternalError(c, "documentEdit", err)
			return
		}
		task, err := app.RegisterTask(model.Task{
			Kind:        model.KindDocumentEdit,
			IndexUID:    uid,
			ContentUUID: &uuid,
		})
		if err != nil {
			SendTaskExecutionError(c, "documentEdit", err)
			return
		}
		c.JSON(http.StatusAccepted, task)
	}
}

// DeleteDocumentsByIDsRequest is DeleteDocumentsByIDsHandler's request body.
type DeleteDocumentsByIDsRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

// DeleteDocumentsByIDsHandler registers a DocumentDeleteByIds task for the
// external ids in the request body.
func DeleteDocumentsByIDsHandler(app *engine.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.Param("indexName")
		if !app.Registry.Exists(uid) {
			SendIndexNotFoundError(c, uid)
			return
		}

		var req DeleteDocumentsByIDsRequest
		if result := ValidateJSONBinding(c, &req); result.HasErrors() {
			SendValidationError(c, result)
			return
		}
		if len(req.IDs) == 0 {
			SendError(c, http.StatusBadRequest, ErrorCodeValidationFailed, "No document ids provided")
			return
		}

		task, err := app.RegisterTask(model.Task{
			Kind:     model.KindDocumentDeleteByIds,
			IndexUID: uid,
			Details:  model.TaskDetails{"ids": req.IDs},
		})
		if err != nil {
			SendTaskExecutionError(c, "documentDeleteByIds", err)
			return
		}
		c.JSON(http.StatusAccepted, task)
	}
}

// DeleteDocumentByIDHandler registers a DocumentDeleteByIds task for a
// single external id named in the URL.
func DeleteDocumentByIDHandler(app *engine.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.Param("indexName")
		docID := c.Param("documentID")
		if result := ValidateDocumentID(docID); result.HasErrors() {
			SendValidationError(c, result)
			return
		}
		if !app.Registry.Exists(uid) {
			SendIndexNotFoundError(c, uid)
			return
		}

		task, err := app.RegisterTask(model.Task{
			Kind:     model.KindDocumentDeleteByIds,
			IndexUID: uid,
			Details:  model.TaskDetails{"ids": []string{docID}},
		})
		if err != nil {
			SendTaskExecutionError(c, "documentDeleteByIds", err)
			return
		}
		c.JSON(http.StatusAccepted, task)
	}
}

// DeleteDocumentsByFilterHandler registers a DocumentDeleteByFilter task
// for the flat field_operator -> value filter in the request body.
func DeleteDocumentsByFilterHandler(app *engine.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.Param("indexName")
		if !app.Registry.Exists(uid) {
			SendIndexNotFoundError(c, uid)
			return
		}

		var raw map[string]interface{}
		if result := ValidateJSONBinding(c, &raw); result.HasErrors() {
			SendValidationError(c, result)
			return
		}
		if len(raw) == 0 {
			SendError(c, http.StatusBadRequest, ErrorCodeValidationFailed, "No filter provided")
			return
		}

		task, err := app.RegisterTask(model.Task{
			Kind:     model.KindDocumentDeleteByFilter,
			IndexUID: uid,
			Details:  model.TaskDetails{"filterKeys": raw},
		})
		if err != nil {
			SendTaskExecutionError(c, "documentDeleteByFilter", err)
			return
		}
		c.JSON(http.StatusAccepted, task)
	}
}
