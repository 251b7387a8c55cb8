package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gcbaptista/go-search-engine/config"
	"github.com/gcbaptista/go-search-engine/internal/engine"
	"github.com/gcbaptista/go-search-engine/model"
)

// CreateIndexHandler registers an IndexCreate task for the settings in the
// request body.
func CreateIndexHandler(app *engine.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var settings config.IndexSettings
		if result := ValidateJSONBinding(c, &settings); result.HasErrors() {
			SendValidationError(c, result)
			return
		}
		if result := ValidateIndexSettings(&settings); result.HasErrors() {
			SendValidationError(c, result)
			return
		}
		if app.Registry.Exists(settings.Name) {
			SendIndexExistsError(c, settings.Name)
			return
		}

		uuid, err := app.UpdateFiles.WriteSettings(settings)
		if err != nil {
			SendInternalError(c, "indexCreate", err)
			return
		}
		task, err := app.RegisterTask(model.Task{
			Kind:        model.KindIndexCreate,
			IndexUID:    settings.Name,
			ContentUUID: &uuid,
		})
		if err != nil {
			SendTaskExecutionError(c, "indexCreate", err)
			return
		}
		c.JSON(http.StatusAccepted, task)
	}
}

// ListIndexesHandler returns every currently registered index's settings.
func ListIndexesHandler(app *engine.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		uids := app.Registry.UIDs()
		out := make([]config.IndexSettings, 0, len(uids))
		for _, uid := range uids {
			settings, ok, err := app.Registry.Settings(uid)
			if err != nil {
				SendInternalError(c, "listIndexes", err)
				return
			}
			if ok {
				out = append(out, settings)
			}
		}
		c.JSON(http.StatusOK, out)
	}
}

// GetIndexHandler returns one index's current settings.
func GetIndexHandler(app *engine.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.Param("indexName")
		settings, ok, err := app.Registry.Settings(uid)
		if err != nil {
			SendInternalError(c, "getIndex", err)
			return
		}
		if !ok {
			SendIndexNotFoundError(c, uid)
			return
		}
		c.JSON(http.StatusOK, settings)
	}
}

// UpdateIndexSettingsHandler registers a SettingsUpdate task with the
// patch in the request body.
func UpdateIndexSettingsHandler(app *engine.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.Param("indexName")
		if !app.Registry.Exists(uid) {
			SendIndexNotFoundError(c, uid)
			return
		}

		var patch config.IndexSettings
		if result := ValidateJSONBinding(c, &patch); result.HasErrors() {
			SendValidationError(c, result)
			return
		}

		uuid, err := app.UpdateFiles.WriteSettings(patch)
		if err != nil {
			SendInternalError(c, "settingsUpdate", err)
			return
		}
		task, err := app.RegisterTask(model.Task{
			Kind:        model.KindSettingsUpdate,
			IndexUID:    uid,
			ContentUUID: &uuid,
		})
		if err != nil {
			SendTaskExecutionError(c, "settingsUpdate", err)
			return
		}
		c.JSON(http.StatusAccepted, task)
	}
}

// RenameIndexRequest is UpdateIndexNameHandler's request body.
type RenameIndexRequest struct {
	NewIndexUID string `json:"newIndexUid" binding:"required"`
}

// UpdateIndexNameHandler registers an IndexUpdate task that renames uid.
func UpdateIndexNameHandler(app *engine.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.Param("indexName")
		if !app.Registry.Exists(uid) {
			SendIndexNotFoundError(c, uid)
			return
		}

		var req RenameIndexRequest
		if result := ValidateJSONBinding(c, &req); result.HasErrors() {
			SendValidationError(c, result)
			return
		}
		if result := ValidateRenameRequest(uid, req.NewIndexUID); result.HasErrors() {
			SendValidationError(c, result)
			return
		}
		if app.Registry.Exists(req.NewIndexUID) {
			SendIndexExistsError(c, req.NewIndexUID)
			return
		}

		task, err := app.RegisterTask(model.Task{
			Kind:     model.KindIndexUpdate,
			IndexUID: uid,
			Details:  model.TaskDetails{"newIndexUid": req.NewIndexUID},
		})
		if err != nil {
			SendTaskExecutionError(c, "indexUpdate", err)
			return
		}
		c.JSON(http.StatusAccepted, task)
	}
}

// DeleteIndexHandler registers an IndexDelete task for uid.
func DeleteIndexHandler(app *engine.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.Param("indexName")
		if !app.Registry.Exists(uid) {
			SendIndexNotFoundError(c, uid)
			return
		}
		task, err := app.RegisterTask(model.Task{Kind: model.KindIndexDelete, IndexUID: uid})
		if err != nil {
			SendTaskExecutionError(c, "indexDelete", err)
			return
		}
		c.JSON(http.StatusAccepted, task)
	}
}

// SwapIndexesRequest is SwapIndexesHandler's request body.
type SwapIndexesRequest struct {
	SwapWith string `json:"swapWith" binding:"required"`
}

// SwapIndexesHandler registers an IndexSwap task exchanging uid and the
// index named in the request body.
func SwapIndexesHandler(app *engine.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.Param("indexName")
		var req SwapIndexesRequest
		if result := ValidateJSONBinding(c, &req); result.HasErrors() {
			SendValidationError(c, result)
			return
		}
		if !app.Registry.Exists(uid) {
			SendIndexNotFoundError(c, uid)
			return
		}
		if !app.Registry.Exists(req.SwapWith) {
			SendIndexNotFoundError(c, req.SwapWith)
			return
		}

		task, err := app.RegisterTask(model.Task{
			Kind:     model.KindIndexSwap,
			IndexUID: uid,
			Details:  model.TaskDetails{"swapWith": req.SwapWith},
		})
		if err != nil {
			SendTaskExecutionError(c, "indexSwap", err)
			return
		}
		c.JSON(http.StatusAccepted, task)
	}
}
