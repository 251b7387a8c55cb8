// Package api binds the engine's task-registration/polling/search contract
// to HTTP handlers via gin, grouped under /indexes and /tasks against one
// internal/engine.App.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/gcbaptista/go-search-engine/internal/engine"
)

// maxRequestBodyBytes bounds a single request body, generous enough for a
// large document-add batch without letting an unbounded body exhaust memory.
const maxRequestBodyBytes = 32 << 20 // 32 MiB

// SetupRoutes registers every API route against router.
func SetupRoutes(router *gin.Engine, app *engine.App) {
	router.Use(CORSMiddleware())
	router.Use(RequestSizeLimitMiddleware(maxRequestBodyBytes))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	indexes := router.Group("/indexes")
	{
		indexes.POST("", CreateIndexHandler(app))
		indexes.GET("", ListIndexesHandler(app))
		indexes.GET("/:indexName", GetIndexHandler(app))
		indexes.PATCH("/:indexName", UpdateIndexSettingsHandler(app))
		indexes.PUT("/:indexName/name", UpdateIndexNameHandler(app))
		indexes.DELETE("/:indexName", DeleteIndexHandler(app))
		indexes.POST("/:indexName/swap", SwapIndexesHandler(app))

		indexes.POST("/:indexName/search", SearchHandler(app))
		indexes.POST("/:indexName/facet-search", FacetSearchHandler(app))

		indexes.POST("/:indexName/documents", AddDocumentsHandler(app))
		indexes.PATCH("/:indexName/documents", EditDocumentsHandler(app))
		indexes.DELETE("/:indexName/documents", DeleteDocumentsByFilterHandler(app))
		indexes.POST("/:indexName/documents/delete-batch", DeleteDocumentsByIDsHandler(app))
		indexes.DELETE("/:indexName/documents/:documentID", DeleteDocumentByIDHandler(app))
	}

	tasks := router.Group("/tasks")
	{
		tasks.GET("", ListTasksHandler(app))
		tasks.GET("/:taskUID", GetTaskHandler(app))
		tasks.POST("/cancel", CancelTasksHandler(app))
		tasks.POST("/delete", DeleteTasksHandler(app))
	}

	batches := router.Group("/batches")
	{
		batches.GET("", ListBatchesHandler(app))
		batches.GET("/:batchUID", GetBatchHandler(app))
	}
}
