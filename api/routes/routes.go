package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/omnidocs/docpipe/api/handlers"
	"github.com/omnidocs/docpipe/api/middleware"
)

// Setup wires all routes onto the engine.
func Setup(r *gin.Engine, h *handlers.Handlers) {
	r.Use(middleware.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")

	docs := v1.Group("/documents")
	{
		docs.POST("", h.Document.Upload)
		docs.POST("/batch", h.Document.UploadBatch)
		docs.GET("/:documentId", h.Document.Get)
		docs.GET("/:documentId/chunks", h.Document.Chunks)
	}

	sessions := v1.Group("/uploads/sessions")
	{
		sessions.POST("", h.Session.Init)
		sessions.PATCH("/:sessionId", h.Session.PutChunk)
		sessions.GET("/:sessionId", h.Session.Get)
		sessions.DELETE("/:sessionId", h.Session.Cancel)
	}

	jobs := v1.Group("/jobs")
	{
		jobs.GET("/:jobId", h.Job.Get)
		jobs.POST("/:jobId/retry", h.Job.Retry)
		jobs.DELETE("/:jobId", h.Job.Cancel)
	}
}
