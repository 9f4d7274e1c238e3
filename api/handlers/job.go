package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/omnidocs/docpipe/internal/service/processing"
	"github.com/omnidocs/docpipe/pkg/logger"
)

type JobHandler struct {
	service *processing.Service
	log     logger.Logger
}

func NewJobHandler(service *processing.Service, log logger.Logger) *JobHandler {
	return &JobHandler{service: service, log: log}
}

// Get reports a job's status, progress and retry count.
func (h *JobHandler) Get(c *gin.Context) {
	id, ok := pathUUID(c, "jobId")
	if !ok {
		return
	}
	job, err := h.service.GetJob(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// Retry requeues a failed job.
func (h *JobHandler) Retry(c *gin.Context) {
	id, ok := pathUUID(c, "jobId")
	if !ok {
		return
	}
	job, err := h.service.Retry(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

// Cancel requests cancellation of a pending or running job.
func (h *JobHandler) Cancel(c *gin.Context) {
	id, ok := pathUUID(c, "jobId")
	if !ok {
		return
	}
	if err := h.service.Cancel(c.Request.Context(), id); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobId": id, "status": "cancelled"})
}
