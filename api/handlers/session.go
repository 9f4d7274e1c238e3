package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/omnidocs/docpipe/internal/service/resumable"
	"github.com/omnidocs/docpipe/pkg/logger"
)

type SessionHandler struct {
	service *resumable.Service
	log     logger.Logger
}

func NewSessionHandler(service *resumable.Service, log logger.Logger) *SessionHandler {
	return &SessionHandler{service: service, log: log}
}

type initSessionRequest struct {
	Filename   string `json:"filename" binding:"required"`
	TotalBytes int64  `json:"totalBytes" binding:"required"`
	ChunkBytes int64  `json:"chunkBytes" binding:"required"`
}

// Init opens a resumable upload session.
func (h *SessionHandler) Init(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}

	var req initSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "VALIDATION_FAILED", Message: err.Error()})
		return
	}
	userID, ok := optionalUserID(c)
	if !ok {
		return
	}

	sess, err := h.service.Init(c.Request.Context(), tenant, userID, req.Filename, req.TotalBytes, req.ChunkBytes)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// PutChunk appends one chunk. The raw bytes go in the body; the byte offset
// goes in the Upload-Offset header. Resending an already-received chunk is
// safe and returns the current state.
func (h *SessionHandler) PutChunk(c *gin.Context) {
	id, ok := pathUUID(c, "sessionId")
	if !ok {
		return
	}
	offset, err := strconv.ParseInt(c.GetHeader("Upload-Offset"), 10, 64)
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "VALIDATION_FAILED", Message: "Upload-Offset header is required"})
		return
	}
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "VALIDATION_FAILED", Message: "could not read request body"})
		return
	}

	prog, err := h.service.PutChunk(c.Request.Context(), id, offset, data)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, prog)
}

// Get reports the session state so an interrupted client can resume from
// receivedBytes.
func (h *SessionHandler) Get(c *gin.Context) {
	id, ok := pathUUID(c, "sessionId")
	if !ok {
		return
	}
	sess, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// Cancel aborts an active session.
func (h *SessionHandler) Cancel(c *gin.Context) {
	id, ok := pathUUID(c, "sessionId")
	if !ok {
		return
	}
	if err := h.service.Cancel(c.Request.Context(), id); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": id, "status": "cancelled"})
}
