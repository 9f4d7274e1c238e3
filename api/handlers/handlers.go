// Package handlers is the HTTP surface. Handlers translate between gin and
// the services; all policy lives in the services, all status-code mapping
// lives here.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/omnidocs/docpipe/internal/apperr"
	"github.com/omnidocs/docpipe/pkg/logger"
)

// Handlers bundles the per-resource handler groups.
type Handlers struct {
	Document *DocumentHandler
	Session  *SessionHandler
	Job      *JobHandler
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeValidation:
		return http.StatusBadRequest
	case apperr.CodeQuotaExceeded:
		return http.StatusRequestEntityTooLarge
	case apperr.CodeDuplicateContent, apperr.CodeConflict:
		return http.StatusConflict
	case apperr.CodeUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case apperr.CodeMalwareDetected, apperr.CodeFatalParse:
		return http.StatusUnprocessableEntity
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeTransientIO:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, log logger.Logger, err error) {
	code := apperr.CodeOf(err)
	status := statusFor(code)
	if status >= 500 {
		log.Error("request failed",
			logger.String("path", c.Request.URL.Path),
			logger.Error(err),
		)
	}
	body := ErrorResponse{Code: string(code), Message: err.Error()}
	if body.Code == "" {
		body.Code = "INTERNAL"
		body.Message = "internal error"
	}
	c.JSON(status, body)
}

// tenantID reads the calling tenant from the X-Tenant-ID header.
func tenantID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.GetHeader("X-Tenant-ID"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    string(apperr.CodeValidation),
			Message: "X-Tenant-ID header is required",
		})
		return 0, false
	}
	return id, true
}

// optionalUserID reads the X-User-ID header. Absent means anonymous (zero);
// a present but malformed value is rejected rather than silently recorded as
// user 0.
func optionalUserID(c *gin.Context) (int64, bool) {
	raw := c.GetHeader("X-User-ID")
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    string(apperr.CodeValidation),
			Message: "X-User-ID header must be a positive integer",
		})
		return 0, false
	}
	return id, true
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    string(apperr.CodeValidation),
			Message: name + " must be a UUID",
		})
		return uuid.Nil, false
	}
	return id, true
}
