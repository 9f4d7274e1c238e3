package handlers

import (
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/omnidocs/docpipe/internal/apperr"
	"github.com/omnidocs/docpipe/internal/service/upload"
	"github.com/omnidocs/docpipe/pkg/logger"
)

type DocumentHandler struct {
	service *upload.Service
	log     logger.Logger
}

func NewDocumentHandler(service *upload.Service, log logger.Logger) *DocumentHandler {
	return &DocumentHandler{service: service, log: log}
}

// Upload accepts one file as multipart field "file".
func (h *DocumentHandler) Upload(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "VALIDATION_FAILED", Message: "multipart field 'file' is required"})
		return
	}
	data, err := readFile(fh)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "VALIDATION_FAILED", Message: "could not read uploaded file"})
		return
	}

	res, err := h.service.Upload(c.Request.Context(), upload.Request{
		TenantID: tenant,
		Filename: fh.Filename,
		Data:     data,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// batchEntry is the per-file outcome in a batch response.
type batchEntry struct {
	Filename string         `json:"filename"`
	Result   *upload.Result `json:"result,omitempty"`
	Error    *ErrorResponse `json:"error,omitempty"`
}

// UploadBatch accepts several files as multipart field "files". Each file is
// accepted or rejected on its own; the response always enumerates all of
// them.
func (h *DocumentHandler) UploadBatch(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "VALIDATION_FAILED", Message: "invalid multipart form"})
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "VALIDATION_FAILED", Message: "multipart field 'files' is required"})
		return
	}

	reqs := make([]upload.Request, 0, len(files))
	for _, fh := range files {
		data, err := readFile(fh)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Code: "VALIDATION_FAILED", Message: "could not read " + fh.Filename})
			return
		}
		reqs = append(reqs, upload.Request{TenantID: tenant, Filename: fh.Filename, Data: data})
	}

	items := h.service.UploadBatch(c.Request.Context(), reqs)

	entries := make([]batchEntry, len(items))
	accepted := 0
	for i, item := range items {
		entries[i] = batchEntry{Filename: item.Filename, Result: item.Result}
		if item.Err != nil {
			entries[i].Error = &ErrorResponse{
				Code:    string(apperr.CodeOf(item.Err)),
				Message: item.Err.Error(),
			}
		} else {
			accepted++
		}
	}

	status := http.StatusCreated
	if accepted == 0 {
		status = http.StatusBadRequest
	} else if accepted < len(items) {
		status = http.StatusMultiStatus
	}
	c.JSON(status, gin.H{"accepted": accepted, "items": entries})
}

// Get returns one document's metadata.
func (h *DocumentHandler) Get(c *gin.Context) {
	id, ok := pathUUID(c, "documentId")
	if !ok {
		return
	}
	doc, err := h.service.GetDocument(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// Chunks returns a document's chunks in reading order.
func (h *DocumentHandler) Chunks(c *gin.Context) {
	id, ok := pathUUID(c, "documentId")
	if !ok {
		return
	}
	chunks, err := h.service.GetChunks(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documentId": id, "chunks": chunks})
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
