// Package upload is the ingestion coordinator. It runs every acceptance gate
// in a fixed order (filename, size, sniffed type, duplicate, malware), then
// reserves quota and persists the document, its parse job, and the raw bytes.
// Nothing is written before all gates pass; everything written is rolled back
// if a later step fails.
package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/omnidocs/docpipe/internal/apperr"
	"github.com/omnidocs/docpipe/internal/models"
	"github.com/omnidocs/docpipe/internal/repository"
	"github.com/omnidocs/docpipe/internal/scanner"
	"github.com/omnidocs/docpipe/pkg/logger"
	"github.com/omnidocs/docpipe/pkg/queue"
	"github.com/omnidocs/docpipe/pkg/storage"
)

// Store is the metadata persistence the coordinator needs.
type Store interface {
	GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error)
	FindDocumentByHash(ctx context.Context, tenantID int64, hash string) (*models.Document, error)
	CreateDocumentWithJob(ctx context.Context, d *models.Document, j *models.Job) error
	RollbackDocument(ctx context.Context, documentID uuid.UUID, tenantID, size int64) error
	ListChunks(ctx context.Context, documentID uuid.UUID) ([]models.Chunk, error)
}

// Config carries the coordinator's acceptance policy.
type Config struct {
	MaxSizeBytes      int64
	AllowedMimeTypes  []string
	MaxRetries        int
	ScannerFailClosed bool
	BatchConcurrency  int
}

type Service struct {
	store Store
	blobs storage.Store
	queue queue.Queue
	scan  scanner.Scanner
	log   logger.Logger
	cfg   Config
	now   func() time.Time
}

func NewService(store Store, blobs storage.Store, q queue.Queue, scan scanner.Scanner, log logger.Logger, cfg Config) *Service {
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 4
	}
	return &Service{
		store: store,
		blobs: blobs,
		queue: q,
		scan:  scan,
		log:   log,
		cfg:   cfg,
		now:   time.Now,
	}
}

// Request is one file to ingest.
type Request struct {
	TenantID int64
	Filename string
	Data     []byte
}

// Result is the persisted outcome of an accepted upload.
type Result struct {
	Document *models.Document `json:"document"`
	Job      *models.Job      `json:"job"`
}

// Upload runs the full ingestion path for one file.
func (s *Service) Upload(ctx context.Context, req Request) (*Result, error) {
	name, err := sanitizeFilename(req.Filename)
	if err != nil {
		return nil, err
	}

	size := int64(len(req.Data))
	if size == 0 {
		return nil, apperr.Validation("file is empty")
	}
	if size > s.cfg.MaxSizeBytes {
		return nil, apperr.Validation("file size %d exceeds limit of %d bytes", size, s.cfg.MaxSizeBytes)
	}

	// The sniffed type is authoritative; the client's declared Content-Type
	// is ignored.
	mime, err := s.sniffMime(req.Data)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(req.Data)
	hash := hex.EncodeToString(sum[:])

	existing, err := s.store.FindDocumentByHash(ctx, req.TenantID, hash)
	if err == nil {
		return nil, apperr.DuplicateContent("identical content already uploaded as document %s", existing.ID)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.TransientIO(err, "duplicate lookup failed")
	}

	if err := s.runScan(ctx, name, req.Data); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	docID := uuid.New()
	doc := &models.Document{
		ID:               docID,
		TenantID:         req.TenantID,
		Filename:         storedFilename(docID, name),
		OriginalFilename: name,
		MimeType:         mime,
		SizeBytes:        size,
		ContentHash:      hash,
		StorageKey:       fmt.Sprintf("tenants/%d/documents/%s%s", req.TenantID, docID, filepath.Ext(name)),
		Status:           models.DocumentUploaded,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	job := &models.Job{
		ID:         uuid.New(),
		DocumentID: docID,
		TenantID:   req.TenantID,
		JobType:    models.JobTypeParseDocument,
		Status:     models.JobPending,
		MaxRetries: s.cfg.MaxRetries,
		CreatedAt:  now,
	}

	if err := s.store.CreateDocumentWithJob(ctx, doc, job); err != nil {
		switch {
		case errors.Is(err, repository.ErrQuotaExceeded):
			return nil, apperr.QuotaExceeded("upload of %d bytes would exceed the tenant's storage quota", size)
		case errors.Is(err, repository.ErrConflict):
			// Lost a race with a concurrent upload of the same bytes.
			return nil, apperr.DuplicateContent("identical content already uploaded")
		case errors.Is(err, repository.ErrNotFound):
			return nil, apperr.NotFound("tenant %d not found", req.TenantID)
		default:
			return nil, apperr.TransientIO(err, "persist document")
		}
	}

	if _, err := s.blobs.Put(ctx, doc.StorageKey, bytes.NewReader(req.Data), size); err != nil {
		s.undo(ctx, doc)
		return nil, apperr.TransientIO(err, "store content")
	}

	if err := s.queue.EnqueueParse(ctx, queue.ParsePayload{
		JobID:      job.ID,
		DocumentID: doc.ID,
		TenantID:   req.TenantID,
	}); err != nil {
		s.deleteBlob(ctx, doc.StorageKey)
		s.undo(ctx, doc)
		return nil, apperr.TransientIO(err, "enqueue parse job")
	}

	s.log.Info("document accepted",
		logger.String("documentId", doc.ID.String()),
		logger.String("jobId", job.ID.String()),
		logger.Int64("tenantId", req.TenantID),
		logger.String("mimeType", mime),
		logger.Int64("sizeBytes", size),
	)
	return &Result{Document: doc, Job: job}, nil
}

// BatchItem is the per-file outcome of a batch upload. Files are independent;
// one rejection never blocks the others.
type BatchItem struct {
	Filename string  `json:"filename"`
	Result   *Result `json:"result,omitempty"`
	Err      error   `json:"-"`
}

// UploadBatch ingests several files concurrently, bounded by the configured
// batch concurrency. The returned slice is index-aligned with reqs.
func (s *Service) UploadBatch(ctx context.Context, reqs []Request) []BatchItem {
	items := make([]BatchItem, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BatchConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := s.Upload(gctx, req)
			items[i] = BatchItem{Filename: req.Filename, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors

	return items
}

// GetDocument returns one document's metadata.
func (s *Service) GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("document %s not found", id)
	}
	return doc, err
}

// GetChunks returns a document's chunks in reading order.
func (s *Service) GetChunks(ctx context.Context, documentID uuid.UUID) ([]models.Chunk, error) {
	if _, err := s.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	chunks, err := s.store.ListChunks(ctx, documentID)
	if err != nil {
		return nil, apperr.TransientIO(err, "list chunks")
	}
	return chunks, nil
}

func (s *Service) sniffMime(data []byte) (string, error) {
	mime := mimetype.Detect(data)
	for _, allowed := range s.cfg.AllowedMimeTypes {
		if mime.Is(allowed) {
			return allowed, nil
		}
	}
	return "", apperr.UnsupportedFormat("detected type %q is not supported (allowed: %s)",
		mime.String(), strings.Join(s.cfg.AllowedMimeTypes, ", "))
}

func (s *Service) runScan(ctx context.Context, name string, data []byte) error {
	res, err := s.scan.Scan(ctx, data)
	switch res.Verdict {
	case scanner.Clean:
		return nil
	case scanner.Infected:
		s.log.Warn("malware detected in upload",
			logger.String("filename", name),
			logger.String("signature", res.Signature),
		)
		return apperr.MalwareDetected("upload rejected: %s", res.Signature)
	default:
		if s.cfg.ScannerFailClosed {
			return apperr.TransientIO(err, "malware scanner unavailable")
		}
		s.log.Warn("malware scanner unavailable, accepting unscanned upload",
			logger.String("filename", name),
			logger.Error(err),
		)
		return nil
	}
}

// undo reverses the metadata write and quota reservation after a post-commit
// step failed. Best effort; a leftover reservation is corrected by the next
// successful rollback or operator action.
func (s *Service) undo(ctx context.Context, doc *models.Document) {
	if err := s.store.RollbackDocument(ctx, doc.ID, doc.TenantID, doc.SizeBytes); err != nil {
		s.log.Error("rollback after failed upload",
			logger.String("documentId", doc.ID.String()),
			logger.Error(err),
		)
	}
}

func (s *Service) deleteBlob(ctx context.Context, key string) {
	if err := s.blobs.Delete(ctx, key); err != nil {
		s.log.Error("delete orphaned blob", logger.String("key", key), logger.Error(err))
	}
}

func storedFilename(id uuid.UUID, original string) string {
	return id.String() + filepath.Ext(original)
}

// sanitizeFilename reduces a client-supplied name to a safe base name.
func sanitizeFilename(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Validation("filename is required")
	}
	base := filepath.Base(filepath.ToSlash(name))
	if base == "." || base == ".." || base == "/" {
		return "", apperr.Validation("invalid filename %q", name)
	}
	if strings.ContainsAny(base, "\x00") {
		return "", apperr.Validation("invalid filename %q", name)
	}
	return base, nil
}
