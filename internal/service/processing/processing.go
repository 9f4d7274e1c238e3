// Package processing runs parse jobs on the worker pool and owns the job
// state machine. Claiming is a conditional database update, so a duplicate
// queue delivery can never run the same job twice, and completion commits
// chunks, document metadata and the terminal job state in one transaction.
package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/omnidocs/docpipe/internal/apperr"
	"github.com/omnidocs/docpipe/internal/chunker"
	"github.com/omnidocs/docpipe/internal/models"
	"github.com/omnidocs/docpipe/internal/parser"
	"github.com/omnidocs/docpipe/internal/repository"
	"github.com/omnidocs/docpipe/pkg/logger"
	"github.com/omnidocs/docpipe/pkg/queue"
	"github.com/omnidocs/docpipe/pkg/storage"
)

// Store is the persistence surface the orchestrator needs. *repository.Store
// satisfies it.
type Store interface {
	GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status models.DocumentStatus) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ClaimJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateJobProgress(ctx context.Context, id uuid.UUID, percent int) error
	MarkJobRetrying(ctx context.Context, id uuid.UUID, cause string) (*models.Job, error)
	RequeueJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	CancelJob(ctx context.Context, id uuid.UUID) error
	CompleteJob(ctx context.Context, jobID, documentID uuid.UUID, pageCount *int, language *string, chunks []models.Chunk) error
	FailJobTerminally(ctx context.Context, jobID, documentID uuid.UUID, cause string) error
}

// Parsers resolves a parser for a detected MIME type. *parser.Registry
// satisfies it.
type Parsers interface {
	Get(mimeType string) (parser.Parser, error)
}

// Config carries the per-job execution policy.
type Config struct {
	ParseTimeout time.Duration
}

type Service struct {
	store   Store
	blobs   storage.Store
	parsers Parsers
	chunks  *chunker.Chunker
	queue   queue.Queue
	log     logger.Logger
	cfg     Config
}

// NewService builds the orchestrator. parsers and ch are only needed by the
// worker's Process path; the API process passes nil and uses the job
// operations alone.
func NewService(store Store, blobs storage.Store, parsers Parsers, ch *chunker.Chunker, q queue.Queue, log logger.Logger, cfg Config) *Service {
	return &Service{
		store:   store,
		blobs:   blobs,
		parsers: parsers,
		chunks:  ch,
		queue:   q,
		log:     log,
		cfg:     cfg,
	}
}

// HandleParse is the asynq entry point for one delivery.
func (s *Service) HandleParse(ctx context.Context, t *asynq.Task) error {
	var p queue.ParsePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("malformed parse payload: %v: %w", err, asynq.SkipRetry)
	}
	return s.Process(ctx, p.JobID)
}

// Process executes one parse job end to end.
func (s *Service) Process(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.store.ClaimJob(ctx, jobID)
	if errors.Is(err, repository.ErrNotFound) {
		// Already claimed, finished or cancelled. Drop the delivery.
		s.log.Debug("dropping duplicate or stale delivery", logger.String("jobId", jobID.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}

	log := s.log.With(
		logger.String("jobId", job.ID.String()),
		logger.String("documentId", job.DocumentID.String()),
	)
	log.Info("parse job started", logger.Int("retryCount", job.RetryCount))

	if err := s.run(ctx, job, log); err != nil {
		return s.settle(ctx, job, err, log)
	}
	return nil
}

// run performs the pipeline stages, checking for cancellation at each
// progress milestone.
func (s *Service) run(ctx context.Context, job *models.Job, log logger.Logger) error {
	doc, err := s.store.GetDocument(ctx, job.DocumentID)
	if err != nil {
		return apperr.TransientIO(err, "load document")
	}
	if err := s.store.UpdateDocumentStatus(ctx, doc.ID, models.DocumentParsing); err != nil {
		return apperr.TransientIO(err, "mark document parsing")
	}

	data, err := s.fetch(ctx, doc.StorageKey)
	if err != nil {
		return err
	}
	if stop, err := s.milestone(ctx, job, doc, 25); stop || err != nil {
		return err
	}

	p, err := s.parsers.Get(doc.MimeType)
	if err != nil {
		// Format gap discovered after upload; nothing a retry can fix.
		return apperr.FatalParse(err, "no parser for stored document")
	}

	parseCtx, cancel := context.WithTimeout(ctx, s.cfg.ParseTimeout)
	res, err := s.extract(parseCtx, p, data)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperr.TransientIO(err, "parse timed out after %s", s.cfg.ParseTimeout)
		}
		if errors.Is(err, context.Canceled) {
			return apperr.TransientIO(err, "parse interrupted")
		}
		return err
	}
	if stop, err := s.milestone(ctx, job, doc, 50); stop || err != nil {
		return err
	}

	pieces := s.chunks.Chunk(res.Text, res.PageBoundaries)
	if stop, err := s.milestone(ctx, job, doc, 75); stop || err != nil {
		return err
	}

	rows := make([]models.Chunk, len(pieces))
	for i, c := range pieces {
		rows[i] = models.Chunk{
			ID:            uuid.New(),
			DocumentID:    doc.ID,
			ChunkOrder:    c.Order,
			ChunkType:     c.Type,
			TokenCount:    c.TokenCount,
			StartPage:     c.StartPage,
			EndPage:       c.EndPage,
			ParentHeading: c.ParentHeading,
			Content:       c.Content,
		}
	}

	var pageCount *int
	if res.PageCount > 0 {
		pageCount = &res.PageCount
	}
	var language *string
	if res.Language != "" {
		language = &res.Language
	}

	if err := s.store.CompleteJob(ctx, job.ID, doc.ID, pageCount, language, rows); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Cancelled between the last milestone and commit.
			log.Info("parse job cancelled at completion")
			return nil
		}
		return apperr.TransientIO(err, "commit parse results")
	}

	log.Info("parse job completed", logger.Int("chunks", len(rows)))
	return nil
}

// extract runs the parser on its own goroutine and returns as soon as the
// deadline fires, whether or not the parser honors the context. A parser that
// ignores cancellation is abandoned with its result discarded; the worker
// slot is freed either way.
func (s *Service) extract(ctx context.Context, p parser.Parser, data []byte) (*parser.ExtractResult, error) {
	type outcome struct {
		res *parser.ExtractResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := p.Extract(ctx, data)
		done <- outcome{res, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-done:
		return out.res, out.err
	}
}

func (s *Service) fetch(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.blobs.Get(ctx, key)
	if err != nil {
		return nil, apperr.TransientIO(err, "fetch content %s", key)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, apperr.TransientIO(err, "read content %s", key)
	}
	return data, nil
}

// milestone raises progress and observes a cancellation request. A cancelled
// job stops cleanly: the document reverts to uploaded and no chunks are
// written.
func (s *Service) milestone(ctx context.Context, job *models.Job, doc *models.Document, percent int) (stop bool, err error) {
	fresh, err := s.store.GetJob(ctx, job.ID)
	if err != nil {
		return false, apperr.TransientIO(err, "reload job")
	}
	if fresh.Status == models.JobCancelled {
		s.log.Info("parse job cancelled",
			logger.String("jobId", job.ID.String()),
			logger.Int("atPercent", percent),
		)
		if err := s.store.UpdateDocumentStatus(ctx, doc.ID, models.DocumentUploaded); err != nil {
			s.log.Error("revert document after cancel", logger.Error(err))
		}
		return true, nil
	}
	if err := s.store.UpdateJobProgress(ctx, job.ID, percent); err != nil {
		return false, apperr.TransientIO(err, "update progress")
	}
	return false, nil
}

// settle translates a pipeline error into the job's next state. Transient
// errors inside the retry budget go back to the queue with backoff; anything
// else is terminal.
func (s *Service) settle(ctx context.Context, job *models.Job, cause error, log logger.Logger) error {
	if apperr.IsTransient(cause) && job.RetryCount < job.MaxRetries {
		if _, err := s.store.MarkJobRetrying(ctx, job.ID, cause.Error()); err != nil {
			log.Error("mark job retrying", logger.Error(err))
			return fmt.Errorf("%v (and could not persist retry state: %w)", cause, err)
		}
		log.Warn("parse job will retry",
			logger.Int("retryCount", job.RetryCount+1),
			logger.Int("maxRetries", job.MaxRetries),
			logger.Error(cause),
		)
		return cause
	}

	if err := s.store.FailJobTerminally(ctx, job.ID, job.DocumentID, cause.Error()); err != nil {
		log.Error("mark job failed", logger.Error(err))
	}
	log.Error("parse job failed terminally", logger.Error(cause))
	return fmt.Errorf("%v: %w", cause, asynq.SkipRetry)
}

// GetJob reports one job's state.
func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("job %s not found", id)
	}
	return job, err
}

// Retry requeues a failed job for a manual retry and enqueues a fresh
// delivery. Only failed jobs are eligible.
func (s *Service) Retry(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := s.store.RequeueJob(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		if _, getErr := s.store.GetJob(ctx, id); errors.Is(getErr, repository.ErrNotFound) {
			return nil, apperr.NotFound("job %s not found", id)
		}
		return nil, apperr.New(apperr.CodeConflict, "only failed jobs can be retried")
	}
	if err != nil {
		return nil, apperr.TransientIO(err, "requeue job")
	}

	if err := s.queue.EnqueueManualRetry(ctx, queue.ParsePayload{
		JobID:      job.ID,
		DocumentID: job.DocumentID,
		TenantID:   job.TenantID,
	}); err != nil {
		return nil, apperr.TransientIO(err, "enqueue retry")
	}
	s.log.Info("parse job requeued", logger.String("jobId", id.String()))
	return job, nil
}

// Cancel requests cancellation. A pending job never starts; a processing job
// stops at its next milestone.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	err := s.store.CancelJob(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		if _, getErr := s.store.GetJob(ctx, id); errors.Is(getErr, repository.ErrNotFound) {
			return apperr.NotFound("job %s not found", id)
		}
		return apperr.New(apperr.CodeConflict, "job %s is already finished", id)
	}
	return err
}
