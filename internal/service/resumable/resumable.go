// Package resumable implements chunked upload sessions. Partial bytes are
// staged on local disk; only when the final byte arrives does the file enter
// the normal ingestion path, so quota is reserved at completion and an
// abandoned session never holds quota.
package resumable

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/omnidocs/docpipe/internal/apperr"
	"github.com/omnidocs/docpipe/internal/models"
	"github.com/omnidocs/docpipe/internal/repository"
	"github.com/omnidocs/docpipe/internal/service/upload"
	"github.com/omnidocs/docpipe/pkg/logger"
)

// Sessions is the session persistence the service needs. *repository.SessionRepo
// satisfies it.
type Sessions interface {
	Create(ctx context.Context, s *models.UploadSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.UploadSession, error)
	AdvanceBytes(ctx context.Context, id uuid.UUID, expected, next int64) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.SessionStatus, from ...models.SessionStatus) error
	ListExpired(ctx context.Context, limit int) ([]models.UploadSession, error)
}

// Ingestor runs the standard acceptance gates on the assembled file.
// *upload.Service satisfies it.
type Ingestor interface {
	Upload(ctx context.Context, req upload.Request) (*upload.Result, error)
}

// Config carries the session policy.
type Config struct {
	StagingDir   string
	SessionTTL   time.Duration
	MaxSizeBytes int64
}

type Service struct {
	sessions Sessions
	ingestor Ingestor
	log      logger.Logger
	cfg      Config
	now      func() time.Time
}

func NewService(sessions Sessions, ingestor Ingestor, log logger.Logger, cfg Config) *Service {
	return &Service{
		sessions: sessions,
		ingestor: ingestor,
		log:      log,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Init opens a new session. No quota is reserved here; an initialized
// session that never completes costs nothing but staging disk until the
// sweeper reclaims it.
func (s *Service) Init(ctx context.Context, tenantID, userID int64, filename string, totalBytes, chunkBytes int64) (*models.UploadSession, error) {
	if filename == "" {
		return nil, apperr.Validation("filename is required")
	}
	if totalBytes <= 0 {
		return nil, apperr.Validation("totalBytes must be positive")
	}
	if totalBytes > s.cfg.MaxSizeBytes {
		return nil, apperr.Validation("file size %d exceeds limit of %d bytes", totalBytes, s.cfg.MaxSizeBytes)
	}
	if chunkBytes <= 0 || chunkBytes > totalBytes {
		return nil, apperr.Validation("chunkBytes must be between 1 and totalBytes")
	}

	if err := os.MkdirAll(s.cfg.StagingDir, 0o755); err != nil {
		return nil, apperr.TransientIO(err, "create staging dir")
	}

	now := s.now().UTC()
	sess := &models.UploadSession{
		ID:          uuid.New(),
		TenantID:    tenantID,
		UserID:      userID,
		Filename:    filename,
		TotalBytes:  totalBytes,
		ChunkBytes:  chunkBytes,
		Status:      models.SessionActive,
		ExpiresAt:   now.Add(s.cfg.SessionTTL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	sess.StagingPath = filepath.Join(s.cfg.StagingDir, sess.ID.String()+".part")

	f, err := os.OpenFile(sess.StagingPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, apperr.TransientIO(err, "create staging file")
	}
	f.Close()

	if err := s.sessions.Create(ctx, sess); err != nil {
		os.Remove(sess.StagingPath)
		return nil, apperr.TransientIO(err, "create session")
	}

	s.log.Info("upload session opened",
		logger.String("sessionId", sess.ID.String()),
		logger.Int64("tenantId", tenantID),
		logger.Int64("totalBytes", totalBytes),
	)
	return sess, nil
}

// Progress is the outcome of one chunk. Result is set once the final byte
// arrived and the assembled file passed ingestion.
type Progress struct {
	Session *models.UploadSession `json:"session"`
	Result  *upload.Result        `json:"result,omitempty"`
}

// PutChunk appends one chunk at the given byte offset. Chunks must arrive in
// order; retransmitting an already-received range is a no-op that reports the
// current state, so clients can blindly resend after a dropped response.
func (s *Service) PutChunk(ctx context.Context, id uuid.UUID, offset int64, data []byte) (*Progress, error) {
	sess, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.SessionActive {
		return nil, apperr.New(apperr.CodeConflict, "session %s is %s", id, sess.Status)
	}
	if s.now().After(sess.ExpiresAt) {
		return nil, apperr.New(apperr.CodeConflict, "session %s has expired", id)
	}

	n := int64(len(data))
	if n == 0 {
		return nil, apperr.Validation("chunk is empty")
	}

	// Retransmission of a fully-received range.
	if offset+n <= sess.ReceivedBytes {
		return s.maybeComplete(ctx, sess)
	}
	if offset != sess.ReceivedBytes {
		return nil, apperr.Validation("out of order chunk: expected offset %d, got %d", sess.ReceivedBytes, offset)
	}
	next := offset + n
	if next > sess.TotalBytes {
		return nil, apperr.Validation("chunk exceeds declared total of %d bytes", sess.TotalBytes)
	}
	// Every chunk but the last must be exactly the negotiated size.
	if n != sess.ChunkBytes && next != sess.TotalBytes {
		return nil, apperr.Validation("chunk size %d does not match negotiated %d", n, sess.ChunkBytes)
	}

	if err := s.writeAt(sess.StagingPath, offset, data); err != nil {
		return nil, apperr.TransientIO(err, "stage chunk")
	}

	if err := s.sessions.AdvanceBytes(ctx, id, offset, next); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// A concurrent writer advanced first; its bytes are identical
			// by the in-order rule. Reload so the reported state is the
			// row's, not this call's stale copy.
			fresh, gerr := s.get(ctx, id)
			if gerr != nil {
				return nil, gerr
			}
			return s.maybeComplete(ctx, fresh)
		}
		return nil, apperr.TransientIO(err, "advance session")
	}
	sess.ReceivedBytes = next

	return s.maybeComplete(ctx, sess)
}

// maybeComplete hands the assembled file to the ingestion gates once all
// bytes are in. Completion failures (quota, malware, unsupported type) leave
// the session active so a freed quota can be retried by resending the final
// chunk.
func (s *Service) maybeComplete(ctx context.Context, sess *models.UploadSession) (*Progress, error) {
	if sess.ReceivedBytes < sess.TotalBytes {
		return &Progress{Session: sess}, nil
	}

	data, err := os.ReadFile(sess.StagingPath)
	if err != nil {
		return nil, apperr.TransientIO(err, "read staged file")
	}
	if int64(len(data)) != sess.TotalBytes {
		return nil, apperr.TransientIO(
			fmt.Errorf("staged %d bytes, expected %d", len(data), sess.TotalBytes),
			"staged file incomplete")
	}

	res, err := s.ingestor.Upload(ctx, upload.Request{
		TenantID: sess.TenantID,
		Filename: sess.Filename,
		Data:     data,
	})
	if err != nil {
		return nil, err
	}

	if err := s.sessions.UpdateStatus(ctx, sess.ID, models.SessionCompleted, models.SessionActive); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.log.Error("mark session completed", logger.String("sessionId", sess.ID.String()), logger.Error(err))
	}
	s.removeStaging(sess)
	sess.Status = models.SessionCompleted

	s.log.Info("upload session completed",
		logger.String("sessionId", sess.ID.String()),
		logger.String("documentId", res.Document.ID.String()),
	)
	return &Progress{Session: sess, Result: res}, nil
}

// Get reports the session state, including how many bytes the server has, so
// an interrupted client knows where to resume.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.UploadSession, error) {
	return s.get(ctx, id)
}

// Cancel aborts an active session and discards its staged bytes.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	sess, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.sessions.UpdateStatus(ctx, id, models.SessionCancelled, models.SessionActive); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.New(apperr.CodeConflict, "session %s is %s", id, sess.Status)
		}
		return apperr.TransientIO(err, "cancel session")
	}
	s.removeStaging(sess)
	return nil
}

// SweepExpired expires overdue sessions and reclaims their staging files.
// Returns the number of sessions swept.
func (s *Service) SweepExpired(ctx context.Context, limit int) (int, error) {
	expired, err := s.sessions.ListExpired(ctx, limit)
	if err != nil {
		return 0, err
	}
	swept := 0
	for i := range expired {
		sess := &expired[i]
		if err := s.sessions.UpdateStatus(ctx, sess.ID, models.SessionExpired, models.SessionActive); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue // raced with a chunk completing the session
			}
			return swept, err
		}
		s.removeStaging(sess)
		swept++
	}
	if swept > 0 {
		s.log.Info("expired upload sessions swept", logger.Int("count", swept))
	}
	return swept, nil
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*models.UploadSession, error) {
	sess, err := s.sessions.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("upload session %s not found", id)
	}
	if err != nil {
		return nil, apperr.TransientIO(err, "load session")
	}
	return sess, nil
}

func (s *Service) writeAt(path string, offset int64, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteAt(data, offset); err != nil {
		return err
	}
	return f.Sync()
}

func (s *Service) removeStaging(sess *models.UploadSession) {
	if err := os.Remove(sess.StagingPath); err != nil && !os.IsNotExist(err) {
		s.log.Warn("remove staging file",
			logger.String("path", sess.StagingPath),
			logger.Error(err),
		)
	}
}
