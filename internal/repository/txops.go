package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/omnidocs/docpipe/internal/models"
)

// Forwarders so services can declare narrow interfaces satisfied by *Store.

func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	return s.Documents.GetByID(ctx, id)
}

func (s *Store) FindDocumentByHash(ctx context.Context, tenantID int64, hash string) (*models.Document, error) {
	return s.Documents.FindByHash(ctx, tenantID, hash)
}

func (s *Store) ListChunks(ctx context.Context, documentID uuid.UUID) ([]models.Chunk, error) {
	return s.Chunks.ListByDocument(ctx, documentID)
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return s.Jobs.GetByID(ctx, id)
}

func (s *Store) ClaimJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return s.Jobs.Claim(ctx, id)
}

func (s *Store) UpdateJobProgress(ctx context.Context, id uuid.UUID, percent int) error {
	return s.Jobs.UpdateProgress(ctx, id, percent)
}

func (s *Store) MarkJobRetrying(ctx context.Context, id uuid.UUID, cause string) (*models.Job, error) {
	return s.Jobs.MarkRetrying(ctx, id, cause)
}

func (s *Store) RequeueJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return s.Jobs.Requeue(ctx, id)
}

func (s *Store) CancelJob(ctx context.Context, id uuid.UUID) error {
	return s.Jobs.Cancel(ctx, id)
}

func (s *Store) UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status models.DocumentStatus) error {
	return s.Documents.UpdateStatus(ctx, id, status)
}

// CreateDocumentWithJob reserves quota for the document's size and persists
// the document plus its parse job in one transaction. On ErrQuotaExceeded or
// ErrConflict nothing is written and the ledger is untouched.
func (s *Store) CreateDocumentWithJob(ctx context.Context, d *models.Document, j *models.Job) error {
	return s.runInTx(ctx, func(tx pgx.Tx) error {
		if err := reserveQuota(ctx, tx, d.TenantID, d.SizeBytes); err != nil {
			return err
		}
		if err := insertDocument(ctx, tx, d); err != nil {
			return err
		}
		return insertJob(ctx, tx, j)
	})
}

// RollbackDocument undoes CreateDocumentWithJob after a later pipeline step
// failed: the document and job rows go away and the reserved bytes return to
// the tenant's ledger.
func (s *Store) RollbackDocument(ctx context.Context, documentID uuid.UUID, tenantID, size int64) error {
	return s.runInTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM jobs WHERE document_id = $1`, documentID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM documents WHERE id = $1`, documentID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE tenants SET used_bytes = GREATEST(used_bytes - $2, 0)
			WHERE id = $1`,
			tenantID, size)
		return err
	})
}

// CompleteJob commits a successful parse: the chunk batch, the document's
// parsed metadata and the job's terminal state land atomically. A crash
// before commit leaves the job claimable again with no partial chunks
// visible.
func (s *Store) CompleteJob(ctx context.Context, jobID, documentID uuid.UUID, pageCount *int, language *string, chunks []models.Chunk) error {
	return s.runInTx(ctx, func(tx pgx.Tx) error {
		// Replace any chunks left behind by an earlier interrupted attempt.
		if _, err := tx.Exec(ctx,
			`DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
			return err
		}
		if err := insertChunks(ctx, tx, chunks); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE documents SET status = $2, page_count = $3, language = $4,
				updated_at = now()
			WHERE id = $1`,
			documentID, models.DocumentParsed, pageCount, language); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE jobs SET status = $2, progress_percent = 100, completed_at = now()
			WHERE id = $1 AND status = $3`,
			jobID, models.JobCompleted, models.JobProcessing)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// FailJobTerminally marks the job failed and the document failed together.
func (s *Store) FailJobTerminally(ctx context.Context, jobID, documentID uuid.UUID, cause string) error {
	return s.runInTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE jobs SET status = $2, error_message = $3, completed_at = now()
			WHERE id = $1 AND status NOT IN ($4, $5)`,
			jobID, models.JobFailed, cause, models.JobCompleted, models.JobCancelled); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE documents SET status = $2, updated_at = now() WHERE id = $1`,
			documentID, models.DocumentFailed)
		return err
	})
}
