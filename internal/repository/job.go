package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/omnidocs/docpipe/internal/models"
)

type JobRepo struct {
	db DBTX
}

const jobColumns = `id, document_id, tenant_id, job_type, status,
	progress_percent, retry_count, max_retries, started_at, completed_at,
	COALESCE(error_message, ''), created_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.DocumentID, &j.TenantID, &j.JobType, &j.Status,
		&j.ProgressPercent, &j.RetryCount, &j.MaxRetries, &j.StartedAt,
		&j.CompletedAt, &j.ErrorMessage, &j.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}

func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

func insertJob(ctx context.Context, db DBTX, j *models.Job) error {
	_, err := db.Exec(ctx, `
		INSERT INTO jobs (id, document_id, tenant_id, job_type, status,
			progress_percent, retry_count, max_retries, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, 0, $6, $7)`,
		j.ID, j.DocumentID, j.TenantID, j.JobType, j.Status, j.MaxRetries,
		j.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Claim atomically moves a pending or retrying job to processing. Exactly
// one worker wins; re-delivery of a job that is already processing or in a
// terminal state returns ErrNotFound and the caller drops the delivery.
func (r *JobRepo) Claim(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE jobs SET status = $2, started_at = now()
		WHERE id = $1 AND status IN ($3, $4)
		RETURNING `+jobColumns,
		id, models.JobProcessing, models.JobPending, models.JobRetrying)
	return scanJob(row)
}

// UpdateProgress raises progress_percent. The GREATEST guard keeps progress
// monotonic within an attempt even under races.
func (r *JobRepo) UpdateProgress(ctx context.Context, id uuid.UUID, percent int) error {
	_, err := r.db.Exec(ctx, `
		UPDATE jobs SET progress_percent = GREATEST(progress_percent, $2)
		WHERE id = $1`,
		id, percent)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// MarkRetrying records a transient failure and bumps the retry counter.
// Progress drops back to zero: nothing from the aborted attempt is committed,
// and the monotonic guard only holds within one attempt.
func (r *JobRepo) MarkRetrying(ctx context.Context, id uuid.UUID, cause string) (*models.Job, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE jobs SET status = $2, retry_count = retry_count + 1,
			error_message = $3, progress_percent = 0
		WHERE id = $1 AND status = $4
		RETURNING `+jobColumns,
		id, models.JobRetrying, cause, models.JobProcessing)
	return scanJob(row)
}

// MarkFailed terminally fails a job.
func (r *JobRepo) MarkFailed(ctx context.Context, id uuid.UUID, cause string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE jobs SET status = $2, error_message = $3, completed_at = now()
		WHERE id = $1 AND status NOT IN ($4, $5)`,
		id, models.JobFailed, cause, models.JobCompleted, models.JobCancelled)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return nil
}

// Cancel moves a pending or processing job to cancelled. The worker observes
// the flag at its next progress milestone.
func (r *JobRepo) Cancel(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE jobs SET status = $2, completed_at = now()
		WHERE id = $1 AND status IN ($3, $4, $5)`,
		id, models.JobCancelled, models.JobPending, models.JobProcessing, models.JobRetrying)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Requeue resets a failed job to pending for a manual retry. The accumulated
// retry count is kept; only the error is cleared.
func (r *JobRepo) Requeue(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE jobs SET status = $2, error_message = NULL, completed_at = NULL,
			progress_percent = 0
		WHERE id = $1 AND status = $3
		RETURNING `+jobColumns,
		id, models.JobPending, models.JobFailed)
	return scanJob(row)
}
