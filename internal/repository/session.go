package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/omnidocs/docpipe/internal/models"
)

type SessionRepo struct {
	db DBTX
}

const sessionColumns = `id, tenant_id, user_id, filename, total_bytes,
	received_bytes, chunk_bytes, staging_path, status, expires_at,
	created_at, updated_at`

func scanSession(row pgx.Row) (*models.UploadSession, error) {
	var s models.UploadSession
	err := row.Scan(&s.ID, &s.TenantID, &s.UserID, &s.Filename, &s.TotalBytes,
		&s.ReceivedBytes, &s.ChunkBytes, &s.StagingPath, &s.Status,
		&s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &s, nil
}

func (r *SessionRepo) Create(ctx context.Context, s *models.UploadSession) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO upload_sessions (id, tenant_id, user_id, filename,
			total_bytes, received_bytes, chunk_bytes, staging_path, status,
			expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $9, $10, $10)`,
		s.ID, s.TenantID, s.UserID, s.Filename, s.TotalBytes, s.ChunkBytes,
		s.StagingPath, s.Status, s.ExpiresAt, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *SessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.UploadSession, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM upload_sessions WHERE id = $1`, id)
	return scanSession(row)
}

// AdvanceBytes moves received_bytes from expected to next for an active
// session. The conditional WHERE makes the advance atomic: a stale or
// concurrent writer loses and gets ErrNotFound.
func (r *SessionRepo) AdvanceBytes(ctx context.Context, id uuid.UUID, expected, next int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE upload_sessions SET received_bytes = $3, updated_at = now()
		WHERE id = $1 AND status = $4 AND received_bytes = $2`,
		id, expected, next, models.SessionActive)
	if err != nil {
		return fmt.Errorf("advance session bytes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus transitions a session, restricted to the given prior states.
func (r *SessionRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.SessionStatus, from ...models.SessionStatus) error {
	fromSet := make([]string, len(from))
	for i, f := range from {
		fromSet[i] = string(f)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE upload_sessions SET status = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3)`,
		id, status, fromSet)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListExpired returns active sessions past their expiry, for the sweeper.
func (r *SessionRepo) ListExpired(ctx context.Context, limit int) ([]models.UploadSession, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+sessionColumns+` FROM upload_sessions
		WHERE status = $1 AND expires_at < now()
		ORDER BY expires_at
		LIMIT $2`,
		models.SessionActive, limit)
	if err != nil {
		return nil, fmt.Errorf("select expired sessions: %w", err)
	}
	defer rows.Close()

	var out []models.UploadSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
