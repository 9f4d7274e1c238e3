package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/omnidocs/docpipe/internal/models"
)

type DocumentRepo struct {
	db DBTX
}

const documentColumns = `id, tenant_id, filename, original_filename, mime_type,
	size_bytes, content_hash, storage_key, page_count, language, status,
	created_at, updated_at`

func scanDocument(row pgx.Row) (*models.Document, error) {
	var d models.Document
	err := row.Scan(&d.ID, &d.TenantID, &d.Filename, &d.OriginalFilename,
		&d.MimeType, &d.SizeBytes, &d.ContentHash, &d.StorageKey,
		&d.PageCount, &d.Language, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return &d, nil
}

func (r *DocumentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	return scanDocument(row)
}

// FindByHash looks up a document by its duplicate-detection key.
func (r *DocumentRepo) FindByHash(ctx context.Context, tenantID int64, hash string) (*models.Document, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE tenant_id = $1 AND content_hash = $2`,
		tenantID, hash)
	return scanDocument(row)
}

func insertDocument(ctx context.Context, db DBTX, d *models.Document) error {
	_, err := db.Exec(ctx, `
		INSERT INTO documents (id, tenant_id, filename, original_filename,
			mime_type, size_bytes, content_hash, storage_key, status,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`,
		d.ID, d.TenantID, d.Filename, d.OriginalFilename, d.MimeType,
		d.SizeBytes, d.ContentHash, d.StorageKey, d.Status, d.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// UpdateStatus moves a document through the parsing lifecycle.
func (r *DocumentRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.DocumentStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE documents SET status = $2, updated_at = now() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
