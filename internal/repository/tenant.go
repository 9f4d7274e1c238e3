package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/omnidocs/docpipe/internal/models"
)

// TenantRepo is the quota ledger. Reservation is a single conditional UPDATE
// so two concurrent uploads for the same tenant can never both pass a check
// against stale used_bytes.
type TenantRepo struct {
	db DBTX
}

// ErrQuotaExceeded is returned when a reservation would push used_bytes past
// quota_bytes. No reservation is applied in that case.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

func (r *TenantRepo) GetByID(ctx context.Context, id int64) (*models.Tenant, error) {
	var t models.Tenant
	err := r.db.QueryRow(ctx,
		`SELECT id, name, quota_bytes, used_bytes, created_at FROM tenants WHERE id = $1`,
		id).Scan(&t.ID, &t.Name, &t.QuotaBytes, &t.UsedBytes, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select tenant: %w", err)
	}
	return &t, nil
}

func (r *TenantRepo) Create(ctx context.Context, t *models.Tenant) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO tenants (name, quota_bytes, used_bytes)
		VALUES ($1, $2, 0)
		RETURNING id, created_at`,
		t.Name, t.QuotaBytes).Scan(&t.ID, &t.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

// reserveQuota atomically checks and increments used_bytes inside the
// caller's transaction. Filling the quota exactly is allowed; one byte over
// fails.
func reserveQuota(ctx context.Context, db DBTX, tenantID, size int64) error {
	tag, err := db.Exec(ctx, `
		UPDATE tenants SET used_bytes = used_bytes + $2
		WHERE id = $1 AND used_bytes + $2 <= quota_bytes`,
		tenantID, size)
	if err != nil {
		return fmt.Errorf("reserve quota: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing tenant from an exhausted quota.
		var exists bool
		if err := db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1)`, tenantID).Scan(&exists); err != nil {
			return fmt.Errorf("check tenant: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrQuotaExceeded
	}
	return nil
}

// ReleaseQuota returns a failed or deleted upload's bytes to the tenant.
// The ledger never goes below zero.
func (r *TenantRepo) ReleaseQuota(ctx context.Context, tenantID, size int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE tenants SET used_bytes = GREATEST(used_bytes - $2, 0)
		WHERE id = $1`,
		tenantID, size)
	if err != nil {
		return fmt.Errorf("release quota: %w", err)
	}
	return nil
}
