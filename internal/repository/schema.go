package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ensureSchema creates the tables on first start. Statements are idempotent.
func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS tenants (
	id           BIGSERIAL PRIMARY KEY,
	name         TEXT NOT NULL UNIQUE,
	quota_bytes  BIGINT NOT NULL,
	used_bytes   BIGINT NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT tenants_quota_bounds CHECK (used_bytes >= 0 AND used_bytes <= quota_bytes)
);

CREATE TABLE IF NOT EXISTS documents (
	id                UUID PRIMARY KEY,
	tenant_id         BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	filename          TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	mime_type         TEXT NOT NULL,
	size_bytes        BIGINT NOT NULL,
	content_hash      TEXT NOT NULL,
	storage_key       TEXT NOT NULL,
	page_count        INT,
	language          TEXT,
	status            TEXT NOT NULL DEFAULT 'uploaded',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT documents_tenant_hash UNIQUE (tenant_id, content_hash)
);
CREATE INDEX IF NOT EXISTS idx_documents_tenant ON documents(tenant_id);

CREATE TABLE IF NOT EXISTS chunks (
	id             UUID PRIMARY KEY,
	document_id    UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	chunk_order    INT NOT NULL,
	chunk_type     TEXT NOT NULL DEFAULT 'text',
	token_count    INT NOT NULL,
	start_page     INT,
	end_page       INT,
	parent_heading TEXT,
	content        TEXT NOT NULL,
	CONSTRAINT chunks_doc_order UNIQUE (document_id, chunk_order),
	CONSTRAINT chunks_content_nonempty CHECK (content <> ''),
	CONSTRAINT chunks_page_range CHECK (start_page IS NULL OR end_page IS NULL OR start_page <= end_page)
);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);

CREATE TABLE IF NOT EXISTS jobs (
	id               UUID PRIMARY KEY,
	document_id      UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	tenant_id        BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	job_type         TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'pending',
	progress_percent INT NOT NULL DEFAULT 0,
	retry_count      INT NOT NULL DEFAULT 0,
	max_retries      INT NOT NULL DEFAULT 3,
	started_at       TIMESTAMPTZ,
	completed_at     TIMESTAMPTZ,
	error_message    TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT jobs_progress_bounds CHECK (progress_percent >= 0 AND progress_percent <= 100)
);
CREATE INDEX IF NOT EXISTS idx_jobs_document ON jobs(document_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);

CREATE TABLE IF NOT EXISTS upload_sessions (
	id             UUID PRIMARY KEY,
	tenant_id      BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	user_id        BIGINT NOT NULL,
	filename       TEXT NOT NULL,
	total_bytes    BIGINT NOT NULL,
	received_bytes BIGINT NOT NULL DEFAULT 0,
	chunk_bytes    BIGINT NOT NULL,
	staging_path   TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'active',
	expires_at     TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT sessions_received_bounds CHECK (received_bytes >= 0 AND received_bytes <= total_bytes)
);
CREATE INDEX IF NOT EXISTS idx_sessions_expiry ON upload_sessions(status, expires_at);
`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("apply ddl: %w", err)
	}
	return nil
}
