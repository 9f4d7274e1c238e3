// Package repository is the PostgreSQL data access layer. Plain SQL through
// pgx, no ORM. Cross-entity invariants (quota + document insert, chunk batch
// + job completion) are enforced here inside single transactions so callers
// cannot get them wrong.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omnidocs/docpipe/config"
)

// Repository layer errors.
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so the entity
// repositories work inside and outside transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store bundles the entity repositories over one connection pool.
type Store struct {
	pool      *pgxpool.Pool
	Documents *DocumentRepo
	Chunks    *ChunkRepo
	Jobs      *JobRepo
	Sessions  *SessionRepo
	Tenants   *TenantRepo
}

// NewStore connects to Postgres, verifies the connection and bootstraps the
// schema.
func NewStore(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = cfg.MaxOpenConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := ensureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	return newStore(pool), nil
}

func newStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:      pool,
		Documents: &DocumentRepo{db: pool},
		Chunks:    &ChunkRepo{db: pool},
		Jobs:      &JobRepo{db: pool},
		Sessions:  &SessionRepo{db: pool},
		Tenants:   &TenantRepo{db: pool},
	}
}

func (s *Store) Close() {
	s.pool.Close()
}

// runInTx executes fn inside a transaction, rolling back on error.
func (s *Store) runInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// isUniqueViolation reports a PostgreSQL unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
