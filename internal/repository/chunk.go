package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/omnidocs/docpipe/internal/models"
)

type ChunkRepo struct {
	db DBTX
}

func insertChunks(ctx context.Context, tx pgx.Tx, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	rows := make([][]any, len(chunks))
	for i, c := range chunks {
		rows[i] = []any{c.ID, c.DocumentID, c.ChunkOrder, c.ChunkType,
			c.TokenCount, c.StartPage, c.EndPage, c.ParentHeading, c.Content}
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"chunks"},
		[]string{"id", "document_id", "chunk_order", "chunk_type",
			"token_count", "start_page", "end_page", "parent_heading", "content"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}
	return nil
}

// ListByDocument returns a document's chunks in reading order.
func (r *ChunkRepo) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]models.Chunk, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, document_id, chunk_order, chunk_type, token_count,
			start_page, end_page, parent_heading, content
		FROM chunks WHERE document_id = $1
		ORDER BY chunk_order`,
		documentID)
	if err != nil {
		return nil, fmt.Errorf("select chunks: %w", err)
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkOrder, &c.ChunkType,
			&c.TokenCount, &c.StartPage, &c.EndPage, &c.ParentHeading,
			&c.Content); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
