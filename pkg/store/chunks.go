package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

const chunkColumns = `id, document_id, collection_id, chunk_index, content, token_count, metadata, annotations`

// InsertChunks persists a document's chunks in one transaction. Indices
// are assigned 0-based in slice order.
func (s *Store) InsertChunks(ctx context.Context, documentID, collectionID string, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.rebind(
			`INSERT INTO chunks (`+chunkColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("failed to prepare chunk insert: %w", err)
		}
		defer stmt.Close()

		for i, c := range chunks {
			c.ID = uuid.NewString()
			c.DocumentID = documentID
			c.CollectionID = collectionID
			c.ChunkIndex = i
			if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.CollectionID,
				c.ChunkIndex, c.Content, c.TokenCount, c.Metadata, c.Annotations); err != nil {
				return fmt.Errorf("failed to insert chunk %d: %w", i, err)
			}
		}
		return nil
	})
}

// DeleteChunksForDocument removes every chunk of a document, used when
// cleaning up after a failed ingestion or before a reprocess.
func (s *Store) DeleteChunksForDocument(ctx context.Context, documentID string) error {
	if _, err := s.exec(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// GetChunk fetches a single chunk by id.
func (s *Store) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	c := &Chunk{}
	err := s.queryRow(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id).
		Scan(&c.ID, &c.DocumentID, &c.CollectionID, &c.ChunkIndex, &c.Content,
			&c.TokenCount, &c.Metadata, &c.Annotations)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chunk: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan chunk: %w", err)
	}
	return c, nil
}

// GetChunksByIDs resolves a batch of chunk ids in one query; missing
// ids are silently skipped.
func (s *Store) GetChunksByIDs(ctx context.Context, ids []string) (map[string]*Chunk, error) {
	out := make(map[string]*Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := ""
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args[i] = id
	}

	rows, err := s.query(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanChunkRows(rows)
		if err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

// GetChunksByDocument returns a document's chunks ordered by index.
func (s *Store) GetChunksByDocument(ctx context.Context, documentID string) ([]*Chunk, error) {
	rows, err := s.query(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE document_id = ? ORDER BY chunk_index`,
		documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document chunks: %w", err)
	}
	defer rows.Close()
	return collectChunks(rows)
}

// GetNeighborChunks fetches the chunks at index-1 and index+1 of the
// given chunk, for context expansion around a retrieval hit. Either
// neighbor may be nil at document boundaries.
func (s *Store) GetNeighborChunks(ctx context.Context, documentID string, chunkIndex int) (prev, next *Chunk, err error) {
	rows, err := s.query(ctx,
		`SELECT `+chunkColumns+` FROM chunks
         WHERE document_id = ? AND chunk_index IN (?, ?) ORDER BY chunk_index`,
		documentID, chunkIndex-1, chunkIndex+1)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch neighbor chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanChunkRows(rows)
		if err != nil {
			return nil, nil, err
		}
		if c.ChunkIndex < chunkIndex {
			prev = c
		} else {
			next = c
		}
	}
	return prev, next, rows.Err()
}

// ListChunksByCollection streams a collection's chunks for keyword
// index rebuilds at startup.
func (s *Store) ListChunksByCollection(ctx context.Context, collectionID string) ([]*Chunk, error) {
	rows, err := s.query(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE collection_id = ? ORDER BY document_id, chunk_index`,
		collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list collection chunks: %w", err)
	}
	defer rows.Close()
	return collectChunks(rows)
}

// ListCollectionIDs returns every collection id in the system, for the
// startup keyword rebuild.
func (s *Store) ListCollectionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, `SELECT id FROM collections`)
	if err != nil {
		return nil, fmt.Errorf("failed to list collection ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func collectChunks(rows *sql.Rows) ([]*Chunk, error) {
	var out []*Chunk
	for rows.Next() {
		c, err := scanChunkRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanChunkRows(rows *sql.Rows) (*Chunk, error) {
	c := &Chunk{}
	err := rows.Scan(&c.ID, &c.DocumentID, &c.CollectionID, &c.ChunkIndex, &c.Content,
		&c.TokenCount, &c.Metadata, &c.Annotations)
	if err != nil {
		return nil, fmt.Errorf("failed to scan chunk: %w", err)
	}
	return c, nil
}
