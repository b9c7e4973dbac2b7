package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateCollection inserts a collection owned by userID.
func (s *Store) CreateCollection(ctx context.Context, userID, name, description string, metadata JSONMap, cfg CollectionConfig) (*Collection, error) {
	now := time.Now().UTC()
	c := &Collection{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        name,
		Description: description,
		Metadata:    metadata,
		Config:      cfg,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal collection config: %w", err)
	}

	_, err = s.exec(ctx,
		`INSERT INTO collections (id, user_id, name, description, metadata, config, document_count, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		c.ID, c.UserID, c.Name, c.Description, c.Metadata, string(cfgJSON), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	return c, nil
}

// GetCollection fetches a collection, enforcing ownership.
func (s *Store) GetCollection(ctx context.Context, userID, id string) (*Collection, error) {
	c, err := s.scanCollection(s.queryRow(ctx,
		`SELECT id, user_id, name, description, metadata, config, document_count, created_at, updated_at
         FROM collections WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, fmt.Errorf("collection %s: %w", id, ErrForbidden)
	}
	return c, nil
}

// ListCollections returns the user's collections ordered by creation time.
func (s *Store) ListCollections(ctx context.Context, userID string, page Page) ([]*Collection, int, error) {
	page = page.Clamp()

	var total int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM collections WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count collections: %w", err)
	}

	rows, err := s.query(ctx,
		`SELECT id, user_id, name, description, metadata, config, document_count, created_at, updated_at
         FROM collections WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		userID, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	var out []*Collection
	for rows.Next() {
		c, err := s.scanCollectionRows(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// CollectionPatch holds optional collection updates; nil fields are
// left untouched.
type CollectionPatch struct {
	Name        *string
	Description *string
	Metadata    JSONMap
	Config      *CollectionConfig
}

// UpdateCollection applies a patch and bumps updated_at.
func (s *Store) UpdateCollection(ctx context.Context, userID, id string, patch CollectionPatch) (*Collection, error) {
	c, err := s.GetCollection(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		c.Name = *patch.Name
	}
	if patch.Description != nil {
		c.Description = *patch.Description
	}
	if patch.Metadata != nil {
		c.Metadata = patch.Metadata
	}
	if patch.Config != nil {
		c.Config = *patch.Config
	}
	c.UpdatedAt = time.Now().UTC()

	cfgJSON, err := json.Marshal(c.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal collection config: %w", err)
	}

	_, err = s.exec(ctx,
		`UPDATE collections SET name = ?, description = ?, metadata = ?, config = ?, updated_at = ? WHERE id = ?`,
		c.Name, c.Description, c.Metadata, string(cfgJSON), c.UpdatedAt, c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update collection: %w", err)
	}
	return c, nil
}

// DeleteCollection removes the collection and cascades to documents and
// chunks. Sessions referencing it keep running with a null collection.
func (s *Store) DeleteCollection(ctx context.Context, userID, id string) error {
	if _, err := s.GetCollection(ctx, userID, id); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE chat_sessions SET collection_id = NULL WHERE collection_id = ?`), id); err != nil {
			return fmt.Errorf("failed to detach sessions: %w", err)
		}
		// Chunk and summary rows cascade from documents; documents
		// cascade from the collection.
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM collections WHERE id = ?`), id); err != nil {
			return fmt.Errorf("failed to delete collection: %w", err)
		}
		return nil
	})
}

// RecountDocuments recomputes document_count from completed documents.
// document_count == non-deleted documents with status completed.
func (s *Store) RecountDocuments(ctx context.Context, collectionID string) error {
	_, err := s.exec(ctx,
		`UPDATE collections SET document_count =
           (SELECT COUNT(*) FROM documents WHERE collection_id = ? AND status = ?),
         updated_at = ?
         WHERE id = ?`,
		collectionID, StatusCompleted, time.Now().UTC(), collectionID)
	if err != nil {
		return fmt.Errorf("failed to recount documents: %w", err)
	}
	return nil
}

func (s *Store) scanCollection(row *sql.Row) (*Collection, error) {
	c := &Collection{}
	var cfgJSON sql.NullString
	var desc sql.NullString
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &desc, &c.Metadata, &cfgJSON, &c.DocumentCount, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("collection: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan collection: %w", err)
	}
	c.Description = desc.String
	if cfgJSON.Valid && cfgJSON.String != "" {
		if err := json.Unmarshal([]byte(cfgJSON.String), &c.Config); err != nil {
			return nil, fmt.Errorf("failed to parse collection config: %w", err)
		}
	}
	return c, nil
}

func (s *Store) scanCollectionRows(rows *sql.Rows) (*Collection, error) {
	c := &Collection{}
	var cfgJSON sql.NullString
	var desc sql.NullString
	err := rows.Scan(&c.ID, &c.UserID, &c.Name, &desc, &c.Metadata, &cfgJSON, &c.DocumentCount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan collection: %w", err)
	}
	c.Description = desc.String
	if cfgJSON.Valid && cfgJSON.String != "" {
		if err := json.Unmarshal([]byte(cfgJSON.String), &c.Config); err != nil {
			return nil, fmt.Errorf("failed to parse collection config: %w", err)
		}
	}
	return c, nil
}
