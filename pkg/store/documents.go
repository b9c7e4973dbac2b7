package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const documentColumns = `id, collection_id, user_id, title, filename, content_type, size_bytes,
    content_hash, unique_identifier_hash, status, metadata, processing_info, summary,
    created_at, updated_at, processed_at`

// CreateDocument inserts a document in pending state. When the user
// already has a document with the same content hash (or the same unique
// identifier hash), the existing document is returned with created=false.
func (s *Store) CreateDocument(ctx context.Context, d *Document) (*Document, bool, error) {
	if existing, err := s.FindByContentHash(ctx, d.UserID, d.ContentHash); err == nil {
		return existing, false, nil
	}
	if d.UniqueIdentifierHash != "" {
		if existing, err := s.FindByUniqueIdentifierHash(ctx, d.UserID, d.UniqueIdentifierHash); err == nil {
			return existing, false, nil
		}
	}

	now := time.Now().UTC()
	d.ID = uuid.NewString()
	d.Status = StatusPending
	d.CreatedAt = now
	d.UpdatedAt = now

	var uidHash interface{}
	if d.UniqueIdentifierHash != "" {
		uidHash = d.UniqueIdentifierHash
	}

	_, err := s.exec(ctx,
		`INSERT INTO documents (`+documentColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		d.ID, d.CollectionID, d.UserID, d.Title, d.Filename, d.ContentType, d.SizeBytes,
		d.ContentHash, uidHash, d.Status, d.Metadata, d.ProcessingInfo, d.Summary,
		d.CreatedAt, d.UpdatedAt)
	if err != nil {
		// A concurrent submitter may have won the insert race; hand
		// back whichever row holds the hash now.
		if isUniqueViolation(err) {
			if existing, ferr := s.FindByContentHash(ctx, d.UserID, d.ContentHash); ferr == nil {
				return existing, false, nil
			}
			return nil, false, fmt.Errorf("document: %w", ErrConflict)
		}
		return nil, false, fmt.Errorf("failed to create document: %w", err)
	}
	return d, true, nil
}

// FindByContentHash returns the user's document with the given hash.
func (s *Store) FindByContentHash(ctx context.Context, userID, contentHash string) (*Document, error) {
	return s.scanDocument(s.queryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE user_id = ? AND content_hash = ?`,
		userID, contentHash))
}

// FindByUniqueIdentifierHash resolves a source-locator hash (e.g. URL).
func (s *Store) FindByUniqueIdentifierHash(ctx context.Context, userID, uidHash string) (*Document, error) {
	return s.scanDocument(s.queryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE user_id = ? AND unique_identifier_hash = ?`,
		userID, uidHash))
}

// GetDocument fetches a document, enforcing ownership.
func (s *Store) GetDocument(ctx context.Context, userID, id string) (*Document, error) {
	d, err := s.scanDocument(s.queryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if d.UserID != userID {
		return nil, fmt.Errorf("document %s: %w", id, ErrForbidden)
	}
	return d, nil
}

// DocumentFilter narrows ListDocuments.
type DocumentFilter struct {
	CollectionID string
	Status       DocumentStatus
}

// ListDocuments returns the user's documents, newest first.
func (s *Store) ListDocuments(ctx context.Context, userID string, filter DocumentFilter, page Page) ([]*Document, int, error) {
	page = page.Clamp()

	where := `WHERE user_id = ?`
	args := []interface{}{userID}
	if filter.CollectionID != "" {
		where += ` AND collection_id = ?`
		args = append(args, filter.CollectionID)
	}
	if filter.Status != "" {
		where += ` AND status = ?`
		args = append(args, filter.Status)
	}

	var total int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM documents `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	listArgs := append(args, page.Limit, page.Offset)
	rows, err := s.query(ctx,
		`SELECT `+documentColumns+` FROM documents `+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d, err := s.scanDocumentRows(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

// DocumentPatch holds metadata-only updates; content and status are
// never touched through this path.
type DocumentPatch struct {
	Title    *string
	Metadata JSONMap
}

// UpdateDocument applies a metadata patch.
func (s *Store) UpdateDocument(ctx context.Context, userID, id string, patch DocumentPatch) (*Document, error) {
	d, err := s.GetDocument(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if patch.Title != nil {
		d.Title = *patch.Title
	}
	if patch.Metadata != nil {
		d.Metadata = patch.Metadata
	}
	d.UpdatedAt = time.Now().UTC()

	_, err = s.exec(ctx,
		`UPDATE documents SET title = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		d.Title, d.Metadata, d.UpdatedAt, d.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}
	return d, nil
}

// ClaimForProcessing transitions pending→processing under a conditional
// update so at most one worker processes a document. A failed document
// may also be claimed after an explicit retry reset it to pending.
func (s *Store) ClaimForProcessing(ctx context.Context, id string) (bool, error) {
	res, err := s.exec(ctx,
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusProcessing, time.Now().UTC(), id, StatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to claim document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetProcessingStage records pipeline progress on a processing document.
func (s *Store) SetProcessingStage(ctx context.Context, id string, info ProcessingInfo) error {
	_, err := s.exec(ctx,
		`UPDATE documents SET processing_info = ?, updated_at = ? WHERE id = ?`,
		info, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record processing stage: %w", err)
	}
	return nil
}

// MarkCompleted flips status to completed and stamps processed_at.
func (s *Store) MarkCompleted(ctx context.Context, id string, info ProcessingInfo, metadata JSONMap, title string) error {
	now := time.Now().UTC()
	_, err := s.exec(ctx,
		`UPDATE documents SET status = ?, processing_info = ?, metadata = ?, title = ?,
            updated_at = ?, processed_at = ? WHERE id = ? AND status = ?`,
		StatusCompleted, info, metadata, title, now, now, id, StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark document completed: %w", err)
	}
	return nil
}

// MarkFailed records the failure reason. Partial chunks must already be
// removed by the caller before this transition.
func (s *Store) MarkFailed(ctx context.Context, id string, reason string) error {
	info := ProcessingInfo{Error: reason, Stage: "failed"}
	_, err := s.exec(ctx,
		`UPDATE documents SET status = ?, processing_info = ?, updated_at = ? WHERE id = ?`,
		StatusFailed, info, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark document failed: %w", err)
	}
	return nil
}

// ResetForRetry transitions failed→pending; the only permitted
// backwards status move.
func (s *Store) ResetForRetry(ctx context.Context, userID, id string) error {
	d, err := s.GetDocument(ctx, userID, id)
	if err != nil {
		return err
	}
	if d.Status != StatusFailed {
		return fmt.Errorf("document %s is %s, only failed documents can be retried: %w", id, d.Status, ErrConflict)
	}
	_, err = s.exec(ctx,
		`UPDATE documents SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusPending, time.Now().UTC(), id, StatusFailed)
	return err
}

// DeleteDocument removes a document; chunks and the summary row cascade.
func (s *Store) DeleteDocument(ctx context.Context, userID, id string) error {
	d, err := s.GetDocument(ctx, userID, id)
	if err != nil {
		return err
	}
	if _, err := s.exec(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return s.RecountDocuments(ctx, d.CollectionID)
}

// GetStatus reports ingestion progress for the status endpoint.
func (s *Store) GetStatus(ctx context.Context, userID, id string) (*DocumentStatusInfo, error) {
	d, err := s.GetDocument(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	info := &DocumentStatusInfo{
		Status:       d.Status,
		ChunkCount:   d.ProcessingInfo.ChunkCount,
		TotalTokens:  d.ProcessingInfo.TotalTokens,
		ErrorMessage: d.ProcessingInfo.Error,
		CreatedAt:    d.CreatedAt,
		ProcessedAt:  d.ProcessedAt,
	}
	return info, nil
}

// SetSummaryIfEmpty writes the document-level summary with a
// compare-and-set so concurrent reprocessors do not clobber each other.
func (s *Store) SetSummaryIfEmpty(ctx context.Context, id, summary string) (bool, error) {
	res, err := s.exec(ctx,
		`UPDATE documents SET summary = ?, updated_at = ? WHERE id = ? AND (summary IS NULL OR summary = '')`,
		summary, time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to set document summary: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *Store) scanDocument(row *sql.Row) (*Document, error) {
	d := &Document{}
	var title, filename, uidHash, summary sql.NullString
	var processedAt sql.NullTime
	err := row.Scan(&d.ID, &d.CollectionID, &d.UserID, &title, &filename, &d.ContentType, &d.SizeBytes,
		&d.ContentHash, &uidHash, &d.Status, &d.Metadata, &d.ProcessingInfo, &summary,
		&d.CreatedAt, &d.UpdatedAt, &processedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}
	d.Title = title.String
	d.Filename = filename.String
	d.UniqueIdentifierHash = uidHash.String
	d.Summary = summary.String
	if processedAt.Valid {
		d.ProcessedAt = &processedAt.Time
	}
	return d, nil
}

func (s *Store) scanDocumentRows(rows *sql.Rows) (*Document, error) {
	d := &Document{}
	var title, filename, uidHash, summary sql.NullString
	var processedAt sql.NullTime
	err := rows.Scan(&d.ID, &d.CollectionID, &d.UserID, &title, &filename, &d.ContentType, &d.SizeBytes,
		&d.ContentHash, &uidHash, &d.Status, &d.Metadata, &d.ProcessingInfo, &summary,
		&d.CreatedAt, &d.UpdatedAt, &processedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}
	d.Title = title.String
	d.Filename = filename.String
	d.UniqueIdentifierHash = uidHash.String
	d.Summary = summary.String
	if processedAt.Valid {
		d.ProcessedAt = &processedAt.Time
	}
	return d, nil
}
