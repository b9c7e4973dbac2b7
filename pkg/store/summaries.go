package store

import (
	"context"
	"database/sql"
	"fmt"
)

// UpsertSummary stores the hierarchical-retrieval summary for a
// document, inserting or replacing its single row.
func (s *Store) UpsertSummary(ctx context.Context, sum *DocumentSummary) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind(
			`DELETE FROM document_summaries WHERE document_id = ?`), sum.DocumentID); err != nil {
			return fmt.Errorf("failed to clear summary: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(
			`INSERT INTO document_summaries (document_id, collection_id, summary_text, embedding) VALUES (?, ?, ?, ?)`),
			sum.DocumentID, sum.CollectionID, sum.SummaryText, sum.Embedding); err != nil {
			return fmt.Errorf("failed to store summary: %w", err)
		}
		return nil
	})
}

// GetSummariesByCollection loads every document summary in a
// collection for the first hierarchical retrieval pass.
func (s *Store) GetSummariesByCollection(ctx context.Context, collectionID string) ([]*DocumentSummary, error) {
	rows, err := s.query(ctx,
		`SELECT document_id, collection_id, summary_text, embedding
         FROM document_summaries WHERE collection_id = ?`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list summaries: %w", err)
	}
	defer rows.Close()

	var out []*DocumentSummary
	for rows.Next() {
		sum := &DocumentSummary{}
		if err := rows.Scan(&sum.DocumentID, &sum.CollectionID, &sum.SummaryText, &sum.Embedding); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// GetSummary fetches one document's summary row.
func (s *Store) GetSummary(ctx context.Context, documentID string) (*DocumentSummary, error) {
	sum := &DocumentSummary{}
	err := s.queryRow(ctx,
		`SELECT document_id, collection_id, summary_text, embedding
         FROM document_summaries WHERE document_id = ?`, documentID).
		Scan(&sum.DocumentID, &sum.CollectionID, &sum.SummaryText, &sum.Embedding)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("summary: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan summary: %w", err)
	}
	return sum, nil
}
