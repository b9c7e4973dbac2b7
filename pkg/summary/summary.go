// Package summary generates and stores document summaries plus their
// embeddings so hierarchical retrieval can select documents before
// chunks.
package summary

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/strata-ai/strata/pkg/embedder"
	"github.com/strata-ai/strata/pkg/store"
	"github.com/strata-ai/strata/pkg/vectordb"
)

// Service wires summarization into both stores.
type Service struct {
	store    *store.Store
	embedder *embedder.Embedder
	vectors  vectordb.Provider
}

func NewService(st *store.Store, emb *embedder.Embedder, vectors vectordb.Provider) *Service {
	return &Service{store: st, embedder: emb, vectors: vectors}
}

// Generate summarizes documentText, persists the summary row and its
// vector, and fills the document's summary field if still empty.
func (s *Service) Generate(ctx context.Context, documentID, collectionID, documentText string) error {
	result, err := s.embedder.SummarizeAndEmbed(ctx, documentText)
	if err != nil {
		return fmt.Errorf("failed to summarize document %s: %w", documentID, err)
	}

	if err := s.store.UpsertSummary(ctx, &store.DocumentSummary{
		DocumentID:   documentID,
		CollectionID: collectionID,
		SummaryText:  result.Summary,
		Embedding:    result.Vector,
	}); err != nil {
		return fmt.Errorf("failed to persist summary: %w", err)
	}

	collection := vectordb.SummaryCollection(collectionID)
	if err := s.vectors.EnsureCollection(ctx, collection, len(result.Vector)); err != nil {
		return fmt.Errorf("failed to ensure summary collection: %w", err)
	}
	if err := s.vectors.Upsert(ctx, collection, []vectordb.Point{{
		ID:     documentID,
		Vector: result.Vector,
		Metadata: map[string]interface{}{
			"document_id": documentID,
			"summary":     result.Summary,
		},
	}}); err != nil {
		return fmt.Errorf("failed to index summary vector: %w", err)
	}

	set, err := s.store.SetSummaryIfEmpty(ctx, documentID, result.Summary)
	if err != nil {
		return err
	}
	if !set {
		slog.Debug("Document summary already present, kept existing",
			"document_id", documentID)
	}
	return nil
}

// Delete removes a document's summary from both stores.
func (s *Service) Delete(ctx context.Context, documentID, collectionID string) {
	if err := s.vectors.DeleteByFilter(ctx,
		vectordb.SummaryCollection(collectionID),
		map[string]interface{}{"document_id": documentID}); err != nil {
		slog.Warn("Failed to delete summary vector",
			"document_id", documentID, "error", err)
	}
}
