// Package vectordb abstracts the vector index behind a small provider
// port. Chunk vectors and summary vectors live in per-tenant
// collections; all providers expose cosine similarity search with
// optional metadata filtering.
package vectordb

import (
	"context"
	"fmt"

	"github.com/strata-ai/strata/pkg/config"
)

// Point is one vector with its payload, ready to upsert.
type Point struct {
	ID       string
	Vector   []float32
	Metadata map[string]interface{}
}

// SearchResult is a scored match. Score is similarity in [0, 1] for
// cosine-based providers; higher is better.
type SearchResult struct {
	ID       string
	Score    float32
	Metadata map[string]interface{}
}

// Provider is the vector index port.
type Provider interface {
	// EnsureCollection creates the collection if it does not exist.
	EnsureCollection(ctx context.Context, collection string, dimension int) error

	// Upsert writes a batch of points into a collection.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Search returns the topK nearest points by cosine similarity.
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]SearchResult, error)

	// SearchWithFilter restricts search to points whose metadata
	// matches every key in filter (equality match).
	SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]interface{}) ([]SearchResult, error)

	// DeleteByFilter removes every point whose metadata matches the
	// filter. Used to evict a document's chunks on delete or failure.
	DeleteByFilter(ctx context.Context, collection string, filter map[string]interface{}) error

	// DeleteCollection drops a collection and all its points.
	DeleteCollection(ctx context.Context, collection string) error

	Close() error
}

// New builds the configured provider.
func New(cfg *config.VectorStoreConfig) (Provider, error) {
	switch cfg.Type {
	case "qdrant":
		return NewQdrantProvider(cfg)
	case "pinecone":
		return NewPineconeProvider(cfg)
	case "chromem":
		return NewChromemProvider(cfg)
	case "memory":
		return NewMemoryProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported vector store type: %s", cfg.Type)
	}
}
