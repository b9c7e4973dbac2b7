package vectordb

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/strata-ai/strata/pkg/config"
)

// ChromemProvider is the embedded, zero-config provider. Vectors live
// in process memory with optional gob persistence, which makes it the
// default for single-node deployments and tests.
type ChromemProvider struct {
	db *chromem.DB
	mu sync.RWMutex

	collections map[string]*chromem.Collection

	// Vectors arrive pre-computed, so the embedding function is never
	// supposed to run.
	embeddingFunc chromem.EmbeddingFunc
}

func NewChromemProvider(cfg *config.VectorStoreConfig) (*ChromemProvider, error) {
	var db *chromem.DB
	var err error

	if cfg.Path != "" {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create persist directory: %w", err)
		}
		dbPath := filepath.Join(cfg.Path, "vectors.gob")
		db, err = chromem.NewPersistentDB(dbPath, false)
		if err != nil {
			slog.Warn("Failed to open persistent vector database, using in-memory",
				"path", dbPath, "error", err)
			db = chromem.NewDB()
		}
	} else {
		db = chromem.NewDB()
	}

	identityEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embedding function called but vectors should be pre-computed")
	}

	return &ChromemProvider{
		db:            db,
		collections:   make(map[string]*chromem.Collection),
		embeddingFunc: identityEmbed,
	}, nil
}

func (p *ChromemProvider) getCollection(name string) (*chromem.Collection, error) {
	p.mu.RLock()
	if col, ok := p.collections[name]; ok {
		p.mu.RUnlock()
		return col, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if col, ok := p.collections[name]; ok {
		return col, nil
	}

	col, err := p.db.GetOrCreateCollection(name, nil, p.embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to get/create collection %q: %w", name, err)
	}
	p.collections[name] = col
	return col, nil
}

func (p *ChromemProvider) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	_, err := p.getCollection(collection)
	return err
}

func (p *ChromemProvider) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	col, err := p.getCollection(collection)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, 0, len(points))
	for _, pt := range points {
		// chromem requires string metadata values.
		strMetadata := make(map[string]string, len(pt.Metadata))
		content := ""
		for k, v := range pt.Metadata {
			strMetadata[k] = fmt.Sprint(v)
		}
		if c, ok := pt.Metadata["content"].(string); ok {
			content = c
		}
		docs = append(docs, chromem.Document{
			ID:        pt.ID,
			Content:   content,
			Metadata:  strMetadata,
			Embedding: pt.Vector,
		})
	}

	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert documents: %w", err)
	}
	return nil
}

func (p *ChromemProvider) Search(ctx context.Context, collection string, vector []float32, topK int) ([]SearchResult, error) {
	return p.SearchWithFilter(ctx, collection, vector, topK, nil)
}

func (p *ChromemProvider) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]interface{}) ([]SearchResult, error) {
	col, err := p.getCollection(collection)
	if err != nil {
		return nil, err
	}

	var where map[string]string
	if len(filter) > 0 {
		where = make(map[string]string, len(filter))
		for k, v := range filter {
			where[k] = fmt.Sprint(v)
		}
	}

	// chromem rejects nResults larger than the collection.
	if count := col.Count(); topK > count {
		topK = count
	}
	if topK == 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, vector, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		metadata := make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			metadata[k] = v
		}
		out = append(out, SearchResult{
			ID:       r.ID,
			Score:    r.Similarity,
			Metadata: metadata,
		})
	}
	return out, nil
}

func (p *ChromemProvider) DeleteByFilter(ctx context.Context, collection string, filter map[string]interface{}) error {
	col, err := p.getCollection(collection)
	if err != nil {
		return err
	}
	if col.Count() == 0 {
		return nil
	}

	where := make(map[string]string, len(filter))
	for k, v := range filter {
		where[k] = fmt.Sprint(v)
	}
	if err := col.Delete(ctx, where, nil); err != nil {
		return fmt.Errorf("failed to delete by filter: %w", err)
	}
	return nil
}

func (p *ChromemProvider) DeleteCollection(ctx context.Context, collection string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	delete(p.collections, collection)
	return nil
}

func (p *ChromemProvider) Close() error { return nil }
