package vectordb

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryProvider is a map-backed provider for tests and throwaway
// environments. Search is exact cosine over all points.
type MemoryProvider struct {
	mu          sync.RWMutex
	collections map[string]map[string]Point
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{collections: make(map[string]map[string]Point)}
}

func (p *MemoryProvider) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.collections[collection]; !ok {
		p.collections[collection] = make(map[string]Point)
	}
	return nil
}

func (p *MemoryProvider) Upsert(ctx context.Context, collection string, points []Point) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	col, ok := p.collections[collection]
	if !ok {
		col = make(map[string]Point)
		p.collections[collection] = col
	}
	for _, pt := range points {
		col[pt.ID] = pt
	}
	return nil
}

func (p *MemoryProvider) Search(ctx context.Context, collection string, vector []float32, topK int) ([]SearchResult, error) {
	return p.SearchWithFilter(ctx, collection, vector, topK, nil)
}

func (p *MemoryProvider) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]interface{}) ([]SearchResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	col := p.collections[collection]
	results := make([]SearchResult, 0, len(col))
	for _, pt := range col {
		if !matchesFilter(pt.Metadata, filter) {
			continue
		}
		results = append(results, SearchResult{
			ID:       pt.ID,
			Score:    cosineSimilarity(vector, pt.Vector),
			Metadata: pt.Metadata,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (p *MemoryProvider) DeleteByFilter(ctx context.Context, collection string, filter map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	col := p.collections[collection]
	for id, pt := range col {
		if matchesFilter(pt.Metadata, filter) {
			delete(col, id)
		}
	}
	return nil
}

func (p *MemoryProvider) DeleteCollection(ctx context.Context, collection string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.collections, collection)
	return nil
}

func (p *MemoryProvider) Close() error { return nil }

func matchesFilter(metadata, filter map[string]interface{}) bool {
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
