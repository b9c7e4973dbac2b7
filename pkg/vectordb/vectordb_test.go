package vectordb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-ai/strata/pkg/config"
)

func TestNewRejectsUnknownType(t *testing.T) {
	_, err := New(&config.VectorStoreConfig{Type: "mystery"})
	assert.Error(t, err)
}

func TestMemorySearchOrdersBySimilarity(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()

	err := p.Upsert(ctx, "col", []Point{
		{ID: "a", Vector: []float32{1, 0}, Metadata: map[string]interface{}{"document_id": "d1"}},
		{ID: "b", Vector: []float32{0, 1}, Metadata: map[string]interface{}{"document_id": "d2"}},
		{ID: "c", Vector: []float32{0.9, 0.1}, Metadata: map[string]interface{}{"document_id": "d1"}},
	})
	require.NoError(t, err)

	results, err := p.Search(ctx, "col", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestMemorySearchWithFilter(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()

	require.NoError(t, p.Upsert(ctx, "col", []Point{
		{ID: "a", Vector: []float32{1, 0}, Metadata: map[string]interface{}{"document_id": "d1"}},
		{ID: "b", Vector: []float32{1, 0}, Metadata: map[string]interface{}{"document_id": "d2"}},
	}))

	results, err := p.SearchWithFilter(ctx, "col", []float32{1, 0}, 10, map[string]interface{}{"document_id": "d2"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestMemoryDeleteByFilter(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()

	require.NoError(t, p.Upsert(ctx, "col", []Point{
		{ID: "a", Vector: []float32{1, 0}, Metadata: map[string]interface{}{"document_id": "d1"}},
		{ID: "b", Vector: []float32{0, 1}, Metadata: map[string]interface{}{"document_id": "d2"}},
	}))

	require.NoError(t, p.DeleteByFilter(ctx, "col", map[string]interface{}{"document_id": "d1"}))

	results, err := p.Search(ctx, "col", []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestMemoryUpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()

	require.NoError(t, p.Upsert(ctx, "col", []Point{{ID: "a", Vector: []float32{1, 0}}}))
	require.NoError(t, p.Upsert(ctx, "col", []Point{{ID: "a", Vector: []float32{0, 1}}}))

	results, err := p.Search(ctx, "col", []float32{0, 1}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, float64(results[0].Score), 1e-6)
}

func TestChromemRoundTrip(t *testing.T) {
	ctx := context.Background()
	p, err := NewChromemProvider(&config.VectorStoreConfig{Type: "chromem"})
	require.NoError(t, err)

	require.NoError(t, p.EnsureCollection(ctx, "col", 2))
	require.NoError(t, p.Upsert(ctx, "col", []Point{
		{ID: "a", Vector: []float32{1, 0}, Metadata: map[string]interface{}{"document_id": "d1", "content": "alpha"}},
		{ID: "b", Vector: []float32{0, 1}, Metadata: map[string]interface{}{"document_id": "d2", "content": "beta"}},
	}))

	results, err := p.Search(ctx, "col", []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "d1", results[0].Metadata["document_id"])
}

func TestChromemTopKClampedToCollectionSize(t *testing.T) {
	ctx := context.Background()
	p, err := NewChromemProvider(&config.VectorStoreConfig{Type: "chromem"})
	require.NoError(t, err)

	require.NoError(t, p.Upsert(ctx, "col", []Point{{ID: "a", Vector: []float32{1, 0}}}))

	results, err := p.Search(ctx, "col", []float32{1, 0}, 50)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestChromemDeleteByFilter(t *testing.T) {
	ctx := context.Background()
	p, err := NewChromemProvider(&config.VectorStoreConfig{Type: "chromem"})
	require.NoError(t, err)

	require.NoError(t, p.Upsert(ctx, "col", []Point{
		{ID: "a", Vector: []float32{1, 0}, Metadata: map[string]interface{}{"document_id": "d1"}},
		{ID: "b", Vector: []float32{0, 1}, Metadata: map[string]interface{}{"document_id": "d2"}},
	}))

	require.NoError(t, p.DeleteByFilter(ctx, "col", map[string]interface{}{"document_id": "d1"}))

	results, err := p.Search(ctx, "col", []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}
