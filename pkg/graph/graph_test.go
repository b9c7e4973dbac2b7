package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-ai/strata/pkg/store"
)

func chunk(id, docID string, index int, content string) *store.Chunk {
	return &store.Chunk{
		ID:           id,
		DocumentID:   docID,
		CollectionID: "col",
		ChunkIndex:   index,
		Content:      content,
	}
}

func TestExtractEntities(t *testing.T) {
	entities := ExtractEntities("Alice Johnson worked at Acme Corp in New York.")
	assert.Contains(t, entities, "alice johnson")
	assert.Contains(t, entities, "acme corp")
	assert.Contains(t, entities, "new york")
	assert.NotContains(t, entities, "the")
}

func TestExtractEntitiesLowercaseTerms(t *testing.T) {
	entities := ExtractEntities("tell me about qdrant deployments")
	assert.Contains(t, entities, "qdrant")
	assert.Contains(t, entities, "deployments")
	assert.NotContains(t, entities, "me")
}

func TestScoreRanksByEntityOverlap(t *testing.T) {
	g := New()
	g.IndexChunks("col", []*store.Chunk{
		chunk("c1", "d1", 0, "Acme Corp was founded by Alice Johnson."),
		chunk("c2", "d1", 1, "Acme Corp ships widgets worldwide."),
		chunk("c3", "d2", 0, "Nothing relevant lives here."),
	})

	results := g.Score("col", "Who founded Acme Corp? Tell me about Alice Johnson.", 10)
	require.NotEmpty(t, results)
	assert.Equal(t, "c1", results[0].ChunkID)
	assert.Greater(t, results[0].Score, results[1].Score)
	for _, r := range results {
		assert.NotEqual(t, "c3", r.ChunkID)
	}
}

func TestScoreNoEntities(t *testing.T) {
	g := New()
	g.IndexChunks("col", []*store.Chunk{chunk("c1", "d1", 0, "Acme Corp data.")})

	assert.Nil(t, g.Score("col", "a of in", 10))
	assert.Nil(t, g.Score("missing", "Acme Corp", 10))
}

func TestRemoveDocument(t *testing.T) {
	g := New()
	g.IndexChunks("col", []*store.Chunk{
		chunk("c1", "d1", 0, "Acme Corp headquarters."),
		chunk("c2", "d2", 0, "Acme Corp branch office."),
	})

	g.RemoveDocument("col", "d1")

	results := g.Score("col", "Acme Corp", 10)
	require.Len(t, results, 1)
	assert.Equal(t, "c2", results[0].ChunkID)
	assert.Nil(t, g.Entities("col", "c1"))
}

func TestReindexReplacesEntities(t *testing.T) {
	g := New()
	g.IndexChunks("col", []*store.Chunk{chunk("c1", "d1", 0, "Acme Corp report.")})
	g.IndexChunks("col", []*store.Chunk{chunk("c1", "d1", 0, "Globex Inc report.")})

	assert.Empty(t, g.Score("col", "Acme Corp", 10))
	results := g.Score("col", "Globex Inc", 10)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ChunkID)
}
