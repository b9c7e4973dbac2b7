package keyword

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

func TestSearchRanksRareTermsHigher(t *testing.T) {
	idx := NewIndex()
	idx.IndexChunks("col", []*store.Chunk{
		chunk("c1", "d1", 0, "the database stores chunks and vectors"),
		chunk("c2", "d1", 1, "retrieval pipeline overview and architecture"),
		chunk("c3", "d2", 0, "the vectors live in qdrant"),
	})

	results := idx.Search("col", "qdrant vectors", 10)
	require.NotEmpty(t, results)
	assert.Equal(t, "c3", results[0].ChunkID)
}

func TestSearchEmptyQueryAndUnknownCollection(t *testing.T) {
	idx := NewIndex()
	idx.IndexChunks("col", []*store.Chunk{chunk("c1", "d1", 0, "hello world")})

	assert.Nil(t, idx.Search("col", "", 10))
	assert.Nil(t, idx.Search("missing", "hello", 10))
	assert.Nil(t, idx.Search("col", "unrelatedterm", 10))
}

func TestReindexReplacesChunk(t *testing.T) {
	idx := NewIndex()
	idx.IndexChunks("col", []*store.Chunk{chunk("c1", "d1", 0, "alpha beta")})
	idx.IndexChunks("col", []*store.Chunk{chunk("c1", "d1", 0, "gamma delta")})

	assert.Empty(t, idx.Search("col", "alpha", 10))
	results := idx.Search("col", "gamma", 10)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ChunkID)
}

func TestRemoveDocument(t *testing.T) {
	idx := NewIndex()
	idx.IndexChunks("col", []*store.Chunk{
		chunk("c1", "d1", 0, "alpha content"),
		chunk("c2", "d1", 1, "alpha more content"),
		chunk("c3", "d2", 0, "alpha other document"),
	})

	idx.RemoveDocument("col", "d1")

	results := idx.Search("col", "alpha", 10)
	require.Len(t, results, 1)
	assert.Equal(t, "c3", results[0].ChunkID)
}

func TestSearchTieBreaksByChunkIndex(t *testing.T) {
	idx := NewIndex()
	idx.IndexChunks("col", []*store.Chunk{
		chunk("c2", "d1", 3, "identical text here"),
		chunk("c1", "d1", 1, "identical text here"),
	})

	results := idx.Search("col", "identical text", 10)
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].ChunkIndex)
	assert.Equal(t, 3, results[1].ChunkIndex)
}

func TestTopKLimit(t *testing.T) {
	idx := NewIndex()
	idx.IndexChunks("col", []*store.Chunk{
		chunk("c1", "d1", 0, "term one"),
		chunk("c2", "d1", 1, "term two"),
		chunk("c3", "d1", 2, "term three"),
	})

	results := idx.Search("col", "term", 2)
	assert.Len(t, results, 2)
}

func TestTokenizeDropsStopwordsAndShortTokens(t *testing.T) {
	tokens := tokenize("The quick brown fox, a fox!")
	assert.Equal(t, []string{"quick", "brown", "fox", "fox"}, tokens)
}
