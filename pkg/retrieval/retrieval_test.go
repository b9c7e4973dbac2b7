package retrieval

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"

	"github.com/strata-ai/strata/pkg/cache"
	"github.com/strata-ai/strata/pkg/config"
	"github.com/strata-ai/strata/pkg/embedder"
	"github.com/strata-ai/strata/pkg/graph"
	"github.com/strata-ai/strata/pkg/keyword"
	"github.com/strata-ai/strata/pkg/store"
	"github.com/strata-ai/strata/pkg/synonym"
	"github.com/strata-ai/strata/pkg/vectordb"
)

// hashProvider produces deterministic pseudo-embeddings so that texts
// sharing words land near each other.
type hashProvider struct{}

func (hashProvider) Dimension() int { return 8 }

func (p hashProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return p.embed(text), nil
}

func (p hashProvider) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.embed(t)
	}
	return out, nil
}

func (hashProvider) embed(text string) []float32 {
	v := make([]float32, 8)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := 0
		for _, r := range w {
			h = h*31 + int(r)
		}
		v[((h%8)+8)%8]++
	}
	return v
}

type fixture struct {
	engine  *Engine
	store   *store.Store
	vectors vectordb.Provider
	user    *store.User
	col     *store.Collection
}

func newFixture(t *testing.T, cfg *config.RetrievalConfig) *fixture {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st, err := store.NewWithDB(db, "sqlite")
	require.NoError(t, err)

	ctx := context.Background()
	user, err := st.CreateUser(ctx, "u@example.com", "h", "k")
	require.NoError(t, err)
	col, err := st.CreateCollection(ctx, user.ID, "docs", "", nil, store.CollectionConfig{})
	require.NoError(t, err)

	if cfg == nil {
		cfg = &config.RetrievalConfig{}
	}
	cfg.SetDefaults()
	cfg.CacheResults = config.BoolPtr(false)

	emb := embedder.NewWithProvider(&config.EmbedderProviderConfig{}, hashProvider{}, nil)
	cacheCfg := &config.CacheConfig{}
	cacheCfg.SetDefaults()

	vectors := vectordb.NewMemoryProvider()
	f := &fixture{
		store:   st,
		vectors: vectors,
		user:    user,
		col:     col,
	}
	f.engine = NewEngine(cfg, st, vectors, keyword.NewIndex(), graph.New(), emb, cache.New(cacheCfg))
	return f
}

// ingestDoc seeds one completed document with the given chunk texts
// across the store, vector index, keyword index, and graph.
func (f *fixture) ingestDoc(t *testing.T, docID string, texts ...string) {
	t.Helper()
	ctx := context.Background()

	doc := &store.Document{
		ID:           docID,
		CollectionID: f.col.ID,
		UserID:       f.user.ID,
		Filename:     docID + ".txt",
		ContentType:  "text/plain",
		ContentHash:  "hash-" + docID,
		SizeBytes:    1,
	}
	_, _, err := f.store.CreateDocument(ctx, doc)
	require.NoError(t, err)

	chunks := make([]*store.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = &store.Chunk{
			Content:    text,
			TokenCount: len(strings.Fields(text)),
			Metadata:   store.JSONMap{"document_kind": "general"},
		}
	}
	require.NoError(t, f.store.InsertChunks(ctx, docID, f.col.ID, chunks))

	points := make([]vectordb.Point, len(chunks))
	p := hashProvider{}
	for i, c := range chunks {
		points[i] = vectordb.Point{
			ID:     c.ID,
			Vector: p.embed(c.Content),
			Metadata: map[string]interface{}{
				"document_id": docID,
				"chunk_index": c.ChunkIndex,
			},
		}
	}
	require.NoError(t, f.vectors.Upsert(ctx, vectordb.ChunkCollection(f.col.ID), points))
	f.engine.keywords.IndexChunks(f.col.ID, chunks)
	f.engine.graph.IndexChunks(f.col.ID, chunks)
}

func TestValidate(t *testing.T) {
	base := Request{Query: "q", CollectionID: "c"}

	r := base
	require.NoError(t, r.Validate())
	assert.Equal(t, ModeSemantic, r.Mode)
	assert.Equal(t, 10, r.TopK)

	r = base
	r.Query = " "
	assert.Error(t, r.Validate())

	r = base
	r.Query = strings.Repeat("a", 2001)
	assert.Error(t, r.Validate())

	r = base
	r.Mode = "psychic"
	assert.Error(t, r.Validate())

	r = base
	r.TopK = 51
	assert.Error(t, r.Validate())

	r = base
	r.CollectionID = ""
	assert.Error(t, r.Validate())
}

func TestSemanticRetrieval(t *testing.T) {
	f := newFixture(t, nil)
	f.ingestDoc(t, "d1", "kubernetes cluster networking", "postgres storage internals")

	resp, err := f.engine.Retrieve(context.Background(), &Request{
		Query:        "kubernetes networking",
		CollectionID: f.col.ID,
		TopK:         1,
	})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Total)
	assert.Contains(t, resp.Results[0].Content, "kubernetes")
	assert.Equal(t, "d1", resp.Results[0].DocumentID)
	assert.GreaterOrEqual(t, resp.ProcessingTimeMS, int64(0))
}

func TestEmptyCollectionReturnsEmptyNotError(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := f.engine.Retrieve(context.Background(), &Request{
		Query:        "anything",
		CollectionID: f.col.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Total)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestKeywordRetrieval(t *testing.T) {
	f := newFixture(t, nil)
	f.ingestDoc(t, "d1", "the quarterly revenue report", "unrelated gardening notes")

	resp, err := f.engine.Retrieve(context.Background(), &Request{
		Query:        "quarterly revenue",
		Mode:         ModeKeyword,
		CollectionID: f.col.ID,
	})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Total)
	assert.Contains(t, resp.Results[0].Content, "revenue")
}

func TestKeywordMetadataFilter(t *testing.T) {
	f := newFixture(t, nil)
	f.ingestDoc(t, "d1", "alpha report contents")

	resp, err := f.engine.Retrieve(context.Background(), &Request{
		Query:          "alpha report",
		Mode:           ModeKeyword,
		CollectionID:   f.col.ID,
		MetadataFilter: map[string]interface{}{"document_kind": "legal"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Total)

	resp, err = f.engine.Retrieve(context.Background(), &Request{
		Query:          "alpha report",
		Mode:           ModeKeyword,
		CollectionID:   f.col.ID,
		MetadataFilter: map[string]interface{}{"document_kind": "general"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Total)
}

func TestHybridFusesBothSignals(t *testing.T) {
	f := newFixture(t, nil)
	f.ingestDoc(t, "d1",
		"kubernetes networking deep dive",
		"storage subsystem design",
		"kubernetes storage drivers")

	resp, err := f.engine.Retrieve(context.Background(), &Request{
		Query:        "kubernetes storage",
		Mode:         ModeHybrid,
		CollectionID: f.col.ID,
		TopK:         3,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Contains(t, resp.Results[0].Content, "kubernetes storage")
	for _, r := range resp.Results {
		assert.LessOrEqual(t, r.Score, 1.0)
		assert.Greater(t, r.Score, 0.0)
	}
}

func TestHierarchicalFallsBackWithoutSummaries(t *testing.T) {
	f := newFixture(t, nil)
	f.ingestDoc(t, "d1", "kubernetes cluster networking")

	resp, err := f.engine.Retrieve(context.Background(), &Request{
		Query:        "kubernetes networking",
		Mode:         ModeHierarchical,
		CollectionID: f.col.ID,
	})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Total)
}

func TestHierarchicalUsesSummarySelection(t *testing.T) {
	f := newFixture(t, nil)
	f.ingestDoc(t, "d1", "kubernetes cluster networking guide")
	f.ingestDoc(t, "d2", "kubernetes cluster networking copy")

	// Only d2 gets a summary vector, so hierarchical keeps d2 only.
	p := hashProvider{}
	require.NoError(t, f.vectors.Upsert(context.Background(),
		vectordb.SummaryCollection(f.col.ID), []vectordb.Point{{
			ID:       "d2",
			Vector:   p.embed("kubernetes cluster networking"),
			Metadata: map[string]interface{}{"document_id": "d2"},
		}}))

	resp, err := f.engine.Retrieve(context.Background(), &Request{
		Query:        "kubernetes networking",
		Mode:         ModeHierarchical,
		CollectionID: f.col.ID,
		TopK:         10,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		assert.Equal(t, "d2", r.DocumentID)
	}
}

func TestGraphModeBoostsEntityOverlap(t *testing.T) {
	f := newFixture(t, nil)
	f.ingestDoc(t, "d1",
		"Acme Corp financial overview for the year",
		"financial overview for the year generally")

	resp, err := f.engine.Retrieve(context.Background(), &Request{
		Query:        "Acme Corp financial overview",
		Mode:         ModeGraph,
		CollectionID: f.col.ID,
		TopK:         2,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Contains(t, resp.Results[0].Content, "Acme Corp")
}

func TestContextExpansion(t *testing.T) {
	cfg := &config.RetrievalConfig{ExpandContext: config.BoolPtr(true)}
	f := newFixture(t, cfg)
	f.ingestDoc(t, "d1", "first chunk text", "second chunk target", "third chunk text")

	resp, err := f.engine.Retrieve(context.Background(), &Request{
		Query:        "second chunk target",
		CollectionID: f.col.ID,
		TopK:         1,
	})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Total)
	r := resp.Results[0]
	if r.ChunkIndex == 1 {
		assert.Contains(t, r.ExpandedContent, "first chunk text")
		assert.Contains(t, r.ExpandedContent, "third chunk text")
	}
	assert.NotEmpty(t, r.ExpandedContent)
}

func TestFuseRRFTieBreak(t *testing.T) {
	// Two chunks with identical fused scores must order by chunk
	// index, then document id.
	semantic := []Result{
		{ChunkID: "b", DocumentID: "doc-b", ChunkIndex: 2, Score: 0.9},
		{ChunkID: "a", DocumentID: "doc-a", ChunkIndex: 1, Score: 0.8},
	}
	kw := []Result{
		{ChunkID: "a", DocumentID: "doc-a", ChunkIndex: 1, Score: 5},
		{ChunkID: "b", DocumentID: "doc-b", ChunkIndex: 2, Score: 4},
	}

	fused := fuseRRF(semantic, kw, 60)
	require.Len(t, fused, 2)
	assert.InDelta(t, fused[0].Score, fused[1].Score, 1e-9)

	sortResults(fused)
	assert.Equal(t, "a", fused[0].ChunkID)
	assert.Equal(t, "b", fused[1].ChunkID)
}

func TestFuseRRFNormalizedRange(t *testing.T) {
	both := []Result{{ChunkID: "x", ChunkIndex: 0, Score: 1}}
	fused := fuseRRF(both, both, 60)
	require.Len(t, fused, 1)
	assert.InDelta(t, 1.0, fused[0].Score, 1e-9)
}

func TestFuseLinear(t *testing.T) {
	semantic := []Result{
		{ChunkID: "a", Score: 0.9},
		{ChunkID: "b", Score: 0.1},
	}
	kw := []Result{
		{ChunkID: "b", Score: 10},
		{ChunkID: "c", Score: 2},
	}

	fused := fuseLinear(semantic, kw, 0.7)
	scores := map[string]float64{}
	for _, r := range fused {
		scores[r.ChunkID] = r.Score
	}
	assert.InDelta(t, 0.7, scores["a"], 1e-9)
	assert.InDelta(t, 0.3, scores["b"], 1e-9)
	assert.InDelta(t, 0.0, scores["c"], 1e-9)
}

func TestKeywordSynonymExpansion(t *testing.T) {
	f := newFixture(t, nil)
	f.ingestDoc(t, "d1", "The car is parked in the garage.")
	f.ingestDoc(t, "d2", "Quarterly revenue grew by twelve percent.")

	dict := filepath.Join(t.TempDir(), "synonyms.txt")
	require.NoError(t, os.WriteFile(dict, []byte("automobile: car\n"), 0644))
	synCfg := &config.SynonymConfig{DictionaryPath: dict}
	synCfg.SetDefaults()
	syn, err := synonym.NewService(synCfg)
	require.NoError(t, err)
	f.engine.WithSynonyms(syn)

	// "automobile" appears nowhere; the dictionary maps it to "car".
	resp, err := f.engine.Retrieve(context.Background(), &Request{
		Query:        "automobile",
		Mode:         ModeKeyword,
		CollectionID: f.col.ID,
		TopK:         5,
	})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Total)
	assert.Contains(t, resp.Results[0].Content, "car")
}

func TestSearchErrorUnwraps(t *testing.T) {
	cause := context.DeadlineExceeded
	err := searchError("vectordb", "search", "chunk vector search failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "vectordb.search")
	assert.Contains(t, err.Error(), "chunk vector search failed")
}
