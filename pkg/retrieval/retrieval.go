// Package retrieval runs search over ingested chunks. Five modes
// share one entry point: semantic (vector similarity), keyword (BM25),
// hybrid (rank fusion of both), hierarchical (summary-first document
// selection), and graph (entity-overlap re-scoring).
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/strata-ai/strata/pkg/cache"
	"github.com/strata-ai/strata/pkg/config"
	"github.com/strata-ai/strata/pkg/embedder"
	"github.com/strata-ai/strata/pkg/graph"
	"github.com/strata-ai/strata/pkg/keyword"
	"github.com/strata-ai/strata/pkg/store"
	"github.com/strata-ai/strata/pkg/vectordb"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	ModeSemantic     Mode = "semantic"
	ModeKeyword      Mode = "keyword"
	ModeHybrid       Mode = "hybrid"
	ModeHierarchical Mode = "hierarchical"
	ModeGraph        Mode = "graph"
)

// ErrTimeout is returned when the retrieval deadline passes; partial
// results are never returned.
var ErrTimeout = errors.New("retrieval deadline exceeded")

// SearchError reports which component and operation failed during a
// search, wrapping the underlying cause.
type SearchError struct {
	Component string
	Operation string
	Message   string
	Err       error
}

func (e *SearchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Component, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Component, e.Operation, e.Message)
}

func (e *SearchError) Unwrap() error { return e.Err }

func searchError(component, operation, message string, err error) *SearchError {
	return &SearchError{Component: component, Operation: operation, Message: message, Err: err}
}

const (
	maxQueryLength = 2000
	maxTopK        = 50
	// candidateFactor oversamples per-signal candidates before fusion
	// and filtering.
	candidateFactor = 4
	// maxQueryExpansions caps synonym terms appended to keyword queries.
	maxQueryExpansions = 4
)

// Request describes one search.
type Request struct {
	Query          string                 `json:"query"`
	Mode           Mode                   `json:"mode,omitempty"`
	TopK           int                    `json:"top_k,omitempty"`
	CollectionID   string                 `json:"collection_id"`
	MetadataFilter map[string]interface{} `json:"metadata_filter,omitempty"`
	// ExpandContext overrides the configured default when set.
	ExpandContext *bool `json:"expand_context,omitempty"`
}

// Result is one scored chunk.
type Result struct {
	ChunkID         string                 `json:"chunk_id"`
	DocumentID      string                 `json:"document_id"`
	ChunkIndex      int                    `json:"chunk_index"`
	Content         string                 `json:"content"`
	ExpandedContent string                 `json:"expanded_content,omitempty"`
	Score           float64                `json:"score"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// Response carries results plus timing. ProcessingTimeMS covers
// retrieval only, not downstream rerank or prompt assembly.
type Response struct {
	Results          []Result `json:"results"`
	Total            int      `json:"total"`
	Mode             Mode     `json:"mode"`
	ProcessingTimeMS int64    `json:"processing_time_ms"`
}

// Engine coordinates the index backends.
type Engine struct {
	cfg      *config.RetrievalConfig
	store    *store.Store
	vectors  vectordb.Provider
	keywords *keyword.Index
	graph    *graph.Graph
	embedder *embedder.Embedder
	cache    *cache.Cache
	synonyms QueryExpander
}

// QueryExpander appends related terms to keyword queries (satisfied by
// synonym.Service).
type QueryExpander interface {
	ExpandQuery(query string, maxExpansions int) string
}

func NewEngine(
	cfg *config.RetrievalConfig,
	st *store.Store,
	vectors vectordb.Provider,
	keywords *keyword.Index,
	g *graph.Graph,
	emb *embedder.Embedder,
	c *cache.Cache,
) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    st,
		vectors:  vectors,
		keywords: keywords,
		graph:    g,
		embedder: emb,
		cache:    c,
	}
}

// WithSynonyms attaches a query expander used by the keyword leg.
func (e *Engine) WithSynonyms(exp QueryExpander) *Engine {
	e.synonyms = exp
	return e
}

// Validate normalizes and checks a request in place.
func (r *Request) Validate() error {
	r.Query = strings.TrimSpace(r.Query)
	if r.Query == "" {
		return fmt.Errorf("query is required")
	}
	if len(r.Query) > maxQueryLength {
		return fmt.Errorf("query exceeds %d characters", maxQueryLength)
	}
	if r.CollectionID == "" {
		return fmt.Errorf("collection_id is required")
	}
	if r.Mode == "" {
		r.Mode = ModeSemantic
	}
	switch r.Mode {
	case ModeSemantic, ModeKeyword, ModeHybrid, ModeHierarchical, ModeGraph:
	default:
		return fmt.Errorf("unknown retrieval mode %q", r.Mode)
	}
	if r.TopK == 0 {
		r.TopK = 10
	}
	if r.TopK < 1 || r.TopK > maxTopK {
		return fmt.Errorf("top_k must be between 1 and %d", maxTopK)
	}
	return nil
}

// Retrieve runs one search under the configured deadline.
func (e *Engine) Retrieve(ctx context.Context, req *Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Deadline)
	defer cancel()

	cacheKey := e.cacheKey(req)
	if e.cfg.CacheResults != nil && *e.cfg.CacheResults {
		var cached Response
		if hit, err := e.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			cached.ProcessingTimeMS = time.Since(start).Milliseconds()
			return &cached, nil
		}
	}

	results, err := e.search(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, ErrTimeout
		}
		return nil, err
	}

	sortResults(results)
	if len(results) > req.TopK {
		results = results[:req.TopK]
	}

	if e.expandEnabled(req) {
		if err := e.expandContext(ctx, results); err != nil {
			slog.Warn("Context expansion failed", "error", err)
		}
	}

	if ctx.Err() != nil {
		return nil, ErrTimeout
	}

	if results == nil {
		results = []Result{}
	}
	resp := &Response{
		Results:          results,
		Total:            len(results),
		Mode:             req.Mode,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	}
	if e.cfg.CacheResults != nil && *e.cfg.CacheResults {
		e.cache.Set(ctx, cacheKey, resp)
	}
	return resp, nil
}

func (e *Engine) search(ctx context.Context, req *Request) ([]Result, error) {
	switch req.Mode {
	case ModeSemantic:
		return e.semantic(ctx, req, req.TopK)
	case ModeKeyword:
		return e.keyword(ctx, req, req.TopK)
	case ModeHybrid:
		return e.hybrid(ctx, req)
	case ModeHierarchical:
		return e.hierarchical(ctx, req)
	case ModeGraph:
		return e.graphSearch(ctx, req)
	default:
		return nil, fmt.Errorf("unknown retrieval mode %q", req.Mode)
	}
}

func (e *Engine) cacheKey(req *Request) string {
	return cache.Fingerprint("retrieval",
		string(req.Mode),
		strings.ToLower(req.Query),
		req.CollectionID,
		req.MetadataFilter,
		req.TopK,
		e.expandEnabled(req),
	)
}

func (e *Engine) expandEnabled(req *Request) bool {
	if req.ExpandContext != nil {
		return *req.ExpandContext
	}
	return e.cfg.ExpandContext != nil && *e.cfg.ExpandContext
}

// semantic embeds the query and searches the chunk vector collection.
func (e *Engine) semantic(ctx context.Context, req *Request, topK int) ([]Result, error) {
	vector, err := e.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, searchError("embedder", "embed_query", "failed to embed query", err)
	}

	matches, err := e.vectors.SearchWithFilter(ctx,
		vectordb.ChunkCollection(req.CollectionID), vector, topK, req.MetadataFilter)
	if err != nil {
		return nil, searchError("vectordb", "search", "chunk vector search failed", err)
	}
	return e.hydrate(ctx, matches)
}

// hydrate resolves vector matches against the store so results carry
// authoritative content and metadata.
func (e *Engine) hydrate(ctx context.Context, matches []vectordb.SearchResult) ([]Result, error) {
	if len(matches) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ID)
	}
	chunks, err := e.store.GetChunksByIDs(ctx, ids)
	if err != nil {
		return nil, searchError("store", "get_chunks", "failed to hydrate vector matches", err)
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		chunk, ok := chunks[m.ID]
		if !ok {
			// Vector index can briefly lead the store during deletes.
			continue
		}
		results = append(results, Result{
			ChunkID:    chunk.ID,
			DocumentID: chunk.DocumentID,
			ChunkIndex: chunk.ChunkIndex,
			Content:    chunk.Content,
			Score:      float64(m.Score),
			Metadata:   chunk.Metadata,
		})
	}
	return results, nil
}

// keyword runs BM25 then applies the metadata filter before scoring
// cutoff.
func (e *Engine) keyword(ctx context.Context, req *Request, topK int) ([]Result, error) {
	fetch := topK
	if len(req.MetadataFilter) > 0 {
		fetch = topK * candidateFactor
	}
	query := req.Query
	if e.synonyms != nil {
		query = e.synonyms.ExpandQuery(query, maxQueryExpansions)
	}
	hits := e.keywords.Search(req.CollectionID, query, fetch)
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ChunkID)
	}
	chunks, err := e.store.GetChunksByIDs(ctx, ids)
	if err != nil {
		return nil, searchError("store", "get_chunks", "failed to hydrate keyword hits", err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		chunk, ok := chunks[h.ChunkID]
		if !ok {
			continue
		}
		if !matchesMetadata(chunk.Metadata, req.MetadataFilter) {
			continue
		}
		results = append(results, Result{
			ChunkID:    chunk.ID,
			DocumentID: chunk.DocumentID,
			ChunkIndex: chunk.ChunkIndex,
			Content:    chunk.Content,
			Score:      h.Score,
			Metadata:   chunk.Metadata,
		})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

// hybrid fuses semantic and keyword rankings. Default fusion is
// reciprocal rank fusion normalized to [0, 1]; the linear flag blends
// min-max normalized scores instead.
func (e *Engine) hybrid(ctx context.Context, req *Request) ([]Result, error) {
	fetch := req.TopK * candidateFactor
	if fetch > maxTopK*candidateFactor {
		fetch = maxTopK * candidateFactor
	}

	semantic, err := e.semantic(ctx, req, fetch)
	if err != nil {
		return nil, err
	}
	keywordResults, err := e.keyword(ctx, req, fetch)
	if err != nil {
		return nil, err
	}

	if e.cfg.Fusion == "linear" {
		return fuseLinear(semantic, keywordResults, e.cfg.LinearAlpha), nil
	}
	return fuseRRF(semantic, keywordResults, e.cfg.RRFK), nil
}

// fuseRRF computes reciprocal rank fusion over the two rankings and
// normalizes scores so a chunk ranked first in both lists scores 1.
func fuseRRF(semantic, keywordResults []Result, k int) []Result {
	fused := make(map[string]*Result)
	scores := make(map[string]float64)

	accumulate := func(list []Result) {
		for rank, r := range list {
			scores[r.ChunkID] += 1.0 / float64(k+rank+1)
			if _, ok := fused[r.ChunkID]; !ok {
				rc := r
				fused[r.ChunkID] = &rc
			}
		}
	}
	accumulate(semantic)
	accumulate(keywordResults)

	maxPossible := 2.0 / float64(k+1)
	results := make([]Result, 0, len(fused))
	for id, r := range fused {
		r.Score = scores[id] / maxPossible
		results = append(results, *r)
	}
	return results
}

// fuseLinear blends min-max normalized scores: alpha weights the
// semantic side.
func fuseLinear(semantic, keywordResults []Result, alpha float64) []Result {
	semNorm := normalizeScores(semantic)
	kwNorm := normalizeScores(keywordResults)

	fused := make(map[string]*Result)
	scores := make(map[string]float64)
	for _, r := range semNorm {
		rc := r
		fused[r.ChunkID] = &rc
		scores[r.ChunkID] += alpha * r.Score
	}
	for _, r := range kwNorm {
		if _, ok := fused[r.ChunkID]; !ok {
			rc := r
			fused[r.ChunkID] = &rc
		}
		scores[r.ChunkID] += (1 - alpha) * r.Score
	}

	results := make([]Result, 0, len(fused))
	for id, r := range fused {
		r.Score = scores[id]
		results = append(results, *r)
	}
	return results
}

func normalizeScores(results []Result) []Result {
	if len(results) == 0 {
		return results
	}
	min, max := results[0].Score, results[0].Score
	for _, r := range results {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}
	out := make([]Result, len(results))
	copy(out, results)
	for i := range out {
		if max > min {
			out[i].Score = (out[i].Score - min) / (max - min)
		} else {
			out[i].Score = 1
		}
	}
	return out
}

// hierarchical selects documents by summary similarity, then runs
// semantic search restricted to those documents. Without summaries it
// degrades to plain semantic search.
func (e *Engine) hierarchical(ctx context.Context, req *Request) ([]Result, error) {
	docsWanted := e.cfg.HierarchicalDocs
	if min := (req.TopK + 1) / 2; docsWanted < min {
		docsWanted = min
	}

	vector, err := e.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, searchError("embedder", "embed_query", "failed to embed query", err)
	}

	summaryMatches, err := e.vectors.Search(ctx,
		vectordb.SummaryCollection(req.CollectionID), vector, docsWanted)
	if err != nil || len(summaryMatches) == 0 {
		if err != nil {
			slog.Warn("Summary search failed, falling back to semantic",
				"collection_id", req.CollectionID, "error", err)
		}
		return e.semantic(ctx, req, req.TopK)
	}

	selected := make(map[string]struct{}, len(summaryMatches))
	for _, m := range summaryMatches {
		if docID, ok := m.Metadata["document_id"].(string); ok {
			selected[docID] = struct{}{}
		} else {
			selected[m.ID] = struct{}{}
		}
	}

	matches, err := e.vectors.SearchWithFilter(ctx,
		vectordb.ChunkCollection(req.CollectionID), vector,
		req.TopK*candidateFactor, req.MetadataFilter)
	if err != nil {
		return nil, searchError("vectordb", "search", "chunk vector search failed", err)
	}
	candidates, err := e.hydrate(ctx, matches)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, req.TopK)
	for _, r := range candidates {
		if _, ok := selected[r.DocumentID]; !ok {
			continue
		}
		results = append(results, r)
	}
	if len(results) == 0 {
		// Selected documents had no scoring chunks; keep recall up.
		return e.semantic(ctx, req, req.TopK)
	}
	return results, nil
}

// graphWeight blends entity overlap into the semantic score.
const graphWeight = 0.3

// graphSearch re-scores semantic candidates by entity overlap with
// the query. Queries without entities degrade to plain semantic.
func (e *Engine) graphSearch(ctx context.Context, req *Request) ([]Result, error) {
	graphScores := e.graph.Score(req.CollectionID, req.Query, req.TopK*candidateFactor)
	if len(graphScores) == 0 {
		return e.semantic(ctx, req, req.TopK)
	}
	byChunk := make(map[string]float64, len(graphScores))
	for _, g := range graphScores {
		byChunk[g.ChunkID] = g.Score
	}

	candidates, err := e.semantic(ctx, req, req.TopK*candidateFactor)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		candidates[i].Score = (1-graphWeight)*candidates[i].Score + graphWeight*byChunk[candidates[i].ChunkID]
	}
	return candidates, nil
}

// expandContext attaches ±1 neighboring chunks to each result.
func (e *Engine) expandContext(ctx context.Context, results []Result) error {
	for i := range results {
		prev, next, err := e.store.GetNeighborChunks(ctx, results[i].DocumentID, results[i].ChunkIndex)
		if err != nil {
			return err
		}
		var parts []string
		if prev != nil {
			parts = append(parts, prev.Content)
		}
		parts = append(parts, results[i].Content)
		if next != nil {
			parts = append(parts, next.Content)
		}
		if len(parts) > 1 {
			results[i].ExpandedContent = strings.Join(parts, "\n\n")
		}
	}
	return nil
}

func matchesMetadata(metadata store.JSONMap, filter map[string]interface{}) bool {
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// sortResults orders by score descending with a deterministic
// tie-break on (chunk_index, document_id) ascending.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].ChunkIndex != results[j].ChunkIndex {
			return results[i].ChunkIndex < results[j].ChunkIndex
		}
		return results[i].DocumentID < results[j].DocumentID
	})
}
