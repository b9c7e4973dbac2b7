package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-ai/strata/pkg/config"
)

type fakeProvider struct {
	mu      sync.Mutex
	batches [][]string
	dim     int
	err     error
}

func (f *fakeProvider) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.batches = append(f.batches, texts)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
		out[i][0] = float32(len(texts[i]))
	}
	return out, nil
}

func (f *fakeProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := f.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (f *fakeProvider) Dimension() int { return f.dim }

func newTestEmbedder(p Provider, s Summarizer, batch int) *Embedder {
	cfg := &config.EmbedderProviderConfig{BatchSize: batch, MaxConcurrent: 2}
	return NewWithProvider(cfg, p, s)
}

func TestEmbedTextsBatchesAndPreservesOrder(t *testing.T) {
	p := &fakeProvider{dim: 4}
	e := newTestEmbedder(p, nil, 2)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := e.EmbedTexts(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 5)

	assert.Len(t, p.batches, 3)
	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vectors[i][0], "order preserved")
	}
}

func TestEmbedTextsPropagatesError(t *testing.T) {
	p := &fakeProvider{dim: 4, err: errors.New("quota exceeded")}
	e := newTestEmbedder(p, nil, 10)

	_, err := e.EmbedTexts(context.Background(), []string{"x"})
	assert.ErrorContains(t, err, "quota exceeded")
}

type fakeSummarizer struct {
	out string
	err error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	return f.out, f.err
}

func TestSummarizeAndEmbed(t *testing.T) {
	p := &fakeProvider{dim: 4}
	e := newTestEmbedder(p, &fakeSummarizer{out: "a concise summary"}, 10)

	res, err := e.SummarizeAndEmbed(context.Background(), "a very long document body")
	require.NoError(t, err)
	assert.Equal(t, "a concise summary", res.Summary)
	assert.Len(t, res.Vector, 4)
}

func TestSummarizeAndEmbedEmptySummary(t *testing.T) {
	p := &fakeProvider{dim: 4}
	e := newTestEmbedder(p, &fakeSummarizer{out: "   "}, 10)

	_, err := e.SummarizeAndEmbed(context.Background(), "doc")
	assert.Error(t, err)
}

func TestOpenAIProviderRetriesThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req openAIEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := openAIEmbedResponse{}
		// Return out of order; the client must sort by index.
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: []float32{float32(i)}, Index: i})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(&config.EmbedderProviderConfig{
		APIKey: "test", Host: srv.URL, Model: "text-embedding-3-small", Dimension: 1, MaxRetries: 3,
	})
	require.NoError(t, err)

	vectors, err := p.EmbedTexts(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, float32(0), vectors[0][0])
	assert.Equal(t, float32(2), vectors[2][0])
	assert.Equal(t, 2, calls)
}

func TestOpenAIProviderRequiresKey(t *testing.T) {
	_, err := NewOpenAIProvider(&config.EmbedderProviderConfig{})
	assert.Error(t, err)
}

func TestOllamaProviderCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{1}}})
	}))
	defer srv.Close()

	p, err := NewOllamaProvider(&config.EmbedderProviderConfig{Host: srv.URL, Model: "nomic-embed-text", MaxRetries: 1})
	require.NoError(t, err)

	_, err = p.EmbedTexts(context.Background(), []string{"a", "b"})
	assert.ErrorContains(t, err, "2 texts")
}

func TestRetryBackoffDoubles(t *testing.T) {
	assert.Equal(t, time.Second, retryBackoff(1))
	assert.Equal(t, 2*time.Second, retryBackoff(2))
	assert.Equal(t, 4*time.Second, retryBackoff(3))
	assert.Equal(t, maxRetryBackoff, retryBackoff(6))
	assert.Equal(t, maxRetryBackoff, retryBackoff(50))
}
