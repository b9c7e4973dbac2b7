// Package embedder turns text into dense vectors through a configured
// provider.
package embedder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/strata-ai/strata/pkg/config"
)

const maxRetryBackoff = 30 * time.Second

// retryBackoff doubles the wait each attempt: 1s, 2s, 4s, capped.
func retryBackoff(attempt int) time.Duration {
	if attempt > 5 {
		return maxRetryBackoff
	}
	backoff := time.Second << (attempt - 1)
	if backoff > maxRetryBackoff {
		return maxRetryBackoff
	}
	return backoff
}

// SummaryResult pairs a generated summary with its embedding for the
// hierarchical retrieval index.
type SummaryResult struct {
	Summary string
	Vector  []float32
}

// Summarizer produces the short document summary embedded alongside
// chunks. Implemented by pkg/llm; nil disables summaries.
type Summarizer interface {
	Summarize(ctx context.Context, documentText string) (string, error)
}

// Provider is the embedding port. All operations preserve input order
// and produce vectors of the provider's fixed dimension.
type Provider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Embedder wraps a provider with batching, a concurrency cap, and the
// summarize-and-embed composite used at ingestion.
type Embedder struct {
	provider   Provider
	summarizer Summarizer
	batchSize  int
	sem        *semaphore.Weighted
}

// New builds the configured provider.
func New(cfg *config.EmbedderProviderConfig, summarizer Summarizer) (*Embedder, error) {
	var provider Provider
	var err error
	switch cfg.Type {
	case "openai":
		provider, err = NewOpenAIProvider(cfg)
	case "ollama":
		provider, err = NewOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown embedder type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return NewWithProvider(cfg, provider, summarizer), nil
}

// NewWithProvider wires an existing provider (used by tests).
func NewWithProvider(cfg *config.EmbedderProviderConfig, provider Provider, summarizer Summarizer) *Embedder {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Embedder{
		provider:   provider,
		summarizer: summarizer,
		batchSize:  batch,
		sem:        semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Dimension reports the provider's output dimension.
func (e *Embedder) Dimension() int { return e.provider.Dimension() }

// EmbedTexts embeds texts in provider-sized batches, order preserved.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		if err := e.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		vectors, err := e.provider.EmbedTexts(ctx, texts[start:end])
		e.sem.Release(1)
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch %d-%d: %w", start, end, err)
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("provider returned %d vectors for %d texts", len(vectors), end-start)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// EmbedQuery embeds one query string with the same model as chunks.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.sem.Release(1)
	return e.provider.EmbedQuery(ctx, text)
}

// SummarizeAndEmbed produces the document summary plus its vector.
func (e *Embedder) SummarizeAndEmbed(ctx context.Context, documentText string) (*SummaryResult, error) {
	if e.summarizer == nil {
		return nil, fmt.Errorf("no summarizer configured")
	}

	summary, err := e.summarizer.Summarize(ctx, documentText)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize document: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil, fmt.Errorf("summarizer returned empty summary")
	}

	vector, err := e.EmbedQuery(ctx, summary)
	if err != nil {
		return nil, fmt.Errorf("failed to embed summary: %w", err)
	}
	return &SummaryResult{Summary: summary, Vector: vector}, nil
}
