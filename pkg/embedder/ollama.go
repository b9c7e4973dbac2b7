package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/strata-ai/strata/pkg/config"
)

// OllamaProvider embeds through a local Ollama instance.
type OllamaProvider struct {
	client     *http.Client
	baseURL    string
	model      string
	dimension  int
	maxRetries int
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func NewOllamaProvider(cfg *config.EmbedderProviderConfig) (*OllamaProvider, error) {
	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := 60 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	return &OllamaProvider{
		client:     &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		maxRetries: maxRetries,
	}, nil
}

func (p *OllamaProvider) Dimension() int { return p.dimension }

func (p *OllamaProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *OllamaProvider) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var body []byte
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("Ollama embedding retry", "attempt", attempt+1, "error", lastErr)
			backoff := retryBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		body, lastErr = p.doRequest(ctx, reqBody)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("Ollama embeddings failed after %d attempts: %w", p.maxRetries, lastErr)
	}

	var response ollamaEmbedResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("Ollama returned %d embeddings for %d texts", len(response.Embeddings), len(texts))
	}
	return response.Embeddings, nil
}

func (p *OllamaProvider) doRequest(ctx context.Context, reqBody []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Ollama returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
