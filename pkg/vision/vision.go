// Package vision describes images through a multimodal chat model so
// figures and standalone images become searchable text.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/strata-ai/strata/pkg/config"
)

const describePrompt = `Describe this image for a document search index.
Include: what the image shows, any visible text (transcribe it exactly),
and for charts or diagrams the key data points. Be factual and complete.`

// Describer produces a textual description plus OCR of an image.
type Describer struct {
	client  *http.Client
	apiKey  string
	baseURL string
	model   string
	sem     *semaphore.Weighted
}

// New returns nil without error when vision is disabled; callers treat
// a nil Describer as "capability absent".
func New(cfg *config.VisionConfig) (*Describer, error) {
	if !cfg.IsEnabled() {
		return nil, nil
	}

	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &Describer{
		client:  &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		model:   cfg.Model,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}, nil
}

type visionRequest struct {
	Model     string          `json:"model"`
	Messages  []visionMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
}

type visionMessage struct {
	Role    string        `json:"role"`
	Content []visionBlock `json:"content"`
}

type visionBlock struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *visionImageURL `json:"image_url,omitempty"`
}

type visionImageURL struct {
	URL string `json:"url"`
}

type visionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Describe sends the image as a data URL and returns the model's
// description. Concurrency is capped across all callers.
func (d *Describer) Describe(ctx context.Context, imageBytes []byte, format string) (string, error) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer d.sem.Release(1)

	mediaType := "image/" + format
	if format == "jpg" {
		mediaType = "image/jpeg"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(imageBytes))

	reqBody, err := json.Marshal(visionRequest{
		Model:     d.model,
		MaxTokens: 1024,
		Messages: []visionMessage{{
			Role: "user",
			Content: []visionBlock{
				{Type: "text", Text: describePrompt},
				{Type: "image_url", ImageURL: &visionImageURL{URL: dataURL}},
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+d.apiKey)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("vision request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vision API returned status %d: %s", resp.StatusCode, string(body))
	}

	var response visionResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if response.Error != nil {
		return "", fmt.Errorf("vision API error: %s", response.Error.Message)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("vision API returned no choices")
	}
	return response.Choices[0].Message.Content, nil
}
