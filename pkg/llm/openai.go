package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/strata-ai/strata/pkg/config"
)

// OpenAIProvider speaks the OpenAI chat completions protocol; Host may
// point at any compatible endpoint.
type OpenAIProvider struct {
	client      *http.Client
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	maxRetries  int
}

type openAIRequest struct {
	Model         string          `json:"model"`
	Messages      []openAIMessage `json:"messages"`
	Temperature   float64         `json:"temperature,omitempty"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	StreamOptions *struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type openAIStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func NewOpenAIProvider(cfg *config.LLMProviderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for OpenAI provider")
	}
	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := 120 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	return &OpenAIProvider{
		client:      &http.Client{Timeout: timeout},
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		maxRetries:  maxRetries,
	}, nil
}

func (p *OpenAIProvider) Model() string { return p.model }

func (p *OpenAIProvider) Generate(ctx context.Context, messages []Message) (string, int, error) {
	reqBody, err := json.Marshal(p.buildRequest(messages, false))
	if err != nil {
		return "", 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	var body []byte
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := retryBackoff(attempt)
			select {
			case <-ctx.Done():
				return "", 0, ctx.Err()
			case <-time.After(backoff):
			}
		}
		body, lastErr = p.post(ctx, reqBody)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return "", 0, fmt.Errorf("OpenAI generation failed after %d attempts: %w", p.maxRetries, lastErr)
	}

	var response openAIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", 0, fmt.Errorf("failed to decode response: %w", err)
	}
	if response.Error != nil {
		return "", 0, fmt.Errorf("OpenAI API error: %s", response.Error.Message)
	}
	if len(response.Choices) == 0 {
		return "", 0, fmt.Errorf("OpenAI returned no choices")
	}

	tokens := 0
	if response.Usage != nil {
		tokens = response.Usage.TotalTokens
	}
	return response.Choices[0].Message.Content, tokens, nil
}

func (p *OpenAIProvider) GenerateStreaming(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	req := p.buildRequest(messages, true)
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to start stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("OpenAI returned status %d: %s", resp.StatusCode, string(body))
	}

	out := make(chan StreamChunk, 100)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		p.readStream(resp.Body, out)
	}()
	return out, nil
}

func (p *OpenAIProvider) readStream(body io.Reader, out chan<- StreamChunk) {
	reader := bufio.NewReader(body)
	totalTokens := 0

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				out <- StreamChunk{Type: "error", Err: fmt.Errorf("failed to read stream: %w", err)}
				return
			}
			break
		}

		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		line = line[6:]
		if bytes.Equal(line, []byte("[DONE]")) {
			break
		}

		var chunk openAIStreamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			out <- StreamChunk{Type: "error", Err: fmt.Errorf("OpenAI API error: %s", chunk.Error.Message)}
			return
		}
		if chunk.Usage != nil {
			totalTokens = chunk.Usage.TotalTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if text := chunk.Choices[0].Delta.Content; text != "" {
			out <- StreamChunk{Type: "text", Text: text}
		}
		if chunk.Choices[0].FinishReason == "stop" {
			// Usage arrives in a trailing chunk; keep reading.
			continue
		}
	}

	out <- StreamChunk{Type: "done", Tokens: totalTokens}
}

func (p *OpenAIProvider) buildRequest(messages []Message, stream bool) openAIRequest {
	req := openAIRequest{
		Model:       p.model,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
		Stream:      stream,
	}
	if stream {
		req.StreamOptions = &struct {
			IncludeUsage bool `json:"include_usage"`
		}{IncludeUsage: true}
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openAIMessage{Role: m.Role, Content: m.Content})
	}
	return req
}

func (p *OpenAIProvider) post(ctx context.Context, reqBody []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

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
		return nil, fmt.Errorf("OpenAI returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
