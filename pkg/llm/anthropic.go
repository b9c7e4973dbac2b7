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

const anthropicVersion = "2023-06-01"

// AnthropicProvider speaks the Anthropic messages protocol.
type AnthropicProvider struct {
	client      *http.Client
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	maxRetries  int
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Message *struct {
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func NewAnthropicProvider(cfg *config.LLMProviderConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Anthropic provider")
	}
	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	timeout := 120 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	return &AnthropicProvider{
		client:      &http.Client{Timeout: timeout},
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		maxRetries:  maxRetries,
	}, nil
}

func (p *AnthropicProvider) Model() string { return p.model }

// buildRequest folds system messages into the dedicated system field
// the messages API requires.
func (p *AnthropicProvider) buildRequest(messages []Message, stream bool) anthropicRequest {
	req := anthropicRequest{
		Model:       p.model,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
		Stream:      stream,
	}
	for _, m := range messages {
		if m.Role == "system" {
			if req.System != "" {
				req.System += "\n\n"
			}
			req.System += m.Content
			continue
		}
		req.Messages = append(req.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	return req
}

func (p *AnthropicProvider) Generate(ctx context.Context, messages []Message) (string, int, error) {
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
		return "", 0, fmt.Errorf("Anthropic generation failed after %d attempts: %w", p.maxRetries, lastErr)
	}

	var response anthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", 0, fmt.Errorf("failed to decode response: %w", err)
	}
	if response.Error != nil {
		return "", 0, fmt.Errorf("Anthropic API error: %s", response.Error.Message)
	}

	var text string
	for _, block := range response.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	tokens := response.Usage.InputTokens + response.Usage.OutputTokens
	return text, tokens, nil
}

func (p *AnthropicProvider) GenerateStreaming(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	reqBody, err := json.Marshal(p.buildRequest(messages, true))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to start stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("Anthropic returned status %d: %s", resp.StatusCode, string(body))
	}

	out := make(chan StreamChunk, 100)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		p.readStream(resp.Body, out)
	}()
	return out, nil
}

func (p *AnthropicProvider) readStream(body io.Reader, out chan<- StreamChunk) {
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

		var event anthropicStreamEvent
		if err := json.Unmarshal(line[6:], &event); err != nil {
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				totalTokens += event.Message.Usage.InputTokens
			}
		case "content_block_delta":
			if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				out <- StreamChunk{Type: "text", Text: event.Delta.Text}
			}
		case "message_delta":
			if event.Usage != nil {
				totalTokens += event.Usage.OutputTokens
			}
		case "error":
			msg := "stream error"
			if event.Error != nil {
				msg = event.Error.Message
			}
			out <- StreamChunk{Type: "error", Err: fmt.Errorf("Anthropic API error: %s", msg)}
			return
		case "message_stop":
			out <- StreamChunk{Type: "done", Tokens: totalTokens}
			return
		}
	}

	out <- StreamChunk{Type: "done", Tokens: totalTokens}
}

func (p *AnthropicProvider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
}

func (p *AnthropicProvider) post(ctx context.Context, reqBody []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.setHeaders(httpReq)

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
		return nil, fmt.Errorf("Anthropic returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
