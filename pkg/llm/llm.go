// Package llm talks to chat-completion providers for answer
// generation, summarization, and structured extraction.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

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

// Message is one turn of provider input.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// StreamChunk is one unit of streaming output. Exactly one chunk with
// Type "done" or "error" terminates a stream.
type StreamChunk struct {
	Type   string // "text", "done", "error"
	Text   string
	Tokens int
	Err    error
}

// Provider is the generation port.
type Provider interface {
	// Generate returns the full completion and total token usage.
	Generate(ctx context.Context, messages []Message) (string, int, error)
	// GenerateStreaming emits chunks on the returned channel; the
	// channel closes after the terminal chunk.
	GenerateStreaming(ctx context.Context, messages []Message) (<-chan StreamChunk, error)
	Model() string
}

// New builds the configured provider.
func New(cfg *config.LLMProviderConfig) (Provider, error) {
	switch cfg.Type {
	case "openai":
		return NewOpenAIProvider(cfg)
	case "anthropic":
		return NewAnthropicProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider type %q", cfg.Type)
	}
}

// Client layers the small convenience operations other packages need
// on top of a provider.
type Client struct {
	provider Provider
}

func NewClient(provider Provider) *Client {
	return &Client{provider: provider}
}

func (c *Client) Provider() Provider { return c.provider }

// Generate satisfies the single-prompt extractor interfaces.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	out, _, err := c.provider.Generate(ctx, []Message{{Role: "user", Content: prompt}})
	return out, err
}

const summarizePrompt = `Summarize the following document in 3-5 sentences.
Cover the main topic, key entities, and any conclusions. Respond with only the summary.

Document:
%s`

// summarizeInputLimit bounds how much document text is sent for
// summarization.
const summarizeInputLimit = 24 * 1024

// Summarize produces the short document summary used by hierarchical
// retrieval.
func (c *Client) Summarize(ctx context.Context, documentText string) (string, error) {
	text := documentText
	if len(text) > summarizeInputLimit {
		text = text[:summarizeInputLimit]
	}
	out, _, err := c.provider.Generate(ctx, []Message{
		{Role: "user", Content: fmt.Sprintf(summarizePrompt, text)},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
