package config

import "time"

// LLMProviderConfig configures the chat/completion provider.
type LLMProviderConfig struct {
	Type        string  `yaml:"type,omitempty"` // "openai" (OpenAI-compatible) or "anthropic"
	Model       string  `yaml:"model,omitempty"`
	APIKey      string  `yaml:"api_key,omitempty"`
	Host        string  `yaml:"host,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
	Timeout     int     `yaml:"timeout,omitempty"` // seconds
	MaxRetries  int     `yaml:"max_retries,omitempty"`
	// MaxConcurrentPerUser bounds in-flight generations per user so one
	// user cannot starve others.
	MaxConcurrentPerUser int `yaml:"max_concurrent_per_user,omitempty"`
}

func (c *LLMProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "openai"
	}
	if c.Model == "" {
		switch c.Type {
		case "anthropic":
			c.Model = "claude-sonnet-4-20250514"
		default:
			c.Model = "gpt-4o-mini"
		}
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2048
	}
	if c.Timeout == 0 {
		c.Timeout = 120
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.MaxConcurrentPerUser == 0 {
		c.MaxConcurrentPerUser = 3
	}
}

// EmbedderProviderConfig configures the embedding provider.
type EmbedderProviderConfig struct {
	Type          string `yaml:"type,omitempty"` // "openai" or "ollama"
	Model         string `yaml:"model,omitempty"`
	APIKey        string `yaml:"api_key,omitempty"`
	Host          string `yaml:"host,omitempty"`
	Dimension     int    `yaml:"dimension,omitempty"`
	BatchSize     int    `yaml:"batch_size,omitempty"`
	Timeout       int    `yaml:"timeout,omitempty"` // seconds
	MaxRetries    int    `yaml:"max_retries,omitempty"`
	MaxConcurrent int    `yaml:"max_concurrent,omitempty"`
}

func (c *EmbedderProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "openai"
	}
	if c.Model == "" {
		switch c.Type {
		case "ollama":
			c.Model = "nomic-embed-text"
		default:
			c.Model = "text-embedding-3-small"
		}
	}
	if c.Dimension == 0 {
		switch c.Model {
		case "text-embedding-3-large":
			c.Dimension = 3072
		case "nomic-embed-text":
			c.Dimension = 768
		default:
			c.Dimension = 1536
		}
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 4
	}
}

// VisionConfig configures the image description/OCR capability.
type VisionConfig struct {
	Enabled       *bool  `yaml:"enabled,omitempty"`
	Model         string `yaml:"model,omitempty"`
	APIKey        string `yaml:"api_key,omitempty"`
	Host          string `yaml:"host,omitempty"`
	MaxConcurrent int    `yaml:"max_concurrent,omitempty"`
	Timeout       int    `yaml:"timeout,omitempty"` // seconds
}

func (c *VisionConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(false)
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 5
	}
	if c.Timeout == 0 {
		c.Timeout = 60
	}
}

func (c *VisionConfig) IsEnabled() bool {
	return c.Enabled != nil && *c.Enabled && c.APIKey != ""
}

// SpeechConfig configures the speech-to-text capability.
type SpeechConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Model   string `yaml:"model,omitempty"`
	APIKey  string `yaml:"api_key,omitempty"`
	Host    string `yaml:"host,omitempty"`
	// Timeout caps a single transcription call.
	Timeout time.Duration `yaml:"timeout,omitempty"`
	// MaxVideoDuration rejects video files longer than this before
	// any transcript is produced.
	MaxVideoDuration time.Duration `yaml:"max_video_duration,omitempty"`
	// FFmpegPath is the external transcoder binary used for audio extraction.
	FFmpegPath string `yaml:"ffmpeg_path,omitempty"`
}

func (c *SpeechConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(false)
	}
	if c.Model == "" {
		c.Model = "whisper-1"
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.MaxVideoDuration == 0 {
		c.MaxVideoDuration = 2 * time.Hour
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
}

func (c *SpeechConfig) IsEnabled() bool {
	return c.Enabled != nil && *c.Enabled && c.APIKey != ""
}
