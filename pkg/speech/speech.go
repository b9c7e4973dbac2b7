// Package speech transcribes audio through a Whisper-compatible API.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/strata-ai/strata/pkg/config"
	"github.com/strata-ai/strata/pkg/parser"
)

// Transcriber implements parser.SpeechPort against the OpenAI audio
// transcription endpoint (or a compatible Host).
type Transcriber struct {
	client  *http.Client
	apiKey  string
	baseURL string
	model   string
	enabled bool
}

func New(cfg *config.SpeechConfig) *Transcriber {
	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &Transcriber{
		client:  &http.Client{Timeout: cfg.Timeout},
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		model:   cfg.Model,
		enabled: cfg.IsEnabled(),
	}
}

// Available reports whether transcription can be attempted at all.
func (t *Transcriber) Available() bool { return t.enabled }

type transcriptionResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Error    *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Transcribe uploads the audio file and returns the transcript.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) (*parser.Transcript, error) {
	if !t.enabled {
		return nil, fmt.Errorf("speech-to-text is not configured")
	}

	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("failed to copy audio: %w", err)
	}
	if err := mw.WriteField("model", t.model); err != nil {
		return nil, err
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transcription API returned status %d: %s", resp.StatusCode, string(body))
	}

	var response transcriptionResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if response.Error != nil {
		return nil, fmt.Errorf("transcription API error: %s", response.Error.Message)
	}

	return &parser.Transcript{
		Text:     response.Text,
		Language: response.Language,
		Duration: response.Duration,
	}, nil
}
