package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/strata-ai/strata/pkg/contenttype"
)

// AudioParser transcribes audio files through the speech provider.
type AudioParser struct {
	speech SpeechPort
}

func NewAudioParser(speech SpeechPort) *AudioParser {
	return &AudioParser{speech: speech}
}

func (p *AudioParser) Name() string { return "audio" }

func (p *AudioParser) CanParse(contentType string) bool {
	return contenttype.IsAudio(contentType)
}

func (p *AudioParser) Parse(ctx context.Context, filePath string) (*Result, error) {
	if p.speech == nil || !p.speech.Available() {
		return nil, fmt.Errorf("speech provider not configured: %w", ErrEmptyContent)
	}

	tr, err := p.speech.Transcribe(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("transcription failed: %w", err)
	}
	if strings.TrimSpace(tr.Text) == "" {
		return nil, ErrEmptyContent
	}

	md := map[string]interface{}{"format": "audio"}
	if tr.Language != "" {
		md["language"] = tr.Language
	}
	if tr.Duration > 0 {
		md["duration_seconds"] = tr.Duration
	}
	return &Result{Content: tr.Text, Metadata: md}, nil
}
