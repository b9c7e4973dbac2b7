// Package parser turns uploaded files into UTF-8 text plus metadata.
// Each parser declares the content types it accepts; the factory holds
// an ordered list and dispatches to the first match.
package parser

import (
	"context"
	"errors"
	"fmt"

	"github.com/strata-ai/strata/pkg/config"
)

// ErrEmptyContent is returned when a parse yields no usable text after
// all fallbacks. The ingestion coordinator treats it as a hard failure.
var ErrEmptyContent = errors.New("no content extracted")

// Image is a figure extracted from a document, later dispatched to the
// vision provider for description.
type Image struct {
	Bytes    []byte `json:"-"`
	Page     int    `json:"page"`
	Index    int    `json:"index"`
	Format   string `json:"format"`
	Filename string `json:"filename"`
}

// Result is the output of a parse: markdown-ish UTF-8 text plus
// whatever the format reveals about itself.
type Result struct {
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	PageCount int                    `json:"page_count,omitempty"`
	Images    []Image                `json:"images,omitempty"`
}

// Parser extracts text from one family of content types.
type Parser interface {
	Name() string
	CanParse(contentType string) bool
	Parse(ctx context.Context, filePath string) (*Result, error)
}

// VisionPort describes images. Implemented by pkg/vision.
type VisionPort interface {
	Describe(ctx context.Context, imageBytes []byte, format string) (string, error)
}

// SpeechPort transcribes audio. Implemented by pkg/speech.
type SpeechPort interface {
	Transcribe(ctx context.Context, audioPath string) (*Transcript, error)
	Available() bool
}

// Transcript is a speech-to-text result.
type Transcript struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Factory selects a parser by content type. Order matters: the
// slide-oriented PowerPoint parser sits ahead of the generic document
// parser so presentations never fall through to it.
type Factory struct {
	parsers []Parser
}

// NewFactory wires the full parser set. Vision and speech may be nil
// when those providers are not configured; the corresponding parsers
// then report the missing capability in metadata.
func NewFactory(speechCfg *config.SpeechConfig, vision VisionPort, speech SpeechPort) *Factory {
	f := &Factory{}
	f.parsers = []Parser{
		NewPowerPointParser(),
		NewDocumentParser(),
		NewSpreadsheetParser(),
		NewJSONParser(),
		NewEmailParser(f),
		NewImageParser(vision),
		NewVideoParser(speech, speechCfg.FFmpegPath, speechCfg.MaxVideoDuration),
		NewAudioParser(speech),
		NewWebTranscriptParser(nil),
		NewTextParser(),
	}
	return f
}

// ForContentType returns the first parser accepting contentType.
func (f *Factory) ForContentType(contentType string) (Parser, error) {
	for _, p := range f.parsers {
		if p.CanParse(contentType) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no parser for content type %q", contentType)
}

// Parse dispatches and enforces the non-empty content contract.
func (f *Factory) Parse(ctx context.Context, contentType, filePath string) (*Result, error) {
	p, err := f.ForContentType(contentType)
	if err != nil {
		return nil, err
	}
	res, err := p.Parse(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("%s parser: %w", p.Name(), err)
	}
	if res.Content == "" {
		return nil, fmt.Errorf("%s parser: %w", p.Name(), ErrEmptyContent)
	}
	if res.Metadata == nil {
		res.Metadata = map[string]interface{}{}
	}
	return res, nil
}
