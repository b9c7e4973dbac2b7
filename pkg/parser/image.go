package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/strata-ai/strata/pkg/contenttype"
)

// ImageParser dispatches standalone image uploads to the vision
// provider and uses the returned description plus OCR text as content.
type ImageParser struct {
	vision VisionPort
}

func NewImageParser(vision VisionPort) *ImageParser {
	return &ImageParser{vision: vision}
}

func (p *ImageParser) Name() string { return "image" }

func (p *ImageParser) CanParse(contentType string) bool {
	return contenttype.IsImage(contentType)
}

func (p *ImageParser) Parse(ctx context.Context, filePath string) (*Result, error) {
	if p.vision == nil {
		return nil, fmt.Errorf("vision provider not configured: %w", ErrEmptyContent)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	format := strings.TrimPrefix(filepath.Ext(filePath), ".")
	description, err := p.vision.Describe(ctx, data, format)
	if err != nil {
		return nil, fmt.Errorf("vision description failed: %w", err)
	}
	if strings.TrimSpace(description) == "" {
		return nil, ErrEmptyContent
	}

	return &Result{
		Content: description,
		Metadata: map[string]interface{}{
			"format":     "image",
			"image_type": format,
			"size_bytes": len(data),
		},
	}, nil
}
