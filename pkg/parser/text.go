package parser

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/strata-ai/strata/pkg/contenttype"
)

// TextParser is the catch-all for text/* types. Invalid UTF-8 is
// replaced rather than rejected so near-text files still ingest.
type TextParser struct{}

func NewTextParser() *TextParser { return &TextParser{} }

func (p *TextParser) Name() string { return "text" }

func (p *TextParser) CanParse(contentType string) bool {
	return contenttype.IsText(contentType)
}

func (p *TextParser) Parse(ctx context.Context, filePath string) (*Result, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	content := string(data)
	lossy := false
	if !utf8.ValidString(content) {
		content = strings.ToValidUTF8(content, "�")
		lossy = true
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	md := map[string]interface{}{"format": "text"}
	if lossy {
		md["lossy_decode"] = true
	}
	return &Result{Content: content, Metadata: md}, nil
}
