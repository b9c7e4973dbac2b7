package parser

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"

	"github.com/strata-ai/strata/pkg/contenttype"
)

// DocumentParser handles PDF and Word files. It tries the structured
// extractor first and falls back to raw text extraction when that
// returns nothing; the fallback is recorded in metadata so the status
// endpoint can report how the text was obtained.
type DocumentParser struct{}

func NewDocumentParser() *DocumentParser { return &DocumentParser{} }

func (p *DocumentParser) Name() string { return "document" }

func (p *DocumentParser) CanParse(contentType string) bool {
	switch contentType {
	case contenttype.PDF, contenttype.DOCX, contenttype.DOC:
		return true
	}
	return false
}

func (p *DocumentParser) Parse(ctx context.Context, filePath string) (*Result, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	if strings.HasSuffix(strings.ToLower(filePath), ".docx") {
		return p.parseDOCX(filePath)
	}
	return p.parsePDF(filePath, info.Size())
}

func (p *DocumentParser) parseDOCX(filePath string) (*Result, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open docx: %w", err)
	}
	defer r.Close()

	raw := r.Editable().GetContent()
	content := cleanDocxXML(raw)
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	return &Result{
		Content: content,
		Metadata: map[string]interface{}{
			"extraction_method": "structured",
			"format":            "docx",
		},
	}, nil
}

func (p *DocumentParser) parsePDF(filePath string, size int64) (*Result, error) {
	f, r, err := pdf.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	pageCount := r.NumPage()
	method := "structured"

	content, err := extractPDFPlainText(r)
	if err != nil || strings.TrimSpace(content) == "" {
		content = extractPDFByRows(r)
		method = "fallback"
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	return &Result{
		Content:   content,
		PageCount: pageCount,
		Metadata: map[string]interface{}{
			"extraction_method": method,
			"format":            "pdf",
			"size_bytes":        size,
		},
	}, nil
}

func extractPDFPlainText(r *pdf.Reader) (text string, err error) {
	// The pdf library panics on some malformed streams.
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pdf extraction panic: %v", rec)
		}
	}()

	var buf bytes.Buffer
	reader, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// extractPDFByRows walks pages row by row. Slower and loses some
// layout, but survives documents the plain-text path cannot read.
func extractPDFByRows(r *pdf.Reader) string {
	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		func() {
			defer func() { _ = recover() }()
			page := r.Page(i)
			if page.V.IsNull() {
				return
			}
			rows, err := page.GetTextByRow()
			if err != nil {
				return
			}
			for _, row := range rows {
				for _, word := range row.Content {
					sb.WriteString(word.S)
					sb.WriteString(" ")
				}
				sb.WriteString("\n")
			}
			sb.WriteString("\n")
		}()
	}
	return sb.String()
}

// cleanDocxXML strips the tag residue GetContent leaves behind.
func cleanDocxXML(raw string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range raw {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			sb.WriteRune('\n')
		case !inTag:
			sb.WriteRune(r)
		}
	}
	lines := strings.Split(sb.String(), "\n")
	var out []string
	for _, line := range lines {
		if s := strings.TrimSpace(line); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, "\n")
}
