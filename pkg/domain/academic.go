package domain

import (
	"context"
	"regexp"
)

var academicSignals = []signal{
	{regexp.MustCompile(`(?im)^\s*abstract\s*$`), 0.25},
	{regexp.MustCompile(`(?im)^\s*(references|bibliography)\s*$`), 0.2},
	{regexp.MustCompile(`(?i)\bet al\.`), 0.15},
	{regexp.MustCompile(`(?i)\bdoi:\s*10\.\d`), 0.2},
	{regexp.MustCompile(`\[\d+(,\s*\d+)*\]`), 0.1},
	{regexp.MustCompile(`(?im)^\s*\d+\.\s+(introduction|related work|methodology|conclusion)s?\b`), 0.2},
	{regexp.MustCompile(`(?i)\barxiv\b`), 0.15},
}

var academicCitationPattern = regexp.MustCompile(`\[\d+(,\s*\d+)*\]`)

var academicHeadingPattern = regexp.MustCompile(`(?im)^\s*(abstract|references|bibliography|\d+\.?\s+[A-Z][^\n]{2,60})\s*$`)

// AcademicProcessor detects papers; section headings become boundaries
// and citation density is recorded for retrieval filtering.
type AcademicProcessor struct{}

func NewAcademicProcessor() *AcademicProcessor { return &AcademicProcessor{} }

func (p *AcademicProcessor) Name() string { return "academic" }

func (p *AcademicProcessor) CanProcess(content string, metadata map[string]interface{}) float64 {
	return score(sample(content), academicSignals)
}

func (p *AcademicProcessor) Process(ctx context.Context, content string, metadata map[string]interface{}, filename string) (*Result, error) {
	res := &Result{
		Content:          content,
		DocumentMetadata: map[string]interface{}{"document_kind": "academic"},
	}
	for _, loc := range academicHeadingPattern.FindAllStringIndex(content, -1) {
		res.Annotations = append(res.Annotations, annotation("paper_section", loc[0], loc[1], true, map[string]interface{}{
			"heading": content[loc[0]:loc[1]],
		}))
	}
	res.DocumentMetadata["citation_count"] = len(academicCitationPattern.FindAllString(content, -1))
	return res, nil
}
