package domain

import (
	"context"
	"regexp"
)

var legalSignals = []signal{
	{regexp.MustCompile(`(?i)\bwhereas\b`), 0.2},
	{regexp.MustCompile(`(?i)\bhereinafter\b`), 0.2},
	{regexp.MustCompile(`(?i)\bpursuant to\b`), 0.15},
	{regexp.MustCompile(`(?i)\bindemnif(y|ication)\b`), 0.15},
	{regexp.MustCompile(`(?i)\bthis agreement\b`), 0.15},
	{regexp.MustCompile(`(?i)\bgoverning law\b`), 0.15},
	{regexp.MustCompile(`(?i)\bparty of the (first|second) part\b`), 0.2},
	{regexp.MustCompile(`§\s*\d`), 0.15},
	{regexp.MustCompile(`(?im)^\s*(article|section|clause)\s+[IVXivx\d]+[.:]\s`), 0.2},
}

var legalSectionPattern = regexp.MustCompile(`(?im)^\s*(article|section|clause)\s+[IVXivx\d]+[.:][^\n]*`)

// LegalProcessor detects contracts and statutes and marks section
// headings as hard chunk boundaries so clauses stay whole.
type LegalProcessor struct{}

func NewLegalProcessor() *LegalProcessor { return &LegalProcessor{} }

func (p *LegalProcessor) Name() string { return "legal" }

func (p *LegalProcessor) CanProcess(content string, metadata map[string]interface{}) float64 {
	return score(sample(content), legalSignals)
}

func (p *LegalProcessor) Process(ctx context.Context, content string, metadata map[string]interface{}, filename string) (*Result, error) {
	res := &Result{
		Content:          content,
		DocumentMetadata: map[string]interface{}{"document_kind": "legal"},
	}
	for _, loc := range legalSectionPattern.FindAllStringIndex(content, -1) {
		res.Annotations = append(res.Annotations, annotation("legal_section", loc[0], loc[1], true, map[string]interface{}{
			"heading": content[loc[0]:loc[1]],
		}))
	}
	res.DocumentMetadata["section_count"] = len(res.Annotations)
	return res, nil
}
