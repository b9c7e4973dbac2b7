package domain

import (
	"context"
	"regexp"
)

var qaSignals = []signal{
	{regexp.MustCompile(`(?im)^\s*(q|question)\s*[:.]`), 0.3},
	{regexp.MustCompile(`(?im)^\s*(a|answer)\s*[:.]`), 0.3},
	{regexp.MustCompile(`(?i)\bfrequently asked questions\b|\bfaq\b`), 0.25},
	{regexp.MustCompile(`(?im)^\s*#+\s*[^\n]*\?\s*$`), 0.15},
}

var qaQuestionPattern = regexp.MustCompile(`(?im)^\s*(q|question)\s*[:.][^\n]*|^\s*#+\s*[^\n]*\?\s*$`)

// QAProcessor keeps question/answer pairs intact: every question start
// is a hard boundary so a pair never splits across chunks.
type QAProcessor struct{}

func NewQAProcessor() *QAProcessor { return &QAProcessor{} }

func (p *QAProcessor) Name() string { return "qa" }

func (p *QAProcessor) CanProcess(content string, metadata map[string]interface{}) float64 {
	return score(sample(content), qaSignals)
}

func (p *QAProcessor) Process(ctx context.Context, content string, metadata map[string]interface{}, filename string) (*Result, error) {
	res := &Result{
		Content:          content,
		DocumentMetadata: map[string]interface{}{"document_kind": "qa"},
	}
	for _, loc := range qaQuestionPattern.FindAllStringIndex(content, -1) {
		res.Annotations = append(res.Annotations, annotation("qa_pair", loc[0], loc[1], true, map[string]interface{}{
			"question": content[loc[0]:loc[1]],
		}))
	}
	res.DocumentMetadata["pair_count"] = len(res.Annotations)
	return res, nil
}
