package domain

import (
	"context"
	"regexp"
)

var manualSignals = []signal{
	{regexp.MustCompile(`(?im)^\s*step\s+\d+`), 0.3},
	{regexp.MustCompile(`(?i)\btroubleshooting\b`), 0.2},
	{regexp.MustCompile(`(?i)\binstallation\b`), 0.15},
	{regexp.MustCompile(`(?im)^\s*(warning|caution|note)\s*[:!]`), 0.2},
	{regexp.MustCompile(`(?i)\buser (manual|guide)\b`), 0.3},
	{regexp.MustCompile(`(?im)^\s*\d+\.\s+(press|click|select|open|turn|insert|remove)\b`), 0.2},
}

var procedurePattern = regexp.MustCompile(`(?im)^\s*step\s+\d+[^\n]*`)

// ManualProcessor detects instruction manuals; procedure steps are
// boundary-marked so a step never splits mid-instruction.
type ManualProcessor struct{}

func NewManualProcessor() *ManualProcessor { return &ManualProcessor{} }

func (p *ManualProcessor) Name() string { return "manual" }

func (p *ManualProcessor) CanProcess(content string, metadata map[string]interface{}) float64 {
	return score(sample(content), manualSignals)
}

func (p *ManualProcessor) Process(ctx context.Context, content string, metadata map[string]interface{}, filename string) (*Result, error) {
	res := &Result{
		Content:          content,
		DocumentMetadata: map[string]interface{}{"document_kind": "manual"},
	}
	for _, loc := range procedurePattern.FindAllStringIndex(content, -1) {
		res.Annotations = append(res.Annotations, annotation("procedure_step", loc[0], loc[1], true, nil))
	}
	res.DocumentMetadata["step_count"] = len(res.Annotations)
	return res, nil
}
