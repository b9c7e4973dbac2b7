package domain

import "context"

// GeneralProcessor is the fallback: no rewriting, no annotations.
type GeneralProcessor struct{}

func NewGeneralProcessor() *GeneralProcessor { return &GeneralProcessor{} }

func (p *GeneralProcessor) Name() string { return "general" }

func (p *GeneralProcessor) CanProcess(content string, metadata map[string]interface{}) float64 {
	return 0.1
}

func (p *GeneralProcessor) Process(ctx context.Context, content string, metadata map[string]interface{}, filename string) (*Result, error) {
	return &Result{
		Content:          content,
		DocumentMetadata: map[string]interface{}{},
	}, nil
}
