package domain

import (
	"context"
	"regexp"
)

var slideHeadingPattern = regexp.MustCompile(`(?m)^## Slide \d+$`)

// PresentationProcessor handles slide decks. Every slide heading is a
// hard boundary; slides are the natural retrieval unit.
type PresentationProcessor struct{}

func NewPresentationProcessor() *PresentationProcessor { return &PresentationProcessor{} }

func (p *PresentationProcessor) Name() string { return "presentation" }

func (p *PresentationProcessor) CanProcess(content string, metadata map[string]interface{}) float64 {
	if metaFormat(metadata) == "pptx" {
		return 0.95
	}
	if len(slideHeadingPattern.FindAllString(sample(content), -1)) >= 2 {
		return 0.6
	}
	return 0
}

func (p *PresentationProcessor) Process(ctx context.Context, content string, metadata map[string]interface{}, filename string) (*Result, error) {
	res := &Result{
		Content:          content,
		DocumentMetadata: map[string]interface{}{"document_kind": "presentation"},
	}
	slides := slideHeadingPattern.FindAllStringIndex(content, -1)
	for _, loc := range slides {
		res.Annotations = append(res.Annotations, annotation("slide", loc[0], loc[1], true, map[string]interface{}{
			"heading": content[loc[0]:loc[1]],
		}))
	}
	res.DocumentMetadata["slide_count"] = len(slides)
	return res, nil
}
