package domain

import (
	"context"
	"regexp"
)

var bookSignals = []signal{
	{regexp.MustCompile(`(?im)^\s*chapter\s+[IVXivx\d]+`), 0.35},
	{regexp.MustCompile(`(?im)^\s*(table of contents|contents)\s*$`), 0.25},
	{regexp.MustCompile(`(?im)^\s*(prologue|epilogue|preface|foreword)\s*$`), 0.2},
	{regexp.MustCompile(`(?i)\bcopyright\s+©?\s*\d{4}\b`), 0.1},
	{regexp.MustCompile(`(?i)\bisbn\b`), 0.2},
}

var chapterPattern = regexp.MustCompile(`(?im)^\s*chapter\s+[IVXivx\d]+[^\n]*`)

// BookProcessor detects long-form books; chapter starts become hard
// boundaries and the chapter list lands in document metadata.
type BookProcessor struct{}

func NewBookProcessor() *BookProcessor { return &BookProcessor{} }

func (p *BookProcessor) Name() string { return "book" }

func (p *BookProcessor) CanProcess(content string, metadata map[string]interface{}) float64 {
	s := score(sample(content), bookSignals)
	// Books are long; short documents with chapter-like lines are
	// usually outlines.
	if len(content) < 20_000 && s > 0.3 {
		s = 0.3
	}
	return s
}

func (p *BookProcessor) Process(ctx context.Context, content string, metadata map[string]interface{}, filename string) (*Result, error) {
	res := &Result{
		Content:          content,
		DocumentMetadata: map[string]interface{}{"document_kind": "book"},
	}
	var chapters []string
	for _, loc := range chapterPattern.FindAllStringIndex(content, -1) {
		heading := content[loc[0]:loc[1]]
		chapters = append(chapters, heading)
		res.Annotations = append(res.Annotations, annotation("chapter", loc[0], loc[1], true, map[string]interface{}{
			"heading": heading,
		}))
	}
	res.DocumentMetadata["chapters"] = chapters
	return res, nil
}
