// Package domain classifies parsed documents into content kinds and
// applies kind-specific enrichment before chunking.
package domain

import (
	"context"

	"github.com/strata-ai/strata/pkg/chunker"
)

// Result is the output of a processor run.
type Result struct {
	// Content is the (possibly rewritten) text handed to the chunker.
	Content string
	// DocumentMetadata is merged into the document's metadata.
	DocumentMetadata map[string]interface{}
	// Annotations guide chunk boundaries and retrieval filtering.
	Annotations []chunker.Annotation
	// Processor names which implementation ran.
	Processor string
	// Confidence is the classification score that selected it.
	Confidence float64
}

// Processor handles one document kind. CanProcess returns a confidence
// in [0,1] from cheap regex and keyword signals; Process may do real
// work including LLM calls.
type Processor interface {
	Name() string
	CanProcess(content string, metadata map[string]interface{}) float64
	Process(ctx context.Context, content string, metadata map[string]interface{}, filename string) (*Result, error)
}

// LLMExtractor is the narrow slice of the LLM provider the resume
// processor needs. Implemented by pkg/llm.
type LLMExtractor interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
