package domain

import (
	"context"
	"log/slog"

	"github.com/strata-ai/strata/pkg/config"
)

// Factory holds the processor set in priority order. When two
// processors tie on confidence the earlier one wins.
type Factory struct {
	processors []Processor
	threshold  float64
	fallback   Processor
}

// NewFactory wires the fixed processor set. llm may be nil; the resume
// processor then always uses its regex path.
func NewFactory(cfg *config.DomainConfig, llm LLMExtractor) *Factory {
	general := NewGeneralProcessor()
	return &Factory{
		threshold: cfg.Threshold,
		fallback:  general,
		processors: []Processor{
			NewResumeProcessor(llm),
			NewQAProcessor(),
			NewLegalProcessor(),
			NewAcademicProcessor(),
			NewEmailProcessor(),
			NewPresentationProcessor(),
			NewTableProcessor(),
			NewManualProcessor(),
			NewBookProcessor(),
			general,
		},
	}
}

// Classify scores every processor and returns the winner, falling back
// to general below the threshold.
func (f *Factory) Classify(content string, metadata map[string]interface{}) (Processor, float64) {
	best := f.fallback
	bestScore := 0.0
	for _, p := range f.processors {
		if p == f.fallback {
			continue
		}
		score := p.CanProcess(content, metadata)
		if score > bestScore {
			best = p
			bestScore = score
		}
	}
	if bestScore < f.threshold {
		return f.fallback, bestScore
	}
	return best, bestScore
}

// Process classifies and runs the winning processor. Processor errors
// degrade to the general processor rather than failing ingestion.
func (f *Factory) Process(ctx context.Context, content string, metadata map[string]interface{}, filename string) (*Result, error) {
	p, score := f.Classify(content, metadata)

	res, err := p.Process(ctx, content, metadata, filename)
	if err != nil && p != f.fallback {
		slog.Warn("Domain processor failed, using general", "processor", p.Name(), "error", err)
		res, err = f.fallback.Process(ctx, content, metadata, filename)
	}
	if err != nil {
		return nil, err
	}
	res.Processor = p.Name()
	res.Confidence = score
	return res, nil
}
