package domain

import (
	"regexp"
	"strings"

	"github.com/strata-ai/strata/pkg/chunker"
)

// signal is one weighted detector contributing to a confidence score.
type signal struct {
	pattern *regexp.Regexp
	weight  float64
}

// score sums the weights of matching signals, capped at 1.
func score(content string, signals []signal) float64 {
	total := 0.0
	for _, s := range signals {
		if s.pattern.MatchString(content) {
			total += s.weight
		}
	}
	if total > 1 {
		total = 1
	}
	return total
}

// sample returns the head of content used for cheap classification so
// huge documents do not pay full regex cost.
func sample(content string) string {
	const max = 16 * 1024
	if len(content) <= max {
		return content
	}
	return content[:max]
}

// annotation builds a chunker annotation in one line.
func annotation(typ string, start, end int, boundary bool, fields map[string]interface{}) chunker.Annotation {
	return chunker.Annotation{
		Type:             typ,
		StartOffset:      start,
		EndOffset:        end,
		PreserveBoundary: boundary,
		Fields:           fields,
	}
}

// metaFormat reads the parser's format hint out of metadata.
func metaFormat(metadata map[string]interface{}) string {
	if metadata == nil {
		return ""
	}
	if f, ok := metadata["format"].(string); ok {
		return strings.ToLower(f)
	}
	return ""
}
