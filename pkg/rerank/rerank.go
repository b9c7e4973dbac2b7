// Package rerank re-orders retrieval candidates with an LLM relevance
// judgment. It trades latency and tokens for precision, so chat only
// enables it by configuration and retrieval never calls it.
package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/strata-ai/strata/pkg/retrieval"
)

// Generator is the single-prompt LLM port (satisfied by llm.Client).
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Reranker asks the model to score candidates 1-10 against the query.
type Reranker struct {
	llm        Generator
	maxResults int
}

// rankingDecision is the JSON shape the model returns per candidate.
type rankingDecision struct {
	Index     int    `json:"index"`
	Relevance int    `json:"relevance"`
	Reason    string `json:"reason,omitempty"`
}

func New(llm Generator, maxResults int) *Reranker {
	if maxResults <= 0 {
		maxResults = 20
	}
	return &Reranker{llm: llm, maxResults: maxResults}
}

// Rerank reorders candidates by LLM-judged relevance and rewrites
// Score as RerankScore = relevance/10 in [0, 1]. Any failure returns
// the original order unchanged.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []retrieval.Result) ([]retrieval.Result, error) {
	if r.llm == nil || len(candidates) == 0 {
		return candidates, nil
	}

	toRerank := candidates
	if len(toRerank) > r.maxResults {
		toRerank = toRerank[:r.maxResults]
	}

	response, err := r.llm.Generate(ctx, buildPrompt(query, toRerank))
	if err != nil {
		slog.Warn("Reranking failed, keeping original order", "error", err)
		return candidates, nil
	}

	rankings, err := parseRankings(response, len(toRerank))
	if err != nil {
		slog.Warn("Failed to parse rankings, keeping original order", "error", err)
		return candidates, nil
	}

	reranked := make([]retrieval.Result, 0, len(candidates))
	for _, ranking := range rankings {
		result := toRerank[ranking.Index]
		result.Score = float64(ranking.Relevance) / 10.0
		reranked = append(reranked, result)
	}
	if len(candidates) > r.maxResults {
		reranked = append(reranked, candidates[r.maxResults:]...)
	}
	return reranked, nil
}

const contentPreviewLimit = 500

func buildPrompt(query string, candidates []retrieval.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `Given the query: "%s"

Rank the following documents by their relevance to the query.
For each document, provide a relevance score from 1-10 (10 being most relevant).

Documents:
`, strings.ReplaceAll(query, `"`, `'`))

	for i, c := range candidates {
		content := c.Content
		if len(content) > contentPreviewLimit {
			content = content[:contentPreviewLimit-3] + "..."
		}
		fmt.Fprintf(&sb, "\n[%d] %s\n", i, content)
	}

	sb.WriteString(`

Respond with a JSON array of rankings, ordered from most to least relevant:
[{"index": 0, "relevance": 9, "reason": "directly answers the query"}, ...]

Only include the JSON array, no other text.`)
	return sb.String()
}

func parseRankings(response string, numResults int) ([]rankingDecision, error) {
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start == -1 || end == -1 || start >= end {
		return nil, fmt.Errorf("no JSON array found in response")
	}

	var rankings []rankingDecision
	if err := json.Unmarshal([]byte(response[start:end+1]), &rankings); err != nil {
		return nil, fmt.Errorf("failed to parse rankings JSON: %w", err)
	}

	seen := make(map[int]bool)
	var valid []rankingDecision
	for _, ranking := range rankings {
		if ranking.Index >= 0 && ranking.Index < numResults && !seen[ranking.Index] {
			if ranking.Relevance < 1 {
				ranking.Relevance = 1
			}
			if ranking.Relevance > 10 {
				ranking.Relevance = 10
			}
			seen[ranking.Index] = true
			valid = append(valid, ranking)
		}
	}

	// Candidates the model skipped sink to the bottom.
	for i := 0; i < numResults; i++ {
		if !seen[i] {
			valid = append(valid, rankingDecision{Index: i, Relevance: 1})
		}
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Relevance > valid[j].Relevance
	})
	return valid, nil
}
