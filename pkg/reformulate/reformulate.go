// Package reformulate rewrites user queries before retrieval: expand
// adds related terms, clarify resolves pronouns against recent chat
// history, multi fans one question out into several. Reformulation is
// best-effort; any failure or timeout falls back to the original
// query.
package reformulate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/strata-ai/strata/pkg/cache"
	"github.com/strata-ai/strata/pkg/config"
)

// Mode selects the reformulation strategy.
type Mode string

const (
	ModeExpand  Mode = "expand"
	ModeClarify Mode = "clarify"
	ModeMulti   Mode = "multi"
)

// Generator is the single-prompt LLM port (satisfied by llm.Client).
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Reformulator produces query variants.
type Reformulator struct {
	llm         Generator
	cache       *cache.Cache
	enabled     bool
	timeout     time.Duration
	maxVariants int
	mode        Mode
}

func New(cfg *config.ReformulationConfig, llm Generator, c *cache.Cache) *Reformulator {
	mode := Mode(cfg.Mode)
	if mode == "" {
		mode = ModeExpand
	}
	return &Reformulator{
		llm:         llm,
		cache:       c,
		enabled:     cfg.IsEnabled(),
		timeout:     cfg.Timeout,
		maxVariants: cfg.MaxVariants,
		mode:        mode,
	}
}

const expandPrompt = `Rewrite this search query to include related terms and synonyms
that improve recall. Return only the rewritten query, nothing else.

Query: %s`

const clarifyPrompt = `Rewrite this search query so it is self-contained, resolving any
pronouns or references using the conversation below. Return only the
rewritten query, nothing else.

Conversation:
%s

Query: %s`

const multiPrompt = `Break this question into up to %d distinct search queries that
together cover it. Return one query per line, nothing else.

Question: %s`

// ForTurn reformulates a chat-turn query. A follow-up turn often leans
// on pronouns, so prior history switches the strategy to clarify;
// otherwise the configured mode applies.
func (r *Reformulator) ForTurn(ctx context.Context, query string, history []string) []string {
	mode := r.mode
	if len(history) > 0 {
		mode = ModeClarify
	}
	return r.Reformulate(ctx, query, mode, history)
}

// Reformulate returns query variants for retrieval. The first element
// is always the original query. history is recent chat turns, newest
// last, formatted "role: content"; only clarify uses it.
func (r *Reformulator) Reformulate(ctx context.Context, query string, mode Mode, history []string) []string {
	original := []string{query}
	if !r.enabled || r.llm == nil {
		return original
	}

	key := cache.Fingerprint("reform", string(mode), strings.ToLower(strings.TrimSpace(query)))
	if mode != ModeClarify {
		var cached []string
		if hit, err := r.cache.Get(ctx, key, &cached); err == nil && hit && len(cached) > 0 {
			return cached
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	variants, err := r.generate(ctx, query, mode, history)
	if err != nil {
		slog.Warn("Query reformulation failed, using original query",
			"mode", mode, "error", err)
		return original
	}

	if mode != ModeClarify {
		r.cache.Set(ctx, key, variants)
	}
	return variants
}

func (r *Reformulator) generate(ctx context.Context, query string, mode Mode, history []string) ([]string, error) {
	switch mode {
	case ModeExpand:
		out, err := r.llm.Generate(ctx, fmt.Sprintf(expandPrompt, query))
		if err != nil {
			return nil, err
		}
		rewritten := firstLine(out)
		if rewritten == "" {
			return nil, fmt.Errorf("empty reformulation")
		}
		return []string{query, rewritten}, nil

	case ModeClarify:
		convo := strings.Join(lastN(history, 6), "\n")
		out, err := r.llm.Generate(ctx, fmt.Sprintf(clarifyPrompt, convo, query))
		if err != nil {
			return nil, err
		}
		rewritten := firstLine(out)
		if rewritten == "" {
			return nil, fmt.Errorf("empty reformulation")
		}
		return []string{query, rewritten}, nil

	case ModeMulti:
		out, err := r.llm.Generate(ctx, fmt.Sprintf(multiPrompt, r.maxVariants-1, query))
		if err != nil {
			return nil, err
		}
		variants := []string{query}
		seen := map[string]struct{}{normalize(query): {}}
		for _, line := range strings.Split(out, "\n") {
			line = cleanLine(line)
			if line == "" {
				continue
			}
			if _, ok := seen[normalize(line)]; ok {
				continue
			}
			seen[normalize(line)] = struct{}{}
			variants = append(variants, line)
			if len(variants) >= r.maxVariants {
				break
			}
		}
		return variants, nil

	default:
		return nil, fmt.Errorf("unknown reformulation mode %q", mode)
	}
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if cleaned := cleanLine(line); cleaned != "" {
			return cleaned
		}
	}
	return ""
}

// cleanLine strips list markers and quotes the model tends to add.
func cleanLine(line string) string {
	line = strings.TrimSpace(line)
	line = strings.TrimLeft(line, "-*0123456789.) ")
	line = strings.Trim(line, `"`)
	return strings.TrimSpace(line)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func lastN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
