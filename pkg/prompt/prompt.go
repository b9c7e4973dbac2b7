// Package prompt assembles the system prompt for chat generation:
// style preset, formatted retrieval context with citation markers, and
// a references section. User-derived text is sanitized against prompt
// injection before it reaches the template.
package prompt

import (
	"fmt"
	"strings"

	"github.com/strata-ai/strata/pkg/retrieval"
)

// Preset names a prompt style bundle.
type Preset string

const (
	PresetBrief         Preset = "brief"
	PresetComprehensive Preset = "comprehensive"
	PresetAcademic      Preset = "academic"
	PresetTechnical     Preset = "technical"
	PresetExploratory   Preset = "exploratory"
	PresetQnA           Preset = "qna"
)

// CitationStyle selects how references render.
type CitationStyle string

const (
	CitationInline       CitationStyle = "inline"
	CitationAcademic     CitationStyle = "academic"
	CitationAcademicFull CitationStyle = "academic_full"
	CitationNarrative    CitationStyle = "narrative"
)

// ValidPreset reports whether p names a known preset.
func ValidPreset(p Preset) bool {
	switch p {
	case PresetBrief, PresetComprehensive, PresetAcademic, PresetTechnical, PresetExploratory, PresetQnA:
		return true
	}
	return false
}

// Source is one citable piece of context.
type Source struct {
	Result        retrieval.Result
	DocumentTitle string
	Author        string
	Date          string
}

// Request describes one assembly.
type Request struct {
	Preset        Preset
	CitationStyle CitationStyle
	Sources       []Source
	// GraphContext is already-synthesized entity context; it precedes
	// chunk context when present.
	GraphContext string
	// CustomSystemPrompt bypasses the preset template but still gets
	// the formatted context appended.
	CustomSystemPrompt string
	// PriorContext carries the previous turn's context verbatim for
	// follow-up questions.
	PriorContext string
}

// Assembled is the finished prompt material.
type Assembled struct {
	SystemPrompt string
	ContextText  string
	References   string
}

var presetInstructions = map[Preset]string{
	PresetBrief: `You are a helpful assistant. Answer concisely in a few sentences,
using only the provided context. Cite sources with their [n] markers.
If the context does not contain the answer, say so.`,

	PresetComprehensive: `You are a helpful assistant. Give a thorough, well-structured
answer grounded in the provided context. Cover all relevant aspects the
context supports, cite sources with their [n] markers, and note any
gaps. If the context does not contain the answer, say so.`,

	PresetAcademic: `You are a scholarly assistant. Answer in a formal academic
register, grounded strictly in the provided context. Attribute every
claim to its source with [n] markers, distinguish evidence from
interpretation, and acknowledge limitations of the available material.`,

	PresetTechnical: `You are a technical assistant. Answer precisely, preferring
exact terminology, code, parameters, and step sequences from the
provided context. Cite sources with their [n] markers. Do not invent
details the context does not support.`,

	PresetExploratory: `You are a research assistant helping the user explore a topic.
Summarize what the provided context covers, surface related themes and
open questions, and cite sources with their [n] markers. Make clear
which directions the context does and does not cover.`,

	PresetQnA: `You are a question-answering assistant. Give a direct answer first,
then brief supporting detail from the provided context with [n]
markers. If the context does not contain the answer, answer exactly:
"The provided documents do not contain this information."`,
}

// Assemble builds the system prompt for one chat turn.
func Assemble(req *Request) *Assembled {
	contextText := buildContext(req)
	references := buildReferences(req.CitationStyle, req.Sources)

	var sb strings.Builder
	if req.CustomSystemPrompt != "" {
		sb.WriteString(Sanitize(req.CustomSystemPrompt))
	} else {
		instruction, ok := presetInstructions[req.Preset]
		if !ok {
			instruction = presetInstructions[PresetComprehensive]
		}
		sb.WriteString(instruction)
	}

	if contextText != "" {
		sb.WriteString("\n\nContext:\n")
		sb.WriteString(contextText)
	}
	if references != "" {
		sb.WriteString("\n\nSources:\n")
		sb.WriteString(references)
	}

	return &Assembled{
		SystemPrompt: sb.String(),
		ContextText:  contextText,
		References:   references,
	}
}

func buildContext(req *Request) string {
	var parts []string
	if req.PriorContext != "" {
		parts = append(parts, req.PriorContext)
	}
	if req.GraphContext != "" {
		parts = append(parts, req.GraphContext)
	}
	for i, src := range req.Sources {
		content := src.Result.Content
		if src.Result.ExpandedContent != "" {
			content = src.Result.ExpandedContent
		}
		parts = append(parts, fmt.Sprintf("[%d] %s", i+1, Sanitize(content)))
	}
	return strings.Join(parts, "\n\n")
}

func buildReferences(style CitationStyle, sources []Source) string {
	if len(sources) == 0 {
		return ""
	}
	if style == "" {
		style = CitationInline
	}

	var sb strings.Builder
	for i, src := range sources {
		title := src.DocumentTitle
		if title == "" {
			title = "Untitled document"
		}
		switch style {
		case CitationAcademic:
			fmt.Fprintf(&sb, "[%d] %s", i+1, title)
			if src.Author != "" {
				fmt.Fprintf(&sb, " (%s)", src.Author)
			}
		case CitationAcademicFull:
			fmt.Fprintf(&sb, "[%d] %s", i+1, title)
			if src.Author != "" {
				fmt.Fprintf(&sb, ", %s", src.Author)
			}
			if src.Date != "" {
				fmt.Fprintf(&sb, ", %s", src.Date)
			}
			fmt.Fprintf(&sb, " (chunk %d)", src.Result.ChunkIndex)
		case CitationNarrative:
			fmt.Fprintf(&sb, "Source %d, %q", i+1, title)
		default: // inline
			fmt.Fprintf(&sb, "[%d] %s", i+1, title)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

var injectionReplacer = strings.NewReplacer(
	"SYSTEM:", "",
	"System:", "",
	"system:", "",
	"ASSISTANT:", "",
	"Assistant:", "",
	"assistant:", "",
	"USER:", "",
	"User:", "",
	"user:", "",
	"Ignore previous instructions", "",
	"ignore previous instructions", "",
	"Ignore all previous", "",
	"ignore all previous", "",
	"Disregard previous", "",
	"disregard previous", "",
	"---", "",
	"===", "",
	"***", "",
	"```", "",
)

// Sanitize strips prompt-injection patterns from user-derived text
// before it is embedded in a prompt.
func Sanitize(input string) string {
	return strings.TrimSpace(injectionReplacer.Replace(input))
}
