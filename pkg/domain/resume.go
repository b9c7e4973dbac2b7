package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

var resumeSignals = []signal{
	{regexp.MustCompile(`(?im)^\s*(work |professional )?experience\s*$`), 0.25},
	{regexp.MustCompile(`(?im)^\s*education\s*$`), 0.2},
	{regexp.MustCompile(`(?im)^\s*(skills|technical skills)\s*$`), 0.2},
	{regexp.MustCompile(`(?i)\bcurriculum vitae\b|\bresume\b`), 0.2},
	{regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.]+`), 0.1},
	{regexp.MustCompile(`(?i)\b(20|19)\d{2}\s*[-–]\s*((20|19)\d{2}|present)\b`), 0.15},
}

var (
	resumeEmailPattern = regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.]+`)
	resumePhonePattern = regexp.MustCompile(`(\+?\d{1,3}[\s.-]?)?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}`)
	resumeYearsPattern = regexp.MustCompile(`(?i)\b((20|19)\d{2})\s*[-–]\s*((20|19)\d{2}|present)\b`)
	sectionPattern     = regexp.MustCompile(`(?im)^\s*(summary|objective|(work |professional )?experience|education|(technical )?skills|projects|certifications|awards)\s*$`)
)

// minIntegrity is the floor below which an LLM extraction is judged
// hallucinated and the regex path takes over.
const minIntegrity = 0.3

// resumeExtraction is the structured output of the LLM extractor.
type resumeExtraction struct {
	Name           string   `json:"name"`
	Email          string   `json:"email"`
	Phone          string   `json:"phone"`
	Skills         []string `json:"skills"`
	YearsOfExp     float64  `json:"years_of_experience"`
	CurrentRole    string   `json:"current_role"`
	IntegrityScore float64  `json:"integrity_score"`
}

const resumeExtractionPrompt = `Extract structured fields from the resume below.
Respond with only a JSON object with keys: name, email, phone, skills (array of
strings), years_of_experience (number), current_role, integrity_score (0-1, your
confidence that every extracted value literally appears in the text).

Resume:
%s`

// ResumeProcessor extracts candidate fields. It prefers the LLM
// extractor and falls back to regex when the LLM errors or reports an
// integrity score below the floor.
type ResumeProcessor struct {
	llm LLMExtractor
}

func NewResumeProcessor(llm LLMExtractor) *ResumeProcessor {
	return &ResumeProcessor{llm: llm}
}

func (p *ResumeProcessor) Name() string { return "resume" }

func (p *ResumeProcessor) CanProcess(content string, metadata map[string]interface{}) float64 {
	return score(sample(content), resumeSignals)
}

func (p *ResumeProcessor) Process(ctx context.Context, content string, metadata map[string]interface{}, filename string) (*Result, error) {
	res := &Result{
		Content:          content,
		DocumentMetadata: map[string]interface{}{"document_kind": "resume"},
	}

	extraction, method := p.extract(ctx, content)
	res.DocumentMetadata["extraction"] = extraction
	res.DocumentMetadata["extraction_method"] = method

	for _, loc := range sectionPattern.FindAllStringIndex(content, -1) {
		res.Annotations = append(res.Annotations, annotation("resume_section", loc[0], loc[1], true, map[string]interface{}{
			"heading": strings.TrimSpace(content[loc[0]:loc[1]]),
		}))
	}
	return res, nil
}

func (p *ResumeProcessor) extract(ctx context.Context, content string) (*resumeExtraction, string) {
	if p.llm != nil {
		if ex, err := p.extractLLM(ctx, content); err == nil {
			if ex.IntegrityScore >= minIntegrity {
				return ex, "llm"
			}
			slog.Debug("Resume extraction integrity too low, using regex",
				"integrity", ex.IntegrityScore)
		} else {
			slog.Debug("Resume LLM extraction failed, using regex", "error", err)
		}
	}
	return p.extractRegex(content), "regex"
}

func (p *ResumeProcessor) extractLLM(ctx context.Context, content string) (*resumeExtraction, error) {
	out, err := p.llm.Generate(ctx, fmt.Sprintf(resumeExtractionPrompt, sample(content)))
	if err != nil {
		return nil, err
	}

	// Models sometimes wrap JSON in code fences.
	out = strings.TrimSpace(out)
	out = strings.TrimPrefix(out, "```json")
	out = strings.TrimPrefix(out, "```")
	out = strings.TrimSuffix(out, "```")

	var ex resumeExtraction
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &ex); err != nil {
		return nil, fmt.Errorf("failed to parse extraction: %w", err)
	}
	return &ex, nil
}

func (p *ResumeProcessor) extractRegex(content string) *resumeExtraction {
	ex := &resumeExtraction{IntegrityScore: 1}

	if m := resumeEmailPattern.FindString(content); m != "" {
		ex.Email = m
	}
	if m := resumePhonePattern.FindString(content); m != "" {
		ex.Phone = strings.TrimSpace(m)
	}
	ex.YearsOfExp = float64(len(resumeYearsPattern.FindAllString(content, -1)))

	// First non-empty line is usually the candidate name.
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) < 60 && !strings.ContainsAny(line, "@|,") {
			ex.Name = line
		}
		break
	}
	return ex
}
