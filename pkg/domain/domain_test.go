package domain

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-ai/strata/pkg/config"
)

func newTestFactory(llm LLMExtractor) *Factory {
	cfg := &config.DomainConfig{}
	cfg.SetDefaults()
	return NewFactory(cfg, llm)
}

const legalSample = `SERVICE AGREEMENT

WHEREAS the parties wish to enter into this Agreement, and WHEREAS the
Provider agrees to deliver services pursuant to the terms below;

Section 1. Definitions
"Services" means the work described in Exhibit A, hereinafter the Work.

Section 2. Governing Law
This Agreement is governed by the laws of Delaware.`

const qaSample = `Frequently Asked Questions

Q: What is the refund window?
A: Thirty days from purchase.

Q: How do I reset my password?
A: Use the reset link on the sign-in page.`

const resumeSample = `Jane Doe
jane.doe@example.com | (555) 123-4567

Experience
Senior Engineer, Acme Corp, 2019 - present
Engineer, Widgets Inc, 2015 - 2019

Education
BSc Computer Science

Skills
Go, Postgres, Kubernetes`

func TestClassifyLegal(t *testing.T) {
	f := newTestFactory(nil)
	p, score := f.Classify(legalSample, nil)
	assert.Equal(t, "legal", p.Name())
	assert.GreaterOrEqual(t, score, 0.3)
}

func TestClassifyQA(t *testing.T) {
	f := newTestFactory(nil)
	p, _ := f.Classify(qaSample, nil)
	assert.Equal(t, "qa", p.Name())
}

func TestClassifyFallsBackToGeneral(t *testing.T) {
	f := newTestFactory(nil)
	p, _ := f.Classify("Some completely ordinary prose about the weather today.", nil)
	assert.Equal(t, "general", p.Name())
}

func TestClassifyUsesMetadataFormat(t *testing.T) {
	f := newTestFactory(nil)

	p, score := f.Classify("body text", map[string]interface{}{"format": "email"})
	assert.Equal(t, "email", p.Name())
	assert.GreaterOrEqual(t, score, 0.9)

	p, _ = f.Classify("deck text", map[string]interface{}{"format": "pptx"})
	assert.Equal(t, "presentation", p.Name())
}

func TestQAAnnotationsPreserveBoundaries(t *testing.T) {
	f := newTestFactory(nil)
	res, err := f.Process(context.Background(), qaSample, nil, "faq.md")
	require.NoError(t, err)

	assert.Equal(t, "qa", res.Processor)
	require.NotEmpty(t, res.Annotations)
	for _, a := range res.Annotations {
		assert.Equal(t, "qa_pair", a.Type)
		assert.True(t, a.PreserveBoundary)
	}
}

func TestLegalSectionAnnotations(t *testing.T) {
	p := NewLegalProcessor()
	res, err := p.Process(context.Background(), legalSample, nil, "contract.pdf")
	require.NoError(t, err)

	assert.Equal(t, "legal", res.DocumentMetadata["document_kind"])
	assert.Len(t, res.Annotations, 2)
	assert.Contains(t, res.Annotations[0].Fields["heading"], "Section 1")
}

type fakeLLM struct {
	out string
	err error
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string) (string, error) {
	return f.out, f.err
}

func TestResumeLLMExtraction(t *testing.T) {
	llm := &fakeLLM{out: `{"name":"Jane Doe","email":"jane.doe@example.com","skills":["Go"],"integrity_score":0.9}`}
	p := NewResumeProcessor(llm)

	res, err := p.Process(context.Background(), resumeSample, nil, "jane.pdf")
	require.NoError(t, err)
	assert.Equal(t, "llm", res.DocumentMetadata["extraction_method"])

	ex := res.DocumentMetadata["extraction"].(*resumeExtraction)
	assert.Equal(t, "Jane Doe", ex.Name)
}

func TestResumeLowIntegrityFallsBackToRegex(t *testing.T) {
	llm := &fakeLLM{out: `{"name":"Someone Else","integrity_score":0.1}`}
	p := NewResumeProcessor(llm)

	res, err := p.Process(context.Background(), resumeSample, nil, "jane.pdf")
	require.NoError(t, err)
	assert.Equal(t, "regex", res.DocumentMetadata["extraction_method"])

	ex := res.DocumentMetadata["extraction"].(*resumeExtraction)
	assert.Equal(t, "jane.doe@example.com", ex.Email)
	assert.Equal(t, "Jane Doe", ex.Name)
}

func TestResumeLLMErrorFallsBackToRegex(t *testing.T) {
	llm := &fakeLLM{err: errors.New("provider down")}
	p := NewResumeProcessor(llm)

	res, err := p.Process(context.Background(), resumeSample, nil, "jane.pdf")
	require.NoError(t, err)
	assert.Equal(t, "regex", res.DocumentMetadata["extraction_method"])
}

func TestTableProcessorOnSpreadsheets(t *testing.T) {
	p := NewTableProcessor()

	md := map[string]interface{}{"format": "spreadsheet"}
	assert.GreaterOrEqual(t, p.CanProcess("| a | b |", md), 0.9)

	content := "## Sheet1\n\n| a | b |\n| --- | --- |\n| 1 | 2 |\n\nprose\n\n| c | d |\n| --- | --- |\n"
	res, err := p.Process(context.Background(), content, md, "data.xlsx")
	require.NoError(t, err)
	assert.Equal(t, 2, res.DocumentMetadata["table_count"])
}

func TestBookNeedsLength(t *testing.T) {
	p := NewBookProcessor()
	short := "Chapter 1\nIt was a dark and stormy night.\nISBN 123"
	assert.LessOrEqual(t, p.CanProcess(short, nil), 0.3)

	long := strings.Repeat(short+"\n"+strings.Repeat("filler text ", 200)+"\n", 20)
	assert.Greater(t, p.CanProcess(long, nil), 0.3)
}

func TestGeneralProcessorPassthrough(t *testing.T) {
	f := newTestFactory(nil)
	content := "Plain prose with nothing special about it at all."

	res, err := f.Process(context.Background(), content, nil, "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "general", res.Processor)
	assert.Equal(t, content, res.Content)
	assert.Empty(t, res.Annotations)
}
