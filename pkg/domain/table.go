package domain

import (
	"context"
	"regexp"
	"strings"
)

var tableRowPattern = regexp.MustCompile(`(?m)^\|.*\|\s*$`)

// TableProcessor handles table-dominated documents (spreadsheets and
// markdown-table exports). Each table block is a hard boundary so rows
// stay with their header.
type TableProcessor struct{}

func NewTableProcessor() *TableProcessor { return &TableProcessor{} }

func (p *TableProcessor) Name() string { return "table" }

func (p *TableProcessor) CanProcess(content string, metadata map[string]interface{}) float64 {
	if metaFormat(metadata) == "spreadsheet" {
		return 0.9
	}

	s := sample(content)
	lines := strings.Split(s, "\n")
	if len(lines) == 0 {
		return 0
	}
	tableLines := len(tableRowPattern.FindAllString(s, -1))
	ratio := float64(tableLines) / float64(len(lines))
	if ratio > 0.5 {
		return 0.8
	}
	if ratio > 0.25 {
		return 0.4
	}
	return 0
}

func (p *TableProcessor) Process(ctx context.Context, content string, metadata map[string]interface{}, filename string) (*Result, error) {
	res := &Result{
		Content:          content,
		DocumentMetadata: map[string]interface{}{"document_kind": "table"},
	}

	// Mark the start of every contiguous table block.
	inTable := false
	offset := 0
	tables := 0
	for _, line := range strings.SplitAfter(content, "\n") {
		isRow := strings.HasPrefix(strings.TrimSpace(line), "|")
		if isRow && !inTable {
			res.Annotations = append(res.Annotations, annotation("table", offset, offset, true, nil))
			tables++
		}
		inTable = isRow
		offset += len(line)
	}
	res.DocumentMetadata["table_count"] = tables
	return res, nil
}
