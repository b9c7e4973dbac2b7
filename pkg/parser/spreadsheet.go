package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/strata-ai/strata/pkg/contenttype"
)

// SpreadsheetParser renders each worksheet as a markdown table so
// downstream chunking keeps rows intact.
type SpreadsheetParser struct{}

func NewSpreadsheetParser() *SpreadsheetParser { return &SpreadsheetParser{} }

func (p *SpreadsheetParser) Name() string { return "spreadsheet" }

func (p *SpreadsheetParser) CanParse(contentType string) bool {
	return contentType == contenttype.XLSX || contentType == contenttype.XLS
}

func (p *SpreadsheetParser) Parse(ctx context.Context, filePath string) (*Result, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	sheets := f.GetSheetList()
	sheetMeta := make([]map[string]interface{}, 0, len(sheets))

	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		if len(rows) == 0 {
			sheetMeta = append(sheetMeta, map[string]interface{}{
				"name": sheet, "rows": 0, "columns": 0,
			})
			continue
		}

		cols := 0
		for _, row := range rows {
			if len(row) > cols {
				cols = len(row)
			}
		}
		sheetMeta = append(sheetMeta, map[string]interface{}{
			"name": sheet, "rows": len(rows), "columns": cols,
		})

		fmt.Fprintf(&sb, "## %s\n\n", sheet)
		writeMarkdownTable(&sb, rows, cols)
		sb.WriteString("\n")
	}

	content := strings.TrimSpace(sb.String())
	if content == "" {
		return nil, ErrEmptyContent
	}

	return &Result{
		Content: content,
		Metadata: map[string]interface{}{
			"format": "spreadsheet",
			"sheets": sheetMeta,
		},
	}, nil
}

func writeMarkdownTable(sb *strings.Builder, rows [][]string, cols int) {
	for i, row := range rows {
		sb.WriteString("|")
		for c := 0; c < cols; c++ {
			cell := ""
			if c < len(row) {
				cell = strings.ReplaceAll(row[c], "|", "\\|")
				cell = strings.ReplaceAll(cell, "\n", " ")
			}
			sb.WriteString(" " + cell + " |")
		}
		sb.WriteString("\n")
		if i == 0 {
			sb.WriteString("|")
			for c := 0; c < cols; c++ {
				sb.WriteString(" --- |")
			}
			sb.WriteString("\n")
		}
	}
}
