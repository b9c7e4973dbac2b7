package parser

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/strata-ai/strata/pkg/contenttype"
)

// jsonSectionBytes bounds one rendered section so a single giant object
// does not become one unchunkable blob.
const jsonSectionBytes = 4096

// JSONParser flattens JSON and JSONL documents into "dot.path: value"
// lines. Newline-delimited input is detected by attempting a whole-file
// decode first.
type JSONParser struct{}

func NewJSONParser() *JSONParser { return &JSONParser{} }

func (p *JSONParser) Name() string { return "json" }

func (p *JSONParser) CanParse(contentType string) bool {
	return contentType == contenttype.JSON || contentType == contenttype.JSONL
}

func (p *JSONParser) Parse(ctx context.Context, filePath string) (*Result, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err == nil {
		content := renderSections(flatten("", doc))
		if content == "" {
			return nil, ErrEmptyContent
		}
		return &Result{
			Content:  content,
			Metadata: map[string]interface{}{"format": "json"},
		}, nil
	}

	// Whole-file decode failed; treat as newline-delimited records.
	var sections []string
	records := 0
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec interface{}
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		records++
		sections = append(sections, renderSections(flatten(fmt.Sprintf("record[%d]", records-1), rec)))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan jsonl: %w", err)
	}
	if records == 0 {
		return nil, fmt.Errorf("file is neither valid JSON nor JSONL: %w", ErrEmptyContent)
	}

	return &Result{
		Content: strings.Join(sections, "\n\n"),
		Metadata: map[string]interface{}{
			"format":  "jsonl",
			"records": records,
		},
	}, nil
}

// flatten walks the value depth-first producing sorted dot-path lines.
func flatten(prefix string, v interface{}) []string {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var out []string
		for _, k := range keys {
			out = append(out, flatten(joinPath(prefix, k), val[k])...)
		}
		return out
	case []interface{}:
		var out []string
		for i, item := range val {
			out = append(out, flatten(fmt.Sprintf("%s[%d]", prefix, i), item)...)
		}
		return out
	case nil:
		return []string{prefix + ": null"}
	default:
		return []string{fmt.Sprintf("%s: %v", prefix, val)}
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// renderSections groups lines into size-bounded blocks separated by
// blank lines so the chunker can split on them.
func renderSections(lines []string) string {
	var sb strings.Builder
	sectionLen := 0
	for _, line := range lines {
		if sectionLen > 0 && sectionLen+len(line) > jsonSectionBytes {
			sb.WriteString("\n")
			sectionLen = 0
		}
		sb.WriteString(line)
		sb.WriteString("\n")
		sectionLen += len(line) + 1
	}
	return strings.TrimSpace(sb.String())
}
