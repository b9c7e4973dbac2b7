// Package chunker splits parsed document text into token-bounded
// pieces for embedding and indexing.
package chunker

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/strata-ai/strata/pkg/config"
)

// Annotation marks a region of the content produced by a domain
// processor. When PreserveBoundary is set the chunker never merges
// text across the region's start offset.
type Annotation struct {
	Type             string                 `json:"type"`
	StartOffset      int                    `json:"start_offset"`
	EndOffset        int                    `json:"end_offset,omitempty"`
	PreserveBoundary bool                   `json:"preserve_boundary,omitempty"`
	Fields           map[string]interface{} `json:"fields,omitempty"`
}

// Piece is one chunk of output. Indices are 0-based and contiguous.
type Piece struct {
	Content    string `json:"content"`
	ChunkIndex int    `json:"chunk_index"`
	Tokens     int    `json:"tokens"`
}

// Chunker accumulates paragraphs up to a token target, falling back to
// sentence and finally token-level splits for oversized runs.
type Chunker struct {
	targetTokens  int
	overlapTokens int
	enc           *tiktoken.Tiktoken
}

// New builds a chunker from config; the encoding must be a known
// tiktoken encoding name.
func New(cfg *config.ChunkingConfig) (*Chunker, error) {
	enc, err := tiktoken.GetEncoding(cfg.Encoding)
	if err != nil {
		return nil, fmt.Errorf("unknown token encoding %q: %w", cfg.Encoding, err)
	}
	return &Chunker{
		targetTokens:  cfg.TargetTokens,
		overlapTokens: cfg.OverlapTokens,
		enc:           enc,
	}, nil
}

// CountTokens reports the token length of text under the configured
// encoding.
func (c *Chunker) CountTokens(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// Chunk splits content into ordered pieces. Empty content yields zero
// pieces; the ingestion coordinator treats that as a failure.
func (c *Chunker) Chunk(content string, annotations []Annotation) []Piece {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	var pieces []Piece
	for _, block := range splitAtBoundaries(content, annotations) {
		pieces = c.chunkBlock(block, pieces)
	}
	for i := range pieces {
		pieces[i].ChunkIndex = i
	}
	return pieces
}

// splitAtBoundaries cuts content at every preserve_boundary offset so
// no chunk spans one.
func splitAtBoundaries(content string, annotations []Annotation) []string {
	var offsets []int
	for _, a := range annotations {
		if a.PreserveBoundary && a.StartOffset > 0 && a.StartOffset < len(content) {
			offsets = append(offsets, a.StartOffset)
		}
	}
	if len(offsets) == 0 {
		return []string{content}
	}
	sort.Ints(offsets)

	var blocks []string
	prev := 0
	for _, off := range offsets {
		if off <= prev {
			continue
		}
		if b := strings.TrimSpace(content[prev:off]); b != "" {
			blocks = append(blocks, b)
		}
		prev = off
	}
	if b := strings.TrimSpace(content[prev:]); b != "" {
		blocks = append(blocks, b)
	}
	return blocks
}

var paragraphPattern = regexp.MustCompile(`\n{2,}`)

// chunkBlock appends the block's chunks to pieces. Overlap is carried
// within a block only; boundaries stay hard.
func (c *Chunker) chunkBlock(block string, pieces []Piece) []Piece {
	var segments []string
	for _, para := range paragraphPattern.Split(block, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if c.CountTokens(para) <= c.targetTokens {
			segments = append(segments, para)
			continue
		}
		segments = append(segments, c.splitOversized(para)...)
	}

	var cur strings.Builder
	curTokens := 0
	flush := func() {
		text := strings.TrimSpace(cur.String())
		if text == "" {
			return
		}
		pieces = append(pieces, Piece{Content: text, Tokens: c.CountTokens(text)})
		cur.Reset()
		curTokens = 0
	}

	for _, seg := range segments {
		segTokens := c.CountTokens(seg)
		if curTokens > 0 && curTokens+segTokens > c.targetTokens {
			overlap := c.tailTokens(cur.String())
			flush()
			if overlap != "" {
				cur.WriteString(overlap)
				cur.WriteString("\n\n")
				curTokens = c.CountTokens(overlap)
			}
		}
		cur.WriteString(seg)
		cur.WriteString("\n\n")
		curTokens += segTokens
	}
	flush()
	return pieces
}

// splitOversized breaks a paragraph into sentences, then hard token
// windows for anything that still does not fit.
func (c *Chunker) splitOversized(para string) []string {
	var out []string
	var cur strings.Builder
	curTokens := 0

	for _, sent := range splitSentences(para) {
		n := c.CountTokens(sent)
		if n > c.targetTokens {
			if cur.Len() > 0 {
				out = append(out, strings.TrimSpace(cur.String()))
				cur.Reset()
				curTokens = 0
			}
			out = append(out, c.tokenWindows(sent)...)
			continue
		}
		if curTokens > 0 && curTokens+n > c.targetTokens {
			out = append(out, strings.TrimSpace(cur.String()))
			cur.Reset()
			curTokens = 0
		}
		cur.WriteString(sent)
		cur.WriteString(" ")
		curTokens += n
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// tokenWindows is the last resort: fixed token-count windows decoded
// back to text.
func (c *Chunker) tokenWindows(text string) []string {
	tokens := c.enc.Encode(text, nil, nil)
	var out []string
	for start := 0; start < len(tokens); start += c.targetTokens {
		end := start + c.targetTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		if s := strings.TrimSpace(c.enc.Decode(tokens[start:end])); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// tailTokens returns the text of the last overlapTokens tokens of s.
func (c *Chunker) tailTokens(s string) string {
	if c.overlapTokens <= 0 {
		return ""
	}
	tokens := c.enc.Encode(strings.TrimSpace(s), nil, nil)
	if len(tokens) <= c.overlapTokens {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(c.enc.Decode(tokens[len(tokens)-c.overlapTokens:]))
}

// splitSentences cuts on sentence-ending punctuation followed by
// whitespace. Abbreviation handling is deliberately naive; mis-splits
// only shift chunk boundaries slightly.
func splitSentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				s := strings.TrimSpace(string(runes[start : i+1]))
				if s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}
