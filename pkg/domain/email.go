package domain

import (
	"context"
	"regexp"
)

var emailSignals = []signal{
	{regexp.MustCompile(`(?im)^from:\s*\S+@`), 0.3},
	{regexp.MustCompile(`(?im)^subject:\s*\S`), 0.25},
	{regexp.MustCompile(`(?im)^(to|cc):\s*\S+@`), 0.2},
	{regexp.MustCompile(`(?im)^message-id:\s*<`), 0.2},
	{regexp.MustCompile(`(?m)^>\s`), 0.1},
}

var attachmentPattern = regexp.MustCompile(`(?m)^--- attachment: ([^\n]+) ---$`)

// EmailProcessor handles parsed mail. Attachment sections become hard
// boundaries so a mail body and its attachments chunk separately.
type EmailProcessor struct{}

func NewEmailProcessor() *EmailProcessor { return &EmailProcessor{} }

func (p *EmailProcessor) Name() string { return "email" }

func (p *EmailProcessor) CanProcess(content string, metadata map[string]interface{}) float64 {
	if metaFormat(metadata) == "email" {
		return 0.95
	}
	return score(sample(content), emailSignals)
}

func (p *EmailProcessor) Process(ctx context.Context, content string, metadata map[string]interface{}, filename string) (*Result, error) {
	res := &Result{
		Content:          content,
		DocumentMetadata: map[string]interface{}{"document_kind": "email"},
	}
	for _, m := range attachmentPattern.FindAllStringSubmatchIndex(content, -1) {
		res.Annotations = append(res.Annotations, annotation("attachment", m[0], m[1], true, map[string]interface{}{
			"filename": content[m[2]:m[3]],
		}))
	}
	// Carry thread identifiers through for retrieval filtering.
	for _, key := range []string{"subject", "from", "message_id", "in_reply_to"} {
		if v, ok := metadata[key]; ok {
			res.DocumentMetadata[key] = v
		}
	}
	return res, nil
}
