package parser

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/strata-ai/strata/pkg/contenttype"
)

var headerOrder = []string{"From", "To", "Cc", "Subject", "Date", "Message-ID", "In-Reply-To", "References"}

// EmailParser extracts headers and body from RFC 822 messages. The
// plain-text part wins over HTML; attachments are written to temp files
// and recursed through the factory so a PDF attached to a mail thread
// still contributes content.
type EmailParser struct {
	factory *Factory
}

func NewEmailParser(factory *Factory) *EmailParser {
	return &EmailParser{factory: factory}
}

func (p *EmailParser) Name() string { return "email" }

func (p *EmailParser) CanParse(contentType string) bool {
	return contentType == contenttype.EmailRFC || contentType == contenttype.OutlookMsg
}

func (p *EmailParser) Parse(ctx context.Context, filePath string) (*Result, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open message: %w", err)
	}
	defer f.Close()

	msg, err := mail.ReadMessage(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	var sb strings.Builder
	md := map[string]interface{}{"format": "email"}
	for _, h := range headerOrder {
		if v := msg.Header.Get(h); v != "" {
			fmt.Fprintf(&sb, "%s: %s\n", h, v)
			md[strings.ToLower(strings.ReplaceAll(h, "-", "_"))] = v
		}
	}
	sb.WriteString("\n")

	body, attachments, err := p.extractBody(ctx, msg)
	if err != nil {
		return nil, err
	}
	sb.WriteString(body)

	for _, att := range attachments {
		fmt.Fprintf(&sb, "\n\n--- attachment: %s ---\n%s", att.name, att.content)
	}
	if len(attachments) > 0 {
		names := make([]string, len(attachments))
		for i, att := range attachments {
			names[i] = att.name
		}
		md["attachments"] = names
	}

	content := strings.TrimSpace(sb.String())
	if content == "" {
		return nil, ErrEmptyContent
	}
	return &Result{Content: content, Metadata: md}, nil
}

type parsedAttachment struct {
	name    string
	content string
}

func (p *EmailParser) extractBody(ctx context.Context, msg *mail.Message) (string, []parsedAttachment, error) {
	ct := msg.Header.Get("Content-Type")
	if ct == "" {
		data, err := io.ReadAll(msg.Body)
		if err != nil {
			return "", nil, fmt.Errorf("failed to read body: %w", err)
		}
		return string(data), nil, nil
	}

	mediaType, params, err := mime.ParseMediaType(ct)
	if err != nil {
		data, _ := io.ReadAll(msg.Body)
		return string(data), nil, nil
	}

	if !strings.HasPrefix(mediaType, "multipart/") {
		data, err := io.ReadAll(msg.Body)
		if err != nil {
			return "", nil, fmt.Errorf("failed to read body: %w", err)
		}
		if mediaType == "text/html" {
			return stripHTML(string(data)), nil, nil
		}
		return string(data), nil, nil
	}

	mr := multipart.NewReader(msg.Body, params["boundary"])
	var plain, html string
	var attachments []parsedAttachment

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		partType, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		filename := part.FileName()

		switch {
		case filename != "" && p.factory != nil:
			if att, ok := p.parseAttachment(ctx, part, filename); ok {
				attachments = append(attachments, att)
			}
		case partType == "text/plain":
			data, _ := io.ReadAll(part)
			plain += string(data)
		case partType == "text/html":
			data, _ := io.ReadAll(part)
			html += string(data)
		}
	}

	if plain != "" {
		return plain, attachments, nil
	}
	return stripHTML(html), attachments, nil
}

func (p *EmailParser) parseAttachment(ctx context.Context, part *multipart.Part, filename string) (parsedAttachment, bool) {
	data, err := io.ReadAll(part)
	if err != nil || len(data) == 0 {
		return parsedAttachment{}, false
	}

	tmp, err := os.CreateTemp("", "attachment-*"+filepath.Ext(filename))
	if err != nil {
		return parsedAttachment{}, false
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return parsedAttachment{}, false
	}
	tmp.Close()

	attType := contenttype.Resolve(filename, data, part.Header.Get("Content-Type"))
	res, err := p.factory.Parse(ctx, attType, tmp.Name())
	if err != nil {
		return parsedAttachment{}, false
	}
	return parsedAttachment{name: filename, content: res.Content}, true
}

var (
	tagPattern    = regexp.MustCompile(`(?s)<[^>]*>`)
	scriptPattern = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	spacePattern  = regexp.MustCompile(`\n{3,}`)
)

// stripHTML is a best-effort tag remover for HTML-only messages.
func stripHTML(s string) string {
	s = scriptPattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "<br>", "\n")
	s = strings.ReplaceAll(s, "<br/>", "\n")
	s = strings.ReplaceAll(s, "</p>", "\n\n")
	s = tagPattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = spacePattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
