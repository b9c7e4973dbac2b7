package parser

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// WebTranscript is the pseudo content type the ingestion layer assigns
// to YouTube-style URL submissions; the factory routes it here.
const WebTranscript = "text/x-web-transcript"

// WebTranscriptParser fetches a video's timestamped transcript plus
// oEmbed metadata. The "file path" passed to Parse is the source URL.
type WebTranscriptParser struct {
	client *http.Client
}

func NewWebTranscriptParser(client *http.Client) *WebTranscriptParser {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebTranscriptParser{client: client}
}

func (p *WebTranscriptParser) Name() string { return "web-transcript" }

func (p *WebTranscriptParser) CanParse(contentType string) bool {
	return contentType == WebTranscript
}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ExtractVideoID pulls the 11-character id out of any of the short,
// watch, embed, and /v/ URL forms.
func ExtractVideoID(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	var id string
	switch host {
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		switch {
		case u.Path == "/watch":
			id = u.Query().Get("v")
		case strings.HasPrefix(u.Path, "/embed/"):
			id = strings.TrimPrefix(u.Path, "/embed/")
		case strings.HasPrefix(u.Path, "/v/"):
			id = strings.TrimPrefix(u.Path, "/v/")
		case strings.HasPrefix(u.Path, "/shorts/"):
			id = strings.TrimPrefix(u.Path, "/shorts/")
		}
	default:
		return "", fmt.Errorf("unsupported video host %q", host)
	}

	id = strings.SplitN(id, "/", 2)[0]
	if !videoIDPattern.MatchString(id) {
		return "", fmt.Errorf("no video id in URL %q", rawURL)
	}
	return id, nil
}

func (p *WebTranscriptParser) Parse(ctx context.Context, sourceURL string) (*Result, error) {
	videoID, err := ExtractVideoID(sourceURL)
	if err != nil {
		return nil, err
	}

	md := map[string]interface{}{
		"format":   "web_transcript",
		"video_id": videoID,
		"source":   sourceURL,
	}

	if title, author, err := p.fetchOEmbed(ctx, sourceURL); err == nil {
		md["title"] = title
		md["author"] = author
	} else {
		md["oembed_error"] = err.Error()
	}

	transcript, err := p.fetchTranscript(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transcript: %w", err)
	}
	if strings.TrimSpace(transcript) == "" {
		return nil, ErrEmptyContent
	}

	return &Result{Content: transcript, Metadata: md}, nil
}

func (p *WebTranscriptParser) fetchOEmbed(ctx context.Context, videoURL string) (title, author string, err error) {
	endpoint := "https://www.youtube.com/oembed?format=json&url=" + url.QueryEscape(videoURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", "", err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("oembed returned %d", resp.StatusCode)
	}

	var body struct {
		Title      string `json:"title"`
		AuthorName string `json:"author_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", "", err
	}
	return body.Title, body.AuthorName, nil
}

// timedTextXML is the caption track format of the timedtext endpoint.
type timedTextXML struct {
	Texts []struct {
		Start float64 `xml:"start,attr"`
		Body  string  `xml:",chardata"`
	} `xml:"text"`
}

func (p *WebTranscriptParser) fetchTranscript(ctx context.Context, videoID string) (string, error) {
	endpoint := fmt.Sprintf("https://www.youtube.com/api/timedtext?v=%s&lang=en", videoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("timedtext returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var tt timedTextXML
	if err := xml.Unmarshal(data, &tt); err != nil {
		return "", fmt.Errorf("failed to decode captions: %w", err)
	}

	var sb strings.Builder
	for _, t := range tt.Texts {
		text := strings.TrimSpace(html.UnescapeString(t.Body))
		if text == "" {
			continue
		}
		mins := int(t.Start) / 60
		secs := int(t.Start) % 60
		fmt.Fprintf(&sb, "[%02d:%02d] %s\n", mins, secs, text)
	}
	return sb.String(), nil
}
