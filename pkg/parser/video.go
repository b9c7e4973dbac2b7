package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/strata-ai/strata/pkg/contenttype"
)

// VideoParser extracts the audio track with ffmpeg and runs it through
// the speech provider. Videos longer than the configured maximum are
// rejected before any transcoding happens.
type VideoParser struct {
	speech      SpeechPort
	ffmpegPath  string
	maxDuration time.Duration
}

func NewVideoParser(speech SpeechPort, ffmpegPath string, maxDuration time.Duration) *VideoParser {
	return &VideoParser{speech: speech, ffmpegPath: ffmpegPath, maxDuration: maxDuration}
}

func (p *VideoParser) Name() string { return "video" }

func (p *VideoParser) CanParse(contentType string) bool {
	return contenttype.IsVideo(contentType)
}

type videoProbe struct {
	Duration   float64
	Width      int
	Height     int
	VideoCodec string
}

func (p *VideoParser) Parse(ctx context.Context, filePath string) (*Result, error) {
	if p.speech == nil || !p.speech.Available() {
		return nil, fmt.Errorf("speech provider not configured: %w", ErrEmptyContent)
	}

	probe, err := p.probe(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to probe video: %w", err)
	}
	if p.maxDuration > 0 && probe.Duration > p.maxDuration.Seconds() {
		return nil, fmt.Errorf("video duration %.0fs exceeds maximum %s", probe.Duration, p.maxDuration)
	}

	audioPath, err := p.extractAudio(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to extract audio: %w", err)
	}
	defer os.Remove(audioPath)

	md := map[string]interface{}{
		"format":           "video",
		"duration_seconds": probe.Duration,
	}
	if probe.Width > 0 {
		md["resolution"] = fmt.Sprintf("%dx%d", probe.Width, probe.Height)
	}
	if probe.VideoCodec != "" {
		md["codec"] = probe.VideoCodec
	}

	tr, err := p.speech.Transcribe(ctx, audioPath)
	if err != nil {
		// Surface the service error; only fail the parse when there
		// is no content at all.
		md["transcription_error"] = err.Error()
		return nil, fmt.Errorf("transcription failed: %w", err)
	}
	if strings.TrimSpace(tr.Text) == "" {
		return nil, ErrEmptyContent
	}
	if tr.Language != "" {
		md["language"] = tr.Language
	}
	return &Result{Content: tr.Text, Metadata: md}, nil
}

// probe shells out to ffprobe (shipped alongside ffmpeg) for duration
// and stream info.
func (p *VideoParser) probe(ctx context.Context, filePath string) (*videoProbe, error) {
	ffprobe := "ffprobe"
	if dir := filepath.Dir(p.ffmpegPath); dir != "." && dir != "" {
		ffprobe = filepath.Join(dir, "ffprobe")
	}

	cmd := exec.CommandContext(ctx, ffprobe,
		"-v", "quiet", "-print_format", "json",
		"-show_format", "-show_streams", filePath)
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	var raw struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
		Streams []struct {
			CodecType string `json:"codec_type"`
			CodecName string `json:"codec_name"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, err
	}

	probe := &videoProbe{}
	probe.Duration, _ = strconv.ParseFloat(raw.Format.Duration, 64)
	for _, s := range raw.Streams {
		if s.CodecType == "video" {
			probe.Width = s.Width
			probe.Height = s.Height
			probe.VideoCodec = s.CodecName
			break
		}
	}
	return probe, nil
}

func (p *VideoParser) extractAudio(ctx context.Context, filePath string) (string, error) {
	tmp, err := os.CreateTemp("", "audio-*.mp3")
	if err != nil {
		return "", err
	}
	tmp.Close()

	cmd := exec.CommandContext(ctx, p.ffmpegPath,
		"-i", filePath, "-vn", "-acodec", "libmp3lame",
		"-ar", "16000", "-ac", "1", "-y", tmp.Name())
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: %s", err, truncate(string(out), 200))
	}
	return tmp.Name(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
