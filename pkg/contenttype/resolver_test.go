package contenttype

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveByExtension(t *testing.T) {
	assert.Equal(t, PDF, Resolve("report.pdf", nil, ""))
	assert.Equal(t, DOCX, Resolve("letter.DOCX", nil, ""))
	assert.Equal(t, PPTX, Resolve("deck.pptx", nil, ""))
	assert.Equal(t, XLSX, Resolve("numbers.xlsx", nil, ""))
	assert.Equal(t, JSONL, Resolve("events.jsonl", nil, ""))
	assert.Equal(t, EmailRFC, Resolve("thread.eml", nil, ""))
	assert.Equal(t, "text/markdown", Resolve("README.md", nil, ""))
	assert.Equal(t, "audio/mpeg", Resolve("talk.mp3", nil, ""))
	assert.Equal(t, "video/mp4", Resolve("demo.mp4", nil, ""))
}

func TestResolveByMagicBytes(t *testing.T) {
	pdfPrefix := []byte("%PDF-1.7\n%")
	assert.Equal(t, PDF, Resolve("mystery", pdfPrefix, ""))

	pngPrefix := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0}
	assert.Equal(t, "image/png", Resolve("pic", pngPrefix, ""))
}

func TestResolveClientDeclared(t *testing.T) {
	// Unknown extension, no magic: fall through to the declaration.
	assert.Equal(t, "text/plain", Resolve("notes.unknown123", nil, "text/plain; charset=utf-8"))

	// Generic declarations do not win.
	assert.Equal(t, Octet, Resolve("blob.unknown123", nil, "application/octet-stream"))
}

func TestResolveUnknown(t *testing.T) {
	assert.Equal(t, Octet, Resolve("file", nil, ""))
	assert.Equal(t, Octet, Resolve("", nil, ""))
}

func TestExtensionBeatsDeclaration(t *testing.T) {
	assert.Equal(t, PDF, Resolve("doc.pdf", nil, "text/plain"))
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsText("text/markdown"))
	assert.True(t, IsAudio("audio/wav"))
	assert.True(t, IsVideo("video/webm"))
	assert.True(t, IsImage("image/jpeg"))
	assert.False(t, IsImage("image/tiff"))
}
