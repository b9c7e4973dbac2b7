// Package contenttype maps filenames, magic bytes, and client-declared
// MIME types to a canonical content type.
package contenttype

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	// Octet is the fallback for unknown content; it is rejected by the
	// ingestion pipeline downstream.
	Octet = "application/octet-stream"

	PDF       = "application/pdf"
	DOCX      = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	DOC       = "application/msword"
	PPTX      = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	PPT       = "application/vnd.ms-powerpoint"
	XLSX      = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	XLS       = "application/vnd.ms-excel"
	JSON      = "application/json"
	JSONL     = "application/x-ndjson"
	EmailRFC  = "message/rfc822"
	OutlookMsg = "application/vnd.ms-outlook"
)

// extensionTable resolves before platform MIME guessing so the service
// behaves identically across hosts.
var extensionTable = map[string]string{
	".pdf":   PDF,
	".doc":   DOC,
	".docx":  DOCX,
	".ppt":   PPT,
	".pptx":  PPTX,
	".xls":   XLS,
	".xlsx":  XLSX,
	".csv":   "text/csv",
	".tsv":   "text/tab-separated-values",
	".txt":   "text/plain",
	".md":    "text/markdown",
	".rst":   "text/x-rst",
	".html":  "text/html",
	".htm":   "text/html",
	".json":  JSON,
	".jsonl": JSONL,
	".ndjson": JSONL,
	".yaml":  "application/yaml",
	".yml":   "application/yaml",
	".xml":   "application/xml",
	".eml":   EmailRFC,
	".msg":   OutlookMsg,
	".mbox":  "application/mbox",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".webp":  "image/webp",
	".gif":   "image/gif",
	".mp3":   "audio/mpeg",
	".wav":   "audio/wav",
	".m4a":   "audio/mp4",
	".flac":  "audio/flac",
	".ogg":   "audio/ogg",
	".mp4":   "video/mp4",
	".mov":   "video/quicktime",
	".mkv":   "video/x-matroska",
	".webm":  "video/webm",
	".avi":   "video/x-msvideo",
}

// Resolve maps (filename, optional byte prefix, optional client-declared
// MIME) to a canonical content type. It never fails; unknown content
// resolves to application/octet-stream.
//
// Resolution order: extension table, platform MIME guess, magic-byte
// sniffing, client declaration. The first non-empty, non-generic
// result wins.
func Resolve(filename string, prefix []byte, declared string) string {
	ext := strings.ToLower(filepath.Ext(filename))

	if ct, ok := extensionTable[ext]; ok {
		return ct
	}

	if ext != "" {
		if ct := mime.TypeByExtension(ext); !isGeneric(ct) {
			return canonical(ct)
		}
	}

	if len(prefix) > 0 {
		if detected := mimetype.Detect(prefix); detected != nil && !isGeneric(detected.String()) {
			return canonical(detected.String())
		}
	}

	if !isGeneric(declared) {
		return canonical(declared)
	}

	return Octet
}

// canonical strips MIME parameters such as "; charset=utf-8".
func canonical(ct string) string {
	if parsed, _, err := mime.ParseMediaType(ct); err == nil {
		return parsed
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// isGeneric reports whether a MIME string carries no real information.
func isGeneric(ct string) bool {
	ct = canonical(ct)
	switch ct {
	case "", Octet, "binary/octet-stream", "application/binary":
		return true
	}
	return false
}

// IsText reports whether the content type is plain-text-like.
func IsText(ct string) bool {
	return strings.HasPrefix(ct, "text/") ||
		ct == "application/yaml" ||
		ct == "application/xml"
}

// IsAudio reports whether the content type is audio.
func IsAudio(ct string) bool {
	return strings.HasPrefix(ct, "audio/")
}

// IsVideo reports whether the content type is video.
func IsVideo(ct string) bool {
	return strings.HasPrefix(ct, "video/")
}

// IsImage reports whether the content type is a supported image format.
func IsImage(ct string) bool {
	switch ct {
	case "image/png", "image/jpeg", "image/webp":
		return true
	}
	return false
}
