package logger

import (
	"regexp"
	"strings"
)

// Field names whose values are always masked regardless of content.
var sensitiveFields = map[string]bool{
	"api_key":       true,
	"apikey":        true,
	"authorization": true,
	"password":      true,
	"secret":        true,
	"token":         true,
	"credential":    true,
	"x-api-key":     true,
}

// Patterns matching credentials that may appear embedded in free text:
// bearer headers, provider keys (sk-..., pc-...), and query parameters.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9._~+/-]{8,}=*)`),
	regexp.MustCompile(`\b(sk|pk|pc|rk)-[A-Za-z0-9_-]{16,}\b`),
	regexp.MustCompile(`(?i)(api[_-]?key=)([^&\s]{8,})`),
}

// MaskKey reduces a credential to a loggable form: "prefix...***".
// Keys shorter than 8 characters are fully masked.
func MaskKey(key string) string {
	if len(key) < 8 {
		return "***"
	}
	return key[:4] + "...***"
}

// Sanitize masks credential-looking substrings in free text.
func Sanitize(s string) string {
	for _, p := range secretPatterns {
		s = p.ReplaceAllStringFunc(s, func(match string) string {
			sub := p.FindStringSubmatch(match)
			if len(sub) == 3 {
				return sub[1] + MaskKey(sub[2])
			}
			return MaskKey(match)
		})
	}
	return s
}

// sanitizeField masks the whole value when the field name is sensitive,
// otherwise applies pattern masking to the value.
func sanitizeField(key, value string) string {
	if sensitiveFields[strings.ToLower(key)] {
		return MaskKey(value)
	}
	return Sanitize(value)
}
