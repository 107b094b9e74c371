// Package redact scrubs secret-shaped substrings from text and structured
// values before they reach durable storage or an external surface. The
// pattern table is fixed at init and applied in order; redaction is
// idempotent under repeated application.
package redact

import (
	"fmt"
	"regexp"
	"strings"
)

// pattern pairs a compiled expression with the category emitted in the
// replacement marker.
type pattern struct {
	category string
	re       *regexp.Regexp
}

// patterns is the ordered redaction table. More specific shapes come first
// so a GitHub token inside a key=value assignment is tagged as a token, not
// a generic assignment.
var patterns = []pattern{
	{"github-token", regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{20,255}\b`)},
	{"github-token", regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{20,255}\b`)},
	{"api-key", regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}\b`)},
	{"api-key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{"jwt", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`)},
	{"bearer-token", regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]+=*`)},
	{"db-url", regexp.MustCompile(`\b(?:postgres(?:ql)?|mysql|redis|mongodb(?:\+srv)?|amqp)://[^:/\s]+:[^@\s]+@[^\s"']+`)},
	{"private-key", regexp.MustCompile(`(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`)},
	{"webhook-secret", regexp.MustCompile(`(?i)\bwebhook[_-]?secret["']?\s*[:=]\s*["']?[^\s"',;]+`)},
	{"assignment", regexp.MustCompile(`(?i)\b(?:api[_-]?key|secret|password|passwd|token|access[_-]?key|key)["']?\s*[:=]\s*["']?[^\s"',;]{6,}`)},
}

// sensitiveKey matches map keys whose values are replaced wholesale in
// Structured, regardless of value shape.
var sensitiveKey = regexp.MustCompile(`(?i)secret|password|token|key|private`)

// Text applies the pattern table to s in order and returns the redacted
// string. Each match becomes "[REDACTED:<category>]".
func Text(s string) string {
	for _, p := range patterns {
		s = p.re.ReplaceAllString(s, "[REDACTED:"+p.category+"]")
	}
	return s
}

// Strings redacts every element of a string slice.
func Strings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = Text(s)
	}
	return out
}

// Error renders an error through the pattern table. Nil-safe.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return Text(err.Error())
}

// Structured walks maps and slices, redacting string leaves. Values under
// sensitive-named keys are replaced wholesale with "[REDACTED]". Unknown
// leaf types pass through unchanged.
func Structured(v any) any {
	switch val := v.(type) {
	case string:
		return Text(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if sensitiveKey.MatchString(k) {
				out[k] = "[REDACTED]"
				continue
			}
			out[k] = Structured(inner)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, inner := range val {
			if sensitiveKey.MatchString(k) {
				out[k] = "[REDACTED]"
				continue
			}
			out[k] = Text(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = Structured(inner)
		}
		return out
	case []string:
		return Strings(val)
	case fmt.Stringer:
		return Text(val.String())
	default:
		return v
	}
}

// Contains reports whether s still holds any secret-shaped substring.
// Used by tests and by the store's write-path assertions.
func Contains(s string) bool {
	for _, p := range patterns {
		if p.re.MatchString(s) {
			return true
		}
	}
	return false
}

// Marker reports whether s carries a redaction marker, useful when asserting
// that redaction actually fired.
func Marker(s string) bool {
	return strings.Contains(s, "[REDACTED")
}
