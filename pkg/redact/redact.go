// Package redact scrubs secrets out of strings before they reach logs, errors
// or posted results.
package redact

import (
	"regexp"
	"strings"
)

var (
	// Matches "Bearer <token>" (JWTs and opaque tokens).
	bearerTokenRe = regexp.MustCompile(`(?i)\bBearer\s+[^\s"']+`)

	// Common key=value formats that sometimes leak in error strings.
	apiKeyKVRe = regexp.MustCompile(`(?i)\b(api[_-]?key|searchleads[_-]?api[_-]?key|module[_-]?auth[_-]?token)\b\s*[:=]\s*[^\s"']+`)

	// Webhook URLs embed their secret in the path: /api/webhooks/<id>/<token>.
	webhookTokenRe = regexp.MustCompile(`(/api/webhooks/[0-9]+/)[A-Za-z0-9_\-]+`)
)

// Secrets removes obvious secret-bearing substrings from error/log strings.
func Secrets(s string) string {
	if s == "" {
		return ""
	}
	out := s
	out = bearerTokenRe.ReplaceAllString(out, "Bearer <redacted>")
	out = apiKeyKVRe.ReplaceAllString(out, "<redacted_kv>")
	out = webhookTokenRe.ReplaceAllString(out, "${1}<redacted>")
	return strings.TrimSpace(out)
}

// Truncate redacts s and caps it at max bytes, flattening newlines.
func Truncate(s string, max int) string {
	cut := len(s) > max
	if cut {
		s = s[:max]
	}
	s = Secrets(s)
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.TrimSpace(s)
	if s != "" && cut {
		return s + "..."
	}
	return s
}
