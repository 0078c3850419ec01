// Package textutil normalizes untrusted text input before it reaches
// validation, storage, or log output.
package textutil

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	lineBreaksRe = regexp.MustCompile(`[\r\n\t]+`)
	spacesRe     = regexp.MustCompile(`\s+`)
	urlRe        = regexp.MustCompile(`(?i)(?:https?://|www\.)`)
	emailRe      = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]{2,}$`)
	slugRe       = regexp.MustCompile(`[^a-z0-9]+`)
)

// SingleLine collapses all whitespace runs into single spaces, trims the
// result, and cuts it to max runes. Non-string garbage becomes "".
func SingleLine(s string, max int) string {
	s = lineBreaksRe.ReplaceAllString(s, " ")
	s = spacesRe.ReplaceAllString(s, " ")
	return truncate(strings.TrimSpace(s), max)
}

// Multiline keeps line structure but strips carriage returns, trims, and
// cuts to max runes.
func Multiline(s string, max int) string {
	s = strings.ReplaceAll(s, "\r", "")
	return truncate(strings.TrimSpace(s), max)
}

// Sanitize makes a value safe for a single log line: no line breaks, at
// most 300 runes.
func Sanitize(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return truncate(s, 300)
}

// PathHint validates a client-reported page path. Anything that is not a
// clean absolute path is dropped.
func PathHint(s string) string {
	s = SingleLine(s, 180)
	if !strings.HasPrefix(s, "/") {
		return ""
	}
	if strings.Contains(s, "..") {
		return ""
	}
	return s
}

// CountURLs counts URL-like substrings (http://, https://, www.).
func CountURLs(s string) int {
	return len(urlRe.FindAllStringIndex(s, -1))
}

// ValidEmail reports whether s looks like a deliverable email address.
func ValidEmail(s string) bool {
	email := SingleLine(s, 220)
	if email == "" {
		return false
	}
	return emailRe.MatchString(email)
}

// Slugify turns a label into a lowercase id of letters, digits, and
// hyphens. An empty result falls back to a random fragment so callers
// always get a usable id.
func Slugify(s string) string {
	slug := strings.ToLower(SingleLine(s, 80))
	slug = slugRe.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return uuid.NewString()[:8]
	}
	return slug
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
