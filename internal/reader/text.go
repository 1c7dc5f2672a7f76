// Package reader turns source narratives into clean plain text. Some feed
// adapters hand over article HTML; those go through readability extraction.
package reader

import (
	"bytes"
	"net/url"
	"strings"

	readability "codeberg.org/readeck/go-readability/v2"
)

var fallbackPageURL = &url.URL{Scheme: "https", Host: "localhost", Path: "/"}

// PlainText returns narrative as clean text. Markup is extracted with
// readability using pageURL to resolve relative links; plain input is only
// whitespace-normalised.
func PlainText(narrative, pageURL string) string {
	if !looksLikeHTML(narrative) {
		return CleanText(narrative)
	}

	base := fallbackPageURL
	if parsed, err := url.Parse(strings.TrimSpace(pageURL)); err == nil && parsed.Scheme != "" && parsed.Host != "" {
		base = parsed
	}

	article, err := readability.FromReader(strings.NewReader(narrative), base)
	if err != nil {
		return CleanText(stripTags(narrative))
	}

	var rendered bytes.Buffer
	if err := article.RenderText(&rendered); err != nil {
		return CleanText(stripTags(narrative))
	}
	text := CleanText(rendered.String())
	if text == "" {
		text = CleanText(article.Excerpt())
	}
	if text == "" {
		text = CleanText(stripTags(narrative))
	}
	return text
}

func looksLikeHTML(raw string) bool {
	lower := strings.ToLower(raw)
	for _, marker := range []string{"<p", "<div", "<br", "<html", "<body", "<article", "<span", "<a "} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func stripTags(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	inTag := false
	for _, r := range raw {
		switch {
		case r == '<':
			inTag = true
			b.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CleanText normalizes line endings and collapses extra in-line whitespace.
func CleanText(raw string) string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	lines := strings.Split(normalized, "\n")
	paragraphs := make([]string, 0, len(lines))
	for _, line := range lines {
		clean := strings.Join(strings.Fields(strings.TrimSpace(line)), " ")
		if clean == "" {
			continue
		}
		paragraphs = append(paragraphs, clean)
	}

	return strings.TrimSpace(strings.Join(paragraphs, "\n\n"))
}

// TruncateText clips text to maxChars runes and appends a single ellipsis rune when truncated.
func TruncateText(raw string, maxChars int) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	if maxChars <= 0 {
		return trimmed, false
	}

	runes := []rune(trimmed)
	if len(runes) <= maxChars {
		return trimmed, false
	}
	if maxChars == 1 {
		return "…", true
	}

	clipped := strings.TrimSpace(string(runes[:maxChars-1]))
	if clipped == "" {
		return "…", true
	}
	return clipped + "…", true
}
