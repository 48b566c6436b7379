package scoring

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const maxCleanedContentLength = 2000

var (
	htmlTagPattern      = regexp.MustCompile(`<[^>]+>`)
	urlPattern          = regexp.MustCompile(`https?://\S+`)
	whitespaceCollapsed = regexp.MustCompile(`\s+`)
)

// cleanContent strips HTML tags and URLs, collapses whitespace, truncates to
// a prompt-friendly length, and NFC-normalizes the result before it's fed to
// the LLM — grounded on mbti_service.py's _clean_content, with NFC
// normalization added per the teacher's golang.org/x/text usage convention
// so mixed-width/composed Chinese and Latin punctuation compare
// consistently.
func cleanContent(content string) string {
	if content == "" {
		return ""
	}

	cleaned := htmlTagPattern.ReplaceAllString(content, "")
	cleaned = urlPattern.ReplaceAllString(cleaned, "")
	cleaned = whitespaceCollapsed.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)

	if len([]rune(cleaned)) > maxCleanedContentLength {
		runes := []rune(cleaned)
		cleaned = string(runes[:maxCleanedContentLength]) + "..."
	}

	return norm.NFC.String(cleaned)
}
