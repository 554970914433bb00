// Package sanitize turns template output into text safe for plain-text channels.
package sanitize

import (
	"regexp"
	"strings"
)

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	breakPattern      = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/li)\s*/?>`)
	blankLinesPattern = regexp.MustCompile(`\n{3,}`)
	entities          = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&amp;", "&", "&quot;", "\"", "&#39;", "'", "&nbsp;", " ")
)

// StripHTML removes tags and decodes the common entities. Tags smuggled in
// through entities are stripped again after decoding.
func StripHTML(s string) string {
	result := tagPattern.ReplaceAllString(s, "")
	result = entities.Replace(result)
	result = tagPattern.ReplaceAllString(result, "")
	return strings.TrimSpace(result)
}

// PlainText converts a rendered message to plain text for SMS and WhatsApp.
// Block-level closing tags become line breaks; runs of blank lines collapse.
func PlainText(s string) string {
	withBreaks := breakPattern.ReplaceAllString(s, "\n")
	lines := strings.Split(StripHTML(withBreaks), "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimSpace(blankLinesPattern.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}
