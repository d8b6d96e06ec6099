package search

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// FormatResponse renders a response as plain text for the model: the
// short answer first (if any), then numbered results. Raw page content
// is cut to maxRaw bytes per result on a rune boundary; maxRaw <= 0
// omits it.
func FormatResponse(resp *Response, maxRaw int) string {
	if resp == nil || (len(resp.Results) == 0 && resp.Answer == "") {
		return "No results found."
	}

	var b strings.Builder
	if resp.Answer != "" {
		b.WriteString("Answer: ")
		b.WriteString(resp.Answer)
		b.WriteString("\n\n")
	}
	for i, r := range resp.Results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(r.Title)
		b.WriteString("\n   ")
		b.WriteString(r.URL)
		if r.Snippet != "" {
			b.WriteString("\n   ")
			b.WriteString(r.Snippet)
		}
		if maxRaw > 0 && r.RawContent != "" {
			b.WriteString("\n   Content: ")
			b.WriteString(truncateRunes(r.RawContent, maxRaw))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
