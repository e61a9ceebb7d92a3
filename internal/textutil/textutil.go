// Package textutil holds text clean-up shared by the model-facing packages.
package textutil

import "strings"

// StripReasoning removes a <think>...</think> block emitted by reasoning
// models and trims the remaining text.
func StripReasoning(content string) string {
	start := strings.Index(content, "<think>")
	if start != -1 {
		end := strings.Index(content, "</think>")
		if end != -1 && end > start {
			content = content[:start] + content[end+len("</think>"):]
		}
	}
	return strings.TrimSpace(content)
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
