package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripReasoning(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"no reasoning tags", "fmt.Println(x)", "fmt.Println(x)"},
		{"reasoning at the start", "<think>Looks like Go</think>\n\n```json\n{}\n```  \n", "```json\n{}\n```"},
		{"reasoning in the middle", "Before <think>hmm</think> after", "Before  after"},
		{"reasoning at the end", "Main content\n<think>Final thoughts</think>", "Main content"},
		{"empty content", "", ""},
		{"only reasoning", "<think>Just reasoning</think>", ""},
		{"multi-line reasoning", "Line 1\n<think>a\nb\nc</think>\nLine 2", "Line 1\n\nLine 2"},
		{"unclosed tag", "Content <think>unclosed", "Content <think>unclosed"},
		{"closing tag only", "Content </think>", "Content </think>"},
		{"closing tag before opening tag", "</think> x <think>", "</think> x <think>"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, StripReasoning(tc.input))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "exact", Truncate("exact", 5))
	assert.Equal(t, "ab…", Truncate("abcdef", 2))
	assert.Equal(t, "héé…", Truncate("hééllo", 3), "counts runes, not bytes")
}
