package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLayer1Clean_StripsUTMTaggedLinks(t *testing.T) {
	content := "Check out [our blog](https://example.com/post?utm_source=newsletter) for more.\n"
	cleaned := layer1Clean(content)
	assert.NotContains(t, cleaned, "utm_source")
}

func TestLayer1Clean_StripsNavPreamble(t *testing.T) {
	content := "Skip to main content\n\nActual page body starts here.\n"
	cleaned := layer1Clean(content)
	assert.NotContains(t, cleaned, "Skip to main content")
	assert.Contains(t, cleaned, "Actual page body starts here.")
}

func TestLayer1Clean_DropsBareLinkClusterLines(t *testing.T) {
	content := "[Home](/) [About](/about) [Contact](/contact)\n\nReal content paragraph follows.\n"
	cleaned := layer1Clean(content)
	assert.NotContains(t, cleaned, "[Home](/)")
	assert.Contains(t, cleaned, "Real content paragraph follows.")
}

func TestLayer1Clean_CollapsesExcessiveBlankLines(t *testing.T) {
	content := "First paragraph.\n\n\n\n\nSecond paragraph.\n"
	cleaned := layer1Clean(content)
	assert.NotContains(t, cleaned, "\n\n\n")
	assert.Contains(t, cleaned, "First paragraph.")
	assert.Contains(t, cleaned, "Second paragraph.")
}

func TestLayer1Clean_LeavesOrdinaryProseUntouched(t *testing.T) {
	content := "This is an ordinary paragraph with no tracking links or nav junk."
	assert.Equal(t, content, layer1Clean(content))
}
