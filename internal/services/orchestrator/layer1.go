package orchestrator

import (
	"regexp"
	"strings"
)

// trackerPattern matches markdown links whose URL carries a utm_* tracking
// parameter, as left in scraped markdown by analytics-tagged links.
var trackerPattern = regexp.MustCompile(`(?i)\[[^\]]*\]\([^)]*utm_[a-z]+=[^)]*\)`)

// bareLinkClusterLine matches a line consisting of 3+ short bracketed
// links with no surrounding prose — typical of a nav/footer link list.
var bareLinkClusterLine = regexp.MustCompile(`^\s*(\[[^\]]{1,40}\]\([^)]*\)\s*){3,}\s*$`)

// navPreamble matches well-known boilerplate lines emitted by common
// scrapers ahead of the real page body.
var navPreamble = regexp.MustCompile(`(?im)^(skip to (main )?content|menu toggle|cookie settings)\s*$`)

var multiBlankLines = regexp.MustCompile(`\n{3,}`)

// layer1Clean applies structural cleanup — the layer that is always safe to
// run ahead of extraction, as opposed to classifier-only Layer-2 semantic
// cleanup (spec §4.8 step 1, §9).
func layer1Clean(content string) string {
	cleaned := trackerPattern.ReplaceAllString(content, "")
	cleaned = navPreamble.ReplaceAllString(cleaned, "")

	lines := strings.Split(cleaned, "\n")
	out := lines[:0]
	for _, l := range lines {
		if bareLinkClusterLine.MatchString(l) {
			continue
		}
		out = append(out, l)
	}
	cleaned = strings.Join(out, "\n")
	return multiBlankLines.ReplaceAllString(cleaned, "\n\n")
}
