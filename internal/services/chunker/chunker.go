// Package chunker splits a markdown document into bounded-token chunks for
// per-field-group LM extraction, preserving section headings so each chunk
// carries a breadcrumb of its enclosing headers (spec §4.5).
package chunker

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// DefaultTokenBudget approximates "4 chars ≈ 1 token" over an 8,000-token
// target, matching spec §4.5's default chunk size.
const DefaultTokenBudget = 8000

const charsPerToken = 4

// DocumentChunk is one bounded-size slice of a document, annotated with the
// breadcrumb of headings enclosing its starting position.
type DocumentChunk struct {
	Content      string
	ChunkIndex   int
	TotalChunks  int
	HeaderPath   []string
}

type section struct {
	headerPath []string
	content    string
}

// Chunk splits markdown into DocumentChunks bounded by tokenBudget
// (approximated in characters). Sections are split on level-2 headings;
// oversized sections fall back to paragraph, then word, splitting.
func Chunk(markdown string, tokenBudget int) []DocumentChunk {
	if tokenBudget <= 0 {
		tokenBudget = DefaultTokenBudget
	}
	budgetChars := tokenBudget * charsPerToken

	sections := splitSections(markdown)
	packed := pack(sections, budgetChars)

	chunks := make([]DocumentChunk, len(packed))
	for i, s := range packed {
		chunks[i] = DocumentChunk{
			Content:     s.content,
			ChunkIndex:  i,
			TotalChunks: len(packed),
			HeaderPath:  s.headerPath,
		}
	}
	return chunks
}

// splitSections walks the goldmark AST and splits the document on
// second-level headings, preserving the heading with its following content
// and tracking the first/second/third-level breadcrumb at each split point.
func splitSections(markdown string) []section {
	src := []byte(markdown)
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(src))

	type boundary struct {
		offset int
		path   []string
	}

	var boundaries []boundary
	var h1, h2, h3 string

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		title := headingText(heading, src)
		switch heading.Level {
		case 1:
			h1, h2, h3 = title, "", ""
		case 2:
			h2, h3 = title, ""
			lines := heading.Lines()
			if lines.Len() > 0 {
				// Lines() covers only the heading text; back up to the start of
				// the line so the "## " marker stays with its section.
				offset := lines.At(0).Start
				for offset > 0 && src[offset-1] != '\n' {
					offset--
				}
				boundaries = append(boundaries, boundary{offset: offset, path: breadcrumb(h1, h2, h3)})
			}
		case 3:
			h3 = title
		}
		return ast.WalkContinue, nil
	})

	if len(boundaries) == 0 {
		return []section{{headerPath: breadcrumb(h1, "", ""), content: markdown}}
	}

	var sections []section
	if boundaries[0].offset > 0 {
		sections = append(sections, section{headerPath: []string{}, content: markdown[:boundaries[0].offset]})
	}
	for i, b := range boundaries {
		end := len(markdown)
		if i+1 < len(boundaries) {
			end = boundaries[i+1].offset
		}
		sections = append(sections, section{headerPath: b.path, content: markdown[b.offset:end]})
	}
	return sections
}

func headingText(h *ast.Heading, src []byte) string {
	var sb strings.Builder
	for c := h.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			sb.Write(t.Segment.Value(src))
		}
	}
	return strings.TrimSpace(sb.String())
}

func breadcrumb(h1, h2, h3 string) []string {
	var path []string
	for _, h := range []string{h1, h2, h3} {
		if h != "" {
			path = append(path, h)
		}
	}
	return path
}

// pack greedily packs sections into budget-sized chunks, splitting any
// single section that alone exceeds the budget (spec §4.5 steps 2-3).
func pack(sections []section, budgetChars int) []section {
	var packed []section
	var cur section
	curLen := 0

	flush := func() {
		if curLen > 0 {
			packed = append(packed, cur)
		}
		cur = section{}
		curLen = 0
	}

	for _, s := range sections {
		if len(s.content) > budgetChars {
			flush()
			packed = append(packed, splitOversized(s, budgetChars)...)
			continue
		}
		if curLen > 0 && curLen+len(s.content) > budgetChars {
			flush()
		}
		if curLen == 0 {
			cur = section{headerPath: s.headerPath, content: s.content}
		} else {
			cur.content += s.content
		}
		curLen += len(s.content)
	}
	flush()

	if len(packed) == 0 {
		packed = append(packed, section{content: ""})
	}
	return packed
}

// splitOversized falls back to paragraph splitting, then word splitting,
// when a single section alone exceeds the token budget (spec §4.5 step 3).
func splitOversized(s section, budgetChars int) []section {
	paras := strings.Split(s.content, "\n\n")
	var parts []section
	var cur strings.Builder

	flushPara := func() {
		if cur.Len() > 0 {
			parts = append(parts, section{headerPath: s.headerPath, content: cur.String()})
			cur.Reset()
		}
	}

	for _, p := range paras {
		piece := p + "\n\n"
		if len(piece) > budgetChars {
			flushPara()
			parts = append(parts, splitByWords(piece, budgetChars, s.headerPath)...)
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(piece) > budgetChars {
			flushPara()
		}
		cur.WriteString(piece)
	}
	flushPara()

	if len(parts) == 0 {
		return []section{s}
	}
	return parts
}

func splitByWords(text string, budgetChars int, headerPath []string) []section {
	words := strings.Fields(text)
	var parts []section
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, section{headerPath: headerPath, content: cur.String()})
			cur.Reset()
		}
	}

	for _, w := range words {
		if cur.Len()+len(w)+1 > budgetChars {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	flush()
	if len(parts) == 0 {
		parts = append(parts, section{headerPath: headerPath, content: text})
	}
	return parts
}
