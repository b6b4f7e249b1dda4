package parser

import (
	"strings"
	"unicode"
)

// splitPageIntoSections breaks page text into logical sections. A heading
// with no body before the next heading is kept as its own section.
func splitPageIntoSections(text string, pageNum int) []Section {
	var sections []Section
	var content strings.Builder
	var heading string
	level := 0

	flush := func() {
		body := strings.TrimSpace(content.String())
		if heading == "" && body == "" {
			return
		}
		sections = append(sections, Section{
			Heading:    heading,
			Content:    body,
			Level:      level,
			PageNumber: pageNum,
			Type:       classifySectionType(heading, body),
		})
		content.Reset()
	}

	blank := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			blank = true
			continue
		}
		if isLikelyHeading(trimmed) {
			flush()
			heading = trimmed
			level = detectHeadingLevel(trimmed)
			blank = false
			continue
		}
		if content.Len() > 0 {
			if blank {
				// Keep paragraph breaks.
				content.WriteString("\n\n")
			} else {
				content.WriteString("\n")
			}
		}
		content.WriteString(trimmed)
		blank = false
	}
	flush()
	return sections
}

var headingPrefixes = []string{
	"section ", "article ", "chapter ", "part ", "title ", "annex ", "schedule ", "appendix ", "§",
}

func isLikelyHeading(line string) bool {
	if line == "" {
		return false
	}
	if len(line) > 2 && len(line) < 100 && line == strings.ToUpper(line) && strings.IndexFunc(line, unicode.IsLetter) >= 0 {
		return true
	}
	if len(line) >= 120 || strings.HasSuffix(line, ".") || strings.HasSuffix(line, ";") || strings.HasSuffix(line, ",") {
		return false
	}
	// Numbered section like "1.", "1.1", "3.9.1"
	if line[0] >= '0' && line[0] <= '9' && strings.Contains(line[:min(10, len(line))], ".") {
		return true
	}
	lower := strings.ToLower(line)
	for _, p := range headingPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

func detectHeadingLevel(heading string) int {
	// Depth follows the dots in the numbering.
	first, _, _ := strings.Cut(heading, " ")
	if dots := strings.Count(first, "."); dots > 0 {
		return dots
	}
	if heading == strings.ToUpper(heading) {
		return 1
	}
	return 2
}

func classifySectionType(heading, content string) string {
	h := strings.ToLower(heading)
	c := strings.ToLower(content)
	has := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(h, w) || strings.Contains(c, w) {
				return true
			}
		}
		return false
	}

	switch {
	case has("definition", "glossary") || strings.Contains(c, " means "):
		return "definition"
	case has("penalt", "sanction", "punishable", " fine ", " fined"):
		return "penalty"
	case has("shall", "must", "obligation", "required to"):
		return "obligation"
	case strings.Contains(h, "table"), strings.Count(content, "\t") > 3, strings.Count(content, "|") > 3:
		return "table"
	case strings.Contains(h, "annex"), strings.Contains(h, "schedule"), strings.Contains(h, "appendix"):
		return "annex"
	}
	return "section"
}
