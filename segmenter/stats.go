package segmenter

import (
	"strings"
	"unicode"
)

// Stats holds document-level counts recorded with a document.
type Stats struct {
	WordCount      int `json:"word_count"`
	ParagraphCount int `json:"paragraph_count"`
}

// longLine is the length above which a single line counts as a paragraph
// when the text has no blank-line structure.
const longLine = 50

// Count computes word and paragraph counts. Han, Kana and Hangul characters
// count as one word each; other words are runs of letters and digits.
func Count(text string) Stats {
	var st Stats
	inWord := false
	for _, r := range text {
		switch {
		case isCJK(r):
			st.WordCount++
			inWord = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if !inWord {
				st.WordCount++
				inWord = true
			}
		default:
			inWord = false
		}
	}

	st.ParagraphCount = len(paragraphs(text))
	if st.ParagraphCount <= 1 {
		long := 0
		for _, line := range strings.Split(text, "\n") {
			if len([]rune(strings.TrimSpace(line))) > longLine {
				long++
			}
		}
		if long > st.ParagraphCount {
			st.ParagraphCount = long
		}
	}
	return st
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}
