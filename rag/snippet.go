package rag

import (
	"strings"
	"unicode"
)

// snippetMaxRunes caps the length of a source snippet.
const snippetMaxRunes = 300

// attachSnippets sets each source's Snippet to the sentences that share the
// most significant words with answer.
func attachSnippets(sources []Source, answer string) {
	words := significantWords(answer)
	if len(words) == 0 {
		return
	}
	for i := range sources {
		sources[i].Snippet = supportingSnippet(sources[i].Text, words)
	}
}

// supportingSnippet returns the best-scoring sentence of text, joined with
// its better-scoring neighbour when both fit in snippetMaxRunes. It returns
// "" when no sentence shares a word with answer.
func supportingSnippet(text string, answer map[string]bool) string {
	sentences := sentencesOf(text)
	if len(sentences) == 0 || len(answer) == 0 {
		return ""
	}

	scores := make([]int, len(sentences))
	best := 0
	for i, s := range sentences {
		for w := range significantWords(s) {
			if answer[w] {
				scores[i]++
			}
		}
		if scores[i] > scores[best] {
			best = i
		}
	}
	if scores[best] == 0 {
		return ""
	}

	out := sentences[best]
	prev, next := best-1, best+1
	adj := -1
	switch {
	case next < len(sentences) && scores[next] > 0 && (prev < 0 || scores[next] >= scores[prev]):
		adj = next
	case prev >= 0 && scores[prev] > 0:
		adj = prev
	}
	if adj >= 0 {
		joined := out + " " + sentences[adj]
		if adj < best {
			joined = sentences[adj] + " " + out
		}
		if len([]rune(joined)) <= snippetMaxRunes {
			out = joined
		}
	}
	if r := []rune(out); len(r) > snippetMaxRunes {
		out = string(r[:snippetMaxRunes]) + "..."
	}
	return out
}

// sentencesOf splits text after . ? ! or a full-width terminator. ASCII
// terminators only end a sentence before whitespace or the end of text, so
// "Article 3.2" stays whole.
func sentencesOf(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i, r := range runes {
		end := false
		switch r {
		case '。', '！', '？':
			end = true
		case '.', '?', '!':
			end = i+1 == len(runes) || unicode.IsSpace(runes[i+1])
		}
		if end {
			if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

// significantWords returns the lowercased words of four or more letters
// that are not stop words.
func significantWords(text string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(w)) >= 4 && !stopWords[w] {
			words[w] = true
		}
	}
	return words
}

var stopWords = map[string]bool{
	"that": true, "this": true, "with": true, "from": true,
	"have": true, "been": true, "were": true, "they": true,
	"their": true, "will": true, "would": true, "could": true,
	"should": true, "about": true, "which": true, "there": true,
	"these": true, "those": true, "then": true, "than": true,
	"them": true, "what": true, "when": true, "where": true,
	"into": true, "over": true, "each": true, "does": true,
	"such": true, "only": true, "also": true, "other": true,
	"shall": true, "under": true, "according": true, "provided": true,
	"documents": true, "document": true, "answer": true, "question": true,
}
