// Package segmenter splits document text into bounded, ordered segments.
package segmenter

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// DefaultMaxChars is the segment length limit used when Config.MaxChars is 0.
const DefaultMaxChars = 500

// Config controls segmentation.
type Config struct {
	// MaxChars is the maximum segment length in characters (runes).
	MaxChars int `json:"max_chars" yaml:"max_chars"`
}

// Piece is one segment of a document.
type Piece struct {
	Ordinal int    `json:"ordinal"`
	Text    string `json:"text"`
}

// Segmenter converts raw text into pieces.
type Segmenter struct {
	cfg Config
}

// New returns a Segmenter. Zero-value fields take defaults.
func New(cfg Config) *Segmenter {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	return &Segmenter{cfg: cfg}
}

// MaxChars reports the configured limit.
func (s *Segmenter) MaxChars() int { return s.cfg.MaxChars }

var blankLine = regexp.MustCompile(`\n[ \t\r\f\v]*\n`)

// Split breaks text on paragraph boundaries and splits any paragraph longer
// than MaxChars on sentence boundaries. Whitespace runs collapse to a single
// space, empty pieces are dropped, and ordinals are dense from zero.
func (s *Segmenter) Split(text string) []Piece {
	var out []Piece
	for _, para := range paragraphs(text) {
		for _, chunk := range s.splitParagraph(para) {
			out = append(out, Piece{Ordinal: len(out), Text: chunk})
		}
	}
	return out
}

// paragraphs returns NFC-normalised, whitespace-collapsed paragraphs.
func paragraphs(text string) []string {
	text = norm.NFC.String(strings.ReplaceAll(text, "\r\n", "\n"))
	raw := blankLine.Split(text, -1)
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = collapse(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (s *Segmenter) splitParagraph(para string) []string {
	if utf8.RuneCountInString(para) <= s.cfg.MaxChars {
		return []string{para}
	}

	var (
		out    []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
			curLen = 0
		}
	}
	for _, sent := range splitSentences(para) {
		n := utf8.RuneCountInString(sent)
		if n > s.cfg.MaxChars {
			flush()
			out = append(out, hardWrap(sent, s.cfg.MaxChars)...)
			continue
		}
		if curLen > 0 && curLen+1+n > s.cfg.MaxChars {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(sent)
		curLen += n
	}
	flush()
	return out
}

// isTerminator reports sentence-ending punctuation. Full-width forms end a
// sentence immediately; ASCII forms only when followed by whitespace or the
// end of text, so decimals such as "3.5" stay intact.
func isTerminator(r rune) (terminal, fullWidth bool) {
	switch r {
	case '.', '!', '?', ';':
		return true, false
	case '。', '！', '？', '；':
		return true, true
	}
	return false, false
}

func splitSentences(text string) []string {
	var (
		sentences []string
		start     int
	)
	runes := []rune(text)
	for i, r := range runes {
		term, full := isTerminator(r)
		if !term {
			continue
		}
		if !full && i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			sentences = append(sentences, s)
		}
		start = i + 1
	}
	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// hardWrap splits an over-long sentence on word boundaries, cutting single
// words that exceed limit on rune boundaries.
func hardWrap(sentence string, limit int) []string {
	var (
		out []string
		cur []rune
	)
	for _, word := range strings.Fields(sentence) {
		w := []rune(word)
		for len(w) > limit {
			if len(cur) > 0 {
				out = append(out, string(cur))
				cur = cur[:0]
			}
			out = append(out, string(w[:limit]))
			w = w[limit:]
		}
		if len(w) == 0 {
			continue
		}
		if len(cur) > 0 && len(cur)+1+len(w) > limit {
			out = append(out, string(cur))
			cur = cur[:0]
		}
		if len(cur) > 0 {
			cur = append(cur, ' ')
		}
		cur = append(cur, w...)
	}
	if len(cur) > 0 {
		out = append(out, string(cur))
	}
	return out
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
