package parser

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTMLParser extracts visible text from HTML pages. h1-h6 elements start
// new sections; script, style and template content is dropped.
type HTMLParser struct{}

func (p *HTMLParser) SupportedFormats() []string { return []string{"html", "htm"} }

func (p *HTMLParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening HTML: %w", err)
	}
	defer f.Close()

	doc, err := html.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	w := &htmlWalker{}
	w.walk(doc)
	w.flush()

	res := &ParseResult{Sections: w.sections, Method: "native", Metadata: map[string]string{}}
	if w.title != "" {
		res.Metadata["title"] = w.title
	}
	return res, nil
}

type htmlWalker struct {
	sections []Section
	heading  string
	level    int
	buf      strings.Builder
	title    string
}

var headingLevels = map[atom.Atom]int{
	atom.H1: 1, atom.H2: 2, atom.H3: 3, atom.H4: 4, atom.H5: 5, atom.H6: 6,
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Li: true, atom.Br: true, atom.Tr: true,
	atom.Section: true, atom.Article: true, atom.Blockquote: true, atom.Pre: true,
	atom.Dt: true, atom.Dd: true, atom.Table: true, atom.Ul: true, atom.Ol: true,
}

func (w *htmlWalker) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.text(n.Data)
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Template:
			return
		case atom.Title:
			w.title = collapseSpace(textOf(n))
			return
		}
		if lvl, ok := headingLevels[n.DataAtom]; ok {
			w.flush()
			w.heading = collapseSpace(textOf(n))
			w.level = lvl
			return
		}
		if n.DataAtom == atom.Td || n.DataAtom == atom.Th {
			w.text("\t")
		}
	}

	block := n.Type == html.ElementNode && blockElements[n.DataAtom]
	if block {
		w.newline()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
	if block {
		w.newline()
	}
}

func (w *htmlWalker) text(s string) {
	words := strings.Fields(s)
	if len(words) == 0 {
		if s == "\t" {
			w.buf.WriteString("\t")
		}
		return
	}
	cur := w.buf.String()
	if cur != "" && !strings.HasSuffix(cur, "\n") && !strings.HasSuffix(cur, "\t") && !strings.HasSuffix(cur, " ") {
		w.buf.WriteString(" ")
	}
	w.buf.WriteString(strings.Join(words, " "))
}

func (w *htmlWalker) newline() {
	if cur := w.buf.String(); cur != "" && !strings.HasSuffix(cur, "\n") {
		w.buf.WriteString("\n")
	}
}

func (w *htmlWalker) flush() {
	var lines []string
	for _, l := range strings.Split(w.buf.String(), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	body := strings.Join(lines, "\n")
	if w.heading != "" || body != "" {
		w.sections = append(w.sections, Section{
			Heading:    w.heading,
			Content:    body,
			Level:      w.level,
			PageNumber: 1,
			Type:       classifySectionType(w.heading, body),
		})
	}
	w.heading, w.level = "", 0
	w.buf.Reset()
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var rec func(*html.Node)
	rec = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(n)
	return b.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
