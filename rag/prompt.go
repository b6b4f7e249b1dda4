package rag

import (
	"fmt"
	"strings"

	"github.com/brunobiangulo/lexgraph/vector"
)

const systemPrompt = `You are a legal and regulatory compliance assistant. Answer questions based ONLY on the provided documents.
Rules:
1. Only state facts that are directly supported by the provided documents.
2. Cite specific articles, sections or documents when possible.
3. If the documents do not contain enough information to answer, say so explicitly.
4. Preserve exact legal terminology and clause references.
5. Be concise but thorough.`

// buildContext renders hits as numbered documents, most similar first,
// stopping once limit characters are used. The document that crosses the
// limit is truncated when more than 100 characters of room remain.
func buildContext(hits []vector.Hit, limit int) string {
	var parts []string
	used := 0
	for i, h := range hits {
		name := h.Metadata.DocumentName
		if name == "" {
			name = h.Metadata.DocumentID
		}
		doc := fmt.Sprintf("[Document %d] (%s, similarity %.2f)\n%s", i+1, name, h.Score, h.Metadata.Text)
		n := len([]rune(doc))
		if used+n > limit {
			if room := limit - used; room > 100 {
				parts = append(parts, string([]rune(doc)[:room])+"...")
			}
			break
		}
		parts = append(parts, doc)
		used += n
	}
	return strings.Join(parts, "\n\n")
}

func buildAnswerPrompt(question string, history []Exchange, context string, facts []string) string {
	var b strings.Builder
	if len(history) > 0 {
		b.WriteString("Previous conversation:\n")
		for _, ex := range history {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", ex.Question, ex.Answer)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Related Legal Documents:\n%s\n\n", context)
	if len(facts) > 0 {
		b.WriteString("Related legal entities and relationships:\n")
		for _, f := range facts {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, `Question: %s

Please answer in the following format:
1. Direct answer to the question
2. Specific legal articles or regulations cited
3. Related suggestions or considerations

Answer:`, question)
	return b.String()
}

func buildSuggestionPrompt(question, context string, n int) string {
	return fmt.Sprintf(`Based on the following regulatory content and original question, suggest %d related legal questions.

Regulatory Content:
%s

Original Question: %s

Write %d related questions, one per line:`, n, context, question, n)
}

// parseSuggestions keeps reply lines that look like questions, without list
// markers, up to n of them.
func parseSuggestions(reply string, n int) []string {
	out := []string{}
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if !strings.ContainsAny(line, "?？") {
			continue
		}
		line = strings.TrimSpace(strings.TrimLeft(line, "0123456789.)-*• "))
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == n {
			break
		}
	}
	return out
}
