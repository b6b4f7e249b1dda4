package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/brunobiangulo/lexgraph/llm"
)

// extractionPrompt asks the completion service for entities and relations
// restricted to the node types of the graph.
const extractionPrompt = `You are an entity and relation extraction engine for legal and regulatory text.
Given the text below, extract the legal entities it mentions and the relations between them.

ENTITY TYPES (use exactly these values):
- Article      : a numbered article, section, clause, chapter or a named law/act/code
- Violation    : a prohibited conduct or breach (e.g. price fixing, late filing)
- Penalty      : a fine, sanction, imprisonment term or licence suspension
- Obligation   : a duty imposed on a party (e.g. "must notify")
- Organization : a regulated party or named body (e.g. supplier, data controller)
- Concept      : a legal concept (e.g. consumer protection, competition)

Return a JSON object with exactly two keys:
  "entities"  : array of {"name": string, "type": string}
  "relations" : array of {"source": string, "target": string, "relation": string}

Rules:
- Relation names are short lowercase verb phrases taken from the text (e.g. "imposes", "prohibits").
- Source and target must be names from "entities".
- Only include what is clearly supported by the text; empty arrays are fine.
- Do NOT include any text outside the JSON object.

Example:
Input: "Article 5 imposes a fine for late filing."
Output:
{"entities": [{"name": "Article 5", "type": "Article"}, {"name": "fine", "type": "Penalty"}, {"name": "late filing", "type": "Violation"}], "relations": [{"source": "Article 5", "target": "fine", "relation": "imposes"}]}

%s
TEXT:
%s`

// perCallTimeout caps a single extraction request.
const perCallTimeout = 90 * time.Second

// LLMExtractor asks the completion service for entities and relations and
// falls back to pattern extraction when the call or its reply fails.
type LLMExtractor struct {
	chat     llm.Provider
	fallback *PatternExtractor
}

// NewLLMExtractor returns an LLMExtractor. A nil fallback uses the default
// pattern catalog.
func NewLLMExtractor(chat llm.Provider, fallback *PatternExtractor) *LLMExtractor {
	if fallback == nil {
		fallback = NewPatternExtractor()
	}
	return &LLMExtractor{chat: chat, fallback: fallback}
}

type llmEntity struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type llmRelation struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Relation string `json:"relation"`
}

type llmResult struct {
	Entities  []llmEntity   `json:"entities"`
	Relations []llmRelation `json:"relations"`
}

// Extract implements Extractor.
func (x *LLMExtractor) Extract(ctx context.Context, text string) (Extraction, error) {
	ex, err := x.extract(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return Extraction{}, ctx.Err()
		}
		slog.Warn("graph: llm extraction failed, using patterns", "error", err)
		return x.fallback.Extract(ctx, text)
	}
	return ex, nil
}

func (x *LLMExtractor) extract(ctx context.Context, text string) (Extraction, error) {
	// Pattern matches are passed as hints so the model does not miss
	// article numbers and amounts.
	var hints string
	if ms := x.fallback.Mentions(text); len(ms) > 0 {
		labels := make([]string, len(ms))
		for i, m := range ms {
			labels[i] = fmt.Sprintf("%s (%s)", m.Label, m.Type)
		}
		hints = "HINTS: these entities were detected in the text:\n" + strings.Join(labels, ", ") + "\n"
	}

	callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
	defer cancel()

	resp, err := x.chat.Chat(callCtx, llm.ChatRequest{
		Messages:       []llm.Message{{Role: "user", Content: fmt.Sprintf(extractionPrompt, hints, text)}},
		Temperature:    0,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return Extraction{}, fmt.Errorf("extraction chat: %w", err)
	}

	raw, err := extractJSON(resp.Content)
	if err != nil {
		return Extraction{}, err
	}
	var res llmResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return Extraction{}, fmt.Errorf("unmarshalling extraction result: %w", err)
	}
	return res.toExtraction(), nil
}

func (r llmResult) toExtraction() Extraction {
	var ex Extraction
	byName := make(map[string]NodeKey)
	for _, e := range r.Entities {
		name := strings.Join(strings.Fields(e.Name), " ")
		if name == "" {
			continue
		}
		typ, ok := ParseNodeType(e.Type)
		if !ok {
			typ = TypeConcept
		}
		label := name
		if typ == TypeArticle {
			if c := canonArticle(name); c != "" && reArticleNumbered.MatchString(name) {
				label = c
			}
		} else if typ != TypeOrganization {
			label = strings.ToLower(name)
		}
		k := NodeKey{Label: label, Type: typ}
		if _, dup := byName[strings.ToLower(name)]; dup {
			continue
		}
		byName[strings.ToLower(name)] = k
		ex.Mentions = append(ex.Mentions, Mention{Label: label, Type: typ, Start: -1, End: -1})
	}

	seen := make(map[Relation]bool)
	for _, rel := range r.Relations {
		src, ok1 := byName[strings.ToLower(strings.TrimSpace(rel.Source))]
		tgt, ok2 := byName[strings.ToLower(strings.TrimSpace(rel.Target))]
		if !ok1 || !ok2 || src == tgt {
			continue
		}
		name := collapseLower(rel.Relation)
		if name == "" {
			name = RelatedTo
		}
		c := Relation{Source: src, Target: tgt, Relation: name}
		if !seen[c] {
			seen[c] = true
			ex.Relations = append(ex.Relations, c)
		}
	}
	return ex
}

// codeBlockRe strips markdown code fences from model output.
var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// extractJSON finds the JSON object in a model reply, tolerating code fences
// and surrounding prose.
func extractJSON(raw string) (string, error) {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		return raw, nil
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1], nil
	}
	return "", fmt.Errorf("no JSON object found in response")
}
