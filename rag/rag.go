// Package rag answers questions from retrieved segments and knowledge graph
// facts using a completion service.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brunobiangulo/lexgraph/graph"
	"github.com/brunobiangulo/lexgraph/llm"
	"github.com/brunobiangulo/lexgraph/retrieval"
	"github.com/brunobiangulo/lexgraph/vector"
)

// ErrAnswerGeneration matches every *GenerationError.
var ErrAnswerGeneration = errors.New("rag: answer generation failed")

// GenerationError reports a completion failure after retrieval succeeded.
// Sources holds what was retrieved so callers can still show it.
type GenerationError struct {
	Question string
	Sources  []Source
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("rag: generating answer for %q: %v", preview(e.Question), e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool { return target == ErrAnswerGeneration }

// NoResultsAnswer is returned when nothing relevant was retrieved.
const NoResultsAnswer = "Sorry, no relevant regulatory documents were found to answer your question."

// Config holds answerer configuration.
type Config struct {
	// MaxContextChars caps the segment text placed in the prompt.
	MaxContextChars int `json:"max_context_chars" yaml:"max_context_chars"`
	// MaxTokens is the completion budget.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`
	// MaxGraphFacts caps the relation sentences placed in the prompt.
	MaxGraphFacts int `json:"max_graph_facts" yaml:"max_graph_facts"`
	// SourcesOnlyOnFailure turns a completion failure into a degraded
	// answer carrying only the sources instead of a *GenerationError.
	SourcesOnlyOnFailure bool `json:"sources_only_on_failure" yaml:"sources_only_on_failure"`
}

// DefaultConfig returns the default answerer configuration.
func DefaultConfig() Config {
	return Config{MaxContextChars: 3000, MaxTokens: 1500, MaxGraphFacts: 10}
}

// Source is one retrieved segment used for an answer.
type Source struct {
	SegmentID    string  `json:"segment_id"`
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	Text         string  `json:"text"`
	Similarity   float64 `json:"similarity"`
	// Snippet holds the sentences of Text that best support the answer.
	Snippet string `json:"snippet,omitempty"`
}

// Answer is the output of the answerer.
type Answer struct {
	Question         string   `json:"question"`
	Text             string   `json:"answer"`
	Confidence       float64  `json:"confidence"`
	Sources          []Source `json:"sources"`
	GraphFacts       []string `json:"graph_facts,omitempty"`
	Model            string   `json:"model_used,omitempty"`
	PromptTokens     int      `json:"prompt_tokens"`
	CompletionTokens int      `json:"completion_tokens"`
	TotalTokens      int      `json:"total_tokens"`
	ElapsedMs        int64    `json:"elapsed_ms"`
	// Degraded is set when generation failed and only sources are returned.
	Degraded bool   `json:"degraded,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Request is one question.
type Request struct {
	Question string
	TopK     int
	// Conversation, when set, supplies prior exchanges and receives this one.
	Conversation *Conversation
}

// Answerer runs retrieval, graph enrichment and generation.
type Answerer struct {
	retriever *retrieval.Retriever
	graph     *graph.Store
	mentions  *graph.PatternExtractor
	chat      llm.Provider
	cfg       Config
}

// New creates an Answerer. g may be nil to skip graph enrichment.
func New(r *retrieval.Retriever, g *graph.Store, chat llm.Provider, cfg Config) *Answerer {
	def := DefaultConfig()
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = def.MaxContextChars
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.MaxGraphFacts <= 0 {
		cfg.MaxGraphFacts = def.MaxGraphFacts
	}
	return &Answerer{
		retriever: r,
		graph:     g,
		mentions:  graph.NewPatternExtractor(),
		chat:      chat,
		cfg:       cfg,
	}
}

// Answer answers req.Question. Retrieval errors are returned as is; a
// completion failure yields a *GenerationError carrying the sources, or a
// degraded Answer when SourcesOnlyOnFailure is set.
func (a *Answerer) Answer(ctx context.Context, req Request) (*Answer, error) {
	start := time.Now()
	hits, _, err := a.retriever.Retrieve(ctx, req.Question, req.TopK)
	if err != nil {
		return nil, err
	}

	ans := &Answer{Question: req.Question, Sources: sourcesOf(hits)}
	if len(hits) == 0 {
		ans.Text = NoResultsAnswer
		ans.ElapsedMs = time.Since(start).Milliseconds()
		return ans, nil
	}
	ans.Confidence = clamp01(hits[0].Score)
	ans.GraphFacts = a.graphFacts(hits)

	prompt := buildAnswerPrompt(req.Question, req.Conversation.Exchanges(),
		buildContext(hits, a.cfg.MaxContextChars), ans.GraphFacts)

	slog.Debug("rag: generating answer",
		"question_len", len(req.Question), "sources", len(hits), "graph_facts", len(ans.GraphFacts))
	resp, err := a.chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0,
		MaxTokens:   a.cfg.MaxTokens,
	})
	ans.ElapsedMs = time.Since(start).Milliseconds()
	if err != nil {
		genErr := &GenerationError{Question: req.Question, Sources: ans.Sources, Err: err}
		if !a.cfg.SourcesOnlyOnFailure {
			return nil, genErr
		}
		slog.Warn("rag: generation failed, returning sources only", "error", err)
		ans.Degraded = true
		ans.Error = genErr.Error()
		return ans, nil
	}

	ans.Text = strings.TrimSpace(resp.Content)
	attachSnippets(ans.Sources, ans.Text)
	ans.Model = resp.Model
	ans.PromptTokens = resp.PromptTokens
	ans.CompletionTokens = resp.CompletionTokens
	ans.TotalTokens = resp.TotalTokens
	if req.Conversation != nil {
		req.Conversation.Append(req.Question, ans.Text)
	}
	slog.Info("rag: answer generated",
		"sources", len(hits), "confidence", fmt.Sprintf("%.2f", ans.Confidence),
		"tokens", resp.TotalTokens, "elapsed", time.Since(start).Round(time.Millisecond))
	return ans, nil
}

// graphFacts renders the 1-hop relations of entities mentioned in the hits.
func (a *Answerer) graphFacts(hits []vector.Hit) []string {
	if a.graph == nil {
		return nil
	}
	seen := make(map[graph.NodeKey]bool)
	var keys []graph.NodeKey
	for _, h := range hits {
		for _, m := range a.mentions.Mentions(h.Metadata.Text) {
			if k := m.Key(); !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	if len(keys) == 0 {
		return nil
	}
	edges := a.graph.Neighborhood(keys, a.cfg.MaxGraphFacts)
	facts := make([]string, len(edges))
	for i, e := range edges {
		facts[i] = e.String()
	}
	return facts
}

// BatchItem is the outcome of one question in a batch.
type BatchItem struct {
	Question string  `json:"question"`
	Answer   *Answer `json:"answer,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// AnswerBatch answers questions one after another without a conversation.
// A failing question is recorded in its item and does not stop the batch.
func (a *Answerer) AnswerBatch(ctx context.Context, questions []string, topK int) []BatchItem {
	items := make([]BatchItem, len(questions))
	for i, q := range questions {
		items[i].Question = q
		if err := ctx.Err(); err != nil {
			items[i].Error = err.Error()
			continue
		}
		ans, err := a.Answer(ctx, Request{Question: q, TopK: topK})
		if err != nil {
			items[i].Error = err.Error()
			continue
		}
		items[i].Answer = ans
	}
	return items
}

// suggestionContextChars caps the context used for question suggestions.
const suggestionContextChars = 1000

// SuggestQuestions asks the completion service for up to n questions
// related to question and the segments it retrieves.
func (a *Answerer) SuggestQuestions(ctx context.Context, question string, n int) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}
	hits, _, err := a.retriever.Retrieve(ctx, question, 5)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []string{}, nil
	}

	resp, err := a.chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{{
			Role:    "user",
			Content: buildSuggestionPrompt(question, buildContext(hits, suggestionContextChars), n),
		}},
		Temperature: 0,
		MaxTokens:   500,
	})
	if err != nil {
		return nil, &GenerationError{Question: question, Sources: sourcesOf(hits), Err: err}
	}
	return parseSuggestions(resp.Content, n), nil
}

func sourcesOf(hits []vector.Hit) []Source {
	out := make([]Source, len(hits))
	for i, h := range hits {
		out[i] = Source{
			SegmentID:    h.SegmentID,
			DocumentID:   h.Metadata.DocumentID,
			DocumentName: h.Metadata.DocumentName,
			Text:         h.Metadata.Text,
			Similarity:   h.Score,
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func preview(s string) string {
	r := []rune(s)
	if len(r) > 60 {
		return string(r[:60]) + "..."
	}
	return s
}
