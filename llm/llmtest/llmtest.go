// Package llmtest provides deterministic in-process providers for tests.
package llmtest

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/brunobiangulo/lexgraph/llm"
)

// ErrUnsupported is returned by the half of the Provider interface a fake
// does not implement.
var ErrUnsupported = errors.New("llmtest: operation not supported")

// HashVector embeds text as a bag of hashed lowercase word tokens. Texts that
// share words have positive cosine similarity.
func HashVector(text string, dim int) []float32 {
	v := make([]float32, dim)
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		v[h.Sum32()%uint32(dim)]++
	}
	return v
}

// Embedder is a Provider whose Embed returns HashVector embeddings.
type Embedder struct {
	Dim int

	// BatchErr fails every Embed call with more than one input.
	BatchErr error
	// FailOn fails any call that contains the given text.
	FailOn map[string]error
	// WrongDim, when set, is the length returned for texts in FailDim.
	WrongDim int
	FailDim  map[string]bool
	// AfterEmbed, when set, runs after each successful Embed call.
	AfterEmbed func()

	mu    sync.Mutex
	calls int
}

// NewEmbedder returns an Embedder producing vectors of length dim.
func NewEmbedder(dim int) *Embedder {
	return &Embedder{Dim: dim}
}

// Calls reports how many Embed calls were made.
func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *Embedder) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, ErrUnsupported
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.BatchErr != nil && len(texts) > 1 {
		return nil, e.BatchErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err, ok := e.FailOn[t]; ok {
			return nil, err
		}
		if e.FailDim[t] {
			out[i] = make([]float32, e.WrongDim)
			continue
		}
		out[i] = HashVector(t, e.Dim)
	}
	if e.AfterEmbed != nil {
		e.AfterEmbed()
	}
	return out, nil
}

// Chat is a Provider whose Chat returns a scripted reply and records every
// request.
type Chat struct {
	Reply     string
	ReplyFunc func(req llm.ChatRequest) string
	Err       error

	mu       sync.Mutex
	requests []llm.ChatRequest
}

// NewChat returns a Chat that always replies with reply.
func NewChat(reply string) *Chat {
	return &Chat{Reply: reply}
}

func (c *Chat) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	if c.Err != nil {
		return nil, c.Err
	}
	reply := c.Reply
	if c.ReplyFunc != nil {
		reply = c.ReplyFunc(req)
	}
	return &llm.ChatResponse{
		Content:      reply,
		Model:        "llmtest",
		FinishReason: "stop",
		TotalTokens:  len(strings.Fields(reply)),
	}, nil
}

func (c *Chat) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, ErrUnsupported
}

// Requests returns a copy of the recorded requests.
func (c *Chat) Requests() []llm.ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.ChatRequest(nil), c.requests...)
}

// LastPrompt returns the content of the last user message sent.
func (c *Chat) LastPrompt() string {
	reqs := c.Requests()
	if len(reqs) == 0 {
		return ""
	}
	msgs := reqs[len(reqs)-1].Messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	return ""
}
