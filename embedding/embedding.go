// Package embedding turns text into fixed-length vectors through an
// external embedding service.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brunobiangulo/lexgraph/llm"
	"github.com/brunobiangulo/lexgraph/vector"
)

// ErrEmbeddingService matches every *ServiceError.
var ErrEmbeddingService = errors.New("embedding: service failure")

// ServiceError reports an embedding request that failed even after the
// per-item fallback.
type ServiceError struct {
	Op    string
	Index int
	Input string
	Err   error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("embedding: %s item %d (%q): %v", e.Op, e.Index, preview(e.Input), e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

func (e *ServiceError) Is(target error) bool { return target == ErrEmbeddingService }

// Config controls batching.
type Config struct {
	BatchSize     int `json:"batch_size" yaml:"batch_size"`
	MaxInputChars int `json:"max_input_chars" yaml:"max_input_chars"`
}

// Gateway embeds text with a provider and checks the result dimension.
type Gateway struct {
	provider llm.Provider
	dim      int
	cfg      Config
}

// New returns a Gateway producing vectors of length dim.
func New(p llm.Provider, dim int, cfg Config) *Gateway {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = 8000
	}
	return &Gateway{provider: p, dim: dim, cfg: cfg}
}

// Dim reports the vector length produced by the gateway.
func (g *Gateway) Dim() int { return g.dim }

// Embed embeds a single text.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in input order. A failed batch request is retried
// one text at a time so a single bad input does not lose its neighbours; any
// text that still fails aborts the call with a *ServiceError.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	for i := 0; i < len(texts); i += g.cfg.BatchSize {
		end := min(i+g.cfg.BatchSize, len(texts))

		batch := make([]string, end-i)
		for j := i; j < end; j++ {
			batch[j-i] = truncate(texts[j], g.cfg.MaxInputChars)
		}

		vecs, err := g.provider.Embed(ctx, batch)
		if err == nil && len(vecs) != len(batch) {
			err = fmt.Errorf("got %d embeddings for %d inputs", len(vecs), len(batch))
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, &ServiceError{Op: "embed_batch", Index: i, Input: texts[i], Err: ctx.Err()}
			}
			slog.Warn("embedding: batch failed, falling back to single items",
				"batch_start", i, "batch_end", end, "error", err)
			vecs = make([][]float32, len(batch))
			for j, text := range batch {
				single, serr := g.provider.Embed(ctx, []string{text})
				if serr == nil && len(single) != 1 {
					serr = fmt.Errorf("got %d embeddings for 1 input", len(single))
				}
				if serr != nil {
					return nil, &ServiceError{Op: "embed", Index: i + j, Input: texts[i+j], Err: serr}
				}
				vecs[j] = single[0]
			}
		}

		for j, v := range vecs {
			if len(v) == 0 {
				return nil, &ServiceError{Op: "embed", Index: i + j, Input: texts[i+j], Err: errors.New("empty embedding")}
			}
			if err := vector.CheckDim(fmt.Sprintf("embed item %d", i+j), "", v, g.dim); err != nil {
				return nil, err
			}
			out[i+j] = v
		}
	}
	return out, nil
}

// truncate cuts text at the last space before limit characters.
func truncate(text string, limit int) string {
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	cut := strings.LastIndex(string(r[:limit]), " ")
	if cut <= 0 {
		return string(r[:limit])
	}
	return string(r[:limit])[:cut]
}

func preview(s string) string {
	r := []rune(s)
	if len(r) > 40 {
		return string(r[:40]) + "..."
	}
	return s
}
