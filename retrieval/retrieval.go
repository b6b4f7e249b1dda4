// Package retrieval embeds a query and returns the most similar segments
// from a vector index.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brunobiangulo/lexgraph/embedding"
	"github.com/brunobiangulo/lexgraph/vector"
)

// Config holds retrieval configuration.
type Config struct {
	// MinSimilarity drops hits scoring below it. Hits with a
	// non-positive score are always dropped.
	MinSimilarity float64 `json:"min_similarity" yaml:"min_similarity"`
	// MaxTopK caps the number of hits a caller may ask for.
	MaxTopK int `json:"max_top_k" yaml:"max_top_k"`
}

// DefaultMaxTopK is used when Config.MaxTopK is not set.
const DefaultMaxTopK = 100

// Trace records what one retrieval did.
type Trace struct {
	Query         string  `json:"query"`
	Requested     int     `json:"requested"`
	Candidates    int     `json:"candidates"`
	Returned      int     `json:"returned"`
	MinSimilarity float64 `json:"min_similarity"`
	TopScore      float64 `json:"top_score"`
	ElapsedMs     int64   `json:"elapsed_ms"`
}

// Retriever performs embedding plus nearest-neighbour search.
type Retriever struct {
	embedder *embedding.Gateway
	index    vector.Index
	cfg      Config
}

// New creates a Retriever over index, embedding queries with g.
func New(g *embedding.Gateway, index vector.Index, cfg Config) *Retriever {
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = DefaultMaxTopK
	}
	return &Retriever{embedder: g, index: index, cfg: cfg}
}

// Index returns the index searched by r.
func (r *Retriever) Index() vector.Index { return r.index }

// Retrieve returns up to topK hits for query, most similar first. A blank
// query or a non-positive topK returns no hits without calling the
// embedding service.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]vector.Hit, *Trace, error) {
	trace := &Trace{Query: query, Requested: topK, MinSimilarity: r.cfg.MinSimilarity}
	if strings.TrimSpace(query) == "" || topK <= 0 {
		return nil, trace, nil
	}
	if topK > r.cfg.MaxTopK {
		topK = r.cfg.MaxTopK
	}
	start := time.Now()

	qv, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, trace, fmt.Errorf("embedding query: %w", err)
	}

	hits, err := r.index.Search(ctx, qv, topK)
	if err != nil {
		return nil, trace, fmt.Errorf("vector search: %w", err)
	}
	trace.Candidates = len(hits)

	// Segments sharing nothing with the query are not evidence.
	kept := hits[:0]
	for _, h := range hits {
		if h.Score > 0 && h.Score >= r.cfg.MinSimilarity {
			kept = append(kept, h)
		}
	}
	hits = kept

	trace.Returned = len(hits)
	if len(hits) > 0 {
		trace.TopScore = hits[0].Score
	}
	trace.ElapsedMs = time.Since(start).Milliseconds()

	slog.Debug("retrieval: search complete",
		"query_len", len(query), "top_k", topK,
		"candidates", trace.Candidates, "returned", trace.Returned,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return hits, trace, nil
}
