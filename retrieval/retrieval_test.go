package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/lexgraph/embedding"
	"github.com/brunobiangulo/lexgraph/llm/llmtest"
	"github.com/brunobiangulo/lexgraph/vector"
)

const dim = 64

func newRetriever(t *testing.T, cfg Config, texts ...string) (*Retriever, *llmtest.Embedder) {
	t.Helper()
	emb := llmtest.NewEmbedder(dim)
	idx := vector.NewFlat(dim)
	for i, text := range texts {
		id := string(rune('a' + i))
		require.NoError(t, idx.Add(context.Background(), vector.Item{
			SegmentID: "seg-" + id,
			Vector:    llmtest.HashVector(text, dim),
			Metadata:  vector.Metadata{DocumentID: "doc-" + id, Text: text},
		}))
	}
	return New(embedding.New(emb, dim, embedding.Config{}), idx, cfg), emb
}

func TestRetrieveRanksBySimilarity(t *testing.T) {
	r, _ := newRetriever(t, Config{},
		"Article 12 prohibits unauthorized data transfer",
		"The weather report for tomorrow",
	)

	hits, trace, err := r.Retrieve(context.Background(), "data transfer violation", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "seg-a", hits[0].SegmentID)
	assert.Greater(t, hits[0].Score, 0.0)
	assert.Equal(t, 1, trace.Returned)
	assert.Equal(t, hits[0].Score, trace.TopScore)
}

func TestRetrieveMinSimilarity(t *testing.T) {
	r, _ := newRetriever(t, Config{MinSimilarity: 0.2},
		"Article 12 prohibits unauthorized data transfer",
		"The weather report for tomorrow",
	)

	hits, trace, err := r.Retrieve(context.Background(), "unauthorized data transfer", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "seg-a", hits[0].SegmentID)
	assert.Equal(t, 2, trace.Candidates)
}

func TestRetrieveBlankQuery(t *testing.T) {
	r, emb := newRetriever(t, Config{}, "Article 5 imposes a fine.")

	for _, q := range []string{"", "   \n"} {
		hits, _, err := r.Retrieve(context.Background(), q, 3)
		require.NoError(t, err)
		assert.Empty(t, hits)
	}
	hits, _, err := r.Retrieve(context.Background(), "fine", 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Zero(t, emb.Calls())
}

func TestRetrieveEmbeddingFailure(t *testing.T) {
	r, emb := newRetriever(t, Config{}, "Article 5 imposes a fine.")
	emb.FailOn = map[string]error{"fine": errors.New("connection refused")}

	_, _, err := r.Retrieve(context.Background(), "fine", 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, embedding.ErrEmbeddingService)
}

func TestRetrieveCapsTopK(t *testing.T) {
	r, _ := newRetriever(t, Config{MaxTopK: 1}, "fine one", "fine two", "fine three")
	hits, _, err := r.Retrieve(context.Background(), "fine", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestRetrieveDropsUnrelated(t *testing.T) {
	r, _ := newRetriever(t, Config{}, "Article 5 imposes a fine for late filing.")
	hits, trace, err := r.Retrieve(context.Background(), "unrelated weather", 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Equal(t, 1, trace.Candidates)
}
