//go:build cgo

package lexgraph

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/lexgraph/compliance"
	"github.com/brunobiangulo/lexgraph/graph"
	"github.com/brunobiangulo/lexgraph/llm/llmtest"
	"github.com/brunobiangulo/lexgraph/rag"
	"github.com/brunobiangulo/lexgraph/store"
)

const testDim = 64

const lateFilingText = "Article 5 imposes a fine for late filing.\n\n" +
	"Article 7 prohibits price fixing by any supplier."

type fixture struct {
	eng    Engine
	dbPath string
	chat   *llmtest.Chat
	embed  *llmtest.Embedder
}

func newFixture(t *testing.T, backend string, mutate ...func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		dbPath: filepath.Join(t.TempDir(), "lexgraph.db"),
		chat:   llmtest.NewChat("Article 5 imposes a fine for late filing."),
		embed:  llmtest.NewEmbedder(testDim),
	}
	f.open(t, backend, mutate...)
	return f
}

func (f *fixture) open(t *testing.T, backend string, mutate ...func(*Config)) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DBPath = f.dbPath
	cfg.EmbeddingDim = testDim
	cfg.IndexBackend = backend
	for _, m := range mutate {
		m(&cfg)
	}
	eng, err := New(cfg, WithChatProvider(f.chat), WithEmbeddingProvider(f.embed))
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	f.eng = eng
}

func backends(t *testing.T, fn func(t *testing.T, backend string)) {
	for _, b := range []string{IndexFlat, IndexSQLiteVec} {
		t.Run(b, func(t *testing.T) { fn(t, b) })
	}
}

func TestNewInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	for name, mutate := range map[string]func(*Config){
		"negative dim":   func(c *Config) { c.EmbeddingDim = -1 },
		"backend":        func(c *Config) { c.IndexBackend = "faiss" },
		"extractor":      func(c *Config) { c.GraphExtractor = "spacy" },
		"min similarity": func(c *Config) { c.Retrieval.MinSimilarity = 2 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.DBPath = filepath.Join(dir, "x.db")
			mutate(&cfg)
			_, err := New(cfg, WithChatProvider(llmtest.NewChat("")), WithEmbeddingProvider(llmtest.NewEmbedder(8)))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestIngestAndSearch(t *testing.T) {
	backends(t, func(t *testing.T, backend string) {
		f := newFixture(t, backend)
		ctx := context.Background()

		res, err := f.eng.Ingest(ctx, IngestRequest{DocumentID: "doc-1", Filename: "rules.txt", Text: lateFilingText})
		require.NoError(t, err)
		assert.Equal(t, "doc-1", res.DocumentID)
		assert.Equal(t, 2, res.SegmentsCreated)
		assert.Equal(t, store.StatusProcessed, res.Status)
		assert.Equal(t, 2, res.Metadata.ParagraphCount)

		doc, err := f.eng.GetDocument(ctx, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, "txt", doc.FileType)
		assert.Equal(t, store.StatusProcessed, doc.Status)
		assert.NotEmpty(t, doc.ContentHash)

		hits, err := f.eng.Search(ctx, "price fixing supplier", 5)
		require.NoError(t, err)
		require.NotEmpty(t, hits)
		assert.Equal(t, "doc-1", hits[0].DocumentID)
		assert.Equal(t, "rules.txt", hits[0].DocumentName)
		assert.Equal(t, 1, hits[0].Ordinal)
		assert.Contains(t, hits[0].Text, "price fixing")
		assert.Greater(t, hits[0].Similarity, 0.3)
	})
}

func TestIngestReplacesSegments(t *testing.T) {
	backends(t, func(t *testing.T, backend string) {
		f := newFixture(t, backend)
		ctx := context.Background()

		_, err := f.eng.Ingest(ctx, IngestRequest{DocumentID: "doc-1", Text: lateFilingText})
		require.NoError(t, err)
		res, err := f.eng.Ingest(ctx, IngestRequest{DocumentID: "doc-1", Text: "Article 9 requires annual audit reports."})
		require.NoError(t, err)
		assert.Equal(t, 1, res.SegmentsCreated)

		stats, err := f.eng.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Documents)
		assert.Equal(t, 1, stats.Segments)

		hits, err := f.eng.Search(ctx, "annual audit reports", 5)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Contains(t, hits[0].Text, "Article 9")
	})
}

func TestFailedReingestKeepsIndex(t *testing.T) {
	backends(t, func(t *testing.T, backend string) {
		f := newFixture(t, backend)
		bg := context.Background()

		_, err := f.eng.Ingest(bg, IngestRequest{DocumentID: "doc-1", Filename: "rules.txt", Text: lateFilingText})
		require.NoError(t, err)
		before, err := f.eng.Search(bg, "price fixing supplier", 5)
		require.NoError(t, err)
		require.NotEmpty(t, before)
		statsBefore, err := f.eng.Stats(bg)
		require.NoError(t, err)

		// Cancelling once the vectors are back fails the segment write.
		ctx, cancel := context.WithCancel(bg)
		f.embed.AfterEmbed = cancel
		_, err = f.eng.Ingest(ctx, IngestRequest{DocumentID: "doc-1", Filename: "rules.txt", Text: "Article 9 requires annual audit reports."})
		f.embed.AfterEmbed = nil
		require.ErrorIs(t, err, context.Canceled)

		doc, err := f.eng.GetDocument(bg, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, store.StatusFailed, doc.Status)

		after, err := f.eng.Search(bg, "price fixing supplier", 5)
		require.NoError(t, err)
		assert.Equal(t, before, after)
		statsAfter, err := f.eng.Stats(bg)
		require.NoError(t, err)
		assert.Equal(t, statsBefore.Segments, statsAfter.Segments)
		assert.Equal(t, statsBefore.Embeddings, statsAfter.Embeddings)

		require.NoError(t, f.eng.Close())
		f.open(t, backend)
		reopened, err := f.eng.Search(bg, "price fixing supplier", 5)
		require.NoError(t, err)
		assert.Equal(t, before, reopened)
	})
}

func TestIngestErrors(t *testing.T) {
	f := newFixture(t, IndexFlat)
	ctx := context.Background()

	_, err := f.eng.Ingest(ctx, IngestRequest{DocumentID: "blank", Text: " \n\n \t"})
	assert.ErrorIs(t, err, ErrEmptyText)

	f.embed.FailOn = map[string]error{"Bribes are paid to inspectors.": errors.New("service down")}
	_, err = f.eng.Ingest(ctx, IngestRequest{DocumentID: "bad", Text: "Bribes are paid to inspectors."})
	require.ErrorIs(t, err, ErrEmbeddingService)

	doc, err := f.eng.GetDocument(ctx, "bad")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, doc.Status)
	assert.Contains(t, doc.Error, "service down")

	hits, err := f.eng.Search(ctx, "bribes inspectors", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIngestFile(t *testing.T) {
	f := newFixture(t, IndexFlat)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "Rules.TXT")
	require.NoError(t, os.WriteFile(path, []byte(lateFilingText), 0o644))

	first, err := f.eng.IngestFile(ctx, path)
	require.NoError(t, err)
	second, err := f.eng.IngestFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, first.DocumentID, second.DocumentID, "same path keeps its id")

	docs, err := f.eng.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Rules.TXT", docs[0].Filename)
	assert.Equal(t, "txt", docs[0].FileType)

	custom, err := f.eng.IngestFile(ctx, path, WithDocumentID("custom"), WithFilename("renamed.txt"))
	require.NoError(t, err)
	assert.Equal(t, "custom", custom.DocumentID)

	bad := filepath.Join(t.TempDir(), "contract.docx")
	require.NoError(t, os.WriteFile(bad, []byte("x"), 0o644))
	_, err = f.eng.IngestFile(ctx, bad)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestIngestBatch(t *testing.T) {
	f := newFixture(t, IndexFlat)
	results, err := f.eng.IngestBatch(context.Background(), []IngestRequest{
		{DocumentID: "a", Text: "Article 1 defines the supplier."},
		{DocumentID: "b", Text: ""},
		{DocumentID: "c", Text: "Article 2 requires a licence."},
	})
	require.ErrorIs(t, err, ErrEmptyText)
	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].DocumentID)
	assert.Nil(t, results[1])
	assert.Equal(t, "c", results[2].DocumentID)
}

func TestRebuildGraphPersists(t *testing.T) {
	f := newFixture(t, IndexFlat)
	ctx := context.Background()

	_, err := f.eng.Ingest(ctx, IngestRequest{DocumentID: "doc-a", Text: lateFilingText})
	require.NoError(t, err)

	stats, err := f.eng.RebuildGraph(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DocumentsProcessed)
	assert.Positive(t, stats.Nodes)

	res, err := f.eng.QueryGraph(ctx, "article 5")
	require.NoError(t, err)
	require.Len(t, res.Matched, 1)
	assert.Equal(t, graph.TypeArticle, res.Matched[0].Type)
	assert.Equal(t, "doc-a", res.Matched[0].SourceDocumentID)

	before := f.eng.GraphStats(ctx)
	require.NoError(t, f.eng.Close())
	f.open(t, IndexFlat)

	after := f.eng.GraphStats(ctx)
	assert.Equal(t, before.Nodes, after.Nodes)
	assert.Equal(t, before.Edges, after.Edges)

	hits, err := f.eng.Search(ctx, "price fixing supplier", 3)
	require.NoError(t, err)
	require.NotEmpty(t, hits, "flat index is warmed from the database")
	assert.Equal(t, "doc-a", hits[0].DocumentID)

	_, err = f.eng.RebuildGraph(ctx, "missing")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "missing", nf.ID)
}

func TestConcurrentRebuildsPersistLiveGraph(t *testing.T) {
	f := newFixture(t, IndexFlat)
	ctx := context.Background()
	_, err := f.eng.Ingest(ctx, IngestRequest{DocumentID: "doc-a", Text: lateFilingText})
	require.NoError(t, err)
	_, err = f.eng.Ingest(ctx, IngestRequest{DocumentID: "doc-b", Text: "Article 12 requires the operator to keep records."})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		ids := []string{"doc-a"}
		if i%2 == 1 {
			ids = nil
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.eng.RebuildGraph(ctx, ids...)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	live := f.eng.GraphStats(ctx)
	require.NoError(t, f.eng.Close())
	f.open(t, IndexFlat)
	persisted := f.eng.GraphStats(ctx)
	assert.Equal(t, live.Nodes, persisted.Nodes)
	assert.Equal(t, live.Edges, persisted.Edges)
	assert.Equal(t, live.Documents, persisted.Documents)
}

func TestAsk(t *testing.T) {
	f := newFixture(t, IndexFlat)
	ctx := context.Background()

	ans, err := f.eng.Ask(ctx, "What is the fine for late filing?", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, rag.NoResultsAnswer, ans.Text)
	assert.Zero(t, ans.Confidence)

	_, err = f.eng.Ingest(ctx, IngestRequest{DocumentID: "doc-a", Filename: "rules.txt", Text: lateFilingText})
	require.NoError(t, err)

	conv := &rag.Conversation{}
	ans, err = f.eng.Ask(ctx, "What is the fine for late filing?", 3, conv)
	require.NoError(t, err)
	assert.Equal(t, "Article 5 imposes a fine for late filing.", ans.Text)
	require.NotEmpty(t, ans.Sources)
	assert.Equal(t, "rules.txt", ans.Sources[0].DocumentName)
	assert.Len(t, conv.Exchanges(), 1)

	stats, err := f.eng.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Queries)
}

func TestAskGenerationFailure(t *testing.T) {
	f := newFixture(t, IndexFlat)
	ctx := context.Background()
	_, err := f.eng.Ingest(ctx, IngestRequest{DocumentID: "doc-a", Text: lateFilingText})
	require.NoError(t, err)

	f.chat.Err = errors.New("model unavailable")
	_, err = f.eng.Ask(ctx, "late filing fine", 3, nil)
	assert.ErrorIs(t, err, ErrAnswerGeneration)

	require.NoError(t, f.eng.Close())
	f.open(t, IndexFlat, func(c *Config) { c.RAG.SourcesOnlyOnFailure = true })
	ans, err := f.eng.Ask(ctx, "late filing fine", 3, nil)
	require.NoError(t, err)
	assert.True(t, ans.Degraded)
	assert.Empty(t, ans.Text)
	assert.NotEmpty(t, ans.Sources)
	assert.Positive(t, ans.Confidence)
}

func TestComplianceHistory(t *testing.T) {
	f := newFixture(t, IndexFlat)
	ctx := context.Background()
	_, err := f.eng.Ingest(ctx, IngestRequest{DocumentID: "doc-a", Filename: "rules.txt", Text: lateFilingText})
	require.NoError(t, err)

	first, err := f.eng.AnalyzeCompliance(ctx, compliance.Request{
		Description:  "We agree with our competitors to fix prices for every supplier.",
		BusinessType: "wholesale",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.False(t, first.CreatedAt.IsZero())

	second, err := f.eng.AnalyzeCompliance(ctx, compliance.Request{Description: "We bake bread."})
	require.NoError(t, err)

	history, err := f.eng.ComplianceHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)

	all, err := f.eng.CompareAnalyses(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, all.TotalAnalyses)

	one, err := f.eng.CompareAnalyses(ctx, []string{second.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, one.TotalAnalyses)
	require.Len(t, one.Trend, 1)
	assert.Equal(t, second.ID, one.Trend[0].ID)

	_, err = f.eng.CompareAnalyses(ctx, []string{first.ID, "nope"})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nope", nf.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.eng.AnalyzeCompliance(ctx, compliance.Request{})
	assert.ErrorIs(t, err, compliance.ErrEmptyRequest)
}

func TestDeleteDocument(t *testing.T) {
	backends(t, func(t *testing.T, backend string) {
		f := newFixture(t, backend)
		ctx := context.Background()
		_, err := f.eng.Ingest(ctx, IngestRequest{DocumentID: "doc-a", Text: lateFilingText})
		require.NoError(t, err)

		require.NoError(t, f.eng.DeleteDocument(ctx, "doc-a"))

		_, err = f.eng.GetDocument(ctx, "doc-a")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, f.eng.DeleteDocument(ctx, "doc-a"), ErrNotFound)

		hits, err := f.eng.Search(ctx, "price fixing supplier", 5)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}
