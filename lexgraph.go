// Package lexgraph ingests regulatory documents into a vector index and a
// knowledge graph, answers questions over them and screens business
// scenarios for compliance risk.
package lexgraph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/lexgraph/compliance"
	"github.com/brunobiangulo/lexgraph/embedding"
	"github.com/brunobiangulo/lexgraph/graph"
	"github.com/brunobiangulo/lexgraph/llm"
	"github.com/brunobiangulo/lexgraph/parser"
	"github.com/brunobiangulo/lexgraph/rag"
	"github.com/brunobiangulo/lexgraph/retrieval"
	"github.com/brunobiangulo/lexgraph/segmenter"
	"github.com/brunobiangulo/lexgraph/store"
	"github.com/brunobiangulo/lexgraph/vector"
)

// Engine is the main entry point of lexgraph.
type Engine interface {
	// Ingest segments and embeds a document's text. Re-ingesting an id
	// replaces its segments. An embedding failure marks the document
	// failed and leaves the index untouched.
	Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error)

	// IngestFile parses a pdf, html or txt file and ingests its text.
	IngestFile(ctx context.Context, path string, opts ...IngestOption) (*IngestResult, error)

	// IngestBatch ingests documents concurrently. Results are in input
	// order; a failed document has a nil result and contributes to the
	// joined error.
	IngestBatch(ctx context.Context, reqs []IngestRequest) ([]*IngestResult, error)

	// Search returns the segments most similar to query.
	Search(ctx context.Context, query string, topK int) ([]SearchResult, error)

	// RebuildGraph regenerates the knowledge graph from the given documents,
	// or from every processed document when none are given.
	RebuildGraph(ctx context.Context, documentIDs ...string) (*graph.BuildStats, error)

	// QueryGraph returns the 1-hop neighbourhood of entities matching entity.
	QueryGraph(ctx context.Context, entity string, opts ...graph.QueryOption) (*graph.QueryResult, error)

	// GraphStats describes the current graph.
	GraphStats(ctx context.Context) graph.Stats

	// Ask answers a question. conv may be nil.
	Ask(ctx context.Context, question string, topK int, conv *rag.Conversation) (*rag.Answer, error)

	// AskBatch answers questions one after another.
	AskBatch(ctx context.Context, questions []string, topK int) []rag.BatchItem

	// SuggestQuestions proposes up to n related questions.
	SuggestQuestions(ctx context.Context, question string, n int) ([]string, error)

	// AnalyzeCompliance scores a business scenario and records the result.
	AnalyzeCompliance(ctx context.Context, req compliance.Request) (*compliance.Result, error)

	// ComplianceHistory lists recorded analyses, newest first.
	ComplianceHistory(ctx context.Context, limit int) ([]store.Analysis, error)

	// CompareAnalyses summarises recorded analyses. No ids means all of them.
	CompareAnalyses(ctx context.Context, ids []string) (*compliance.Comparison, error)

	ListDocuments(ctx context.Context) ([]store.Document, error)
	GetDocument(ctx context.Context, id string) (*store.Document, error)
	DeleteDocument(ctx context.Context, id string) error

	// Stats reports row counts of the database.
	Stats(ctx context.Context) (*store.DBStats, error)

	// Close cleanly shuts down the engine.
	Close() error
}

// IngestRequest is one document to ingest. Empty DocumentID gets a new
// UUID; empty FileType is detected from Filename.
type IngestRequest struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	FileType   string `json:"file_type"`
	Text       string `json:"text"`
}

// IngestResult reports the outcome of an ingest.
type IngestResult struct {
	DocumentID      string                 `json:"document_id"`
	SegmentsCreated int                    `json:"segments_created"`
	Status          string                 `json:"status"`
	Metadata        store.DocumentMetadata `json:"metadata"`
}

// SearchResult is one segment returned by Search.
type SearchResult struct {
	SegmentID    string  `json:"segment_id"`
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	Ordinal      int     `json:"ordinal"`
	Text         string  `json:"text"`
	Similarity   float64 `json:"similarity"`
}

// IngestOption configures IngestFile.
type IngestOption func(*ingestOptions)

type ingestOptions struct {
	documentID string
	filename   string
}

// WithDocumentID sets the document id instead of deriving it from the path.
func WithDocumentID(id string) IngestOption {
	return func(o *ingestOptions) { o.documentID = id }
}

// WithFilename sets the recorded filename instead of the path's base name.
func WithFilename(name string) IngestOption {
	return func(o *ingestOptions) { o.filename = name }
}

// Option configures New.
type Option func(*options)

type options struct {
	chat      llm.Provider
	embed     llm.Provider
	extractor graph.Extractor
}

// WithChatProvider uses p instead of building one from Config.Chat.
func WithChatProvider(p llm.Provider) Option {
	return func(o *options) { o.chat = p }
}

// WithEmbeddingProvider uses p instead of building one from Config.Embedding.
func WithEmbeddingProvider(p llm.Provider) Option {
	return func(o *options) { o.embed = p }
}

// WithExtractor uses ex for graph rebuilds instead of Config.GraphExtractor.
func WithExtractor(ex graph.Extractor) Option {
	return func(o *options) { o.extractor = ex }
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg       Config
	store     *store.Store
	parsers   *parser.Registry
	segmenter *segmenter.Segmenter
	gateway   *embedding.Gateway
	index     vector.Index
	retriever *retrieval.Retriever
	graph     *graph.Store
	answerer  *rag.Answerer
	analyzer  *compliance.Analyzer

	// writeMu serialises index and segment writes.
	writeMu sync.Mutex
	// graphMu keeps the persisted graph in step with the live one.
	graphMu sync.Mutex
}

// New opens the database, warms the index and graph from it and wires the
// pipeline.
func New(cfg Config, opts ...Option) (Engine, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	cfg = withDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	chat, embed := o.chat, o.embed
	var err error
	if chat == nil {
		if chat, err = llm.NewProvider(cfg.Chat); err != nil {
			return nil, fmt.Errorf("%w: creating chat provider: %v", ErrInvalidConfig, err)
		}
	}
	if embed == nil {
		if embed, err = llm.NewProvider(cfg.Embedding); err != nil {
			return nil, fmt.Errorf("%w: creating embedding provider: %v", ErrInvalidConfig, err)
		}
	}

	s, err := store.New(cfg.resolveDBPath(), cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	ctx := context.Background()
	var idx vector.Index
	switch cfg.IndexBackend {
	case IndexSQLiteVec:
		idx = s.VecIndex()
	default:
		flat := vector.NewFlat(cfg.EmbeddingDim)
		items, err := s.AllVectors(ctx)
		if err == nil {
			err = flat.AddBatch(ctx, items)
		}
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("loading vectors: %w", err)
		}
		idx = flat
	}

	ex := o.extractor
	if ex == nil {
		patterns := graph.NewPatternExtractor()
		ex = patterns
		if cfg.GraphExtractor == ExtractorLLM {
			ex = graph.NewLLMExtractor(chat, patterns)
		}
	}
	g := graph.NewStore(ex, graph.WithConcurrency(cfg.GraphConcurrency))
	nodes, edges, docs, err := s.LoadGraph(ctx)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("loading graph: %w", err)
	}
	g.Load(nodes, edges, docs)

	gw := embedding.New(embed, cfg.EmbeddingDim, cfg.EmbeddingBatch)
	r := retrieval.New(gw, idx, cfg.Retrieval)

	slog.Info("lexgraph: engine ready",
		"index", cfg.IndexBackend, "segments", idx.Len(), "graph_nodes", len(nodes),
		"extractor", cfg.GraphExtractor, "dim", cfg.EmbeddingDim)

	return &engine{
		cfg:       cfg,
		store:     s,
		parsers:   parser.NewRegistry(),
		segmenter: segmenter.New(cfg.Segmenter),
		gateway:   gw,
		index:     idx,
		retriever: r,
		graph:     g,
		answerer:  rag.New(r, g, chat, cfg.RAG),
		analyzer:  compliance.New(r, cfg.Compliance),
	}, nil
}

// withDefaults fills zero fields from DefaultConfig.
func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = def.EmbeddingDim
	}
	if cfg.IndexBackend == "" {
		cfg.IndexBackend = def.IndexBackend
	}
	if cfg.GraphExtractor == "" {
		cfg.GraphExtractor = def.GraphExtractor
	}
	if cfg.IngestConcurrency <= 0 {
		cfg.IngestConcurrency = def.IngestConcurrency
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = def.DefaultTopK
	}
	if cfg.Compliance == (compliance.Config{}) {
		cfg.Compliance = def.Compliance
	}
	return cfg
}

func (e *engine) topK(k int) int {
	if k <= 0 {
		return e.cfg.DefaultTopK
	}
	return k
}

// Ingest segments, embeds and indexes one document.
func (e *engine) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if req.DocumentID == "" {
		req.DocumentID = uuid.NewString()
	}
	if req.Filename == "" {
		req.Filename = req.DocumentID
	}
	if req.FileType == "" {
		req.FileType = parser.DetectFormat(req.Filename)
	}
	start := time.Now()

	pieces := e.segmenter.Split(req.Text)
	if len(pieces) == 0 {
		return nil, fmt.Errorf("%w: document %q", ErrEmptyText, req.DocumentID)
	}
	stats := segmenter.Count(req.Text)
	meta := store.DocumentMetadata{WordCount: stats.WordCount, ParagraphCount: stats.ParagraphCount}
	sum := sha256.Sum256([]byte(req.Text))

	if err := e.store.UpsertDocument(ctx, store.Document{
		ID:          req.DocumentID,
		Filename:    req.Filename,
		FileType:    req.FileType,
		ContentHash: hex.EncodeToString(sum[:]),
		Status:      store.StatusProcessing,
		Metadata:    meta,
	}); err != nil {
		return nil, fmt.Errorf("recording document: %w", err)
	}

	slog.Info("ingest: embedding segments", "doc_id", req.DocumentID, "file", req.Filename, "segments", len(pieces))
	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Text
	}
	vecs, err := e.gateway.EmbedBatch(ctx, texts)
	if err != nil {
		e.markFailed(ctx, req.DocumentID, err)
		return nil, fmt.Errorf("ingesting %q: %w", req.DocumentID, err)
	}

	segs := make([]store.Segment, len(pieces))
	items := make([]vector.Item, len(pieces))
	for i, p := range pieces {
		id := uuid.NewString()
		segs[i] = store.Segment{ID: id, DocumentID: req.DocumentID, Ordinal: p.Ordinal, Text: p.Text, Vector: vecs[i]}
		items[i] = vector.Item{
			SegmentID: id,
			Vector:    vecs[i],
			Metadata: vector.Metadata{
				DocumentID:   req.DocumentID,
				DocumentName: req.Filename,
				Ordinal:      p.Ordinal,
				Text:         p.Text,
			},
		}
	}

	if err := e.replaceSegments(ctx, req.DocumentID, segs, items); err != nil {
		e.markFailed(ctx, req.DocumentID, err)
		return nil, fmt.Errorf("ingesting %q: %w", req.DocumentID, err)
	}
	if err := e.store.UpdateDocumentStatus(ctx, req.DocumentID, store.StatusProcessed, ""); err != nil {
		return nil, fmt.Errorf("updating status: %w", err)
	}

	slog.Info("ingest: document ready",
		"doc_id", req.DocumentID, "segments", len(segs), "words", meta.WordCount,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return &IngestResult{
		DocumentID:      req.DocumentID,
		SegmentsCreated: len(segs),
		Status:          store.StatusProcessed,
		Metadata:        meta,
	}, nil
}

// documentIndex is implemented by indexes stored next to the segments,
// which replace a document's segments and vectors in one transaction.
type documentIndex interface {
	ReplaceDocument(ctx context.Context, documentID string, segs []store.Segment) error
}

// replaceSegments swaps a document's segments in the database and the
// index. A failed database write leaves both unchanged; an in-memory index
// is only updated once the write has committed.
func (e *engine) replaceSegments(ctx context.Context, docID string, segs []store.Segment, items []vector.Item) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if di, ok := e.index.(documentIndex); ok {
		if err := di.ReplaceDocument(ctx, docID, segs); err != nil {
			return fmt.Errorf("storing segments: %w", err)
		}
		return nil
	}

	if err := e.store.ReplaceSegments(ctx, docID, segs); err != nil {
		return fmt.Errorf("storing segments: %w", err)
	}
	// The database is committed, so the index must follow it.
	ictx := context.WithoutCancel(ctx)
	if _, err := e.index.Remove(ictx, docID); err != nil {
		return fmt.Errorf("removing old vectors: %w", err)
	}
	if err := e.index.AddBatch(ictx, items); err != nil {
		return fmt.Errorf("indexing segments: %w", err)
	}
	return nil
}

func (e *engine) markFailed(ctx context.Context, docID string, cause error) {
	slog.Warn("ingest: document failed", "doc_id", docID, "error", cause)
	if err := e.store.UpdateDocumentStatus(context.WithoutCancel(ctx), docID, store.StatusFailed, cause.Error()); err != nil {
		slog.Error("ingest: marking document failed", "doc_id", docID, "error", err)
	}
}

// IngestFile parses path and ingests its text. The default document id is
// derived from the absolute path, so ingesting the same file again replaces
// it.
func (e *engine) IngestFile(ctx context.Context, path string, opts ...IngestOption) (*IngestResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	o := &ingestOptions{filename: filepath.Base(abs)}
	for _, opt := range opts {
		opt(o)
	}
	if o.documentID == "" {
		o.documentID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+abs)).String()
	}

	parseStart := time.Now()
	parsed, format, err := e.parsers.ParseFile(ctx, abs)
	if err != nil {
		return nil, err
	}
	slog.Info("ingest: parsing complete",
		"file", o.filename, "format", format, "sections", len(parsed.Sections),
		"elapsed", time.Since(parseStart).Round(time.Millisecond))

	return e.Ingest(ctx, IngestRequest{
		DocumentID: o.documentID,
		Filename:   o.filename,
		FileType:   format,
		Text:       parsed.Text(),
	})
}

// IngestBatch ingests reqs with at most Config.IngestConcurrency in flight.
func (e *engine) IngestBatch(ctx context.Context, reqs []IngestRequest) ([]*IngestResult, error) {
	results := make([]*IngestResult, len(reqs))
	errs := make([]error, len(reqs))

	var g errgroup.Group
	g.SetLimit(e.cfg.IngestConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			results[i], errs[i] = e.Ingest(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

// Search embeds query and returns the nearest segments.
func (e *engine) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	hits, _, err := e.retriever.Retrieve(ctx, query, e.topK(topK))
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, len(hits))
	for i, h := range hits {
		out[i] = SearchResult{
			SegmentID:    h.SegmentID,
			DocumentID:   h.Metadata.DocumentID,
			DocumentName: h.Metadata.DocumentName,
			Ordinal:      h.Metadata.Ordinal,
			Text:         h.Metadata.Text,
			Similarity:   h.Score,
		}
	}
	return out, nil
}

// RebuildGraph regenerates and persists the knowledge graph.
func (e *engine) RebuildGraph(ctx context.Context, documentIDs ...string) (*graph.BuildStats, error) {
	var docs []store.Document
	if len(documentIDs) == 0 {
		all, err := e.store.ListDocuments(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing documents: %w", err)
		}
		for _, d := range all {
			if d.Status == store.StatusProcessed {
				docs = append(docs, d)
			}
		}
	} else {
		for _, id := range documentIDs {
			d, err := e.GetDocument(ctx, id)
			if err != nil {
				return nil, err
			}
			docs = append(docs, *d)
		}
	}

	input := make([]graph.Document, 0, len(docs))
	for _, d := range docs {
		segs, err := e.store.SegmentsByDocument(ctx, d.ID)
		if err != nil {
			return nil, fmt.Errorf("loading segments of %q: %w", d.ID, err)
		}
		texts := make([]string, len(segs))
		for i, s := range segs {
			texts[i] = s.Text
		}
		input = append(input, graph.Document{ID: d.ID, Segments: texts})
	}

	e.graphMu.Lock()
	defer e.graphMu.Unlock()
	stats, err := e.graph.Rebuild(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("rebuilding graph: %w", err)
	}
	nodes, edges := e.graph.Snapshot()
	if err := e.store.ReplaceGraph(ctx, nodes, edges, stats.DocumentsProcessed); err != nil {
		return nil, fmt.Errorf("persisting graph: %w", err)
	}
	return &stats, nil
}

func (e *engine) QueryGraph(ctx context.Context, entity string, opts ...graph.QueryOption) (*graph.QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := e.graph.QueryByEntity(ctx, entity, opts...)
	return &res, nil
}

func (e *engine) GraphStats(ctx context.Context) graph.Stats {
	return e.graph.Stats()
}

// Ask answers question and records it in the query log.
func (e *engine) Ask(ctx context.Context, question string, topK int, conv *rag.Conversation) (*rag.Answer, error) {
	ans, err := e.answerer.Answer(ctx, rag.Request{Question: question, TopK: e.topK(topK), Conversation: conv})
	if err != nil {
		return nil, err
	}
	if err := e.store.LogQuery(ctx, store.QueryLog{
		Query:            question,
		Answer:           ans.Text,
		Confidence:       ans.Confidence,
		Sources:          ans.Sources,
		ModelUsed:        ans.Model,
		PromptTokens:     ans.PromptTokens,
		CompletionTokens: ans.CompletionTokens,
		TotalTokens:      ans.TotalTokens,
		Degraded:         ans.Degraded,
	}); err != nil {
		slog.Warn("ask: logging query failed", "error", err)
	}
	return ans, nil
}

func (e *engine) AskBatch(ctx context.Context, questions []string, topK int) []rag.BatchItem {
	return e.answerer.AnswerBatch(ctx, questions, e.topK(topK))
}

func (e *engine) SuggestQuestions(ctx context.Context, question string, n int) ([]string, error) {
	return e.answerer.SuggestQuestions(ctx, question, n)
}

// AnalyzeCompliance runs the analyzer and stores the result under a new id.
func (e *engine) AnalyzeCompliance(ctx context.Context, req compliance.Request) (*compliance.Result, error) {
	res, err := e.analyzer.Analyze(ctx, req)
	if err != nil {
		return nil, err
	}
	res.ID = uuid.NewString()
	res.CreatedAt = time.Now().UTC()

	raw, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encoding analysis: %w", err)
	}
	if err := e.store.SaveAnalysis(ctx, store.Analysis{
		ID:           res.ID,
		Description:  req.Description,
		BusinessType: req.BusinessType,
		Status:       string(res.Status),
		Confidence:   res.Confidence,
		RiskLevel:    string(res.RiskLevel),
		Result:       raw,
		CreatedAt:    res.CreatedAt,
	}); err != nil {
		return nil, fmt.Errorf("saving analysis: %w", err)
	}
	return res, nil
}

func (e *engine) ComplianceHistory(ctx context.Context, limit int) ([]store.Analysis, error) {
	return e.store.ListAnalyses(ctx, limit)
}

// CompareAnalyses decodes the stored results and summarises them.
func (e *engine) CompareAnalyses(ctx context.Context, ids []string) (*compliance.Comparison, error) {
	var analyses []store.Analysis
	var err error
	if len(ids) == 0 {
		analyses, err = e.store.ListAnalyses(ctx, 0)
	} else {
		analyses, err = e.store.GetAnalyses(ctx, ids)
		if errors.Is(err, store.ErrNotFound) {
			return nil, e.missingAnalysis(ctx, ids)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("loading analyses: %w", err)
	}

	results := make([]compliance.Result, len(analyses))
	for i, a := range analyses {
		if err := json.Unmarshal(a.Result, &results[i]); err != nil {
			return nil, fmt.Errorf("decoding analysis %s: %w", a.ID, err)
		}
		results[i].ID, results[i].CreatedAt = a.ID, a.CreatedAt
	}
	return compliance.Compare(results), nil
}

// missingAnalysis names the first id in ids that has no stored analysis.
func (e *engine) missingAnalysis(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := e.store.GetAnalyses(ctx, []string{id}); errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{Op: "compare analyses", Kind: "analysis", ID: id}
		}
	}
	return &NotFoundError{Op: "compare analyses", Kind: "analysis", ID: strings.Join(ids, ",")}
}

func (e *engine) ListDocuments(ctx context.Context) ([]store.Document, error) {
	return e.store.ListDocuments(ctx)
}

func (e *engine) GetDocument(ctx context.Context, id string) (*store.Document, error) {
	d, err := e.store.GetDocument(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{Op: "get document", Kind: "document", ID: id}
	}
	return d, err
}

// DeleteDocument removes a document, its segments and its vectors. The
// graph keeps its entities until the next rebuild.
func (e *engine) DeleteDocument(ctx context.Context, id string) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if _, err := e.store.GetDocument(ctx, id); errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{Op: "delete document", Kind: "document", ID: id}
	} else if err != nil {
		return err
	}
	// The store drops sqlite-vec rows in the same transaction.
	if err := e.store.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if _, ok := e.index.(documentIndex); !ok {
		removed, err := e.index.Remove(context.WithoutCancel(ctx), id)
		if err != nil {
			return fmt.Errorf("removing vectors: %w", err)
		}
		slog.Info("lexgraph: document deleted", "doc_id", id, "vectors", removed)
		return nil
	}
	slog.Info("lexgraph: document deleted", "doc_id", id)
	return nil
}

func (e *engine) Stats(ctx context.Context) (*store.DBStats, error) {
	return e.store.DBStats(ctx)
}

// Close shuts down the engine.
func (e *engine) Close() error {
	return e.store.Close()
}
