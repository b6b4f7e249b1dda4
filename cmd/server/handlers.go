package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/brunobiangulo/lexgraph"
	"github.com/brunobiangulo/lexgraph/compliance"
	"github.com/brunobiangulo/lexgraph/graph"
	"github.com/brunobiangulo/lexgraph/rag"
	"github.com/brunobiangulo/lexgraph/session"
)

const (
	maxUploadBytes = 100 << 20
	maxTopK        = 100
	maxBatch       = 50
)

type handler struct {
	engine   lexgraph.Engine
	sessions session.Store
	// locks holds a session from load to save across one ask.
	locks *session.Locks
}

func newHandler(e lexgraph.Engine, s session.Store) *handler {
	return &handler{engine: e, sessions: s, locks: session.NewLocks()}
}

func (h *handler) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ingest", h.handleIngest)
	mux.HandleFunc("GET /documents", h.handleListDocuments)
	mux.HandleFunc("GET /documents/{id}", h.handleGetDocument)
	mux.HandleFunc("DELETE /documents/{id}", h.handleDeleteDocument)
	mux.HandleFunc("POST /search", h.handleSearch)
	mux.HandleFunc("POST /graph/rebuild", h.handleRebuildGraph)
	mux.HandleFunc("GET /graph", h.handleQueryGraph)
	mux.HandleFunc("GET /graph/stats", h.handleGraphStats)
	mux.HandleFunc("POST /ask", h.handleAsk)
	mux.HandleFunc("POST /ask/batch", h.handleAskBatch)
	mux.HandleFunc("POST /suggest", h.handleSuggest)
	mux.HandleFunc("POST /compliance/analyze", h.handleAnalyze)
	mux.HandleFunc("GET /compliance/history", h.handleHistory)
	mux.HandleFunc("POST /compliance/compare", h.handleCompare)
	mux.HandleFunc("GET /health", h.handleHealth)
	return mux
}

// POST /ingest
// Accepts a multipart file upload or JSON with the document text.
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	if err := r.ParseMultipartForm(maxUploadBytes); err == nil {
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "multipart request needs a 'file' field")
			return
		}
		defer file.Close()

		// Sanitise filename to prevent path traversal.
		safeName := filepath.Base(header.Filename)

		tmpDir, err := os.MkdirTemp("", "lexgraph-upload-")
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to process file")
			slog.Error("creating temp dir", "error", err)
			return
		}
		defer os.RemoveAll(tmpDir)

		tmpPath := filepath.Join(tmpDir, safeName)
		dst, err := os.Create(tmpPath)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to process file")
			slog.Error("creating temp file", "error", err)
			return
		}
		if _, err := io.Copy(dst, file); err != nil {
			dst.Close()
			writeError(w, http.StatusInternalServerError, "failed to save file")
			slog.Error("saving uploaded file", "error", err)
			return
		}
		dst.Close()

		opts := []lexgraph.IngestOption{lexgraph.WithFilename(safeName)}
		if id := r.FormValue("document_id"); id != "" {
			opts = append(opts, lexgraph.WithDocumentID(id))
		}
		res, err := h.engine.IngestFile(ctx, tmpPath, opts...)
		if err != nil {
			writeEngineError(w, "ingestion failed", err)
			slog.Error("ingest error", "file", safeName, "error", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	var req lexgraph.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: expected multipart file or JSON with 'text'")
		return
	}
	req.Filename = filepath.Base(req.Filename)
	if req.Filename == "." {
		req.Filename = ""
	}

	res, err := h.engine.Ingest(ctx, req)
	if err != nil {
		writeEngineError(w, "ingestion failed", err)
		slog.Error("ingest error", "document_id", req.DocumentID, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /documents
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.ListDocuments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		slog.Error("list documents error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
	})
}

// GET /documents/{id}
func (h *handler) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.engine.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, "failed to get document", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// DELETE /documents/{id}
func (h *handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.DeleteDocument(r.Context(), id); err != nil {
		writeEngineError(w, "delete failed", err)
		if !errors.Is(err, lexgraph.ErrNotFound) {
			slog.Error("delete error", "document_id", id, "error", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// POST /search
func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k,omitempty"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	hits, err := h.engine.Search(r.Context(), req.Query, boundTopK(req.TopK))
	if err != nil {
		writeEngineError(w, "search failed", err)
		slog.Error("search error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":   req.Query,
		"results": hits,
	})
}

// POST /graph/rebuild
func (h *handler) handleRebuildGraph(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	var req struct {
		DocumentIDs []string `json:"document_ids,omitempty"`
	}
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}

	stats, err := h.engine.RebuildGraph(ctx, req.DocumentIDs...)
	if err != nil {
		writeEngineError(w, "graph rebuild failed", err)
		slog.Error("graph rebuild error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GET /graph?entity=&relation=&type=
func (h *handler) handleQueryGraph(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entity := q.Get("entity")
	if entity == "" {
		writeError(w, http.StatusBadRequest, "entity is required")
		return
	}

	var opts []graph.QueryOption
	if rel := q.Get("relation"); rel != "" {
		opts = append(opts, graph.WithRelation(rel))
	}
	if t := q.Get("type"); t != "" {
		nt, ok := graph.ParseNodeType(t)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown node type")
			return
		}
		opts = append(opts, graph.WithNodeType(nt))
	}

	res, err := h.engine.QueryGraph(r.Context(), entity, opts...)
	if err != nil {
		writeEngineError(w, "graph query failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /graph/stats
func (h *handler) handleGraphStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.GraphStats(r.Context()))
}

// POST /ask
// A degraded answer, or a generation failure, is reported with 502 and the
// retrieved sources.
func (h *handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req struct {
		Question  string `json:"question"`
		TopK      int    `json:"top_k,omitempty"`
		SessionID string `json:"session_id,omitempty"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	var conv *rag.Conversation
	if req.SessionID != "" {
		unlock := h.locks.Lock(req.SessionID)
		defer unlock()
		c, ok, err := h.sessions.Load(ctx, req.SessionID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load session")
			slog.Error("session load error", "session_id", req.SessionID, "error", err)
			return
		}
		if !ok {
			c = rag.NewConversation()
		}
		conv = c
	}

	ans, err := h.engine.Ask(ctx, req.Question, boundTopK(req.TopK), conv)
	if err != nil {
		var genErr *rag.GenerationError
		if errors.As(err, &genErr) {
			writeJSON(w, http.StatusBadGateway, map[string]interface{}{
				"error":   "answer generation failed",
				"sources": genErr.Sources,
			})
			slog.Error("ask error", "error", err)
			return
		}
		writeEngineError(w, "ask failed", err)
		slog.Error("ask error", "error", err)
		return
	}

	if conv != nil {
		if err := h.sessions.Save(ctx, req.SessionID, conv); err != nil {
			slog.Warn("session save error", "session_id", req.SessionID, "error", err)
		}
	}

	status := http.StatusOK
	if ans.Degraded {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]interface{}{
		"session_id": req.SessionID,
		"answer":     ans,
	})
}

// POST /ask/batch
func (h *handler) handleAskBatch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	var req struct {
		Questions []string `json:"questions"`
		TopK      int      `json:"top_k,omitempty"`
	}
	if !decode(w, r, &req) {
		return
	}
	if len(req.Questions) == 0 || len(req.Questions) > maxBatch {
		writeError(w, http.StatusBadRequest, "questions must hold 1 to "+strconv.Itoa(maxBatch)+" entries")
		return
	}

	items := h.engine.AskBatch(ctx, req.Questions, boundTopK(req.TopK))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": items,
	})
}

// POST /suggest
func (h *handler) handleSuggest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req struct {
		Question string `json:"question"`
		N        int    `json:"n,omitempty"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	if req.N <= 0 || req.N > 10 {
		req.N = 3
	}

	qs, err := h.engine.SuggestQuestions(ctx, req.Question, req.N)
	if err != nil {
		writeEngineError(w, "suggestion failed", err)
		slog.Error("suggest error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"questions": qs,
	})
}

// POST /compliance/analyze
func (h *handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req compliance.Request
	if !decode(w, r, &req) {
		return
	}

	res, err := h.engine.AnalyzeCompliance(r.Context(), req)
	if err != nil {
		writeEngineError(w, "analysis failed", err)
		if !errors.Is(err, compliance.ErrEmptyRequest) {
			slog.Error("analyze error", "error", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /compliance/history?limit=
func (h *handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	analyses, err := h.engine.ComplianceHistory(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load history")
		slog.Error("history error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"analyses": analyses,
	})
}

// POST /compliance/compare
func (h *handler) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AnalysisIDs []string `json:"analysis_ids"`
	}
	if !decode(w, r, &req) {
		return
	}

	cmp, err := h.engine.CompareAnalyses(r.Context(), req.AnalysisIDs)
	if err != nil {
		writeEngineError(w, "comparison failed", err)
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
		})
		slog.Error("health check error", "error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"stats":  stats,
	})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func boundTopK(k int) int {
	if k < 0 || k > maxTopK {
		return 0 // use default
	}
	return k
}

// statusOf maps engine errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, lexgraph.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lexgraph.ErrEmptyText),
		errors.Is(err, lexgraph.ErrUnsupportedFormat),
		errors.Is(err, compliance.ErrEmptyRequest):
		return http.StatusBadRequest
	case errors.Is(err, lexgraph.ErrEmbeddingService),
		errors.Is(err, lexgraph.ErrAnswerGeneration):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeEngineError reports err with its mapped status. Client errors carry
// the error text; server errors carry msg only.
func writeEngineError(w http.ResponseWriter, msg string, err error) {
	status := statusOf(err)
	if status < http.StatusInternalServerError {
		msg = err.Error()
	}
	writeError(w, status, msg)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
