//go:build cgo

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/lexgraph"
	"github.com/brunobiangulo/lexgraph/llm"
	"github.com/brunobiangulo/lexgraph/llm/llmtest"
	"github.com/brunobiangulo/lexgraph/session"
)

const rulesText = "Article 5 imposes a fine for late filing.\n\n" +
	"Article 7 prohibits price fixing by any supplier."

func newTestServer(t *testing.T, chat *llmtest.Chat, mutate ...func(*lexgraph.Config)) *httptest.Server {
	t.Helper()
	return newSessionServer(t, chat, session.NewMemoryStore(0), mutate...)
}

func newSessionServer(t *testing.T, chat *llmtest.Chat, sessions session.Store, mutate ...func(*lexgraph.Config)) *httptest.Server {
	t.Helper()
	cfg := lexgraph.DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "server.db")
	cfg.EmbeddingDim = 64
	for _, m := range mutate {
		m(&cfg)
	}
	eng, err := lexgraph.New(cfg,
		lexgraph.WithChatProvider(chat),
		lexgraph.WithEmbeddingProvider(llmtest.NewEmbedder(64)))
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	srv := httptest.NewServer(requestIDMiddleware(newHandler(eng, sessions).routes()))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func ingestRules(t *testing.T, srv *httptest.Server) {
	t.Helper()
	status, body := do(t, srv, http.MethodPost, "/ingest", map[string]string{
		"document_id": "rules", "filename": "rules.txt", "text": rulesText,
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 2, body["segments_created"])
}

func TestIngestJSONAndDocuments(t *testing.T) {
	srv := newTestServer(t, llmtest.NewChat("ok"))
	ingestRules(t, srv)

	status, body := do(t, srv, http.MethodGet, "/documents", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["documents"], 1)

	status, body = do(t, srv, http.MethodGet, "/documents/rules", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "processed", body["status"])

	status, _ = do(t, srv, http.MethodGet, "/documents/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = do(t, srv, http.MethodPost, "/ingest", map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"], "no text")

	status, _ = do(t, srv, http.MethodDelete, "/documents/rules", nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = do(t, srv, http.MethodDelete, "/documents/rules", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestIngestMultipart(t *testing.T) {
	srv := newTestServer(t, llmtest.NewChat("ok"))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("document_id", "upload-1"))
	fw, err := mw.CreateFormFile("file", "../../etc/rules.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte(rulesText))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := srv.Client().Post(srv.URL+"/ingest", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res lexgraph.IngestResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, "upload-1", res.DocumentID)
	assert.Equal(t, 2, res.SegmentsCreated)

	_, body := do(t, srv, http.MethodGet, "/documents/upload-1", nil)
	assert.Equal(t, "rules.txt", body["filename"])
}

func TestSearchAndGraph(t *testing.T) {
	srv := newTestServer(t, llmtest.NewChat("ok"))
	ingestRules(t, srv)

	status, body := do(t, srv, http.MethodPost, "/search", map[string]interface{}{"query": "price fixing supplier", "top_k": 2})
	require.Equal(t, http.StatusOK, status)
	results := body["results"].([]interface{})
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].(map[string]interface{})["text"], "price fixing")

	status, _ = do(t, srv, http.MethodPost, "/search", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = do(t, srv, http.MethodPost, "/graph/rebuild", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 1, body["documents_processed"])

	status, body = do(t, srv, http.MethodGet, "/graph?entity=article+5&type=article", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["matched"], 1)

	status, _ = do(t, srv, http.MethodGet, "/graph?entity=article&type=planet", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = do(t, srv, http.MethodGet, "/graph", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = do(t, srv, http.MethodGet, "/graph/stats", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Positive(t, body["nodes"])
}

func TestAskWithSession(t *testing.T) {
	chat := llmtest.NewChat("Article 5 imposes a fine.")
	srv := newTestServer(t, chat)
	ingestRules(t, srv)

	for range 2 {
		status, body := do(t, srv, http.MethodPost, "/ask", map[string]string{
			"question": "What is the fine for late filing?", "session_id": "s1",
		})
		require.Equal(t, http.StatusOK, status, body)
		ans := body["answer"].(map[string]interface{})
		assert.Equal(t, "Article 5 imposes a fine.", ans["answer"])
	}
	assert.Contains(t, chat.LastPrompt(), "Previous conversation:")

	status, body := do(t, srv, http.MethodPost, "/ask/batch", map[string]interface{}{
		"questions": []string{"late filing fine", "price fixing"},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["results"], 2)

	status, _ = do(t, srv, http.MethodPost, "/ask/batch", map[string]interface{}{"questions": []string{}})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestConcurrentAsksKeepEveryExchange(t *testing.T) {
	chat := llmtest.NewChat("")
	chat.ReplyFunc = func(llm.ChatRequest) string {
		time.Sleep(20 * time.Millisecond)
		return "Article 5 imposes a fine."
	}
	sessions := session.NewMemoryStore(0)
	srv := newSessionServer(t, chat, sessions)
	ingestRules(t, srv)

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body := strings.NewReader(`{"question": "What is the fine for late filing?", "session_id": "shared"}`)
			resp, err := srv.Client().Post(srv.URL+"/ask", "application/json", body)
			if !assert.NoError(t, err) {
				return
			}
			resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		}()
	}
	wg.Wait()

	conv, found, err := sessions.Load(context.Background(), "shared")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, conv.Len())
}

func TestAskGenerationFailure(t *testing.T) {
	chat := llmtest.NewChat("")
	chat.Err = errors.New("model offline")

	strict := newTestServer(t, chat)
	ingestRules(t, strict)
	status, body := do(t, strict, http.MethodPost, "/ask", map[string]string{"question": "late filing fine"})
	assert.Equal(t, http.StatusBadGateway, status)
	assert.NotEmpty(t, body["sources"])

	lenient := newTestServer(t, chat, func(c *lexgraph.Config) { c.RAG.SourcesOnlyOnFailure = true })
	ingestRules(t, lenient)
	status, body = do(t, lenient, http.MethodPost, "/ask", map[string]string{"question": "late filing fine"})
	assert.Equal(t, http.StatusBadGateway, status)
	ans := body["answer"].(map[string]interface{})
	assert.Equal(t, true, ans["degraded"])
	assert.NotEmpty(t, ans["sources"])
}

func TestComplianceRoutes(t *testing.T) {
	srv := newTestServer(t, llmtest.NewChat("ok"))
	ingestRules(t, srv)

	status, body := do(t, srv, http.MethodPost, "/compliance/analyze", map[string]string{
		"description": "We agree with competitors to fix prices.",
	})
	require.Equal(t, http.StatusOK, status, body)
	id := body["analysis_id"].(string)
	assert.NotEmpty(t, id)

	status, _ = do(t, srv, http.MethodPost, "/compliance/analyze", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = do(t, srv, http.MethodGet, "/compliance/history?limit=5", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["analyses"], 1)

	status, _ = do(t, srv, http.MethodGet, "/compliance/history?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = do(t, srv, http.MethodPost, "/compliance/compare", map[string][]string{"analysis_ids": {id}})
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["total_analyses"])

	status, _ = do(t, srv, http.MethodPost, "/compliance/compare", map[string][]string{"analysis_ids": {"nope"}})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, llmtest.NewChat("ok"))
	status, body := do(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}
