//go:build cgo

package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/brunobiangulo/lexgraph"
	"github.com/brunobiangulo/lexgraph/compliance"
	"github.com/brunobiangulo/lexgraph/llm/llmtest"
)

const rulesText = "Article 5 imposes a fine for late filing.\n\n" +
	"Article 7 prohibits price fixing by any supplier."

type cli struct {
	t    *testing.T
	db   string
	dir  string
	chat *llmtest.Chat
}

func newCLI(t *testing.T) *cli {
	dir := t.TempDir()
	return &cli{t: t, db: filepath.Join(dir, "cli.db"), dir: dir, chat: llmtest.NewChat("Late filing is fined under Article 5.")}
}

// run executes one command line against a fresh command tree, as separate
// process invocations would.
func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	root := newRootCmd(func(cfg lexgraph.Config) (lexgraph.Engine, error) {
		cfg.EmbeddingDim = 64
		return lexgraph.New(cfg, lexgraph.WithChatProvider(c.chat), lexgraph.WithEmbeddingProvider(llmtest.NewEmbedder(64)))
	})
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--db", c.db}, args...))
	err := root.Execute()
	return buf.String(), err
}

func (c *cli) ingestRules() string {
	c.t.Helper()
	path := filepath.Join(c.dir, "rules.txt")
	require.NoError(c.t, os.WriteFile(path, []byte(rulesText), 0o644))
	out, err := c.run("ingest", path)
	require.NoError(c.t, err, out)
	return path
}

func TestIngestAndDocuments(t *testing.T) {
	c := newCLI(t)
	path := c.ingestRules()

	out, err := c.run("ingest", path, filepath.Join(c.dir, "missing.txt"))
	assert.Error(t, err)
	assert.Contains(t, out, "rules.txt")
	assert.Contains(t, out, "2 segments")

	out, err = c.run("documents", "--json")
	require.NoError(t, err)
	var docs []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &docs))
	require.Len(t, docs, 1, "re-ingesting a path keeps its id")
	id := docs[0]["id"].(string)

	out, err = c.run("documents", "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "processed"`)

	_, err = c.run("documents", "delete", id)
	require.NoError(t, err)
	out, err = c.run("documents")
	require.NoError(t, err)
	assert.Contains(t, out, "No documents.")

	_, err = c.run("documents", "delete", id)
	assert.ErrorIs(t, err, lexgraph.ErrNotFound)
}

func TestIngestIDNeedsSingleFile(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("ingest", "--id", "x", "a.txt", "b.txt")
	assert.ErrorContains(t, err, "single file")
}

func TestSearchAndAsk(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("search", "price fixing")
	require.NoError(t, err)
	assert.Contains(t, out, "No results found.")

	c.ingestRules()

	out, err = c.run("search", "-n", "1", "price fixing supplier")
	require.NoError(t, err)
	assert.Contains(t, out, "Results:")
	assert.Contains(t, out, "rules.txt #1")

	out, err = c.run("ask", "what", "is", "the", "fine", "for", "late", "filing?")
	require.NoError(t, err)
	assert.Contains(t, out, "Late filing is fined under Article 5.")
	assert.Contains(t, out, "Sources:")

	out, err = c.run("ask", "--batch", "--json", "late filing fine", "price fixing")
	require.NoError(t, err)
	var items []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	assert.Len(t, items, 2)
}

func TestGraphCommands(t *testing.T) {
	c := newCLI(t)
	c.ingestRules()

	out, err := c.run("graph", "rebuild")
	require.NoError(t, err)
	assert.Contains(t, out, "from 1 documents")

	out, err = c.run("graph", "query", "--type", "article", "article 5")
	require.NoError(t, err)
	assert.Contains(t, out, "Article 5 [Article]")

	_, err = c.run("graph", "query", "--type", "planet", "x")
	assert.ErrorContains(t, err, "unknown node type")

	out, err = c.run("graph", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Documents: 1")
	assert.Contains(t, out, "Node types:")
}

func TestAnalyzeAndHistory(t *testing.T) {
	c := newCLI(t)
	c.ingestRules()

	out, err := c.run("analyze", "--json", "-b", "wholesale", "-a", "market_behavior=cartel",
		"We agree with competitors to fix prices.")
	require.NoError(t, err)
	var res compliance.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, "cartel", res.Request.Attributes["market_behavior"])

	out, err = c.run("history")
	require.NoError(t, err)
	assert.Contains(t, out, res.ID)

	out, err = c.run("history", "compare")
	require.NoError(t, err)
	assert.Contains(t, out, `"total_analyses": 1`)

	_, err = c.run("history", "compare", "nope")
	assert.ErrorIs(t, err, lexgraph.ErrNotFound)
}

func TestScreen(t *testing.T) {
	c := newCLI(t)
	c.ingestRules()

	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"Business Type", "Detailed Description"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"wholesale", "We fix prices with a cartel."}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]interface{}{"bakery", "We bake bread."}))
	in := filepath.Join(c.dir, "scenarios.xlsx")
	require.NoError(t, f.SaveAs(in))

	out, err := c.run("screen", in)
	require.NoError(t, err)
	assert.Contains(t, out, "Screened 2 scenarios")

	report, err := excelize.OpenFile(filepath.Join(c.dir, "scenarios-report.xlsx"))
	require.NoError(t, err)
	defer report.Close()
	rows, err := report.GetRows("Report")
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	_, err = c.run("screen", filepath.Join(c.dir, "absent.xlsx"))
	assert.Error(t, err)
}
