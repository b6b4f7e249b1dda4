// Package store persists documents, segments, the knowledge graph snapshot,
// compliance analyses and the query log in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/brunobiangulo/lexgraph/graph"
	"github.com/brunobiangulo/lexgraph/vector"
)

func init() {
	sqlite_vec.Auto()
}

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Document statuses.
const (
	StatusUploaded   = "uploaded"
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	StatusFailed     = "failed"
)

// DocumentMetadata holds text statistics computed at ingest.
type DocumentMetadata struct {
	WordCount      int `json:"word_count"`
	ParagraphCount int `json:"paragraph_count"`
}

// Document represents a row in the documents table.
type Document struct {
	ID           string           `json:"id"`
	Filename     string           `json:"filename"`
	FileType     string           `json:"file_type"`
	ContentHash  string           `json:"content_hash"`
	Status       string           `json:"status"`
	Error        string           `json:"error,omitempty"`
	Metadata     DocumentMetadata `json:"metadata"`
	SegmentCount int              `json:"segment_count"`
	CreatedAt    time.Time        `json:"upload_time"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Segment represents a row in the segments table.
type Segment struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Ordinal    int       `json:"ordinal"`
	Text       string    `json:"text"`
	Vector     []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// Analysis represents a row in the compliance_analyses table. Result holds
// the full analysis as JSON.
type Analysis struct {
	ID           string          `json:"id"`
	Description  string          `json:"description"`
	BusinessType string          `json:"business_type,omitempty"`
	Status       string          `json:"status"`
	Confidence   float64         `json:"confidence"`
	RiskLevel    string          `json:"risk_level"`
	Result       json.RawMessage `json:"result"`
	CreatedAt    time.Time       `json:"created_at"`
}

// QueryLog represents a row in the query_log table.
type QueryLog struct {
	Query            string      `json:"query"`
	Answer           string      `json:"answer"`
	Confidence       float64     `json:"confidence"`
	Sources          interface{} `json:"sources"`
	ModelUsed        string      `json:"model_used"`
	PromptTokens     int         `json:"prompt_tokens"`
	CompletionTokens int         `json:"completion_tokens"`
	TotalTokens      int         `json:"total_tokens"`
	Degraded         bool        `json:"degraded"`
}

// Store wraps the SQLite database for all lexgraph persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec virtual table. A database
// created with a different embedding dimension is refused.
func New(dbPath string, embeddingDim int) (*Store, error) {
	if embeddingDim <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", embeddingDim)
	}
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	if err := s.checkDim(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// checkDim records the embedding dimension on first open and compares it on
// every later open.
func (s *Store) checkDim(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO store_meta (key, value) VALUES ('embedding_dim', ?)",
		strconv.Itoa(s.embeddingDim)); err != nil {
		return fmt.Errorf("recording embedding dimension: %w", err)
	}
	var raw string
	if err := s.db.QueryRowContext(ctx,
		"SELECT value FROM store_meta WHERE key = 'embedding_dim'").Scan(&raw); err != nil {
		return fmt.Errorf("reading embedding dimension: %w", err)
	}
	stored, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("corrupt embedding dimension %q: %w", raw, err)
	}
	if stored != s.embeddingDim {
		return &vector.DimensionMismatchError{Op: "open store", Want: stored, Got: s.embeddingDim}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Document operations ---

const documentColumns = `d.id, d.filename, d.file_type, d.content_hash, d.status, d.error, d.metadata,
	(SELECT COUNT(*) FROM segments s WHERE s.document_id = d.id), d.created_at, d.updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	var d Document
	var metadata sql.NullString
	if err := row.Scan(&d.ID, &d.Filename, &d.FileType, &d.ContentHash, &d.Status, &d.Error,
		&metadata, &d.SegmentCount, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &d.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata of %s: %w", d.ID, err)
		}
	}
	return &d, nil
}

// UpsertDocument inserts or updates a document record. The creation time of
// an existing record is kept.
func (s *Store) UpsertDocument(ctx context.Context, doc Document) error {
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return err
	}
	if doc.Status == "" {
		doc.Status = StatusUploaded
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, filename, file_type, content_hash, status, error, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			filename = excluded.filename,
			file_type = excluded.file_type,
			content_hash = excluded.content_hash,
			status = excluded.status,
			error = excluded.error,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`, doc.ID, doc.Filename, doc.FileType, doc.ContentHash, doc.Status, doc.Error, string(meta), now, now)
	return err
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	d, err := scanDocument(s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents d WHERE d.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return d, err
}

// ListDocuments returns all documents ordered by upload time.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents d ORDER BY d.created_at, d.id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus sets the status and error text of a document.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id, status, errText string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET status = ?, error = ?, updated_at = ? WHERE id = ?",
		status, errText, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteDocument removes a document with its segments and their vectors.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_segments WHERE segment_id IN (
				SELECT id FROM segments WHERE document_id = ?
			)`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM segments WHERE document_id = ?", id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("document %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// --- Segment operations ---

// ReplaceSegments swaps the segments of a document in one transaction.
// Vectors must already match the store dimension. Stale rows in
// vec_segments are dropped with the old segments.
func (s *Store) ReplaceSegments(ctx context.Context, documentID string, segs []Segment) error {
	return s.replaceSegments(ctx, documentID, segs, false)
}

func (s *Store) replaceSegments(ctx context.Context, documentID string, segs []Segment, withVectors bool) error {
	for _, sg := range segs {
		if err := vector.CheckDim("persist", sg.ID, sg.Vector, s.embeddingDim); err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_segments WHERE segment_id IN (
				SELECT id FROM segments WHERE document_id = ?
			)`, documentID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM segments WHERE document_id = ?", documentID); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO segments (id, document_id, ordinal, content, embedding, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, sg := range segs {
			created := sg.CreatedAt
			if created.IsZero() {
				created = now
			}
			blob := serializeFloat32(sg.Vector)
			if _, err := stmt.ExecContext(ctx, sg.ID, documentID, sg.Ordinal, sg.Text,
				blob, created); err != nil {
				return fmt.Errorf("inserting segment %s: %w", sg.ID, err)
			}
			if !withVectors {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO vec_segments (segment_id, embedding) VALUES (?, ?)",
				sg.ID, blob); err != nil {
				return fmt.Errorf("inserting vector %s: %w", sg.ID, err)
			}
		}
		return nil
	})
}

// SegmentsByDocument returns the segments of a document in ordinal order,
// without vectors.
func (s *Store) SegmentsByDocument(ctx context.Context, documentID string) ([]Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, ordinal, content, created_at
		FROM segments WHERE document_id = ? ORDER BY ordinal
	`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segs []Segment
	for rows.Next() {
		var sg Segment
		if err := rows.Scan(&sg.ID, &sg.DocumentID, &sg.Ordinal, &sg.Text, &sg.CreatedAt); err != nil {
			return nil, err
		}
		segs = append(segs, sg)
	}
	return segs, rows.Err()
}

// AllVectors returns every persisted segment vector with its metadata, used
// to warm an in-memory index.
func (s *Store) AllVectors(ctx context.Context) ([]vector.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.embedding, s.document_id, d.filename, s.ordinal, s.content
		FROM segments s JOIN documents d ON d.id = s.document_id
		ORDER BY s.document_id, s.ordinal
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []vector.Item
	for rows.Next() {
		var it vector.Item
		var blob []byte
		if err := rows.Scan(&it.SegmentID, &blob, &it.Metadata.DocumentID, &it.Metadata.DocumentName,
			&it.Metadata.Ordinal, &it.Metadata.Text); err != nil {
			return nil, err
		}
		it.Vector = deserializeFloat32(blob)
		items = append(items, it)
	}
	return items, rows.Err()
}

// --- Knowledge graph ---

// ReplaceGraph overwrites the persisted graph snapshot in one transaction.
func (s *Store) ReplaceGraph(ctx context.Context, nodes []graph.Node, edges []graph.Edge, documents int) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM graph_edges"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM graph_nodes"); err != nil {
			return err
		}

		nodeStmt, err := tx.PrepareContext(ctx,
			"INSERT INTO graph_nodes (id, label, node_type, source_document_id) VALUES (?, ?, ?, ?)")
		if err != nil {
			return err
		}
		defer nodeStmt.Close()
		for _, n := range nodes {
			if _, err := nodeStmt.ExecContext(ctx, n.ID, n.Label, string(n.Type), n.SourceDocumentID); err != nil {
				return fmt.Errorf("inserting node %q: %w", n.Label, err)
			}
		}

		edgeStmt, err := tx.PrepareContext(ctx,
			"INSERT INTO graph_edges (source_id, target_id, relation, source_document_id) VALUES (?, ?, ?, ?)")
		if err != nil {
			return err
		}
		defer edgeStmt.Close()
		for _, e := range edges {
			if _, err := edgeStmt.ExecContext(ctx, e.SourceID, e.TargetID, e.Relation, e.SourceDocumentID); err != nil {
				return fmt.Errorf("inserting edge %s: %w", e, err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO store_meta (key, value) VALUES ('graph_documents', ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, strconv.Itoa(documents))
		return err
	})
}

// LoadGraph returns the persisted graph snapshot and the number of documents
// it was built from.
func (s *Store) LoadGraph(ctx context.Context) ([]graph.Node, []graph.Edge, int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, label, node_type, source_document_id FROM graph_nodes")
	if err != nil {
		return nil, nil, 0, err
	}
	var nodes []graph.Node
	for rows.Next() {
		var n graph.Node
		var typ string
		if err := rows.Scan(&n.ID, &n.Label, &typ, &n.SourceDocumentID); err != nil {
			rows.Close()
			return nil, nil, 0, err
		}
		n.Type = graph.NodeType(typ)
		nodes = append(nodes, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, 0, err
	}

	rows, err = s.db.QueryContext(ctx,
		"SELECT source_id, target_id, relation, source_document_id FROM graph_edges")
	if err != nil {
		return nil, nil, 0, err
	}
	defer rows.Close()
	var edges []graph.Edge
	for rows.Next() {
		var e graph.Edge
		if err := rows.Scan(&e.SourceID, &e.TargetID, &e.Relation, &e.SourceDocumentID); err != nil {
			return nil, nil, 0, err
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, 0, err
	}

	var documents int
	var raw string
	err = s.db.QueryRowContext(ctx, "SELECT value FROM store_meta WHERE key = 'graph_documents'").Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, nil, 0, err
	default:
		documents, _ = strconv.Atoi(raw)
	}
	return nodes, edges, documents, nil
}

// --- Compliance analyses ---

// SaveAnalysis stores one compliance analysis.
func (s *Store) SaveAnalysis(ctx context.Context, a Analysis) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO compliance_analyses (id, description, business_type, status, confidence, risk_level, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Description, a.BusinessType, a.Status, a.Confidence, a.RiskLevel, string(a.Result), a.CreatedAt)
	return err
}

const analysisColumns = "id, description, business_type, status, confidence, risk_level, result, created_at"

func scanAnalysis(row interface{ Scan(...any) error }) (Analysis, error) {
	var a Analysis
	var result string
	err := row.Scan(&a.ID, &a.Description, &a.BusinessType, &a.Status, &a.Confidence,
		&a.RiskLevel, &result, &a.CreatedAt)
	a.Result = json.RawMessage(result)
	return a, err
}

// ListAnalyses returns up to limit analyses, newest first. A non-positive
// limit returns all of them.
func (s *Store) ListAnalyses(ctx context.Context, limit int) ([]Analysis, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+analysisColumns+" FROM compliance_analyses ORDER BY created_at DESC, id LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Analysis{}
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAnalyses returns the analyses with the given IDs in the order asked for.
func (s *Store) GetAnalyses(ctx context.Context, ids []string) ([]Analysis, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+analysisColumns+" FROM compliance_analyses WHERE id IN (?"+repeatPlaceholders(len(ids)-1)+")",
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]Analysis, len(ids))
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		byID[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Analysis, 0, len(ids))
	for _, id := range ids {
		a, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("analysis %s: %w", id, ErrNotFound)
		}
		out = append(out, a)
	}
	return out, nil
}

// --- Query log ---

// LogQuery writes an entry to the query audit log.
func (s *Store) LogQuery(ctx context.Context, q QueryLog) error {
	sourcesJSON, _ := json.Marshal(q.Sources)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_log (query, answer, confidence, sources, model_used, prompt_tokens, completion_tokens, total_tokens, degraded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, q.Query, q.Answer, q.Confidence, string(sourcesJSON), q.ModelUsed,
		q.PromptTokens, q.CompletionTokens, q.TotalTokens, q.Degraded)
	return err
}

// DBStats holds row counts for the main tables.
type DBStats struct {
	Documents  int `json:"documents"`
	Segments   int `json:"segments"`
	Embeddings int `json:"embeddings"`
	Nodes      int `json:"nodes"`
	Edges      int `json:"edges"`
	Analyses   int `json:"analyses"`
	Queries    int `json:"queries"`
}

// DBStats returns row counts for the main tables.
func (s *Store) DBStats(ctx context.Context) (*DBStats, error) {
	stats := &DBStats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM documents", &stats.Documents},
		{"SELECT COUNT(*) FROM segments", &stats.Segments},
		{"SELECT COUNT(*) FROM vec_segments", &stats.Embeddings},
		{"SELECT COUNT(*) FROM graph_nodes", &stats.Nodes},
		{"SELECT COUNT(*) FROM graph_edges", &stats.Edges},
		{"SELECT COUNT(*) FROM compliance_analyses", &stats.Analyses},
		{"SELECT COUNT(*) FROM query_log", &stats.Queries},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func repeatPlaceholders(n int) string {
	return strings.Repeat(", ?", n)
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeFloat32(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
