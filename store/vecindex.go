package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/brunobiangulo/lexgraph/vector"
)

// maxKNN is the largest k sqlite-vec accepts in a KNN query.
const maxKNN = 4096

// VecIndex is a vector.Index backed by the vec_segments sqlite-vec table.
// Hit metadata is joined from segments, so segment rows must exist before
// their vectors are added. ReplaceDocument swaps segments and vectors in one
// transaction.
type VecIndex struct {
	store *Store
}

var _ vector.Index = (*VecIndex)(nil)

// VecIndex returns the sqlite-vec index over this store.
func (s *Store) VecIndex() *VecIndex {
	return &VecIndex{store: s}
}

func (v *VecIndex) Dim() int { return v.store.embeddingDim }

func (v *VecIndex) Len() int {
	var n int
	if err := v.store.db.QueryRow("SELECT COUNT(*) FROM vec_segments").Scan(&n); err != nil {
		slog.Warn("store: counting vectors", "error", err)
		return 0
	}
	return n
}

func (v *VecIndex) Add(ctx context.Context, item vector.Item) error {
	return v.AddBatch(ctx, []vector.Item{item})
}

func (v *VecIndex) AddBatch(ctx context.Context, items []vector.Item) error {
	for _, it := range items {
		if err := vector.CheckDim("add", it.SegmentID, it.Vector, v.Dim()); err != nil {
			return err
		}
	}
	return v.store.inTx(ctx, func(tx *sql.Tx) error {
		for _, it := range items {
			// vec0 has no upsert.
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM vec_segments WHERE segment_id = ?", it.SegmentID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO vec_segments (segment_id, embedding) VALUES (?, ?)",
				it.SegmentID, serializeFloat32(it.Vector)); err != nil {
				return fmt.Errorf("inserting vector %s: %w", it.SegmentID, err)
			}
		}
		return nil
	})
}

// Search fetches KNN candidates from sqlite-vec and re-ranks them with exact
// cosine similarity so ties order by segment ID as in vector.Flat.
func (v *VecIndex) Search(ctx context.Context, query []float32, topK int) ([]vector.Hit, error) {
	if err := vector.CheckDim("search", "", query, v.Dim()); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}
	k := min(topK*2+16, maxKNN)

	rows, err := v.store.db.QueryContext(ctx, `
		SELECT v.segment_id, v.embedding, s.document_id, d.filename, s.ordinal, s.content
		FROM vec_segments v
		JOIN segments s ON s.id = v.segment_id
		JOIN documents d ON d.id = s.document_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(query), k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var hits []vector.Hit
	for rows.Next() {
		var h vector.Hit
		var blob []byte
		if err := rows.Scan(&h.SegmentID, &blob, &h.Metadata.DocumentID, &h.Metadata.DocumentName,
			&h.Metadata.Ordinal, &h.Metadata.Text); err != nil {
			return nil, err
		}
		h.Score = vector.Cosine(deserializeFloat32(blob), query)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return vector.Rank(hits, topK), nil
}

// ReplaceDocument replaces the segments of a document and their vectors
// atomically. On error neither the segments nor the index change.
func (v *VecIndex) ReplaceDocument(ctx context.Context, documentID string, segs []Segment) error {
	return v.store.replaceSegments(ctx, documentID, segs, true)
}

func (v *VecIndex) Remove(ctx context.Context, documentID string) (int, error) {
	var n int
	err := v.store.inTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM vec_segments WHERE segment_id IN (
				SELECT id FROM segments WHERE document_id = ?
			)`, documentID).Scan(&n); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			DELETE FROM vec_segments WHERE segment_id IN (
				SELECT id FROM segments WHERE document_id = ?
			)`, documentID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("removing vectors of %s: %w", documentID, err)
	}
	return n, nil
}
