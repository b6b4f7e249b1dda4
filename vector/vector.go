// Package vector holds segment embeddings and answers nearest-neighbour
// queries by cosine similarity.
package vector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrDimensionMismatch matches every *DimensionMismatchError.
var ErrDimensionMismatch = errors.New("vector: dimension mismatch")

// DimensionMismatchError reports a vector whose length differs from the
// index dimension. The rejected write leaves the index unchanged.
type DimensionMismatchError struct {
	Op        string
	SegmentID string
	Want      int
	Got       int
}

func (e *DimensionMismatchError) Error() string {
	if e.SegmentID == "" {
		return fmt.Sprintf("vector: %s: got dimension %d, want %d", e.Op, e.Got, e.Want)
	}
	return fmt.Sprintf("vector: %s segment %s: got dimension %d, want %d", e.Op, e.SegmentID, e.Got, e.Want)
}

func (e *DimensionMismatchError) Is(target error) bool { return target == ErrDimensionMismatch }

// Metadata travels with a vector so search hits can be rendered without a
// store round trip.
type Metadata struct {
	DocumentID   string `json:"document_id"`
	DocumentName string `json:"document_name"`
	Ordinal      int    `json:"ordinal"`
	Text         string `json:"text"`
}

// Item is one segment vector.
type Item struct {
	SegmentID string
	Vector    []float32
	Metadata  Metadata
}

// Hit is one search result.
type Hit struct {
	SegmentID string   `json:"segment_id"`
	Score     float64  `json:"score"`
	Metadata  Metadata `json:"metadata"`
}

// Index is the contract shared by every index backend.
type Index interface {
	// Add inserts or replaces one segment vector.
	Add(ctx context.Context, item Item) error
	// AddBatch validates every item before inserting any of them.
	AddBatch(ctx context.Context, items []Item) error
	// Search returns up to topK hits ordered by descending similarity,
	// ties broken by ascending segment ID.
	Search(ctx context.Context, query []float32, topK int) ([]Hit, error)
	// Remove deletes all segments of a document and reports how many.
	Remove(ctx context.Context, documentID string) (int, error)
	Len() int
	Dim() int
}

// CheckDim returns a *DimensionMismatchError when len(v) != dim.
func CheckDim(op, segmentID string, v []float32, dim int) error {
	if len(v) != dim {
		return &DimensionMismatchError{Op: op, SegmentID: segmentID, Want: dim, Got: len(v)}
	}
	return nil
}

// Cosine returns dot(a,b)/(|a||b|), or 0 when either vector has zero norm.
func Cosine(a, b []float32) float64 {
	return cosineWithNorms(a, b, Norm(a), Norm(b))
}

// Norm returns the Euclidean length of v.
func Norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func cosineWithNorms(a, b []float32, na, nb float64) float64 {
	if na == 0 || nb == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	s := dot / (na * nb)
	if math.IsNaN(s) {
		return 0
	}
	return s
}

// Rank sorts hits by descending score then ascending segment ID and keeps at
// most topK of them.
func Rank(hits []Hit, topK int) []Hit {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].SegmentID < hits[j].SegmentID
	})
	if topK >= 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}
