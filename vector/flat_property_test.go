package vector

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func buildFlat(vecs [][]float32) *Flat {
	idx := NewFlat(4)
	items := make([]Item, len(vecs))
	for i, v := range vecs {
		doc := "doc-even"
		if i%2 == 1 {
			doc = "doc-odd"
		}
		items[i] = Item{SegmentID: fmt.Sprintf("seg-%03d", i), Vector: v, Metadata: Metadata{DocumentID: doc}}
	}
	_ = idx.AddBatch(context.Background(), items)
	return idx
}

var (
	genVec  = gen.SliceOfN(4, gen.Float32Range(-1, 1))
	genVecs = gen.SliceOf(gen.SliceOfN(4, gen.Float32Range(-1, 1)))
)

// Property: repeated searches over the same index return identical rankings.
func TestSearchDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("search ordering is stable", prop.ForAll(
		func(vecs [][]float32, q []float32) bool {
			idx := buildFlat(vecs)
			first, err1 := idx.Search(context.Background(), q, 5)
			second, err2 := idx.Search(context.Background(), q, 5)
			if err1 != nil || err2 != nil {
				return false
			}
			return reflect.DeepEqual(first, second)
		},
		genVecs,
		genVec,
	))

	properties.Property("scores are non-increasing", prop.ForAll(
		func(vecs [][]float32, q []float32) bool {
			hits, err := buildFlat(vecs).Search(context.Background(), q, len(vecs))
			if err != nil {
				return false
			}
			for i := 1; i < len(hits); i++ {
				if hits[i].Score > hits[i-1].Score {
					return false
				}
				if hits[i].Score == hits[i-1].Score && hits[i].SegmentID < hits[i-1].SegmentID {
					return false
				}
			}
			return true
		},
		genVecs,
		genVec,
	))

	properties.TestingRun(t)
}

// Property: after Remove(doc) no search returns a segment of doc.
func TestDeletionIsolation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("removed documents never surface", prop.ForAll(
		func(vecs [][]float32, q []float32) bool {
			idx := buildFlat(vecs)
			if _, err := idx.Remove(context.Background(), "doc-odd"); err != nil {
				return false
			}
			hits, err := idx.Search(context.Background(), q, len(vecs)+1)
			if err != nil {
				return false
			}
			for _, h := range hits {
				if h.Metadata.DocumentID == "doc-odd" {
					return false
				}
			}
			return len(hits) == (len(vecs)+1)/2
		},
		genVecs,
		genVec,
	))

	properties.TestingRun(t)
}
