package vector

import (
	"context"
	"sync"
)

// Flat is an exact in-memory index that scans every vector on search.
type Flat struct {
	dim int

	mu      sync.RWMutex
	entries []entry
	pos     map[string]int
}

type entry struct {
	item Item
	norm float64
}

// NewFlat returns an empty index for vectors of length dim.
func NewFlat(dim int) *Flat {
	return &Flat{dim: dim, pos: make(map[string]int)}
}

func (f *Flat) Dim() int { return f.dim }

func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

func (f *Flat) Add(ctx context.Context, item Item) error {
	return f.AddBatch(ctx, []Item{item})
}

func (f *Flat) AddBatch(ctx context.Context, items []Item) error {
	for _, it := range items {
		if err := CheckDim("add", it.SegmentID, it.Vector, f.dim); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range items {
		vec := make([]float32, len(it.Vector))
		copy(vec, it.Vector)
		it.Vector = vec
		e := entry{item: it, norm: Norm(vec)}
		if i, ok := f.pos[it.SegmentID]; ok {
			f.entries[i] = e
			continue
		}
		f.pos[it.SegmentID] = len(f.entries)
		f.entries = append(f.entries, e)
	}
	return nil
}

func (f *Flat) Search(ctx context.Context, query []float32, topK int) ([]Hit, error) {
	if err := CheckDim("search", "", query, f.dim); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}
	qn := Norm(query)

	f.mu.RLock()
	hits := make([]Hit, 0, len(f.entries))
	for _, e := range f.entries {
		hits = append(hits, Hit{
			SegmentID: e.item.SegmentID,
			Score:     cosineWithNorms(e.item.Vector, query, e.norm, qn),
			Metadata:  e.item.Metadata,
		})
	}
	f.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Rank(hits, topK), nil
}

func (f *Flat) Remove(ctx context.Context, documentID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.entries[:0]
	removed := 0
	for _, e := range f.entries {
		if e.item.Metadata.DocumentID == documentID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	// Clear the tail so removed vectors can be collected.
	for i := len(kept); i < len(f.entries); i++ {
		f.entries[i] = entry{}
	}
	f.entries = kept

	if removed > 0 {
		f.pos = make(map[string]int, len(f.entries))
		for i, e := range f.entries {
			f.pos[e.item.SegmentID] = i
		}
	}
	return removed, nil
}
