package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// defaultConcurrency bounds parallel extraction during a rebuild.
const defaultConcurrency = 4

// snapshot is an immutable graph. Readers load it through an atomic pointer,
// so a rebuild is seen either entirely or not at all.
type snapshot struct {
	nodes     []Node // sorted by type, then label
	byID      map[string]int
	edges     []Edge // sorted by source label, relation, target label
	adjacency map[string][]int
	documents int
}

func newSnapshot(nodes []Node, edges []Edge, documents int) *snapshot {
	sort.Slice(nodes, func(i, j int) bool { return lessNode(nodes[i], nodes[j]) })
	sort.Slice(edges, func(i, j int) bool { return lessEdge(edges[i], edges[j]) })

	s := &snapshot{
		nodes:     nodes,
		byID:      make(map[string]int, len(nodes)),
		edges:     edges,
		adjacency: make(map[string][]int),
		documents: documents,
	}
	for i, n := range nodes {
		s.byID[n.ID] = i
	}
	for i, e := range edges {
		s.adjacency[e.SourceID] = append(s.adjacency[e.SourceID], i)
		if e.TargetID != e.SourceID {
			s.adjacency[e.TargetID] = append(s.adjacency[e.TargetID], i)
		}
	}
	return s
}

func lessNode(a, b Node) bool {
	if a.Type != b.Type {
		return a.Type < b.Type
	}
	return a.Label < b.Label
}

func lessEdge(a, b Edge) bool {
	if a.SourceLabel != b.SourceLabel {
		return a.SourceLabel < b.SourceLabel
	}
	if a.Relation != b.Relation {
		return a.Relation < b.Relation
	}
	if a.TargetLabel != b.TargetLabel {
		return a.TargetLabel < b.TargetLabel
	}
	if a.SourceID != b.SourceID {
		return a.SourceID < b.SourceID
	}
	return a.TargetID < b.TargetID
}

// Store holds the current knowledge graph. Reads are lock-free; Rebuild and
// Load are serialised by a mutex and publish a new snapshot atomically.
type Store struct {
	extractor   Extractor
	concurrency int

	mu  sync.Mutex
	cur atomic.Pointer[snapshot]
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithConcurrency bounds how many documents are extracted in parallel.
func WithConcurrency(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewStore returns an empty graph that rebuilds with ex.
func NewStore(ex Extractor, opts ...StoreOption) *Store {
	s := &Store{extractor: ex, concurrency: defaultConcurrency}
	for _, o := range opts {
		o(s)
	}
	s.cur.Store(newSnapshot(nil, nil, 0))
	return s
}

// Rebuild discards the current graph and extracts a new one from docs.
// Documents are processed in ID order and segments in the given order, so
// the first document that mentions an entity becomes its source. Extraction
// errors skip the affected segment.
func (s *Store) Rebuild(ctx context.Context, docs []Document) (BuildStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	sorted := append([]Document(nil), docs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	extractions, err := s.extractAll(ctx, sorted)
	if err != nil {
		return BuildStats{}, err
	}

	var (
		nodes   []Node
		nodeIdx = make(map[string]int)
		edges   []Edge
		edgeSet = make(map[edgeKey]bool)
	)
	// Keys differing only in letter case share an ID; the first label seen wins.
	addNode := func(k NodeKey, docID string) Node {
		id := k.ID()
		if i, ok := nodeIdx[id]; ok {
			return nodes[i]
		}
		n := Node{ID: id, Label: k.Label, Type: k.Type, SourceDocumentID: docID}
		nodeIdx[id] = len(nodes)
		nodes = append(nodes, n)
		return n
	}

	for di, doc := range sorted {
		for _, ex := range extractions[di] {
			for _, m := range ex.Mentions {
				addNode(m.Key(), doc.ID)
			}
			for _, r := range ex.Relations {
				src := addNode(r.Source, doc.ID)
				tgt := addNode(r.Target, doc.ID)
				e := Edge{
					SourceID:         src.ID,
					SourceLabel:      src.Label,
					TargetID:         tgt.ID,
					TargetLabel:      tgt.Label,
					Relation:         r.Relation,
					SourceDocumentID: doc.ID,
				}
				if edgeSet[e.key()] {
					continue
				}
				edgeSet[e.key()] = true
				edges = append(edges, e)
			}
		}
	}

	snap := newSnapshot(nodes, edges, len(sorted))
	s.cur.Store(snap)

	stats := BuildStats{Nodes: len(nodes), Edges: len(edges), DocumentsProcessed: len(sorted)}
	slog.Info("graph: rebuilt",
		"nodes", stats.Nodes, "edges", stats.Edges, "documents", stats.DocumentsProcessed,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return stats, nil
}

// extractAll runs the extractor over every segment, at most s.concurrency
// documents at a time. Results are indexed like docs.
func (s *Store) extractAll(ctx context.Context, docs []Document) ([][]Extraction, error) {
	out := make([][]Extraction, len(docs))

	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.concurrency)
	)
	for i, doc := range docs {
		wg.Add(1)
		go func(i int, doc Document) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			res := make([]Extraction, 0, len(doc.Segments))
			for si, text := range doc.Segments {
				ex, err := s.extractor.Extract(ctx, text)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					slog.Warn("graph: extraction failed",
						"document_id", doc.ID, "segment", si, "error", err)
					continue
				}
				res = append(res, ex)
			}
			out[i] = res
		}(i, doc)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("graph rebuild: %w", err)
	}
	return out, nil
}

// Load replaces the graph with previously persisted nodes and edges. Edges
// whose endpoints are missing are dropped.
func (s *Store) Load(nodes []Node, edges []Edge, documents int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns := append([]Node(nil), nodes...)
	byID := make(map[string]Node, len(ns))
	for _, n := range ns {
		byID[n.ID] = n
	}
	es := make([]Edge, 0, len(edges))
	for _, e := range edges {
		src, ok1 := byID[e.SourceID]
		tgt, ok2 := byID[e.TargetID]
		if !ok1 || !ok2 {
			slog.Warn("graph: dropping dangling edge", "source", e.SourceID, "target", e.TargetID)
			continue
		}
		e.SourceLabel, e.TargetLabel = src.Label, tgt.Label
		es = append(es, e)
	}
	s.cur.Store(newSnapshot(ns, es, documents))
}

// Snapshot returns copies of all nodes and edges in canonical order.
func (s *Store) Snapshot() ([]Node, []Edge) {
	snap := s.cur.Load()
	return append([]Node(nil), snap.nodes...), append([]Edge(nil), snap.edges...)
}

// QueryOption narrows a QueryByEntity call.
type QueryOption func(*queryOptions)

type queryOptions struct {
	relation string
	nodeType NodeType
}

// WithRelation keeps only edges whose relation equals rel (case-insensitive).
func WithRelation(rel string) QueryOption {
	return func(o *queryOptions) { o.relation = strings.ToLower(strings.TrimSpace(rel)) }
}

// WithNodeType restricts matching to nodes of type t.
func WithNodeType(t NodeType) QueryOption {
	return func(o *queryOptions) { o.nodeType = t }
}

// QueryByEntity returns the nodes whose label contains name
// (case-insensitive) together with their direct edges and neighbours. No
// match yields an empty result.
func (s *Store) QueryByEntity(ctx context.Context, name string, opts ...QueryOption) QueryResult {
	var o queryOptions
	for _, fn := range opts {
		fn(&o)
	}
	res := QueryResult{Query: name, Matched: []Node{}, Nodes: []Node{}, Edges: []Edge{}}
	q := strings.ToLower(strings.TrimSpace(name))
	if q == "" {
		return res
	}

	snap := s.cur.Load()
	included := make(map[string]bool)
	edgeSeen := make(map[int]bool)
	var edgeIdx []int

	for _, n := range snap.nodes {
		if o.nodeType != "" && n.Type != o.nodeType {
			continue
		}
		if !strings.Contains(strings.ToLower(n.Label), q) {
			continue
		}
		res.Matched = append(res.Matched, n)
		included[n.ID] = true
		for _, ei := range snap.adjacency[n.ID] {
			if o.relation != "" && snap.edges[ei].Relation != o.relation {
				continue
			}
			if !edgeSeen[ei] {
				edgeSeen[ei] = true
				edgeIdx = append(edgeIdx, ei)
			}
		}
	}

	sort.Ints(edgeIdx)
	for _, ei := range edgeIdx {
		e := snap.edges[ei]
		res.Edges = append(res.Edges, e)
		included[e.SourceID] = true
		included[e.TargetID] = true
	}
	for _, n := range snap.nodes {
		if included[n.ID] {
			res.Nodes = append(res.Nodes, n)
		}
	}
	return res
}

// Neighborhood returns the edges touching any node with one of the given
// keys, in canonical order, at most limit of them (0 means no limit).
func (s *Store) Neighborhood(keys []NodeKey, limit int) []Edge {
	snap := s.cur.Load()
	seen := make(map[int]bool)
	var idx []int
	for _, k := range keys {
		ni, ok := snap.byID[k.ID()]
		if !ok {
			continue
		}
		for _, ei := range snap.adjacency[snap.nodes[ni].ID] {
			if !seen[ei] {
				seen[ei] = true
				idx = append(idx, ei)
			}
		}
	}
	sort.Ints(idx)
	if limit > 0 && len(idx) > limit {
		idx = idx[:limit]
	}
	out := make([]Edge, len(idx))
	for i, ei := range idx {
		out[i] = snap.edges[ei]
	}
	return out
}

// Stats reports node counts by type and edge counts by relation.
func (s *Store) Stats() Stats {
	snap := s.cur.Load()
	st := Stats{
		Nodes:         len(snap.nodes),
		Edges:         len(snap.edges),
		Documents:     snap.documents,
		NodeTypes:     make(map[string]int),
		RelationTypes: make(map[string]int),
	}
	for _, n := range snap.nodes {
		st.NodeTypes[string(n.Type)]++
	}
	for _, e := range snap.edges {
		st.RelationTypes[e.Relation]++
	}
	return st
}
