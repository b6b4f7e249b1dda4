package graph

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var fragments = []string{
	"Article 5 imposes a fine for late filing.",
	"Article 12 prohibits unauthorized data transfer.",
	"A supplier must not offer inducements to a retailer.",
	"Price fixing leads to revocation of the license.",
	"Section 3 requires the data controller to notify the Authority.",
	"Breach of Article 5 is punishable by a fine of $5,000.",
	"The weather was pleasant.",
}

func docsFrom(picks []int) []Document {
	docs := make([]Document, 0, len(picks)/2+1)
	for i := 0; i < len(picks); i += 2 {
		var segs []string
		for _, p := range picks[i:min(i+2, len(picks))] {
			segs = append(segs, fragments[p])
		}
		docs = append(docs, Document{ID: fmt.Sprintf("doc-%02d", i/2), Segments: segs})
	}
	return docs
}

type contentSet struct {
	nodes map[string]bool
	edges map[string]bool
}

func content(s *Store) contentSet {
	nodes, edges := s.Snapshot()
	c := contentSet{nodes: map[string]bool{}, edges: map[string]bool{}}
	for _, n := range nodes {
		c.nodes[string(n.Type)+"|"+n.Label] = true
	}
	for _, e := range edges {
		c.edges[strings.Join([]string{e.SourceLabel, e.Relation, e.TargetLabel}, "|")] = true
	}
	return c
}

// Property: rebuilding twice from the same documents yields the same
// (label, type) nodes and the same relations.
func TestRebuildIdempotentProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("rebuild is idempotent", prop.ForAll(
		func(picks []int) bool {
			docs := docsFrom(picks)
			s := NewStore(NewPatternExtractor())
			if _, err := s.Rebuild(context.Background(), docs); err != nil {
				return false
			}
			first := content(s)
			firstNodes, firstEdges := s.Snapshot()

			if _, err := s.Rebuild(context.Background(), docs); err != nil {
				return false
			}
			secondNodes, secondEdges := s.Snapshot()
			return reflect.DeepEqual(first, content(s)) &&
				reflect.DeepEqual(firstNodes, secondNodes) &&
				reflect.DeepEqual(firstEdges, secondEdges)
		},
		gen.SliceOf(gen.IntRange(0, len(fragments)-1)),
	))

	properties.Property("every edge endpoint is a node", prop.ForAll(
		func(picks []int) bool {
			s := NewStore(NewPatternExtractor())
			if _, err := s.Rebuild(context.Background(), docsFrom(picks)); err != nil {
				return false
			}
			nodes, edges := s.Snapshot()
			ids := make(map[string]bool, len(nodes))
			for _, n := range nodes {
				ids[n.ID] = true
			}
			for _, e := range edges {
				if !ids[e.SourceID] || !ids[e.TargetID] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, len(fragments)-1)),
	))

	properties.TestingRun(t)
}
