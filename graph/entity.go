package graph

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NodeType classifies a graph node.
type NodeType string

// Node types produced by the extractors.
const (
	TypeArticle      NodeType = "Article"
	TypeViolation    NodeType = "Violation"
	TypePenalty      NodeType = "Penalty"
	TypeObligation   NodeType = "Obligation"
	TypeOrganization NodeType = "Organization"
	TypeConcept      NodeType = "Concept"
)

// NodeTypes lists every known node type in display order.
var NodeTypes = []NodeType{TypeArticle, TypeViolation, TypePenalty, TypeObligation, TypeOrganization, TypeConcept}

// ParseNodeType maps a case-insensitive name onto a NodeType.
func ParseNodeType(s string) (NodeType, bool) {
	for _, t := range NodeTypes {
		if strings.EqualFold(s, string(t)) {
			return t, true
		}
	}
	return "", false
}

// RelatedTo is the relation used when no connecting verb phrase is found.
const RelatedTo = "related-to"

// nodeNamespace seeds the name-based node IDs.
var nodeNamespace = uuid.MustParse("6f1c1d1e-8a53-4b7e-9d2a-5c0f3e7b9a41")

// NodeKey is the deduplication key of a node.
type NodeKey struct {
	Label string
	Type  NodeType
}

// ID derives a stable node identifier from the key, so rebuilding from the
// same documents yields the same IDs.
func (k NodeKey) ID() string {
	return uuid.NewSHA1(nodeNamespace, []byte(string(k.Type)+"\x00"+strings.ToLower(k.Label))).String()
}

// Node is a typed entity in the knowledge graph.
type Node struct {
	ID               string   `json:"id"`
	Label            string   `json:"label"`
	Type             NodeType `json:"type"`
	SourceDocumentID string   `json:"source_document_id"`
}

// Key returns the deduplication key of n.
func (n Node) Key() NodeKey { return NodeKey{Label: n.Label, Type: n.Type} }

// Edge is a labelled relation between two nodes.
type Edge struct {
	SourceID         string `json:"source_id"`
	SourceLabel      string `json:"source_label"`
	TargetID         string `json:"target_id"`
	TargetLabel      string `json:"target_label"`
	Relation         string `json:"relation"`
	SourceDocumentID string `json:"source_document_id"`
}

// String renders e as a relation sentence for prompts.
func (e Edge) String() string {
	return fmt.Sprintf("%s --%s--> %s", e.SourceLabel, e.Relation, e.TargetLabel)
}

type edgeKey struct {
	source, target, relation string
}

func (e Edge) key() edgeKey { return edgeKey{e.SourceID, e.TargetID, e.Relation} }

// Mention is one entity occurrence found in text. Start and End are byte
// offsets, or -1 when the extractor has no positions.
type Mention struct {
	Label string   `json:"label"`
	Type  NodeType `json:"type"`
	Start int      `json:"start"`
	End   int      `json:"end"`
}

// Key returns the node key the mention resolves to.
func (m Mention) Key() NodeKey { return NodeKey{Label: m.Label, Type: m.Type} }

// Relation is a candidate edge between two mentions.
type Relation struct {
	Source   NodeKey `json:"source"`
	Target   NodeKey `json:"target"`
	Relation string  `json:"relation"`
}

// Extraction is the candidate set produced from one piece of text.
type Extraction struct {
	Mentions  []Mention  `json:"mentions"`
	Relations []Relation `json:"relations"`
}

// Document is the extractor input for one stored document.
type Document struct {
	ID string
	// Segments holds segment texts in ordinal order.
	Segments []string
}

// BuildStats summarises a rebuild.
type BuildStats struct {
	Nodes              int `json:"nodes"`
	Edges              int `json:"edges"`
	DocumentsProcessed int `json:"documents_processed"`
}

// QueryResult is the 1-hop neighbourhood of the nodes matching a query.
type QueryResult struct {
	Query   string `json:"query"`
	Matched []Node `json:"matched"`
	Nodes   []Node `json:"nodes"`
	Edges   []Edge `json:"edges"`
}

// Stats describes the current graph.
type Stats struct {
	Nodes         int            `json:"nodes"`
	Edges         int            `json:"edges"`
	Documents     int            `json:"documents"`
	NodeTypes     map[string]int `json:"node_types"`
	RelationTypes map[string]int `json:"relation_types"`
}
