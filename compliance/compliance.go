// Package compliance classifies a business scenario against the indexed
// regulations with a deterministic rule engine.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/brunobiangulo/lexgraph/graph"
	"github.com/brunobiangulo/lexgraph/retrieval"
	"github.com/brunobiangulo/lexgraph/vector"
)

// ErrEmptyRequest is returned when a request has nothing to analyse.
var ErrEmptyRequest = errors.New("compliance: empty business description")

// Status is the verdict of an analysis.
type Status string

const (
	StatusCompliant Status = "Compliant"
	StatusAtRisk    Status = "AtRisk"
	StatusViolation Status = "Violation"
)

// RiskLevel buckets the aggregate score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// Config holds the analyzer thresholds.
type Config struct {
	TopK          int     `json:"top_k" yaml:"top_k"`
	HighThreshold float64 `json:"high_threshold" yaml:"high_threshold"`
	LowThreshold  float64 `json:"low_threshold" yaml:"low_threshold"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{TopK: 10, HighThreshold: 0.6, LowThreshold: 0.3}
}

// Validate checks that the thresholds are ordered within [0, 1].
func (c Config) Validate() error {
	if c.TopK <= 0 {
		return fmt.Errorf("compliance top_k must be positive, got %d", c.TopK)
	}
	if c.LowThreshold < 0 || c.HighThreshold > 1 || c.LowThreshold >= c.HighThreshold {
		return fmt.Errorf("compliance thresholds must satisfy 0 <= low < high <= 1, got low=%.2f high=%.2f",
			c.LowThreshold, c.HighThreshold)
	}
	return nil
}

// Request describes a business scenario.
type Request struct {
	Description  string            `json:"description"`
	BusinessType string            `json:"business_type,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// Text flattens the request into the query used for retrieval and
// description evidence.
func (r Request) Text() string {
	var parts []string
	if r.BusinessType != "" {
		parts = append(parts, "Business Type: "+r.BusinessType)
	}
	if v := r.Attributes["price_strategy"]; v != "" {
		parts = append(parts, "Price Strategy: "+v)
	}
	if v := r.Attributes["market_behavior"]; v != "" {
		parts = append(parts, "Market Behavior: "+v)
	}
	if strings.TrimSpace(r.Description) != "" {
		parts = append(parts, "Detailed Description: "+r.Description)
	}
	keys := make([]string, 0, len(r.Attributes))
	for k := range r.Attributes {
		if k != "price_strategy" && k != "market_behavior" && r.Attributes[k] != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+": "+r.Attributes[k])
	}
	return strings.Join(parts, "\n")
}

// CategoryScore is the score of one triggered category.
type CategoryScore struct {
	Category            string   `json:"category"`
	Title               string   `json:"title"`
	Score               float64  `json:"score"`
	RegulationSupport   float64  `json:"regulation_support"`
	DescriptionEvidence float64  `json:"description_evidence"`
	Indicators          []string `json:"indicators,omitempty"`
	Articles            []string `json:"articles,omitempty"`
	SegmentIDs          []string `json:"segment_ids,omitempty"`
}

// Result is the outcome of an analysis. ID and CreatedAt are assigned by
// the caller that persists it.
type Result struct {
	ID                  string          `json:"analysis_id,omitempty"`
	Status              Status          `json:"status"`
	Confidence          float64         `json:"confidence"`
	RiskLevel           RiskLevel       `json:"risk_level"`
	RiskScore           float64         `json:"risk_score"`
	ViolatedRegulations []string        `json:"violated_regulations"`
	Recommendations     []string        `json:"recommendations"`
	ReferencedDocuments []string        `json:"referenced_documents"`
	Categories          []CategoryScore `json:"categories"`
	RegulationsChecked  int             `json:"regulations_checked"`
	Request             Request         `json:"request"`
	CreatedAt           time.Time       `json:"created_at,omitempty"`
}

// Analyzer scores requests against retrieved regulation segments.
type Analyzer struct {
	retriever *retrieval.Retriever
	catalog   []compiledCategory
	articles  *graph.PatternExtractor
	cfg       Config
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithCatalog replaces the built-in risk categories.
func WithCatalog(cats []Category) Option {
	return func(a *Analyzer) { a.catalog = compile(cats) }
}

// New creates an Analyzer. Zero config fields take their defaults.
func New(r *retrieval.Retriever, cfg Config, opts ...Option) *Analyzer {
	def := DefaultConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.HighThreshold == 0 && cfg.LowThreshold == 0 {
		cfg.HighThreshold, cfg.LowThreshold = def.HighThreshold, def.LowThreshold
	}
	a := &Analyzer{
		retriever: r,
		catalog:   compile(DefaultCatalog()),
		articles:  graph.NewPatternExtractor(),
		cfg:       cfg,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Analyze retrieves the regulations closest to the request and scores every
// category. It makes no completion call, so identical requests over the same
// corpus give identical results.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Result, error) {
	query := req.Text()
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyRequest
	}

	hits, _, err := a.retriever.Retrieve(ctx, query, a.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("retrieving regulations: %w", err)
	}

	res := a.score(req, query, hits)
	slog.Info("compliance: analysis complete",
		"status", res.Status, "confidence", fmt.Sprintf("%.2f", res.Confidence),
		"risk_level", res.RiskLevel, "regulations", len(hits), "categories", len(res.Categories))
	return res, nil
}

// score is the pure part of Analyze.
func (a *Analyzer) score(req Request, query string, hits []vector.Hit) *Result {
	res := &Result{
		Request:             req,
		RegulationsChecked:  len(hits),
		ViolatedRegulations: []string{},
		ReferencedDocuments: []string{},
		Categories:          []CategoryScore{},
	}

	var aggregate float64
	docs := make(map[string]bool)
	for _, cat := range a.catalog {
		descEvidence, descFound := cat.evidence(query)

		var support float64
		var triggering []vector.Hit
		found := make(map[string]bool)
		for _, p := range descFound {
			found[p] = true
		}
		for _, h := range hits {
			w, segFound := cat.evidence(h.Metadata.Text)
			if w == 0 || h.Score <= 0 {
				continue
			}
			triggering = append(triggering, h)
			for _, p := range segFound {
				found[p] = true
			}
			support = max(support, h.Score*w)
		}

		s := support * (1 + descEvidence) / 2
		aggregate = max(aggregate, s)
		if s <= a.cfg.LowThreshold {
			continue
		}

		cs := CategoryScore{
			Category:            cat.Name,
			Title:               cat.Title,
			Score:               s,
			RegulationSupport:   support,
			DescriptionEvidence: descEvidence,
			Articles:            a.articlesIn(triggering),
		}
		for _, ind := range cat.Indicators {
			if found[ind.Phrase] {
				cs.Indicators = append(cs.Indicators, ind.Phrase)
			}
		}
		for _, h := range triggering {
			cs.SegmentIDs = append(cs.SegmentIDs, h.SegmentID)
			name := h.Metadata.DocumentName
			if name == "" {
				name = h.Metadata.DocumentID
			}
			docs[name] = true
		}
		res.Categories = append(res.Categories, cs)
	}

	sort.SliceStable(res.Categories, func(i, j int) bool {
		if res.Categories[i].Score != res.Categories[j].Score {
			return res.Categories[i].Score > res.Categories[j].Score
		}
		return res.Categories[i].Category < res.Categories[j].Category
	})

	res.RiskScore = aggregate
	res.RiskLevel = riskLevel(aggregate)
	switch {
	case aggregate > a.cfg.HighThreshold:
		res.Status = StatusViolation
	case aggregate > a.cfg.LowThreshold:
		res.Status = StatusAtRisk
	default:
		res.Status = StatusCompliant
	}
	switch {
	case len(hits) == 0:
		// Nothing to judge against.
		res.Confidence = 0
	case res.Status == StatusCompliant:
		res.Confidence = clamp01(1 - aggregate)
	default:
		res.Confidence = clamp01(aggregate)
	}

	for _, cs := range res.Categories {
		label := cs.Title
		if len(cs.Articles) > 0 {
			label += " (" + strings.Join(cs.Articles, ", ") + ")"
		}
		res.ViolatedRegulations = append(res.ViolatedRegulations, label)
	}
	for d := range docs {
		res.ReferencedDocuments = append(res.ReferencedDocuments, d)
	}
	sort.Strings(res.ReferencedDocuments)
	res.Recommendations = a.recommendations(res)
	return res
}

// articlesIn lists the article references in hits, in order of appearance.
func (a *Analyzer) articlesIn(hits []vector.Hit) []string {
	var out []string
	seen := make(map[string]bool)
	for _, h := range hits {
		for _, m := range a.articles.Mentions(h.Metadata.Text) {
			if m.Type == graph.TypeArticle && !seen[m.Label] {
				seen[m.Label] = true
				out = append(out, m.Label)
			}
		}
	}
	return out
}

const maxRecommendations = 8

var generalRecommendations = []string{
	"Establish a comprehensive compliance management system",
	"Regularly review regulatory updates and train staff on them",
}

func (a *Analyzer) recommendations(res *Result) []string {
	var recs []string
	switch res.Status {
	case StatusViolation:
		recs = append(recs, "Immediately stop the related business activities and carry out a full compliance remediation")
	case StatusAtRisk:
		recs = append(recs, "Conduct a compliance review and improve the related systems and processes")
	}
	byName := make(map[string]compiledCategory, len(a.catalog))
	for _, c := range a.catalog {
		byName[c.Name] = c
	}
	for _, cs := range res.Categories {
		recs = append(recs, byName[cs.Category].Recommendations...)
	}
	switch res.RiskLevel {
	case RiskHigh:
		recs = append(recs, "Consult professional legal advisors to prepare a detailed remediation plan")
	case RiskMedium:
		recs = append(recs, "Strengthen internal compliance training and set up regular self-inspection")
	default:
		recs = append(recs, "Continue maintaining good compliance practices and keep regulatory knowledge up to date")
	}
	recs = append(recs, generalRecommendations...)

	out := []string{}
	seen := make(map[string]bool)
	for _, r := range recs {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
		if len(out) == maxRecommendations {
			break
		}
	}
	return out
}

func riskLevel(score float64) RiskLevel {
	switch {
	case score < 0.3:
		return RiskLow
	case score < 0.7:
		return RiskMedium
	default:
		return RiskHigh
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
