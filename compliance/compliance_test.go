package compliance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/lexgraph/embedding"
	"github.com/brunobiangulo/lexgraph/llm/llmtest"
	"github.com/brunobiangulo/lexgraph/retrieval"
	"github.com/brunobiangulo/lexgraph/vector"
)

const dim = 64

const (
	competitionRule = "Article 3 prohibits price fixing and collusion between competitors. Any cartel agreement to fix prices is void."
	privacyRule     = "Article 12 prohibits unauthorized data transfer of personal data without consent."
	weatherNote     = "The annual report describes weather patterns in the region."
)

type segment struct {
	id, doc, text string
}

var corpus = []segment{
	{"seg-1", "competition.txt", competitionRule},
	{"seg-2", "privacy.txt", privacyRule},
	{"seg-3", "weather.txt", weatherNote},
}

func newAnalyzer(t testing.TB, cfg Config, segs []segment) (*Analyzer, *llmtest.Embedder) {
	t.Helper()
	emb := llmtest.NewEmbedder(dim)
	idx := vector.NewFlat(dim)
	for i, s := range segs {
		err := idx.Add(context.Background(), vector.Item{
			SegmentID: s.id,
			Vector:    llmtest.HashVector(s.text, dim),
			Metadata:  vector.Metadata{DocumentID: "doc-" + s.doc, DocumentName: s.doc, Ordinal: i, Text: s.text},
		})
		require.NoError(t, err)
	}
	r := retrieval.New(embedding.New(emb, dim, embedding.Config{}), idx, retrieval.Config{})
	return New(r, cfg), emb
}

func TestAnalyzeViolation(t *testing.T) {
	a, _ := newAnalyzer(t, Config{}, corpus)

	res, err := a.Analyze(context.Background(), Request{Description: competitionRule})
	require.NoError(t, err)

	assert.Equal(t, StatusViolation, res.Status)
	assert.InDelta(t, 0.9512, res.Confidence, 1e-3)
	assert.Equal(t, res.RiskScore, res.Confidence)
	assert.Equal(t, RiskHigh, res.RiskLevel)
	assert.Equal(t, []string{"Price Fixing (Article 3)"}, res.ViolatedRegulations)
	assert.Equal(t, []string{"competition.txt"}, res.ReferencedDocuments)
	assert.Equal(t, 3, res.RegulationsChecked)

	require.Len(t, res.Categories, 1)
	cs := res.Categories[0]
	assert.Equal(t, "price_fixing", cs.Category)
	assert.Equal(t, 1.0, cs.DescriptionEvidence)
	assert.Equal(t, []string{"seg-1"}, cs.SegmentIDs)
	assert.Equal(t, []string{"price fixing", "fix prices", "cartel", "collusion"}, cs.Indicators)

	assert.Equal(t, []string{
		"Immediately stop the related business activities and carry out a full compliance remediation",
		"Stop any coordination of prices with competitors, suppliers or distributors",
		"Set prices independently and document how pricing decisions are made",
		"Consult professional legal advisors to prepare a detailed remediation plan",
		"Establish a comprehensive compliance management system",
		"Regularly review regulatory updates and train staff on them",
	}, res.Recommendations)
}

func TestAnalyzeAtRisk(t *testing.T) {
	a, _ := newAnalyzer(t, Config{}, corpus)

	res, err := a.Analyze(context.Background(), Request{
		Description:  "We transfer personal data of customers without consent",
		BusinessType: "online retail",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusAtRisk, res.Status)
	assert.InDelta(t, 0.4968, res.Confidence, 1e-3)
	assert.Equal(t, RiskMedium, res.RiskLevel)
	assert.Equal(t, []string{"Data Protection (Article 12)"}, res.ViolatedRegulations)
	assert.Equal(t, []string{"privacy.txt"}, res.ReferencedDocuments)
	require.Len(t, res.Categories, 1)
	assert.InDelta(t, 0.9, res.Categories[0].DescriptionEvidence, 1e-9)
	assert.Equal(t, "Conduct a compliance review and improve the related systems and processes", res.Recommendations[0])
	assert.Contains(t, res.Recommendations, "Strengthen internal compliance training and set up regular self-inspection")
}

func TestAnalyzeCompliant(t *testing.T) {
	a, _ := newAnalyzer(t, Config{}, corpus)

	res, err := a.Analyze(context.Background(), Request{Description: "We bake bread and sell it at a bakery"})
	require.NoError(t, err)

	assert.Equal(t, StatusCompliant, res.Status)
	assert.InDelta(t, 1-0.0716, res.Confidence, 1e-3)
	assert.Equal(t, RiskLow, res.RiskLevel)
	assert.Empty(t, res.ViolatedRegulations)
	assert.NotNil(t, res.ViolatedRegulations)
	assert.Empty(t, res.ReferencedDocuments)
	assert.Empty(t, res.Categories)
	assert.Equal(t, []string{
		"Continue maintaining good compliance practices and keep regulatory knowledge up to date",
		"Establish a comprehensive compliance management system",
		"Regularly review regulatory updates and train staff on them",
	}, res.Recommendations)
}

func TestAnalyzeConfigurableThresholds(t *testing.T) {
	a, _ := newAnalyzer(t, Config{HighThreshold: 0.45, LowThreshold: 0.2}, corpus)

	res, err := a.Analyze(context.Background(), Request{
		Description:  "We transfer personal data of customers without consent",
		BusinessType: "online retail",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusViolation, res.Status)
}

func TestAnalyzeEmptyCorpus(t *testing.T) {
	a, _ := newAnalyzer(t, Config{}, nil)

	res, err := a.Analyze(context.Background(), Request{Description: competitionRule})
	require.NoError(t, err)
	assert.Equal(t, StatusCompliant, res.Status)
	assert.Zero(t, res.Confidence)
	assert.Zero(t, res.RegulationsChecked)
}

func TestAnalyzeErrors(t *testing.T) {
	a, emb := newAnalyzer(t, Config{}, corpus)

	_, err := a.Analyze(context.Background(), Request{Description: "  "})
	assert.ErrorIs(t, err, ErrEmptyRequest)

	emb.FailOn = map[string]error{"Detailed Description: bribes": errors.New("unreachable")}
	_, err = a.Analyze(context.Background(), Request{Description: "bribes"})
	assert.ErrorIs(t, err, embedding.ErrEmbeddingService)
}

func TestRequestText(t *testing.T) {
	req := Request{
		Description:  "Sells imported goods",
		BusinessType: "wholesale",
		Attributes: map[string]string{
			"region":          "EU",
			"market_behavior": "exclusive dealing",
			"price_strategy":  "below cost",
			"channel":         "online",
			"empty":           "",
		},
	}
	assert.Equal(t, "Business Type: wholesale\n"+
		"Price Strategy: below cost\n"+
		"Market Behavior: exclusive dealing\n"+
		"Detailed Description: Sells imported goods\n"+
		"channel: online\n"+
		"region: EU", req.Text())
	assert.Empty(t, Request{}.Text())
}

func TestIndicatorMatching(t *testing.T) {
	cats := compile(DefaultCatalog())
	byName := map[string]compiledCategory{}
	for _, c := range cats {
		byName[c.Name] = c
	}

	w, found := byName["fraud_bribery"].evidence("They paid BRIBES and other inducements.")
	assert.InDelta(t, 1.0, w, 1e-9)
	assert.Equal(t, []string{"bribe", "inducement"}, found)

	w, found = byName["price_fixing"].evidence("Price-fixing is banned.")
	assert.InDelta(t, 0.6, w, 1e-9)
	assert.Equal(t, []string{"price fixing"}, found)

	w, _ = byName["licensing"].evidence("The licensed operator")
	assert.Zero(t, w)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{TopK: 10, HighThreshold: 0.3, LowThreshold: 0.6}.Validate())
	assert.Error(t, Config{TopK: 10, HighThreshold: 1.2, LowThreshold: 0.3}.Validate())
	assert.Error(t, Config{TopK: 0, HighThreshold: 0.6, LowThreshold: 0.3}.Validate())
}

func TestCompare(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	results := []Result{
		{ID: "b", CreatedAt: t0.Add(time.Hour), Status: StatusViolation, RiskLevel: RiskHigh, Confidence: 0.9,
			Categories: []CategoryScore{{Title: "Price Fixing"}}},
		{ID: "a", CreatedAt: t0, Status: StatusCompliant, RiskLevel: RiskLow, Confidence: 0.8},
		{ID: "c", CreatedAt: t0.Add(2 * time.Hour), Status: StatusAtRisk, RiskLevel: RiskMedium, Confidence: 0.4,
			Categories: []CategoryScore{{Title: "Price Fixing"}, {Title: "Licensing"}}},
	}

	c := Compare(results)
	assert.Equal(t, 3, c.TotalAnalyses)
	assert.Equal(t, map[string]int{"Violation": 1, "Compliant": 1, "AtRisk": 1}, c.StatusDistribution)
	assert.Equal(t, map[string]int{"High": 1, "Low": 1, "Medium": 1}, c.RiskLevelDistribution)
	assert.Equal(t, map[string]int{"Price Fixing": 2, "Licensing": 1}, c.CommonViolations)
	assert.InDelta(t, 0.7, c.AverageConfidence, 1e-9)
	require.Len(t, c.Trend, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{c.Trend[0].ID, c.Trend[1].ID, c.Trend[2].ID})

	empty := Compare(nil)
	assert.Zero(t, empty.TotalAnalyses)
	assert.Zero(t, empty.AverageConfidence)
}
