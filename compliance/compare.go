package compliance

import (
	"sort"
	"time"
)

// TrendPoint is one analysis in a comparison, oldest first.
type TrendPoint struct {
	ID         string    `json:"analysis_id"`
	CreatedAt  time.Time `json:"created_at"`
	Status     Status    `json:"status"`
	RiskLevel  RiskLevel `json:"risk_level"`
	Confidence float64   `json:"confidence"`
}

// Comparison summarises several analyses.
type Comparison struct {
	TotalAnalyses         int            `json:"total_analyses"`
	StatusDistribution    map[string]int `json:"compliance_distribution"`
	RiskLevelDistribution map[string]int `json:"risk_level_distribution"`
	CommonViolations      map[string]int `json:"common_violations"`
	AverageConfidence     float64        `json:"average_confidence"`
	Trend                 []TrendPoint   `json:"trend"`
}

// Compare summarises results.
func Compare(results []Result) *Comparison {
	c := &Comparison{
		TotalAnalyses:         len(results),
		StatusDistribution:    make(map[string]int),
		RiskLevelDistribution: make(map[string]int),
		CommonViolations:      make(map[string]int),
		Trend:                 make([]TrendPoint, 0, len(results)),
	}
	var total float64
	for _, r := range results {
		c.StatusDistribution[string(r.Status)]++
		c.RiskLevelDistribution[string(r.RiskLevel)]++
		for _, cs := range r.Categories {
			c.CommonViolations[cs.Title]++
		}
		total += r.Confidence
		c.Trend = append(c.Trend, TrendPoint{
			ID:         r.ID,
			CreatedAt:  r.CreatedAt,
			Status:     r.Status,
			RiskLevel:  r.RiskLevel,
			Confidence: r.Confidence,
		})
	}
	if len(results) > 0 {
		c.AverageConfidence = total / float64(len(results))
	}
	sort.SliceStable(c.Trend, func(i, j int) bool { return c.Trend[i].CreatedAt.Before(c.Trend[j].CreatedAt) })
	return c
}
