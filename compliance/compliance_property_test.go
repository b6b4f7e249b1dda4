package compliance

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var words = []string{
	"we", "fix", "prices", "with", "competitors", "cartel", "personal", "data",
	"without", "consent", "bribe", "license", "bakery", "bread", "late", "filing",
	"misleading", "refund", "monopoly", "transfer", "the", "region",
}

func sentence(picks []int) string {
	parts := make([]string, len(picks))
	for i, p := range picks {
		parts[i] = words[p]
	}
	return strings.Join(parts, " ")
}

func TestAnalyzeProperties(t *testing.T) {
	a, _ := newAnalyzer(t, Config{}, corpus)
	again, _ := newAnalyzer(t, Config{}, corpus)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	desc := gen.SliceOfN(8, gen.IntRange(0, len(words)-1)).Map(sentence)

	properties.Property("identical requests give identical results", prop.ForAll(
		func(d string) bool {
			first, err := a.Analyze(context.Background(), Request{Description: d})
			if err != nil {
				return false
			}
			second, err := again.Analyze(context.Background(), Request{Description: d})
			if err != nil {
				return false
			}
			return reflect.DeepEqual(first, second)
		},
		desc,
	))

	properties.Property("verdict follows the risk score", prop.ForAll(
		func(d string) bool {
			res, err := a.Analyze(context.Background(), Request{Description: d})
			if err != nil {
				return false
			}
			if res.Confidence < 0 || res.Confidence > 1 {
				return false
			}
			if len(res.Recommendations) == 0 || len(res.Recommendations) > maxRecommendations {
				return false
			}
			for i := 1; i < len(res.Categories); i++ {
				if res.Categories[i].Score > res.Categories[i-1].Score {
					return false
				}
			}
			switch res.Status {
			case StatusViolation:
				return res.RiskScore > 0.6 && len(res.ViolatedRegulations) > 0
			case StatusAtRisk:
				return res.RiskScore > 0.3 && res.RiskScore <= 0.6 && len(res.ViolatedRegulations) > 0
			default:
				return res.RiskScore <= 0.3 && len(res.ViolatedRegulations) == 0
			}
		},
		desc,
	))

	properties.TestingRun(t)
}
