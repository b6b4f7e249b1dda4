package compliance

import (
	"regexp"
	"strings"
)

// Indicator is a weighted phrase that signals a risk category.
type Indicator struct {
	Phrase string  `json:"phrase"`
	Weight float64 `json:"weight"`
}

// Category is one family of regulatory risk.
type Category struct {
	Name            string      `json:"name"`
	Title           string      `json:"title"`
	Indicators      []Indicator `json:"indicators"`
	Recommendations []string    `json:"recommendations"`
}

// compiledCategory pairs a category with the matchers for its indicators.
type compiledCategory struct {
	Category
	matchers []*regexp.Regexp
}

// compile builds one case-insensitive matcher per indicator. Words may be
// separated by any whitespace or hyphens and may carry a plural suffix.
func compile(cats []Category) []compiledCategory {
	out := make([]compiledCategory, len(cats))
	for i, c := range cats {
		cc := compiledCategory{Category: c, matchers: make([]*regexp.Regexp, len(c.Indicators))}
		for j, ind := range c.Indicators {
			words := strings.Fields(strings.ToLower(ind.Phrase))
			for k, w := range words {
				words[k] = regexp.QuoteMeta(w)
			}
			cc.matchers[j] = regexp.MustCompile(`(?i)\b` + strings.Join(words, `[\s-]+`) + `(?:s|es)?\b`)
		}
		out[i] = cc
	}
	return out
}

// evidence returns the capped weight of the indicators found in text and
// their phrases in catalog order.
func (c compiledCategory) evidence(text string) (float64, []string) {
	var sum float64
	var found []string
	for i, m := range c.matchers {
		if m.MatchString(text) {
			sum += c.Indicators[i].Weight
			found = append(found, c.Indicators[i].Phrase)
		}
	}
	return min(sum, 1), found
}

// DefaultCatalog returns the built-in risk categories.
func DefaultCatalog() []Category {
	return []Category{
		{
			Name:  "price_fixing",
			Title: "Price Fixing",
			Indicators: []Indicator{
				{"price fixing", 0.6},
				{"fix prices", 0.6},
				{"cartel", 0.6},
				{"collusion", 0.5},
				{"bid rigging", 0.6},
				{"agree on prices", 0.5},
				{"resale price maintenance", 0.5},
				{"minimum resale price", 0.5},
				{"price coordination", 0.5},
				{"uniform pricing", 0.3},
			},
			Recommendations: []string{
				"Stop any coordination of prices with competitors, suppliers or distributors",
				"Set prices independently and document how pricing decisions are made",
			},
		},
		{
			Name:  "unfair_competition",
			Title: "Unfair Competition",
			Indicators: []Indicator{
				{"unfair competition", 0.6},
				{"predatory pricing", 0.6},
				{"abuse of dominant position", 0.6},
				{"market manipulation", 0.6},
				{"false advertising", 0.5},
				{"below cost", 0.4},
				{"dumping", 0.4},
				{"exclusive dealing", 0.4},
				{"monopoly", 0.4},
				{"market dominance", 0.3},
				{"tying", 0.3},
			},
			Recommendations: []string{
				"Review pricing below cost and exclusive arrangements with competition counsel",
				"Make sure advertising claims are accurate and can be substantiated",
			},
		},
		{
			Name:  "data_protection",
			Title: "Data Protection",
			Indicators: []Indicator{
				{"data breach", 0.6},
				{"sell customer data", 0.6},
				{"without consent", 0.5},
				{"share user data", 0.5},
				{"personal data", 0.4},
				{"data transfer", 0.4},
				{"unauthorized", 0.3},
				{"privacy", 0.3},
				{"data controller", 0.3},
				{"tracking", 0.2},
			},
			Recommendations: []string{
				"Obtain valid consent before collecting, sharing or transferring personal data",
				"Keep a record of processing activities and run a data protection impact assessment",
			},
		},
		{
			Name:  "consumer_protection",
			Title: "Consumer Protection",
			Indicators: []Indicator{
				{"bait and switch", 0.6},
				{"misleading", 0.5},
				{"deceptive", 0.5},
				{"hidden fee", 0.5},
				{"price discrimination", 0.5},
				{"false claim", 0.5},
				{"consumer protection", 0.4},
				{"refund", 0.2},
				{"warranty", 0.2},
			},
			Recommendations: []string{
				"Disclose all prices, fees and conditions to consumers before purchase",
				"Honour refund and warranty obligations and keep complaint records",
			},
		},
		{
			Name:  "licensing",
			Title: "Licensing",
			Indicators: []Indicator{
				{"without a license", 0.6},
				{"unlicensed", 0.6},
				{"expired license", 0.5},
				{"revocation", 0.3},
				{"suspension", 0.3},
				{"license", 0.2},
				{"permit", 0.2},
				{"registration", 0.2},
				{"authorization", 0.2},
			},
			Recommendations: []string{
				"Verify that every licence and permit required for the activity is held and current",
				"Track licence renewal dates and the conditions attached to each permit",
			},
		},
		{
			Name:  "reporting",
			Title: "Reporting and Filing",
			Indicators: []Indicator{
				{"failure to file", 0.6},
				{"failure to report", 0.6},
				{"late filing", 0.5},
				{"failure to notify", 0.5},
				{"disclosure", 0.3},
				{"record keeping", 0.3},
				{"filing", 0.2},
				{"reporting", 0.2},
				{"notify", 0.2},
				{"audit", 0.2},
			},
			Recommendations: []string{
				"Build a filing calendar covering every statutory report and deadline",
				"Assign an owner for regulatory notifications and keep evidence of submission",
			},
		},
		{
			Name:  "fraud_bribery",
			Title: "Fraud and Bribery",
			Indicators: []Indicator{
				{"bribery", 0.7},
				{"bribe", 0.7},
				{"money laundering", 0.7},
				{"fraud", 0.6},
				{"kickback", 0.6},
				{"embezzlement", 0.6},
				{"falsified", 0.5},
				{"forged", 0.5},
				{"undisclosed payment", 0.5},
				{"inducement", 0.4},
			},
			Recommendations: []string{
				"Stop any payment or inducement that could influence a business decision improperly",
				"Introduce anti-bribery controls with approval and audit of third-party payments",
			},
		},
	}
}
