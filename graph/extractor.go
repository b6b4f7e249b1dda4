package graph

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Extractor finds entity mentions and candidate relations in text.
// Implementations are best-effort: no matches is not an error.
type Extractor interface {
	Extract(ctx context.Context, text string) (Extraction, error)
}

// Rule maps a pattern onto a node type. Canon turns the raw match into the
// node label; an empty result discards the match.
type Rule struct {
	Type    NodeType
	Pattern *regexp.Regexp
	Canon   func(string) string
}

// DefaultWindow is the largest gap, in characters, between two mentions
// that still yields a relation candidate.
const DefaultWindow = 120

var (
	reArticleNumbered = regexp.MustCompile(`(?i)\b(?:article|section|clause|chapter|part|regulation|rule)\s+\d+[a-z]?\b`)
	reArticleTitle    = regexp.MustCompile(`(?i)\b(?:title|subtitle)\s+[ivxlcdm]+\b`)
	reArticleNamed    = regexp.MustCompile(`\b(?:[A-Z][A-Za-z]+\s+){1,4}(?:Law|Act|Code)\b`)

	rePenaltyFine    = regexp.MustCompile(`(?i)\b(?:fines?|penalt(?:y|ies)|sanctions?)(?:\s+of\s+(?:up\s+to\s+)?(?:\$|€|£|usd\s*|eur\s*)?\d+(?:,\d{3})*(?:\.\d+)?(?:\s*(?:million|billion|thousand))?(?:\s*(?:dollars|euros|yuan))?)?`)
	rePenaltyMoney   = regexp.MustCompile(`(?i)(?:\$|€|£)\s?\d+(?:,\d{3})*(?:\.\d+)?(?:\s*(?:million|billion|thousand))?`)
	rePenaltyPrison  = regexp.MustCompile(`(?i)\b(?:\d+\s+(?:years?|months?|days?)\s+(?:of\s+)?(?:imprisonment|prison|jail)|(?:imprisonment|prison|jail)(?:\s+(?:term\s+)?of\s+(?:up\s+to\s+)?\d+\s+(?:years?|months?|days?))?)\b`)
	rePenaltyLicense = regexp.MustCompile(`(?i)\b(?:suspension|revocation|termination|cancellation)\s+of\s+(?:the\s+|its\s+|their\s+)?(?:licen[cs]es?|permits?|authori[sz]ations?|registrations?)\b`)

	reViolation = regexp.MustCompile(`(?i)\b(?:violations?|breach(?:es)?|infringements?|non-compliance|noncompliance|fraud|price[\s-]fixing|bid[\s-]rigging|market\s+manipulation|unfair\s+competition|discrimination|monopol(?:y|ization)|late\s+filing|failure\s+to\s+(?:file|report|notify|disclose|register)|unauthori[sz]ed\s+[a-z]+(?:\s+(?:transfer|access|disclosure|use|processing|sale|collection))?)\b`)

	reObligation = regexp.MustCompile(`(?i)\b(?:shall|must|(?:is|are)\s+required\s+to|(?:is|are)\s+obliged\s+to)\s+(?:not\s+)?[a-z]+\b`)

	reOrgRole  = regexp.MustCompile(`(?i)\b(?:suppliers?|wholesalers?|retailers?|distributors?|manufacturers?|licensees?|permit\s+holders?|operators?|data\s+controllers?|controllers?|processors?|employers?|importers?|exporters?)\b`)
	reOrgNamed = regexp.MustCompile(`\b(?:[A-Z][A-Za-z&]+\s+){1,4}(?:Inc|Corp|Corporation|Ltd|LLC|Authority|Commission|Agency|Board|Department)\b`)

	reConcept = regexp.MustCompile(`(?i)\b(?:compliance|consumer\s+protection|antitrust|competition|data\s+protection|personal\s+data|privacy|pricing|trade|commerce|three-tier\s+system|posted\s+price|inducements?)\b`)

	reVerb = regexp.MustCompile(`(?i)\b(?:imposes?|imposed|prohibits?|prohibited|forbids?|requires?|required|regulates?|governs?|applies\s+to|leads?\s+to|results?\s+in|(?:is\s+|are\s+)?subject\s+to|(?:is\s+|are\s+)?punishable\s+by|establish(?:es)?|defines?|permits?|authori[sz]es?|violates?|commits?|amends?|supersedes?|references?|refers\s+to|(?:is\s+|are\s+)?liable\s+for|specifies|provides\s+for|triggers?|incurs?)\b`)
)

// DefaultRules returns the built-in legal entity catalog.
func DefaultRules() []Rule {
	return []Rule{
		{TypeArticle, reArticleNumbered, canonArticle},
		{TypeArticle, reArticleTitle, canonTitle},
		{TypeArticle, reArticleNamed, canonNamed},
		{TypePenalty, rePenaltyFine, canonLower},
		{TypePenalty, rePenaltyMoney, canonLower},
		{TypePenalty, rePenaltyPrison, canonLower},
		{TypePenalty, rePenaltyLicense, canonLower},
		{TypeViolation, reViolation, canonLower},
		{TypeObligation, reObligation, canonLower},
		{TypeOrganization, reOrgRole, canonRole},
		{TypeOrganization, reOrgNamed, canonNamed},
		{TypeConcept, reConcept, canonLower},
	}
}

// PatternExtractor is a deterministic Extractor driven by a rule catalog.
type PatternExtractor struct {
	rules  []Rule
	verbs  *regexp.Regexp
	window int
}

// PatternOption configures a PatternExtractor.
type PatternOption func(*PatternExtractor)

// WithWindow sets the co-occurrence window in characters.
func WithWindow(n int) PatternOption {
	return func(p *PatternExtractor) {
		if n > 0 {
			p.window = n
		}
	}
}

// WithRules replaces the rule catalog.
func WithRules(rules []Rule) PatternOption {
	return func(p *PatternExtractor) { p.rules = rules }
}

// NewPatternExtractor returns an extractor using DefaultRules.
func NewPatternExtractor(opts ...PatternOption) *PatternExtractor {
	p := &PatternExtractor{rules: DefaultRules(), verbs: reVerb, window: DefaultWindow}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Extract implements Extractor.
func (p *PatternExtractor) Extract(ctx context.Context, text string) (Extraction, error) {
	if err := ctx.Err(); err != nil {
		return Extraction{}, err
	}
	text = norm.NFC.String(text)
	mentions := p.mentions(text)
	return Extraction{Mentions: mentions, Relations: p.relations(text, mentions)}, nil
}

// Mentions returns the entity mentions in text ordered by position.
func (p *PatternExtractor) Mentions(text string) []Mention {
	return p.mentions(norm.NFC.String(text))
}

type match struct {
	Mention
	rule int
}

func (p *PatternExtractor) mentions(text string) []Mention {
	var all []match
	for ri, r := range p.rules {
		for _, loc := range r.Pattern.FindAllStringIndex(text, -1) {
			raw := text[loc[0]:loc[1]]
			label := r.Canon(raw)
			if label == "" {
				continue
			}
			all = append(all, match{Mention{Label: label, Type: r.Type, Start: loc[0], End: loc[1]}, ri})
		}
	}

	// Earliest start wins, then the longest match, then catalog order.
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Start != all[j].Start {
			return all[i].Start < all[j].Start
		}
		if li, lj := all[i].End-all[i].Start, all[j].End-all[j].Start; li != lj {
			return li > lj
		}
		return all[i].rule < all[j].rule
	})

	out := make([]Mention, 0, len(all))
	end := 0
	for _, m := range all {
		if m.Start < end {
			continue
		}
		out = append(out, m.Mention)
		end = m.End
	}
	return out
}

func (p *PatternExtractor) relations(text string, mentions []Mention) []Relation {
	var out []Relation
	seen := make(map[Relation]bool)
	for i := range mentions {
		for j := i + 1; j < len(mentions); j++ {
			a, b := mentions[i], mentions[j]
			gap := text[a.End:b.Start]
			if utf8.RuneCountInString(gap) > p.window {
				break
			}
			if a.Key() == b.Key() {
				continue
			}
			rel := Relation{Source: a.Key(), Target: b.Key(), Relation: p.verbPhrase(gap)}
			if !seen[rel] {
				seen[rel] = true
				out = append(out, rel)
			}
		}
	}
	return out
}

// verbPhrase returns the first connecting verb phrase in gap, or RelatedTo.
func (p *PatternExtractor) verbPhrase(gap string) string {
	if v := p.verbs.FindString(gap); v != "" {
		return collapseLower(v)
	}
	return RelatedTo
}

func collapseLower(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func canonLower(s string) string { return collapseLower(s) }

// canonArticle renders "ARTICLE  5A" as "Article 5a".
func canonArticle(s string) string {
	f := strings.Fields(s)
	if len(f) != 2 {
		return ""
	}
	return titleWord(f[0]) + " " + strings.ToLower(f[1])
}

// canonTitle renders "title iv" as "Title IV".
func canonTitle(s string) string {
	f := strings.Fields(s)
	if len(f) != 2 {
		return ""
	}
	return titleWord(f[0]) + " " + strings.ToUpper(f[1])
}

var leadingDeterminers = map[string]bool{
	"The": true, "This": true, "That": true, "These": true, "Such": true,
	"Each": true, "Any": true, "Every": true, "Under": true, "Of": true,
}

// canonNamed strips leading determiners from capitalised names such as
// "The Sherman Act" and drops matches left with only the keyword.
func canonNamed(s string) string {
	f := strings.Fields(s)
	for len(f) > 1 && leadingDeterminers[f[0]] {
		f = f[1:]
	}
	if len(f) < 2 {
		return ""
	}
	return strings.Join(f, " ")
}

// canonRole lowercases a party role and drops a plural "s".
func canonRole(s string) string {
	s = collapseLower(s)
	return strings.TrimSuffix(s, "s")
}

func titleWord(w string) string {
	r := []rune(strings.ToLower(w))
	if len(r) == 0 {
		return ""
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
