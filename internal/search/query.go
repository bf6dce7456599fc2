// Package search implements the search engine and its intent/suggestion
// subcomponent: parse -> plan -> execute FTS -> rank -> highlight ->
// cache; the content-type filter is a ranking boost, not a stage that
// removes hits. Stop words are flagged during parsing (see Term.Stop):
// the name and type boosts ignore them, and BuildFTSQuery leaves them out
// of the FTS query unless the query has no other terms.
package search

import (
	"regexp"
	"strings"

	"github.com/orsinium-labs/stopwords"
)

var stopwordChecker = stopwords.MustGet("en")

// Complexity classifies a parsed query for planner cost decisions.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityComplex Complexity = "complex"
)

// Term is one parsed query token.
type Term struct {
	Text   string
	Phrase bool
	Prefix bool
	Fuzzy  bool
	Stop   bool // a common English stopword; de-weighted, never dropped alone
}

// Query is the parsed representation of a raw search string.
type Query struct {
	Raw        string
	Terms      []Term
	Complexity Complexity
	Cost       float64
}

var phraseRe = regexp.MustCompile(`"([^"]+)"`)

// Parse extracts quoted phrases first (highest priority), then the
// remaining terms, tagging each with its prefix(*)/fuzzy(~) flags.
func Parse(raw string) Query {
	q := Query{Raw: raw}

	remaining := raw
	phraseCount := 0
	for _, m := range phraseRe.FindAllStringSubmatch(raw, -1) {
		text := strings.TrimSpace(m[1])
		if text == "" {
			continue
		}
		q.Terms = append(q.Terms, Term{Text: text, Phrase: true})
		phraseCount++
		remaining = strings.Replace(remaining, m[0], " ", 1)
	}

	wildcardCount, fuzzyCount, booleanCount := 0, 0, 0
	for _, tok := range strings.Fields(remaining) {
		upper := strings.ToUpper(tok)
		if upper == "AND" || upper == "OR" || upper == "NOT" {
			booleanCount++
			continue
		}
		term := Term{Text: tok}
		if strings.HasSuffix(tok, "*") {
			term.Prefix = true
			wildcardCount++
			term.Text = strings.TrimSuffix(tok, "*")
		}
		if strings.HasSuffix(term.Text, "~") {
			term.Fuzzy = true
			fuzzyCount++
			term.Text = strings.TrimSuffix(term.Text, "~")
		}
		term.Text = strings.TrimSpace(term.Text)
		if term.Text == "" {
			continue
		}
		if !term.Phrase && stopwordChecker.Contains(strings.ToLower(term.Text)) {
			term.Stop = true
		}
		q.Terms = append(q.Terms, term)
	}

	operatorSignals := wildcardCount + fuzzyCount + booleanCount + phraseCount
	if operatorSignals <= 2 {
		q.Complexity = ComplexitySimple
	} else {
		q.Complexity = ComplexityComplex
	}

	q.Cost = estimateCost(phraseCount, fuzzyCount, booleanCount, wildcardCount)
	return q
}

// estimateCost weighs phrases and fuzzy terms heaviest (most expensive
// to evaluate against FTS), booleans next (OR widens the scan), plain
// wildcards cheapest.
func estimateCost(phraseCount, fuzzyCount, booleanCount, wildcardCount int) float64 {
	return float64(phraseCount)*3 + float64(fuzzyCount)*2.5 + float64(booleanCount)*1.5 + float64(wildcardCount)*1.0
}

// DefaultLimit returns the recommended result cap for this query's
// complexity class.
func (q Query) DefaultLimit() int {
	if q.Complexity == ComplexitySimple {
		return 1000
	}
	return 100
}

// BuildFTSQuery renders the parsed terms into an FTS5 MATCH
// expression: phrases quoted, fuzzy terms approximated as prefix terms
// (the underlying engine has no edit-distance support), simple queries
// joined by implicit AND, complex queries joined by OR to favor
// recall.
func (q Query) BuildFTSQuery() string {
	if len(q.Terms) == 0 {
		return ""
	}
	meaningful := 0
	for _, t := range q.Terms {
		if !t.Stop {
			meaningful++
		}
	}
	parts := make([]string, 0, len(q.Terms))
	for _, t := range q.Terms {
		if t.Stop && meaningful > 0 {
			continue
		}
		parts = append(parts, renderTerm(t))
	}
	joiner := " AND "
	if q.Complexity == ComplexityComplex {
		joiner = " OR "
	}
	return strings.Join(parts, joiner)
}

func renderTerm(t Term) string {
	escaped := strings.ReplaceAll(t.Text, `"`, `""`)
	if t.Phrase {
		return `"` + escaped + `"`
	}
	if t.Prefix || t.Fuzzy {
		return escaped + "*"
	}
	return escaped
}
