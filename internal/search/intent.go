package search

import (
	"sort"
	"strings"

	"github.com/coregx/ahocorasick"
)

// ContextHint names one structural signal detected in a raw query
// string.
type ContextHint string

const (
	HintQuestion    ContextHint = "question"
	HintExactPhrase ContextHint = "exact_phrase"
	HintWildcard    ContextHint = "wildcard"
	HintBoolean     ContextHint = "boolean"
)

// QueryComplexity is the three-way classifier analyze_intent reports,
// distinct from Query.Complexity's two-way simple/complex split used
// for FTS planning.
type QueryComplexity string

const (
	QueryComplexitySimple   QueryComplexity = "simple"
	QueryComplexityModerate QueryComplexity = "moderate"
	QueryComplexityComplex  QueryComplexity = "complex"
)

// IntentAnalysis is analyze_intent's result.
type IntentAnalysis struct {
	Intent      Intent
	Confidence  float64
	Complexity  QueryComplexity
	ContextHints []ContextHint
	Suggestions []string
}

// intentKeywords maps trigger words to the intent they imply, checked
// in table order so more specific verbs (e.g. "verify") win over
// generic ones ("find").
var intentKeywords = []struct {
	intent   Intent
	keywords []string
}{
	{IntentVerify, []string{"verify", "confirm", "check", "validate", "is it true"}},
	{IntentExplore, []string{"explore", "discover", "related", "connected", "everything about"}},
	{IntentBrowse, []string{"browse", "list", "show all", "all of", "overview"}},
	{IntentFind, []string{"find", "search", "look up", "where is", "who is", "what is"}},
}

// spellingCorrections is a small fixed dictionary of common typos seen
// against entity/domain vocabulary.
var spellingCorrections = map[string]string{
	"teh":     "the",
	"recieve": "receive",
	"occured": "occurred",
	"seperate": "separate",
	"alot":    "a lot",
}

// synonymTable maps a term to alternate phrasings a user might have
// meant.
var synonymTable = map[string][]string{
	"meeting":      {"appointment", "call", "discussion"},
	"task":         {"todo", "action item", "assignment"},
	"note":         {"memo", "reminder"},
	"contact":      {"person", "colleague"},
	"project":      {"initiative", "effort"},
	"deadline":     {"due date", "target date"},
}

// suggestionPatterns and suggestionAC let buildSuggestions locate every
// known typo/synonym key in one pass over the query instead of scanning
// the dictionary with strings.Contains per entry.
var suggestionPatterns []string
var suggestionAC *ahocorasick.Automaton

func init() {
	seen := make(map[string]bool)
	for typo := range spellingCorrections {
		if !seen[typo] {
			seen[typo] = true
			suggestionPatterns = append(suggestionPatterns, typo)
		}
	}
	for term := range synonymTable {
		if !seen[term] {
			seen[term] = true
			suggestionPatterns = append(suggestionPatterns, term)
		}
	}
	sort.Strings(suggestionPatterns)

	ac, err := ahocorasick.NewBuilder().
		AddStrings(suggestionPatterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		Build()
	if err != nil {
		panic(err)
	}
	suggestionAC = ac
}

// AnalyzeIntent implements analyze_intent: classifies the query's
// likely purpose, reports structural hints, and proposes up to 10
// suggestion strings.
func AnalyzeIntent(rawQuery string, currentEntities []string) IntentAnalysis {
	lower := strings.ToLower(rawQuery)

	intent, confidence := classifyIntent(lower)
	confidence = applyLengthHeuristic(confidence, rawQuery)

	q := Parse(rawQuery)
	hints := detectHints(rawQuery, q)
	complexity := classifyComplexity(q, hints)

	suggestions := buildSuggestions(lower, rawQuery, currentEntities)

	return IntentAnalysis{
		Intent:       intent,
		Confidence:   confidence,
		Complexity:   complexity,
		ContextHints: hints,
		Suggestions:  suggestions,
	}
}

func classifyIntent(lower string) (Intent, float64) {
	for _, row := range intentKeywords {
		for _, kw := range row.keywords {
			if strings.Contains(lower, kw) {
				return row.intent, 0.75
			}
		}
	}
	// No keyword matched: default to find with the floor confidence.
	return IntentFind, 0.5
}

func applyLengthHeuristic(confidence float64, rawQuery string) float64 {
	words := len(strings.Fields(rawQuery))
	switch {
	case words <= 2:
		confidence += 0.1
	case words >= 8:
		confidence -= 0.1
	}
	if confidence > 0.9 {
		confidence = 0.9
	}
	if confidence < 0.5 {
		confidence = 0.5
	}
	return confidence
}

func detectHints(rawQuery string, q Query) []ContextHint {
	var hints []ContextHint
	trimmed := strings.TrimSpace(rawQuery)
	if strings.HasSuffix(trimmed, "?") {
		hints = append(hints, HintQuestion)
	}
	for _, t := range q.Terms {
		if t.Phrase {
			hints = append(hints, HintExactPhrase)
			break
		}
	}
	for _, t := range q.Terms {
		if t.Prefix || t.Fuzzy {
			hints = append(hints, HintWildcard)
			break
		}
	}
	upper := strings.ToUpper(rawQuery)
	if strings.Contains(upper, " AND ") || strings.Contains(upper, " OR ") || strings.Contains(upper, " NOT ") {
		hints = append(hints, HintBoolean)
	}
	return hints
}

func classifyComplexity(q Query, hints []ContextHint) QueryComplexity {
	switch {
	case len(hints) == 0 && len(q.Terms) <= 3:
		return QueryComplexitySimple
	case len(hints) <= 1:
		return QueryComplexityModerate
	default:
		return QueryComplexityComplex
	}
}

func buildSuggestions(lower, rawQuery string, currentEntities []string) []string {
	var out []string

	for _, m := range suggestionAC.FindAllOverlapping([]byte(lower)) {
		key := suggestionPatterns[m.PatternID]
		if fix, ok := spellingCorrections[key]; ok {
			out = append(out, strings.Replace(rawQuery, key, fix, 1))
		}
		if synonyms, ok := synonymTable[key]; ok {
			for _, syn := range synonyms {
				out = append(out, strings.Replace(lower, key, syn, 1))
			}
		}
	}

	for _, e := range currentEntities {
		if e == "" {
			continue
		}
		out = append(out, rawQuery+" "+e)
	}

	if len(out) > 10 {
		out = out[:10]
	}
	return out
}
