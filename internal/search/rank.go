package search

import (
	"math"
	"strings"
	"time"

	"github.com/foundrylabs/memento/internal/aging"
	"github.com/foundrylabs/memento/internal/store"
)

// Intent classifies why the caller is searching.
type Intent string

const (
	IntentFind    Intent = "find"
	IntentBrowse  Intent = "browse"
	IntentExplore Intent = "explore"
	IntentVerify  Intent = "verify"
)

// UserContext is the coarse work/personal/neutral classification used
// for the context-aware boost table.
type UserContext string

const (
	UserContextWork     UserContext = "work"
	UserContextPersonal UserContext = "personal"
	UserContextNeutral  UserContext = "neutral"
)

// Params carries every optional context-aware ranking input for the
// boost model. Only Query is required; everything else
// only contributes a boost when non-empty.
type Params struct {
	Query              Query
	ContentTypeFilter  string
	CurrentEntityName  string
	UserContext        UserContext
	ConversationText   string
	RecentSearchTerms  []string
	Intent             Intent
	Preset             aging.Preset
	Now                time.Time
}

// Hit is one ranked result, carrying the score contributions needed
// for highlighting.
type Hit struct {
	Entity store.Entity
	Score  float64
}

// Rank scores each candidate entity against params, clamps to [0, 10],
// and sorts by score desc, tie-broken by shorter name then
// lexicographic.
func Rank(candidates []ranked, params Params) []Hit {
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}

	hits := make([]Hit, 0, len(candidates))
	for _, c := range candidates {
		score := baseRelevance(c.ftsRank)
		score *= nameBoost(c.entity.Name, params.Query)
		score *= entityTypeBoost(c.entity.EntityType, params.Query)
		score *= recencyBoost(c.entity.UpdatedAt, now)
		score *= observationRichnessBoost(len(c.entity.Observations))
		score *= contextAwareBoost(c.entity, params)
		score *= contentTypeBoost(c.entity, params.ContentTypeFilter)
		score *= prominenceBoost(params.Preset, c.entity.ProminenceScore)
		score *= intentBoost(c.entity, params)

		hits = append(hits, Hit{Entity: c.entity, Score: clampScore(score)})
	}

	sortHits(hits)
	return hits
}

// ranked is the pre-boost view Rank consumes: an entity plus the raw
// FTS rank it matched at.
type ranked struct {
	entity  store.Entity
	ftsRank float64
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 10 {
		return 10
	}
	return s
}

func sortHits(hits []Hit) {
	// Simple insertion sort: result sets are bounded by the planner's
	// complexity-based limit (100-1000), so O(n^2) worst case is fine
	// and keeps the tie-break rule easy to read.
	for i := 1; i < len(hits); i++ {
		j := i
		for j > 0 && less(hits[j], hits[j-1]) {
			hits[j], hits[j-1] = hits[j-1], hits[j]
			j--
		}
	}
}

func less(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if len(a.Entity.Name) != len(b.Entity.Name) {
		return len(a.Entity.Name) < len(b.Entity.Name)
	}
	return a.Entity.Name < b.Entity.Name
}

func baseRelevance(ftsRank float64) float64 {
	return 1.0 / (ftsRank + 1.0)
}

func nameBoost(name string, q Query) float64 {
	nameLower := strings.ToLower(name)
	for _, t := range q.Terms {
		if t.Stop {
			continue
		}
		term := strings.ToLower(t.Text)
		if term == "" {
			continue
		}
		if nameLower == term {
			return 10
		}
	}
	for _, t := range q.Terms {
		if t.Stop {
			continue
		}
		term := strings.ToLower(t.Text)
		if term == "" {
			continue
		}
		if strings.HasPrefix(nameLower, term) {
			return 5
		}
	}
	for _, t := range q.Terms {
		if t.Stop {
			continue
		}
		term := strings.ToLower(t.Text)
		if term != "" && strings.Contains(nameLower, term) {
			return 3
		}
	}
	return 1
}

func entityTypeBoost(entityType string, q Query) float64 {
	typeLower := strings.ToLower(entityType)
	for _, t := range q.Terms {
		if t.Stop || t.Text == "" {
			continue
		}
		if strings.Contains(typeLower, strings.ToLower(t.Text)) {
			return 2
		}
	}
	return 1
}

func recencyBoost(updatedAt, now time.Time) float64 {
	age := now.Sub(updatedAt)
	switch {
	case age <= 7*24*time.Hour:
		return 1.2
	case age <= 30*24*time.Hour:
		return 1.0
	case age > 365*24*time.Hour:
		return 0.8
	default:
		return 1.0
	}
}

func observationRichnessBoost(count int) float64 {
	if count > 5 {
		return 1.1
	}
	return 1.0
}

func contextAwareBoost(e store.Entity, p Params) float64 {
	boost := 1.0

	if p.CurrentEntityName != "" {
		nameLower := strings.ToLower(e.Name)
		currentLower := strings.ToLower(p.CurrentEntityName)
		if nameLower == currentLower {
			boost *= 2.0
		} else if strings.Contains(nameLower, currentLower) || strings.Contains(currentLower, nameLower) {
			boost *= 1.5
		}
	}

	switch p.UserContext {
	case UserContextWork:
		boost *= 1.3
	case UserContextPersonal:
		boost *= 1.2
	default:
		boost *= 1.0
	}

	if p.ConversationText != "" {
		convoLower := strings.ToLower(p.ConversationText)
		if strings.Contains(convoLower, strings.ToLower(e.Name)) {
			boost *= 1.4
		} else if conversationWordInObservations(convoLower, e) {
			boost *= 1.2
		}
	}

	if len(p.RecentSearchTerms) > 0 && recentSearchOverlap(e, p.RecentSearchTerms) {
		boost *= 1.3
	}

	return boost
}

func conversationWordInObservations(convoLower string, e store.Entity) bool {
	text := strings.ToLower(e.SearchableText())
	for _, word := range strings.Fields(convoLower) {
		if len(word) > 3 && strings.Contains(text, word) {
			return true
		}
	}
	return false
}

func recentSearchOverlap(e store.Entity, terms []string) bool {
	text := strings.ToLower(e.Name + " " + e.SearchableText())
	for _, term := range terms {
		if term != "" && strings.Contains(text, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

func contentTypeBoost(e store.Entity, filter string) float64 {
	if filter == "" {
		return 1.0
	}
	for _, o := range e.Observations {
		if string(o.Type) == filter {
			return 1.2
		}
	}
	return 1.0
}

// prominenceBoost maps an entity's prominence into the smooth
// sigmoid-based [1.0, 3.0] multiplier.
func prominenceBoost(preset aging.Preset, prominence float64) float64 {
	return aging.SearchBoost(preset, prominence)
}

func intentBoost(e store.Entity, p Params) float64 {
	switch p.Intent {
	case IntentFind:
		if exactNameMatch(e.Name, p.Query) {
			return 1.5
		}
	case IntentBrowse, IntentExplore:
		return 1.0 + math.Min(float64(len(e.Observations))*0.02, 0.5)
	case IntentVerify:
		if nameContainsAnyTerm(e.Name, p.Query) {
			return 1.3
		}
	}
	return 1.0
}

func exactNameMatch(name string, q Query) bool {
	nameLower := strings.ToLower(name)
	for _, t := range q.Terms {
		if strings.ToLower(t.Text) == nameLower {
			return true
		}
	}
	return false
}

func nameContainsAnyTerm(name string, q Query) bool {
	nameLower := strings.ToLower(name)
	for _, t := range q.Terms {
		if t.Text != "" && strings.Contains(nameLower, strings.ToLower(t.Text)) {
			return true
		}
	}
	return false
}
