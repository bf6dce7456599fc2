package search

import (
	"fmt"
	"strings"

	"github.com/foundrylabs/memento/internal/store"
)

// Highlight is one labeled snippet produced for a search hit.
type Highlight struct {
	Field   string
	Snippet string
}

const highlightWindow = 50

// BuildHighlights produces up to one snippet per field: name, type,
// the first textual observation containing a query term (±50 chars),
// an active-context note, a user-context note, and a content-type
// summary — whichever apply to this hit and these params.
func BuildHighlights(e store.Entity, params Params) []Highlight {
	var out []Highlight

	out = append(out, Highlight{Field: "name", Snippet: "Name: " + e.Name})
	out = append(out, Highlight{Field: "type", Snippet: "Type: " + e.EntityType})

	if snippet, ok := firstMatchingObservation(e, params.Query); ok {
		out = append(out, Highlight{Field: "observation", Snippet: snippet})
	}

	if params.CurrentEntityName != "" && strings.EqualFold(params.CurrentEntityName, e.Name) {
		out = append(out, Highlight{Field: "active_context", Snippet: "Currently focused entity"})
	}

	if params.UserContext != "" {
		out = append(out, Highlight{Field: "user_context", Snippet: fmt.Sprintf("User context: %s", params.UserContext)})
	}

	if summary, ok := contentTypeSummary(e); ok {
		out = append(out, Highlight{Field: "content_types", Snippet: summary})
	}

	return out
}

func firstMatchingObservation(e store.Entity, q Query) (string, bool) {
	for _, o := range e.Observations {
		text := o.SearchableText()
		if text == "" {
			continue
		}
		lower := strings.ToLower(text)
		for _, t := range q.Terms {
			term := strings.ToLower(t.Text)
			if term == "" {
				continue
			}
			idx := strings.Index(lower, term)
			if idx < 0 {
				continue
			}
			start := idx - highlightWindow
			if start < 0 {
				start = 0
			}
			end := idx + len(term) + highlightWindow
			if end > len(text) {
				end = len(text)
			}
			prefix, suffix := "", ""
			if start > 0 {
				prefix = "…"
			}
			if end < len(text) {
				suffix = "…"
			}
			return prefix + text[start:end] + suffix, true
		}
	}
	return "", false
}

func contentTypeSummary(e store.Entity) (string, bool) {
	counts := make(map[store.ObservationKind]int)
	for _, o := range e.Observations {
		counts[o.Type]++
	}
	if len(counts) == 0 {
		return "", false
	}
	parts := make([]string, 0, len(counts))
	for _, kind := range []store.ObservationKind{
		store.ObservationText, store.ObservationImage, store.ObservationAudio,
		store.ObservationResourceLink, store.ObservationResource,
	} {
		if n := counts[kind]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", kind, n))
		}
	}
	return strings.Join(parts, ", "), true
}
