package search

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/foundrylabs/memento/internal/registry"
)

// CacheTTL is the default lifetime of a cached result set.
const CacheTTL = 5 * time.Minute

// Result is one search response: ranked hits plus the snippets built
// for each.
type Result struct {
	Hits       []Hit
	Highlights map[string][]Highlight // keyed by entity name
	FromCache  bool
}

type cacheEntry struct {
	result    Result
	expiresAt time.Time
}

// Run executes the full parse -> plan -> execute FTS -> rank ->
// highlight -> cache pipeline for one context. No hit is removed after
// ranking; ContentTypeFilter only boosts entities that match it.
func Run(ctx *registry.Context, rawQuery string, params Params) (Result, error) {
	q := Parse(rawQuery)
	params.Query = q
	if params.Now.IsZero() {
		params.Now = time.Now()
	}
	if params.Preset.HalfLifeDays == 0 {
		params.Preset = ctx.Preset
	}

	fingerprint := Fingerprint(q.Raw, params)

	if cached, ok := ctx.SearchCache.Get(fingerprint); ok {
		if entry, ok := cached.(cacheEntry); ok && time.Now().Before(entry.expiresAt) {
			hit := entry.result
			hit.FromCache = true
			return hit, nil
		}
		ctx.SearchCache.Delete(fingerprint)
	}

	ftsQuery := q.BuildFTSQuery()
	if ftsQuery == "" {
		return Result{Highlights: map[string][]Highlight{}}, nil
	}

	limit := q.DefaultLimit()
	rawHits, err := ctx.Store.SearchFTS(ftsQuery, limit)
	if err != nil {
		return Result{}, err
	}

	candidates := make([]ranked, 0, len(rawHits))
	for _, rh := range rawHits {
		e, err := ctx.Store.GetEntityByNormalizedName(rh.NameNorm)
		if err != nil {
			continue
		}
		candidates = append(candidates, ranked{entity: *e, ftsRank: rh.FTSRank})
	}

	hits := Rank(candidates, params)

	highlights := make(map[string][]Highlight, len(hits))
	for _, h := range hits {
		highlights[h.Entity.Name] = BuildHighlights(h.Entity, params)
	}

	result := Result{Hits: hits, Highlights: highlights}
	ctx.SearchCache.Set(fingerprint, cacheEntry{result: result, expiresAt: time.Now().Add(CacheTTL)})

	return result, nil
}

// Fingerprint computes the cache key: normalized query + filter set +
// context set.
func Fingerprint(rawQuery string, params Params) string {
	h := sha256.New()
	fmt.Fprintf(h, "q=%s|ct=%s|cur=%s|uc=%s|convo=%s|recent=%s|intent=%s",
		strings.ToLower(strings.TrimSpace(rawQuery)),
		params.ContentTypeFilter,
		strings.ToLower(params.CurrentEntityName),
		params.UserContext,
		strings.ToLower(params.ConversationText),
		strings.Join(params.RecentSearchTerms, ","),
		params.Intent,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// InvalidateOnWrite clears a context's entire search cache; any write
// (of any kind) in a context invalidates that context's search cache
// in full — coarse invalidation is acceptable
func InvalidateOnWrite(ctx *registry.Context) {
	ctx.SearchCache.Clear()
}
