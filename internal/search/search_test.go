package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foundrylabs/memento/internal/config"
	"github.com/foundrylabs/memento/internal/registry"
	"github.com/foundrylabs/memento/internal/store"
)

func newTestContext(t *testing.T) *registry.Context {
	t.Helper()
	cfg, err := config.Load(nil)
	require.NoError(t, err)
	cfg.EntityCacheSize = 16
	cfg.SearchCacheSize = 16

	reg := registry.New(cfg)
	ctx, err := reg.CreateContext("default", ":memory:", nil, nil, "")
	require.NoError(t, err)
	t.Cleanup(func() { ctx.Close() })
	return ctx
}

func TestParseSimpleVsComplex(t *testing.T) {
	simple := Parse("alpha")
	require.Equal(t, ComplexitySimple, simple.Complexity)

	intricate := Parse(`"alpha beta" gamma* delta~ AND epsilon OR zeta`)
	require.Equal(t, ComplexityComplex, intricate.Complexity)
}

func TestBuildFTSQueryQuotesPhrasesAndJoins(t *testing.T) {
	q := Parse(`"meeting notes" alpha`)
	fts := q.BuildFTSQuery()
	require.Contains(t, fts, `"meeting notes"`)
	require.Contains(t, fts, "alpha")
}

func TestRunFindsExactNameFirst(t *testing.T) {
	ctx := newTestContext(t)
	_, err := ctx.Store.CreateEntities([]store.Entity{
		{Name: "Alpha", EntityType: "project", Observations: []store.Observation{
			{Type: store.ObservationText, Text: "meeting with Bob about Alpha"},
		}},
		{Name: "Alphabet Inc", EntityType: "company"},
	})
	require.NoError(t, err)

	result, err := Run(ctx, "Alpha", Params{Now: time.Now()})
	require.NoError(t, err)
	require.NotEmpty(t, result.Hits)
	require.Equal(t, "Alpha", result.Hits[0].Entity.Name)
}

func TestRunDoesNotMatchMisspelledTermUnderDefaultTokenizer(t *testing.T) {
	ctx := newTestContext(t)
	_, err := ctx.Store.CreateEntities([]store.Entity{
		{Name: "Cafe", EntityType: "place", Observations: []store.Observation{
			{Type: store.ObservationText, Text: "meeting with Bob about Alpha"},
		}},
	})
	require.NoError(t, err)

	result, err := Run(ctx, "Alpha", Params{})
	require.NoError(t, err)
	require.NotEmpty(t, result.Hits)

	result, err = Run(ctx, "alfa", Params{})
	require.NoError(t, err)
	require.Empty(t, result.Hits)
}

func TestRunUsesCacheOnSecondCall(t *testing.T) {
	ctx := newTestContext(t)
	_, err := ctx.Store.CreateEntities([]store.Entity{{Name: "Alpha", EntityType: "project"}})
	require.NoError(t, err)

	first, err := Run(ctx, "Alpha", Params{})
	require.NoError(t, err)
	require.False(t, first.FromCache)

	second, err := Run(ctx, "Alpha", Params{})
	require.NoError(t, err)
	require.True(t, second.FromCache)
}

func TestInvalidateOnWriteClearsCache(t *testing.T) {
	ctx := newTestContext(t)
	_, err := ctx.Store.CreateEntities([]store.Entity{{Name: "Alpha", EntityType: "project"}})
	require.NoError(t, err)

	_, err = Run(ctx, "Alpha", Params{})
	require.NoError(t, err)

	InvalidateOnWrite(ctx)

	second, err := Run(ctx, "Alpha", Params{})
	require.NoError(t, err)
	require.False(t, second.FromCache)
}

func TestBuildHighlightsIncludesObservationWindow(t *testing.T) {
	e := store.Entity{
		Name:       "Alpha",
		EntityType: "project",
		Observations: []store.Observation{
			{Type: store.ObservationText, Text: "a long meeting with Bob about Alpha happened yesterday afternoon"},
		},
	}
	q := Parse("Alpha")
	highlights := BuildHighlights(e, Params{Query: q})

	var found bool
	for _, h := range highlights {
		if h.Field == "observation" {
			found = true
			require.Contains(t, h.Snippet, "Alpha")
		}
	}
	require.True(t, found)
}

func TestAnalyzeIntentClassifiesFind(t *testing.T) {
	analysis := AnalyzeIntent("find the meeting notes", nil)
	require.Equal(t, IntentFind, analysis.Intent)
	require.GreaterOrEqual(t, analysis.Confidence, 0.5)
	require.LessOrEqual(t, analysis.Confidence, 0.9)
}

func TestAnalyzeIntentSuggestsSynonyms(t *testing.T) {
	analysis := AnalyzeIntent("meeting tomorrow", nil)
	require.NotEmpty(t, analysis.Suggestions)
}

func TestAnalyzeIntentDetectsQuestionHint(t *testing.T) {
	analysis := AnalyzeIntent("who is Bob?", nil)
	require.Contains(t, analysis.ContextHints, HintQuestion)
}
