package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/foundrylabs/memento/internal/config"
	"github.com/foundrylabs/memento/internal/memerr"
	"github.com/foundrylabs/memento/internal/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	cfg, err := config.Load(nil)
	require.NoError(t, err)
	cfg.EntityCacheSize = 16
	cfg.SearchCacheSize = 16
	return New(cfg)
}

func TestCreateContextRejectsBadName(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.CreateContext("Has Spaces", ":memory:", nil, nil, "")
	require.Error(t, err)
	require.Equal(t, memerr.KindInvalidInput, memerr.KindOf(err))
}

func TestCreateContextBecomesCurrent(t *testing.T) {
	r := newTestRegistry(t)
	ctx, err := r.CreateContext("personal", ":memory:", nil, nil, "")
	require.NoError(t, err)
	t.Cleanup(func() { ctx.Close() })

	cur, err := r.GetCurrent()
	require.NoError(t, err)
	require.Equal(t, "personal", cur.Meta.Name)
}

func TestCreateContextConflict(t *testing.T) {
	r := newTestRegistry(t)
	ctx, err := r.CreateContext("work", ":memory:", nil, nil, "")
	require.NoError(t, err)
	t.Cleanup(func() { ctx.Close() })

	_, err = r.CreateContext("work", ":memory:", nil, nil, "")
	require.Error(t, err)
	require.Equal(t, memerr.KindConflict, memerr.KindOf(err))
}

func TestDeleteContextNotEmpty(t *testing.T) {
	r := newTestRegistry(t)
	ctx, err := r.CreateContext("work", ":memory:", nil, nil, "")
	require.NoError(t, err)

	_, err = ctx.Store.CreateEntities([]store.Entity{{Name: "Alice", EntityType: "person"}})
	require.NoError(t, err)

	err = r.DeleteContext("work", false)
	require.Error(t, err)
	require.Equal(t, memerr.KindContextNotEmpty, memerr.KindOf(err))

	require.NoError(t, r.DeleteContext("work", true))
}

func TestResolvePrefersExplicit(t *testing.T) {
	r := newTestRegistry(t)
	personal, err := r.CreateContext("personal", ":memory:", []string{"home", "family"}, nil, "")
	require.NoError(t, err)
	t.Cleanup(func() { personal.Close() })
	work, err := r.CreateContext("work", ":memory:", []string{"meeting", "project"}, nil, "")
	require.NoError(t, err)
	t.Cleanup(func() { work.Close() })

	ctx, err := r.Resolve("personal", "let's discuss the project meeting")
	require.NoError(t, err)
	require.Equal(t, "personal", ctx.Meta.Name)
}

func TestResolveByHintOverlap(t *testing.T) {
	r := newTestRegistry(t)
	personal, err := r.CreateContext("personal", ":memory:", []string{"home", "family"}, nil, "")
	require.NoError(t, err)
	t.Cleanup(func() { personal.Close() })
	work, err := r.CreateContext("work", ":memory:", []string{"meeting", "project"}, nil, "")
	require.NoError(t, err)
	t.Cleanup(func() { work.Close() })
	require.NoError(t, r.SetContext("personal"))

	ctx, err := r.Resolve("", "schedule a project meeting")
	require.NoError(t, err)
	require.Equal(t, "work", ctx.Meta.Name)
}

func TestResolveFallsBackToCurrent(t *testing.T) {
	r := newTestRegistry(t)
	personal, err := r.CreateContext("personal", ":memory:", []string{"home"}, nil, "")
	require.NoError(t, err)
	t.Cleanup(func() { personal.Close() })

	ctx, err := r.Resolve("", "nothing relevant here")
	require.NoError(t, err)
	require.Equal(t, "personal", ctx.Meta.Name)
}
