package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foundrylabs/memento/internal/aging"
	"github.com/foundrylabs/memento/internal/engine"
	"github.com/foundrylabs/memento/internal/memerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	eng, err := engine.Open(engine.Config{Path: ":memory:", ReadPoolSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	s, err := Open(eng, aging.Default())
	require.NoError(t, err)
	return s
}

func TestCreateEntitiesUpsertMerge(t *testing.T) {
	s := newTestStore(t)

	results, err := s.CreateEntities([]Entity{{
		Name:       "Ada Lovelace",
		EntityType: "person",
		Observations: []Observation{
			{Type: ObservationText, Text: "wrote the first algorithm"},
		},
	}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Created)

	// Re-creating the same entity merges: type overwritten, observations
	// appended, never replaced.
	results, err = s.CreateEntities([]Entity{{
		Name:       "ada lovelace",
		EntityType: "mathematician",
		Observations: []Observation{
			{Type: ObservationText, Text: "collaborated with Babbage"},
		},
	}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.False(t, results[0].Created)
	require.Equal(t, "mathematician", results[0].Entity.EntityType)
	require.Len(t, results[0].Entity.Observations, 2)
}

func TestGetEntityTracksAccess(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateEntities([]Entity{{Name: "Grace Hopper", EntityType: "person"}})
	require.NoError(t, err)

	e, err := s.GetEntity("grace hopper")
	require.NoError(t, err)
	require.Equal(t, 1, e.AccessCount)

	e2, err := s.GetEntity("Grace Hopper")
	require.NoError(t, err)
	require.Equal(t, 2, e2.AccessCount)
	require.True(t, e2.LastAccessed.Equal(e.LastAccessed) || e2.LastAccessed.After(e.LastAccessed))
}

func TestGetEntityNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetEntity("nobody")
	require.Error(t, err)
	require.Equal(t, memerr.KindEntityNotFound, memerr.KindOf(err))
}

func TestCreateRelationsRequiresBothEndpoints(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateEntities([]Entity{{Name: "Alice", EntityType: "person"}})
	require.NoError(t, err)

	_, err = s.CreateRelations([]Relation{{From: "Alice", To: "Bob", RelationType: "knows"}})
	require.Error(t, err)
	require.Equal(t, memerr.KindEntityNotFound, memerr.KindOf(err))

	_, err = s.CreateEntities([]Entity{{Name: "Bob", EntityType: "person"}})
	require.NoError(t, err)

	results, err := s.CreateRelations([]Relation{{From: "Alice", To: "Bob", RelationType: "knows"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Created)
}

func TestDeleteEntitiesCascadesRelations(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateEntities([]Entity{{Name: "Alice", EntityType: "person"}, {Name: "Bob", EntityType: "person"}})
	require.NoError(t, err)
	_, err = s.CreateRelations([]Relation{{From: "Alice", To: "Bob", RelationType: "knows"}})
	require.NoError(t, err)

	require.NoError(t, s.DeleteEntities([]string{"Alice"}))

	_, relations, err := s.ReadGraph(100, 0)
	require.NoError(t, err)
	require.Empty(t, relations)
}

func TestAddAndDeleteObservations(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateEntities([]Entity{{Name: "Alice", EntityType: "person"}})
	require.NoError(t, err)

	e, err := s.AddObservations("Alice", []Observation{{Type: ObservationText, Text: "likes tea"}})
	require.NoError(t, err)
	require.Len(t, e.Observations, 1)

	err = s.DeleteObservations([]ObservationDeletion{{
		Name:        "Alice",
		Observation: Observation{Type: ObservationText, Text: "likes tea"},
	}})
	require.NoError(t, err)

	e, err = s.GetEntity("Alice")
	require.NoError(t, err)
	require.Empty(t, e.Observations)
}

func TestReadGraphPagination(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"A", "B", "C"} {
		_, err := s.CreateEntities([]Entity{{Name: name, EntityType: "letter"}})
		require.NoError(t, err)
	}

	entities, _, err := s.ReadGraph(2, 0)
	require.NoError(t, err)
	require.Len(t, entities, 2)
}

func TestSweepProminenceUpdatesScores(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateEntities([]Entity{{Name: "Old Entity", EntityType: "thing"}})
	require.NoError(t, err)

	seen := map[string]bool{}
	err = s.SweepProminence(aging.Default(), time.Now().Add(90*24*time.Hour), func(nameNorm string, prominence float64, forgotten bool) {
		seen[nameNorm] = forgotten
	})
	require.NoError(t, err)
	require.True(t, seen["old entity"])
}
