package aggregator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foundrylabs/memento/internal/aging"
	"github.com/foundrylabs/memento/internal/engine"
	"github.com/foundrylabs/memento/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	eng, err := engine.Open(engine.Config{Path: ":memory:", ReadPoolSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	s, err := store.Open(eng, aging.Default())
	require.NoError(t, err)
	return s
}

func TestSubmitZeroDelayAppliesEntity(t *testing.T) {
	s := newTestStore(t)
	a := New(s, Config{Mode: ZeroDelay})

	res := a.Submit(Intent{
		Kind:     IntentCreateEntities,
		Entities: []store.Entity{{Name: "Ada Lovelace", EntityType: "person"}},
	})
	require.NoError(t, res.Err)
	require.Len(t, res.EntityResults, 1)
	require.True(t, res.EntityResults[0].Created)

	got, err := s.GetEntity("ada lovelace")
	require.NoError(t, err)
	require.Equal(t, "person", got.EntityType)
}

func TestSubmitConcurrentZeroDelayCollapsesIntoFewerTransactions(t *testing.T) {
	s := newTestStore(t)
	a := New(s, Config{Mode: ZeroDelay})

	const n = 20
	var wg sync.WaitGroup
	results := make([]Result, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = a.Submit(Intent{
				Kind:     IntentCreateEntities,
				Entities: []store.Entity{{Name: entityName(i), EntityType: "thing"}},
			})
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		require.NoErrorf(t, r.Err, "submit %d", i)
		require.Len(t, r.EntityResults, 1)
	}

	entities, _, err := s.ReadGraph(0, 0)
	require.NoError(t, err)
	require.Len(t, entities, n)
}

func TestSubmitDebouncedBatchesWithinWindow(t *testing.T) {
	s := newTestStore(t)
	a := New(s, Config{Mode: Debounced, DebounceInterval: 30 * time.Millisecond, MaxBatchSize: 100})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res := a.Submit(Intent{
				Kind:     IntentCreateEntities,
				Entities: []store.Entity{{Name: entityName(i), EntityType: "thing"}},
			})
			require.NoError(t, res.Err)
		}(i)
	}
	wg.Wait()

	entities, _, err := s.ReadGraph(0, 0)
	require.NoError(t, err)
	require.Len(t, entities, 5)
}

func TestSubmitDeleteEntitiesHasNoPerRowResultButSucceeds(t *testing.T) {
	s := newTestStore(t)
	a := New(s, Config{Mode: ZeroDelay})

	_, err := s.CreateEntities([]store.Entity{{Name: "Temp", EntityType: "thing"}})
	require.NoError(t, err)

	res := a.Submit(Intent{Kind: IntentDeleteEntities, DeleteNames: []string{"Temp"}})
	require.NoError(t, res.Err)

	_, err = s.GetEntity("temp")
	require.Error(t, err)
}

func TestSubmitMixedBatchPreservesPerCallerResults(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateEntities([]store.Entity{{Name: "Alice", EntityType: "person"}})
	require.NoError(t, err)

	a := New(s, Config{Mode: Debounced, DebounceInterval: 25 * time.Millisecond, MaxBatchSize: 100})

	var wg sync.WaitGroup
	var entityRes, relationRes, obsRes Result

	wg.Add(3)
	go func() {
		defer wg.Done()
		entityRes = a.Submit(Intent{
			Kind:     IntentCreateEntities,
			Entities: []store.Entity{{Name: "Bob", EntityType: "person"}},
		})
	}()
	go func() {
		defer wg.Done()
		relationRes = a.Submit(Intent{
			Kind:      IntentCreateRelations,
			Relations: []store.Relation{{From: "Alice", To: "Alice", RelationType: "self_ref"}},
		})
	}()
	go func() {
		defer wg.Done()
		obsRes = a.Submit(Intent{
			Kind: IntentAddObservations,
			ObservationAdds: []store.ObservationAdd{{
				Name:         "Alice",
				Observations: []store.Observation{{Type: store.ObservationText, Text: "likes tea"}},
			}},
		})
	}()
	wg.Wait()

	require.NoError(t, entityRes.Err)
	require.Len(t, entityRes.EntityResults, 1)
	require.NoError(t, relationRes.Err)
	require.Len(t, relationRes.RelationResults, 1)
	require.NoError(t, obsRes.Err)
	require.Len(t, obsRes.ObservationEntities, 1)
}

func entityName(i int) string {
	return "entity-" + string(rune('a'+i%26)) + "-" + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := []byte{}
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}
