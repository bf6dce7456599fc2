package codec

import (
	"github.com/foundrylabs/memento/internal/memerr"
	"github.com/foundrylabs/memento/internal/store"
)

// ApplyPlan executes plan against st, chunked by opts.BatchSize, and
// folds the per-chunk results into summary. A dry_run plan is never
// applied; the caller still gets accurate projected counts.
func ApplyPlan(st *store.Store, plan Plan, opts ImportOptions) (Summary, error) {
	opts = opts.withDefaults()
	summary := Summary{Success: true}
	summary.EntitiesSkipped += len(plan.EntitiesToSkip)

	if opts.Mode == ModeReplace && !opts.DryRun {
		if err := clearContext(st); err != nil {
			return Summary{}, err
		}
	}

	if opts.DryRun {
		summary.EntitiesImported = len(plan.EntitiesToCreate)
		summary.EntitiesUpdated = len(plan.EntitiesToUpdate)
		summary.RelationsImported = len(plan.RelationsToCreate)
		summary.ObservationsImported = countObservations(plan.EntitiesToCreate) + countObservations(plan.EntitiesToUpdate)
		return summary, nil
	}

	for _, chunk := range chunkEntities(append(append([]store.Entity{}, plan.EntitiesToCreate...), plan.EntitiesToUpdate...), opts.BatchSize) {
		results, err := st.CreateEntities(chunk)
		if err != nil {
			return Summary{}, err
		}
		for _, r := range results {
			if r.Created {
				summary.EntitiesImported++
			} else {
				summary.EntitiesUpdated++
			}
			summary.ObservationsImported += len(r.Entity.Observations)
		}
	}

	for _, chunk := range chunkRelations(plan.RelationsToCreate, opts.BatchSize) {
		results, err := st.CreateRelations(chunk)
		if err != nil {
			// Endpoints not yet present (e.g. referenced entity excluded
			// by a filter) are skipped rather than failing the whole
			// import.
			if memerr.KindOf(err) == memerr.KindEntityNotFound {
				summary.RelationsSkipped += len(chunk)
				summary.Warnings = append(summary.Warnings, err.Error())
				continue
			}
			return Summary{}, err
		}
		summary.RelationsImported += len(results)
	}

	return summary, nil
}

func clearContext(st *store.Store) error {
	entities, _, err := st.ReadGraph(0, 0)
	if err != nil {
		return err
	}
	names := make([]string, len(entities))
	for i, e := range entities {
		names[i] = e.Name
	}
	return st.DeleteEntities(names)
}

func countObservations(entities []store.Entity) int {
	n := 0
	for _, e := range entities {
		n += len(e.Observations)
	}
	return n
}

func chunkEntities(entities []store.Entity, size int) [][]store.Entity {
	if len(entities) == 0 {
		return nil
	}
	var out [][]store.Entity
	for i := 0; i < len(entities); i += size {
		end := i + size
		if end > len(entities) {
			end = len(entities)
		}
		out = append(out, entities[i:end])
	}
	return out
}

func chunkRelations(relations []store.Relation, size int) [][]store.Relation {
	if len(relations) == 0 {
		return nil
	}
	var out [][]store.Relation
	for i := 0; i < len(relations); i += size {
		end := i + size
		if end > len(relations) {
			end = len(relations)
		}
		out = append(out, relations[i:end])
	}
	return out
}

// ExistingByNormalizedName snapshots st's current entities keyed by
// normalized name, the lookup BuildPlan needs to classify each
// incoming entity as new/existing.
func ExistingByNormalizedName(st *store.Store) (map[string]store.Entity, error) {
	entities, _, err := st.ReadGraph(0, 0)
	if err != nil {
		return nil, err
	}
	out := make(map[string]store.Entity, len(entities))
	for _, e := range entities {
		out[e.NameNormalized()] = e
	}
	return out, nil
}
