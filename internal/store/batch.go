package store

import (
	"time"

	"github.com/foundrylabs/memento/internal/memerr"
)

// ObservationAdd names the entity an add_observations intent targets
// and the blocks to append, mirroring AddObservations' parameters for
// batched application.
type ObservationAdd struct {
	Name         string
	Observations []Observation
}

// BatchResult collects the per-kind results of one ApplyBatch call, in
// the same relative order the intents were submitted within each kind.
type BatchResult struct {
	EntityResults       []EntityUpsertResult
	RelationResults     []RelationResult
	ObservationEntities []Entity
}

// ApplyBatch runs create_entities, then create_relations, then
// add_observations, then delete_entities — the fixed ordering the
// Write Aggregator relies on — inside a single transaction, so
// relations see their entities, observations see their entities, and
// deletes happen last without orphaning a relation created in the
// same batch.
func (s *Store) ApplyBatch(creates []Entity, relations []Relation, obsAdds []ObservationAdd, deleteNames []string) (BatchResult, error) {
	for _, e := range creates {
		for _, o := range e.Observations {
			if err := o.Validate(); err != nil {
				return BatchResult{}, err
			}
		}
	}
	for _, add := range obsAdds {
		for _, o := range add.Observations {
			if err := o.Validate(); err != nil {
				return BatchResult{}, err
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	db := s.eng.Write()
	tx, err := db.Begin()
	if err != nil {
		return BatchResult{}, memerr.Internal(err)
	}
	defer tx.Rollback()

	var result BatchResult

	for _, e := range creates {
		nameNorm := e.NameNormalized()
		if nameNorm == "" {
			return BatchResult{}, memerr.InvalidInput("entity name must not be empty")
		}
		existing, err := loadEntityTx(tx, nameNorm)
		if err != nil {
			return BatchResult{}, memerr.Internal(err)
		}
		var merged Entity
		created := existing == nil
		if created {
			merged = Entity{
				Name: e.Name, EntityType: e.EntityType, Observations: e.Observations,
				CreatedAt: now, UpdatedAt: now, LastAccessed: now,
				ImportanceWeight: valueOr(e.ImportanceWeight, 1.0),
				ProminenceScore:  valueOr(e.ProminenceScore, 1.0),
			}
		} else {
			merged = *existing
			merged.EntityType = e.EntityType
			merged.Observations = append(merged.Observations, e.Observations...)
			merged.UpdatedAt = now
		}
		if err := upsertEntityTx(tx, merged); err != nil {
			return BatchResult{}, memerr.Internal(err)
		}
		if err := mirrorFTSTx(tx, merged); err != nil {
			return BatchResult{}, memerr.Internal(err)
		}
		result.EntityResults = append(result.EntityResults, EntityUpsertResult{Name: merged.Name, Created: created, Entity: merged})
	}

	for _, r := range relations {
		fromNorm, toNorm, typeNorm := r.fromNormalized(), r.toNormalized(), r.typeNormalized()
		if !entityExistsTx(tx, fromNorm) {
			return BatchResult{}, memerr.EntityNotFound(r.From)
		}
		if !entityExistsTx(tx, toNorm) {
			return BatchResult{}, memerr.EntityNotFound(r.To)
		}
		var exists int
		_ = tx.QueryRow(`SELECT COUNT(*) FROM relations WHERE from_norm=? AND to_norm=? AND rel_type_norm=?`,
			fromNorm, toNorm, typeNorm).Scan(&exists)
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := tx.Exec(`
			INSERT INTO relations (from_norm, to_norm, rel_type_norm, strength, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(from_norm, to_norm, rel_type_norm) DO UPDATE SET strength = excluded.strength
		`, fromNorm, toNorm, typeNorm, r.Strength, createdAt.Unix()); err != nil {
			return BatchResult{}, memerr.Internal(err)
		}
		result.RelationResults = append(result.RelationResults, RelationResult{From: r.From, To: r.To, RelationType: r.RelationType, Created: exists == 0})
	}

	for _, add := range obsAdds {
		nameNorm := NormalizeName(add.Name)
		e, err := loadEntityTx(tx, nameNorm)
		if err != nil {
			return BatchResult{}, memerr.Internal(err)
		}
		if e == nil {
			return BatchResult{}, memerr.EntityNotFound(add.Name)
		}
		e.Observations = append(e.Observations, add.Observations...)
		e.UpdatedAt = now
		if err := upsertEntityTx(tx, *e); err != nil {
			return BatchResult{}, memerr.Internal(err)
		}
		if err := mirrorFTSTx(tx, *e); err != nil {
			return BatchResult{}, memerr.Internal(err)
		}
		result.ObservationEntities = append(result.ObservationEntities, *e)
	}

	for _, name := range deleteNames {
		nameNorm := NormalizeName(name)
		if _, err := tx.Exec(`DELETE FROM relations WHERE from_norm = ? OR to_norm = ?`, nameNorm, nameNorm); err != nil {
			return BatchResult{}, memerr.Internal(err)
		}
		if _, err := tx.Exec(`DELETE FROM entities_fts WHERE name_norm = ?`, nameNorm); err != nil {
			return BatchResult{}, memerr.Internal(err)
		}
		if _, err := tx.Exec(`DELETE FROM entities WHERE name_norm = ?`, nameNorm); err != nil {
			return BatchResult{}, memerr.Internal(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return BatchResult{}, memerr.Internal(err)
	}
	return result, nil
}
