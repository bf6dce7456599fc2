// Store is the SQLite-backed Entity/Relation store (C3).
package store

import (
	"database/sql"
	"sync"
	"time"

	"github.com/foundrylabs/memento/internal/aging"
	"github.com/foundrylabs/memento/internal/engine"
	"github.com/foundrylabs/memento/internal/memerr"
)

// Store is thread-safe for concurrent callers within one context; the
// underlying engine enforces single-writer/many-reader access beneath
// it. mu additionally serializes the in-process prominence-rewrite
// throttle and the FTS mirror writes that accompany a mutation.
type Store struct {
	mu     sync.RWMutex
	eng    *engine.Engine
	preset aging.Preset

	prominenceMu        sync.Mutex
	lastProminenceWrite map[string]time.Time
	prominenceInterval  time.Duration
}

// Open bootstraps (creating if absent) the entity/relation schema over
// an already-open engine and returns a ready Store.
func Open(eng *engine.Engine, preset aging.Preset) (*Store, error) {
	if err := bootstrap(eng.Write()); err != nil {
		return nil, err
	}
	return &Store{
		eng:                 eng,
		preset:              preset,
		lastProminenceWrite: make(map[string]time.Time),
		prominenceInterval:  10 * time.Second,
	}, nil
}

// Close releases the underlying engine.
func (s *Store) Close() error { return s.eng.Close() }

// CreateEntities implements create_entities: upsert by normalized name.
// New entities are inserted whole; existing entities are merged —
// entity_type overwritten, observations appended (never replaced), per
// the documented upsert-merge semantics.
func (s *Store) CreateEntities(entities []Entity) ([]EntityUpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	db := s.eng.Write()
	tx, err := db.Begin()
	if err != nil {
		return nil, memerr.Internal(err)
	}
	defer tx.Rollback()

	results := make([]EntityUpsertResult, 0, len(entities))
	for _, e := range entities {
		for _, o := range e.Observations {
			if err := o.Validate(); err != nil {
				return nil, err
			}
		}
		nameNorm := e.NameNormalized()
		if nameNorm == "" {
			return nil, memerr.InvalidInput("entity name must not be empty")
		}

		existing, err := loadEntityTx(tx, nameNorm)
		if err != nil {
			return nil, memerr.Internal(err)
		}

		var merged Entity
		created := existing == nil
		if created {
			merged = Entity{
				Name:             e.Name,
				EntityType:       e.EntityType,
				Observations:     e.Observations,
				CreatedAt:        now,
				UpdatedAt:        now,
				LastAccessed:     now,
				AccessCount:      0,
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
			return nil, memerr.Internal(err)
		}
		if err := mirrorFTSTx(tx, merged); err != nil {
			return nil, memerr.Internal(err)
		}

		results = append(results, EntityUpsertResult{Name: merged.Name, Created: created, Entity: merged})
	}

	if err := tx.Commit(); err != nil {
		return nil, memerr.Internal(err)
	}
	return results, nil
}

func valueOr(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func upsertEntityTx(tx *sql.Tx, e Entity) error {
	obsJSON, err := e.marshalObservations()
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO entities (name_norm, name, entity_type, observations_json,
			created_at, updated_at, last_accessed, access_count,
			importance_weight, prominence_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name_norm) DO UPDATE SET
			name = excluded.name,
			entity_type = excluded.entity_type,
			observations_json = excluded.observations_json,
			updated_at = excluded.updated_at,
			last_accessed = excluded.last_accessed,
			access_count = excluded.access_count,
			importance_weight = excluded.importance_weight,
			prominence_score = excluded.prominence_score
	`, e.NameNormalized(), e.Name, e.EntityType, obsJSON,
		e.CreatedAt.Unix(), e.UpdatedAt.Unix(), e.LastAccessed.Unix(), e.AccessCount,
		e.ImportanceWeight, e.ProminenceScore)
	return err
}

func mirrorFTSTx(tx *sql.Tx, e Entity) error {
	if _, err := tx.Exec(`DELETE FROM entities_fts WHERE name_norm = ?`, e.NameNormalized()); err != nil {
		return err
	}
	_, err := tx.Exec(`INSERT INTO entities_fts(name_norm, name, entity_type, text_content) VALUES (?, ?, ?, ?)`,
		e.NameNormalized(), e.Name, e.EntityType, e.SearchableText())
	return err
}

func loadEntityTx(tx *sql.Tx, nameNorm string) (*Entity, error) {
	row := tx.QueryRow(`
		SELECT name, entity_type, observations_json, created_at, updated_at,
			last_accessed, access_count, importance_weight, prominence_score
		FROM entities WHERE name_norm = ?`, nameNorm)
	return scanEntityRow(row)
}

func scanEntityRow(row *sql.Row) (*Entity, error) {
	var e Entity
	var obsJSON string
	var createdAt, updatedAt, lastAccessed int64
	err := row.Scan(&e.Name, &e.EntityType, &obsJSON, &createdAt, &updatedAt,
		&lastAccessed, &e.AccessCount, &e.ImportanceWeight, &e.ProminenceScore)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	obs, err := unmarshalObservations(obsJSON)
	if err != nil {
		return nil, err
	}
	e.Observations = obs
	e.CreatedAt = time.Unix(createdAt, 0).UTC()
	e.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	e.LastAccessed = time.Unix(lastAccessed, 0).UTC()
	return &e, nil
}

// GetEntity implements get_entity: looks up by normalized name, bumps
// last_accessed/access_count, and recomputes prominence via the aging
// formula — but only rewrites it to storage at most once per
// prominenceInterval per entity, to bound write amplification on hot
// entities.
func (s *Store) GetEntity(name string) (*Entity, error) {
	nameNorm := NormalizeName(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	db := s.eng.Write()
	tx, err := db.Begin()
	if err != nil {
		return nil, memerr.Internal(err)
	}
	defer tx.Rollback()

	e, err := loadEntityTx(tx, nameNorm)
	if err != nil {
		return nil, memerr.Internal(err)
	}
	if e == nil {
		return nil, memerr.EntityNotFound(name)
	}

	now := time.Now()
	e.LastAccessed = now
	e.AccessCount++
	e.ProminenceScore = aging.Compute(s.preset, aging.Inputs{
		Now:              now,
		LastAccessed:     e.LastAccessed,
		AccessCount:      e.AccessCount,
		ImportanceWeight: e.ImportanceWeight,
	})

	if s.shouldWriteProminence(nameNorm, now) {
		if err := upsertEntityTx(tx, *e); err != nil {
			return nil, memerr.Internal(err)
		}
	} else {
		// Still record the access bump; only the prominence rewrite is
		// throttled.
		if _, err := tx.Exec(`UPDATE entities SET last_accessed = ?, access_count = ? WHERE name_norm = ?`,
			now.Unix(), e.AccessCount, nameNorm); err != nil {
			return nil, memerr.Internal(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, memerr.Internal(err)
	}

	return e, nil
}

func (s *Store) shouldWriteProminence(nameNorm string, now time.Time) bool {
	s.prominenceMu.Lock()
	defer s.prominenceMu.Unlock()
	last, ok := s.lastProminenceWrite[nameNorm]
	if ok && now.Sub(last) < s.prominenceInterval {
		return false
	}
	s.lastProminenceWrite[nameNorm] = now
	return true
}

// DeleteEntities implements delete_entities: removes each entity and
// cascades to every relation referencing it, from either side.
func (s *Store) DeleteEntities(names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db := s.eng.Write()
	tx, err := db.Begin()
	if err != nil {
		return memerr.Internal(err)
	}
	defer tx.Rollback()

	for _, name := range names {
		nameNorm := NormalizeName(name)
		if _, err := tx.Exec(`DELETE FROM relations WHERE from_norm = ? OR to_norm = ?`, nameNorm, nameNorm); err != nil {
			return memerr.Internal(err)
		}
		if _, err := tx.Exec(`DELETE FROM entities_fts WHERE name_norm = ?`, nameNorm); err != nil {
			return memerr.Internal(err)
		}
		if _, err := tx.Exec(`DELETE FROM entities WHERE name_norm = ?`, nameNorm); err != nil {
			return memerr.Internal(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return memerr.Internal(err)
	}
	return nil
}

// CreateRelations implements create_relations: both endpoints must
// already exist in this context; the (from, to, type) triple is
// unique, so re-creating an existing relation updates strength rather
// than erroring.
func (s *Store) CreateRelations(relations []Relation) ([]RelationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db := s.eng.Write()
	tx, err := db.Begin()
	if err != nil {
		return nil, memerr.Internal(err)
	}
	defer tx.Rollback()

	results := make([]RelationResult, 0, len(relations))
	for _, r := range relations {
		fromNorm, toNorm, typeNorm := r.fromNormalized(), r.toNormalized(), r.typeNormalized()

		if !entityExistsTx(tx, fromNorm) {
			return nil, memerr.EntityNotFound(r.From)
		}
		if !entityExistsTx(tx, toNorm) {
			return nil, memerr.EntityNotFound(r.To)
		}

		var exists int
		_ = tx.QueryRow(`SELECT COUNT(*) FROM relations WHERE from_norm=? AND to_norm=? AND rel_type_norm=?`,
			fromNorm, toNorm, typeNorm).Scan(&exists)
		created := exists == 0

		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := tx.Exec(`
			INSERT INTO relations (from_norm, to_norm, rel_type_norm, strength, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(from_norm, to_norm, rel_type_norm) DO UPDATE SET
				strength = excluded.strength
		`, fromNorm, toNorm, typeNorm, r.Strength, createdAt.Unix()); err != nil {
			return nil, memerr.Internal(err)
		}

		results = append(results, RelationResult{From: r.From, To: r.To, RelationType: r.RelationType, Created: created})
	}

	if err := tx.Commit(); err != nil {
		return nil, memerr.Internal(err)
	}
	return results, nil
}

func entityExistsTx(tx *sql.Tx, nameNorm string) bool {
	var count int
	_ = tx.QueryRow(`SELECT COUNT(*) FROM entities WHERE name_norm = ?`, nameNorm).Scan(&count)
	return count > 0
}

// DeleteRelations implements delete_relations: missing relations are
// silently skipped, not an error.
func (s *Store) DeleteRelations(relations []Relation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db := s.eng.Write()
	tx, err := db.Begin()
	if err != nil {
		return memerr.Internal(err)
	}
	defer tx.Rollback()

	for _, r := range relations {
		if _, err := tx.Exec(`DELETE FROM relations WHERE from_norm=? AND to_norm=? AND rel_type_norm=?`,
			r.fromNormalized(), r.toNormalized(), r.typeNormalized()); err != nil {
			return memerr.Internal(err)
		}
	}
	return tx.Commit()
}

// AddObservations implements add_observations: appends to the
// sequence, bumps updated_at, mirrors to FTS.
func (s *Store) AddObservations(name string, obs []Observation) (*Entity, error) {
	for _, o := range obs {
		if err := o.Validate(); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nameNorm := NormalizeName(name)
	db := s.eng.Write()
	tx, err := db.Begin()
	if err != nil {
		return nil, memerr.Internal(err)
	}
	defer tx.Rollback()

	e, err := loadEntityTx(tx, nameNorm)
	if err != nil {
		return nil, memerr.Internal(err)
	}
	if e == nil {
		return nil, memerr.EntityNotFound(name)
	}

	e.Observations = append(e.Observations, obs...)
	e.UpdatedAt = time.Now()

	if err := upsertEntityTx(tx, *e); err != nil {
		return nil, memerr.Internal(err)
	}
	if err := mirrorFTSTx(tx, *e); err != nil {
		return nil, memerr.Internal(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, memerr.Internal(err)
	}
	return e, nil
}

// ObservationDeletion names the entity and the match criteria for one
// delete_observations intent: the first observation whose Type and
// searchable text both match is removed.
type ObservationDeletion struct {
	Name        string
	Observation Observation
}

// DeleteObservations implements delete_observations: removes the
// first matching block per deletion request, then mirrors to FTS.
func (s *Store) DeleteObservations(deletions []ObservationDeletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db := s.eng.Write()
	tx, err := db.Begin()
	if err != nil {
		return memerr.Internal(err)
	}
	defer tx.Rollback()

	byName := make(map[string][]Observation)
	touched := make(map[string]bool)

	for _, d := range deletions {
		nameNorm := NormalizeName(d.Name)
		obs, ok := byName[nameNorm]
		if !ok {
			e, err := loadEntityTx(tx, nameNorm)
			if err != nil {
				return memerr.Internal(err)
			}
			if e == nil {
				return memerr.EntityNotFound(d.Name)
			}
			obs = e.Observations
		}
		idx := -1
		for i, o := range obs {
			if o.Type == d.Observation.Type && o.SearchableText() == d.Observation.SearchableText() {
				idx = i
				break
			}
		}
		if idx >= 0 {
			obs = append(obs[:idx], obs[idx+1:]...)
		}
		byName[nameNorm] = obs
		touched[nameNorm] = true
	}

	for nameNorm := range touched {
		e, err := loadEntityTx(tx, nameNorm)
		if err != nil {
			return memerr.Internal(err)
		}
		e.Observations = byName[nameNorm]
		e.UpdatedAt = time.Now()
		if err := upsertEntityTx(tx, *e); err != nil {
			return memerr.Internal(err)
		}
		if err := mirrorFTSTx(tx, *e); err != nil {
			return memerr.Internal(err)
		}
	}

	return tx.Commit()
}

// ReadGraph implements read_graph: a paginated snapshot of every
// entity and relation in the context.
func (s *Store) ReadGraph(limit, offset int) ([]Entity, []Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 1000
	}

	db := s.eng.Write()
	rows, err := db.Query(`
		SELECT name, entity_type, observations_json, created_at, updated_at,
			last_accessed, access_count, importance_weight, prominence_score
		FROM entities ORDER BY name_norm LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, nil, memerr.Internal(err)
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		var e Entity
		var obsJSON string
		var createdAt, updatedAt, lastAccessed int64
		if err := rows.Scan(&e.Name, &e.EntityType, &obsJSON, &createdAt, &updatedAt,
			&lastAccessed, &e.AccessCount, &e.ImportanceWeight, &e.ProminenceScore); err != nil {
			return nil, nil, memerr.Internal(err)
		}
		obs, err := unmarshalObservations(obsJSON)
		if err != nil {
			return nil, nil, memerr.Internal(err)
		}
		e.Observations = obs
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		e.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		e.LastAccessed = time.Unix(lastAccessed, 0).UTC()
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, memerr.Internal(err)
	}

	relRows, err := db.Query(`SELECT from_norm, to_norm, rel_type_norm, strength, created_at FROM relations`)
	if err != nil {
		return nil, nil, memerr.Internal(err)
	}
	defer relRows.Close()

	var relations []Relation
	for relRows.Next() {
		var r Relation
		var createdAt int64
		var strength sql.NullFloat64
		if err := relRows.Scan(&r.From, &r.To, &r.RelationType, &strength, &createdAt); err != nil {
			return nil, nil, memerr.Internal(err)
		}
		if strength.Valid {
			v := strength.Float64
			r.Strength = &v
		}
		r.CreatedAt = time.Unix(createdAt, 0).UTC()
		relations = append(relations, r)
	}
	if err := relRows.Err(); err != nil {
		return nil, nil, memerr.Internal(err)
	}

	return entities, relations, nil
}

// Count returns total entities and relations; delete_context uses the
// entity count to refuse deleting a non-empty context.
func (s *Store) Count() (entityCount, relationCount int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db := s.eng.Write()
	if err = db.QueryRow(`SELECT COUNT(*) FROM entities`).Scan(&entityCount); err != nil {
		return 0, 0, memerr.Internal(err)
	}
	if err = db.QueryRow(`SELECT COUNT(*) FROM relations`).Scan(&relationCount); err != nil {
		return 0, 0, memerr.Internal(err)
	}
	return entityCount, relationCount, nil
}

// SweepProminence recomputes every entity's prominence score against
// preset and reports forgotten status through apply, without
// internal/aging needing to import internal/store. Used by the aging
// sweeper goroutine.
func (s *Store) SweepProminence(preset aging.Preset, now time.Time, apply func(nameNorm string, prominence float64, forgotten bool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db := s.eng.Write()
	rows, err := db.Query(`SELECT name_norm, last_accessed, access_count, importance_weight FROM entities`)
	if err != nil {
		return memerr.Internal(err)
	}
	type row struct {
		nameNorm         string
		lastAccessed     int64
		accessCount      int
		importanceWeight float64
	}
	var buffered []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.nameNorm, &r.lastAccessed, &r.accessCount, &r.importanceWeight); err != nil {
			rows.Close()
			return memerr.Internal(err)
		}
		buffered = append(buffered, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return memerr.Internal(err)
	}

	for _, r := range buffered {
		p := aging.Compute(preset, aging.Inputs{
			Now:              now,
			LastAccessed:     time.Unix(r.lastAccessed, 0).UTC(),
			AccessCount:      r.accessCount,
			ImportanceWeight: r.importanceWeight,
		})
		forgotten := aging.IsForgotten(preset, p)
		if _, err := db.Exec(`UPDATE entities SET prominence_score = ? WHERE name_norm = ?`, p, r.nameNorm); err != nil {
			return memerr.Internal(err)
		}
		apply(r.nameNorm, p, forgotten)
	}
	return nil
}
