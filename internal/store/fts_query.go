package store

import "github.com/foundrylabs/memento/internal/memerr"

// FTSHit is one raw match from the FTS5 index: the entity it
// identifies and its bm25 rank, already flipped to a non-negative
// scale where smaller means "less relevant" — SQLite's built-in `rank`
// column is a negative bm25 score where more negative values are
// better (so ORDER BY rank puts the best match first), and FTSRank here
// is -rank.
type FTSHit struct {
	NameNorm string
	FTSRank  float64
}

// SearchFTS runs a raw FTS5 MATCH query against the entities mirror
// and returns up to limit hits ordered by rank (best first). The
// caller (internal/search) owns query construction — quoting,
// prefix/fuzzy expansion, AND/OR joining — this method only executes
// the resulting MATCH expression.
func (s *Store) SearchFTS(ftsQuery string, limit int) ([]FTSHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 1000
	}

	db := s.eng.Write()
	rows, err := db.Query(`
		SELECT name_norm, -rank AS fts_rank
		FROM entities_fts
		WHERE entities_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, ftsQuery, limit)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindInternal, "fts query failed", err)
	}
	defer rows.Close()

	var hits []FTSHit
	for rows.Next() {
		var h FTSHit
		if err := rows.Scan(&h.NameNorm, &h.FTSRank); err != nil {
			return nil, memerr.Internal(err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, memerr.Internal(err)
	}
	return hits, nil
}

// GetEntityByNormalizedName loads an entity without the access-count
// side effects of GetEntity, for use by the search ranker which must
// not treat every appearance in a result list as a user visit.
func (s *Store) GetEntityByNormalizedName(nameNorm string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db := s.eng.Write()
	row := db.QueryRow(`
		SELECT name, entity_type, observations_json, created_at, updated_at,
			last_accessed, access_count, importance_weight, prominence_score
		FROM entities WHERE name_norm = ?`, nameNorm)
	e, err := scanEntityRow(row)
	if err != nil {
		return nil, memerr.Internal(err)
	}
	if e == nil {
		return nil, memerr.EntityNotFound(nameNorm)
	}
	return e, nil
}
