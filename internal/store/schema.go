package store

import (
	"database/sql"
	"fmt"
)

// tokenizerVersion is bumped whenever the FTS tokenizer configuration
// changes, forcing rebuildFTSIfStale to drop and repopulate the index.
const tokenizerVersion = "1"

// schema defines the entity/relation tables and their FTS5 mirror. The
// primary keys back the ON CONFLICT upsert idiom, which follows
// sqlite_store.go's original Note/Entity tables.
const schema = `
CREATE TABLE IF NOT EXISTS entities (
	name_norm         TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	entity_type       TEXT NOT NULL,
	observations_json TEXT NOT NULL DEFAULT '[]',
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL,
	last_accessed     INTEGER NOT NULL,
	access_count      INTEGER NOT NULL DEFAULT 0,
	importance_weight REAL NOT NULL DEFAULT 1.0,
	prominence_score  REAL NOT NULL DEFAULT 1.0
);

CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type);
CREATE INDEX IF NOT EXISTS idx_entities_updated ON entities(updated_at);
CREATE INDEX IF NOT EXISTS idx_entities_prominence ON entities(prominence_score);

CREATE TABLE IF NOT EXISTS relations (
	from_norm     TEXT NOT NULL,
	to_norm       TEXT NOT NULL,
	rel_type_norm TEXT NOT NULL,
	strength      REAL,
	created_at    INTEGER NOT NULL,
	PRIMARY KEY (from_norm, to_norm, rel_type_norm)
);

CREATE INDEX IF NOT EXISTS idx_relations_from ON relations(from_norm);
CREATE INDEX IF NOT EXISTS idx_relations_to ON relations(to_norm);

CREATE TABLE IF NOT EXISTS schema_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// ftsSchema creates the FTS5 mirror. It is kept separate from schema so
// rebuildFTSIfStale can drop and recreate only this table on a
// tokenizer-version mismatch.
const ftsSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS entities_fts USING fts5(
	name_norm UNINDEXED,
	name,
	entity_type,
	text_content,
	tokenize = 'unicode61 remove_diacritics 2',
	prefix = '2 3 4'
);
`

func bootstrap(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("store: create schema: %w", err)
	}
	if err := rebuildFTSIfStale(db); err != nil {
		return fmt.Errorf("store: bootstrap fts: %w", err)
	}
	return nil
}

// rebuildFTSIfStale drops and repopulates entities_fts whenever the
// stored tokenizer version doesn't match tokenizerVersion — the only
// way FTS5's tokenizer configuration can be changed after creation.
func rebuildFTSIfStale(db *sql.DB) error {
	var stored string
	err := db.QueryRow(`SELECT value FROM schema_meta WHERE key = 'fts_tokenizer_version'`).Scan(&stored)
	if err == nil && stored == tokenizerVersion {
		return nil
	}
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DROP TABLE IF EXISTS entities_fts`); err != nil {
		return fmt.Errorf("drop stale fts: %w", err)
	}
	if _, err := tx.Exec(ftsSchema); err != nil {
		return fmt.Errorf("recreate fts: %w", err)
	}

	rows, err := tx.Query(`SELECT name_norm, name, entity_type, observations_json FROM entities`)
	if err != nil {
		return fmt.Errorf("scan entities for fts rebuild: %w", err)
	}
	type row struct{ nameNorm, name, entityType, obsJSON string }
	var buffered []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.nameNorm, &r.name, &r.entityType, &r.obsJSON); err != nil {
			rows.Close()
			return err
		}
		buffered = append(buffered, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range buffered {
		obs, err := unmarshalObservations(r.obsJSON)
		if err != nil {
			return err
		}
		text := Entity{Observations: obs}.SearchableText()
		if _, err := tx.Exec(
			`INSERT INTO entities_fts(name_norm, name, entity_type, text_content) VALUES (?, ?, ?, ?)`,
			r.nameNorm, r.name, r.entityType, text,
		); err != nil {
			return fmt.Errorf("repopulate fts: %w", err)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO schema_meta(key, value) VALUES ('fts_tokenizer_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		tokenizerVersion,
	); err != nil {
		return err
	}

	return tx.Commit()
}
