// Package store implements the entity/relation store: schema, CRUD, and the invariants that keep every entity row in
// lockstep with its FTS mirror. The CRUD idiom — ON CONFLICT upserts,
// sql.Null* scanning, JSON-encoded array columns — is carried over from
// sqlite_store.go's original Note/Entity/Edge/Folder schema, generalized
// to Entity/Observation/Relation.
package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/foundrylabs/memento/internal/memerr"
)

// NormalizeName implements the entity key normalization from the data
// model: lowercase(trim(name)).
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ObservationKind discriminates the tagged content-block variants. The
// wire encoding uses an explicit "type" field rather
// than a bare one-of-keys object, so the façade and codec can validate
// shape without peeking at which key is present.
type ObservationKind string

const (
	ObservationText         ObservationKind = "text"
	ObservationImage        ObservationKind = "image"
	ObservationAudio        ObservationKind = "audio"
	ObservationResourceLink ObservationKind = "resource_link"
	ObservationResource     ObservationKind = "resource"
)

// Observation is one rich content block in an entity's ordered
// observation sequence. Exactly one of the type-specific fields is
// populated, matching Type.
type Observation struct {
	Type ObservationKind `json:"type"`

	Text string `json:"text,omitempty"`

	DataB64     string `json:"data_b64,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
	URI         string `json:"uri,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// Validate checks that an Observation's populated fields match its
// declared Type.
func (o Observation) Validate() error {
	switch o.Type {
	case ObservationText:
		if o.Text == "" {
			return memerr.InvalidInput("text observation requires non-empty text")
		}
	case ObservationImage, ObservationAudio:
		if o.DataB64 == "" || o.MimeType == "" {
			return memerr.InvalidInput("%s observation requires data_b64 and mime_type", o.Type)
		}
	case ObservationResourceLink:
		if o.URI == "" {
			return memerr.InvalidInput("resource_link observation requires uri")
		}
	case ObservationResource:
		if o.DataB64 == "" || o.MimeType == "" {
			return memerr.InvalidInput("resource observation requires data_b64 and mime_type")
		}
	default:
		return memerr.InvalidInput("unknown observation type %q", o.Type)
	}
	return nil
}

// SearchableText returns the text this observation contributes to the
// FTS mirror: its literal text for text blocks, title+description for
// resource variants, nothing for image/audio.
func (o Observation) SearchableText() string {
	switch o.Type {
	case ObservationText:
		return o.Text
	case ObservationResourceLink, ObservationResource:
		return strings.TrimSpace(o.Title + " " + o.Description)
	default:
		return ""
	}
}

// Entity is one node in the knowledge graph, keyed within a context by
// its normalized name.
type Entity struct {
	Name             string
	EntityType       string
	Observations     []Observation
	CreatedAt        time.Time
	UpdatedAt        time.Time
	LastAccessed     time.Time
	AccessCount      int
	ImportanceWeight float64
	ProminenceScore  float64
}

// NameNormalized returns the entity's unique key within its context.
func (e Entity) NameNormalized() string { return NormalizeName(e.Name) }

func (e Entity) marshalObservations() (string, error) {
	if len(e.Observations) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(e.Observations)
	if err != nil {
		return "", fmt.Errorf("store: marshal observations: %w", err)
	}
	return string(b), nil
}

func unmarshalObservations(raw string) ([]Observation, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var obs []Observation
	if err := json.Unmarshal([]byte(raw), &obs); err != nil {
		return nil, fmt.Errorf("store: unmarshal observations: %w", err)
	}
	return obs, nil
}

// SearchableText concatenates the searchable text of every textual
// observation, for mirroring into the FTS index (invariant 3).
func (e Entity) SearchableText() string {
	parts := make([]string, 0, len(e.Observations))
	for _, o := range e.Observations {
		if t := o.SearchableText(); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// Relation is a directed, typed edge between two entities in the same
// context. Uniqueness key is the (from, to, type) triple.
type Relation struct {
	From         string
	To           string
	RelationType string
	Strength     *float64
	CreatedAt    time.Time
}

func (r Relation) fromNormalized() string { return NormalizeName(r.From) }
func (r Relation) toNormalized() string   { return NormalizeName(r.To) }
func (r Relation) typeNormalized() string { return NormalizeName(r.RelationType) }

// EntityUpsertResult reports whether create_entities created a new row
// or merged into an existing one.
type EntityUpsertResult struct {
	Name    string
	Created bool
	Entity  Entity
}

// RelationResult reports the outcome of one create_relations intent.
type RelationResult struct {
	From, To, RelationType string
	Created                bool
}
