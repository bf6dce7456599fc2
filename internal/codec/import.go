package codec

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/foundrylabs/memento/internal/memerr"
	"github.com/foundrylabs/memento/internal/store"
)

// Mode selects how ApplyImport reconciles incoming data against an
// existing context.
type Mode string

const (
	ModeMerge   Mode = "merge"
	ModeReplace Mode = "replace"
	ModeUpdate  Mode = "update"
	ModeAppend  Mode = "append"
)

// ConflictResolution names how ApplyImport handles an entity name that
// already exists in the target when Mode doesn't already dictate the
// outcome.
type ConflictResolution string

const (
	ConflictSkip      ConflictResolution = "skip"
	ConflictOverwrite ConflictResolution = "overwrite"
	ConflictRename    ConflictResolution = "rename"
)

// MigrationOptions are the compatibility-shim knobs for importing data
// exported by a different source_version/source_server.
type MigrationOptions struct {
	PreserveIDs          bool
	UpdateTimestamps     bool
	RemapEntityTypes     map[string]string
	RemapRelationTypes   map[string]string
	FilterContentText      bool
	FilterContentImages    bool
	FilterContentAudio     bool
	FilterContentResources bool
}

// ImportOptions controls one ApplyImport call.
type ImportOptions struct {
	Mode                 Mode
	Conflict             ConflictResolution
	DryRun               bool
	ValidateBeforeImport bool
	BatchSize            int
	SourceVersion        string
	SourceServer         string
	Migration            MigrationOptions
}

func (o ImportOptions) withDefaults() ImportOptions {
	if o.Mode == "" {
		o.Mode = ModeMerge
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	return o
}

// Summary is import's return payload.
type Summary struct {
	Success             bool     `json:"success"`
	EntitiesImported     int     `json:"entities_imported"`
	EntitiesUpdated      int     `json:"entities_updated"`
	EntitiesSkipped      int     `json:"entities_skipped"`
	RelationsImported    int     `json:"relations_imported"`
	RelationsSkipped     int     `json:"relations_skipped"`
	ObservationsImported int     `json:"observations_imported"`
	CompressionRatio     float64 `json:"compression_ratio,omitempty"`
	Warnings             []string `json:"warnings"`
}

// Decode parses a raw export payload in any of the three output
// formats back into an Export envelope.
func Decode(data []byte, format OutputFormat) (Export, error) {
	switch format {
	case FormatJSONL:
		return decodeJSONL(data)
	case FormatCompressed:
		return decodeCompressed(data)
	default:
		var exp Export
		if err := json.Unmarshal(data, &exp); err != nil {
			return Export{}, memerr.New(memerr.KindInvalidBackupFormat, "malformed export json").WithContext(map[string]any{"error": err.Error()})
		}
		return exp, nil
	}
}

func decodeJSONL(data []byte) (Export, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	var exp Export
	if err := dec.Decode(&exp); err != nil {
		return Export{}, memerr.New(memerr.KindInvalidBackupFormat, "malformed jsonl header")
	}
	exp.Contexts = make(map[string]ContextExport)

	for {
		var ctxExport ContextExport
		if err := dec.Decode(&ctxExport); err == io.EOF {
			break
		} else if err != nil {
			return Export{}, memerr.New(memerr.KindInvalidBackupFormat, "malformed jsonl context line")
		}
		exp.Contexts[ctxExport.Name] = ctxExport
	}
	return exp, nil
}

func decodeCompressed(data []byte) (Export, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return Export{}, memerr.New(memerr.KindInvalidBackupFormat, "not a gzip stream")
	}
	defer gz.Close()

	b64, err := io.ReadAll(gz)
	if err != nil {
		return Export{}, memerr.New(memerr.KindInvalidBackupFormat, "truncated gzip stream")
	}
	plain, err := base64.StdEncoding.DecodeString(string(b64))
	if err != nil {
		return Export{}, memerr.New(memerr.KindInvalidBackupFormat, "malformed base64 payload")
	}

	var exp Export
	if err := json.Unmarshal(plain, &exp); err != nil {
		return Export{}, memerr.New(memerr.KindInvalidBackupFormat, "malformed export json")
	}
	return exp, nil
}

// Validate checks structural integrity and, when raw/format are
// supplied, recomputes the checksum over the export-without-checksum
// form and compares it.
func Validate(exp Export) error {
	if exp.Version == "" {
		return memerr.New(memerr.KindInvalidBackupFormat, "missing version field")
	}
	if exp.Contexts == nil {
		return memerr.New(memerr.KindInvalidBackupFormat, "missing contexts map")
	}
	stamped := exp
	stamped.Checksum = ""
	data, err := json.Marshal(stamped)
	if err != nil {
		return memerr.Internal(err)
	}
	if exp.Checksum != "" && checksum(data) != exp.Checksum {
		return memerr.New(memerr.KindBackupCorrupted, "checksum does not match export contents")
	}
	return nil
}

// Plan describes what ApplyImport would do for one context without
// writing anything (dry_run).
type Plan struct {
	ContextName        string
	EntitiesToCreate    []store.Entity
	EntitiesToUpdate    []store.Entity
	EntitiesToSkip      []string
	RelationsToCreate   []store.Relation
	RelationsToSkip     int
}

// BuildPlan reconciles an incoming context export against the
// existing entities in the target (existingByNorm, keyed by normalized
// name) per Mode and Conflict, without touching storage.
func BuildPlan(ctxExport ContextExport, existingByNorm map[string]store.Entity, opts ImportOptions) Plan {
	opts = opts.withDefaults()
	plan := Plan{ContextName: ctxExport.Name}

	for _, incoming := range applyMigration(ctxExport.Entities, opts.Migration) {
		nameNorm := store.NormalizeName(incoming.Name)
		existing, exists := existingByNorm[nameNorm]

		switch opts.Mode {
		case ModeAppend:
			if exists {
				plan.EntitiesToSkip = append(plan.EntitiesToSkip, incoming.Name)
				continue
			}
			plan.EntitiesToCreate = append(plan.EntitiesToCreate, incoming)

		case ModeUpdate:
			if !exists {
				plan.EntitiesToSkip = append(plan.EntitiesToSkip, incoming.Name)
				continue
			}
			plan.EntitiesToUpdate = append(plan.EntitiesToUpdate, mergeForUpdate(existing, incoming))

		case ModeReplace:
			plan.EntitiesToCreate = append(plan.EntitiesToCreate, incoming)

		default: // ModeMerge
			if !exists {
				plan.EntitiesToCreate = append(plan.EntitiesToCreate, incoming)
				continue
			}
			resolved, skip := resolveConflict(existing, incoming, opts.Conflict, existingByNorm)
			if skip {
				plan.EntitiesToSkip = append(plan.EntitiesToSkip, incoming.Name)
				continue
			}
			plan.EntitiesToUpdate = append(plan.EntitiesToUpdate, resolved)
		}
	}

	for _, r := range ctxExport.Relations {
		plan.RelationsToCreate = append(plan.RelationsToCreate, r)
	}

	return plan
}

func applyMigration(entities []store.Entity, mig MigrationOptions) []store.Entity {
	if len(mig.RemapEntityTypes) == 0 && !mig.FilterContentText && !mig.FilterContentImages &&
		!mig.FilterContentAudio && !mig.FilterContentResources {
		return entities
	}
	out := make([]store.Entity, len(entities))
	for i, e := range entities {
		if remapped, ok := mig.RemapEntityTypes[e.EntityType]; ok {
			e.EntityType = remapped
		}
		e.Observations = filterObservations(e.Observations, mig)
		out[i] = e
	}
	return out
}

func filterObservations(obs []store.Observation, mig MigrationOptions) []store.Observation {
	out := make([]store.Observation, 0, len(obs))
	for _, o := range obs {
		switch o.Type {
		case store.ObservationText:
			if mig.FilterContentText {
				continue
			}
		case store.ObservationImage:
			if mig.FilterContentImages {
				continue
			}
		case store.ObservationAudio:
			if mig.FilterContentAudio {
				continue
			}
		case store.ObservationResourceLink, store.ObservationResource:
			if mig.FilterContentResources {
				continue
			}
		}
		out = append(out, o)
	}
	return out
}

// mergeForUpdate implements the merge-mode upsert: entity_type
// overwritten, observations appended with exact-duplicate text blocks
// dropped.
func mergeForUpdate(existing, incoming store.Entity) store.Entity {
	merged := existing
	merged.EntityType = incoming.EntityType
	merged.Observations = appendNonDuplicate(existing.Observations, incoming.Observations)
	return merged
}

func appendNonDuplicate(existing, incoming []store.Observation) []store.Observation {
	seen := make(map[string]bool, len(existing))
	for _, o := range existing {
		seen[string(o.Type)+"|"+o.SearchableText()] = true
	}
	out := existing
	for _, o := range incoming {
		key := string(o.Type) + "|" + o.SearchableText()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, o)
	}
	return out
}

func resolveConflict(existing, incoming store.Entity, res ConflictResolution, existingByNorm map[string]store.Entity) (store.Entity, bool) {
	switch res {
	case ConflictSkip:
		return store.Entity{}, true
	case ConflictOverwrite:
		return incoming, false
	case ConflictRename:
		incoming.Name = uniqueName(incoming.Name, existingByNorm)
		return incoming, false
	default:
		return mergeForUpdate(existing, incoming), false
	}
}

// uniqueName appends a numeric suffix until the normalized name is
// free in existingByNorm.
func uniqueName(name string, existingByNorm map[string]store.Entity) string {
	candidate := name
	for i := 2; ; i++ {
		if _, taken := existingByNorm[store.NormalizeName(candidate)]; !taken {
			return candidate
		}
		candidate = fmt.Sprintf("%s (%d)", name, i)
	}
}
