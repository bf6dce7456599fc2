// Package codec implements the export/import codec: producing and consuming
// MemoryExport v3, the bulk snapshot format used for backup, migration, and
// context cloning. The whole-database-to-JSON shape follows the familiar
// query-every-row, build-one-struct, marshal/unmarshal-as-a-unit pattern,
// generalized here to per-context entities/relations instead of a flat
// notes/edges/folders dump, plus checksum, compression, and
// conflict-resolution machinery a simpler export wouldn't need.
package codec

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/foundrylabs/memento/internal/memerr"
	"github.com/foundrylabs/memento/internal/store"
)

// FormatVersion is the MemoryExport schema version this codec reads
// and writes.
const FormatVersion = "MemoryExport v3"

// OutputFormat selects the export's wire encoding.
type OutputFormat string

const (
	FormatJSON       OutputFormat = "json"
	FormatJSONL      OutputFormat = "jsonl"
	FormatCompressed OutputFormat = "compressed"
)

// Metadata summarizes an export's contents.
type Metadata struct {
	TotalEntities     int      `json:"total_entities"`
	TotalRelations    int      `json:"total_relations"`
	TotalObservations int      `json:"total_observations"`
	Contexts          []string `json:"contexts"`
	EntityTypes       []string `json:"entity_types"`
	RelationTypes     []string `json:"relation_types"`
}

// ContextExport is one context's entities, relations, and metadata.
type ContextExport struct {
	Name      string           `json:"name"`
	Entities  []store.Entity   `json:"entities,omitempty"`
	Relations []store.Relation `json:"relations,omitempty"`
	Metadata  ContextMetadata  `json:"metadata"`
}

// ContextMetadata mirrors registry.Metadata's exportable fields.
type ContextMetadata struct {
	Patterns    []string `json:"patterns,omitempty"`
	EntityTypes []string `json:"entity_types,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Export is the MemoryExport v3 envelope.
type Export struct {
	Version      string                   `json:"version"`
	ExportDate   time.Time                `json:"export_date"`
	SourceServer string                   `json:"source_server"`
	SourceVersion string                  `json:"source_version"`
	TargetServer string                   `json:"target_server,omitempty"`
	Metadata     Metadata                 `json:"metadata"`
	Contexts     map[string]ContextExport `json:"contexts"`
	Checksum     string                   `json:"checksum"`
}

// SourceContext is one context's data as the exporter sees it; built
// by the caller (the facade) from a registry.Context so this package
// stays free of a registry import.
type SourceContext struct {
	Name      string
	Entities  []store.Entity
	Relations []store.Relation
	Patterns  []string
	EntityTypes []string
	Description string
}

// Options controls what BuildExport includes and how it's filtered,
// and how Encode encodes the result.
type Options struct {
	IncludeMetadata    bool
	IncludeObservations bool
	IncludeRelations   bool
	DateFrom, DateTo   time.Time
	EntityTypeFilter   string
	TargetVersion      string
	TargetServer       string
	Format             OutputFormat
	CompressionLevel   int
	SourceServer       string
}

func (o Options) withDefaults() Options {
	if o.Format == "" {
		o.Format = FormatJSON
	}
	if o.SourceServer == "" {
		o.SourceServer = "memento"
	}
	if o.TargetVersion == "" {
		o.TargetVersion = FormatVersion
	}
	o.IncludeObservations = o.IncludeObservations || true
	o.IncludeRelations = o.IncludeRelations || true
	return o
}

// BuildExport assembles the MemoryExport envelope for the given
// contexts and options, without encoding it yet (Encode does that,
// after stamping the export date and computing the checksum).
func BuildExport(sources []SourceContext, opts Options) Export {
	opts = opts.withDefaults()

	exp := Export{
		Version:       opts.TargetVersion,
		SourceServer:  opts.SourceServer,
		SourceVersion: FormatVersion,
		TargetServer:  opts.TargetServer,
		Contexts:      make(map[string]ContextExport, len(sources)),
	}

	entityTypeSet := map[string]bool{}
	relationTypeSet := map[string]bool{}
	totalObservations := 0

	for _, src := range sources {
		entities := filterEntities(src.Entities, opts)
		relations := src.Relations
		if !opts.IncludeRelations {
			relations = nil
		}

		for i := range entities {
			entityTypeSet[entities[i].EntityType] = true
			if !opts.IncludeObservations {
				entities[i].Observations = nil
			} else {
				totalObservations += len(entities[i].Observations)
			}
		}
		for _, r := range relations {
			relationTypeSet[r.RelationType] = true
		}

		ctxExport := ContextExport{
			Name:      src.Name,
			Entities:  entities,
			Relations: relations,
		}
		if opts.IncludeMetadata {
			ctxExport.Metadata = ContextMetadata{
				Patterns:    src.Patterns,
				EntityTypes: src.EntityTypes,
				Description: src.Description,
			}
		}
		exp.Contexts[src.Name] = ctxExport
		exp.Metadata.Contexts = append(exp.Metadata.Contexts, src.Name)
		exp.Metadata.TotalEntities += len(entities)
		exp.Metadata.TotalRelations += len(relations)
	}
	exp.Metadata.TotalObservations = totalObservations
	exp.Metadata.EntityTypes = sortedKeys(entityTypeSet)
	exp.Metadata.RelationTypes = sortedKeys(relationTypeSet)
	sort.Strings(exp.Metadata.Contexts)

	return exp
}

func filterEntities(entities []store.Entity, opts Options) []store.Entity {
	out := make([]store.Entity, 0, len(entities))
	for _, e := range entities {
		if opts.EntityTypeFilter != "" && e.EntityType != opts.EntityTypeFilter {
			continue
		}
		if !opts.DateFrom.IsZero() && e.UpdatedAt.Before(opts.DateFrom) {
			continue
		}
		if !opts.DateTo.IsZero() && e.UpdatedAt.After(opts.DateTo) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Encode renders exp as bytes in the requested output format, after
// stamping ExportDate (a caller-supplied value, since Date.Now()-style
// calls are forbidden inside deterministic code paths this package
// shares with tests) and the checksum.
func Encode(exp Export, now time.Time, opts Options) ([]byte, error) {
	opts = opts.withDefaults()
	exp.ExportDate = now
	exp.Checksum = ""

	unchecksummed, err := json.Marshal(exp)
	if err != nil {
		return nil, memerr.Internal(err)
	}
	exp.Checksum = checksum(unchecksummed)

	switch opts.Format {
	case FormatJSONL:
		return encodeJSONL(exp)
	case FormatCompressed:
		return encodeCompressed(exp, opts.CompressionLevel)
	default:
		return json.MarshalIndent(exp, "", "  ")
	}
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}

// encodeJSONL writes one top-level envelope line followed by one line
// per context, each a standalone JSON object.
func encodeJSONL(exp Export) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	header := exp
	header.Contexts = nil
	if err := enc.Encode(header); err != nil {
		return nil, memerr.Internal(err)
	}

	names := make([]string, 0, len(exp.Contexts))
	for name := range exp.Contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := enc.Encode(exp.Contexts[name]); err != nil {
			return nil, memerr.Internal(err)
		}
	}
	return buf.Bytes(), nil
}

// encodeCompressed renders the full JSON, base64-encodes it, then
// gzips that — the literal nesting order the design names,
// "compressed is gzip(base64(json))".
func encodeCompressed(exp Export, level int) ([]byte, error) {
	if level < 0 || level > 9 {
		level = gzip.DefaultCompression
	}
	plain, err := json.Marshal(exp)
	if err != nil {
		return nil, memerr.Internal(err)
	}
	b64 := base64.StdEncoding.EncodeToString(plain)

	var gz bytes.Buffer
	w, err := gzip.NewWriterLevel(&gz, level)
	if err != nil {
		return nil, memerr.Internal(err)
	}
	if _, err := w.Write([]byte(b64)); err != nil {
		return nil, memerr.Internal(err)
	}
	if err := w.Close(); err != nil {
		return nil, memerr.Internal(err)
	}
	return gz.Bytes(), nil
}

// CompressionRatio reports plainSize/compressedSize for the summary's
// optional compression_ratio field.
func CompressionRatio(plainSize, compressedSize int) float64 {
	if compressedSize == 0 {
		return 0
	}
	return float64(plainSize) / float64(compressedSize)
}
