package codec

import (
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

func TestBuildExportCountsAndChecksum(t *testing.T) {
	src := SourceContext{
		Name: "personal",
		Entities: []store.Entity{
			{Name: "Alice", EntityType: "person", UpdatedAt: time.Now(), Observations: []store.Observation{
				{Type: store.ObservationText, Text: "likes tea"},
			}},
		},
		Relations: []store.Relation{{From: "Alice", To: "Alice", RelationType: "self"}},
	}

	exp := BuildExport([]SourceContext{src}, Options{IncludeMetadata: true})
	require.Equal(t, 1, exp.Metadata.TotalEntities)
	require.Equal(t, 1, exp.Metadata.TotalRelations)
	require.Equal(t, 1, exp.Metadata.TotalObservations)
	require.Contains(t, exp.Metadata.Contexts, "personal")

	data, err := Encode(exp, time.Now(), Options{Format: FormatJSON})
	require.NoError(t, err)
	require.NotEmpty(t, data)

	decoded, err := Decode(data, FormatJSON)
	require.NoError(t, err)
	require.NoError(t, Validate(decoded))
}

func TestEncodeDecodeCompressedRoundTrip(t *testing.T) {
	src := SourceContext{Name: "work", Entities: []store.Entity{{Name: "Bob", EntityType: "person"}}}
	exp := BuildExport([]SourceContext{src}, Options{})

	now := time.Now()
	data, err := Encode(exp, now, Options{Format: FormatCompressed, CompressionLevel: 6})
	require.NoError(t, err)

	plain, err := Encode(exp, now, Options{Format: FormatJSON})
	require.NoError(t, err)
	want, err := Decode(plain, FormatJSON)
	require.NoError(t, err)

	decoded, err := Decode(data, FormatCompressed)
	require.NoError(t, err)
	require.Equal(t, want.Checksum, decoded.Checksum)
	require.NoError(t, Validate(decoded))
}

func TestEncodeDecodeJSONLRoundTrip(t *testing.T) {
	src := SourceContext{Name: "work", Entities: []store.Entity{{Name: "Bob", EntityType: "person"}}}
	exp := BuildExport([]SourceContext{src}, Options{})

	data, err := Encode(exp, time.Now(), Options{Format: FormatJSONL})
	require.NoError(t, err)

	decoded, err := Decode(data, FormatJSONL)
	require.NoError(t, err)
	require.Contains(t, decoded.Contexts, "work")
}

func TestValidateDetectsChecksumMismatch(t *testing.T) {
	src := SourceContext{Name: "work", Entities: []store.Entity{{Name: "Bob", EntityType: "person"}}}
	exp := BuildExport([]SourceContext{src}, Options{})
	exp.ExportDate = time.Now()
	exp.Checksum = "not-the-real-checksum"

	err := Validate(exp)
	require.Error(t, err)
}

func TestBuildPlanMergeModeAppendsNonDuplicateObservations(t *testing.T) {
	existing := map[string]store.Entity{
		"alice": {Name: "Alice", EntityType: "person", Observations: []store.Observation{
			{Type: store.ObservationText, Text: "likes tea"},
		}},
	}
	incoming := ContextExport{
		Name: "personal",
		Entities: []store.Entity{
			{Name: "Alice", EntityType: "contact", Observations: []store.Observation{
				{Type: store.ObservationText, Text: "likes tea"},
				{Type: store.ObservationText, Text: "works at Acme"},
			}},
		},
	}

	plan := BuildPlan(incoming, existing, ImportOptions{Mode: ModeMerge})
	require.Len(t, plan.EntitiesToUpdate, 1)
	require.Equal(t, "contact", plan.EntitiesToUpdate[0].EntityType)
	require.Len(t, plan.EntitiesToUpdate[0].Observations, 2)
}

func TestBuildPlanAppendModeSkipsExisting(t *testing.T) {
	existing := map[string]store.Entity{
		"alice": {Name: "Alice", EntityType: "person"},
	}
	incoming := ContextExport{
		Name: "personal",
		Entities: []store.Entity{
			{Name: "Alice", EntityType: "person"},
			{Name: "Carol", EntityType: "person"},
		},
	}

	plan := BuildPlan(incoming, existing, ImportOptions{Mode: ModeAppend})
	require.Len(t, plan.EntitiesToSkip, 1)
	require.Len(t, plan.EntitiesToCreate, 1)
	require.Equal(t, "Carol", plan.EntitiesToCreate[0].Name)
}

func TestBuildPlanUpdateModeSkipsNew(t *testing.T) {
	existing := map[string]store.Entity{
		"alice": {Name: "Alice", EntityType: "person"},
	}
	incoming := ContextExport{
		Name: "personal",
		Entities: []store.Entity{
			{Name: "Alice", EntityType: "colleague"},
			{Name: "Dave", EntityType: "person"},
		},
	}

	plan := BuildPlan(incoming, existing, ImportOptions{Mode: ModeUpdate})
	require.Len(t, plan.EntitiesToUpdate, 1)
	require.Len(t, plan.EntitiesToSkip, 1)
}

func TestBuildPlanRenameConflictAppendsSuffix(t *testing.T) {
	existing := map[string]store.Entity{
		"alice": {Name: "Alice", EntityType: "person"},
	}
	incoming := ContextExport{
		Name: "personal",
		Entities: []store.Entity{
			{Name: "Alice", EntityType: "person"},
		},
	}

	plan := BuildPlan(incoming, existing, ImportOptions{Mode: ModeMerge, Conflict: ConflictRename})
	require.Len(t, plan.EntitiesToUpdate, 1)
	require.Equal(t, "Alice (2)", plan.EntitiesToUpdate[0].Name)
}

func TestApplyPlanDryRunMakesNoWrites(t *testing.T) {
	st := newTestStore(t)
	plan := Plan{EntitiesToCreate: []store.Entity{{Name: "Alice", EntityType: "person"}}}

	summary, err := ApplyPlan(st, plan, ImportOptions{DryRun: true})
	require.NoError(t, err)
	require.Equal(t, 1, summary.EntitiesImported)

	entities, _, err := st.ReadGraph(0, 0)
	require.NoError(t, err)
	require.Empty(t, entities)
}

func TestApplyPlanCreatesEntitiesAndRelations(t *testing.T) {
	st := newTestStore(t)
	plan := Plan{
		EntitiesToCreate: []store.Entity{
			{Name: "Alice", EntityType: "person"},
			{Name: "Bob", EntityType: "person"},
		},
		RelationsToCreate: []store.Relation{{From: "Alice", To: "Bob", RelationType: "knows"}},
	}

	summary, err := ApplyPlan(st, plan, ImportOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, summary.EntitiesImported)
	require.Equal(t, 1, summary.RelationsImported)
}

func TestApplyPlanSkipsRelationsWithMissingEndpoint(t *testing.T) {
	st := newTestStore(t)
	plan := Plan{
		RelationsToCreate: []store.Relation{{From: "Ghost", To: "Nobody", RelationType: "knows"}},
	}

	summary, err := ApplyPlan(st, plan, ImportOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, summary.RelationsSkipped)
	require.NotEmpty(t, summary.Warnings)
}

func TestCompressionRatioComputation(t *testing.T) {
	require.InDelta(t, 2.0, CompressionRatio(200, 100), 0.001)
	require.Equal(t, 0.0, CompressionRatio(200, 0))
}
