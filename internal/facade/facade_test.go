package facade

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/foundrylabs/memento/internal/aggregator"
	"github.com/foundrylabs/memento/internal/config"
	"github.com/foundrylabs/memento/internal/memerr"
	"github.com/foundrylabs/memento/internal/registry"
	"github.com/foundrylabs/memento/internal/resilience"
	"github.com/foundrylabs/memento/internal/search"
)

func newTestFacade(t *testing.T) (*Facade, *registry.Registry) {
	t.Helper()
	cfg, err := config.Load(nil)
	require.NoError(t, err)
	reg := registry.New(cfg)
	_, err = reg.CreateContext("default", ":memory:", nil, nil, "")
	require.NoError(t, err)
	f := New(reg, true, aggregator.Config{Mode: aggregator.ZeroDelay}, nil)
	return f, reg
}

func TestCallCreateEntitiesThenGetEntity(t *testing.T) {
	f, _ := newTestFacade(t)

	resp, err := f.Call(Request{Tool: "create_entities", Args: map[string]any{
		"entities": []any{
			map[string]any{"name": "Ada Lovelace", "entity_type": "person"},
		},
	}})
	require.NoError(t, err)
	require.Equal(t, 1, resp.StructuredContent["total"])

	resp, err = f.Call(Request{Tool: "get_entity", Args: map[string]any{"name": "ada lovelace"}})
	require.NoError(t, err)
	require.NotNil(t, resp.StructuredContent["entity"])
}

func TestCallUnknownToolFails(t *testing.T) {
	f, _ := newTestFacade(t)
	_, err := f.Call(Request{Tool: "not_a_real_tool"})
	require.Error(t, err)
}

func TestCallDestructiveWithoutConfirmFails(t *testing.T) {
	f, _ := newTestFacade(t)
	_, err := f.Call(Request{Tool: "delete_entities", Args: map[string]any{
		"names": []any{"ada lovelace"},
	}})
	require.Error(t, err)

	_, err = f.Call(Request{Tool: "delete_entities", Args: map[string]any{
		"names":   []any{"ada lovelace"},
		"confirm": true,
	}})
	require.NoError(t, err) // delete is idempotent; a missing name is not an error
}

func TestCallMissingRequiredFieldReturnsElicitation(t *testing.T) {
	f, _ := newTestFacade(t)
	resp, err := f.Call(Request{Tool: "create_entities", Args: map[string]any{}})
	require.NoError(t, err)
	require.Equal(t, true, resp.StructuredContent["elicitation"])
	missing, ok := resp.StructuredContent["missing_fields"].([]MissingField)
	require.True(t, ok)
	require.Len(t, missing, 1)
	require.Equal(t, "entities", missing[0].Path)
}

func TestCallSearchNodesFindsCreatedEntity(t *testing.T) {
	f, _ := newTestFacade(t)
	_, err := f.Call(Request{Tool: "create_entities", Args: map[string]any{
		"entities": []any{
			map[string]any{
				"name":        "Ada Lovelace",
				"entity_type": "person",
				"observations": []any{
					map[string]any{"type": "text", "text": "wrote the first algorithm"},
				},
			},
		},
	}})
	require.NoError(t, err)

	resp, err := f.Call(Request{Tool: "search_nodes", Args: map[string]any{"query": "Ada"}})
	require.NoError(t, err)
	hits, ok := resp.StructuredContent["hits"].([]search.Hit)
	require.True(t, ok)
	require.Len(t, hits, 1)
	require.Equal(t, "Ada Lovelace", hits[0].Entity.Name)
}

func TestCallAnalyzeIntentReturnsClassification(t *testing.T) {
	f, _ := newTestFacade(t)
	resp, err := f.Call(Request{Tool: "analyze_intent", Args: map[string]any{"query": "find Ada Lovelace"}})
	require.NoError(t, err)
	require.NotEmpty(t, resp.StructuredContent["intent"])
}

func TestRateLimitExceededReturnsRateLimitedKind(t *testing.T) {
	cfg, err := config.Load(nil)
	require.NoError(t, err)
	reg := registry.New(cfg)
	_, err = reg.CreateContext("default", ":memory:", nil, nil, "")
	require.NoError(t, err)
	f := New(reg, false, aggregator.Config{Mode: aggregator.ZeroDelay}, nil)

	var lastErr error
	for i := 0; i < classLimits[ClassContext]+10; i++ {
		_, lastErr = f.Call(Request{Tool: "get_current_context"})
		if lastErr != nil {
			break
		}
	}
	require.Error(t, lastErr)
	require.Equal(t, memerr.KindRateLimited, memerr.KindOf(lastErr))
}

func TestRollbackTransactionWithoutResilienceLayerFails(t *testing.T) {
	f, _ := newTestFacade(t)
	_, err := f.Call(Request{Tool: "rollback_transaction", Args: map[string]any{
		"transaction_id": "does-not-matter",
		"confirm":        true,
	}})
	require.Error(t, err)
}

func TestRollbackTransactionRejectsCommittedRecord(t *testing.T) {
	cfg, err := config.Load(nil)
	require.NoError(t, err)
	reg := registry.New(cfg)
	_, err = reg.CreateContext("default", ":memory:", nil, nil, "")
	require.NoError(t, err)

	layer := resilience.New(resilience.Config{})
	defer layer.Shutdown()
	f := New(reg, true, aggregator.Config{Mode: aggregator.ZeroDelay}, layer)

	rolledBack := false
	outcome, err := layer.Execute("noop", "", func() (any, error) {
		return "ok", nil
	}, nil, func() error { rolledBack = true; return nil }, nil)
	require.NoError(t, err)
	require.NotNil(t, outcome.Record)

	// The record committed already (Execute finishes it); rollback on a
	// terminal record is rejected rather than silently no-op'd.
	_, err = f.Call(Request{Tool: "rollback_transaction", Args: map[string]any{
		"transaction_id": outcome.Record.ID,
		"confirm":        true,
	}})
	require.Error(t, err)
	require.False(t, rolledBack)
}
