// Package facade implements the tool façade: it maps public tool names to
// core operations, validates inputs, enforces per-tool-class rate limits
// with golang.org/x/time/rate the way a rate.Limiter wraps an outbound call
// in a gated integration client, requires confirm:true on destructive
// operations, and reports failures as memerr-taxonomy errors.
package facade

import (
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/foundrylabs/memento/internal/aggregator"
	"github.com/foundrylabs/memento/internal/memerr"
	"github.com/foundrylabs/memento/internal/registry"
	"github.com/foundrylabs/memento/internal/resilience"
)

// ToolClass groups tools for rate-limiting purposes.
type ToolClass string

const (
	ClassRead    ToolClass = "read"
	ClassWrite   ToolClass = "write"
	ClassSearch  ToolClass = "search"
	ClassContext ToolClass = "context"
	ClassSystem  ToolClass = "system"
)

// classLimits gives each class's requests-per-minute ceiling.
var classLimits = map[ToolClass]int{
	ClassRead:    1000,
	ClassWrite:   100,
	ClassSearch:  500,
	ClassContext: 50,
	ClassSystem:  20,
}

// destructiveTools must carry confirm:true or fail with
// ConfirmationRequired.
var destructiveTools = map[string]bool{
	"delete_entities":     true,
	"delete_relations":    true,
	"delete_observations": true,
	"restore_backup":      true,
	"rollback_transaction": true,
}

// toolClasses maps each public tool name to its rate-limit class.
var toolClasses = map[string]ToolClass{
	"create_entities":      ClassWrite,
	"create_relations":     ClassWrite,
	"add_observations":     ClassWrite,
	"delete_entities":       ClassWrite,
	"delete_relations":      ClassWrite,
	"delete_observations":   ClassWrite,
	"get_entity":            ClassRead,
	"read_graph":            ClassRead,
	"search_nodes":          ClassSearch,
	"analyze_intent":        ClassSearch,
	"create_context":        ClassContext,
	"delete_context":        ClassContext,
	"set_context":           ClassContext,
	"get_current_context":   ClassContext,
	"list_contexts":         ClassContext,
	"export_memory":         ClassSystem,
	"import_memory":         ClassSystem,
	"restore_backup":        ClassSystem,
	"rollback_transaction":  ClassSystem,
}

// Request is one incoming tool call.
type Request struct {
	Tool string
	Args map[string]any
}

// ContentBlock is one piece of the tool response's human-readable
// content array.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Response is the façade's uniform reply envelope.
type Response struct {
	StructuredContent map[string]any `json:"structured_content"`
	Content           []ContentBlock `json:"content"`
}

// MissingField is one entry in an elicitation response.
type MissingField struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

// RateLimiterKey selects the limiter granularity; Call always uses
// globalKey, so every caller shares one limiter per tool class.
type RateLimiterKey string

const globalKey RateLimiterKey = "global"

// limiterSet holds one rate.Limiter per (class, key) pair.
type limiterSet struct {
	mu       sync.Mutex
	limiters map[ToolClass]map[RateLimiterKey]*rate.Limiter
	disabled bool
}

func newLimiterSet(disabled bool) *limiterSet {
	return &limiterSet{limiters: make(map[ToolClass]map[RateLimiterKey]*rate.Limiter), disabled: disabled}
}

func (s *limiterSet) allow(class ToolClass, key RateLimiterKey) bool {
	if s.disabled {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey, ok := s.limiters[class]
	if !ok {
		byKey = make(map[RateLimiterKey]*rate.Limiter)
		s.limiters[class] = byKey
	}
	lim, ok := byKey[key]
	if !ok {
		perMinute := classLimits[class]
		if perMinute == 0 {
			perMinute = classLimits[ClassRead]
		}
		lim = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
		byKey[key] = lim
	}
	return lim.Allow()
}

// Handler is one tool's implementation: given validated args, produce
// a Response or an error from the memerr taxonomy.
type Handler func(f *Facade, args map[string]any) (Response, error)

// Facade ties the registry, per-context aggregators, and rate limiter
// together behind the public tool surface.
type Facade struct {
	reg          *registry.Registry
	limiters     *limiterSet
	handlers     map[string]Handler
	requiredArgs map[string][]requiredArg
	resil        *resilience.Layer

	aggMu       sync.Mutex
	aggregators map[string]*aggregator.Aggregator
	aggCfg      aggregator.Config
}

type requiredArg struct {
	path string
	kind string // "string", "array", "object", "bool"
}

// New builds a Facade over reg. disableRateLimiting mirrors
// config.Config.DisableRateLimiting (env var DISABLE_RATE_LIMITING).
// resil is optional; when non-nil, every write intent is routed
// through it so the transaction log, retry, and circuit breaker apply
// between the Aggregator and the Store.
func New(reg *registry.Registry, disableRateLimiting bool, aggCfg aggregator.Config, resil *resilience.Layer) *Facade {
	f := &Facade{
		reg:          reg,
		limiters:     newLimiterSet(disableRateLimiting),
		handlers:     make(map[string]Handler),
		requiredArgs: make(map[string][]requiredArg),
		aggregators:  make(map[string]*aggregator.Aggregator),
		aggCfg:       aggCfg,
		resil:        resil,
	}
	f.registerHandlers()
	return f
}

// aggregatorFor lazily builds (or reuses) the per-context Aggregator
// backing write tools, keyed by context name.
func (f *Facade) aggregatorFor(ctx *registry.Context) *aggregator.Aggregator {
	f.aggMu.Lock()
	defer f.aggMu.Unlock()
	agg, ok := f.aggregators[ctx.Meta.Name]
	if !ok {
		agg = aggregator.New(ctx.Store, f.aggCfg)
		f.aggregators[ctx.Meta.Name] = agg
	}
	return agg
}

// submitWrite routes intent through the Aggregator and, when a
// resilience Layer is configured, wraps the flush in a logged,
// retried, circuit-broken transaction. Verify/rollback are no-ops
// here: the Aggregator's own flush is the unit of atomicity: this
// layer adds retry-on-transient-failure and breaker tripping on top,
// not a second commit/rollback boundary.
func (f *Facade) submitWrite(ctx *registry.Context, operation string, intent aggregator.Intent) (aggregator.Result, error) {
	if f.resil == nil {
		res := f.aggregatorFor(ctx).Submit(intent)
		return res, res.Err
	}

	outcome, err := f.resil.Execute(
		operation,
		"",
		func() (any, error) {
			res := f.aggregatorFor(ctx).Submit(intent)
			if res.Err != nil {
				return nil, res.Err
			}
			return res, nil
		},
		nil,
		nil,
		nil,
	)
	if err != nil {
		return aggregator.Result{}, err
	}
	res, _ := outcome.Value.(aggregator.Result)
	return res, nil
}

// HasTool reports whether name is a registered tool, so a transport
// layer can distinguish "unknown tool" (Method Not Found) from a
// validation failure within a known tool (Invalid Params).
func (f *Facade) HasTool(name string) bool {
	_, ok := f.handlers[name]
	return ok
}

// Call dispatches one tool request end-to-end: rate limiting,
// destructive-operation confirmation, required-field elicitation,
// and the handler itself. Errors are returned as memerr values; the
// transport maps them to JSON-RPC codes.
func (f *Facade) Call(req Request) (Response, error) {
	handler, ok := f.handlers[req.Tool]
	if !ok {
		return Response{}, memerr.New(memerr.KindInvalidInput, fmt.Sprintf("unknown tool: %s", req.Tool))
	}

	class := toolClasses[req.Tool]
	if !f.limiters.allow(class, globalKey) {
		return Response{}, memerr.New(memerr.KindRateLimited, "rate limit exceeded for this tool class").
			WithContext(map[string]any{"tool_class": class, "retry_after_seconds": 1})
	}

	if destructiveTools[req.Tool] {
		confirmed, _ := req.Args["confirm"].(bool)
		if !confirmed {
			return Response{}, memerr.New(memerr.KindConfirmationRequired, "destructive operation requires confirm:true").
				WithContext(map[string]any{"tool": req.Tool})
		}
	}

	if missing := f.missingFields(req.Tool, req.Args); len(missing) > 0 {
		return Response{
			StructuredContent: map[string]any{"elicitation": true, "missing_fields": missing},
		}, nil
	}

	resp, err := handler(f, req.Args)
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}

func (f *Facade) missingFields(tool string, args map[string]any) []MissingField {
	var missing []MissingField
	for _, req := range f.requiredArgs[tool] {
		v, present := args[req.path]
		if !present || !matchesKind(v, req.kind) {
			missing = append(missing, MissingField{Path: req.path, Type: req.kind})
		}
	}
	return missing
}

func matchesKind(v any, kind string) bool {
	if v == nil {
		return false
	}
	switch kind {
	case "string":
		s, ok := v.(string)
		return ok && s != ""
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "bool":
		_, ok := v.(bool)
		return ok
	default:
		return true
	}
}

func (f *Facade) resolveContext(args map[string]any) (*registry.Context, error) {
	explicit, _ := args["context"].(string)
	hint, _ := args["hint"].(string)
	return f.reg.Resolve(explicit, hint)
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}
