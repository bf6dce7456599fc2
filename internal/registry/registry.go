// Package registry implements the context registry: a name → Context mapping
// where each Context bundles a store handle, its caches, its Bloom filter,
// its aging preset, and a metadata record. The registry owns the stores;
// each store exclusively owns its engine handle; caches are owned by their
// context.
package registry

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/foundrylabs/memento/internal/aging"
	"github.com/foundrylabs/memento/internal/cache"
	"github.com/foundrylabs/memento/internal/config"
	"github.com/foundrylabs/memento/internal/engine"
	"github.com/foundrylabs/memento/internal/memerr"
	"github.com/foundrylabs/memento/internal/store"
)

var nameRe = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Metadata is a context's descriptive record.
type Metadata struct {
	Name        string
	Path        string
	Patterns    []string
	EntityTypes []string
	Description string
}

// Context bundles everything one named, isolated graph owns.
type Context struct {
	Meta        Metadata
	Store       *store.Store
	EntityCache cache.Cache
	SearchCache cache.Cache
	Bloom       *cache.BloomFilter
	Preset      aging.Preset
	CreatedAt   time.Time

	eng *engine.Engine
}

// Close releases every resource a Context owns.
func (c *Context) Close() error {
	return c.Store.Close()
}

// Registry maintains the name -> Context mapping plus the
// process-wide current_context pointer.
type Registry struct {
	mu       sync.RWMutex
	contexts map[string]*Context
	order    []string // registration order, for resolve() tie-breaking
	current  string
	cfg      *config.Config
}

// New builds an empty registry bound to cfg for default sizing and
// path resolution.
func New(cfg *config.Config) *Registry {
	return &Registry{
		contexts: make(map[string]*Context),
		cfg:      cfg,
	}
}

// CreateContext implements create_context.
func (r *Registry) CreateContext(name, path string, patterns, entityTypes []string, description string) (*Context, error) {
	if !nameRe.MatchString(name) {
		return nil, memerr.New(memerr.KindInvalidInput, "invalid context name: must match [a-z0-9_-]+").
			WithContext(map[string]any{"name": name})
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.contexts[name]; exists {
		return nil, memerr.New(memerr.KindConflict, "context already exists").
			WithContext(map[string]any{"name": name})
	}

	dbPath := path
	if dbPath == "" {
		dbPath = r.cfg.DBPathFor(name)
	}

	eng, err := engine.Open(engine.Config{Path: dbPath})
	if err != nil {
		return nil, memerr.Internal(err)
	}

	preset := aging.Resolve(string(r.cfg.AgingPreset))

	st, err := store.Open(eng, preset)
	if err != nil {
		eng.Close()
		return nil, memerr.Internal(err)
	}

	ctx := &Context{
		Meta: Metadata{
			Name:        name,
			Path:        dbPath,
			Patterns:    patterns,
			EntityTypes: entityTypes,
			Description: description,
		},
		Store:       st,
		EntityCache: cache.New(cache.Strategy(r.cfg.CacheStrategy), r.cfg.EntityCacheSize),
		SearchCache: cache.New(cache.Strategy(r.cfg.CacheStrategy), r.cfg.SearchCacheSize),
		Bloom:       cache.NewBloomFilter(r.cfg.BloomExpectedItems, r.cfg.BloomFalsePositiveRate),
		Preset:      preset,
		CreatedAt:   time.Now(),
		eng:         eng,
	}

	r.contexts[name] = ctx
	r.order = append(r.order, name)
	if r.current == "" {
		r.current = name
	}
	return ctx, nil
}

// DeleteContext implements delete_context: refuses when the context
// holds entities unless force is set.
func (r *Registry) DeleteContext(name string, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, ok := r.contexts[name]
	if !ok {
		return memerr.InvalidContext(name)
	}

	if !force {
		entities, _, err := ctx.Store.Count()
		if err != nil {
			return memerr.Internal(err)
		}
		if entities > 0 {
			return memerr.New(memerr.KindContextNotEmpty, "context has entities; pass force=true to delete anyway").
				WithContext(map[string]any{"name": name, "entity_count": entities})
		}
	}

	if err := ctx.Close(); err != nil {
		return memerr.Internal(err)
	}

	delete(r.contexts, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.current == name {
		r.current = ""
		if len(r.order) > 0 {
			r.current = r.order[0]
		}
	}
	return nil
}

// SetContext implements set_context.
func (r *Registry) SetContext(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.contexts[name]; !ok {
		return memerr.InvalidContext(name)
	}
	r.current = name
	return nil
}

// GetCurrent implements get_current.
func (r *Registry) GetCurrent() (*Context, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == "" {
		return nil, memerr.New(memerr.KindInvalidContext, "no current context; create one first")
	}
	return r.contexts[r.current], nil
}

// Get returns a context by name without affecting current_context.
func (r *Registry) Get(name string) (*Context, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctx, ok := r.contexts[name]
	if !ok {
		return nil, memerr.InvalidContext(name)
	}
	return ctx, nil
}

// List returns every registered context in registration order.
func (r *Registry) List() []*Context {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Context, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.contexts[n])
	}
	return out
}

// resolveThreshold is the minimum token-overlap score for a hint to auto-select a context over falling
// back to current.
const resolveThreshold = 0.3

// Resolve implements resolve(explicit?, hint?): an explicit context
// name wins outright; otherwise the hint text is scored for token
// overlap against each context's detection patterns, picking the
// best match above resolveThreshold with ties broken by earlier
// registration; otherwise current_context.
func (r *Registry) Resolve(explicit, hint string) (*Context, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if explicit != "" {
		ctx, ok := r.contexts[explicit]
		if !ok {
			return nil, memerr.InvalidContext(explicit)
		}
		return ctx, nil
	}

	if hint != "" {
		best, bestScore := "", 0.0
		for _, name := range r.order {
			ctx := r.contexts[name]
			score := patternOverlapScore(hint, ctx.Meta.Patterns)
			if score > bestScore {
				best, bestScore = name, score
			}
		}
		if bestScore >= resolveThreshold {
			return r.contexts[best], nil
		}
	}

	if r.current == "" {
		return nil, memerr.New(memerr.KindInvalidContext, "no current context; create one first")
	}
	return r.contexts[r.current], nil
}

func patternOverlapScore(hint string, patterns []string) float64 {
	if len(patterns) == 0 {
		return 0
	}
	hintTokens := tokenSet(hint)
	if len(hintTokens) == 0 {
		return 0
	}

	matched := 0
	for _, p := range patterns {
		for token := range tokenSet(p) {
			if hintTokens[token] {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(patterns))
}

func tokenSet(s string) map[string]bool {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}
