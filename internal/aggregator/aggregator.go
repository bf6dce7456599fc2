// Package aggregator implements the write aggregator: it collapses concurrent write intents arriving for one
// context into a single grouped call to the store's ApplyBatch, so a
// burst of small writes pays for one transaction instead of many.
// Each flush allocates fresh per-kind slices for its batch.
package aggregator

import (
	"sync"
	"time"

	"github.com/foundrylabs/memento/internal/memerr"
	"github.com/foundrylabs/memento/internal/store"
)

// Mode selects the scheduling policy.
type Mode int

const (
	// ZeroDelay flushes as soon as no flush is already in flight; a
	// submission that arrives mid-flush simply joins the next one.
	ZeroDelay Mode = iota
	// Debounced waits up to DebounceInterval or until the batch reaches
	// MaxBatchSize, whichever comes first.
	Debounced
)

// Config tunes the aggregator's scheduling policy.
type Config struct {
	Mode              Mode
	DebounceInterval  time.Duration
	MaxBatchSize      int
}

func (c Config) withDefaults() Config {
	if c.DebounceInterval <= 0 {
		c.DebounceInterval = 20 * time.Millisecond
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 256
	}
	return c
}

// IntentKind names one of the four batchable write intent types; the
// fixed processing order across a flush is create_entities,
// create_relations, add_observations, delete_entities.
type IntentKind int

const (
	IntentCreateEntities IntentKind = iota
	IntentCreateRelations
	IntentAddObservations
	IntentDeleteEntities
)

// Intent is one caller's write request, tagged with its Kind so the
// flush can route it to the right ApplyBatch argument.
type Intent struct {
	Kind             IntentKind
	Entities         []store.Entity
	Relations        []store.Relation
	ObservationAdds  []store.ObservationAdd
	DeleteNames      []string
}

// Result is what Submit hands back to one caller once its intent has
// been durably applied (or rejected) as part of a flush.
type Result struct {
	EntityResults       []store.EntityUpsertResult
	RelationResults     []store.RelationResult
	ObservationEntities []store.Entity
	Err                 error
}

type pendingIntent struct {
	intent   Intent
	resultCh chan Result
}

// Aggregator batches intents for exactly one context's store. Each
// context in the registry owns its own Aggregator instance, and holds
// only the store reference it was given.
type Aggregator struct {
	cfg Config
	st  *store.Store

	mu       sync.Mutex
	queue    []pendingIntent
	flushing bool
	timer    *time.Timer
}

// New builds an Aggregator over st with the given scheduling config.
func New(st *store.Store, cfg Config) *Aggregator {
	return &Aggregator{cfg: cfg.withDefaults(), st: st}
}

// Submit enqueues intent and blocks until the flush that applies it
// completes, returning that flush's result for this caller's slice of
// the batch.
func (a *Aggregator) Submit(intent Intent) Result {
	resultCh := make(chan Result, 1)

	a.mu.Lock()
	a.queue = append(a.queue, pendingIntent{intent: intent, resultCh: resultCh})
	queueLen := len(a.queue)

	switch a.cfg.Mode {
	case Debounced:
		if queueLen >= a.cfg.MaxBatchSize {
			a.stopTimerLocked()
			a.triggerFlushLocked()
		} else if a.timer == nil {
			a.timer = time.AfterFunc(a.cfg.DebounceInterval, a.onTimerFire)
		}
	default: // ZeroDelay
		a.triggerFlushLocked()
	}
	a.mu.Unlock()

	return <-resultCh
}

func (a *Aggregator) onTimerFire() {
	a.mu.Lock()
	a.timer = nil
	a.triggerFlushLocked()
	a.mu.Unlock()
}

func (a *Aggregator) stopTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// triggerFlushLocked starts a flush goroutine if one isn't already
// running (single-flight per context). Must be called with mu held.
func (a *Aggregator) triggerFlushLocked() {
	if a.flushing || len(a.queue) == 0 {
		return
	}
	a.flushing = true
	go a.flush()
}

// flush drains the current queue, applies it in one ApplyBatch call
// preserving the fixed cross-kind ordering and each kind's submission
// order, and fans results back out to each caller.
func (a *Aggregator) flush() {
	a.mu.Lock()
	batch := a.queue
	a.queue = nil
	a.mu.Unlock()

	creates, relations, obsAdds, deletes := splitIntents(batch)

	result, err := a.st.ApplyBatch(creates, relations, obsAdds, deletes)

	a.dispatchResults(batch, result, err)

	a.mu.Lock()
	a.flushing = false
	a.triggerFlushLocked() // pick up anything that arrived mid-flush
	a.mu.Unlock()
}

func splitIntents(batch []pendingIntent) ([]store.Entity, []store.Relation, []store.ObservationAdd, []string) {
	var creates []store.Entity
	var relations []store.Relation
	var obsAdds []store.ObservationAdd
	var deletes []string

	for _, p := range batch {
		switch p.intent.Kind {
		case IntentCreateEntities:
			creates = append(creates, p.intent.Entities...)
		case IntentCreateRelations:
			relations = append(relations, p.intent.Relations...)
		case IntentAddObservations:
			obsAdds = append(obsAdds, p.intent.ObservationAdds...)
		case IntentDeleteEntities:
			deletes = append(deletes, p.intent.DeleteNames...)
		}
	}
	return creates, relations, obsAdds, deletes
}

// dispatchResults maps the single ApplyBatch result back to each
// caller 1-to-1 by re-walking the batch in submission order and
// slicing off as many result rows as that caller contributed,
// preserving the "results preserve the counts expected by the caller"
// contract. On failure, every intent in the batch is rejected
// with the same error.
func (a *Aggregator) dispatchResults(batch []pendingIntent, result store.BatchResult, err error) {
	if err != nil {
		wrapped := memerr.Internal(err)
		for _, p := range batch {
			p.resultCh <- Result{Err: wrapped}
		}
		return
	}

	entityOffset, relationOffset, obsOffset := 0, 0, 0
	for _, p := range batch {
		var r Result
		switch p.intent.Kind {
		case IntentCreateEntities:
			n := len(p.intent.Entities)
			r.EntityResults = result.EntityResults[entityOffset : entityOffset+n]
			entityOffset += n
		case IntentCreateRelations:
			n := len(p.intent.Relations)
			r.RelationResults = result.RelationResults[relationOffset : relationOffset+n]
			relationOffset += n
		case IntentAddObservations:
			n := len(p.intent.ObservationAdds)
			r.ObservationEntities = result.ObservationEntities[obsOffset : obsOffset+n]
			obsOffset += n
		case IntentDeleteEntities:
			// No per-row result to slice; a nil error is sufficient
			// confirmation of deletion.
		}
		p.resultCh <- r
	}
}
