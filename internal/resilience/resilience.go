// Package resilience wraps write transactions with a transaction log,
// retry-with-backoff, a circuit breaker, and graceful degradation. Retry
// follows a newServerRetryBackoff-style cenkalti/backoff/v4 idiom
// (backoff.Retry with backoff.Permanent for non-retryable errors); the
// circuit breaker is sony/gobreaker wrapping the same call.
package resilience

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/foundrylabs/memento/internal/logging"
	"github.com/foundrylabs/memento/internal/memerr"
)

// Status is one of the transaction state machine's terminal or
// transitional states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusCommitted  Status = "committed"
	StatusRolledBack Status = "rolled_back"
	StatusFailed     Status = "failed"
)

// Record is one transaction's log entry.
type Record struct {
	ID              string
	StartTS         time.Time
	Operation       string
	Status          Status
	ChecksumInput   string
	RollbackPayload string
	Duration        time.Duration

	rollback func() error
}

// Log is the in-memory transaction log; every write transaction gets
// one Record for its lifetime.
type Log struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewLog builds an empty transaction log.
func NewLog() *Log {
	return &Log{records: make(map[string]*Record)}
}

func (l *Log) nextID() string {
	return uuid.NewString()
}

func (l *Log) begin(operation, checksumInput string, rollback func() error) *Record {
	r := &Record{
		ID:            l.nextID(),
		StartTS:       time.Now(),
		Operation:     operation,
		Status:        StatusPending,
		ChecksumInput: checksumInput,
		rollback:      rollback,
	}
	l.mu.Lock()
	l.records[r.ID] = r
	l.mu.Unlock()
	return r
}

func (l *Log) finish(r *Record, status Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r.Status = status
	r.Duration = time.Since(r.StartTS)
}

// Pending returns every record still in StatusPending, for the
// stale-transaction repair sweep.
func (l *Log) Pending() []*Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Record, 0)
	for _, r := range l.records {
		if r.Status == StatusPending {
			out = append(out, r)
		}
	}
	return out
}

// Get returns one record by id, for tests and diagnostics.
func (l *Log) Get(id string) (*Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[id]
	return r, ok
}

// Rollback implements the rollback_transaction tool: it runs id's
// stored rollback function and marks the record rolled back. Only a
// still-pending record can be rolled back; a terminal record rejects
// the call, since terminal states never transition.
func (l *Log) Rollback(id string) error {
	l.mu.Lock()
	r, ok := l.records[id]
	l.mu.Unlock()
	if !ok {
		return memerr.New(memerr.KindNoActiveTransaction, "no such transaction").WithContext(map[string]any{"id": id})
	}
	if r.Status != StatusPending {
		return memerr.New(memerr.KindConflict, "transaction already in a terminal state").
			WithContext(map[string]any{"id": id, "status": string(r.Status)})
	}
	if r.rollback != nil {
		if err := r.rollback(); err != nil {
			return memerr.Internal(err)
		}
	}
	l.finish(r, StatusRolledBack)
	return nil
}

// Config tunes one Layer's retry, degradation, and repair behavior.
type Config struct {
	MaxRetries        int
	MaxElapsed        time.Duration
	DegradationEnabled bool
	StaleAfter        time.Duration
	RepairInterval    time.Duration
	BreakerName       string
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.MaxElapsed <= 0 {
		c.MaxElapsed = 60 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Minute
	}
	if c.RepairInterval <= 0 {
		c.RepairInterval = time.Minute
	}
	if c.BreakerName == "" {
		c.BreakerName = "resilience"
	}
	return c
}

// Layer is the resilience wrapper around a context's write path.
type Layer struct {
	cfg     Config
	log     *Log
	breaker *gobreaker.CircuitBreaker

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a Layer and starts its background stale-transaction
// repair sweep.
func New(cfg Config) *Layer {
	cfg = cfg.withDefaults()
	l := &Layer{
		cfg:    cfg,
		log:    NewLog(),
		stopCh: make(chan struct{}),
	}
	l.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.BreakerName,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	l.wg.Add(1)
	go l.repairLoop()

	return l
}

// TransientError marks an error that Execute should retry; any other
// error returned from Execute's fn aborts the retry loop immediately
// (mirrors backoff.Permanent in dolt store retry).
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err so Execute treats it as retryable.
func Transient(err error) error { return &TransientError{Err: err} }

// Outcome is what Execute returns for one attempted transaction.
type Outcome struct {
	Record     *Record
	Value      any
	Degraded   bool
}

// Execute runs fn as one logged, retried, circuit-broken transaction.
// checksumInput, when non-empty, is compared against verify's result
// after a successful commit; a mismatch triggers rollback (via
// rollback, if provided) and the transaction is marked rolled back. If
// fn still fails (after the retries for a transient error, or at once
// for any other error) and degradation is enabled, fallback is invoked
// and its result returned with Degraded=true instead of surfacing the
// error.
func (l *Layer) Execute(
	operation string,
	checksumInput string,
	fn func() (any, error),
	verify func(value any) string,
	rollback func() error,
	fallback func() (any, bool),
) (Outcome, error) {
	rec := l.log.begin(operation, checksumInput, rollback)

	result, err := l.breaker.Execute(func() (any, error) {
		var value any
		retryErr := backoff.Retry(func() error {
			v, callErr := fn()
			if callErr == nil {
				value = v
				return nil
			}
			var transient *TransientError
			if errors.As(callErr, &transient) {
				return callErr
			}
			return backoff.Permanent(callErr)
		}, retryPolicy(l.cfg))
		return value, retryErr
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			l.log.finish(rec, StatusFailed)
			return Outcome{Record: rec}, memerr.New(memerr.KindCircuitOpen, "circuit breaker open").WithContext(map[string]any{"operation": operation})
		}

		if l.cfg.DegradationEnabled && fallback != nil {
			if value, ok := fallback(); ok {
				l.log.finish(rec, StatusRolledBack)
				logging.L().Warnw("degraded after retries exhausted", "operation", operation, "error", err)
				return Outcome{Record: rec, Value: value, Degraded: true}, nil
			}
		}

		if rollback != nil {
			_ = rollback()
		}
		l.log.finish(rec, StatusFailed)
		return Outcome{Record: rec}, memerr.Internal(err)
	}

	if checksumInput != "" && verify != nil {
		if verify(result) != checksumInput {
			if rollback != nil {
				_ = rollback()
			}
			l.log.finish(rec, StatusRolledBack)
			return Outcome{Record: rec}, memerr.New(memerr.KindDataCorruption, "checksum mismatch; transaction rolled back").
				WithContext(map[string]any{"operation": operation})
		}
	}

	l.log.finish(rec, StatusCommitted)
	return Outcome{Record: rec, Value: result}, nil
}

func retryPolicy(cfg Config) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.Multiplier = 2
	bo.MaxElapsedTime = cfg.MaxElapsed
	return backoff.WithMaxRetries(bo, uint64(cfg.MaxRetries))
}

// Checksum computes the sha256 hex digest used for integrity-check
// comparisons.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// repairLoop scans for stale pending transactions every RepairInterval
// and rolls them back.
func (l *Layer) repairLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.RepairInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.repairOnce()
		case <-l.stopCh:
			return
		}
	}
}

func (l *Layer) repairOnce() {
	now := time.Now()
	for _, rec := range l.log.Pending() {
		if now.Sub(rec.StartTS) <= l.cfg.StaleAfter {
			continue
		}
		if rec.rollback != nil {
			if err := rec.rollback(); err != nil {
				logging.L().Errorw("stale transaction rollback failed", "id", rec.ID, "error", err)
				continue
			}
		}
		l.log.finish(rec, StatusRolledBack)
		logging.L().Warnw("rolled back stale transaction", "id", rec.ID, "operation", rec.Operation, "age", now.Sub(rec.StartTS))
	}
}

// Shutdown rolls back every still-active transaction and stops the
// repair sweep.
func (l *Layer) Shutdown() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
	l.wg.Wait()

	for _, rec := range l.log.Pending() {
		if rec.rollback != nil {
			_ = rec.rollback()
		}
		l.log.finish(rec, StatusRolledBack)
	}
}

// Log exposes the transaction log for diagnostics/tests.
func (l *Layer) Log() *Log { return l.log }
