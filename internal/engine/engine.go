// Package engine wraps the embedded KV/FTS engine: a single write
// connection plus a bounded read-only connection pool over one SQLite
// database file, opened through the pure-Go github.com/ncruces/go-sqlite3
// driver (see internal/store/sqlite_store.go), with a pragma set tuned
// for a single-writer, many-readers workload.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"

	"github.com/foundrylabs/memento/internal/memerr"
)

// Config tunes the pragma set and read-pool size described in 
type Config struct {
	// Path is the database file path, or ":memory:" for an ephemeral
	// engine (used heavily by tests).
	Path string
	// ReadPoolSize is the number of read-only connections to keep open;
	// defaults to 20
	ReadPoolSize int
	// BusyTimeout is how long a connection waits on a lock before
	// failing; defaults to 5s
	BusyTimeout time.Duration
	// AcquireTimeout bounds how long a read-pool acquisition waits;
	// defaults to 5s "acquire_timeout".
	AcquireTimeout time.Duration
	// PageCacheKB sizes SQLite's page cache; defaults to 64MB
	PageCacheKB int
	// MmapSizeBytes sizes the mmap window; 0 disables mmap.
	MmapSizeBytes int64
}

func (c Config) withDefaults() Config {
	if c.ReadPoolSize <= 0 {
		c.ReadPoolSize = 20
	}
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = 5 * time.Second
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 5 * time.Second
	}
	if c.PageCacheKB == 0 {
		c.PageCacheKB = 64 * 1024
	}
	return c
}

// Engine owns one write connection and a bounded pool of read-only
// connections over a single SQLite file. Only the write connection may
// mutate.
type Engine struct {
	cfg   Config
	write *sql.DB
	read  *sql.DB
	sem   chan struct{} // bounds concurrent read-pool acquisitions
}

// Open creates (or reopens) the database file at cfg.Path, applies the
// WAL/synchronous/busy-timeout/page-cache/mmap pragmas, and prepares a
// bounded read-only pool.
func Open(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()

	write, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("engine: open write connection: %w", err)
	}
	write.SetMaxOpenConns(1) // single writer per context, 
	write.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout.Milliseconds()),
		fmt.Sprintf("PRAGMA cache_size=-%d", cfg.PageCacheKB),
		"PRAGMA foreign_keys=ON",
	}
	if cfg.MmapSizeBytes > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA mmap_size=%d", cfg.MmapSizeBytes))
	}
	for _, p := range pragmas {
		if _, err := write.Exec(p); err != nil {
			write.Close()
			return nil, fmt.Errorf("engine: pragma %q: %w", p, err)
		}
	}

	read, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("engine: open read pool: %w", err)
	}
	read.SetMaxOpenConns(cfg.ReadPoolSize)
	for _, p := range []string{
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout.Milliseconds()),
		"PRAGMA query_only=ON",
	} {
		if _, err := read.Exec(p); err != nil {
			write.Close()
			read.Close()
			return nil, fmt.Errorf("engine: read pragma %q: %w", p, err)
		}
	}

	return &Engine{
		cfg:   cfg,
		write: write,
		read:  read,
		sem:   make(chan struct{}, cfg.ReadPoolSize),
	}, nil
}

// Write returns the single write *sql.DB handle for exclusive mutation.
func (e *Engine) Write() *sql.DB { return e.write }

// AcquireRead blocks until a read-pool slot is free or ctx/acquire
// timeout elapses, returning the shared read-only *sql.DB plus a release
// function that must always be called.
func (e *Engine) AcquireRead(ctx context.Context) (*sql.DB, func(), error) {
	acquireCtx, cancel := context.WithTimeout(ctx, e.cfg.AcquireTimeout)
	defer cancel()

	select {
	case e.sem <- struct{}{}:
		return e.read, func() { <-e.sem }, nil
	case <-acquireCtx.Done():
		return nil, func() {}, memerr.New(memerr.KindTimeout, "timed out acquiring read connection")
	}
}

// Exec runs a statement against the write connection.
func (e *Engine) Exec(query string, args ...any) (sql.Result, error) {
	return e.write.Exec(query, args...)
}

// Close closes both connections.
func (e *Engine) Close() error {
	err1 := e.write.Close()
	err2 := e.read.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Checkpoint forces a WAL checkpoint, used by the resilience layer's
// shutdown path and by export to guarantee a consistent read before
// serialization.
func (e *Engine) Checkpoint() error {
	_, err := e.write.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}
