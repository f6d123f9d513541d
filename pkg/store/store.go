// Package store provides shared access to the MMOS coordination database:
// opening SQLite with production-safe defaults, transactional helpers with
// bounded retry, and the append-only status log.
//
// Every state-changing operation in the system runs inside a single write
// transaction obtained from this package. There is no in-process cache of
// worker or task state; the database is the only source of truth shared by
// the orchestrator and all worker processes.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Default bounds for store calls. Operations are short; a slow store call
// surfaces as a transient error rather than hanging the caller.
const (
	defaultCallTimeout = 5 * time.Second
	defaultMaxAttempts = 3
	retryBaseDelay     = 50 * time.Millisecond
)

// DB wraps the SQLite connection with transaction and retry helpers.
type DB struct {
	sql *sql.DB

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// Open opens the coordination database at path and enforces production-safe
// defaults: WAL journal mode, a 5-second busy timeout, and immediate write
// transactions so the read that selects a row and the write that claims it
// hold the same lock. It pings the connection before returning.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	ctx := context.Background()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}

	return &DB{sql: db, nowFunc: time.Now}, nil
}

// OpenMemory opens a private in-memory database, used by tests that do not
// exercise cross-process file behavior. The pool is capped at a single
// connection: with the default pool each connection would open its own empty
// in-memory database and the applied schema could vanish mid-test.
func OpenMemory() (*DB, error) {
	db, err := sql.Open("sqlite", "file::memory:?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxIdleTime(0)
	return &DB{sql: db, nowFunc: time.Now}, nil
}

// Init applies the schema DDL. Safe to call on every startup; all statements
// are IF NOT EXISTS.
func (d *DB) Init(ctx context.Context, ddl string) error {
	if _, err := d.sql.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection. Safe to call multiple times.
func (d *DB) Close() error {
	if d.sql != nil {
		return d.sql.Close()
	}
	return nil
}

// SQL exposes the raw connection for read-only queries that do not need
// transactional isolation (single-statement reads).
func (d *DB) SQL() *sql.DB {
	return d.sql
}

// Now returns the current time in UTC.
func (d *DB) Now() time.Time {
	return d.nowFunc().UTC()
}

// SetNowFunc overrides the clock, for tests.
func (d *DB) SetNowFunc(f func() time.Time) {
	d.nowFunc = f
}

// WriteTx runs fn inside a single write transaction with a per-call deadline.
// Transient failures (SQLITE_BUSY, locked database) are retried up to three
// times with jittered exponential backoff before the wrapped error surfaces.
// fn must be safe to re-run: it either commits in full or has no effect.
func (d *DB) WriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()

	var err error
	for attempt := 0; attempt < defaultMaxAttempts; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			delay += time.Duration(rand.Int63n(int64(retryBaseDelay)))
			select {
			case <-ctx.Done():
				return fmt.Errorf("storage: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		err = d.runTx(ctx, fn)
		if err == nil || !retryable(err) {
			return err
		}
	}
	return fmt.Errorf("storage: retries exhausted: %w", err)
}

// ReadTx runs fn inside a read transaction with the same deadline policy.
// Used where multiple counters must reflect one consistent snapshot.
func (d *DB) ReadTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()
	return d.runTx(ctx, fn)
}

func (d *DB) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// retryable reports whether err looks like a transient SQLite contention
// failure rather than a logic error.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}
