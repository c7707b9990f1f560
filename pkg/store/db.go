// Package store provides the shared persistence substrate: driver
// selection, the explicit transaction handle every repository method
// receives, and the few dialect-specific bits (row locks, advisory
// entity locks) the two supported engines disagree on.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL engine behind a *sql.DB.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// TimeFormat is the storage format for every timestamp column: UTC,
// fixed-width nanoseconds, so lexicographic TEXT ordering equals
// chronological ordering on both engines.
const TimeFormat = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime reads a stored timestamp back. Zero time on empty or
// unparseable input.
func ParseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}

// DBTX is the explicit handle repositories receive: either the pooled
// *sql.DB or an open *sql.Tx. Multi-write operations always pass a Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB bundles the pool with its dialect.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open selects the driver from the URL: postgres://... (or postgresql://)
// opens lib/pq; anything else, including empty, opens a local SQLite
// database (defaulting to ./assinado.db).
func Open(databaseURL string) (*DB, error) {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		db, err := sql.Open("postgres", databaseURL)
		if err != nil {
			return nil, fmt.Errorf("store: failed to open postgres: %w", err)
		}
		return &DB{DB: db, Dialect: Postgres}, nil
	}

	dsn := databaseURL
	if dsn == "" {
		dsn = "file:assinado.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open sqlite: %w", err)
	}
	if strings.Contains(dsn, ":memory:") {
		// each pooled connection would otherwise get its own database
		db.SetMaxOpenConns(1)
	}
	return &DB{DB: db, Dialect: SQLite}, nil
}

// OpenMemory opens a throwaway in-memory SQLite database for tests.
func OpenMemory() (*DB, error) {
	return Open("file::memory:?_pragma=foreign_keys(1)")
}

// RowLockSuffix returns the clause appended to a SELECT that must hold
// the row until commit. SQLite serializes writers, so no clause is
// needed there.
func (d Dialect) RowLockSuffix() string {
	if d == Postgres {
		return " FOR UPDATE"
	}
	return ""
}

// AcquireEntityLock serializes chain appends for one entity within the
// surrounding transaction. On Postgres this is a transaction-scoped
// advisory lock keyed by the entity id; on SQLite the single writer
// already serializes.
func (d Dialect) AcquireEntityLock(ctx context.Context, tx DBTX, entityID string) error {
	if d != Postgres {
		return nil
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(entityID))
	key := int64(h.Sum64()) // #nosec G115 -- advisory lock keyspace, sign is irrelevant
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", key); err != nil {
		return fmt.Errorf("store: failed to acquire entity lock: %w", err)
	}
	return nil
}

// WithTx runs fn inside a transaction, committing on nil and rolling
// back on error or panic.
func WithTx(ctx context.Context, db *DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: failed to begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: failed to commit tx: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a uniqueness-constraint
// failure on either engine.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed: UNIQUE")
}

// NullStr converts an optional string to its nullable column value.
func NullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// StrOrEmpty unwraps a nullable column value.
func StrOrEmpty(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
