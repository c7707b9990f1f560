package store

import (
	"context"
	"database/sql"
	"sort"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_DialectSelection(t *testing.T) {
	db, err := Open("file::memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	assert.Equal(t, SQLite, db.Dialect)

	pg, err := Open("postgres://localhost/assinado?sslmode=disable")
	require.NoError(t, err)
	defer func() { _ = pg.Close() }()
	assert.Equal(t, Postgres, pg.Dialect)
}

// Stored timestamps must sort lexicographically in chronological order;
// chain verification orders events by the TEXT column.
func TestTimeFormat_LexicographicOrder(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	instants := []time.Time{
		base.Add(500 * time.Millisecond),
		base,
		base.Add(123 * time.Nanosecond),
		base.Add(510 * time.Millisecond),
		base.Add(time.Hour),
	}

	formatted := make([]string, len(instants))
	for i, ts := range instants {
		formatted[i] = FormatTime(ts)
	}
	sort.Strings(formatted)

	for i := 1; i < len(formatted); i++ {
		prev, cur := ParseTime(formatted[i-1]), ParseTime(formatted[i])
		assert.False(t, cur.Before(prev), "lexicographic order diverged from chronological at %d", i)
	}
}

func TestTimeFormat_RoundTrip(t *testing.T) {
	ts := time.Date(2026, 8, 24, 18, 4, 5, 987654321, time.UTC)
	assert.Equal(t, ts, ParseTime(FormatTime(ts)))
	assert.True(t, ParseTime("").IsZero())
	assert.True(t, ParseTime("garbage").IsZero())
}

func TestWithTx_CommitAndRollback(t *testing.T) {
	db, err := OpenMemory()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	_, err = db.ExecContext(ctx, `CREATE TABLE items (id TEXT PRIMARY KEY)`)
	require.NoError(t, err)

	err = WithTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO items (id) VALUES ($1)`, "a")
		return err
	})
	require.NoError(t, err)

	err = WithTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO items (id) VALUES ($1)`, "b"); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n))
	assert.Equal(t, 1, n, "rolled-back insert must not persist")
}

func TestIsUniqueViolation_SQLite(t *testing.T) {
	db, err := OpenMemory()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	_, err = db.ExecContext(ctx, `CREATE TABLE users (email TEXT UNIQUE)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO users (email) VALUES ($1)`, "owner@x.com")
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `INSERT INTO users (email) VALUES ($1)`, "owner@x.com")
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.False(t, IsUniqueViolation(nil))
	assert.False(t, IsUniqueViolation(assert.AnError))
}

// Ascending $N placeholders bind positionally on both engines; the
// repositories rely on this.
func TestPositionalDollarPlaceholders_SQLite(t *testing.T) {
	db, err := OpenMemory()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	_, err = db.ExecContext(ctx, `CREATE TABLE pairs (a TEXT, b TEXT)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO pairs (a, b) VALUES ($1, $2)`, "first", "second")
	require.NoError(t, err)

	var a, b string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT a, b FROM pairs WHERE a = $1 AND b = $2`, "first", "second").Scan(&a, &b))
	assert.Equal(t, "first", a)
	assert.Equal(t, "second", b)
}

// The advisory lock only exists on Postgres; a mocked connection pins
// down the exact statement without needing a server.
func TestAcquireEntityLock_Postgres(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = mockDB.Close() }()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := mockDB.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, Postgres.AcquireEntityLock(ctx, tx, "doc-1"))
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireEntityLock_SQLiteNoop(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = mockDB.Close() }()

	// No expectations: SQLite must not touch the connection.
	require.NoError(t, SQLite.AcquireEntityLock(context.Background(), mockDB, "doc-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollbackOnError_Mock(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = mockDB.Close() }()

	mock.ExpectBegin()
	mock.ExpectRollback()

	db := &DB{DB: mockDB, Dialect: Postgres}
	err = WithTx(context.Background(), db, func(*sql.Tx) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNullStr(t *testing.T) {
	assert.False(t, NullStr("").Valid)
	ns := NullStr("x")
	assert.True(t, ns.Valid)
	assert.Equal(t, "x", StrOrEmpty(ns))
	assert.Equal(t, "", StrOrEmpty(NullStr("")))
}
