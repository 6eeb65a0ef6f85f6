package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{Path: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenSQLiteMemory(t *testing.T) {
	db := openTestDB(t)
	assert.Equal(t, SQLite, db.Dialect())

	var n int
	err := db.QueryOne(context.Background(), `SELECT COUNT(*) FROM groceries`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestOpenSQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracklist.db")
	db, err := Open(context.Background(), Config{Path: path}, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = os.Stat(path)
	require.NoError(t, err)

	// Reopening runs migrations again as a no-op.
	db, err = Open(context.Background(), Config{Path: path}, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestExecuteReportsInsertID(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	res, err := db.Execute(ctx, `INSERT INTO groceries (username, name, name_key) VALUES (?, ?, ?)`, "alice", "Milk", "milk")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)
	assert.NotZero(t, res.LastInsertID)

	res2, err := db.Execute(ctx, `INSERT INTO groceries (username, name, name_key) VALUES (?, ?, ?)`, "alice", "Eggs", "eggs")
	require.NoError(t, err)
	assert.Greater(t, res2.LastInsertID, res.LastInsertID)

	res3, err := db.Execute(ctx, `DELETE FROM groceries WHERE username = ?`, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res3.RowsAffected)
}

func TestQueryMany(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, name := range []string{"Milk", "Eggs", "Bread"} {
		_, err := db.Execute(ctx, `INSERT INTO groceries (username, name, name_key) VALUES (?, ?, ?)`, "alice", name, strings.ToLower(name))
		require.NoError(t, err)
	}

	rows, err := db.QueryMany(ctx, `SELECT name FROM groceries WHERE username = ? ORDER BY name`, "alice")
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		require.NoError(t, rows.Scan(&n))
		names = append(names, n)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"Bread", "Eggs", "Milk"}, names)
}

func TestInTxCommit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.InTx(ctx, func(q Querier) error {
		_, err := q.Execute(ctx, `INSERT INTO groceries (username, name, name_key) VALUES (?, ?, ?)`, "alice", "Milk", "milk")
		return err
	})
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryOne(ctx, `SELECT COUNT(*) FROM groceries`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestInTxRollbackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.InTx(ctx, func(q Querier) error {
		if _, err := q.Execute(ctx, `INSERT INTO groceries (username, name, name_key) VALUES (?, ?, ?)`, "alice", "Milk", "milk"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, db.QueryOne(ctx, `SELECT COUNT(*) FROM groceries`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestInTxRollbackOnPanic(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = db.InTx(ctx, func(q Querier) error {
			if _, err := q.Execute(ctx, `INSERT INTO groceries (username, name, name_key) VALUES (?, ?, ?)`, "alice", "Milk", "milk"); err != nil {
				return err
			}
			panic("mid-transaction")
		})
	})

	var n int
	require.NoError(t, db.QueryOne(ctx, `SELECT COUNT(*) FROM groceries`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestInTxConcurrentWritersOnFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracklist.db")
	db, err := Open(context.Background(), Config{Path: path}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	const writers = 20
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- db.InTx(ctx, func(q Querier) error {
				var n int
				if err := q.QueryOne(ctx, `SELECT COUNT(*) FROM groceries WHERE username = ?`, "alice").Scan(&n); err != nil {
					return err
				}
				name := fmt.Sprintf("item-%d-%d", i, n)
				_, err := q.Execute(ctx, `INSERT INTO groceries (username, name, name_key) VALUES (?, ?, ?)`, "alice", name, name)
				return err
			})
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	var n int
	require.NoError(t, db.QueryOne(ctx, `SELECT COUNT(*) FROM groceries`).Scan(&n))
	assert.Equal(t, writers, n)
}

func TestCaseInsensitiveUniqueIndex(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.Execute(ctx, `INSERT INTO groceries (username, name, name_key) VALUES (?, ?, ?)`, "alice", "Milk", "milk")
	require.NoError(t, err)

	_, err = db.Execute(ctx, `INSERT INTO groceries (username, name, name_key) VALUES (?, ?, ?)`, "alice", "MILK", "milk")
	assert.Error(t, err)

	_, err = db.Execute(ctx, `INSERT INTO groceries (username, name, name_key) VALUES (?, ?, ?)`, "bob", "milk", "milk")
	assert.NoError(t, err)
}

func TestPurchasesCascade(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	res, err := db.Execute(ctx, `INSERT INTO groceries (username, name, name_key) VALUES (?, ?, ?)`, "alice", "Milk", "milk")
	require.NoError(t, err)
	_, err = db.Execute(ctx, `INSERT INTO grocery_purchases (grocery_id, purchased_at) VALUES (?, ?)`, res.LastInsertID, "2024-01-01T00:00:00.000Z")
	require.NoError(t, err)

	_, err = db.Execute(ctx, `DELETE FROM groceries WHERE id = ?`, res.LastInsertID)
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryOne(ctx, `SELECT COUNT(*) FROM grocery_purchases`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestPostgresRoundTrip(t *testing.T) {
	url := os.Getenv("TRACKLIST_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TRACKLIST_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	db, err := Open(ctx, Config{URL: url}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	assert.Equal(t, Postgres, db.Dialect())

	owner := "tracklist-test"
	_, err = db.Execute(ctx, `DELETE FROM groceries WHERE username = ?`, owner)
	require.NoError(t, err)

	res, err := db.Execute(ctx, `INSERT INTO groceries (username, name, name_key, expanded) VALUES (?, ?, ?, ?)`, owner, "Milk", "milk", 0)
	require.NoError(t, err)
	assert.NotZero(t, res.LastInsertID)
	assert.Equal(t, int64(1), res.RowsAffected)

	var name string
	require.NoError(t, db.QueryOne(ctx, `SELECT name FROM groceries WHERE id = ? AND username = ?`, res.LastInsertID, owner).Scan(&name))
	assert.Equal(t, "Milk", name)

	del, err := db.Execute(ctx, `DELETE FROM groceries WHERE username = ?`, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(1), del.RowsAffected)
}
