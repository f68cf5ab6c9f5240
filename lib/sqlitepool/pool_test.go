// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/provision/lib/sqlitepool"
)

const testSchema = `CREATE TABLE IF NOT EXISTS items (name TEXT PRIMARY KEY, value TEXT NOT NULL);`

func TestPragmasAndSchema(t *testing.T) {
	pool := openTestPool(t)

	err := pool.Read(context.Background(), func(conn *sqlite.Conn) error {
		var journalMode string
		if err := sqlitex.Execute(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				journalMode = stmt.ColumnText(0)
				return nil
			},
		}); err != nil {
			return err
		}
		if journalMode != "wal" {
			t.Errorf("journal_mode = %q, want wal", journalMode)
		}
		return sqlitex.Execute(conn, "INSERT INTO items (name, value) VALUES (?, ?)", &sqlitex.ExecOptions{
			Args: []any{"schema", "applied"},
		})
	})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
}

func TestWriteRollsBackOnError(t *testing.T) {
	pool := openTestPool(t)
	ctx := context.Background()
	failure := errors.New("abort")

	err := pool.Write(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "INSERT INTO items (name, value) VALUES ('a', '1')", nil); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("Write returned %v, want %v", err, failure)
	}

	if count := countItems(t, pool); count != 0 {
		t.Fatalf("rolled-back insert is visible: %d rows", count)
	}

	err = pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "INSERT INTO items (name, value) VALUES ('a', '1')", nil)
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if count := countItems(t, pool); count != 1 {
		t.Fatalf("committed insert not visible: %d rows", count)
	}
}

func TestEmptyPathRejected(t *testing.T) {
	if _, err := sqlitepool.Open(sqlitepool.Config{}); err == nil {
		t.Fatal("expected error for empty Path")
	}
}

func TestTakeHonorsContext(t *testing.T) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     filepath.Join(t.TempDir(), "cancel.db"),
		PoolSize: 1,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pool.Close()

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Take(ctx); err == nil {
		t.Fatal("expected error taking from an exhausted pool with a cancelled context")
	}
}

func countItems(t *testing.T, pool *sqlitepool.Pool) int64 {
	t.Helper()
	var count int64
	err := pool.Read(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT count(*) FROM items", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt64(0)
				return nil
			},
		})
	})
	if err != nil {
		t.Fatalf("counting items: %v", err)
	}
	return count
}

func openTestPool(t *testing.T) *sqlitepool.Pool {
	t.Helper()
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   filepath.Join(t.TempDir(), "test.db"),
		Schema: testSchema,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return pool
}
