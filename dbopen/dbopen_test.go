package dbopen_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/fouille/dbopen"
)

func TestOpenMemory_Pragmas(t *testing.T) {
	db := dbopen.OpenMemory(t)

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if fk != 1 {
		t.Fatalf("foreign_keys = %d, want 1", fk)
	}

	var bt int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&bt); err != nil {
		t.Fatal(err)
	}
	if bt != 10_000 {
		t.Fatalf("busy_timeout = %d, want 10000", bt)
	}
}

func TestOpen_TunedPragmas(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithBusyTimeout(2500), dbopen.WithSynchronous("full"))

	var bt, sync int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&bt); err != nil {
		t.Fatal(err)
	}
	if bt != 2500 {
		t.Errorf("busy_timeout = %d, want 2500", bt)
	}
	if err := db.QueryRow("PRAGMA synchronous").Scan(&sync); err != nil {
		t.Fatal(err)
	}
	if sync != 2 {
		t.Errorf("synchronous = %d, want 2 (FULL)", sync)
	}

	if _, err := dbopen.Open(":memory:", dbopen.WithSynchronous("sometimes")); err == nil {
		t.Error("Open accepted an unknown synchronous mode")
	}
}

func TestWithSchema(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT)`))
	if _, err := db.Exec(`INSERT INTO kv (k, v) VALUES ('a', 'b')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestOpen_MkdirAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "fouille.db")
	db, err := dbopen.Open(path, dbopen.WithMkdirAll())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	db.Close()
}

func TestRunTx_RollbackOnError(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE t (x INTEGER)`))
	boom := errors.New("boom")
	err := dbopen.RunTx(context.Background(), db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO t (x) VALUES (1)`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunTx err = %v, want boom", err)
	}
	var n int
	db.QueryRow(`SELECT COUNT(*) FROM t`).Scan(&n)
	if n != 0 {
		t.Fatalf("rows = %d after rollback, want 0", n)
	}
}

func TestExec(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE t (x INTEGER)`))
	res, err := dbopen.Exec(context.Background(), db, `INSERT INTO t (x) VALUES (?)`, 7)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Fatalf("RowsAffected = %d", n)
	}
}

func TestIsBusy(t *testing.T) {
	if !dbopen.IsBusy(errors.New("database is locked (5) (SQLITE_BUSY)")) {
		t.Error("expected busy")
	}
	if dbopen.IsBusy(nil) || dbopen.IsBusy(errors.New("no such table")) {
		t.Error("unexpected busy")
	}
}
