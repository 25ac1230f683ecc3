package dbexec

import (
	"context"
	"strings"
	"testing"

	"github.com/rainlanguage/raindex/internal/sqlbatch"
)

func openMemory(t *testing.T) *SQLite {
	t.Helper()
	db, err := Open("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestExecuteBatchCreatesAndInserts(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()

	batch := sqlbatch.NewBatch().
		Add(sqlbatch.New("CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)")).
		Add(sqlbatch.New("INSERT INTO widgets (id, name) VALUES (?1, ?2)", sqlbatch.I64(1), sqlbatch.Text("foo")))
	wrapped, err := batch.IntoTransaction()
	if err != nil {
		t.Fatalf("into transaction: %v", err)
	}

	if err := db.ExecuteBatch(ctx, wrapped); err != nil {
		t.Fatalf("execute batch: %v", err)
	}

	text, err := db.QueryText(ctx, sqlbatch.New("SELECT id, name FROM widgets"))
	if err != nil {
		t.Fatalf("query text: %v", err)
	}
	if !strings.Contains(text, `"name":"foo"`) {
		t.Fatalf("expected row in JSON output, got %s", text)
	}
}

func TestExecuteBatchRejectsUnwrappedMultiStatement(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()

	batch := sqlbatch.NewBatch().
		Add(sqlbatch.New("CREATE TABLE widgets (id INTEGER PRIMARY KEY)")).
		Add(sqlbatch.New("INSERT INTO widgets (id) VALUES (?1)", sqlbatch.I64(1)))

	if err := db.ExecuteBatch(ctx, batch); err != ErrWriteOutsideTransaction {
		t.Fatalf("expected ErrWriteOutsideTransaction, got %v", err)
	}
}

func TestExecuteBatchSingleStatementNeedsNoWrapper(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()

	batch := sqlbatch.NewBatch().Add(sqlbatch.New("CREATE TABLE widgets (id INTEGER PRIMARY KEY)"))
	if err := db.ExecuteBatch(ctx, batch); err != nil {
		t.Fatalf("expected single statement batch to succeed unwrapped: %v", err)
	}
}

func TestQueryJSONDecodesIntoStruct(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()

	setup := sqlbatch.NewBatch().
		Add(sqlbatch.New("CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)")).
		Add(sqlbatch.New("INSERT INTO widgets (id, name) VALUES (?1, ?2)", sqlbatch.I64(7), sqlbatch.Text("bar")))
	wrapped, _ := setup.IntoTransaction()
	if err := db.ExecuteBatch(ctx, wrapped); err != nil {
		t.Fatalf("setup: %v", err)
	}

	var rows []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	if err := db.QueryJSON(ctx, sqlbatch.New("SELECT id, name FROM widgets"), &rows); err != nil {
		t.Fatalf("query json: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != 7 || rows[0].Name != "bar" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}
