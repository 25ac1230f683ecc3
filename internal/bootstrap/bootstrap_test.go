package bootstrap

import (
	"context"
	"testing"

	"github.com/rainlanguage/raindex/internal/dbexec"
	"github.com/rainlanguage/raindex/internal/sqlbatch"
)

func TestRunCreatesSchemaFromScratch(t *testing.T) {
	db, err := dbexec.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	if err := Run(ctx, db, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	var rows []struct {
		SchemaVersion int64 `json:"schema_version"`
	}
	if err := db.QueryJSON(ctx, sqlbatch.BuildFetchSchemaVersion(), &rows); err != nil {
		t.Fatalf("query schema version: %v", err)
	}
	if len(rows) != 1 || rows[0].SchemaVersion != CurrentSchemaVersion {
		t.Fatalf("expected schema_version=%d, got %+v", CurrentSchemaVersion, rows)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	db, err := dbexec.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	if err := Run(ctx, db, nil); err != nil {
		t.Fatalf("first run: %v", err)
	}

	insert := sqlbatch.New("INSERT INTO target_watermarks (chain_id, orderbook_address, last_block, last_hash, updated_at) VALUES (?1, ?2, ?3, ?4, ?5)",
		sqlbatch.U64(1), sqlbatch.Text("0xabc"), sqlbatch.U64(100), sqlbatch.Null(), sqlbatch.I64(0))
	if err := db.ExecuteBatch(ctx, sqlbatch.NewBatch().Add(insert)); err != nil {
		t.Fatalf("seed row: %v", err)
	}

	if err := Run(ctx, db, nil); err != nil {
		t.Fatalf("second run: %v", err)
	}

	var rows []struct {
		LastBlock int64 `json:"last_block"`
	}
	if err := db.QueryJSON(ctx, sqlbatch.New("SELECT last_block FROM target_watermarks"), &rows); err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected watermark row to survive a matching-version rerun, got %+v", rows)
	}
}
