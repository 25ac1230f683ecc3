// Package bootstrap runs the per-cycle-start bootstrap pipeline: ensure
// DDL, detect a schema version mismatch and rebuild from scratch when one
// is found, then optionally import one seed dump.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/rainlanguage/raindex/internal/dbexec"
	"github.com/rainlanguage/raindex/internal/sqlbatch"
)

// CurrentSchemaVersion is bumped whenever BuildCreateTables changes in a
// way existing databases can't tolerate in place.
const CurrentSchemaVersion = 1

// SeedDump names exactly one of three mutually exclusive seed sources: a
// plain SQL script, a gzip-compressed SQL script, or a full SQLite database
// file to copy from. At most one field is populated.
type SeedDump struct {
	SQLPath   string
	SQLGzPath string
	DBPath    string
}

// schemaRow mirrors one row of db_metadata for QueryJSON decoding.
type schemaRow struct {
	SchemaVersion int64 `json:"schema_version"`
}

// Run ensures the schema exists and matches CurrentSchemaVersion, clearing
// and recreating it on mismatch, then imports seed (if non-nil) in the
// strict order clear → create → insert_metadata → import_dump.
func Run(ctx context.Context, exec dbexec.Executor, seed *SeedDump) error {
	if err := ensureCurrentSchema(ctx, exec); err != nil {
		return err
	}
	if seed != nil {
		if err := recreateSchema(ctx, exec); err != nil {
			return fmt.Errorf("bootstrap: reset before seed: %w", err)
		}
		if err := importSeed(ctx, exec, seed); err != nil {
			return fmt.Errorf("bootstrap: import seed: %w", err)
		}
	}
	return nil
}

func ensureCurrentSchema(ctx context.Context, exec dbexec.Executor) error {
	createBatch, err := sqlbatch.BuildCreateTables().IntoTransaction()
	if err != nil {
		return fmt.Errorf("bootstrap: wrap create tables: %w", err)
	}
	if err := exec.ExecuteBatch(ctx, createBatch); err != nil {
		return fmt.Errorf("bootstrap: create tables: %w", err)
	}

	version, found, err := readSchemaVersion(ctx, exec)
	if err != nil {
		return fmt.Errorf("bootstrap: read schema version: %w", err)
	}
	if found && version == CurrentSchemaVersion {
		return nil
	}

	return recreateSchema(ctx, exec)
}

func readSchemaVersion(ctx context.Context, exec dbexec.Executor) (int64, bool, error) {
	var rows []schemaRow
	if err := exec.QueryJSON(ctx, sqlbatch.BuildFetchSchemaVersion(), &rows); err != nil {
		return 0, false, err
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	return rows[0].SchemaVersion, true, nil
}

func recreateSchema(ctx context.Context, exec dbexec.Executor) error {
	batch := sqlbatch.NewBatch().
		Extend(sqlbatch.BuildClearTables()).
		Extend(sqlbatch.BuildCreateTables()).
		Add(sqlbatch.BuildInsertDbMetadata(CurrentSchemaVersion))

	wrapped, err := batch.IntoTransaction()
	if err != nil {
		return fmt.Errorf("wrap recreate batch: %w", err)
	}
	return exec.ExecuteBatch(ctx, wrapped)
}

func importSeed(ctx context.Context, exec dbexec.Executor, seed *SeedDump) error {
	switch {
	case seed.SQLPath != "":
		return importSQLFile(ctx, exec, seed.SQLPath, false)
	case seed.SQLGzPath != "":
		return importSQLFile(ctx, exec, seed.SQLGzPath, true)
	case seed.DBPath != "":
		return importDBFile(ctx, exec, seed.DBPath)
	default:
		return nil
	}
}
