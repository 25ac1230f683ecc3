package bootstrap

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/rainlanguage/raindex/internal/dbexec"
	"github.com/rainlanguage/raindex/internal/sqlbatch"
)

// importSQLFile reads a data-only SQL dump (one statement per line, as
// produced by internal/dump) and applies it as one transaction-wrapped
// batch. gzipped selects klauspost/compress's gzip reader over a plain
// os.File reader.
func importSQLFile(ctx context.Context, exec dbexec.Executor, path string, gzipped bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if gzipped {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("gzip reader for %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	statements, err := splitStatements(r)
	if err != nil {
		return err
	}
	if len(statements) == 0 {
		return nil
	}

	batch := sqlbatch.NewBatch()
	for _, s := range statements {
		batch.Add(sqlbatch.New(s))
	}
	wrapped, err := batch.IntoTransaction()
	if err != nil {
		return err
	}
	return exec.ExecuteBatch(ctx, wrapped)
}

// splitStatements reads a dump in which each logical statement occupies one
// line (internal/dump never emits multi-line statements), skipping blank
// lines and DDL lines — a seed dump is data-only by contract, and any DDL a
// producer accidentally included is redundant, not an error.
func splitStatements(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var out []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(strings.ToUpper(line), "CREATE ") {
			continue
		}
		out = append(out, strings.TrimSuffix(line, ";"))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// importDBFile copies every data row out of a full SQLite database file at
// path using sqlite3's ATTACH DATABASE, table by table, through the same
// executor used for the target database. No second connection is opened:
// ATTACH is connection-scoped, so it runs on the native executor's own
// connection, and any other executor type is rejected.
func importDBFile(ctx context.Context, exec dbexec.Executor, path string) error {
	sqliteExec, ok := exec.(*dbexec.SQLite)
	if !ok {
		return fmt.Errorf("import db_path seed requires a native sqlite executor")
	}
	return sqliteExec.ImportAttached(ctx, path, dataTables)
}

var dataTables = []string{
	"raw_events", "orders", "order_ios", "order_metadata", "vault_deltas",
	"trades", "interpreter_store_sets", "erc20_tokens", "target_watermarks",
}
