package dbexec

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rainlanguage/raindex/internal/rfloat"
	"github.com/rainlanguage/raindex/internal/sqlbatch"
)

// sqliteDriverName is the database/sql driver registered with the
// FLOAT_SUM/FLOAT_IS_ZERO/FLOAT_ZERO_HEX UDFs the query builders rely on
// (see BuildFetchVaults), in place of the bare "sqlite3" driver name.
const sqliteDriverName = "sqlite3_raindex"

var registerDriverOnce sync.Once

// registerDriver registers sqliteDriverName exactly once per process; Open
// may be called once per target, and database/sql panics on a duplicate
// sql.Register call for the same name.
func registerDriver() {
	registerDriverOnce.Do(func() {
		sql.Register(sqliteDriverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				if err := conn.RegisterAggregator("FLOAT_SUM", newFloatSum, true); err != nil {
					return fmt.Errorf("dbexec: register FLOAT_SUM: %w", err)
				}
				if err := conn.RegisterFunc("FLOAT_IS_ZERO", floatIsZero, true); err != nil {
					return fmt.Errorf("dbexec: register FLOAT_IS_ZERO: %w", err)
				}
				if err := conn.RegisterFunc("FLOAT_ZERO_HEX", floatZeroHex, true); err != nil {
					return fmt.Errorf("dbexec: register FLOAT_ZERO_HEX: %w", err)
				}
				return nil
			},
		})
	})
}

// floatSum implements the FLOAT_SUM aggregate over the packed-Float hex
// strings stored in columns like vault_deltas.delta, accumulating with
// rfloat.Float.Add and rendering the total back to its hex form.
type floatSum struct {
	total rfloat.Float
}

func newFloatSum() *floatSum {
	return &floatSum{total: rfloat.Zero}
}

func (s *floatSum) Step(packedHex string) {
	f, err := decodeFloatHex(packedHex)
	if err != nil {
		return
	}
	s.total = s.total.Add(f)
}

func (s *floatSum) Done() (string, error) {
	return s.total.HexString()
}

// floatIsZero implements FLOAT_IS_ZERO(packed_hex).
func floatIsZero(packedHex string) (bool, error) {
	f, err := decodeFloatHex(packedHex)
	if err != nil {
		return false, err
	}
	return f.IsZero(), nil
}

// floatZeroHex implements FLOAT_ZERO_HEX(), the zero Float's packed hex
// literal, for callers comparing a column against zero without decoding it.
func floatZeroHex() (string, error) {
	return rfloat.Zero.HexString()
}

func decodeFloatHex(packedHex string) (rfloat.Float, error) {
	trimmed := strings.TrimPrefix(packedHex, "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return rfloat.Float{}, fmt.Errorf("dbexec: decode packed float %q: %w", packedHex, err)
	}
	if len(raw) != 32 {
		return rfloat.Float{}, fmt.Errorf("dbexec: packed float %q is %d bytes, want 32", packedHex, len(raw))
	}
	var b [32]byte
	copy(b[:], raw)
	return rfloat.FromBytes32(b), nil
}

// SQLite is the native DB executor: a single connection held open for the
// life of a target's working directory, transaction-scoped per write batch.
// Single-connection by design (SetMaxOpenConns(1)) so SQLite's own
// single-writer file lock never contends with itself inside one process.
type SQLite struct {
	db     *sql.DB
	mu     sync.Mutex
	log    zerolog.Logger
	dbPath string
}

// Open connects to the SQLite file at path, creating it if absent.
func Open(path string) (*SQLite, error) {
	registerDriver()
	db, err := sql.Open(sqliteDriverName, path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("dbexec: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbexec: ping %s: %w", path, err)
	}

	return &SQLite{db: db, log: log.With().Str("component", "dbexec.sqlite").Str("path", path).Logger(), dbPath: path}, nil
}

// Close releases the underlying connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) ExecuteBatch(ctx context.Context, batch *sqlbatch.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(batch.Statements) == 0 {
		return nil
	}
	if len(batch.Statements) > 1 && !isTransactionWrapped(batch) {
		return ErrWriteOutsideTransaction
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbexec: begin: %w", err)
	}

	for _, stmt := range batch.Statements {
		if isControlStatement(stmt.Text) {
			continue
		}
		args := make([]interface{}, len(stmt.Params))
		for i, p := range stmt.Params {
			args[i] = p.Any()
		}
		if _, err := tx.ExecContext(ctx, stmt.Text, args...); err != nil {
			_ = tx.Rollback()
			s.log.Error().Err(err).Str("sql", stmt.Text).Msg("execute_batch statement failed")
			return fmt.Errorf("dbexec: exec %q: %w", stmt.Text, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbexec: commit: %w", err)
	}
	return nil
}

func (s *SQLite) QueryJSON(ctx context.Context, stmt sqlbatch.Statement, out interface{}) error {
	text, err := s.QueryText(ctx, stmt)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(text), out)
}

func (s *SQLite) QueryText(ctx context.Context, stmt sqlbatch.Statement) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	args := make([]interface{}, len(stmt.Params))
	for i, p := range stmt.Params {
		args[i] = p.Any()
	}

	rows, err := s.db.QueryContext(ctx, stmt.Text, args...)
	if err != nil {
		return "", fmt.Errorf("dbexec: query %q: %w", stmt.Text, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", err
	}

	out := make([]map[string]interface{}, 0)
	for rows.Next() {
		raw := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", err
		}
		row := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			row[c] = normalizeScanValue(raw[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// ImportAttached copies every row of the named tables from the SQLite
// database file at path into this database, via ATTACH DATABASE — the seed
// dump's db_path form must run on this connection since ATTACH is
// connection-scoped.
func (s *SQLite) ImportAttached(ctx context.Context, path string, tables []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "ATTACH DATABASE ? AS seed", path); err != nil {
		return fmt.Errorf("dbexec: attach %s: %w", path, err)
	}
	defer s.db.ExecContext(ctx, "DETACH DATABASE seed")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbexec: begin import: %w", err)
	}
	for _, table := range tables {
		stmt := fmt.Sprintf("INSERT OR IGNORE INTO %s SELECT * FROM seed.%s", table, table)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("dbexec: import table %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// normalizeScanValue converts driver-returned []byte (SQLite returns TEXT
// and BLOB columns as []byte) into a JSON-friendly string, leaving numeric
// and nil values untouched.
func normalizeScanValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func isControlStatement(sql string) bool {
	trimmed := strings.ToUpper(strings.TrimSpace(sql))
	return strings.HasPrefix(trimmed, "BEGIN") || strings.HasPrefix(trimmed, "COMMIT") || strings.HasPrefix(trimmed, "ROLLBACK")
}

func isTransactionWrapped(batch *sqlbatch.Batch) bool {
	if len(batch.Statements) < 2 {
		return true
	}
	first := strings.ToUpper(strings.TrimSpace(batch.Statements[0].Text))
	last := strings.ToUpper(strings.TrimSpace(batch.Statements[len(batch.Statements)-1].Text))
	return strings.HasPrefix(first, "BEGIN") && strings.HasPrefix(last, "COMMIT")
}
