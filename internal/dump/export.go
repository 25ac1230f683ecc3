// Package dump implements the data-only export pipeline: every row in a
// target's database is serialized as one INSERT statement per line and
// gzip-compressed, producing a file internal/bootstrap's seed importer can
// read back unmodified.
package dump

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/rainlanguage/raindex/internal/chain"
	"github.com/rainlanguage/raindex/internal/dbexec"
	"github.com/rainlanguage/raindex/internal/sqlbatch"
)

// Metadata describes a completed export, read back from the watermark row
// immediately after the dump file is written.
type Metadata struct {
	DumpPath       string
	EndBlock       uint64
	EndBlockHash   string
	EndBlockTimeMs int64
}

// table names a dump-eligible table together with the fixed column order
// its INSERT statements are rendered in, matching sqlbatch.BuildCreateTables.
type table struct {
	Name    string
	Columns []string
}

var tables = []table{
	{"raw_events", []string{"chain_id", "orderbook_address", "transaction_hash", "log_index", "block_number", "block_timestamp", "address", "topics", "data", "raw_json"}},
	{"orders", []string{"chain_id", "orderbook_address", "order_hash", "order_owner", "order_nonce", "order_bytes", "active", "first_seen_block"}},
	{"order_ios", []string{"chain_id", "orderbook_address", "order_hash", "transaction_hash", "log_index", "io_type", "io_index", "token", "vault_id"}},
	{"order_metadata", []string{"chain_id", "orderbook_address", "subject", "transaction_hash", "log_index", "meta_bytes", "kind"}},
	{"vault_deltas", []string{"chain_id", "orderbook_address", "owner", "token", "vault_id", "delta", "running_balance", "transaction_hash", "log_index", "block_number", "block_timestamp", "change_type"}},
	{"trades", []string{"chain_id", "orderbook_address", "trade_id", "order_hash", "order_owner", "transaction_hash", "log_index", "block_number", "block_timestamp", "trade_kind"}},
	{"interpreter_store_sets", []string{"store_address", "transaction_hash", "log_index", "block_number", "block_timestamp", "namespace", "key", "value"}},
	{"erc20_tokens", []string{"chain_id", "address", "name", "symbol", "decimals"}},
	{"target_watermarks", []string{"chain_id", "orderbook_address", "last_block", "last_hash", "updated_at"}},
}

type watermarkRow struct {
	LastBlock int64   `json:"last_block"`
	LastHash  *string `json:"last_hash"`
	UpdatedAt int64   `json:"updated_at"`
}

// ExportDataOnly writes a gzip-compressed, data-only SQL dump of target's
// database to {outRoot}/{chain_id}/{chain_id}-{0xaddress}.sql.gz, returning
// nil metadata (no file written) when the target has no watermark yet —
// there is nothing meaningful to hand a downstream consumer.
func ExportDataOnly(ctx context.Context, exec dbexec.Executor, outRoot string, target chain.TargetKey) (*Metadata, error) {
	watermark, err := readWatermark(ctx, exec, target)
	if err != nil {
		return nil, fmt.Errorf("dump: read watermark: %w", err)
	}
	if watermark == nil {
		return nil, nil
	}

	var buf bytes.Buffer
	for _, t := range tables {
		var rows []map[string]interface{}
		stmt := sqlbatch.New(fmt.Sprintf("SELECT %s FROM %s", strings.Join(t.Columns, ", "), t.Name))
		if err := exec.QueryJSON(ctx, stmt, &rows); err != nil {
			return nil, fmt.Errorf("dump: query %s: %w", t.Name, err)
		}
		for _, row := range rows {
			buf.WriteString(formatInsert(t.Name, t.Columns, row))
			buf.WriteString("\n")
		}
	}

	path := dumpPath(outRoot, target)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("dump: mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("dump: create %s: %w", path, err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	if _, err := gz.Write(buf.Bytes()); err != nil {
		gz.Close()
		return nil, fmt.Errorf("dump: write gzip body: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("dump: close gzip writer: %w", err)
	}

	meta := &Metadata{DumpPath: path, EndBlock: uint64(watermark.LastBlock), EndBlockTimeMs: watermark.UpdatedAt}
	if watermark.LastHash != nil {
		meta.EndBlockHash = *watermark.LastHash
	}
	return meta, nil
}

func dumpPath(outRoot string, target chain.TargetKey) string {
	chainDir := strconv.FormatUint(uint64(target.ChainID), 10)
	file := fmt.Sprintf("%s-%s.sql.gz", chainDir, strings.ToLower(target.OrderbookAddress.Hex()))
	return filepath.Join(outRoot, chainDir, file)
}

func readWatermark(ctx context.Context, exec dbexec.Executor, target chain.TargetKey) (*watermarkRow, error) {
	var rows []watermarkRow
	stmt := sqlbatch.BuildFetchTargetWatermark(target.ChainID, target.OrderbookAddress)
	if err := exec.QueryJSON(ctx, stmt, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// formatInsert renders one INSERT statement as a single line (no trailing
// newline), matching the one-statement-per-line contract
// internal/bootstrap's splitStatements expects.
func formatInsert(tableName string, columns []string, row map[string]interface{}) string {
	vals := make([]string, len(columns))
	for i, c := range columns {
		vals[i] = formatSQLValue(row[c])
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);", tableName, strings.Join(columns, ", "), strings.Join(vals, ", "))
}

func formatSQLValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case float64:
		return strconv.FormatInt(int64(t), 10)
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	default:
		return fmt.Sprintf("%v", t)
	}
}
