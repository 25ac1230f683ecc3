package sqlbatch

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// BuildFetchERC20TokensByAddresses returns the statement used by the sync
// engine's token-lookup stage to find which of a candidate set of
// addresses already have stored metadata.
func BuildFetchERC20TokensByAddresses(chainID uint32, addrsLower []string) Statement {
	params := []Value{U64(uint64(chainID))}
	values := make([]Value, len(addrsLower))
	for i, a := range addrsLower {
		values[i] = Text(a)
	}
	clause, _ := InClause(2, values)
	params = append(params, values...)

	sql := fmt.Sprintf(`SELECT address, name, symbol, decimals FROM erc20_tokens
WHERE chain_id = ?1 AND lower(address) %s`, clause)
	return New(sql, params...)
}

// BuildUpsertERC20Token returns the ON CONFLICT upsert statement for one
// token's metadata, only touching name/symbol/decimals when the stored row
// differs.
func BuildUpsertERC20Token(chainID uint32, addressLower, name, symbol string, decimals uint8) Statement {
	sql := `INSERT INTO erc20_tokens (chain_id, address, name, symbol, decimals)
VALUES (?1, ?2, ?3, ?4, ?5)
ON CONFLICT(chain_id, address) DO UPDATE SET
  name = excluded.name, symbol = excluded.symbol, decimals = excluded.decimals
WHERE erc20_tokens.name IS NOT excluded.name
   OR erc20_tokens.symbol IS NOT excluded.symbol
   OR erc20_tokens.decimals IS NOT excluded.decimals`
	return New(sql, U64(uint64(chainID)), Text(addressLower), Text(name), Text(symbol), I64(int64(decimals)))
}

// BuildInsertRawEvent returns the ON CONFLICT DO NOTHING insert for one raw
// log row.
func BuildInsertRawEvent(chainID uint32, orderbook common.Address, txHash common.Hash, logIndex uint32, blockNumber, blockTimestamp uint64, address common.Address, topicsJSON, data, rawJSON string) Statement {
	sql := `INSERT INTO raw_events
  (chain_id, orderbook_address, transaction_hash, log_index, block_number, block_timestamp, address, topics, data, raw_json)
VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10)
ON CONFLICT (chain_id, orderbook_address, transaction_hash, log_index) DO NOTHING`
	return New(sql,
		U64(uint64(chainID)), Text(strings.ToLower(orderbook.Hex())), Text(txHash.Hex()), U64(uint64(logIndex)),
		U64(blockNumber), U64(blockTimestamp), Text(strings.ToLower(address.Hex())), Text(topicsJSON), Text(data), Text(rawJSON),
	)
}

// BuildUpsertWatermark returns the watermark upsert statement.
func BuildUpsertWatermark(chainID uint32, orderbook common.Address, lastBlock uint64, lastHash *common.Hash, updatedAtMs int64) Statement {
	hash := Null()
	if lastHash != nil {
		hash = Text(lastHash.Hex())
	}
	sql := `INSERT INTO target_watermarks (chain_id, orderbook_address, last_block, last_hash, updated_at)
VALUES (?1, ?2, ?3, ?4, ?5)
ON CONFLICT(chain_id, orderbook_address) DO UPDATE SET
  last_block = excluded.last_block, last_hash = excluded.last_hash, updated_at = excluded.updated_at`
	return New(sql, U64(uint64(chainID)), Text(strings.ToLower(orderbook.Hex())), U64(lastBlock), hash, I64(updatedAtMs))
}

// BuildFetchTargetWatermark reads the current watermark for one target.
func BuildFetchTargetWatermark(chainID uint32, orderbook common.Address) Statement {
	sql := `SELECT last_block, last_hash, updated_at FROM target_watermarks WHERE chain_id = ?1 AND orderbook_address = ?2`
	return New(sql, U64(uint64(chainID)), Text(strings.ToLower(orderbook.Hex())))
}

// BuildFetchOrderByHash reads one order's stored bytes by its hash, for the
// quote CLI looking up a specific order named on the command line rather
// than discovered by token pair.
func BuildFetchOrderByHash(chainID uint32, orderbook common.Address, orderHashLower string) Statement {
	sql := `SELECT order_bytes, active FROM orders WHERE chain_id = ?1 AND orderbook_address = ?2 AND order_hash = ?3`
	return New(sql, U64(uint64(chainID)), Text(strings.ToLower(orderbook.Hex())), Text(orderHashLower))
}

// BuildFetchOrdersByTokens builds the order discovery filter over a chain's
// required input/output token sets. When both sides are given and their
// (sorted, deduped) sets are identical, it emits one combined EXISTS clause
// matching either side — `(io_type='input' AND token IN (inputs)) OR
// (io_type='output' AND token IN (outputs))` — rather than two independent
// joins, matching the same-token-set optimization a plain AND of two EXISTS
// clauses would miss. Sets that differ (or a side left empty) fall back to
// one EXISTS clause per non-empty side, ANDed together.
func BuildFetchOrdersByTokens(chainID uint32, inputTokensLower, outputTokensLower []string) Statement {
	inputs := sortedDedup(inputTokensLower)
	outputs := sortedDedup(outputTokensLower)

	params := []Value{U64(uint64(chainID))}
	next := 2
	where := "1 = 1"

	switch {
	case len(inputs) == 0 && len(outputs) == 0:
		// no filter
	case len(inputs) > 0 && len(outputs) > 0 && slices.Equal(inputs, outputs):
		inValues := make([]Value, len(inputs))
		for i, t := range inputs {
			inValues[i] = Text(t)
		}
		inClause, n := InClause(next, inValues)
		next = n
		params = append(params, inValues...)

		outValues := make([]Value, len(outputs))
		for i, t := range outputs {
			outValues[i] = Text(t)
		}
		outClause, n2 := InClause(next, outValues)
		next = n2
		params = append(params, outValues...)

		where = fmt.Sprintf(`EXISTS (
    SELECT 1 FROM order_ios oi
    WHERE oi.chain_id = o.chain_id AND oi.orderbook_address = o.orderbook_address
      AND oi.order_hash = o.order_hash
      AND (
        (lower(oi.io_type) = 'input' AND lower(oi.token) %s)
        OR (lower(oi.io_type) = 'output' AND lower(oi.token) %s)
      )
  )`, inClause, outClause)
	default:
		var clauses []string
		if len(inputs) > 0 {
			values := make([]Value, len(inputs))
			for i, t := range inputs {
				values[i] = Text(t)
			}
			clause, n := InClause(next, values)
			next = n
			params = append(params, values...)
			clauses = append(clauses, fmt.Sprintf(`EXISTS (
    SELECT 1 FROM order_ios oi
    WHERE oi.chain_id = o.chain_id AND oi.orderbook_address = o.orderbook_address
      AND oi.order_hash = o.order_hash AND oi.io_type = 'input' AND lower(oi.token) %s
  )`, clause))
		}
		if len(outputs) > 0 {
			values := make([]Value, len(outputs))
			for i, t := range outputs {
				values[i] = Text(t)
			}
			clause, n := InClause(next, values)
			next = n
			params = append(params, values...)
			clauses = append(clauses, fmt.Sprintf(`EXISTS (
    SELECT 1 FROM order_ios oi
    WHERE oi.chain_id = o.chain_id AND oi.orderbook_address = o.orderbook_address
      AND oi.order_hash = o.order_hash AND oi.io_type = 'output' AND lower(oi.token) %s
  )`, clause))
		}
		where = strings.Join(clauses, "\n  AND ")
	}

	sql := fmt.Sprintf(`SELECT o.order_hash, o.order_owner, o.active FROM orders o
WHERE o.chain_id = ?1 AND %s`, where)
	return New(sql, params...)
}

// sortedDedup returns a sorted copy of tokens with adjacent duplicates
// removed, nil for an empty input, so two token sets can be compared for
// equality regardless of caller-supplied order or repeats.
func sortedDedup(tokens []string) []string {
	if len(tokens) == 0 {
		return nil
	}
	out := append([]string(nil), tokens...)
	sort.Strings(out)
	return slices.Compact(out)
}

// BuildFetchCandidateOrders returns every active order whose inputs include
// sellTokenLower and whose outputs include buyTokenLower, alongside the
// matching io_index pair, for the takeOrders candidate-discovery step: a
// taker selling sellToken and buying buyToken can only be matched against
// an order willing to receive sellToken (its input) and give buyToken (its
// output).
func BuildFetchCandidateOrders(chainID uint32, sellTokenLower, buyTokenLower string) Statement {
	sql := `SELECT o.orderbook_address, o.order_bytes, i.io_index AS input_io_index, out.io_index AS output_io_index
FROM orders o
JOIN order_ios i ON i.chain_id = o.chain_id AND i.orderbook_address = o.orderbook_address
  AND i.order_hash = o.order_hash AND i.io_type = 'input' AND lower(i.token) = ?2
JOIN order_ios out ON out.chain_id = o.chain_id AND out.orderbook_address = o.orderbook_address
  AND out.order_hash = o.order_hash AND out.io_type = 'output' AND lower(out.token) = ?3
WHERE o.chain_id = ?1 AND o.active = 1`
	return New(sql, U64(uint64(chainID)), Text(sellTokenLower), Text(buyTokenLower))
}

// BuildFetchDistinctStoreAddresses returns the distinct interpreter store
// addresses already recorded for a target's orders, used to union with
// stores seen in the cycle's newly decoded orders before the next fetch.
func BuildFetchDistinctStoreAddresses(chainID uint32, orderbook common.Address) Statement {
	sql := `SELECT DISTINCT json_extract(order_bytes, '$.Evaluable.Store') AS store_address
FROM orders WHERE chain_id = ?1 AND orderbook_address = ?2`
	return New(sql, U64(uint64(chainID)), Text(strings.ToLower(orderbook.Hex())))
}

// BuildFetchVaults returns the statement listing vaults for a target,
// optionally filtered by owner.
func BuildFetchVaults(chainID uint32, orderbook common.Address, owners []common.Address) Statement {
	params := []Value{U64(uint64(chainID)), Text(strings.ToLower(orderbook.Hex()))}
	values := make([]Value, len(owners))
	for i, o := range owners {
		values[i] = Text(strings.ToLower(o.Hex()))
	}
	clause, _ := InClause(3, values)
	ownersClause := ""
	if len(owners) > 0 {
		ownersClause = fmt.Sprintf("AND lower(owner) %s", clause)
		params = append(params, values...)
	}

	sql := fmt.Sprintf(`SELECT owner, token, vault_id, FLOAT_SUM(delta) AS balance
FROM vault_deltas
WHERE chain_id = ?1 AND orderbook_address = ?2 %s
GROUP BY owner, token, vault_id
HAVING NOT FLOAT_IS_ZERO(FLOAT_SUM(delta))`, ownersClause)
	return New(sql, params...)
}

// BuildFetchTradesByOwner returns trades for one owner on a target.
func BuildFetchTradesByOwner(chainID uint32, orderbook common.Address, owner common.Address, limit int) Statement {
	sql := `SELECT trade_id, order_hash, transaction_hash, log_index, block_number, block_timestamp, trade_kind
FROM trades
WHERE chain_id = ?1 AND orderbook_address = ?2 AND order_owner = ?3
ORDER BY block_number DESC, log_index DESC
LIMIT ?4`
	return New(sql, U64(uint64(chainID)), Text(strings.ToLower(orderbook.Hex())), Text(strings.ToLower(owner.Hex())), I64(int64(limit)))
}

// BuildFetchTradesByTx returns every trade row produced by one transaction.
func BuildFetchTradesByTx(chainID uint32, orderbook common.Address, txHash common.Hash) Statement {
	sql := `SELECT trade_id, order_hash, log_index, block_number, block_timestamp, trade_kind
FROM trades
WHERE chain_id = ?1 AND orderbook_address = ?2 AND transaction_hash = ?3
ORDER BY log_index ASC`
	return New(sql, U64(uint64(chainID)), Text(strings.ToLower(orderbook.Hex())), Text(txHash.Hex()))
}

// BuildCreateTables returns the DDL statement batch for a fresh schema
//.
func BuildCreateTables() *Batch {
	b := NewBatch()
	b.Add(New(`CREATE TABLE IF NOT EXISTS raw_events (
  chain_id INTEGER NOT NULL, orderbook_address TEXT NOT NULL, transaction_hash TEXT NOT NULL,
  log_index INTEGER NOT NULL, block_number INTEGER NOT NULL, block_timestamp INTEGER NOT NULL,
  address TEXT NOT NULL, topics TEXT NOT NULL, data TEXT NOT NULL, raw_json TEXT NOT NULL,
  PRIMARY KEY (chain_id, orderbook_address, transaction_hash, log_index)
)`))
	b.Add(New(`CREATE TABLE IF NOT EXISTS orders (
  chain_id INTEGER NOT NULL, orderbook_address TEXT NOT NULL, order_hash TEXT NOT NULL,
  order_owner TEXT NOT NULL, order_nonce TEXT NOT NULL, order_bytes TEXT NOT NULL,
  active INTEGER NOT NULL, first_seen_block INTEGER NOT NULL,
  PRIMARY KEY (chain_id, orderbook_address, order_hash)
)`))
	b.Add(New(`CREATE INDEX IF NOT EXISTS idx_orders_owner ON orders(chain_id, orderbook_address, order_owner)`))
	b.Add(New(`CREATE TABLE IF NOT EXISTS order_ios (
  chain_id INTEGER NOT NULL, orderbook_address TEXT NOT NULL, order_hash TEXT NOT NULL,
  transaction_hash TEXT NOT NULL, log_index INTEGER NOT NULL,
  io_type TEXT NOT NULL CHECK (io_type IN ('input','output')), io_index INTEGER NOT NULL,
  token TEXT NOT NULL, vault_id TEXT NOT NULL
)`))
	b.Add(New(`CREATE TABLE IF NOT EXISTS order_metadata (
  chain_id INTEGER NOT NULL, orderbook_address TEXT NOT NULL, subject TEXT NOT NULL,
  transaction_hash TEXT NOT NULL, log_index INTEGER NOT NULL, meta_bytes BLOB NOT NULL, kind TEXT NOT NULL
)`))
	b.Add(New(`CREATE TABLE IF NOT EXISTS vault_deltas (
  chain_id INTEGER NOT NULL, orderbook_address TEXT NOT NULL, owner TEXT NOT NULL, token TEXT NOT NULL,
  vault_id TEXT NOT NULL, delta TEXT NOT NULL, running_balance TEXT NOT NULL,
  transaction_hash TEXT NOT NULL, log_index INTEGER NOT NULL, block_number INTEGER NOT NULL,
  block_timestamp INTEGER NOT NULL, change_type TEXT NOT NULL
)`))
	b.Add(New(`CREATE TABLE IF NOT EXISTS trades (
  chain_id INTEGER NOT NULL, orderbook_address TEXT NOT NULL, trade_id TEXT NOT NULL,
  order_hash TEXT NOT NULL, order_owner TEXT NOT NULL, transaction_hash TEXT NOT NULL,
  log_index INTEGER NOT NULL, block_number INTEGER NOT NULL, block_timestamp INTEGER NOT NULL,
  trade_kind TEXT NOT NULL CHECK (trade_kind IN ('take','clear'))
)`))
	b.Add(New(`CREATE TABLE IF NOT EXISTS interpreter_store_sets (
  store_address TEXT NOT NULL, transaction_hash TEXT NOT NULL, log_index INTEGER NOT NULL,
  block_number INTEGER NOT NULL, block_timestamp INTEGER NOT NULL,
  namespace TEXT NOT NULL, key TEXT NOT NULL, value TEXT NOT NULL,
  PRIMARY KEY (store_address, transaction_hash, log_index)
)`))
	b.Add(New(`CREATE TABLE IF NOT EXISTS erc20_tokens (
  chain_id INTEGER NOT NULL, address TEXT NOT NULL COLLATE NOCASE, name TEXT, symbol TEXT, decimals INTEGER,
  PRIMARY KEY (chain_id, address)
)`))
	b.Add(New(`CREATE TABLE IF NOT EXISTS target_watermarks (
  chain_id INTEGER NOT NULL, orderbook_address TEXT NOT NULL, last_block INTEGER NOT NULL,
  last_hash TEXT, updated_at INTEGER NOT NULL,
  PRIMARY KEY (chain_id, orderbook_address)
)`))
	b.Add(New(`CREATE TABLE IF NOT EXISTS db_metadata (schema_version INTEGER NOT NULL, seeded_generation INTEGER)`))
	return b
}

// BuildClearTables returns the statements that drop all rows (not the
// schema itself) ahead of a re-seed.
func BuildClearTables() *Batch {
	b := NewBatch()
	for _, table := range []string{
		"raw_events", "orders", "order_ios", "order_metadata", "vault_deltas",
		"trades", "interpreter_store_sets", "erc20_tokens", "target_watermarks", "db_metadata",
	} {
		b.Add(New("DELETE FROM " + table))
	}
	return b
}

// BuildInsertDbMetadata records the schema version after a (re)create.
func BuildInsertDbMetadata(schemaVersion int) Statement {
	return New(`INSERT INTO db_metadata (schema_version, seeded_generation) VALUES (?1, NULL)`, I64(int64(schemaVersion)))
}

// BuildFetchSchemaVersion reads the currently stored schema version, if any.
func BuildFetchSchemaVersion() Statement {
	return New(`SELECT schema_version FROM db_metadata LIMIT 1`)
}
