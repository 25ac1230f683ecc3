// Package apply builds the single atomic batch a sync cycle commits:
// raw-event inserts, token upserts, decoded-event inserts, then the
// watermark update, in that fixed order so a crash mid-apply never leaves
// the watermark ahead of the rows it describes.
package apply

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/rainlanguage/raindex/internal/chain"
	"github.com/rainlanguage/raindex/internal/decode"
	"github.com/rainlanguage/raindex/internal/erc20"
	"github.com/rainlanguage/raindex/internal/rawlog"
	"github.com/rainlanguage/raindex/internal/sqlbatch"
)

// Event pairs a raw event with its decode result; Decoded may carry
// Kind == decode.KindUnknown when the topic wasn't recognized, which is
// still inserted as a raw event but contributes no decoded-table rows.
type Event struct {
	Raw     rawlog.RawEvent
	Decoded decode.DecodedEvent
}

// Input is everything one sync cycle needs to build its atomic batch.
type Input struct {
	Target       chain.TargetKey
	Events       []Event
	Tokens       []erc20.Token
	NewWatermark chain.Watermark
}

// Build constructs the transaction-wrapped batch for one cycle. The batch
// always ends with the watermark upsert, so an empty Events slice still
// yields a non-nil batch that advances the watermark (e.g. a window with
// zero logs still needs its watermark advanced).
func Build(input Input) (*sqlbatch.Batch, error) {
	batch := sqlbatch.NewBatch()

	for _, ev := range input.Events {
		raw := ev.Raw
		topicsJSON, err := json.Marshal(hexHashes(raw.Topics))
		if err != nil {
			return nil, fmt.Errorf("apply: marshal topics: %w", err)
		}
		batch.Add(sqlbatch.BuildInsertRawEvent(
			raw.ChainID, raw.OrderbookAddress, raw.TxHash, raw.LogIndex,
			raw.BlockNumber, raw.BlockTimestamp, raw.Address,
			string(topicsJSON), hexBytes(raw.Data), string(raw.RawJSON),
		))
	}

	for _, tok := range input.Tokens {
		name, symbol, decimals := "", "", uint8(0)
		if tok.Name != nil {
			name = *tok.Name
		}
		if tok.Symbol != nil {
			symbol = *tok.Symbol
		}
		if tok.Decimals != nil {
			decimals = *tok.Decimals
		}
		batch.Add(sqlbatch.BuildUpsertERC20Token(tok.ChainID, tok.LowerAddress(), name, symbol, decimals))
	}

	for _, ev := range input.Events {
		if err := appendDecoded(batch, input.Target, ev); err != nil {
			return nil, err
		}
	}

	batch.Add(sqlbatch.BuildUpsertWatermark(
		input.Target.ChainID, input.Target.OrderbookAddress,
		input.NewWatermark.LastBlock, input.NewWatermark.LastHash, input.NewWatermark.UpdatedAtMs,
	))

	return batch.IntoTransaction()
}

func appendDecoded(batch *sqlbatch.Batch, target chain.TargetKey, ev Event) error {
	raw := ev.Raw
	switch ev.Decoded.Kind {
	case decode.KindAddOrderV3:
		appendOrder(batch, target, raw, ev.Decoded.AddOrder.Order, true)
	case decode.KindRemoveOrderV3:
		appendOrder(batch, target, raw, ev.Decoded.RemoveOrder.Order, false)
	case decode.KindTakeOrderV3:
		t := ev.Decoded.TakeOrder
		appendTrade(batch, target, raw, t.Leg.Order.OrderHash, t.Leg.Order.Owner, "take")
		appendVaultDelta(batch, target, raw, t.Input, "take")
		appendVaultDelta(batch, target, raw, t.Output, "take")
	case decode.KindClearV3:
		c := ev.Decoded.Clear
		appendTrade(batch, target, raw, c.AliceOrder.OrderHash, c.AliceOrder.Owner, "clear")
		appendTrade(batch, target, raw, c.BobOrder.OrderHash, c.BobOrder.Owner, "clear")
	case decode.KindAfterClearV3:
		a := ev.Decoded.AfterClear
		appendVaultDelta(batch, target, raw, a.AliceInput, "clear")
		appendVaultDelta(batch, target, raw, a.AliceOutput, "clear")
		appendVaultDelta(batch, target, raw, a.BobInput, "clear")
		appendVaultDelta(batch, target, raw, a.BobOutput, "clear")
		if a.ClearerInput != nil {
			appendVaultDelta(batch, target, raw, *a.ClearerInput, "clear_bounty")
		}
		if a.ClearerOutput != nil {
			appendVaultDelta(batch, target, raw, *a.ClearerOutput, "clear_bounty")
		}
	case decode.KindInterpreterStoreSet:
		s := ev.Decoded.StoreSet
		batch.Add(sqlbatch.New(
			`INSERT INTO interpreter_store_sets (store_address, transaction_hash, log_index, block_number, block_timestamp, namespace, key, value)
VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8)
ON CONFLICT (store_address, transaction_hash, log_index) DO NOTHING`,
			sqlbatch.Text(lower(s.StoreAddress)), sqlbatch.Text(raw.TxHash.Hex()), sqlbatch.U64(uint64(raw.LogIndex)),
			sqlbatch.U64(raw.BlockNumber), sqlbatch.U64(raw.BlockTimestamp),
			sqlbatch.Text(hexBytes32(s.Namespace)), sqlbatch.Text(hexBytes32(s.Key)), sqlbatch.Text(hexBytes32(s.Value)),
		))
	case decode.KindMetaV1_2:
		m := ev.Decoded.Meta
		batch.Add(sqlbatch.New(
			`INSERT INTO order_metadata (chain_id, orderbook_address, subject, transaction_hash, log_index, meta_bytes, kind)
VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7)`,
			sqlbatch.U64(uint64(target.ChainID)), sqlbatch.Text(lower(target.OrderbookAddress)),
			sqlbatch.Text(hexBytes32(m.Subject)), sqlbatch.Text(raw.TxHash.Hex()), sqlbatch.U64(uint64(raw.LogIndex)),
			sqlbatch.Blob(m.Bytes), sqlbatch.Text(m.MetaKind),
		))
	}
	return nil
}

func appendOrder(batch *sqlbatch.Batch, target chain.TargetKey, raw rawlog.RawEvent, order decode.Order, active bool) {
	orderBytes, _ := json.Marshal(order)
	batch.Add(sqlbatch.New(
		`INSERT INTO orders (chain_id, orderbook_address, order_hash, order_owner, order_nonce, order_bytes, active, first_seen_block)
VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8)
ON CONFLICT (chain_id, orderbook_address, order_hash) DO UPDATE SET active = excluded.active`,
		sqlbatch.U64(uint64(target.ChainID)), sqlbatch.Text(lower(target.OrderbookAddress)),
		sqlbatch.Text(order.OrderHash.Hex()), sqlbatch.Text(lower(order.Owner)), sqlbatch.Text(hexBytes32(order.Nonce)),
		sqlbatch.Text(string(orderBytes)), sqlbatch.I64(boolToInt(active)), sqlbatch.U64(raw.BlockNumber),
	))

	for i, io := range order.ValidInputs {
		appendOrderIO(batch, target, raw, order.OrderHash, "input", i, io)
	}
	for i, io := range order.ValidOutputs {
		appendOrderIO(batch, target, raw, order.OrderHash, "output", i, io)
	}
}

func appendOrderIO(batch *sqlbatch.Batch, target chain.TargetKey, raw rawlog.RawEvent, orderHash common.Hash, ioType string, index int, io decode.IO) {
	batch.Add(sqlbatch.New(
		`INSERT INTO order_ios (chain_id, orderbook_address, order_hash, transaction_hash, log_index, io_type, io_index, token, vault_id)
VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9)`,
		sqlbatch.U64(uint64(target.ChainID)), sqlbatch.Text(lower(target.OrderbookAddress)), sqlbatch.Text(orderHash.Hex()),
		sqlbatch.Text(raw.TxHash.Hex()), sqlbatch.U64(uint64(raw.LogIndex)), sqlbatch.Text(ioType), sqlbatch.I64(int64(index)),
		sqlbatch.Text(lower(io.Token)), sqlbatch.Text(hexBytes32(io.VaultID)),
	))
}

func appendTrade(batch *sqlbatch.Batch, target chain.TargetKey, raw rawlog.RawEvent, orderHash common.Hash, owner common.Address, kind string) {
	tradeID := fmt.Sprintf("%s-%d", raw.TxHash.Hex(), raw.LogIndex)
	batch.Add(sqlbatch.New(
		`INSERT INTO trades (chain_id, orderbook_address, trade_id, order_hash, order_owner, transaction_hash, log_index, block_number, block_timestamp, trade_kind)
VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10)`,
		sqlbatch.U64(uint64(target.ChainID)), sqlbatch.Text(lower(target.OrderbookAddress)), sqlbatch.Text(tradeID),
		sqlbatch.Text(orderHash.Hex()), sqlbatch.Text(lower(owner)), sqlbatch.Text(raw.TxHash.Hex()), sqlbatch.U64(uint64(raw.LogIndex)),
		sqlbatch.U64(raw.BlockNumber), sqlbatch.U64(raw.BlockTimestamp), sqlbatch.Text(kind),
	))
}

func appendVaultDelta(batch *sqlbatch.Batch, target chain.TargetKey, raw rawlog.RawEvent, change decode.VaultBalanceChange, changeType string) {
	batch.Add(sqlbatch.New(
		`INSERT INTO vault_deltas (chain_id, orderbook_address, owner, token, vault_id, delta, running_balance, transaction_hash, log_index, block_number, block_timestamp, change_type)
VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10, ?11, ?12)`,
		sqlbatch.U64(uint64(target.ChainID)), sqlbatch.Text(lower(target.OrderbookAddress)), sqlbatch.Text(lower(change.Owner)),
		sqlbatch.Text(lower(change.Token)), sqlbatch.Text(hexBytes32(change.VaultID)), sqlbatch.Text(hexBytes32(change.Delta)),
		sqlbatch.Text(hexBytes32(change.RunningBalance)), sqlbatch.Text(raw.TxHash.Hex()), sqlbatch.U64(uint64(raw.LogIndex)),
		sqlbatch.U64(raw.BlockNumber), sqlbatch.U64(raw.BlockTimestamp), sqlbatch.Text(changeType),
	))
}

func lower(a common.Address) string { return strings.ToLower(a.Hex()) }

func hexBytes32(b [32]byte) string { return common.Hash(b).Hex() }

func hexBytes(b []byte) string { return hexutil.Encode(b) }

func hexHashes(hashes []common.Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.Hex()
	}
	return out
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
