// Package rawlog defines the wire types shared by the log fetcher, event
// decoder, and apply pipeline: the raw log as returned by an RPC provider,
// and the RawEvent row persisted verbatim before any decoding happens.
package rawlog

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
)

// RawLog is the provider-agnostic shape of a single EVM log, independent of
// whichever RPC transport library produced it.
type RawLog struct {
	Address     common.Address
	Topics      []common.Hash
	Data        []byte
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint32
	BlockTime   uint64 // seconds since epoch; fetched alongside the log
	Removed     bool
}

// RawEvent is the append-only row persisted for every fetched log, primary
// keyed by (chain_id, orderbook_address, tx_hash, log_index). It is the
// input to deterministic decoding: identical RawEvent bytes always decode to
// an identical DecodedEvent.
type RawEvent struct {
	ChainID          uint32
	OrderbookAddress common.Address
	TxHash           common.Hash
	LogIndex         uint32
	BlockNumber      uint64
	BlockTimestamp   uint64
	Address          common.Address
	Topics           []common.Hash
	Data             []byte
	RawJSON          json.RawMessage
}

// FromLog builds the RawEvent row for a fetched log scoped to a target.
func FromLog(chainID uint32, orderbook common.Address, l RawLog, rawJSON json.RawMessage) RawEvent {
	return RawEvent{
		ChainID:          chainID,
		OrderbookAddress: orderbook,
		TxHash:           l.TxHash,
		LogIndex:         l.LogIndex,
		BlockNumber:      l.BlockNumber,
		BlockTimestamp:   l.BlockTime,
		Address:          l.Address,
		Topics:           l.Topics,
		Data:             l.Data,
		RawJSON:          rawJSON,
	}
}

// Less orders two raw events by (block_number, log_index) ascending, the
// canonical ordering the fetcher and apply pipeline both rely on.
func Less(a, b RawEvent) bool {
	if a.BlockNumber != b.BlockNumber {
		return a.BlockNumber < b.BlockNumber
	}
	return a.LogIndex < b.LogIndex
}
