// Package chain holds the multi-tenant scope key and related primitives
// shared by every pipeline stage: TargetKey, Watermark, and the execution
// Env passed to the interpreter.
package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// TargetKey is the multi-tenant key: every write and read in the local
// database is scoped to one (chain_id, orderbook_address) pair.
type TargetKey struct {
	ChainID          uint32
	OrderbookAddress common.Address
}

// NewTargetKey lowercases nothing itself (common.Address is already a fixed
// 20-byte array); it exists so callers don't build the struct literal by hand
// at every call site.
func NewTargetKey(chainID uint32, orderbook common.Address) TargetKey {
	return TargetKey{ChainID: chainID, OrderbookAddress: orderbook}
}

// String renders the canonical form "{chain_id}-{0xlowerhex}" used as map
// keys, log fields, and on-disk directory/file names.
func (t TargetKey) String() string {
	return fmt.Sprintf("%d-%s", t.ChainID, strings.ToLower(t.OrderbookAddress.Hex()))
}

// Watermark is the per-target high-water mark. A successful sync cycle
// commits a Watermark whose LastBlock is strictly greater than the previous
// one; re-applying the same batch of raw events is idempotent and leaves the
// watermark unchanged.
type Watermark struct {
	LastBlock   uint64
	LastHash    *common.Hash // optional: block hash at LastBlock, for diagnostics
	UpdatedAtMs int64
}

// Env is the interpreter execution environment: the block context under
// which `eval4` runs.
type Env struct {
	BlockNumber uint64
	Timestamp   uint64
}
