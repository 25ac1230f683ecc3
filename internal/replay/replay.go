// Package replay implements fork-backed transaction replay: given a
// transaction hash, it replays the transaction against a forked EVM that is
// cached once per RPC and returns the interpreter's per-step evaluation
// trace.
package replay

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rainlanguage/raindex/internal/forkcache"
)

// ErrRainEvalResultConversion is returned when a forked replay completes
// but its raw trace cannot be converted into a RainEvalResult (e.g. the
// transaction never reached interpreter bytecode).
var ErrRainEvalResultConversion = errors.New("replay: could not convert trace to RainEvalResult")

// ForkerError wraps a transport failure encountered while building or
// using the forked EVM.
type ForkerError struct {
	Err error
}

func (e *ForkerError) Error() string { return fmt.Sprintf("replay: forker error: %v", e.Err) }
func (e *ForkerError) Unwrap() error { return e.Err }

// StackStep is one interpreter evaluation step captured during replay.
type StackStep struct {
	Opcode  uint8
	Operand uint16
	Stack   []common.Hash
}

// RainEvalResult is the decoded per-step trace produced by replaying one
// transaction.
type RainEvalResult struct {
	TxHash     common.Hash
	StackTrace []StackStep
}

// Fork is the minimal surface a forked EVM exposes to the replayer; the
// real implementation is backed by a REVM fork, injected here the same way
// internal/quote injects its ForkFactory.
type Fork interface {
	ReplayTx(ctx context.Context, txHash common.Hash) (RainEvalResult, error)
}

// ForkFactory builds the Fork for rpc. It is given no block or transaction;
// the replayer caches the Fork it returns and replays every later
// transaction against that same Fork.
type ForkFactory func(ctx context.Context, rpc string) (Fork, error)

// TradeReplayer caches a single fork per target RPC (keyed at block 0,
// since a replayer's fork tracks the chain head rather than one pinned
// block the way the quote engine's fork cache does) and replays
// transactions against it.
type TradeReplayer struct {
	rpc     string
	cache   *forkcache.Cache
	factory ForkFactory
}

func NewTradeReplayer(rpc string, cache *forkcache.Cache, factory ForkFactory) *TradeReplayer {
	return &TradeReplayer{rpc: rpc, cache: cache, factory: factory}
}

// ReplayTx replays txHash against this replayer's cached fork, returning
// ForkerError for transport failures and ErrRainEvalResultConversion when
// the fork produced a trace this package cannot interpret.
func (r *TradeReplayer) ReplayTx(ctx context.Context, txHash common.Hash) (RainEvalResult, error) {
	key := forkcache.Key{RPC: r.rpc, Block: 0}
	raw, release, err := r.cache.Acquire(key, func() (interface{}, error) {
		return r.factory(ctx, r.rpc)
	})
	if err != nil {
		return RainEvalResult{}, &ForkerError{Err: err}
	}
	defer release()

	fork, ok := raw.(Fork)
	if !ok {
		return RainEvalResult{}, fmt.Errorf("replay: cached fork for %s is not a Fork", r.rpc)
	}

	result, err := fork.ReplayTx(ctx, txHash)
	if err != nil {
		return RainEvalResult{}, &ForkerError{Err: err}
	}
	if result.StackTrace == nil {
		return RainEvalResult{}, ErrRainEvalResultConversion
	}
	return result, nil
}
