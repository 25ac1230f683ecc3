package quote

import (
	"context"
	"fmt"
	"math/big"

	"github.com/rainlanguage/raindex/internal/forkcache"
)

// ForkFactory builds a ContractCaller backed by a forked EVM pinned to rpc
// at block; the real implementation runs a local REVM fork, injected here
// so the quote engine doesn't depend on a specific interpreter runtime.
type ForkFactory func(ctx context.Context, rpc string, block uint64) (ContractCaller, error)

// ForkSingleQuote runs QuoteSingle against the cached fork for (rpc,
// block), creating it on first reference via factory.
func (c *Client) ForkSingleQuote(ctx context.Context, cache *forkcache.Cache, factory ForkFactory, rpc string, block uint64, cfg Config) (OrderQuote, *FailedQuote) {
	caller, release, err := acquireFork(ctx, cache, factory, rpc, block)
	if err != nil {
		return OrderQuote{}, &FailedQuote{Kind: FailedTransport, Err: err}
	}
	defer release()

	return c.QuoteSingle(ctx, caller, cfg, new(big.Int).SetUint64(block))
}

// ForkMultiQuote runs QuoteMulti against the cached fork for (rpc, block).
func (c *Client) ForkMultiQuote(ctx context.Context, cache *forkcache.Cache, factory ForkFactory, rpc string, block uint64, cfgs []Config) ([]OrderQuote, []*FailedQuote) {
	caller, release, err := acquireFork(ctx, cache, factory, rpc, block)
	if err != nil {
		fail := &FailedQuote{Kind: FailedTransport, Err: err}
		quotes := make([]OrderQuote, len(cfgs))
		fails := make([]*FailedQuote, len(cfgs))
		for i := range cfgs {
			fails[i] = fail
		}
		return quotes, fails
	}
	defer release()

	return c.QuoteMulti(ctx, caller, cfgs, new(big.Int).SetUint64(block))
}

func acquireFork(ctx context.Context, cache *forkcache.Cache, factory ForkFactory, rpc string, block uint64) (ContractCaller, func(), error) {
	key := forkcache.Key{RPC: rpc, Block: block}
	raw, release, err := cache.Acquire(key, func() (interface{}, error) {
		return factory(ctx, rpc, block)
	})
	if err != nil {
		return nil, nil, err
	}
	caller, ok := raw.(ContractCaller)
	if !ok {
		release()
		return nil, nil, fmt.Errorf("quote: cached fork for %s@%d is not a ContractCaller", rpc, block)
	}
	return caller, release, nil
}
