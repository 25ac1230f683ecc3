// Package erc20 implements the token metadata fetcher: given a
// list of addresses missing from the local store, it concurrently calls
// name()/symbol()/decimals() and returns what it could read, bounded by a
// golang.org/x/sync/errgroup fan-out.
package erc20

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

// Token mirrors the erc20_tokens row: chain-scoped metadata, any field nil
// when that particular call failed.
type Token struct {
	ChainID  uint32
	Address  common.Address
	Name     *string
	Symbol   *string
	Decimals *uint8
}

// LowerAddress is the upsert key's address component: (chain_id, lower(address)).
func (t Token) LowerAddress() string { return strings.ToLower(t.Address.Hex()) }

// FailurePolicy controls what happens to a token when one of its three
// calls fails.
type FailurePolicy int

const (
	// SkipOnError drops the token entirely if any of name/symbol/decimals fails.
	SkipOnError FailurePolicy = iota
	// KeepPartial keeps the token with nil fields for whichever calls failed.
	KeepPartial
)

// Caller is the minimal on-chain read surface the fetcher needs; the real
// transport (ethclient.Client.CallContract or an RPC shim) is injected.
type Caller interface {
	Name(ctx context.Context, token common.Address) (string, error)
	Symbol(ctx context.Context, token common.Address) (string, error)
	Decimals(ctx context.Context, token common.Address) (uint8, error)
}

// Fetcher reads ERC-20 metadata concurrently for a batch of addresses.
type Fetcher struct {
	caller      Caller
	concurrency int
	policy      FailurePolicy
}

func New(caller Caller, concurrency int, policy FailurePolicy) *Fetcher {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Fetcher{caller: caller, concurrency: concurrency, policy: policy}
}

// FetchMissing reads name/symbol/decimals for every address in addrs,
// scoped to chainID, and returns one Token per address (order not
// guaranteed to match addrs) honoring the configured FailurePolicy.
func (f *Fetcher) FetchMissing(ctx context.Context, chainID uint32, addrs []common.Address) ([]Token, error) {
	if len(addrs) == 0 {
		return nil, nil
	}

	results := make([]*Token, len(addrs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	for i, addr := range addrs {
		i, addr := i, addr
		g.Go(func() error {
			tok := f.fetchOne(gctx, chainID, addr)
			results[i] = tok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Token
	for _, t := range results {
		if t != nil {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, chainID uint32, addr common.Address) *Token {
	tok := Token{ChainID: chainID, Address: addr}

	name, nameErr := f.caller.Name(ctx, addr)
	symbol, symErr := f.caller.Symbol(ctx, addr)
	decimals, decErr := f.caller.Decimals(ctx, addr)

	anyErr := nameErr != nil || symErr != nil || decErr != nil
	if anyErr && f.policy == SkipOnError {
		return nil
	}

	if nameErr == nil {
		tok.Name = &name
	}
	if symErr == nil {
		tok.Symbol = &symbol
	}
	if decErr == nil {
		tok.Decimals = &decimals
	}
	return &tok
}
