// Package takeorders builds takeOrders4 calldata for a taker: it chooses
// the best orderbook among candidates, selects legs via a price-cap policy,
// simulates the built calldata, prunes legs that cause a revert, and
// returns calldata ready to sign.
package takeorders

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rainlanguage/raindex/internal/decode"
	"github.com/rainlanguage/raindex/internal/quote"
)

// Mode selects how Amount and PriceCap are interpreted.
type Mode int

const (
	BuyExact Mode = iota
	BuyUpTo
	SpendExact
	SpendUpTo
)

// wadScale is the fixed-point base OrderQuote.Ratio and PriceCap are both
// expressed in, matching the on-chain Float convention quote2 returns
// values in.
var wadScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ErrExceededMaxPreflightIterations is returned when the preflight loop
// removes legs one at a time for |legs| iterations without converging on a
// calldata that simulates successfully.
var ErrExceededMaxPreflightIterations = errors.New("takeorders: exceeded max preflight iterations")

// ErrNoCandidates is returned when no orderbook offers a quote-able leg for
// the requested sell/buy pair.
var ErrNoCandidates = errors.New("takeorders: no candidate orderbook for sell/buy pair")

// Request describes a taker's desired trade.
type Request struct {
	ChainID   uint32
	Taker     common.Address
	SellToken common.Address
	BuyToken  common.Address
	Mode      Mode
	Amount    *big.Int
	PriceCap  *big.Int
}

// Leg is one order/io-index pair quote-able against a (sell, buy) pair.
type Leg struct {
	Order         decode.Order
	InputIOIndex  uint32
	OutputIOIndex uint32
}

// CandidateSource discovers quote-able legs for a sell/buy pair, grouped
// by the orderbook that hosts them. The real implementation queries the
// local DB (cmd/raindex-takeorders runs sqlbatch.BuildFetchCandidateOrders,
// joined on io_type and token for both sides); injected here the same way
// internal/vraindex injects its Host, since wiring the concrete query is a
// cmd/ concern, not domain logic this package owns.
type CandidateSource interface {
	FindLegs(ctx context.Context, chainID uint32, sellToken, buyToken common.Address) (map[common.Address][]Leg, error)
}

// AllowanceChecker reads a taker's current ERC-20 allowance.
type AllowanceChecker interface {
	Allowance(ctx context.Context, owner, spender, token common.Address) (*big.Int, error)
}

// Simulator runs a takeOrders4 call against current chain state without
// broadcasting it; any non-nil error is treated as a revert.
type Simulator interface {
	Simulate(ctx context.Context, orderbook common.Address, calldata []byte) error
}

// NeedsApproval is returned in place of a Result when the taker's
// allowance is below the computed sell cap.
type NeedsApproval struct {
	Token    common.Address
	Spender  common.Address
	Calldata []byte
}

func (n *NeedsApproval) Error() string {
	return fmt.Sprintf("takeorders: insufficient allowance for %s, approval required", n.Token)
}

// Result is the final takeOrders4 calldata plus the figures the caller
// needs to present the trade to the taker.
type Result struct {
	Calldata       []byte
	EffectivePrice *big.Int
	ExpectedSell   *big.Int
	MaxSellCap     *big.Int
	Prices         []quote.OrderQuote
	Orderbook      common.Address
}

// Builder wires the per-orderbook quote clients and the injected
// dependencies together into the Build algorithm.
type Builder struct {
	Candidates CandidateSource
	Quoters    func(orderbook common.Address) (*quote.Client, error)
	Caller     quote.ContractCaller
	Allowance  AllowanceChecker
	Simulate   Simulator
}

type scoredCandidate struct {
	orderbook      common.Address
	legs           []Leg
	quotes         []quote.OrderQuote
	totalBuyVolume *big.Int
	effectivePrice *big.Int
}

// Build runs the full takeOrders algorithm: candidate discovery, price-cap
// filtering, scoring, allowance check, and preflight pruning.
func (b *Builder) Build(ctx context.Context, req Request, block *big.Int) (*Result, error) {
	candidatesByOrderbook, err := b.Candidates.FindLegs(ctx, req.ChainID, req.SellToken, req.BuyToken)
	if err != nil {
		return nil, fmt.Errorf("takeorders: find legs: %w", err)
	}
	if len(candidatesByOrderbook) == 0 {
		return nil, ErrNoCandidates
	}

	var scored []scoredCandidate
	for orderbook, legs := range candidatesByOrderbook {
		sc, err := b.scoreCandidate(ctx, orderbook, legs, req, block)
		if err != nil {
			return nil, err
		}
		if sc == nil {
			continue
		}
		scored = append(scored, *sc)
	}
	if len(scored) == 0 {
		return nil, ErrNoCandidates
	}

	winner := pickWinner(scored)

	maxSellCap := maxSellCapFor(req)

	if b.Allowance != nil {
		current, err := b.Allowance.Allowance(ctx, req.Taker, winner.orderbook, req.SellToken)
		if err != nil {
			return nil, fmt.Errorf("takeorders: read allowance: %w", err)
		}
		if current.Cmp(maxSellCap) < 0 {
			calldata, err := encodeApprove(winner.orderbook, maxSellCap)
			if err != nil {
				return nil, err
			}
			return nil, &NeedsApproval{Token: req.SellToken, Spender: winner.orderbook, Calldata: calldata}
		}
	}

	legs := winner.legs
	quotes := winner.quotes
	initialCount := len(legs)

	var calldata []byte
	for i := 0; i <= initialCount; i++ {
		if len(legs) == 0 {
			return nil, ErrExceededMaxPreflightIterations
		}
		cd, err := encodeTakeOrders4(legs, req, maxSellCap)
		if err != nil {
			return nil, err
		}
		if simErr := b.Simulate.Simulate(ctx, winner.orderbook, cd); simErr == nil {
			calldata = cd
			break
		}
		if i == initialCount {
			return nil, ErrExceededMaxPreflightIterations
		}
		badIdx, err := b.isolateFailingLeg(ctx, winner.orderbook, legs, req, maxSellCap)
		if err != nil {
			return nil, err
		}
		legs = append(append([]Leg{}, legs[:badIdx]...), legs[badIdx+1:]...)
		quotes = append(append([]quote.OrderQuote{}, quotes[:badIdx]...), quotes[badIdx+1:]...)
	}
	if calldata == nil {
		return nil, ErrExceededMaxPreflightIterations
	}

	effectivePrice, expectedSell := blendedPrice(quotes)
	quote.SortBestToWorst(quotes)

	return &Result{
		Calldata:       calldata,
		EffectivePrice: effectivePrice,
		ExpectedSell:   expectedSell,
		MaxSellCap:     maxSellCap,
		Prices:         quotes,
		Orderbook:      winner.orderbook,
	}, nil
}

func (b *Builder) scoreCandidate(ctx context.Context, orderbook common.Address, legs []Leg, req Request, block *big.Int) (*scoredCandidate, error) {
	if len(legs) == 0 {
		return nil, nil
	}
	quoter, err := b.Quoters(orderbook)
	if err != nil {
		return nil, fmt.Errorf("takeorders: build quoter for %s: %w", orderbook, err)
	}

	cfgs := make([]quote.Config, len(legs))
	for i, leg := range legs {
		cfgs[i] = quote.Config{Order: leg.Order, InputIOIndex: leg.InputIOIndex, OutputIOIndex: leg.OutputIOIndex}
	}
	results, fails := quoter.QuoteMulti(ctx, b.Caller, cfgs, block)

	var keptLegs []Leg
	var keptQuotes []quote.OrderQuote
	for i, result := range results {
		if fails[i] != nil || !result.Exists {
			continue
		}
		if result.Ratio == nil || result.Ratio.Cmp(req.PriceCap) > 0 {
			continue
		}
		keptLegs = append(keptLegs, legs[i])
		keptQuotes = append(keptQuotes, result)
	}
	if len(keptLegs) == 0 {
		return nil, nil
	}

	totalBuyVolume := big.NewInt(0)
	for _, q := range keptQuotes {
		totalBuyVolume.Add(totalBuyVolume, q.MaxOutput)
	}
	effectivePrice, _ := blendedPrice(keptQuotes)

	return &scoredCandidate{
		orderbook:      orderbook,
		legs:           keptLegs,
		quotes:         keptQuotes,
		totalBuyVolume: totalBuyVolume,
		effectivePrice: effectivePrice,
	}, nil
}

// pickWinner scores by (total_buy_volume desc, effective_price asc),
// tie-breaking on orderbook address ascending.
func pickWinner(candidates []scoredCandidate) scoredCandidate {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, c := candidates[i], candidates[j]
		if a.totalBuyVolume.Cmp(c.totalBuyVolume) != 0 {
			return a.totalBuyVolume.Cmp(c.totalBuyVolume) > 0
		}
		if a.effectivePrice.Cmp(c.effectivePrice) != 0 {
			return a.effectivePrice.Cmp(c.effectivePrice) < 0
		}
		return bytesLess(a.orderbook.Bytes(), c.orderbook.Bytes())
	})
	return candidates[0]
}

func bytesLess(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// blendedPrice returns the volume-weighted average ratio across quotes and
// the total expected sell amount implied by that blended price.
func blendedPrice(quotes []quote.OrderQuote) (*big.Int, *big.Int) {
	totalOut := big.NewInt(0)
	weightedRatio := big.NewInt(0)
	for _, q := range quotes {
		if q.MaxOutput == nil || q.Ratio == nil {
			continue
		}
		totalOut.Add(totalOut, q.MaxOutput)
		weightedRatio.Add(weightedRatio, new(big.Int).Mul(q.MaxOutput, q.Ratio))
	}
	if totalOut.Sign() == 0 {
		return big.NewInt(0), big.NewInt(0)
	}
	effectivePrice := new(big.Int).Div(weightedRatio, totalOut)
	expectedSell := new(big.Int).Div(new(big.Int).Mul(totalOut, effectivePrice), wadScale)
	return effectivePrice, expectedSell
}

// maxSellCapFor implements the mode+price_cap policy: buy-modes cap by
// amount*price_cap, spend-modes cap by amount directly.
func maxSellCapFor(req Request) *big.Int {
	switch req.Mode {
	case BuyExact, BuyUpTo:
		return new(big.Int).Div(new(big.Int).Mul(req.Amount, req.PriceCap), wadScale)
	default:
		return new(big.Int).Set(req.Amount)
	}
}

// isolateFailingLeg narrows the range [lo, hi) of legs by halves: it
// simulates legs[lo:mid] on its own, keeps that half when the simulation
// reverts and moves to legs[mid:hi] when it succeeds, and returns the index
// left once one leg remains. It assumes at least one leg in the set causes
// the current revert.
func (b *Builder) isolateFailingLeg(ctx context.Context, orderbook common.Address, legs []Leg, req Request, maxSellCap *big.Int) (int, error) {
	lo, hi := 0, len(legs)
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		cd, err := encodeTakeOrders4(legs[lo:mid], req, maxSellCap)
		if err != nil {
			return -1, err
		}
		if err := b.Simulate.Simulate(ctx, orderbook, cd); err != nil {
			hi = mid
		} else {
			lo = mid
		}
	}
	return lo, nil
}
