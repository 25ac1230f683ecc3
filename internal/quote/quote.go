// Package quote implements the quote engine: single and batched on-chain
// quote2 calls against an orderbook, Multicall3-wrapped for the batched
// case, with best-effort revert decoding through an injected selector
// registry.
package quote

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rainlanguage/raindex/internal/decode"
)

// Config is one leg to quote: an order plus the input/output IO indices
// the quote is evaluated against.
type Config struct {
	Order         decode.Order
	InputIOIndex  uint32
	OutputIOIndex uint32
	SignedContext [][32]byte
}

// OrderQuote is a successfully decoded quote2 result.
type OrderQuote struct {
	Exists    bool
	MaxOutput *big.Int
	Ratio     *big.Int
}

// FailedQuoteKind discriminates why a leg produced no usable quote.
type FailedQuoteKind int

const (
	FailedNonExistent FailedQuoteKind = iota
	FailedRevertKnown
	FailedRevertUnknown
	FailedTransport
)

// FailedQuote is the tagged-union failure surfaced per leg; exactly the
// fields relevant to Kind are populated.
type FailedQuote struct {
	Kind     FailedQuoteKind
	Selector [4]byte
	Decoded  string // populated when Kind == FailedRevertKnown
	Data     []byte // raw revert data, populated when Kind is a revert kind
	Err      error  // populated when Kind == FailedTransport
}

func (f *FailedQuote) Error() string {
	switch f.Kind {
	case FailedNonExistent:
		return "quote: order/io pair does not exist"
	case FailedRevertKnown:
		return fmt.Sprintf("quote: reverted: %s", f.Decoded)
	case FailedRevertUnknown:
		return fmt.Sprintf("quote: reverted with unknown selector %x", f.Selector)
	default:
		return fmt.Sprintf("quote: transport error: %v", f.Err)
	}
}

// SelectorRegistry best-effort decodes revert data by its 4-byte selector;
// an external, read-only, pluggable source of known custom errors. Decode
// returns ok=false (never an error) when the selector isn't registered —
// callers fall back to FailedRevertUnknown rather than losing the raw data.
type SelectorRegistry interface {
	Decode(ctx context.Context, selector [4]byte, data []byte) (decoded string, ok bool)
}

// ContractCaller is the minimal read-only transport quote calls need;
// *ethclient.Client and a forked-EVM caller both satisfy it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client executes quote calls against one orderbook/multicall deployment.
type Client struct {
	Orderbook  common.Address
	Multicall3 common.Address
	Registry   SelectorRegistry

	quoteMethod    abi.Method
	aggregate3ABI  abi.ABI
}

// NewClient builds a quote Client bound to orderbook/multicall3 addresses.
func NewClient(orderbook, multicall3 common.Address, registry SelectorRegistry) (*Client, error) {
	quoteMethod, err := buildQuote2Method()
	if err != nil {
		return nil, err
	}
	aggABI, err := buildAggregate3ABI()
	if err != nil {
		return nil, err
	}
	return &Client{Orderbook: orderbook, Multicall3: multicall3, Registry: registry, quoteMethod: quoteMethod, aggregate3ABI: aggABI}, nil
}

// QuoteSingle executes one quote2 call directly against the orderbook.
func (c *Client) QuoteSingle(ctx context.Context, caller ContractCaller, cfg Config, block *big.Int) (OrderQuote, *FailedQuote) {
	calldata, err := c.encodeQuoteCall(cfg)
	if err != nil {
		return OrderQuote{}, &FailedQuote{Kind: FailedTransport, Err: err}
	}

	result, err := caller.CallContract(ctx, ethereum.CallMsg{To: &c.Orderbook, Data: calldata}, block)
	if err != nil {
		return OrderQuote{}, c.decodeRevert(ctx, err, extractRevertData(err))
	}

	return c.decodeQuoteResult(result)
}

// QuoteMulti batches every leg into one Multicall3.aggregate3 call with
// allowFailure=true, so one reverting leg never aborts the others.
func (c *Client) QuoteMulti(ctx context.Context, caller ContractCaller, cfgs []Config, block *big.Int) ([]OrderQuote, []*FailedQuote) {
	calls := make([]aggregate3Call, len(cfgs))
	for i, cfg := range cfgs {
		calldata, err := c.encodeQuoteCall(cfg)
		if err != nil {
			calls[i] = aggregate3Call{Target: c.Orderbook, AllowFailure: true, CallData: nil}
			continue
		}
		calls[i] = aggregate3Call{Target: c.Orderbook, AllowFailure: true, CallData: calldata}
	}

	packed, err := c.aggregate3ABI.Pack("aggregate3", toAggregate3Tuples(calls))
	if err != nil {
		fail := &FailedQuote{Kind: FailedTransport, Err: err}
		quotes := make([]OrderQuote, len(cfgs))
		fails := make([]*FailedQuote, len(cfgs))
		for i := range cfgs {
			fails[i] = fail
			_ = quotes[i]
		}
		return quotes, fails
	}

	raw, err := caller.CallContract(ctx, ethereum.CallMsg{To: &c.Multicall3, Data: packed}, block)
	if err != nil {
		fail := &FailedQuote{Kind: FailedTransport, Err: err}
		quotes := make([]OrderQuote, len(cfgs))
		fails := make([]*FailedQuote, len(cfgs))
		for i := range cfgs {
			fails[i] = fail
		}
		return quotes, fails
	}

	results, err := c.unpackAggregate3(raw)
	if err != nil {
		fail := &FailedQuote{Kind: FailedTransport, Err: err}
		quotes := make([]OrderQuote, len(cfgs))
		fails := make([]*FailedQuote, len(cfgs))
		for i := range cfgs {
			fails[i] = fail
		}
		return quotes, fails
	}

	quotes := make([]OrderQuote, len(cfgs))
	fails := make([]*FailedQuote, len(cfgs))
	for i, r := range results {
		if !r.Success {
			fails[i] = c.decodeRevert(ctx, nil, r.ReturnData)
			continue
		}
		q, fail := c.decodeQuoteResult(r.ReturnData)
		quotes[i] = q
		fails[i] = fail
	}
	return quotes, fails
}

func (c *Client) encodeQuoteCall(cfg Config) ([]byte, error) {
	args, err := configToQuoteArgs(cfg)
	if err != nil {
		return nil, err
	}
	packed, err := c.quoteMethod.Inputs.Pack(args...)
	if err != nil {
		return nil, fmt.Errorf("quote: pack quote2 args: %w", err)
	}
	calldata := make([]byte, 0, len(c.quoteMethod.ID)+len(packed))
	calldata = append(calldata, c.quoteMethod.ID...)
	calldata = append(calldata, packed...)
	return calldata, nil
}

func (c *Client) decodeQuoteResult(data []byte) (OrderQuote, *FailedQuote) {
	out, err := c.quoteMethod.Outputs.Unpack(data)
	if err != nil || len(out) != 3 {
		return OrderQuote{}, &FailedQuote{Kind: FailedTransport, Err: fmt.Errorf("quote: unpack result: %v", err)}
	}
	exists, _ := out[0].(bool)
	maxOutput, _ := out[1].(*big.Int)
	ratio, _ := out[2].(*big.Int)

	if !exists {
		return OrderQuote{}, &FailedQuote{Kind: FailedNonExistent}
	}
	return OrderQuote{Exists: true, MaxOutput: maxOutput, Ratio: ratio}, nil
}

func (c *Client) decodeRevert(ctx context.Context, transportErr error, data []byte) *FailedQuote {
	if len(data) < 4 {
		if transportErr != nil {
			return &FailedQuote{Kind: FailedTransport, Err: transportErr}
		}
		return &FailedQuote{Kind: FailedRevertUnknown, Data: data}
	}

	var selector [4]byte
	copy(selector[:], data[:4])

	if c.Registry != nil {
		if decoded, ok := c.Registry.Decode(ctx, selector, data); ok {
			return &FailedQuote{Kind: FailedRevertKnown, Selector: selector, Decoded: decoded, Data: data}
		}
	}
	return &FailedQuote{Kind: FailedRevertUnknown, Selector: selector, Data: data}
}

// SortBestToWorst orders quotes best-to-worst by ascending ratio (lower
// ratio is a better price for the taker), matching the ordering the
// takeOrders builder's `prices` field must be returned in.
func SortBestToWorst(legs []OrderQuote) {
	sort.SliceStable(legs, func(i, j int) bool {
		if legs[i].Ratio == nil || legs[j].Ratio == nil {
			return false
		}
		return legs[i].Ratio.Cmp(legs[j].Ratio) < 0
	})
}
