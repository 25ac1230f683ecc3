// Package rpcadapter wraps go-ethereum's ethclient.Client to satisfy the
// narrow transport interfaces fetch, erc20, and quote each declare
// (RpcClient, Caller, ContractCaller): one small wrapper per external
// transport, keeping each package's own interface independent of the
// concrete SDK behind it.
package rpcadapter

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/rainlanguage/raindex/internal/rawlog"
)

// Client adapts one *ethclient.Client connection to every transport surface
// this repository's packages need: fetch.RpcClient, erc20.Caller, and
// quote.ContractCaller.
type Client struct {
	eth *ethclient.Client
}

// Dial opens an RPC connection and wraps it.
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return &Client{eth: eth}, nil
}

func (c *Client) Close() { c.eth.Close() }

// GetLogs satisfies fetch.RpcClient.
func (c *Client) GetLogs(ctx context.Context, address common.Address, fromBlock, toBlock uint64) ([]rawlog.RawLog, error) {
	logs, err := c.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{address},
	})
	if err != nil {
		return nil, err
	}

	out := make([]rawlog.RawLog, len(logs))
	for i, l := range logs {
		blockTime, err := c.blockTime(ctx, l.BlockNumber)
		if err != nil {
			return nil, err
		}
		out[i] = rawlog.RawLog{
			Address:     l.Address,
			Topics:      l.Topics,
			Data:        l.Data,
			BlockNumber: l.BlockNumber,
			TxHash:      l.TxHash,
			LogIndex:    uint32(l.Index),
			BlockTime:   blockTime,
			Removed:     l.Removed,
		}
	}
	return out, nil
}

// blockTime caches nothing; a production build would, but this repository's
// fetcher already partitions by bounded block ranges, so the per-log header
// lookup count is small relative to the eth_getLogs call it follows.
func (c *Client) blockTime(ctx context.Context, blockNumber uint64) (uint64, error) {
	header, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return 0, err
	}
	return header.Time, nil
}

// GetLatestBlock satisfies fetch.RpcClient.
func (c *Client) GetLatestBlock(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

// Name satisfies erc20.Caller.
func (c *Client) Name(ctx context.Context, token common.Address) (string, error) {
	return c.callString(ctx, token, erc20NameSelector)
}

// Symbol satisfies erc20.Caller.
func (c *Client) Symbol(ctx context.Context, token common.Address) (string, error) {
	return c.callString(ctx, token, erc20SymbolSelector)
}

// Decimals satisfies erc20.Caller.
func (c *Client) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	data, err := c.call(ctx, token, erc20DecimalsSelector, nil)
	if err != nil {
		return 0, err
	}
	decimals, err := unpackUint8(data)
	if err != nil {
		return 0, err
	}
	return decimals, nil
}

// CallContract satisfies quote.ContractCaller (and serves erc20's direct
// calldata path below): a passthrough to the underlying ethclient
// connection. Together with CodeAt it is the surface go-ethereum's
// generated bindings (bind.ContractCaller) expect.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.eth.CallContract(ctx, msg, blockNumber)
}

// CodeAt is a passthrough to the underlying ethclient connection.
func (c *Client) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return c.eth.CodeAt(ctx, contract, blockNumber)
}

var _ bind.ContractCaller = (*Client)(nil)

func (c *Client) call(ctx context.Context, token common.Address, selector [4]byte, args []byte) ([]byte, error) {
	data := append(append([]byte{}, selector[:]...), args...)
	return c.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
}

func (c *Client) callString(ctx context.Context, token common.Address, selector [4]byte) (string, error) {
	data, err := c.call(ctx, token, selector, nil)
	if err != nil {
		return "", err
	}
	return unpackString(data)
}

var (
	erc20NameSelector     = [4]byte{0x06, 0xfd, 0xde, 0x03}
	erc20SymbolSelector   = [4]byte{0x95, 0xd8, 0x9b, 0x41}
	erc20DecimalsSelector = [4]byte{0x31, 0x3c, 0xe5, 0x67}
)

func unpackUint8(data []byte) (uint8, error) {
	if len(data) < 32 {
		return 0, errShortReturnData
	}
	return uint8(new(big.Int).SetBytes(data[:32]).Uint64()), nil
}

func unpackString(data []byte) (string, error) {
	if len(data) < 64 {
		return "", errShortReturnData
	}
	offset := new(big.Int).SetBytes(data[:32]).Uint64()
	if uint64(len(data)) < offset+32 {
		return "", errShortReturnData
	}
	length := new(big.Int).SetBytes(data[offset : offset+32]).Uint64()
	end := offset + 32 + length
	if uint64(len(data)) < end {
		return "", errShortReturnData
	}
	return string(data[offset+32 : end]), nil
}

var errShortReturnData = errShort{}

type errShort struct{}

func (errShort) Error() string { return "rpcadapter: short ABI return data" }
