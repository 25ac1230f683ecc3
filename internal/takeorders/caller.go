package takeorders

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rainlanguage/raindex/internal/quote"
)

// ERC20Allowance is the default AllowanceChecker, reading allowance(owner,
// spender) through an injected quote.ContractCaller the same way
// internal/quote injects its own transport.
type ERC20Allowance struct {
	Caller quote.ContractCaller

	method abi.Method
}

func NewERC20Allowance(caller quote.ContractCaller) (*ERC20Allowance, error) {
	method, err := buildAllowanceMethod()
	if err != nil {
		return nil, err
	}
	return &ERC20Allowance{Caller: caller, method: method}, nil
}

func (a *ERC20Allowance) Allowance(ctx context.Context, owner, spender, token common.Address) (*big.Int, error) {
	packed, err := a.method.Inputs.Pack(owner, spender)
	if err != nil {
		return nil, fmt.Errorf("takeorders: pack allowance args: %w", err)
	}
	calldata := append(append([]byte{}, a.method.ID...), packed...)

	raw, err := a.Caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: calldata}, nil)
	if err != nil {
		return nil, fmt.Errorf("takeorders: call allowance: %w", err)
	}
	out, err := a.method.Outputs.Unpack(raw)
	if err != nil || len(out) != 1 {
		return nil, fmt.Errorf("takeorders: unpack allowance result: %v", err)
	}
	allowance, _ := out[0].(*big.Int)
	if allowance == nil {
		return nil, fmt.Errorf("takeorders: allowance result was not a uint256")
	}
	return allowance, nil
}

// EthCallSimulator is the default Simulator: a plain eth_call against the
// orderbook, treating any returned error as a revert.
type EthCallSimulator struct {
	Caller quote.ContractCaller
	Block  *big.Int
}

func (s *EthCallSimulator) Simulate(ctx context.Context, orderbook common.Address, calldata []byte) error {
	_, err := s.Caller.CallContract(ctx, ethereum.CallMsg{To: &orderbook, Data: calldata}, s.Block)
	return err
}
