package quote

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// aggregate3Call mirrors Multicall3's Call3 struct; field names match the
// ABI component names (capitalized) so abi.Arguments.Pack can bind them by
// reflection without an explicit mapping.
type aggregate3Call struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

type aggregate3Result struct {
	Success    bool
	ReturnData []byte
}

type ioArg struct {
	Token   common.Address
	VaultId *big.Int
}

type evaluableArg struct {
	Interpreter common.Address
	Store       common.Address
	Bytecode    []byte
}

type orderArg struct {
	Owner        common.Address
	Nonce        [32]byte
	Evaluable    evaluableArg
	ValidInputs  []ioArg
	ValidOutputs []ioArg
}

type signedContextArg struct {
	Signer    common.Address
	Context   []*big.Int
	Signature []byte
}

type quoteConfigArg struct {
	Order         orderArg
	InputIOIndex  *big.Int
	OutputIOIndex *big.Int
	SignedContext []signedContextArg
}

func quoteConfigType() (abi.Type, error) {
	return abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "order", Type: "tuple", Components: []abi.ArgumentMarshaling{
			{Name: "owner", Type: "address"},
			{Name: "nonce", Type: "bytes32"},
			{Name: "evaluable", Type: "tuple", Components: []abi.ArgumentMarshaling{
				{Name: "interpreter", Type: "address"},
				{Name: "store", Type: "address"},
				{Name: "bytecode", Type: "bytes"},
			}},
			{Name: "validInputs", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
				{Name: "token", Type: "address"},
				{Name: "vaultId", Type: "uint256"},
			}},
			{Name: "validOutputs", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
				{Name: "token", Type: "address"},
				{Name: "vaultId", Type: "uint256"},
			}},
		}},
		{Name: "inputIOIndex", Type: "uint256"},
		{Name: "outputIOIndex", Type: "uint256"},
		{Name: "signedContext", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
			{Name: "signer", Type: "address"},
			{Name: "context", Type: "uint256[]"},
			{Name: "signature", Type: "bytes"},
		}},
	})
}

func buildQuote2Method() (abi.Method, error) {
	cfgType, err := quoteConfigType()
	if err != nil {
		return abi.Method{}, fmt.Errorf("quote: build quote config type: %w", err)
	}
	boolTy, err := abi.NewType("bool", "", nil)
	if err != nil {
		return abi.Method{}, err
	}
	uint256Ty, err := abi.NewType("uint256", "", nil)
	if err != nil {
		return abi.Method{}, err
	}

	inputs := abi.Arguments{{Name: "quoteConfig", Type: cfgType}}
	outputs := abi.Arguments{
		{Name: "exists", Type: boolTy},
		{Name: "maxOutput", Type: uint256Ty},
		{Name: "ratio", Type: uint256Ty},
	}
	return abi.NewMethod("quote2", "quote2", abi.Function, "view", false, false, inputs, outputs), nil
}

func buildAggregate3ABI() (abi.ABI, error) {
	callType, err := abi.NewType("tuple[]", "", []abi.ArgumentMarshaling{
		{Name: "target", Type: "address"},
		{Name: "allowFailure", Type: "bool"},
		{Name: "callData", Type: "bytes"},
	})
	if err != nil {
		return abi.ABI{}, err
	}
	resultType, err := abi.NewType("tuple[]", "", []abi.ArgumentMarshaling{
		{Name: "success", Type: "bool"},
		{Name: "returnData", Type: "bytes"},
	})
	if err != nil {
		return abi.ABI{}, err
	}

	inputs := abi.Arguments{{Name: "calls", Type: callType}}
	outputs := abi.Arguments{{Name: "returnData", Type: resultType}}
	method := abi.NewMethod("aggregate3", "aggregate3", abi.Function, "nonpayable", false, true, inputs, outputs)

	return abi.ABI{Methods: map[string]abi.Method{"aggregate3": method}}, nil
}

func configToQuoteArgs(cfg Config) ([]interface{}, error) {
	ins := make([]ioArg, len(cfg.Order.ValidInputs))
	for i, io := range cfg.Order.ValidInputs {
		ins[i] = ioArg{Token: io.Token, VaultId: new(big.Int).SetBytes(io.VaultID[:])}
	}
	outs := make([]ioArg, len(cfg.Order.ValidOutputs))
	for i, io := range cfg.Order.ValidOutputs {
		outs[i] = ioArg{Token: io.Token, VaultId: new(big.Int).SetBytes(io.VaultID[:])}
	}

	signed := make([]signedContextArg, 0, len(cfg.SignedContext))
	for _, word := range cfg.SignedContext {
		signed = append(signed, signedContextArg{Context: []*big.Int{new(big.Int).SetBytes(word[:])}})
	}

	arg := quoteConfigArg{
		Order: orderArg{
			Owner: cfg.Order.Owner,
			Nonce: cfg.Order.Nonce,
			Evaluable: evaluableArg{
				Interpreter: cfg.Order.Evaluable.Interpreter,
				Store:       cfg.Order.Evaluable.Store,
				Bytecode:    cfg.Order.Evaluable.Bytecode,
			},
			ValidInputs:  ins,
			ValidOutputs: outs,
		},
		InputIOIndex:  new(big.Int).SetUint64(uint64(cfg.InputIOIndex)),
		OutputIOIndex: new(big.Int).SetUint64(uint64(cfg.OutputIOIndex)),
		SignedContext: signed,
	}
	return []interface{}{arg}, nil
}

func (c *Client) unpackAggregate3(raw []byte) ([]aggregate3Result, error) {
	var out struct {
		ReturnData []aggregate3Result
	}
	if err := c.aggregate3ABI.UnpackIntoInterface(&out, "aggregate3", raw); err != nil {
		return nil, fmt.Errorf("quote: unpack aggregate3 result: %w", err)
	}
	return out.ReturnData, nil
}

func toAggregate3Tuples(calls []aggregate3Call) []aggregate3Call { return calls }

// extractRevertData pulls the raw revert bytes out of a JSON-RPC error that
// implements the conventional ErrorData() interface{} accessor (as
// go-ethereum's rpc.Error / rpc.DataError do); returns nil when the
// transport error carries no structured revert payload.
func extractRevertData(err error) []byte {
	type dataError interface{ ErrorData() interface{} }
	de, ok := err.(dataError)
	if !ok {
		return nil
	}
	switch d := de.ErrorData().(type) {
	case string:
		return common.FromHex(d)
	case []byte:
		return d
	default:
		return nil
	}
}
