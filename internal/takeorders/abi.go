package takeorders

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ABI component structs for IOrderBookV6.takeOrders4, hand-built the same
// way internal/quote builds quote2/aggregate3: no generated binding for
// this ABI exists anywhere in the pack.
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

type takeOrderConfigArg struct {
	Order         orderArg
	InputIOIndex  *big.Int
	OutputIOIndex *big.Int
	SignedContext []signedContextArg
}

func orderConfigType() (abi.Type, error) {
	return abi.NewType("tuple[]", "", []abi.ArgumentMarshaling{
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

func buildTakeOrders4Method() (abi.Method, error) {
	ordersType, err := orderConfigType()
	if err != nil {
		return abi.Method{}, fmt.Errorf("takeorders: build order config type: %w", err)
	}
	uint256Ty, err := abi.NewType("uint256", "", nil)
	if err != nil {
		return abi.Method{}, err
	}
	bytesTy, err := abi.NewType("bytes", "", nil)
	if err != nil {
		return abi.Method{}, err
	}

	inputs := abi.Arguments{
		{Name: "orders", Type: ordersType},
		{Name: "maxInput", Type: uint256Ty},
		{Name: "maxOutput", Type: uint256Ty},
		{Name: "maxIORatio", Type: uint256Ty},
		{Name: "minInput", Type: uint256Ty},
		{Name: "data", Type: bytesTy},
	}
	outputs := abi.Arguments{
		{Name: "totalTakerInput", Type: uint256Ty},
		{Name: "totalTakerOutput", Type: uint256Ty},
	}
	return abi.NewMethod("takeOrders4", "takeOrders4", abi.Function, "nonpayable", false, true, inputs, outputs), nil
}

func legToOrderArg(leg Leg) orderArg {
	ins := make([]ioArg, len(leg.Order.ValidInputs))
	for i, io := range leg.Order.ValidInputs {
		ins[i] = ioArg{Token: io.Token, VaultId: new(big.Int).SetBytes(io.VaultID[:])}
	}
	outs := make([]ioArg, len(leg.Order.ValidOutputs))
	for i, io := range leg.Order.ValidOutputs {
		outs[i] = ioArg{Token: io.Token, VaultId: new(big.Int).SetBytes(io.VaultID[:])}
	}
	return orderArg{
		Owner: leg.Order.Owner,
		Nonce: leg.Order.Nonce,
		Evaluable: evaluableArg{
			Interpreter: leg.Order.Evaluable.Interpreter,
			Store:       leg.Order.Evaluable.Store,
			Bytecode:    leg.Order.Evaluable.Bytecode,
		},
		ValidInputs:  ins,
		ValidOutputs: outs,
	}
}

// encodeTakeOrders4 packs the takeOrders4 calldata for legs, ordered
// best-to-worst by ratio is the caller's responsibility (legs are encoded
// in the order given); caps reflect req's mode+price_cap policy.
func encodeTakeOrders4(legs []Leg, req Request, maxSellCap *big.Int) ([]byte, error) {
	method, err := buildTakeOrders4Method()
	if err != nil {
		return nil, err
	}

	configs := make([]takeOrderConfigArg, len(legs))
	for i, leg := range legs {
		configs[i] = takeOrderConfigArg{
			Order:         legToOrderArg(leg),
			InputIOIndex:  new(big.Int).SetUint64(uint64(leg.InputIOIndex)),
			OutputIOIndex: new(big.Int).SetUint64(uint64(leg.OutputIOIndex)),
		}
	}

	maxInput, maxOutput, minInput := takeOrdersCaps(req, maxSellCap)

	packed, err := method.Inputs.Pack(configs, maxInput, maxOutput, req.PriceCap, minInput, []byte{})
	if err != nil {
		return nil, fmt.Errorf("takeorders: pack takeOrders4 args: %w", err)
	}
	calldata := make([]byte, 0, len(method.ID)+len(packed))
	calldata = append(calldata, method.ID...)
	calldata = append(calldata, packed...)
	return calldata, nil
}

// takeOrdersCaps maps a Request's mode and computed sell cap onto
// takeOrders4's maxInput/maxOutput/minInput triple: buy-modes cap output
// (the bought token), spend-modes cap input (the sold token).
func takeOrdersCaps(req Request, maxSellCap *big.Int) (maxInput, maxOutput, minInput *big.Int) {
	switch req.Mode {
	case BuyExact:
		return maxSellCap, req.Amount, big.NewInt(0)
	case BuyUpTo:
		return maxSellCap, req.Amount, big.NewInt(0)
	case SpendExact:
		return req.Amount, maxSellCap, req.Amount
	default: // SpendUpTo
		return req.Amount, maxSellCap, big.NewInt(0)
	}
}

func buildApproveMethod() (abi.Method, error) {
	addrTy, err := abi.NewType("address", "", nil)
	if err != nil {
		return abi.Method{}, err
	}
	uint256Ty, err := abi.NewType("uint256", "", nil)
	if err != nil {
		return abi.Method{}, err
	}
	boolTy, err := abi.NewType("bool", "", nil)
	if err != nil {
		return abi.Method{}, err
	}
	inputs := abi.Arguments{{Name: "spender", Type: addrTy}, {Name: "amount", Type: uint256Ty}}
	outputs := abi.Arguments{{Name: "", Type: boolTy}}
	return abi.NewMethod("approve", "approve", abi.Function, "nonpayable", false, true, inputs, outputs), nil
}

func buildAllowanceMethod() (abi.Method, error) {
	addrTy, err := abi.NewType("address", "", nil)
	if err != nil {
		return abi.Method{}, err
	}
	uint256Ty, err := abi.NewType("uint256", "", nil)
	if err != nil {
		return abi.Method{}, err
	}
	inputs := abi.Arguments{{Name: "owner", Type: addrTy}, {Name: "spender", Type: addrTy}}
	outputs := abi.Arguments{{Name: "", Type: uint256Ty}}
	return abi.NewMethod("allowance", "allowance", abi.Function, "view", false, false, inputs, outputs), nil
}

func encodeApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	method, err := buildApproveMethod()
	if err != nil {
		return nil, err
	}
	packed, err := method.Inputs.Pack(spender, amount)
	if err != nil {
		return nil, fmt.Errorf("takeorders: pack approve args: %w", err)
	}
	calldata := make([]byte, 0, len(method.ID)+len(packed))
	calldata = append(calldata, method.ID...)
	calldata = append(calldata, packed...)
	return calldata, nil
}
