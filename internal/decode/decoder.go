package decode

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rainlanguage/raindex/internal/rawlog"
)

// Error wraps a decode failure with the offending log's identity, since
// decode errors abort the owning sync cycle but must still be diagnosable.
type Error struct {
	TxHash   common.Hash
	LogIndex uint32
	Reason   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("decode: tx=%s log=%d: %s", e.TxHash.Hex(), e.LogIndex, e.Reason)
}

// Decode dispatches a single raw event to its ABI decoder by topic[0]. An
// unrecognized topic yields DecodedEvent{Kind: KindUnknown} rather than an
// error, so address collectors and the apply pipeline still see the event's
// raw context.
func Decode(ev rawlog.RawEvent) (DecodedEvent, error) {
	if len(ev.Topics) == 0 {
		return DecodedEvent{Kind: KindUnknown, UnknownEvent: &Unknown{Data: ev.Data}}, nil
	}

	topic0 := ev.Topics[0]
	switch topic0 {
	case sigDepositV2:
		return decodeDepositV2(ev)
	case sigWithdrawV2:
		return decodeWithdrawV2(ev)
	case sigAddOrderV3:
		return decodeAddOrderV3(ev)
	case sigRemoveOrderV3:
		return decodeRemoveOrderV3(ev)
	case sigTakeOrderV3:
		return decodeTakeOrderV3(ev)
	case sigClearV3:
		return decodeClearV3(ev)
	case sigAfterClearV3:
		return decodeAfterClearV3(ev)
	case sigInterpreterStoreSet:
		return decodeInterpreterStoreSet(ev)
	case sigMetaV1_2:
		return decodeMetaV1_2(ev)
	default:
		return DecodedEvent{Kind: KindUnknown, UnknownEvent: &Unknown{Topic0: topic0, Data: ev.Data}}, nil
	}
}

func requireTopics(ev rawlog.RawEvent, n int) error {
	if len(ev.Topics) < n {
		return &Error{TxHash: ev.TxHash, LogIndex: ev.LogIndex, Reason: fmt.Sprintf("expected at least %d topics, got %d", n, len(ev.Topics))}
	}
	return nil
}

func addressFromTopic(t common.Hash) common.Address {
	var a common.Address
	copy(a[:], t[12:])
	return a
}

func decodeDepositV2(ev rawlog.RawEvent) (DecodedEvent, error) {
	if err := requireTopics(ev, 1); err != nil {
		return DecodedEvent{}, err
	}
	args := abi.Arguments{
		{Name: "sender", Type: mustType("address")},
		{Name: "token", Type: mustType("address")},
		{Name: "vaultId", Type: mustType("bytes32")},
		{Name: "amount", Type: mustType("uint256")},
	}
	var out struct {
		Sender  common.Address
		Token   common.Address
		VaultId [32]byte
		Amount  *big.Int
	}
	if err := unpackInto(ev, args, &out); err != nil {
		return DecodedEvent{}, err
	}
	return DecodedEvent{Kind: KindDepositV2, Deposit: &DepositV2{
		Sender: out.Sender, Token: out.Token, VaultID: out.VaultId, Amount: bigToBytes32(out.Amount),
	}}, nil
}

func decodeWithdrawV2(ev rawlog.RawEvent) (DecodedEvent, error) {
	args := abi.Arguments{
		{Name: "sender", Type: mustType("address")},
		{Name: "token", Type: mustType("address")},
		{Name: "vaultId", Type: mustType("bytes32")},
		{Name: "targetAmount", Type: mustType("uint256")},
		{Name: "amount", Type: mustType("uint256")},
	}
	var out struct {
		Sender       common.Address
		Token        common.Address
		VaultId      [32]byte
		TargetAmount *big.Int
		Amount       *big.Int
	}
	if err := unpackInto(ev, args, &out); err != nil {
		return DecodedEvent{}, err
	}
	return DecodedEvent{Kind: KindWithdrawV2, Withdraw: &WithdrawV2{
		Sender: out.Sender, Token: out.Token, VaultID: out.VaultId,
		TargetAmount: bigToBytes32(out.TargetAmount), Amount: bigToBytes32(out.Amount),
	}}, nil
}

func decodeAddOrderV3(ev rawlog.RawEvent) (DecodedEvent, error) {
	if err := requireTopics(ev, 3); err != nil {
		return DecodedEvent{}, err
	}
	sender := addressFromTopic(ev.Topics[1])
	orderHash := ev.Topics[2]

	order, err := unpackOrder(ev, orderHash)
	if err != nil {
		return DecodedEvent{}, err
	}
	return DecodedEvent{Kind: KindAddOrderV3, AddOrder: &AddOrderV3{Sender: sender, Order: order}}, nil
}

func decodeRemoveOrderV3(ev rawlog.RawEvent) (DecodedEvent, error) {
	if err := requireTopics(ev, 3); err != nil {
		return DecodedEvent{}, err
	}
	sender := addressFromTopic(ev.Topics[1])
	orderHash := ev.Topics[2]

	order, err := unpackOrder(ev, orderHash)
	if err != nil {
		return DecodedEvent{}, err
	}
	return DecodedEvent{Kind: KindRemoveOrderV3, RemoveOrder: &RemoveOrderV3{Sender: sender, Order: order}}, nil
}

func unpackOrder(ev rawlog.RawEvent, orderHash common.Hash) (Order, error) {
	args := abi.Arguments{{Name: "order", Type: orderType()}}
	vals, err := args.Unpack(ev.Data)
	if err != nil || len(vals) != 1 {
		return Order{}, &Error{TxHash: ev.TxHash, LogIndex: ev.LogIndex, Reason: "unpack order: " + errString(err)}
	}
	var decoded abiOrder
	if err := args.Copy(&decoded, vals); err != nil {
		return Order{}, &Error{TxHash: ev.TxHash, LogIndex: ev.LogIndex, Reason: "copy order: " + err.Error()}
	}

	order := Order{
		Owner:     decoded.Owner,
		Nonce:     decoded.Nonce,
		OrderHash: orderHash,
		Evaluable: Evaluable{
			Interpreter: decoded.Evaluable.Interpreter,
			Store:       decoded.Evaluable.Store,
			Bytecode:    decoded.Evaluable.Bytecode,
		},
	}
	for _, io := range decoded.ValidInputs {
		order.ValidInputs = append(order.ValidInputs, IO{Token: io.Token, VaultID: io.VaultId})
	}
	for _, io := range decoded.ValidOutputs {
		order.ValidOutputs = append(order.ValidOutputs, IO{Token: io.Token, VaultID: io.VaultId})
	}
	return order, nil
}

func decodeTakeOrderV3(ev rawlog.RawEvent) (DecodedEvent, error) {
	if err := requireTopics(ev, 2); err != nil {
		return DecodedEvent{}, err
	}
	sender := addressFromTopic(ev.Topics[1])

	args := abi.Arguments{
		{Name: "order", Type: orderType()},
		{Name: "inputIOIndex", Type: mustType("uint32")},
		{Name: "outputIOIndex", Type: mustType("uint32")},
		{Name: "inputDelta", Type: mustType("bytes32")},
		{Name: "inputRunningBalance", Type: mustType("bytes32")},
		{Name: "outputDelta", Type: mustType("bytes32")},
		{Name: "outputRunningBalance", Type: mustType("bytes32")},
	}
	vals, err := args.Unpack(ev.Data)
	if err != nil || len(vals) != 7 {
		return DecodedEvent{}, &Error{TxHash: ev.TxHash, LogIndex: ev.LogIndex, Reason: "unpack take order: " + errString(err)}
	}

	var flat struct {
		Order                abiOrder
		InputIOIndex         uint32
		OutputIOIndex        uint32
		InputDelta           [32]byte
		InputRunningBalance  [32]byte
		OutputDelta          [32]byte
		OutputRunningBalance [32]byte
	}
	if err := args.Copy(&flat, vals); err != nil {
		return DecodedEvent{}, &Error{TxHash: ev.TxHash, LogIndex: ev.LogIndex, Reason: "copy take order: " + err.Error()}
	}

	order := Order{
		Owner: flat.Order.Owner, Nonce: flat.Order.Nonce,
		Evaluable: Evaluable{
			Interpreter: flat.Order.Evaluable.Interpreter,
			Store:       flat.Order.Evaluable.Store,
			Bytecode:    flat.Order.Evaluable.Bytecode,
		},
	}
	for _, io := range flat.Order.ValidInputs {
		order.ValidInputs = append(order.ValidInputs, IO{Token: io.Token, VaultID: io.VaultId})
	}
	for _, io := range flat.Order.ValidOutputs {
		order.ValidOutputs = append(order.ValidOutputs, IO{Token: io.Token, VaultID: io.VaultId})
	}

	var input, output IO
	if int(flat.InputIOIndex) < len(order.ValidInputs) {
		input = order.ValidInputs[flat.InputIOIndex]
	}
	if int(flat.OutputIOIndex) < len(order.ValidOutputs) {
		output = order.ValidOutputs[flat.OutputIOIndex]
	}

	return DecodedEvent{Kind: KindTakeOrderV3, TakeOrder: &TakeOrderV3{
		Sender: sender,
		Leg:    TakeOrderLeg{Order: order, InputIOIndex: flat.InputIOIndex, OutputIOIndex: flat.OutputIOIndex},
		Input: VaultBalanceChange{
			Owner: order.Owner, Token: input.Token, VaultID: input.VaultID,
			Delta: flat.InputDelta, RunningBalance: flat.InputRunningBalance,
		},
		Output: VaultBalanceChange{
			Owner: order.Owner, Token: output.Token, VaultID: output.VaultID,
			Delta: flat.OutputDelta, RunningBalance: flat.OutputRunningBalance,
		},
	}}, nil
}

func decodeClearV3(ev rawlog.RawEvent) (DecodedEvent, error) {
	if err := requireTopics(ev, 2); err != nil {
		return DecodedEvent{}, err
	}
	sender := addressFromTopic(ev.Topics[1])

	args := abi.Arguments{
		{Name: "aliceOrder", Type: orderType()},
		{Name: "bobOrder", Type: orderType()},
		{Name: "aliceInputIOIndex", Type: mustType("uint32")},
		{Name: "aliceOutputIOIndex", Type: mustType("uint32")},
		{Name: "bobInputIOIndex", Type: mustType("uint32")},
		{Name: "bobOutputIOIndex", Type: mustType("uint32")},
	}
	vals, err := args.Unpack(ev.Data)
	if err != nil || len(vals) != 6 {
		return DecodedEvent{}, &Error{TxHash: ev.TxHash, LogIndex: ev.LogIndex, Reason: "unpack clear: " + errString(err)}
	}

	var flat struct {
		AliceOrder         abiOrder
		BobOrder           abiOrder
		AliceInputIOIndex  uint32
		AliceOutputIOIndex uint32
		BobInputIOIndex    uint32
		BobOutputIOIndex   uint32
	}
	if err := args.Copy(&flat, vals); err != nil {
		return DecodedEvent{}, &Error{TxHash: ev.TxHash, LogIndex: ev.LogIndex, Reason: "copy clear: " + err.Error()}
	}

	return DecodedEvent{Kind: KindClearV3, Clear: &ClearV3{
		Sender:             sender,
		AliceOrder:         toOrder(flat.AliceOrder),
		BobOrder:           toOrder(flat.BobOrder),
		AliceInputIOIndex:  flat.AliceInputIOIndex,
		AliceOutputIOIndex: flat.AliceOutputIOIndex,
		BobInputIOIndex:    flat.BobInputIOIndex,
		BobOutputIOIndex:   flat.BobOutputIOIndex,
	}}, nil
}

func decodeAfterClearV3(ev rawlog.RawEvent) (DecodedEvent, error) {
	if err := requireTopics(ev, 1); err != nil {
		return DecodedEvent{}, err
	}
	args := abi.Arguments{
		{Name: "aliceInput", Type: mustType("bytes32")},
		{Name: "aliceOutput", Type: mustType("bytes32")},
		{Name: "bobInput", Type: mustType("bytes32")},
		{Name: "bobOutput", Type: mustType("bytes32")},
		{Name: "clearerInput", Type: mustType("bytes32")},
		{Name: "clearerOutput", Type: mustType("bytes32")},
	}
	var out struct {
		AliceInput    [32]byte
		AliceOutput   [32]byte
		BobInput      [32]byte
		BobOutput     [32]byte
		ClearerInput  [32]byte
		ClearerOutput [32]byte
	}
	if err := unpackInto(ev, args, &out); err != nil {
		return DecodedEvent{}, err
	}
	clearerIn := out.ClearerInput
	clearerOut := out.ClearerOutput
	return DecodedEvent{Kind: KindAfterClearV3, AfterClear: &AfterClearV3{
		AliceInput:    VaultBalanceChange{Delta: out.AliceInput},
		AliceOutput:   VaultBalanceChange{Delta: out.AliceOutput},
		BobInput:      VaultBalanceChange{Delta: out.BobInput},
		BobOutput:     VaultBalanceChange{Delta: out.BobOutput},
		ClearerInput:  &VaultBalanceChange{Delta: clearerIn},
		ClearerOutput: &VaultBalanceChange{Delta: clearerOut},
	}}, nil
}

func decodeInterpreterStoreSet(ev rawlog.RawEvent) (DecodedEvent, error) {
	args := abi.Arguments{
		{Name: "namespace", Type: mustType("bytes32")},
		{Name: "key", Type: mustType("bytes32")},
		{Name: "value", Type: mustType("bytes32")},
	}
	var out struct {
		Namespace [32]byte
		Key       [32]byte
		Value     [32]byte
	}
	if err := unpackInto(ev, args, &out); err != nil {
		return DecodedEvent{}, err
	}
	return DecodedEvent{Kind: KindInterpreterStoreSet, StoreSet: &InterpreterStoreSet{
		StoreAddress: ev.Address, Namespace: out.Namespace, Key: out.Key, Value: out.Value,
	}}, nil
}

func decodeMetaV1_2(ev rawlog.RawEvent) (DecodedEvent, error) {
	if err := requireTopics(ev, 2); err != nil {
		return DecodedEvent{}, err
	}
	subject := ev.Topics[1]
	args := abi.Arguments{{Name: "meta", Type: mustType("bytes")}}
	vals, err := args.Unpack(ev.Data)
	if err != nil || len(vals) != 1 {
		return DecodedEvent{}, &Error{TxHash: ev.TxHash, LogIndex: ev.LogIndex, Reason: "unpack meta: " + errString(err)}
	}
	b, _ := vals[0].([]byte)
	return DecodedEvent{Kind: KindMetaV1_2, Meta: &MetaV1_2{Subject: subject, MetaKind: "order", Bytes: b}}, nil
}

func toOrder(a abiOrder) Order {
	o := Order{
		Owner: a.Owner, Nonce: a.Nonce,
		Evaluable: Evaluable{Interpreter: a.Evaluable.Interpreter, Store: a.Evaluable.Store, Bytecode: a.Evaluable.Bytecode},
	}
	for _, io := range a.ValidInputs {
		o.ValidInputs = append(o.ValidInputs, IO{Token: io.Token, VaultID: io.VaultId})
	}
	for _, io := range a.ValidOutputs {
		o.ValidOutputs = append(o.ValidOutputs, IO{Token: io.Token, VaultID: io.VaultId})
	}
	return o
}

func unpackInto(ev rawlog.RawEvent, args abi.Arguments, dst interface{}) error {
	vals, err := args.Unpack(ev.Data)
	if err != nil {
		return &Error{TxHash: ev.TxHash, LogIndex: ev.LogIndex, Reason: "unpack: " + err.Error()}
	}
	if err := args.Copy(dst, vals); err != nil {
		return &Error{TxHash: ev.TxHash, LogIndex: ev.LogIndex, Reason: "copy: " + err.Error()}
	}
	return nil
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// bigToBytes32 big-endian encodes an unsigned on-chain integer (e.g. a raw
// DepositV2/WithdrawV2 amount) into a 32-byte word.
func bigToBytes32(v *big.Int) [32]byte {
	var out [32]byte
	if v == nil {
		return out
	}
	b := v.Bytes()
	copy(out[32-len(b):], b)
	return out
}

func errString(err error) string {
	if err == nil {
		return "nil values"
	}
	return err.Error()
}
