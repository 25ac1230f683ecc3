// Package decode maps raw logs to typed events via stable topic[0]
// dispatch. Decoding is pure and deterministic: identical log
// bytes always produce an identical DecodedEvent.
package decode

import (
	"github.com/ethereum/go-ethereum/common"
)

// IO is one entry of an order's valid_inputs/valid_outputs list.
type IO struct {
	Token   common.Address
	VaultID [32]byte
}

// Evaluable is the (interpreter, store, bytecode) triple an order executes.
type Evaluable struct {
	Interpreter common.Address
	Store       common.Address
	Bytecode    []byte
}

// Order is the limit-order descriptor decoded from AddOrderV3/RemoveOrderV3.
type Order struct {
	Owner        common.Address
	Nonce        [32]byte
	Evaluable    Evaluable
	ValidInputs  []IO
	ValidOutputs []IO
	OrderHash    common.Hash
}

// VaultBalanceChange is one side of a trade: a signed delta plus the
// running balance after applying it.
type VaultBalanceChange struct {
	Owner          common.Address
	Token          common.Address
	VaultID        [32]byte
	Delta          [32]byte // packed Float, signed
	RunningBalance [32]byte
}

// Kind tags which ABI event a DecodedEvent payload came from.
type Kind int

const (
	KindUnknown Kind = iota
	KindDepositV2
	KindWithdrawV2
	KindAddOrderV3
	KindRemoveOrderV3
	KindTakeOrderV3
	KindClearV3
	KindAfterClearV3
	KindInterpreterStoreSet
	KindMetaV1_2
)

func (k Kind) String() string {
	switch k {
	case KindDepositV2:
		return "DepositV2"
	case KindWithdrawV2:
		return "WithdrawV2"
	case KindAddOrderV3:
		return "AddOrderV3"
	case KindRemoveOrderV3:
		return "RemoveOrderV3"
	case KindTakeOrderV3:
		return "TakeOrderV3"
	case KindClearV3:
		return "ClearV3"
	case KindAfterClearV3:
		return "AfterClearV3"
	case KindInterpreterStoreSet:
		return "InterpreterStoreSet"
	case KindMetaV1_2:
		return "MetaV1_2"
	default:
		return "Unknown"
	}
}

// DepositV2 payload.
type DepositV2 struct {
	Sender  common.Address
	Token   common.Address
	VaultID [32]byte
	Amount  [32]byte
}

// WithdrawV2 payload.
type WithdrawV2 struct {
	Sender       common.Address
	Token        common.Address
	VaultID      [32]byte
	TargetAmount [32]byte
	Amount       [32]byte
}

// AddOrderV3 payload.
type AddOrderV3 struct {
	Sender common.Address
	Order  Order
}

// RemoveOrderV3 payload.
type RemoveOrderV3 struct {
	Sender common.Address
	Order  Order
}

// TakeOrderLeg identifies one leg consumed within a TakeOrderV3 event.
type TakeOrderLeg struct {
	Order          Order
	InputIOIndex   uint32
	OutputIOIndex  uint32
}

// TakeOrderV3 payload.
type TakeOrderV3 struct {
	Sender  common.Address
	Leg     TakeOrderLeg
	Input   VaultBalanceChange
	Output  VaultBalanceChange
}

// ClearV3 payload: the pairing of two orders (alice/bob) cleared against
// each other.
type ClearV3 struct {
	Sender    common.Address
	AliceOrder Order
	BobOrder   Order
	AliceInputIOIndex  uint32
	AliceOutputIOIndex uint32
	BobInputIOIndex    uint32
	BobOutputIOIndex   uint32
}

// AfterClearV3 carries the resulting balance changes for both sides of a
// Clear, including bounty transfers to the clearer.
type AfterClearV3 struct {
	Sender       common.Address
	AliceInput   VaultBalanceChange
	AliceOutput  VaultBalanceChange
	BobInput     VaultBalanceChange
	BobOutput    VaultBalanceChange
	ClearerInput  *VaultBalanceChange
	ClearerOutput *VaultBalanceChange
}

// InterpreterStoreSet payload: one (namespace,key)->value write.
type InterpreterStoreSet struct {
	StoreAddress common.Address
	Namespace    [32]byte
	Key          [32]byte
	Value        [32]byte
}

// MetaV1_2 carries raw CBOR-prefixed metadata bytes for an order or subject;
// CBOR normalization itself is out of scope so only the raw bytes
// and a coarse kind discriminant are retained.
type MetaV1_2 struct {
	Subject  [32]byte
	MetaKind string
	Bytes    []byte
}

// Unknown preserves the raw context of a log whose topic[0] did not match
// any known event signature, so downstream address collectors still see it.
type Unknown struct {
	Topic0 common.Hash
	Data   []byte
}

// DecodedEvent is the tagged union over the orderbook ABI. Exactly one of
// the typed fields is populated, selected by Kind; large variants (Order,
// bytecode) live behind pointers to keep the struct from ballooning.
type DecodedEvent struct {
	Kind Kind

	Deposit       *DepositV2
	Withdraw      *WithdrawV2
	AddOrder      *AddOrderV3
	RemoveOrder   *RemoveOrderV3
	TakeOrder     *TakeOrderV3
	Clear         *ClearV3
	AfterClear    *AfterClearV3
	StoreSet      *InterpreterStoreSet
	Meta          *MetaV1_2
	UnknownEvent  *Unknown
}
