package decode

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Event signature hashes (topic[0]). The canonical Solidity signatures below
// mirror IOrderBookV4's emitted events; the exact argument ordering is this
// module's own stable contract since the upstream ABI JSON isn't part of the
// retrieved corpus — what matters for determinism is that the
// same bytes always decode to the same DecodedEvent, which holds regardless.
var (
	sigDepositV2           = eventTopic("DepositV2(address,address,bytes32,uint256)")
	sigWithdrawV2          = eventTopic("WithdrawV2(address,address,bytes32,uint256,uint256)")
	sigAddOrderV3          = eventTopic("AddOrderV3(address,bytes32,(address,bytes32,(address,address,bytes),(address,bytes32)[],(address,bytes32)[]))")
	sigRemoveOrderV3       = eventTopic("RemoveOrderV3(address,bytes32,(address,bytes32,(address,address,bytes),(address,bytes32)[],(address,bytes32)[]))")
	sigTakeOrderV3         = eventTopic("TakeOrderV3(address,(address,bytes32,(address,address,bytes),(address,bytes32)[],(address,bytes32)[]),uint32,uint32,bytes32,bytes32,bytes32,bytes32)")
	sigClearV3             = eventTopic("ClearV3(address,(address,bytes32,(address,address,bytes),(address,bytes32)[],(address,bytes32)[]),(address,bytes32,(address,address,bytes),(address,bytes32)[],(address,bytes32)[]),uint32,uint32,uint32,uint32)")
	sigAfterClearV3        = eventTopic("AfterClearV3(address,bytes32,bytes32,bytes32,bytes32,bytes32,bytes32)")
	sigInterpreterStoreSet = eventTopic("Set(bytes32,bytes32,bytes32)")
	sigMetaV1_2            = eventTopic("MetaV1_2(address,bytes32,bytes)")
)

func eventTopic(signature string) common.Hash {
	return crypto.Keccak256Hash([]byte(signature))
}

// orderType is the full order tuple: owner, nonce, evaluable, validInputs[], validOutputs[].
func orderType() abi.Type {
	t, _ := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "owner", Type: "address"},
		{Name: "nonce", Type: "bytes32"},
		{Name: "evaluable", Type: "tuple", Components: []abi.ArgumentMarshaling{
			{Name: "interpreter", Type: "address"},
			{Name: "store", Type: "address"},
			{Name: "bytecode", Type: "bytes"},
		}},
		{Name: "validInputs", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
			{Name: "token", Type: "address"},
			{Name: "vaultId", Type: "bytes32"},
		}},
		{Name: "validOutputs", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
			{Name: "token", Type: "address"},
			{Name: "vaultId", Type: "bytes32"},
		}},
	})
	return t
}

// abiIO/abiEvaluable/abiOrder are the Go-side mirrors go-ethereum's abi
// package unpacks tuples into; field names must match the component Name
// with an initial capital letter.
type abiIO struct {
	Token   common.Address
	VaultId [32]byte
}

type abiEvaluable struct {
	Interpreter common.Address
	Store       common.Address
	Bytecode    []byte
}

type abiOrder struct {
	Owner        common.Address
	Nonce        [32]byte
	Evaluable    abiEvaluable
	ValidInputs  []abiIO
	ValidOutputs []abiIO
}
