// Package collect implements the address collectors: pure
// functions deriving the ordered, deduplicated sets of ERC-20 token and
// interpreter-store addresses referenced by a batch of decoded events, used
// to drive the token metadata fetcher and the store-address log fetch.
package collect

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/rainlanguage/raindex/internal/decode"
)

// CollectTokenAddresses returns the ordered unique set of ERC-20 addresses
// referenced by deposit/withdraw tokens and by every valid_input/valid_output
// inside any order encountered, including both sides of a Clear.
func CollectTokenAddresses(events []decode.DecodedEvent) []common.Address {
	seen := make(map[common.Address]struct{})
	var out []common.Address
	add := func(a common.Address) {
		if a == (common.Address{}) {
			return
		}
		if _, ok := seen[a]; ok {
			return
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	addOrderIOs := func(o decode.Order) {
		for _, io := range o.ValidInputs {
			add(io.Token)
		}
		for _, io := range o.ValidOutputs {
			add(io.Token)
		}
	}

	for _, ev := range events {
		switch ev.Kind {
		case decode.KindDepositV2:
			add(ev.Deposit.Token)
		case decode.KindWithdrawV2:
			add(ev.Withdraw.Token)
		case decode.KindAddOrderV3:
			addOrderIOs(ev.AddOrder.Order)
		case decode.KindRemoveOrderV3:
			addOrderIOs(ev.RemoveOrder.Order)
		case decode.KindTakeOrderV3:
			addOrderIOs(ev.TakeOrder.Leg.Order)
		case decode.KindClearV3:
			addOrderIOs(ev.Clear.AliceOrder)
			addOrderIOs(ev.Clear.BobOrder)
		}
	}
	return out
}

// CollectStoreAddresses returns the ordered unique set of interpreter-store
// addresses referenced by any order's evaluable.store, plus every
// InterpreterStoreSet.store_address encountered.
func CollectStoreAddresses(events []decode.DecodedEvent) []common.Address {
	seen := make(map[common.Address]struct{})
	var out []common.Address
	add := func(a common.Address) {
		if a == (common.Address{}) {
			return
		}
		if _, ok := seen[a]; ok {
			return
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}

	for _, ev := range events {
		switch ev.Kind {
		case decode.KindAddOrderV3:
			add(ev.AddOrder.Order.Evaluable.Store)
		case decode.KindRemoveOrderV3:
			add(ev.RemoveOrder.Order.Evaluable.Store)
		case decode.KindTakeOrderV3:
			add(ev.TakeOrder.Leg.Order.Evaluable.Store)
		case decode.KindClearV3:
			add(ev.Clear.AliceOrder.Evaluable.Store)
			add(ev.Clear.BobOrder.Evaluable.Store)
		case decode.KindInterpreterStoreSet:
			add(ev.StoreSet.StoreAddress)
		}
	}
	return out
}
