// Package vraindex implements the virtual Raindex engine: an in-memory
// projection of one orderbook's orders and interpreter store state, used to
// simulate `eval4` calls without touching a live chain. Mutations replace
// or merge state; SnapshotBundle serializes the whole engine for transport
// between processes (e.g. a quote worker pool sharing one warmed-up cache).
package vraindex

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rainlanguage/raindex/internal/chain"
	"github.com/rainlanguage/raindex/internal/decode"
)

// ErrUnpairedStoreWrite is returned when a host's eval4 result carries an
// odd number of write words; writes are always (key, value) pairs.
var ErrUnpairedStoreWrite = errors.New("vraindex: unpaired store write")

// StoreKey addresses one interpreter store slot: the store contract, the
// order's canonical namespace within it, and the slot key.
type StoreKey struct {
	Store     common.Address
	Namespace common.Hash
	Key       common.Hash
}

// Namespace returns the canonical fully qualified namespace for an order
// owned by owner and evaluated against orderbook:
// keccak256(abi.encode(uint256(owner), orderbook)).
func Namespace(owner, orderbook common.Address) (common.Hash, error) {
	uint256Ty, err := abi.NewType("uint256", "", nil)
	if err != nil {
		return common.Hash{}, err
	}
	addressTy, err := abi.NewType("address", "", nil)
	if err != nil {
		return common.Hash{}, err
	}
	args := abi.Arguments{{Type: uint256Ty}, {Type: addressTy}}

	packed, err := args.Pack(owner.Hash().Big(), orderbook)
	if err != nil {
		return common.Hash{}, fmt.Errorf("vraindex: pack namespace args: %w", err)
	}
	return crypto.Keccak256Hash(packed), nil
}

// EvalV4Call is the host call contract for one interpreter evaluation.
type EvalV4Call struct {
	Interpreter common.Address
	Namespace   common.Hash
	Bytecode    []byte
	SourceIndex uint32
	Context     [][32]byte
}

// EvalResult is what a Host returns: the final stack and the raw write
// words, still unpaired at this layer.
type EvalResult struct {
	Stack  []common.Hash
	Writes []common.Hash
}

// Host is the injected interpreter: the real implementation runs a forked
// EVM (see internal/replay); tests and the quote engine's dry paths can
// supply a pure-Go fake.
type Host interface {
	Eval4(ctx context.Context, call EvalV4Call, storeSnapshot map[common.Hash]common.Hash, env chain.Env) (EvalResult, error)
}

// CodeCache holds interpreter/store bytecode keyed by contract address,
// loaded lazily on first reference and shared by every reader; writes are
// serialized by mu, and reads return the cached slice itself, not a copy.
// Concurrent first references to the same address each call loader.
type CodeCache struct {
	mu     sync.Mutex
	code   map[common.Address][]byte
	loader func(ctx context.Context, addr common.Address) ([]byte, error)
}

func NewCodeCache(loader func(ctx context.Context, addr common.Address) ([]byte, error)) *CodeCache {
	return &CodeCache{code: make(map[common.Address][]byte), loader: loader}
}

// EnsureLoaded returns addr's bytecode, fetching and caching it via loader
// on first reference.
func (c *CodeCache) EnsureLoaded(ctx context.Context, addr common.Address) ([]byte, error) {
	c.mu.Lock()
	if code, ok := c.code[addr]; ok {
		c.mu.Unlock()
		return code, nil
	}
	c.mu.Unlock()

	code, err := c.loader(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("vraindex: load code for %s: %w", addr.Hex(), err)
	}

	c.mu.Lock()
	c.code[addr] = code
	c.mu.Unlock()
	return code, nil
}

// StoreEntry is one row of a SnapshotBundle's flattened store map.
type StoreEntry struct {
	Store     common.Address
	Namespace common.Hash
	Key       common.Hash
	Value     common.Hash
}

// SnapshotBundle is the wire form of an Engine's state: everything needed
// to reconstruct it, except the code cache (re-populated lazily via
// EnsureLoaded on first reference after load).
type SnapshotBundle struct {
	Target chain.TargetKey
	Orders []decode.Order
	Store  []StoreEntry
	Env    chain.Env
}

// Engine holds one orderbook's simulated state: its orders, the flattened
// interpreter store, the block/timestamp context evaluations run under, a
// shared code cache, and the host that actually executes bytecode.
type Engine struct {
	Orderbook common.Address

	mu     sync.RWMutex
	orders []decode.Order
	store  map[StoreKey]common.Hash
	env    chain.Env

	codeCache *CodeCache
	host      Host
}

func New(orderbook common.Address, codeCache *CodeCache, host Host) *Engine {
	return &Engine{Orderbook: orderbook, store: make(map[StoreKey]common.Hash), codeCache: codeCache, host: host}
}

// Mutation is a recursively composable state change; Batch applies a list
// of them in order.
type Mutation interface {
	apply(e *Engine)
}

type setOrders struct{ orders []decode.Order }

func SetOrders(orders []decode.Order) Mutation { return setOrders{orders: orders} }
func (m setOrders) apply(e *Engine)             { e.orders = m.orders }

type setEnv struct{ env chain.Env }

func SetEnv(env chain.Env) Mutation { return setEnv{env: env} }
func (m setEnv) apply(e *Engine)    { e.env = m.env }

type applyStoreWrites struct{ writes map[StoreKey]common.Hash }

// ApplyStoreWrites merges writesByKey into the store, overwriting any
// existing value at each key.
func ApplyStoreWrites(writesByKey map[StoreKey]common.Hash) Mutation {
	return applyStoreWrites{writes: writesByKey}
}
func (m applyStoreWrites) apply(e *Engine) {
	for k, v := range m.writes {
		e.store[k] = v
	}
}

type batch struct{ mutations []Mutation }

// Batch composes multiple mutations into one, applied in order; a Batch of
// Batches is valid and flattens naturally since apply just recurses.
func Batch(mutations ...Mutation) Mutation { return batch{mutations: mutations} }
func (m batch) apply(e *Engine) {
	for _, mutation := range m.mutations {
		mutation.apply(e)
	}
}

// Apply runs one or more mutations against the engine's state under its
// write lock.
func (e *Engine) Apply(mutations ...Mutation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, m := range mutations {
		m.apply(e)
	}
}

// Orders returns a copy of the engine's current order set.
func (e *Engine) Orders() []decode.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]decode.Order, len(e.orders))
	copy(out, e.orders)
	return out
}

// Env returns the engine's current execution environment.
func (e *Engine) Env() chain.Env {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.env
}

// Eval runs one host evaluation for order under the engine's current
// store/env, projecting the store to the order's canonical namespace
// beforehand and materializing any resulting writes back into the
// canonical map afterward.
func (e *Engine) Eval(ctx context.Context, order decode.Order, sourceIndex uint32, evalContext [][32]byte) (EvalResult, error) {
	fqn, err := Namespace(order.Owner, e.Orderbook)
	if err != nil {
		return EvalResult{}, err
	}

	code, err := e.codeCache.EnsureLoaded(ctx, order.Evaluable.Interpreter)
	if err != nil {
		return EvalResult{}, err
	}

	e.mu.RLock()
	snapshot := e.projectStore(order.Evaluable.Store, fqn)
	env := e.env
	e.mu.RUnlock()

	result, err := e.host.Eval4(ctx, EvalV4Call{
		Interpreter: order.Evaluable.Interpreter,
		Namespace:   fqn,
		Bytecode:    code,
		SourceIndex: sourceIndex,
		Context:     evalContext,
	}, snapshot, env)
	if err != nil {
		return EvalResult{}, err
	}

	if len(result.Writes)%2 != 0 {
		return EvalResult{}, ErrUnpairedStoreWrite
	}

	writes := make(map[StoreKey]common.Hash, len(result.Writes)/2)
	for i := 0; i+1 < len(result.Writes); i += 2 {
		key := StoreKey{Store: order.Evaluable.Store, Namespace: fqn, Key: result.Writes[i]}
		writes[key] = result.Writes[i+1]
	}
	e.Apply(ApplyStoreWrites(writes))

	return result, nil
}

// projectStore must be called with e.mu held (read or write) — it builds
// the namespace-scoped view the host sees, keyed by slot key only.
func (e *Engine) projectStore(store common.Address, fqn common.Hash) map[common.Hash]common.Hash {
	projected := make(map[common.Hash]common.Hash)
	for k, v := range e.store {
		if k.Store == store && k.Namespace == fqn {
			projected[k.Key] = v
		}
	}
	return projected
}

// Snapshot serializes the engine's current state into a SnapshotBundle.
func (e *Engine) Snapshot(target chain.TargetKey) SnapshotBundle {
	e.mu.RLock()
	defer e.mu.RUnlock()

	orders := make([]decode.Order, len(e.orders))
	copy(orders, e.orders)

	entries := make([]StoreEntry, 0, len(e.store))
	for k, v := range e.store {
		entries = append(entries, StoreEntry{Store: k.Store, Namespace: k.Namespace, Key: k.Key, Value: v})
	}

	return SnapshotBundle{Target: target, Orders: orders, Store: entries, Env: e.env}
}

// Load replaces the engine's state wholesale from a snapshot. Bytecode is
// not re-fetched here; the next Eval call re-populates the shared code
// cache lazily via EnsureLoaded.
func (e *Engine) Load(bundle SnapshotBundle) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.orders = make([]decode.Order, len(bundle.Orders))
	copy(e.orders, bundle.Orders)

	e.store = make(map[StoreKey]common.Hash, len(bundle.Store))
	for _, entry := range bundle.Store {
		e.store[StoreKey{Store: entry.Store, Namespace: entry.Namespace, Key: entry.Key}] = entry.Value
	}

	e.env = bundle.Env
}
