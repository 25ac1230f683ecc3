package vraindex

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rainlanguage/raindex/internal/chain"
	"github.com/rainlanguage/raindex/internal/decode"
)

type fakeHost struct {
	result EvalResult
	err    error
	calls  int
}

func (h *fakeHost) Eval4(ctx context.Context, call EvalV4Call, snapshot map[common.Hash]common.Hash, env chain.Env) (EvalResult, error) {
	h.calls++
	return h.result, h.err
}

func newEngine(t *testing.T, host Host) *Engine {
	t.Helper()
	cache := NewCodeCache(func(ctx context.Context, addr common.Address) ([]byte, error) {
		return []byte{0xde, 0xad}, nil
	})
	return New(common.HexToAddress("0x9999999999999999999999999999999999999999"), cache, host)
}

func sampleOrder(owner common.Address) decode.Order {
	return decode.Order{
		Owner: owner,
		Evaluable: decode.Evaluable{
			Interpreter: common.HexToAddress("0x1111111111111111111111111111111111111111"),
			Store:       common.HexToAddress("0x2222222222222222222222222222222222222222"),
		},
	}
}

func TestNamespaceDeterministic(t *testing.T) {
	owner := common.HexToAddress("0x3333333333333333333333333333333333333333")
	orderbook := common.HexToAddress("0x4444444444444444444444444444444444444444")

	n1, err := Namespace(owner, orderbook)
	if err != nil {
		t.Fatalf("namespace: %v", err)
	}
	n2, err := Namespace(owner, orderbook)
	if err != nil {
		t.Fatalf("namespace: %v", err)
	}
	if n1 != n2 {
		t.Fatal("expected namespace derivation to be deterministic")
	}

	otherOwner := common.HexToAddress("0x5555555555555555555555555555555555555555")
	n3, err := Namespace(otherOwner, orderbook)
	if err != nil {
		t.Fatalf("namespace: %v", err)
	}
	if n1 == n3 {
		t.Fatal("expected different owners to produce different namespaces")
	}
}

func TestEvalRejectsUnpairedWrites(t *testing.T) {
	host := &fakeHost{result: EvalResult{Writes: []common.Hash{{1}, {2}, {3}}}}
	engine := newEngine(t, host)

	owner := common.HexToAddress("0x6666666666666666666666666666666666666666")
	_, err := engine.Eval(context.Background(), sampleOrder(owner), 0, nil)
	if err != ErrUnpairedStoreWrite {
		t.Fatalf("expected ErrUnpairedStoreWrite, got %v", err)
	}
}

func TestEvalMaterializesPairedWritesIntoCanonicalNamespace(t *testing.T) {
	key := common.Hash{0xAA}
	value := common.Hash{0xBB}
	host := &fakeHost{result: EvalResult{Writes: []common.Hash{key, value}}}
	engine := newEngine(t, host)

	owner := common.HexToAddress("0x7777777777777777777777777777777777777777")
	order := sampleOrder(owner)

	if _, err := engine.Eval(context.Background(), order, 0, nil); err != nil {
		t.Fatalf("eval: %v", err)
	}

	fqn, err := Namespace(owner, engine.Orderbook)
	if err != nil {
		t.Fatalf("namespace: %v", err)
	}
	snapshot := engine.Snapshot(chain.TargetKey{})
	found := false
	for _, entry := range snapshot.Store {
		if entry.Store == order.Evaluable.Store && entry.Namespace == fqn && entry.Key == key && entry.Value == value {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected materialized write in snapshot, got %+v", snapshot.Store)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	host := &fakeHost{}
	engine := newEngine(t, host)

	owner := common.HexToAddress("0x8888888888888888888888888888888888888888")
	orders := []decode.Order{sampleOrder(owner)}
	engine.Apply(SetOrders(orders), SetEnv(chain.Env{BlockNumber: 42, Timestamp: 1000}))

	bundle := engine.Snapshot(chain.TargetKey{ChainID: 137})

	restored := newEngine(t, host)
	restored.Load(bundle)

	if restored.Env().BlockNumber != 42 {
		t.Fatalf("expected restored block number 42, got %d", restored.Env().BlockNumber)
	}
	if len(restored.Orders()) != 1 {
		t.Fatalf("expected 1 restored order, got %d", len(restored.Orders()))
	}
}

func TestBatchAppliesMutationsInOrder(t *testing.T) {
	host := &fakeHost{}
	engine := newEngine(t, host)

	engine.Apply(Batch(
		SetEnv(chain.Env{BlockNumber: 1}),
		SetEnv(chain.Env{BlockNumber: 2}),
	))
	if engine.Env().BlockNumber != 2 {
		t.Fatalf("expected last mutation to win, got %d", engine.Env().BlockNumber)
	}
}
