package takeorders

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rainlanguage/raindex/internal/decode"
	"github.com/rainlanguage/raindex/internal/quote"
)

var (
	orderbookAddr = common.HexToAddress("0x1010101010101010101010101010101010101010")
	multicallAddr = common.HexToAddress("0x2020202020202020202020202020202020202020")
	sellTokenAddr = common.HexToAddress("0x3030303030303030303030303030303030303030")
	buyTokenAddr  = common.HexToAddress("0x4040404040404040404040404040404040404040")
)

func sampleLeg(owner common.Address) Leg {
	return Leg{
		Order: decode.Order{
			Owner: owner,
			Evaluable: decode.Evaluable{
				Interpreter: common.HexToAddress("0x5050505050505050505050505050505050505050"),
				Store:       common.HexToAddress("0x6060606060606060606060606060606060606060"),
				Bytecode:    []byte{0x01},
			},
			ValidInputs:  []decode.IO{{Token: sellTokenAddr}},
			ValidOutputs: []decode.IO{{Token: buyTokenAddr}},
		},
		InputIOIndex:  0,
		OutputIOIndex: 0,
	}
}

func packQuoteOutput(t *testing.T, exists bool, maxOutput, ratio *big.Int) []byte {
	t.Helper()
	boolTy, _ := abi.NewType("bool", "", nil)
	u256Ty, _ := abi.NewType("uint256", "", nil)
	args := abi.Arguments{{Type: boolTy}, {Type: u256Ty}, {Type: u256Ty}}
	b, err := args.Pack(exists, maxOutput, ratio)
	if err != nil {
		t.Fatalf("pack quote output: %v", err)
	}
	return b
}

type aggResult struct {
	Success    bool
	ReturnData []byte
}

func packAggregate3Results(t *testing.T, results []aggResult) []byte {
	t.Helper()
	resultType, err := abi.NewType("tuple[]", "", []abi.ArgumentMarshaling{
		{Name: "success", Type: "bool"},
		{Name: "returnData", Type: "bytes"},
	})
	if err != nil {
		t.Fatalf("build result type: %v", err)
	}
	args := abi.Arguments{{Type: resultType}}
	b, err := args.Pack(results)
	if err != nil {
		t.Fatalf("pack aggregate3 results: %v", err)
	}
	return b
}

type fakeCandidates struct {
	legs map[common.Address][]Leg
}

func (f *fakeCandidates) FindLegs(ctx context.Context, chainID uint32, sell, buy common.Address) (map[common.Address][]Leg, error) {
	return f.legs, nil
}

type fakeQuoteCaller struct {
	response []byte
	err      error
}

func (f *fakeQuoteCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	return f.response, f.err
}

type fakeAllowance struct {
	current *big.Int
}

func (f *fakeAllowance) Allowance(ctx context.Context, owner, spender, token common.Address) (*big.Int, error) {
	return f.current, nil
}

type fakeSimulator struct {
	// failForLegCount reports whether calldata encoding a leg count in this
	// set should fail; keyed by leg count so tests can force a revert for a
	// specific candidate-set size without fully unpacking calldata.
	failForLegCount map[int]bool
	calls           int
}

func (f *fakeSimulator) Simulate(ctx context.Context, orderbook common.Address, calldata []byte) error {
	f.calls++
	if f.failForLegCount[decodeLegCountFromCalldata(calldata)] {
		return errors.New("simulated revert")
	}
	return nil
}

func newBuilder(legs map[common.Address][]Leg, quoteResp []byte, allowance *big.Int, sim Simulator) *Builder {
	caller := &fakeQuoteCaller{response: quoteResp}
	return &Builder{
		Candidates: &fakeCandidates{legs: legs},
		Quoters: func(ob common.Address) (*quote.Client, error) {
			return quote.NewClient(ob, multicallAddr, nil)
		},
		Caller:    caller,
		Allowance: &fakeAllowance{current: allowance},
		Simulate:  sim,
	}
}

func TestBuildDropsLegsAboveCapAndOrdersBestToWorst(t *testing.T) {
	owner := common.HexToAddress("0x7070707070707070707070707070707070707070")
	legs := []Leg{sampleLeg(owner), sampleLeg(owner), sampleLeg(owner)}

	wad := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	ratio := func(x int64) *big.Int { return new(big.Int).Div(new(big.Int).Mul(big.NewInt(x), wad), big.NewInt(10)) }

	resp := packAggregate3Results(t, []aggResult{
		{Success: true, ReturnData: packQuoteOutput(t, true, big.NewInt(100), ratio(10))}, // 1.0
		{Success: true, ReturnData: packQuoteOutput(t, true, big.NewInt(100), ratio(11))}, // 1.1
		{Success: true, ReturnData: packQuoteOutput(t, true, big.NewInt(100), ratio(13))}, // 1.3, above cap
	})

	priceCap := ratio(12) // 1.2
	builder := newBuilder(map[common.Address][]Leg{orderbookAddr: legs}, resp, new(big.Int).Mul(big.NewInt(1000), wad), &fakeSimulator{})

	req := Request{
		ChainID:   1,
		Taker:     common.HexToAddress("0x8080808080808080808080808080808080808080"),
		SellToken: sellTokenAddr,
		BuyToken:  buyTokenAddr,
		Mode:      BuyUpTo,
		Amount:    big.NewInt(100),
		PriceCap:  priceCap,
	}

	result, err := builder.Build(context.Background(), req, big.NewInt(1000))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(result.Prices) != 2 {
		t.Fatalf("expected 2 legs to survive the price cap, got %d", len(result.Prices))
	}
	if result.Prices[0].Ratio.Cmp(result.Prices[1].Ratio) > 0 {
		t.Fatalf("expected prices ordered best (lowest ratio) to worst")
	}
}

func TestBuildReturnsNeedsApprovalWhenAllowanceInsufficient(t *testing.T) {
	owner := common.HexToAddress("0x9090909090909090909090909090909090909090")
	legs := []Leg{sampleLeg(owner)}

	wad := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	resp := packAggregate3Results(t, []aggResult{
		{Success: true, ReturnData: packQuoteOutput(t, true, big.NewInt(100), wad)},
	})

	builder := newBuilder(map[common.Address][]Leg{orderbookAddr: legs}, resp, big.NewInt(0), &fakeSimulator{})

	amount := new(big.Int).Mul(big.NewInt(100), wad)
	priceCap := new(big.Int).Mul(big.NewInt(2), wad)
	req := Request{
		ChainID:   1,
		Taker:     common.HexToAddress("0xa0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0"),
		SellToken: sellTokenAddr,
		BuyToken:  buyTokenAddr,
		Mode:      SpendUpTo,
		Amount:    amount,
		PriceCap:  priceCap,
	}

	_, err := builder.Build(context.Background(), req, big.NewInt(1000))
	var needsApproval *NeedsApproval
	if !errors.As(err, &needsApproval) {
		t.Fatalf("expected NeedsApproval, got %v", err)
	}
	if needsApproval.Token != sellTokenAddr || needsApproval.Spender != orderbookAddr {
		t.Fatalf("unexpected approval target: %+v", needsApproval)
	}
	if len(needsApproval.Calldata) == 0 {
		t.Fatalf("expected non-empty approve calldata")
	}
}

func TestBuildPrunesLegOnRevertThenSucceeds(t *testing.T) {
	owner := common.HexToAddress("0xb0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0")
	legs := []Leg{sampleLeg(owner), sampleLeg(owner)}

	wad := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	resp := packAggregate3Results(t, []aggResult{
		{Success: true, ReturnData: packQuoteOutput(t, true, big.NewInt(100), wad)},
		{Success: true, ReturnData: packQuoteOutput(t, true, big.NewInt(100), wad)},
	})

	sim := &revertOnceSimulator{revertUntilLegCount: 1}
	builder := newBuilder(map[common.Address][]Leg{orderbookAddr: legs}, resp, new(big.Int).Mul(big.NewInt(1000), wad), sim)

	req := Request{
		ChainID:   1,
		Taker:     common.HexToAddress("0xc0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0c0"),
		SellToken: sellTokenAddr,
		BuyToken:  buyTokenAddr,
		Mode:      BuyUpTo,
		Amount:    big.NewInt(100),
		PriceCap:  new(big.Int).Mul(big.NewInt(2), wad),
	}

	result, err := builder.Build(context.Background(), req, big.NewInt(1000))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(result.Prices) != 1 {
		t.Fatalf("expected preflight to prune down to 1 leg, got %d", len(result.Prices))
	}
}

// revertOnceSimulator fails simulation until the leg count encoded in the
// calldata drops to revertUntilLegCount, exercising the preflight pruning
// loop's binary-isolation search.
type revertOnceSimulator struct {
	revertUntilLegCount int
}

func (s *revertOnceSimulator) Simulate(ctx context.Context, orderbook common.Address, calldata []byte) error {
	legCount := decodeLegCountFromCalldata(calldata)
	if legCount > s.revertUntilLegCount {
		return errors.New("simulated revert")
	}
	return nil
}

// decodeLegCountFromCalldata inspects the ABI-encoded orders array length
// word directly rather than fully unpacking the tuple array, since the test
// only needs the count to decide pass/fail.
func decodeLegCountFromCalldata(calldata []byte) int {
	// selector (4) + head word for the dynamic "orders" offset (32) +
	// the orders array's own length word sits at calldata[4+offset:4+offset+32].
	if len(calldata) < 4+32 {
		return 0
	}
	offset := new(big.Int).SetBytes(calldata[4 : 4+32]).Int64()
	lenStart := 4 + int(offset)
	if lenStart+32 > len(calldata) {
		return 0
	}
	return int(new(big.Int).SetBytes(calldata[lenStart : lenStart+32]).Int64())
}
