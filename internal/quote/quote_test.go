package quote

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rainlanguage/raindex/internal/decode"
)

func sampleConfig() Config {
	return Config{
		Order: decode.Order{
			Owner: common.HexToAddress("0x1111111111111111111111111111111111111111"),
			Evaluable: decode.Evaluable{
				Interpreter: common.HexToAddress("0x2222222222222222222222222222222222222222"),
				Store:       common.HexToAddress("0x3333333333333333333333333333333333333333"),
				Bytecode:    []byte{0x01, 0x02},
			},
			ValidInputs:  []decode.IO{{Token: common.HexToAddress("0x4444444444444444444444444444444444444444")}},
			ValidOutputs: []decode.IO{{Token: common.HexToAddress("0x5555555555555555555555555555555555555555")}},
		},
	}
}

type fakeCaller struct {
	response []byte
	err      error
}

func (c *fakeCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	return c.response, c.err
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(common.HexToAddress("0x6666666666666666666666666666666666666666"), common.HexToAddress("0x7777777777777777777777777777777777777777"), nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestQuoteSingleDecodesExistingQuote(t *testing.T) {
	c := newTestClient(t)

	packedResult, err := c.quoteMethod.Outputs.Pack(true, big.NewInt(1000), big.NewInt(2))
	if err != nil {
		t.Fatalf("pack expected output: %v", err)
	}

	caller := &fakeCaller{response: packedResult}
	quote, failed := c.QuoteSingle(context.Background(), caller, sampleConfig(), nil)
	if failed != nil {
		t.Fatalf("unexpected failure: %v", failed)
	}
	if !quote.Exists || quote.MaxOutput.Cmp(big.NewInt(1000)) != 0 || quote.Ratio.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("unexpected quote: %+v", quote)
	}
}

func TestQuoteSingleNonExistent(t *testing.T) {
	c := newTestClient(t)

	packedResult, err := c.quoteMethod.Outputs.Pack(false, big.NewInt(0), big.NewInt(0))
	if err != nil {
		t.Fatalf("pack expected output: %v", err)
	}

	caller := &fakeCaller{response: packedResult}
	_, failed := c.QuoteSingle(context.Background(), caller, sampleConfig(), nil)
	if failed == nil || failed.Kind != FailedNonExistent {
		t.Fatalf("expected FailedNonExistent, got %+v", failed)
	}
}

func TestQuoteMultiDecodesPerLegIndependently(t *testing.T) {
	c := newTestClient(t)

	okResult, err := c.quoteMethod.Outputs.Pack(true, big.NewInt(500), big.NewInt(1))
	if err != nil {
		t.Fatalf("pack ok result: %v", err)
	}

	aggOutputs, err := c.aggregate3ABI.Methods["aggregate3"].Outputs.Pack([]aggregate3Result{
		{Success: true, ReturnData: okResult},
		{Success: false, ReturnData: []byte{0xde, 0xad, 0xbe, 0xef}},
	})
	if err != nil {
		t.Fatalf("pack aggregate3 outputs: %v", err)
	}

	caller := &fakeCaller{response: aggOutputs}
	quotes, fails := c.QuoteMulti(context.Background(), caller, []Config{sampleConfig(), sampleConfig()}, nil)

	if fails[0] != nil {
		t.Fatalf("expected leg 0 to succeed, got %+v", fails[0])
	}
	if quotes[0].MaxOutput.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected leg 0 max output: %v", quotes[0].MaxOutput)
	}
	if fails[1] == nil || fails[1].Kind != FailedRevertUnknown {
		t.Fatalf("expected leg 1 to be an unknown revert, got %+v", fails[1])
	}
	if fails[1].Selector != [4]byte{0xde, 0xad, 0xbe, 0xef} {
		t.Fatalf("unexpected selector: %x", fails[1].Selector)
	}
}

type fakeRegistry struct{ known map[[4]byte]string }

func (r fakeRegistry) Decode(ctx context.Context, selector [4]byte, data []byte) (string, bool) {
	d, ok := r.known[selector]
	return d, ok
}

func TestQuoteMultiDecodesKnownRevertViaRegistry(t *testing.T) {
	c, err := NewClient(common.HexToAddress("0x6666666666666666666666666666666666666666"),
		common.HexToAddress("0x7777777777777777777777777777777777777777"),
		fakeRegistry{known: map[[4]byte]string{{0xde, 0xad, 0xbe, 0xef}: "TokenSelfTrade()"}})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	aggOutputs, err := c.aggregate3ABI.Methods["aggregate3"].Outputs.Pack([]aggregate3Result{
		{Success: false, ReturnData: []byte{0xde, 0xad, 0xbe, 0xef}},
	})
	if err != nil {
		t.Fatalf("pack aggregate3 outputs: %v", err)
	}

	caller := &fakeCaller{response: aggOutputs}
	_, fails := c.QuoteMulti(context.Background(), caller, []Config{sampleConfig()}, nil)
	if fails[0] == nil || fails[0].Kind != FailedRevertKnown || fails[0].Decoded != "TokenSelfTrade()" {
		t.Fatalf("expected known revert decode, got %+v", fails[0])
	}
}

func TestSortBestToWorstOrdersByAscendingRatio(t *testing.T) {
	legs := []OrderQuote{
		{Ratio: big.NewInt(3)},
		{Ratio: big.NewInt(1)},
		{Ratio: big.NewInt(2)},
	}
	SortBestToWorst(legs)
	if legs[0].Ratio.Cmp(big.NewInt(1)) != 0 || legs[1].Ratio.Cmp(big.NewInt(2)) != 0 || legs[2].Ratio.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("unexpected order: %+v", legs)
	}
}
