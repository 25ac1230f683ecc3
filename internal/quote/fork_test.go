package quote

import (
	"context"
	"math/big"
	"testing"

	"github.com/rainlanguage/raindex/internal/forkcache"
)

func TestForkSingleQuoteReusesCachedFork(t *testing.T) {
	c := newTestClient(t)
	cache := forkcache.New()

	packedResult, err := c.quoteMethod.Outputs.Pack(true, big.NewInt(10), big.NewInt(1))
	if err != nil {
		t.Fatalf("pack expected output: %v", err)
	}

	factoryCalls := 0
	factory := func(ctx context.Context, rpc string, block uint64) (ContractCaller, error) {
		factoryCalls++
		return &fakeCaller{response: packedResult}, nil
	}

	if _, failed := c.ForkSingleQuote(context.Background(), cache, factory, "https://rpc.example", 100, sampleConfig()); failed != nil {
		t.Fatalf("unexpected failure: %v", failed)
	}
	if _, failed := c.ForkSingleQuote(context.Background(), cache, factory, "https://rpc.example", 100, sampleConfig()); failed != nil {
		t.Fatalf("unexpected failure: %v", failed)
	}

	if factoryCalls != 1 {
		t.Fatalf("expected factory to run once across both calls, ran %d times", factoryCalls)
	}
}
