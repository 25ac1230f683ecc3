package runner

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/rainlanguage/raindex/internal/chain"
	"github.com/rainlanguage/raindex/internal/erc20"
	"github.com/rainlanguage/raindex/internal/fetch"
	"github.com/rainlanguage/raindex/internal/rawlog"
	"github.com/rainlanguage/raindex/internal/window"
)

type failingManifestClient struct{}

func (failingManifestClient) Do(req *http.Request) (*http.Response, error) {
	return nil, errors.New("network unreachable")
}

func TestRunOnceFailsEveryTargetWhenManifestFetchFails(t *testing.T) {
	r := New(Config{OutRoot: t.TempDir(), ManifestURL: "https://manifest.example/m.yaml"}, Dependencies{
		ManifestClient: failingManifestClient{},
	}, zerolog.Nop())

	targets := []TargetSpec{
		{Target: chain.NewTargetKey(1, common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"))},
		{Target: chain.NewTargetKey(2, common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"))},
	}

	report := r.RunOnce(context.Background(), targets)
	if len(report.Failures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(report.Failures))
	}
	if len(report.Successes) != 0 {
		t.Fatalf("expected 0 successes, got %d", len(report.Successes))
	}
}

type emptyManifestClient struct{}

func (emptyManifestClient) Do(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("schema_version: 1\nchains: {}\n")),
	}, nil
}

type stubRPC struct{}

func (stubRPC) GetLogs(ctx context.Context, address common.Address, from, to uint64) ([]rawlog.RawLog, error) {
	return nil, nil
}
func (stubRPC) GetLatestBlock(ctx context.Context) (uint64, error) { return 100, nil }

type stubCaller struct{}

func (stubCaller) Name(ctx context.Context, token common.Address) (string, error)    { return "", nil }
func (stubCaller) Symbol(ctx context.Context, token common.Address) (string, error)  { return "", nil }
func (stubCaller) Decimals(ctx context.Context, token common.Address) (uint8, error) { return 0, nil }

func TestRunTargetFailsIndividuallyOnRPCError(t *testing.T) {
	outRoot := t.TempDir()
	r := New(Config{OutRoot: outRoot, ManifestURL: "https://manifest.example/m.yaml", Concurrency: 2},
		Dependencies{
			ManifestClient: emptyManifestClient{},
			RPCFor: func(chainID uint32) (fetch.RpcClient, error) {
				if chainID == 1 {
					return nil, errors.New("no rpc configured for chain 1")
				}
				return stubRPC{}, nil
			},
			CallerFor: func(chainID uint32) (erc20.Caller, error) { return stubCaller{}, nil },
			NowMs:     func() int64 { return 1000 },
		}, zerolog.Nop())

	targets := []TargetSpec{
		{Target: chain.NewTargetKey(1, common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")), FetchConfig: fetch.DefaultConfig(), Finality: window.Finality{Depth: 5}},
		{Target: chain.NewTargetKey(2, common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")), FetchConfig: fetch.DefaultConfig(), Finality: window.Finality{Depth: 5}},
	}

	report := r.RunOnce(context.Background(), targets)
	if len(report.Failures) != 1 {
		t.Fatalf("expected exactly 1 failure, got %d: %+v", len(report.Failures), report.Failures)
	}
	if report.Failures[0].Target.ChainID != 1 {
		t.Fatalf("expected chain 1 to fail, got chain %d", report.Failures[0].Target.ChainID)
	}
	if len(report.Successes) != 1 {
		t.Fatalf("expected chain 2 to succeed despite chain 1 failing, got %d successes", len(report.Successes))
	}

	if _, err := os.Stat(WorkingDBPath(outRoot, targets[1].Target)); err != nil {
		t.Fatalf("expected working db file for succeeding target: %v", err)
	}
}
