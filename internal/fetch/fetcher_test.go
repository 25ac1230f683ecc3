package fetch

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/rainlanguage/raindex/internal/rawlog"
)

type fakeRPC struct {
	calls       int32
	failFirstN  int32
	windowLogs  map[[2]uint64][]rawlog.RawLog
	latest      uint64
	providerErr bool
}

func (f *fakeRPC) GetLogs(ctx context.Context, address common.Address, from, to uint64) ([]rawlog.RawLog, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if f.providerErr {
		return nil, &ProviderError{Window: [2]uint64{from, to}, Err: context.DeadlineExceeded}
	}
	if n <= f.failFirstN {
		return nil, context.DeadlineExceeded
	}
	return f.windowLogs[[2]uint64{from, to}], nil
}

func (f *fakeRPC) GetLatestBlock(ctx context.Context) (uint64, error) { return f.latest, nil }

func TestFetchPartitionsAndOrders(t *testing.T) {
	rpc := &fakeRPC{
		windowLogs: map[[2]uint64][]rawlog.RawLog{
			{0, 9}:  {{BlockNumber: 5, LogIndex: 1}, {BlockNumber: 2, LogIndex: 0}},
			{10, 19}: {{BlockNumber: 15, LogIndex: 0}},
		},
	}
	f := New(rpc, Config{MaxBlockRange: 10, Concurrency: 4, MaxRetries: 2}, zerolog.Nop())

	logs, err := f.Fetch(context.Background(), common.Address{}, 0, 19)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected 3 logs, got %d", len(logs))
	}
	for i := 1; i < len(logs); i++ {
		if logs[i].BlockNumber < logs[i-1].BlockNumber {
			t.Fatalf("logs not ordered by block number: %+v", logs)
		}
	}
}

func TestFetchNoOpWhenStartAfterEnd(t *testing.T) {
	f := New(&fakeRPC{}, DefaultConfig(), zerolog.Nop())
	logs, err := f.Fetch(context.Background(), common.Address{}, 100, 50)
	if err != nil || logs != nil {
		t.Fatalf("expected nil,nil for start>end, got %v,%v", logs, err)
	}
}

func TestFetchRetriesTransientErrors(t *testing.T) {
	rpc := &fakeRPC{failFirstN: 2, windowLogs: map[[2]uint64][]rawlog.RawLog{{0, 4}: {{BlockNumber: 1}}}}
	f := New(rpc, Config{MaxBlockRange: 5, Concurrency: 1, MaxRetries: 5}, zerolog.Nop())

	logs, err := f.Fetch(context.Background(), common.Address{}, 0, 4)
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
}

func TestFetchPropagatesProviderError(t *testing.T) {
	rpc := &fakeRPC{providerErr: true}
	f := New(rpc, Config{MaxBlockRange: 5, Concurrency: 1, MaxRetries: 3}, zerolog.Nop())

	_, err := f.Fetch(context.Background(), common.Address{}, 0, 4)
	if err == nil {
		t.Fatal("expected provider error to propagate")
	}
	var pe *ProviderError
	if !asProviderError(err, &pe) {
		t.Fatalf("expected *ProviderError, got %T: %v", err, err)
	}
}

func asProviderError(err error, target **ProviderError) bool {
	for err != nil {
		if pe, ok := err.(*ProviderError); ok {
			*target = pe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
