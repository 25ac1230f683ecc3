// Package fetch implements the log fetcher: it pulls logs for an
// address in bounded block windows, fanning out a bounded number of windows
// concurrently via golang.org/x/sync/errgroup and retrying each window with
// github.com/cenkalti/backoff/v4 exponential backoff.
package fetch

import (
	"context"
	"fmt"
	"sort"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rainlanguage/raindex/internal/rawlog"
)

// RpcClient is the minimal transport surface the fetcher depends on; the
// actual JSON-RPC/WebSocket plumbing is external
type RpcClient interface {
	GetLogs(ctx context.Context, address common.Address, fromBlock, toBlock uint64) ([]rawlog.RawLog, error)
	GetLatestBlock(ctx context.Context) (uint64, error)
}

// Config bounds the fetcher's concurrency and retry behavior.
type Config struct {
	MaxBlockRange uint64
	Concurrency   int
	MaxRetries    uint64
}

// DefaultConfig is the fetch configuration cmd/raindex-sync gives the
// targets it builds.
func DefaultConfig() Config {
	return Config{MaxBlockRange: 2000, Concurrency: 8, MaxRetries: 5}
}

// ProviderError marks a definitive (non-retriable) provider failure, e.g. a
// 4xx or "method not found" response, as opposed to a transient timeout.
type ProviderError struct {
	Window [2]uint64
	Err    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("fetch: provider error for window [%d,%d]: %v", e.Window[0], e.Window[1], e.Err)
}
func (e *ProviderError) Unwrap() error { return e.Err }

// Fetcher pulls logs for one address across a block range.
type Fetcher struct {
	rpc RpcClient
	cfg Config
	log zerolog.Logger
}

func New(rpc RpcClient, cfg Config, log zerolog.Logger) *Fetcher {
	return &Fetcher{rpc: rpc, cfg: cfg, log: log.With().Str("component", "fetch").Logger()}
}

// GetLatestBlock proxies to the RPC client; kept on Fetcher so callers don't
// need to hold a second reference to RpcClient.
func (f *Fetcher) GetLatestBlock(ctx context.Context) (uint64, error) {
	return f.rpc.GetLatestBlock(ctx)
}

// Fetch pulls all logs for address in [start, end] inclusive, partitioning
// the range into windows of at most cfg.MaxBlockRange, running up to
// cfg.Concurrency windows in parallel, retrying each window with exponential
// backoff up to cfg.MaxRetries retries after the first attempt, and
// returning results ordered by
// (block_number, log_index) ascending. start > end returns an empty, nil-
// error result (a valid no-op per the window pipeline's contract).
func (f *Fetcher) Fetch(ctx context.Context, address common.Address, start, end uint64) ([]rawlog.RawLog, error) {
	if start > end {
		return nil, nil
	}

	windows := partition(start, end, f.cfg.MaxBlockRange)
	results := make([][]rawlog.RawLog, len(windows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, f.cfg.Concurrency))

	for i, w := range windows {
		i, w := i, w
		g.Go(func() error {
			logs, err := f.fetchWindowWithRetry(gctx, address, w[0], w[1])
			if err != nil {
				return err
			}
			results[i] = logs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []rawlog.RawLog
	for _, r := range results {
		merged = append(merged, r...)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].BlockNumber != merged[j].BlockNumber {
			return merged[i].BlockNumber < merged[j].BlockNumber
		}
		return merged[i].LogIndex < merged[j].LogIndex
	})
	return merged, nil
}

func (f *Fetcher) fetchWindowWithRetry(ctx context.Context, address common.Address, from, to uint64) ([]rawlog.RawLog, error) {
	var logs []rawlog.RawLog

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), f.cfg.MaxRetries)
	bo = backoff.WithContext(bo, ctx)

	operation := func() error {
		var err error
		logs, err = f.rpc.GetLogs(ctx, address, from, to)
		if err != nil {
			if pe, ok := err.(*ProviderError); ok {
				return backoff.Permanent(pe)
			}
			f.log.Debug().Uint64("from", from).Uint64("to", to).Err(err).Msg("transient fetch error, retrying")
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, bo); err != nil {
		return nil, err
	}
	return logs, nil
}

// partition splits [start, end] into consecutive inclusive windows each no
// larger than maxRange blocks.
func partition(start, end, maxRange uint64) [][2]uint64 {
	if maxRange == 0 {
		maxRange = end - start + 1
	}
	var windows [][2]uint64
	for s := start; s <= end; {
		e := s + maxRange - 1
		if e > end {
			e = end
		}
		windows = append(windows, [2]uint64{s, e})
		if e == end {
			break
		}
		s = e + 1
	}
	return windows
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
