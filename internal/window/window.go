// Package window computes the block range a sync cycle should fetch: it
// reads the current watermark, clamps to finality depth, and applies any
// operator-supplied start/end overrides.
package window

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rainlanguage/raindex/internal/dbexec"
	"github.com/rainlanguage/raindex/internal/sqlbatch"
)

// ErrLastSyncedBlockOverflow is returned when the stored watermark is
// already at the maximum representable block number, so base_start = W+1
// cannot be computed.
var ErrLastSyncedBlockOverflow = errors.New("window: last synced block overflow")

// Finality configures how many confirmations back from the chain's latest
// block the safe head is clamped to.
type Finality struct {
	Depth uint64
}

// Overrides optionally forces the start and/or end of the window,
// independent of the stored watermark.
type Overrides struct {
	StartBlock *uint64
	EndBlock   *uint64
}

// Config carries the per-target parameters the window computation needs
// beyond the watermark itself.
type Config struct {
	DeploymentBlock uint64
	Finality        Finality
	Overrides       Overrides
}

// Compute reads the watermark for target and returns the inclusive [start,
// target] block range to fetch this cycle. start > target is a valid
// no-op, not an error.
func Compute(ctx context.Context, exec dbexec.Executor, chainID uint32, orderbook common.Address, cfg Config, latestBlock uint64) (start, target uint64, err error) {
	lastSynced, err := readWatermark(ctx, exec, chainID, orderbook)
	if err != nil {
		return 0, 0, fmt.Errorf("window: read watermark: %w", err)
	}

	safeHead := safeHead(latestBlock, cfg.DeploymentBlock, cfg.Finality)

	start, err = baseStart(lastSynced, cfg.DeploymentBlock)
	if err != nil {
		return 0, 0, err
	}

	if cfg.Overrides.StartBlock != nil {
		start = *cfg.Overrides.StartBlock
		if lastSynced > 0 && start <= lastSynced {
			bumped, err := addOne(lastSynced)
			if err != nil {
				return 0, 0, err
			}
			start = bumped
		}
		if lastSynced == 0 && start < cfg.DeploymentBlock {
			start = cfg.DeploymentBlock
		}
	}

	requestedTarget := safeHead
	if cfg.Overrides.EndBlock != nil {
		requestedTarget = *cfg.Overrides.EndBlock
	}
	target = min(requestedTarget, safeHead)

	return start, target, nil
}

func safeHead(latestBlock, deploymentBlock uint64, finality Finality) uint64 {
	head := saturatingSub(latestBlock, finality.Depth)
	return max(head, deploymentBlock)
}

func baseStart(lastSyncedBlock, deploymentBlock uint64) (uint64, error) {
	if lastSyncedBlock == 0 {
		return deploymentBlock, nil
	}
	return addOne(lastSyncedBlock)
}

func addOne(v uint64) (uint64, error) {
	if v == ^uint64(0) {
		return 0, ErrLastSyncedBlockOverflow
	}
	return v + 1, nil
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

type watermarkRow struct {
	LastBlock int64 `json:"last_block"`
}

func readWatermark(ctx context.Context, exec dbexec.Executor, chainID uint32, orderbook common.Address) (uint64, error) {
	var rows []watermarkRow
	stmt := sqlbatch.BuildFetchTargetWatermark(chainID, orderbook)
	if err := exec.QueryJSON(ctx, stmt, &rows); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return uint64(rows[0].LastBlock), nil
}
