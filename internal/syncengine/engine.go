// Package syncengine drives the per-cycle state machine: one
// call to RunCycle walks a target through Bootstrapping, window
// computation, fetch, decode, token lookup, batch build, and persistence,
// short-circuiting to Idle whenever a stage has nothing to do.
package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/rainlanguage/raindex/internal/apply"
	"github.com/rainlanguage/raindex/internal/bootstrap"
	"github.com/rainlanguage/raindex/internal/chain"
	"github.com/rainlanguage/raindex/internal/collect"
	"github.com/rainlanguage/raindex/internal/dbexec"
	"github.com/rainlanguage/raindex/internal/decode"
	"github.com/rainlanguage/raindex/internal/erc20"
	"github.com/rainlanguage/raindex/internal/fetch"
	"github.com/rainlanguage/raindex/internal/rawlog"
	"github.com/rainlanguage/raindex/internal/sqlbatch"
	"github.com/rainlanguage/raindex/internal/window"
)

// State names one phase of the per-cycle state machine, in the fixed
// ordering it's always visited (excluding short-circuits).
type State int

const (
	StateIdle State = iota
	StateBootstrapping
	StateWindowComputed
	StateFetching
	StateDecoding
	StateTokenLookup
	StateBuildingBatch
	StatePersisting
	StateExporting
)

func (s State) String() string {
	switch s {
	case StateBootstrapping:
		return "Bootstrapping"
	case StateWindowComputed:
		return "WindowComputed"
	case StateFetching:
		return "Fetching"
	case StateDecoding:
		return "Decoding"
	case StateTokenLookup:
		return "TokenLookup"
	case StateBuildingBatch:
		return "BuildingBatch"
	case StatePersisting:
		return "Persisting"
	case StateExporting:
		return "Exporting"
	default:
		return "Idle"
	}
}

// Report summarizes one completed cycle, win or lose.
type Report struct {
	Start, Target   uint64
	FetchedLogs     int
	DecodedEvents   int
	NoOp            bool
	ExportAttempted bool
	ExportErr       error
}

// Config is a target's static sync parameters.
type Config struct {
	Target          chain.TargetKey
	DeploymentBlock uint64
	Finality        window.Finality
	Overrides       window.Overrides
	FetchConfig     fetch.Config
	SeedDump        *bootstrap.SeedDump
	TokenPolicy     erc20.FailurePolicy
	ExportAfterSync bool
}

// Engine drives repeated sync cycles for one target.
type Engine struct {
	cfg      Config
	exec     dbexec.Executor
	fetcher  *fetch.Fetcher
	tokens   *erc20.Fetcher
	exporter func(ctx context.Context, exec dbexec.Executor, target chain.TargetKey) error
	log      zerolog.Logger

	mu          sync.RWMutex
	state       State
	bootstrapOK bool

	stopCh chan struct{}
	nowMs  func() int64
}

// New builds an Engine. exporter may be nil, in which case the Exporting
// phase is skipped (export is best-effort by design and never required for
// correctness).
func New(cfg Config, exec dbexec.Executor, fetcher *fetch.Fetcher, tokens *erc20.Fetcher,
	exporter func(ctx context.Context, exec dbexec.Executor, target chain.TargetKey) error,
	log zerolog.Logger, nowMs func() int64,
) *Engine {
	return &Engine{
		cfg: cfg, exec: exec, fetcher: fetcher, tokens: tokens, exporter: exporter,
		log: log.With().Str("component", "syncengine").Str("target", cfg.Target.String()).Logger(),
		stopCh: make(chan struct{}), nowMs: nowMs,
	}
}

// State returns the engine's current phase, safe to call concurrently with
// RunCycle (used by the status broadcast bus).
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Start runs RunCycle on a fixed interval until ctx is cancelled or Stop is
// called, logging (not propagating) per-cycle errors so one bad cycle never
// takes the whole runner down.
func (e *Engine) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := e.RunCycle(ctx); err != nil {
				e.log.Error().Err(err).Msg("sync cycle failed")
			}
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) Stop() {
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
}

// RunCycle executes one full pass of the state machine and returns to Idle.
func (e *Engine) RunCycle(ctx context.Context) (Report, error) {
	defer e.setState(StateIdle)

	if err := e.runBootstrap(ctx); err != nil {
		return Report{}, fmt.Errorf("syncengine: bootstrap: %w", err)
	}
	e.setState(StateWindowComputed)

	latest, err := e.fetcher.GetLatestBlock(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("syncengine: latest block: %w", err)
	}

	start, target, err := window.Compute(ctx, e.exec, e.cfg.Target.ChainID, e.cfg.Target.OrderbookAddress,
		window.Config{DeploymentBlock: e.cfg.DeploymentBlock, Finality: e.cfg.Finality, Overrides: e.cfg.Overrides}, latest)
	if err != nil {
		return Report{}, fmt.Errorf("syncengine: window: %w", err)
	}
	if start > target {
		return Report{Start: start, Target: target, NoOp: true}, nil
	}

	e.setState(StateFetching)
	orderbookLogs, err := e.fetcher.Fetch(ctx, e.cfg.Target.OrderbookAddress, start, target)
	if err != nil {
		return Report{}, fmt.Errorf("syncengine: fetch orderbook: %w", err)
	}

	e.setState(StateDecoding)
	orderbookEvents, err := e.decodeAll(orderbookLogs)
	if err != nil {
		return Report{}, fmt.Errorf("syncengine: decode: %w", err)
	}

	e.setState(StateFetching)
	storeLogs, err := e.fetchStoreLogs(ctx, orderbookEvents, start, target)
	if err != nil {
		return Report{}, fmt.Errorf("syncengine: fetch stores: %w", err)
	}

	e.setState(StateDecoding)
	storeEvents, err := e.decodeAll(storeLogs)
	if err != nil {
		return Report{}, fmt.Errorf("syncengine: decode stores: %w", err)
	}

	rawLogs := append(orderbookLogs, storeLogs...)
	events := append(orderbookEvents, storeEvents...)

	e.setState(StateTokenLookup)
	tokens, err := e.lookupMissingTokens(ctx, events)
	if err != nil {
		return Report{}, fmt.Errorf("syncengine: token lookup: %w", err)
	}

	e.setState(StateBuildingBatch)
	blockHash := common.Hash{}
	watermark := chain.Watermark{LastBlock: target, LastHash: &blockHash, UpdatedAtMs: e.nowMs()}
	batch, err := apply.Build(apply.Input{Target: e.cfg.Target, Events: events, Tokens: tokens, NewWatermark: watermark})
	if err != nil {
		return Report{}, fmt.Errorf("syncengine: build batch: %w", err)
	}

	e.setState(StatePersisting)
	if err := e.exec.ExecuteBatch(ctx, batch); err != nil {
		return Report{}, fmt.Errorf("syncengine: persist: %w", err)
	}

	report := Report{Start: start, Target: target, FetchedLogs: len(rawLogs), DecodedEvents: len(events)}

	if e.cfg.ExportAfterSync && e.exporter != nil {
		e.setState(StateExporting)
		report.ExportAttempted = true
		if err := e.exporter(ctx, e.exec, e.cfg.Target); err != nil {
			report.ExportErr = err
			e.log.Warn().Err(err).Msg("export_dump failed after persist (best-effort)")
		}
	}

	return report, nil
}

func (e *Engine) runBootstrap(ctx context.Context) error {
	e.setState(StateBootstrapping)
	if e.bootstrapOK {
		return nil
	}
	if err := bootstrap.Run(ctx, e.exec, e.cfg.SeedDump); err != nil {
		return err
	}
	e.bootstrapOK = true
	return nil
}

// fetchStoreLogs pulls logs for the union of store addresses derived from
// the cycle's newly decoded orders and from a query over prior orders rows,
// merged uniquely.
func (e *Engine) fetchStoreLogs(ctx context.Context, orderbookEvents []apply.Event, start, target uint64) ([]rawlog.RawLog, error) {
	decoded := make([]decode.DecodedEvent, len(orderbookEvents))
	for i, ev := range orderbookEvents {
		decoded[i] = ev.Decoded
	}
	newStores := collect.CollectStoreAddresses(decoded)

	priorStores, err := e.priorStoreAddresses(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[common.Address]struct{}, len(newStores)+len(priorStores))
	var union []common.Address
	for _, store := range append(priorStores, newStores...) {
		if store == (common.Address{}) {
			continue
		}
		if _, ok := seen[store]; ok {
			continue
		}
		seen[store] = struct{}{}
		union = append(union, store)
	}

	var logs []rawlog.RawLog
	for _, store := range union {
		storeLogs, err := e.fetcher.Fetch(ctx, store, start, target)
		if err != nil {
			return nil, err
		}
		logs = append(logs, storeLogs...)
	}
	return logs, nil
}

func (e *Engine) priorStoreAddresses(ctx context.Context) ([]common.Address, error) {
	stmt := sqlbatch.BuildFetchDistinctStoreAddresses(e.cfg.Target.ChainID, e.cfg.Target.OrderbookAddress)
	var rows []struct {
		StoreAddress string `json:"store_address"`
	}
	if err := e.exec.QueryJSON(ctx, stmt, &rows); err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(rows))
	for _, r := range rows {
		if r.StoreAddress == "" {
			continue
		}
		out = append(out, common.HexToAddress(r.StoreAddress))
	}
	return out, nil
}

func (e *Engine) decodeAll(logs []rawlog.RawLog) ([]apply.Event, error) {
	events := make([]apply.Event, 0, len(logs))
	for _, l := range logs {
		rawJSON, err := json.Marshal(l)
		if err != nil {
			return nil, err
		}
		raw := rawlog.FromLog(e.cfg.Target.ChainID, e.cfg.Target.OrderbookAddress, l, rawJSON)
		decoded, err := decode.Decode(raw)
		if err != nil {
			return nil, err
		}
		events = append(events, apply.Event{Raw: raw, Decoded: decoded})
	}
	return events, nil
}

func (e *Engine) lookupMissingTokens(ctx context.Context, events []apply.Event) ([]erc20.Token, error) {
	decoded := make([]decode.DecodedEvent, len(events))
	for i, ev := range events {
		decoded[i] = ev.Decoded
	}
	addrs := collect.CollectTokenAddresses(decoded)
	if len(addrs) == 0 {
		return nil, nil
	}

	lowerAddrs := make([]string, len(addrs))
	for i, a := range addrs {
		lowerAddrs[i] = strings.ToLower(a.Hex())
	}
	var existing []struct {
		Address string `json:"address"`
	}
	stmt := sqlbatch.BuildFetchERC20TokensByAddresses(e.cfg.Target.ChainID, lowerAddrs)
	if err := e.exec.QueryJSON(ctx, stmt, &existing); err != nil {
		return nil, err
	}

	known := make(map[string]struct{}, len(existing))
	for _, row := range existing {
		known[strings.ToLower(row.Address)] = struct{}{}
	}

	var missing []common.Address
	for _, a := range addrs {
		if _, ok := known[strings.ToLower(a.Hex())]; !ok {
			missing = append(missing, a)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}
	return e.tokens.FetchMissing(ctx, e.cfg.Target.ChainID, missing)
}
