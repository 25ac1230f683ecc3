// Command raindex-sync runs the per-target sync pipeline on a fixed
// interval: for each configured chain/orderbook pair it resolves the
// manifest, seeds a fresh working database when needed, fetches and decodes
// orderbook activity, and persists it, publishing a status snapshot per
// target over the status bus's websocket server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rainlanguage/raindex/internal/chain"
	"github.com/rainlanguage/raindex/internal/config"
	"github.com/rainlanguage/raindex/internal/erc20"
	"github.com/rainlanguage/raindex/internal/fetch"
	"github.com/rainlanguage/raindex/internal/rpcadapter"
	"github.com/rainlanguage/raindex/internal/runner"
	"github.com/rainlanguage/raindex/internal/status"
	"github.com/rainlanguage/raindex/internal/window"
)

const syncInterval = 30 * time.Second

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().Int("targets", len(cfg.Targets)).Str("manifest", cfg.ManifestURL).Msg("raindex-sync starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conns := make(map[uint32]*rpcadapter.Client, len(cfg.Targets))
	for _, t := range cfg.Targets {
		if _, ok := conns[t.ChainID]; ok {
			continue
		}
		conn, err := rpcadapter.Dial(ctx, t.RPCURL)
		if err != nil {
			log.Fatal().Err(err).Uint32("chain_id", t.ChainID).Msg("failed to dial rpc")
		}
		conns[t.ChainID] = conn
	}
	defer func() {
		for _, conn := range conns {
			conn.Close()
		}
	}()

	deps := runner.Dependencies{
		ManifestClient: http.DefaultClient,
		DumpClient:     runner.DefaultDumpDownloader{},
		RPCFor: func(chainID uint32) (fetch.RpcClient, error) {
			conn, ok := conns[chainID]
			if !ok {
				return nil, fmt.Errorf("no rpc connection configured for chain %d", chainID)
			}
			return conn, nil
		},
		CallerFor: func(chainID uint32) (erc20.Caller, error) {
			conn, ok := conns[chainID]
			if !ok {
				return nil, fmt.Errorf("no rpc connection configured for chain %d", chainID)
			}
			return conn, nil
		},
		NowMs: func() int64 { return time.Now().UnixMilli() },
	}

	r := runner.New(runner.Config{
		OutRoot:     cfg.OutRoot,
		ManifestURL: cfg.ManifestURL,
		Concurrency: cfg.Concurrency,
	}, deps, log.Logger)

	specs := make([]runner.TargetSpec, len(cfg.Targets))
	for i, t := range cfg.Targets {
		key := chain.NewTargetKey(t.ChainID, t.Orderbook)
		specs[i] = runner.TargetSpec{
			Target:          key,
			DeploymentBlock: t.DeploymentBlock,
			Finality:        window.Finality{Depth: t.FinalityDepth},
			FetchConfig:     fetch.DefaultConfig(),
			TokenPolicy:     erc20.KeepPartial,
			ExportAfterSync: true,
		}
	}

	locate := targetLocator(specs, cfg.OutRoot)
	bus := status.NewBus()
	statusServer := status.NewServer(bus, log.Logger)
	reader := status.NewReader(locate, log.Logger)

	mux := http.NewServeMux()
	mux.Handle("/", statusServer)
	mux.Handle("/read/vaults", reader)
	mux.Handle("/read/trades", reader)
	mux.Handle("/read/orders", reader)
	httpServer := &http.Server{Addr: cfg.StatusListenAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("status server stopped")
		}
	}()

	for _, spec := range specs {
		bus.Publish(status.Snapshot{ChainID: spec.Target.ChainID, Target: spec.Target.String(), State: status.Idle})
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()

	runCycle(ctx, r, specs, bus)

	for {
		select {
		case <-ticker.C:
			runCycle(ctx, r, specs, bus)
		case <-quit:
			log.Info().Msg("shutting down")
			cancel()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			httpServer.Shutdown(shutdownCtx)
			return
		}
	}
}

// targetLocator builds the status.TargetLocator the read-path handler uses
// to map a target's canonical string form back to its chain id, orderbook
// address, and synced database path under outRoot.
func targetLocator(specs []runner.TargetSpec, outRoot string) status.TargetLocator {
	type entry struct {
		chainID   uint32
		orderbook common.Address
		dbPath    string
	}
	byTarget := make(map[string]entry, len(specs))
	for _, spec := range specs {
		byTarget[spec.Target.String()] = entry{
			chainID:   spec.Target.ChainID,
			orderbook: spec.Target.OrderbookAddress,
			dbPath:    runner.WorkingDBPath(outRoot, spec.Target),
		}
	}
	return func(target string) (uint32, common.Address, string, bool) {
		e, ok := byTarget[target]
		return e.chainID, e.orderbook, e.dbPath, ok
	}
}

func runCycle(ctx context.Context, r *runner.Runner, specs []runner.TargetSpec, bus *status.Bus) {
	for _, spec := range specs {
		bus.Publish(status.Snapshot{ChainID: spec.Target.ChainID, Target: spec.Target.String(), State: status.Syncing})
	}

	report := r.RunOnce(ctx, specs)

	for _, rep := range report.Successes {
		log.Info().Uint64("start", rep.Start).Uint64("target", rep.Target).
			Int("fetched", rep.FetchedLogs).Int("decoded", rep.DecodedEvents).Bool("noop", rep.NoOp).
			Msg("sync cycle complete")
	}
	for _, f := range report.Failures {
		log.Error().Err(f.Err).Str("target", f.Target.String()).Msg("sync cycle failed")
		bus.Publish(status.Snapshot{ChainID: f.Target.ChainID, Target: f.Target.String(), State: status.Failure, Msg: f.Err.Error()})
	}

	failed := make(map[string]struct{}, len(report.Failures))
	for _, f := range report.Failures {
		failed[f.Target.String()] = struct{}{}
	}
	for _, spec := range specs {
		if _, ok := failed[spec.Target.String()]; ok {
			continue
		}
		bus.Publish(status.Snapshot{ChainID: spec.Target.ChainID, Target: spec.Target.String(), State: status.Active})
	}
}
