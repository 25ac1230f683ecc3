// Package runner drives one sync engine per configured target: it resolves
// each target's manifest entry, downloads that entry's seed dump when the
// target has no local watermark yet, opens the target's working database, and
// runs one cycle, collecting per-target failures without letting one bad
// target cancel its siblings.
package runner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rainlanguage/raindex/internal/bootstrap"
	"github.com/rainlanguage/raindex/internal/chain"
	"github.com/rainlanguage/raindex/internal/dbexec"
	"github.com/rainlanguage/raindex/internal/dump"
	"github.com/rainlanguage/raindex/internal/erc20"
	"github.com/rainlanguage/raindex/internal/fetch"
	"github.com/rainlanguage/raindex/internal/manifest"
	"github.com/rainlanguage/raindex/internal/sqlbatch"
	"github.com/rainlanguage/raindex/internal/syncengine"
	"github.com/rainlanguage/raindex/internal/window"
)

// TargetSpec is one target's static sync configuration, the runner-level
// analogue of syncengine.Config minus the pieces (executor, fetcher,
// exporter) the runner constructs per run.
type TargetSpec struct {
	Target          chain.TargetKey
	DeploymentBlock uint64
	Finality        window.Finality
	Overrides       window.Overrides
	FetchConfig     fetch.Config
	TokenPolicy     erc20.FailurePolicy
	ExportAfterSync bool
}

// Dependencies are the externally-supplied transports the runner cannot
// construct itself; one process typically builds one Dependencies value
// per chain family it talks to.
type Dependencies struct {
	ManifestClient manifest.HTTPClient
	DumpClient     HTTPDumpDownloader
	RPCFor         func(chainID uint32) (fetch.RpcClient, error)
	CallerFor      func(chainID uint32) (erc20.Caller, error)
	NowMs          func() int64
}

// HTTPDumpDownloader fetches a manifest-referenced dump to a local path;
// *http.Client satisfies it via the package-level DefaultDumpDownloader.
type HTTPDumpDownloader interface {
	Download(ctx context.Context, url, destPath string) error
}

// Config is the runner's process-wide configuration.
type Config struct {
	OutRoot     string
	ManifestURL string
	Concurrency int
}

// Failure pairs a target with the error that ended its cycle.
type Failure struct {
	Target chain.TargetKey
	Err    error
}

// ProducerRunReport summarizes one pass over every configured target.
type ProducerRunReport struct {
	Successes []syncengine.Report
	Failures  []Failure
}

// Runner owns the process-wide config and dependencies; TargetSpec values
// are passed per-call so the same Runner can serve different target sets
// across calls (e.g. after a config reload).
type Runner struct {
	cfg  Config
	deps Dependencies
	log  zerolog.Logger
}

func New(cfg Config, deps Dependencies, log zerolog.Logger) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Runner{cfg: cfg, deps: deps, log: log.With().Str("component", "runner").Logger()}
}

// RunOnce resolves the manifest once, then runs one cycle for every target
// in targets, up to cfg.Concurrency at a time. A manifest fetch failure is
// fatal to the whole pass (every target is reported as failed) since no
// target can make a seed-dump decision without it; a single target's cycle
// failure never affects its siblings.
func (r *Runner) RunOnce(ctx context.Context, targets []TargetSpec) ProducerRunReport {
	m, err := manifest.Fetch(ctx, r.deps.ManifestClient, r.cfg.ManifestURL)
	if err != nil {
		report := ProducerRunReport{}
		for _, spec := range targets {
			report.Failures = append(report.Failures, Failure{Target: spec.Target, Err: fmt.Errorf("runner: manifest: %w", err)})
		}
		return report
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		report ProducerRunReport
		sem    = make(chan struct{}, r.cfg.Concurrency)
	)

	for _, spec := range targets {
		spec := spec
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			rep, err := r.runTarget(ctx, spec, m)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failures = append(report.Failures, Failure{Target: spec.Target, Err: err})
				return
			}
			report.Successes = append(report.Successes, rep)
		}()
	}
	wg.Wait()

	return report
}

func (r *Runner) runTarget(ctx context.Context, spec TargetSpec, m manifest.Manifest) (syncengine.Report, error) {
	dbPath := WorkingDBPath(r.cfg.OutRoot, spec.Target)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return syncengine.Report{}, fmt.Errorf("runner: mkdir: %w", err)
	}

	exec, err := dbexec.Open(dbPath)
	if err != nil {
		return syncengine.Report{}, fmt.Errorf("runner: open db: %w", err)
	}
	defer exec.Close()

	seed, err := r.resolveSeed(ctx, exec, spec.Target, m)
	if err != nil {
		return syncengine.Report{}, fmt.Errorf("runner: resolve seed: %w", err)
	}

	rpc, err := r.deps.RPCFor(spec.Target.ChainID)
	if err != nil {
		return syncengine.Report{}, fmt.Errorf("runner: rpc client: %w", err)
	}
	fetcher := fetch.New(rpc, spec.FetchConfig, r.log)

	caller, err := r.deps.CallerFor(spec.Target.ChainID)
	if err != nil {
		return syncengine.Report{}, fmt.Errorf("runner: erc20 caller: %w", err)
	}
	tokens := erc20.New(caller, 8, spec.TokenPolicy)

	exporter := func(ctx context.Context, exec dbexec.Executor, target chain.TargetKey) error {
		_, err := dump.ExportDataOnly(ctx, exec, r.cfg.OutRoot, target)
		return err
	}

	engine := syncengine.New(syncengine.Config{
		Target: spec.Target, DeploymentBlock: spec.DeploymentBlock, Finality: spec.Finality,
		Overrides: spec.Overrides, FetchConfig: spec.FetchConfig, SeedDump: seed,
		TokenPolicy: spec.TokenPolicy, ExportAfterSync: spec.ExportAfterSync,
	}, exec, fetcher, tokens, exporter, r.log, r.deps.NowMs)

	return engine.RunCycle(ctx)
}

// resolveSeed decides whether the target needs a seed dump: when the
// manifest has an entry for the target's chain and the target has no
// watermark row yet, it downloads the entry's dump, and the downloaded file
// becomes a gzip seed dump for bootstrap.Run. A target that already has a
// watermark is never re-seeded, however far it lags behind the dump: the
// watermark is not compared with anything in the manifest entry.
func (r *Runner) resolveSeed(ctx context.Context, exec dbexec.Executor, target chain.TargetKey, m manifest.Manifest) (*bootstrap.SeedDump, error) {
	entry, ok := m.Entry(target.ChainID)
	if !ok {
		return nil, nil
	}

	hasWatermark, err := hasLocalWatermark(ctx, exec, target)
	if err != nil {
		return nil, err
	}
	if hasWatermark {
		return nil, nil
	}

	destPath := seedDumpPath(r.cfg.OutRoot, target)
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return nil, err
	}
	if err := r.deps.DumpClient.Download(ctx, entry.DumpURL, destPath); err != nil {
		return nil, fmt.Errorf("download dump %s: %w", entry.DumpURL, err)
	}
	return &bootstrap.SeedDump{SQLGzPath: destPath}, nil
}

func hasLocalWatermark(ctx context.Context, exec dbexec.Executor, target chain.TargetKey) (bool, error) {
	var rows []struct {
		LastBlock int64 `json:"last_block"`
	}
	stmt := sqlbatch.BuildFetchTargetWatermark(target.ChainID, target.OrderbookAddress)
	if err := exec.QueryJSON(ctx, stmt, &rows); err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// WorkingDBPath returns the on-disk path of a target's synced database
// under outRoot, exported so read-only callers (e.g. the status/read path)
// can open their own connection against the same file the sync cycle
// writes to.
func WorkingDBPath(outRoot string, target chain.TargetKey) string {
	chainDir := strconv.FormatUint(uint64(target.ChainID), 10)
	return filepath.Join(outRoot, chainDir, strings.ToLower(target.OrderbookAddress.Hex())+".db")
}

func seedDumpPath(outRoot string, target chain.TargetKey) string {
	chainDir := strconv.FormatUint(uint64(target.ChainID), 10)
	return filepath.Join(outRoot, chainDir, strings.ToLower(target.OrderbookAddress.Hex())+".seed.sql.gz")
}

// DefaultDumpDownloader downloads a manifest dump over plain HTTP GET.
type DefaultDumpDownloader struct {
	Client *http.Client
}

func (d DefaultDumpDownloader) Download(ctx context.Context, url, destPath string) error {
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, resp.Body)
	return err
}
