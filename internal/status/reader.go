package status

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/rainlanguage/raindex/internal/dbexec"
	"github.com/rainlanguage/raindex/internal/sqlbatch"
)

// TargetLocator resolves a target's canonical string form (chain.TargetKey's
// String()) to the chain id, orderbook address, and synced database path a
// read query needs; it returns ok == false for an unknown target.
type TargetLocator func(target string) (chainID uint32, orderbook common.Address, dbPath string, ok bool)

// Reader serves the vault/trade/order query builders over HTTP: the status
// bus's read-path counterpart, answering on-demand queries against a
// target's synced database rather than pushing lifecycle Snapshots. It
// opens its own connection per request instead of sharing the sync cycle's
// write connection, since SQLite's WAL mode allows concurrent readers
// alongside the single writer.
type Reader struct {
	locate TargetLocator
	log    zerolog.Logger
}

func NewReader(locate TargetLocator, log zerolog.Logger) *Reader {
	return &Reader{locate: locate, log: log.With().Str("component", "status_reader").Logger()}
}

// ServeHTTP answers GET /vaults, /trades, and /orders, each keyed by a
// "target" query parameter naming a configured chain/orderbook pair.
func (r *Reader) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	target := req.URL.Query().Get("target")
	chainID, orderbook, dbPath, ok := r.locate(target)
	if !ok {
		http.Error(w, "unknown target", http.StatusNotFound)
		return
	}

	exec, err := dbexec.Open(dbPath)
	if err != nil {
		r.log.Error().Err(err).Str("target", target).Msg("open read connection failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer exec.Close()

	ctx := req.Context()
	switch {
	case strings.HasSuffix(req.URL.Path, "/vaults"):
		r.serveVaults(ctx, w, req, exec, chainID, orderbook)
	case strings.HasSuffix(req.URL.Path, "/trades"):
		r.serveTrades(ctx, w, req, exec, chainID, orderbook)
	case strings.HasSuffix(req.URL.Path, "/orders"):
		r.serveOrders(ctx, w, req, exec, chainID)
	default:
		http.NotFound(w, req)
	}
}

func (r *Reader) serveVaults(ctx context.Context, w http.ResponseWriter, req *http.Request, exec dbexec.Executor, chainID uint32, orderbook common.Address) {
	var owners []common.Address
	if raw := req.URL.Query().Get("owners"); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				owners = append(owners, common.HexToAddress(o))
			}
		}
	}
	r.writeQuery(ctx, w, exec, sqlbatch.BuildFetchVaults(chainID, orderbook, owners))
}

func (r *Reader) serveTrades(ctx context.Context, w http.ResponseWriter, req *http.Request, exec dbexec.Executor, chainID uint32, orderbook common.Address) {
	if txHash := req.URL.Query().Get("tx"); txHash != "" {
		r.writeQuery(ctx, w, exec, sqlbatch.BuildFetchTradesByTx(chainID, orderbook, common.HexToHash(txHash)))
		return
	}

	owner := common.HexToAddress(req.URL.Query().Get("owner"))
	limit := 100
	if raw := req.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	r.writeQuery(ctx, w, exec, sqlbatch.BuildFetchTradesByOwner(chainID, orderbook, owner, limit))
}

func (r *Reader) serveOrders(ctx context.Context, w http.ResponseWriter, req *http.Request, exec dbexec.Executor, chainID uint32) {
	inputs := splitLowerTokens(req.URL.Query().Get("input_tokens"))
	outputs := splitLowerTokens(req.URL.Query().Get("output_tokens"))
	r.writeQuery(ctx, w, exec, sqlbatch.BuildFetchOrdersByTokens(chainID, inputs, outputs))
}

func splitLowerTokens(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (r *Reader) writeQuery(ctx context.Context, w http.ResponseWriter, exec dbexec.Executor, stmt sqlbatch.Statement) {
	text, err := exec.QueryText(ctx, stmt)
	if err != nil {
		r.log.Error().Err(err).Msg("read query failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(text))
}
