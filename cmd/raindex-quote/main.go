// Command raindex-quote is the one-shot quote CLI: given one or more order
// hashes already synced into a target's local database, it calls quote2
// (batched through Multicall3.aggregate3 when more than one hash is given)
// and prints the resulting quotes as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rainlanguage/raindex/internal/dbexec"
	"github.com/rainlanguage/raindex/internal/decode"
	"github.com/rainlanguage/raindex/internal/quote"
	"github.com/rainlanguage/raindex/internal/rpcadapter"
	"github.com/rainlanguage/raindex/internal/sqlbatch"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "raindex-quote:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		chainID     = flag.Uint("chain", 0, "chain id")
		orderbook   = flag.String("orderbook", "", "orderbook contract address")
		multicall3  = flag.String("multicall3", "", "multicall3 contract address")
		rpcURL      = flag.String("rpc", "", "RPC endpoint")
		dbPath      = flag.String("db", "", "path to the target's synced database")
		orderHashes = flag.String("orders", "", "comma-separated order hashes to quote")
		ioIndex     = flag.Uint("io-index", 0, "input/output IO index to quote against, applied to every order")
		blockStr    = flag.String("block", "", "block number to quote at; empty means the chain tip")
	)
	flag.Parse()

	if *orderbook == "" || *multicall3 == "" || *rpcURL == "" || *dbPath == "" || *orderHashes == "" {
		return fmt.Errorf("orderbook, multicall3, rpc, db, and orders are all required")
	}

	ctx := context.Background()

	exec, err := dbexec.Open(*dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer exec.Close()

	orderbookAddr := common.HexToAddress(*orderbook)
	hashes := strings.Split(*orderHashes, ",")
	cfgs := make([]quote.Config, 0, len(hashes))
	for _, h := range hashes {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		order, err := loadOrder(ctx, exec, uint32(*chainID), orderbookAddr, h)
		if err != nil {
			return fmt.Errorf("load order %s: %w", h, err)
		}
		cfgs = append(cfgs, quote.Config{Order: order, InputIOIndex: uint32(*ioIndex), OutputIOIndex: uint32(*ioIndex)})
	}
	if len(cfgs) == 0 {
		return fmt.Errorf("no order hashes given")
	}

	client, err := quote.NewClient(orderbookAddr, common.HexToAddress(*multicall3), noOpRegistry{})
	if err != nil {
		return fmt.Errorf("build quote client: %w", err)
	}

	conn, err := rpcadapter.Dial(ctx, *rpcURL)
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}
	defer conn.Close()

	var block *big.Int
	if *blockStr != "" {
		n, err := strconv.ParseUint(*blockStr, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid block: %w", err)
		}
		block = new(big.Int).SetUint64(n)
	}

	var (
		quotes []quote.OrderQuote
		fails  []*quote.FailedQuote
	)
	if len(cfgs) == 1 {
		q, f := client.QuoteSingle(ctx, conn, cfgs[0], block)
		quotes, fails = []quote.OrderQuote{q}, []*quote.FailedQuote{f}
	} else {
		quotes, fails = client.QuoteMulti(ctx, conn, cfgs, block)
	}

	return printResults(quotes, fails)
}

func loadOrder(ctx context.Context, exec dbexec.Executor, chainID uint32, orderbook common.Address, orderHash string) (decode.Order, error) {
	stmt := sqlbatch.BuildFetchOrderByHash(chainID, orderbook, strings.ToLower(orderHash))
	var rows []struct {
		OrderBytes string `json:"order_bytes"`
	}
	if err := exec.QueryJSON(ctx, stmt, &rows); err != nil {
		return decode.Order{}, err
	}
	if len(rows) == 0 {
		return decode.Order{}, fmt.Errorf("order not found")
	}
	var order decode.Order
	if err := json.Unmarshal([]byte(rows[0].OrderBytes), &order); err != nil {
		return decode.Order{}, fmt.Errorf("decode stored order: %w", err)
	}
	return order, nil
}

type resultRow struct {
	Exists    bool   `json:"exists,omitempty"`
	MaxOutput string `json:"max_output,omitempty"`
	Ratio     string `json:"ratio,omitempty"`
	Error     string `json:"error,omitempty"`
}

func printResults(quotes []quote.OrderQuote, fails []*quote.FailedQuote) error {
	rows := make([]resultRow, len(quotes))
	for i := range quotes {
		if fails[i] != nil {
			rows[i] = resultRow{Error: fails[i].Error()}
			continue
		}
		rows[i] = resultRow{Exists: quotes[i].Exists, MaxOutput: quotes[i].MaxOutput.String(), Ratio: quotes[i].Ratio.String()}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

// noOpRegistry never recognizes a selector; every revert surfaces as
// FailedRevertUnknown rather than losing the raw revert data, matching
// quote.SelectorRegistry's documented fallback contract.
type noOpRegistry struct{}

func (noOpRegistry) Decode(ctx context.Context, selector [4]byte, data []byte) (string, bool) {
	return "", false
}
