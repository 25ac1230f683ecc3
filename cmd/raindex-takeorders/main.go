// Command raindex-takeorders is the one-shot takeOrders calldata CLI: given
// a taker, a sell/buy token pair, a mode, and an amount/price cap, it finds
// quote-able legs in the local database, scores candidate orderbooks, and
// prints either the built takeOrders4 calldata or a NeedsApproval notice.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rainlanguage/raindex/internal/dbexec"
	"github.com/rainlanguage/raindex/internal/decode"
	"github.com/rainlanguage/raindex/internal/quote"
	"github.com/rainlanguage/raindex/internal/rpcadapter"
	"github.com/rainlanguage/raindex/internal/sqlbatch"
	"github.com/rainlanguage/raindex/internal/takeorders"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "raindex-takeorders:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		chainID     = flag.Uint("chain", 0, "chain id")
		multicall3  = flag.String("multicall3", "", "multicall3 contract address")
		rpcURL      = flag.String("rpc", "", "RPC endpoint")
		dbPath      = flag.String("db", "", "path to the target's synced database")
		taker       = flag.String("taker", "", "taker address")
		sellToken   = flag.String("sell-token", "", "token the taker sells")
		buyToken    = flag.String("buy-token", "", "token the taker buys")
		modeFlag    = flag.String("mode", "buy-exact", "one of buy-exact, buy-up-to, spend-exact, spend-up-to")
		amountStr   = flag.String("amount", "", "amount, in the mode's interpretation, as a base-10 integer")
		priceCapStr = flag.String("price-cap", "", "maximum acceptable price, wad-scaled (1e18 = 1:1)")
	)
	flag.Parse()

	if *multicall3 == "" || *rpcURL == "" || *dbPath == "" || *taker == "" || *sellToken == "" || *buyToken == "" || *amountStr == "" || *priceCapStr == "" {
		return fmt.Errorf("multicall3, rpc, db, taker, sell-token, buy-token, amount, and price-cap are all required")
	}

	mode, err := parseMode(*modeFlag)
	if err != nil {
		return err
	}
	amount, ok := new(big.Int).SetString(*amountStr, 10)
	if !ok {
		return fmt.Errorf("invalid amount %q", *amountStr)
	}
	priceCap, ok := new(big.Int).SetString(*priceCapStr, 10)
	if !ok {
		return fmt.Errorf("invalid price-cap %q", *priceCapStr)
	}

	ctx := context.Background()

	exec, err := dbexec.Open(*dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer exec.Close()

	conn, err := rpcadapter.Dial(ctx, *rpcURL)
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}
	defer conn.Close()

	multicall3Addr := common.HexToAddress(*multicall3)
	allowance, err := takeorders.NewERC20Allowance(conn)
	if err != nil {
		return fmt.Errorf("build allowance checker: %w", err)
	}

	builder := &takeorders.Builder{
		Candidates: &dbCandidateSource{exec: exec},
		Quoters: func(orderbook common.Address) (*quote.Client, error) {
			return quote.NewClient(orderbook, multicall3Addr, noOpRegistry{})
		},
		Caller:    conn,
		Allowance: allowance,
		Simulate:  &takeorders.EthCallSimulator{Caller: conn},
	}

	req := takeorders.Request{
		ChainID:   uint32(*chainID),
		Taker:     common.HexToAddress(*taker),
		SellToken: common.HexToAddress(*sellToken),
		BuyToken:  common.HexToAddress(*buyToken),
		Mode:      mode,
		Amount:    amount,
		PriceCap:  priceCap,
	}

	result, err := builder.Build(ctx, req, nil)
	var needsApproval *takeorders.NeedsApproval
	if errors.As(err, &needsApproval) {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]string{
			"status":   "needs_approval",
			"token":    needsApproval.Token.Hex(),
			"spender":  needsApproval.Spender.Hex(),
			"calldata": "0x" + hex.EncodeToString(needsApproval.Calldata),
		})
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]interface{}{
		"status":          "ok",
		"orderbook":       result.Orderbook.Hex(),
		"calldata":        "0x" + hex.EncodeToString(result.Calldata),
		"effective_price": result.EffectivePrice.String(),
		"expected_sell":   result.ExpectedSell.String(),
		"max_sell_cap":    result.MaxSellCap.String(),
	})
}

func parseMode(s string) (takeorders.Mode, error) {
	switch strings.ToLower(s) {
	case "buy-exact":
		return takeorders.BuyExact, nil
	case "buy-up-to":
		return takeorders.BuyUpTo, nil
	case "spend-exact":
		return takeorders.SpendExact, nil
	case "spend-up-to":
		return takeorders.SpendUpTo, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

// dbCandidateSource implements takeorders.CandidateSource against the local
// synced database, the concrete counterpart the package's doc comment
// defers to cmd/: one query joining orders to order_ios on both sides of
// the requested token pair, grouped by orderbook.
type dbCandidateSource struct {
	exec dbexec.Executor
}

func (d *dbCandidateSource) FindLegs(ctx context.Context, chainID uint32, sellToken, buyToken common.Address) (map[common.Address][]takeorders.Leg, error) {
	stmt := sqlbatch.BuildFetchCandidateOrders(chainID, strings.ToLower(sellToken.Hex()), strings.ToLower(buyToken.Hex()))
	var rows []struct {
		OrderbookAddress string `json:"orderbook_address"`
		OrderBytes       string `json:"order_bytes"`
		InputIOIndex     uint32 `json:"input_io_index"`
		OutputIOIndex    uint32 `json:"output_io_index"`
	}
	if err := d.exec.QueryJSON(ctx, stmt, &rows); err != nil {
		return nil, err
	}

	out := make(map[common.Address][]takeorders.Leg)
	for _, row := range rows {
		var order decode.Order
		if err := json.Unmarshal([]byte(row.OrderBytes), &order); err != nil {
			return nil, fmt.Errorf("decode stored order: %w", err)
		}
		orderbook := common.HexToAddress(row.OrderbookAddress)
		out[orderbook] = append(out[orderbook], takeorders.Leg{
			Order:         order,
			InputIOIndex:  row.InputIOIndex,
			OutputIOIndex: row.OutputIOIndex,
		})
	}
	return out, nil
}

// noOpRegistry never recognizes a selector; same fallback contract as
// raindex-quote's.
type noOpRegistry struct{}

func (noOpRegistry) Decode(ctx context.Context, selector [4]byte, data []byte) (string, bool) {
	return "", false
}
