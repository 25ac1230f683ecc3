package sqlbatch

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestBuildFetchOrdersByTokensCombinedWhenSetsEqual(t *testing.T) {
	tokens := []string{"0xaaa", "0xbbb"}
	stmt := BuildFetchOrdersByTokens(1, tokens, tokens)

	if strings.Count(stmt.Text, "EXISTS") != 1 {
		t.Fatalf("expected a single combined EXISTS clause when input/output sets are equal, got:\n%s", stmt.Text)
	}
	if !strings.Contains(stmt.Text, "lower(oi.io_type) = 'input'") || !strings.Contains(stmt.Text, "lower(oi.io_type) = 'output'") {
		t.Fatalf("expected io_type discrimination in combined clause, got:\n%s", stmt.Text)
	}
	if !strings.Contains(stmt.Text, " OR ") {
		t.Fatalf("expected input/output checks combined with OR, got:\n%s", stmt.Text)
	}
	// chain_id param plus two IN-lists of two values each
	if len(stmt.Params) != 5 {
		t.Fatalf("expected 5 params, got %d: %+v", len(stmt.Params), stmt.Params)
	}
}

func TestBuildFetchOrdersByTokensSeparateWhenSetsDiffer(t *testing.T) {
	stmt := BuildFetchOrdersByTokens(1, []string{"0xaaa"}, []string{"0xbbb"})
	if strings.Count(stmt.Text, "EXISTS") != 2 {
		t.Fatalf("expected two separate EXISTS clauses when token sets differ, got:\n%s", stmt.Text)
	}
	if !strings.Contains(stmt.Text, "io_type = 'input'") || !strings.Contains(stmt.Text, "io_type = 'output'") {
		t.Fatalf("expected one EXISTS per side, got:\n%s", stmt.Text)
	}
}

func TestBuildFetchOrdersByTokensInputsOnly(t *testing.T) {
	stmt := BuildFetchOrdersByTokens(1, []string{"0xaaa"}, nil)
	if strings.Count(stmt.Text, "EXISTS") != 1 {
		t.Fatalf("expected exactly one EXISTS clause, got:\n%s", stmt.Text)
	}
	if strings.Contains(stmt.Text, "io_type = 'output'") {
		t.Fatalf("did not expect output clause:\n%s", stmt.Text)
	}
}

func TestBuildFetchOrdersByTokensNoFilter(t *testing.T) {
	stmt := BuildFetchOrdersByTokens(1, nil, nil)
	if strings.Contains(stmt.Text, "EXISTS") {
		t.Fatalf("expected no EXISTS clause when neither side requested:\n%s", stmt.Text)
	}
	if len(stmt.Params) != 1 {
		t.Fatalf("expected only chain_id param, got %+v", stmt.Params)
	}
}

func TestBuildFetchVaultsOwnerFilterOptional(t *testing.T) {
	orderbook := common.HexToAddress("0x1234567890123456789012345678901234567890")

	withOwners := BuildFetchVaults(1, orderbook, []common.Address{common.HexToAddress("0xaaaa")})
	if !strings.Contains(withOwners.Text, "lower(owner)") {
		t.Fatalf("expected owner filter clause present: %s", withOwners.Text)
	}
	if len(withOwners.Params) != 3 {
		t.Fatalf("expected 3 params (chain, orderbook, one owner), got %d", len(withOwners.Params))
	}

	noOwners := BuildFetchVaults(1, orderbook, nil)
	if strings.Contains(noOwners.Text, "lower(owner)") {
		t.Fatalf("expected owner filter erased when no owners given: %s", noOwners.Text)
	}
	if len(noOwners.Params) != 2 {
		t.Fatalf("expected 2 params (chain, orderbook), got %d", len(noOwners.Params))
	}
}

func TestBuildUpsertWatermarkNullHash(t *testing.T) {
	orderbook := common.HexToAddress("0x1234567890123456789012345678901234567890")
	stmt := BuildUpsertWatermark(1, orderbook, 100, nil, 1000)
	if stmt.Params[3].Kind != KindNull {
		t.Fatalf("expected null hash param, got %+v", stmt.Params[3])
	}
}

func TestBuildCreateTablesIncludesAllTables(t *testing.T) {
	batch := BuildCreateTables()
	want := []string{
		"raw_events", "orders", "order_ios", "order_metadata", "vault_deltas",
		"trades", "interpreter_store_sets", "erc20_tokens", "target_watermarks", "db_metadata",
	}
	for _, table := range want {
		found := false
		for _, stmt := range batch.Statements {
			if strings.Contains(stmt.Text, table) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected a CREATE statement mentioning %q", table)
		}
	}
}

func TestBuildClearTablesMatchesCreateTables(t *testing.T) {
	created := BuildCreateTables()
	cleared := BuildClearTables()
	if len(cleared.Statements) != len(created.Statements)-1 {
		// BuildCreateTables includes one extra CREATE INDEX statement.
		t.Fatalf("expected clear to cover every table (got %d clears for %d create statements)", len(cleared.Statements), len(created.Statements))
	}
}
