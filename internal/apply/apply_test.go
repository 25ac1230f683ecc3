package apply

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rainlanguage/raindex/internal/chain"
	"github.com/rainlanguage/raindex/internal/decode"
	"github.com/rainlanguage/raindex/internal/erc20"
	"github.com/rainlanguage/raindex/internal/rawlog"
)

func sampleRaw(logIndex uint32) rawlog.RawEvent {
	return rawlog.RawEvent{
		ChainID:          1,
		OrderbookAddress: common.HexToAddress("0xaaaa"),
		TxHash:           common.HexToHash("0x1111"),
		LogIndex:         logIndex,
		BlockNumber:      100,
		BlockTimestamp:   1000,
		Address:          common.HexToAddress("0xaaaa"),
		Topics:           []common.Hash{common.HexToHash("0xdead")},
		Data:             []byte{1, 2, 3},
		RawJSON:          json.RawMessage(`{}`),
	}
}

func TestBuildRawEventsFirstThenTokensThenWatermark(t *testing.T) {
	target := chain.NewTargetKey(1, common.HexToAddress("0xaaaa"))
	name := "Wrapped Ether"
	input := Input{
		Target: target,
		Events: []Event{
			{Raw: sampleRaw(0), Decoded: decode.DecodedEvent{Kind: decode.KindUnknown, UnknownEvent: &decode.Unknown{}}},
		},
		Tokens: []erc20.Token{
			{ChainID: 1, Address: common.HexToAddress("0xbbbb"), Name: &name},
		},
		NewWatermark: chain.Watermark{LastBlock: 100, UpdatedAtMs: 123},
	}

	batch, err := Build(input)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(batch.Statements) < 5 {
		t.Fatalf("expected at least BEGIN, raw insert, token upsert, watermark, COMMIT; got %d", len(batch.Statements))
	}

	texts := make([]string, len(batch.Statements))
	for i, s := range batch.Statements {
		texts[i] = s.Text
	}

	rawIdx, tokenIdx, watermarkIdx := -1, -1, -1
	for i, text := range texts {
		switch {
		case strings.Contains(text, "INSERT INTO raw_events"):
			rawIdx = i
		case strings.Contains(text, "INSERT INTO erc20_tokens"):
			tokenIdx = i
		case strings.Contains(text, "INSERT INTO target_watermarks"):
			watermarkIdx = i
		}
	}
	if rawIdx == -1 || tokenIdx == -1 || watermarkIdx == -1 {
		t.Fatalf("missing expected statement kinds: %v", texts)
	}
	if !(rawIdx < tokenIdx && tokenIdx < watermarkIdx) {
		t.Fatalf("expected raw < token < watermark ordering, got raw=%d token=%d watermark=%d", rawIdx, tokenIdx, watermarkIdx)
	}
}

func TestBuildAddOrderInsertsOrderAndIOs(t *testing.T) {
	target := chain.NewTargetKey(1, common.HexToAddress("0xaaaa"))
	order := decode.Order{
		Owner:     common.HexToAddress("0xcccc"),
		OrderHash: common.HexToHash("0xdddd"),
		ValidInputs: []decode.IO{
			{Token: common.HexToAddress("0x1"), VaultID: [32]byte{1}},
		},
		ValidOutputs: []decode.IO{
			{Token: common.HexToAddress("0x2"), VaultID: [32]byte{2}},
		},
	}
	input := Input{
		Target: target,
		Events: []Event{
			{Raw: sampleRaw(0), Decoded: decode.DecodedEvent{Kind: decode.KindAddOrderV3, AddOrder: &decode.AddOrderV3{Order: order}}},
		},
		NewWatermark: chain.Watermark{LastBlock: 100, UpdatedAtMs: 1},
	}

	batch, err := Build(input)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	var orderCount, ioCount int
	for _, s := range batch.Statements {
		if strings.Contains(s.Text, "INSERT INTO orders") {
			orderCount++
		}
		if strings.Contains(s.Text, "INSERT INTO order_ios") {
			ioCount++
		}
	}
	if orderCount != 1 {
		t.Fatalf("expected exactly one order insert, got %d", orderCount)
	}
	if ioCount != 2 {
		t.Fatalf("expected one IO insert per input+output, got %d", ioCount)
	}
}

func TestBuildEmptyEventsStillAdvancesWatermark(t *testing.T) {
	target := chain.NewTargetKey(1, common.HexToAddress("0xaaaa"))
	input := Input{Target: target, NewWatermark: chain.Watermark{LastBlock: 500, UpdatedAtMs: 1}}

	batch, err := Build(input)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	found := false
	for _, s := range batch.Statements {
		if strings.Contains(s.Text, "INSERT INTO target_watermarks") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected watermark statement even with zero events")
	}
}
