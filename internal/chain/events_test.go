package chain

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

func TestRawEventDecode_Open(t *testing.T) {
	raw := rawEvent{
		TransactionID:  "abc123",
		EventIndex:     2,
		EventName:      "TradeOpen",
		BlockTimestamp: 1700000000000,
		Result: map[string]string{
			"tradeId":    "7",
			"trader":     "41cccccccccccccccccccccccccccccccccccccccc",
			"token":      "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t",
			"entryPrice": "1234500", // 1.2345 at 1e6 scale
			"amount":     "5000000", // 5 tokens at 6 decimals
		},
	}

	ev, err := raw.decode(DefaultDecimals)
	if err != nil {
		t.Fatal(err)
	}
	if ev.UID != "abc123#2" {
		t.Errorf("expected deterministic UID, got %s", ev.UID)
	}
	if ev.TradeID != 7 || ev.Kind != EventTradeOpen {
		t.Errorf("header wrong: %+v", ev)
	}
	if ev.Token != "41a614f803b6fd780986a42c78ec9c7f77e6ded13c" {
		t.Errorf("token must canonicalize from base58, got %s", ev.Token)
	}
	if !ev.Price.Equal(decimal.RequireFromString("1.2345")) {
		t.Errorf("expected price 1.2345, got %s", ev.Price)
	}
	if !ev.Amount.Equal(decimal.RequireFromString("5")) {
		t.Errorf("expected amount 5, got %s", ev.Amount)
	}
	if ev.BlockTime.Unix() != 1700000000 {
		t.Errorf("block time wrong: %v", ev.BlockTime)
	}
}

func TestRawEventDecode_Close(t *testing.T) {
	raw := rawEvent{
		TransactionID: "def",
		EventName:     "TradeClosed",
		Result: map[string]string{
			"tradeId":   "9",
			"refId":     "7",
			"trader":    "41cccccccccccccccccccccccccccccccccccccccc",
			"token":     "41a614f803b6fd780986a42c78ec9c7f77e6ded13c",
			"exitPrice": "2000000",
			"amount":    "0", // full close
		},
	}
	ev, err := raw.decode(DefaultDecimals)
	if err != nil {
		t.Fatal(err)
	}
	if ev.RefID != 7 {
		t.Errorf("expected ref 7, got %d", ev.RefID)
	}
	if !ev.Price.Equal(decimal.RequireFromString("2")) {
		t.Errorf("expected exit price 2, got %s", ev.Price)
	}
	if !ev.Amount.IsZero() {
		t.Errorf("expected zero amount, got %s", ev.Amount)
	}
}

func TestRawEventDecode_Errors(t *testing.T) {
	base := map[string]string{
		"tradeId":    "7",
		"token":      "41a614f803b6fd780986a42c78ec9c7f77e6ded13c",
		"entryPrice": "1000000",
		"amount":     "1000000",
	}
	cases := []struct {
		name string
		mut  func(rawEvent) rawEvent
	}{
		{"unknown event", func(r rawEvent) rawEvent { r.EventName = "Transfer"; return r }},
		{"missing tradeId", func(r rawEvent) rawEvent { delete(r.Result, "tradeId"); return r }},
		{"bad token", func(r rawEvent) rawEvent { r.Result["token"] = "nope"; return r }},
		{"missing price", func(r rawEvent) rawEvent { delete(r.Result, "entryPrice"); return r }},
		{"non-numeric amount", func(r rawEvent) rawEvent { r.Result["amount"] = "lots"; return r }},
	}
	for _, tc := range cases {
		r := rawEvent{EventName: "TradeOpen", Result: map[string]string{}}
		for k, v := range base {
			r.Result[k] = v
		}
		r = tc.mut(r)
		if _, err := r.decode(DefaultDecimals); err == nil {
			t.Errorf("%s: expected decode error", tc.name)
		}
	}
}

func TestMockSource_Ordering(t *testing.T) {
	src := &MockSource{Events: []Event{
		{TradeID: 3}, {TradeID: 1}, {TradeID: 2, LogIndex: 1}, {TradeID: 2, LogIndex: 0},
	}}
	evs, err := src.EventsAfter(context.Background(), "41aa", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 3 {
		t.Fatalf("expected 3 events above watermark, got %d", len(evs))
	}
	if evs[0].TradeID != 2 || evs[0].LogIndex != 0 || evs[2].TradeID != 3 {
		t.Errorf("expected (tradeId, logIndex) order, got %+v", evs)
	}
}
