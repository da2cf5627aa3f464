package chain

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// EventKind is the on-chain event name we reconcile against.
type EventKind string

const (
	EventTradeOpen   EventKind = "TradeOpen"
	EventTradeClosed EventKind = "TradeClosed"
)

// Prices on chain are fixed-point integers scaled by 1e6.
const priceScale = 6

// Event is one decoded strategy-contract event. TradeID orders the event log
// totally across all tokens of a contract; a TradeClosed event carries the
// RefID of the TradeOpen it reduces. Amount zero on a close means "close the
// full remaining position".
type Event struct {
	UID       string // deterministic: txID#eventIndex
	Kind      EventKind
	TradeID   int64
	RefID     int64
	Trader    string
	Token     string // canonical 41.. hex
	Price     decimal.Decimal
	Amount    decimal.Decimal
	BlockTime time.Time
	LogIndex  int
}

// rawEvent mirrors one entry of a TronGrid /v1/contracts/{addr}/events page.
type rawEvent struct {
	TransactionID  string            `json:"transaction_id"`
	EventIndex     int               `json:"event_index"`
	EventName      string            `json:"event_name"`
	BlockTimestamp int64             `json:"block_timestamp"` // milliseconds
	Result         map[string]string `json:"result"`
}

// DecimalsFn resolves a token's amount precision. TRC-20 tokens are almost
// always 6 on TRON, but the contract admits others.
type DecimalsFn func(token string) int32

// DefaultDecimals treats every token as 6-decimal.
func DefaultDecimals(string) int32 { return 6 }

// decode turns a raw TronGrid event entry into a typed Event, unscaling the
// fixed-point price and amount fields.
func (r rawEvent) decode(decimals DecimalsFn) (Event, error) {
	kind := EventKind(r.EventName)
	if kind != EventTradeOpen && kind != EventTradeClosed {
		return Event{}, fmt.Errorf("unexpected event %q", r.EventName)
	}

	tradeID, err := parseIntField(r.Result, "tradeId")
	if err != nil {
		return Event{}, err
	}

	ev := Event{
		UID:       fmt.Sprintf("%s#%d", r.TransactionID, r.EventIndex),
		Kind:      kind,
		TradeID:   tradeID,
		Trader:    r.Result["trader"],
		BlockTime: time.UnixMilli(r.BlockTimestamp).UTC(),
		LogIndex:  r.EventIndex,
	}

	if ev.Token, err = CanonicalAddress(r.Result["token"]); err != nil {
		return Event{}, fmt.Errorf("event %s token: %w", ev.UID, err)
	}

	priceField := "entryPrice"
	if kind == EventTradeClosed {
		priceField = "exitPrice"
		if ev.RefID, err = parseIntField(r.Result, "refId"); err != nil {
			return Event{}, fmt.Errorf("event %s: %w", ev.UID, err)
		}
	}

	rawPrice, err := parseIntField(r.Result, priceField)
	if err != nil {
		return Event{}, fmt.Errorf("event %s: %w", ev.UID, err)
	}
	ev.Price = decimal.New(rawPrice, -priceScale)

	rawAmount, err := parseIntField(r.Result, "amount")
	if err != nil {
		return Event{}, fmt.Errorf("event %s: %w", ev.UID, err)
	}
	ev.Amount = decimal.New(rawAmount, -decimals(ev.Token))

	return ev, nil
}

func parseIntField(result map[string]string, key string) (int64, error) {
	s, ok := result[key]
	if !ok {
		return 0, fmt.Errorf("missing field %q", key)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %q = %q: %w", key, s, err)
	}
	return v, nil
}
