package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeAction distinguishes buys from sells in the trade log.
type TradeAction string

const (
	ActionOpen  TradeAction = "open"
	ActionClose TradeAction = "close"
)

// TradeSource marks whether a trade was applied optimistically from a local
// command or ingested from the authoritative on-chain log.
type TradeSource string

const (
	SourceLocal TradeSource = "local"
	SourceChain TradeSource = "chain"
)

// Trade is one immutable entry of the trade log. ID is the chain-assigned
// tradeId: globally unique and totally ordered. A close additionally carries
// RefID, the tradeId of the open position entry it reduces.
type Trade struct {
	ID         int64
	RefID      int64
	Trader     string
	Token      string // canonical 41.. hex address
	Symbol     string
	Strategy   string
	Action     TradeAction
	Price      decimal.Decimal // entry price for open, exit price for close
	Amount     decimal.Decimal
	PnL        decimal.NullDecimal // set on close only
	Timestamp  time.Time
	Source     TradeSource
	Reconciled bool
}

// PositionKey identifies a ledger position scope.
func PositionKey(token, strategy string) string {
	return token + "|" + strategy
}

// Position is derived per-token/strategy inventory. Amount is never negative;
// AvgEntryPrice is the quantity-weighted mean of contributing buys and is
// meaningless once Amount returns to zero (the position row is then removed).
type Position struct {
	Token          string
	Symbol         string
	Strategy       string
	Amount         decimal.Decimal
	AvgEntryPrice  decimal.Decimal
	RealizedPnL    decimal.Decimal
	OpeningTradeID int64 // first buy, preserved across merges
	TradeIDs       []int64
	LastUpdated    time.Time
}

// Key returns the ledger key for this position.
func (p Position) Key() string { return PositionKey(p.Token, p.Strategy) }

// Clone returns a deep copy, so scratch replay never aliases live state.
func (p Position) Clone() Position {
	c := p
	c.TradeIDs = append([]int64(nil), p.TradeIDs...)
	return c
}

// Fill is the execution collaborator's report of what actually happened.
// The ledger records the fill, never the instruction price.
type Fill struct {
	Price     decimal.Decimal
	Amount    decimal.Decimal
	Timestamp time.Time
}

// SizeMode selects how a buy/sell size argument is interpreted.
type SizeMode string

const (
	SizeUnits   SizeMode = "units"
	SizePercent SizeMode = "percent"
	SizeDollars SizeMode = "dollars"
)

// Instruction is a buy/sell request handed to the execution collaborator.
// Price zero means market.
type Instruction struct {
	Token  string
	Symbol string
	Side   TradeAction
	Amount decimal.Decimal // resolved token units
	Price  decimal.Decimal
}
