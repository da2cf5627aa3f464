package store

import (
	"time"

	"TradeWarden/internal/model"
)

// TradeFilter narrows ListTrades results. Zero values mean "any".
type TradeFilter struct {
	Token  string
	Symbol string
	Action model.TradeAction
	Since  time.Time
	Limit  int
}

// Store is the durable keyed storage collaborator: subscriptions, positions,
// the ordered trade log, pending confirmations, signal dedupe rows, token
// aliases, and reconciler checkpoints. SQLite backs production; a memory
// implementation backs deterministic tests.
type Store interface {
	// Subscriptions, keyed by Subscription.Key().
	UpsertSubscription(sub model.Subscription) error
	DeleteSubscription(key string) error
	ListSubscriptions() ([]model.Subscription, error)

	// Positions, keyed by Position.Key().
	UpsertPosition(pos model.Position) error
	DeletePosition(key string) error
	ListPositions() ([]model.Position, error)

	// Trades. SaveTradeResult persists one applied trade together with the
	// resulting position in a single transaction: either both land or
	// neither does. closed=true removes the position row (amount hit zero).
	GetTrade(id int64) (model.Trade, bool, error)
	SaveTradeResult(trade model.Trade, pos model.Position, closed bool) error
	ListTradesAsc() ([]model.Trade, error)
	ListTrades(f TradeFilter) ([]model.Trade, error)

	// ReplaceLedger atomically swaps all derived ledger state for the given
	// snapshot. Used by rebuild after a successful scratch replay.
	ReplaceLedger(positions []model.Position, trades []model.Trade) error

	// Reconciler checkpoints: highest tradeId processed per (network, contract).
	Checkpoint(scope string) (int64, error)
	SetCheckpoint(scope string, tradeID int64) error

	// Pending confirmations, one per issuer.
	UpsertConfirmation(pc model.PendingConfirmation) error
	DeleteConfirmation(issuer string) error

	// Signals, upserted under SignalEvent.DedupeKey().
	UpsertSignal(ev model.SignalEvent) error

	// Token aliases: anything the user typed -> canonical address.
	SaveAlias(alias, canonical string) error
	ResolveAlias(alias string) (string, bool, error)

	Close() error
}
