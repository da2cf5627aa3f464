package ledger

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"TradeWarden/internal/model"
	"TradeWarden/internal/store"
)

var (
	// ErrInsufficientPosition means a close would reduce a position below
	// zero, or there is no open position at all. The ledger is untouched.
	ErrInsufficientPosition = errors.New("insufficient position")
	// ErrBusy means a rebuild holds the ledger; the mutation was rejected,
	// not queued. Retry after the rebuild completes.
	ErrBusy = errors.New("ledger busy: rebuild in progress")
)

// Ledger is the authoritative position book. Every mutation goes through
// ApplyTrade; derived positions are cached in memory and written through to
// the store in the same transaction as the trade itself.
type Ledger struct {
	mu         sync.Mutex
	store      store.Store
	positions  map[string]model.Position
	applied    map[int64]bool // trade IDs already folded in
	rebuilding atomic.Bool
}

func New(st store.Store) *Ledger {
	return &Ledger{
		store:     st,
		positions: make(map[string]model.Position),
		applied:   make(map[int64]bool),
	}
}

// Load primes the in-memory book from the store. Call once at startup.
func (l *Ledger) Load() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	positions, err := l.store.ListPositions()
	if err != nil {
		return model.External("load positions", err)
	}
	trades, err := l.store.ListTradesAsc()
	if err != nil {
		return model.External("load trades", err)
	}

	l.positions = make(map[string]model.Position, len(positions))
	for _, p := range positions {
		l.positions[p.Key()] = p
	}
	l.applied = make(map[int64]bool, len(trades))
	for _, t := range trades {
		l.applied[t.ID] = true
	}
	log.Printf("[INFO] ledger loaded: %d positions, %d trades", len(positions), len(trades))
	return nil
}

// ApplyTrade folds one trade into the book. Applying the same trade ID twice
// is a no-op. On any error the ledger state — memory and store — is exactly
// what it was before the call.
func (l *Ledger) ApplyTrade(t model.Trade) error {
	if l.rebuilding.Load() {
		return ErrBusy
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.applied[t.ID] {
		return nil
	}

	pos, closed, err := applyToBook(l.positions, t)
	if err != nil {
		return err
	}

	// Persist before committing to memory: if the store write fails the
	// in-memory book is untouched and the caller may retry.
	t = stampPnL(t, pos)
	if err := l.store.SaveTradeResult(t, pos, closed); err != nil {
		return model.External("save trade", err)
	}

	if closed {
		delete(l.positions, pos.Key())
	} else {
		l.positions[pos.Key()] = pos
	}
	l.applied[t.ID] = true
	return nil
}

// applyToBook computes the position that would result from folding t into
// the current book, without mutating it. closed=true means the position hit
// zero and should be removed.
func applyToBook(book map[string]model.Position, t model.Trade) (model.Position, bool, error) {
	key := model.PositionKey(t.Token, t.Strategy)
	pos, exists := book[key]

	switch t.Action {
	case model.ActionOpen:
		if !exists {
			pos = model.Position{
				Token:          t.Token,
				Symbol:         t.Symbol,
				Strategy:       t.Strategy,
				Amount:         t.Amount,
				AvgEntryPrice:  t.Price,
				RealizedPnL:    decimal.Zero,
				OpeningTradeID: t.ID,
				TradeIDs:       []int64{t.ID},
				LastUpdated:    t.Timestamp,
			}
			return pos, false, nil
		}
		// Weighted-average merge: avg = (avg*amt + px*buyAmt) / (amt+buyAmt).
		pos = pos.Clone()
		total := pos.Amount.Add(t.Amount)
		pos.AvgEntryPrice = pos.AvgEntryPrice.Mul(pos.Amount).
			Add(t.Price.Mul(t.Amount)).Div(total)
		pos.Amount = total
		pos.TradeIDs = append(pos.TradeIDs, t.ID)
		pos.LastUpdated = t.Timestamp
		return pos, false, nil

	case model.ActionClose:
		if !exists {
			return model.Position{}, false, ErrInsufficientPosition
		}
		if t.Amount.GreaterThan(pos.Amount) {
			return model.Position{}, false, fmt.Errorf("%w: have %s, close %s",
				ErrInsufficientPosition, pos.Amount, t.Amount)
		}
		pos = pos.Clone()
		pnl := t.Price.Sub(pos.AvgEntryPrice).Mul(t.Amount)
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
		pos.Amount = pos.Amount.Sub(t.Amount)
		pos.TradeIDs = append(pos.TradeIDs, t.ID)
		pos.LastUpdated = t.Timestamp
		return pos, pos.Amount.IsZero(), nil

	default:
		return model.Position{}, false, fmt.Errorf("unknown trade action %q", t.Action)
	}
}

// stampPnL sets the realized PnL on a close trade before it is persisted.
// AvgEntryPrice is unchanged by closes, so reading it post-fold is safe.
func stampPnL(t model.Trade, pos model.Position) model.Trade {
	if t.Action != model.ActionClose {
		return t
	}
	pnl := t.Price.Sub(pos.AvgEntryPrice).Mul(t.Amount)
	t.PnL = decimal.NullDecimal{Decimal: pnl, Valid: true}
	return t
}

// Position returns a copy of the position under key, if any.
func (l *Ledger) Position(key string) (model.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[key]
	if !ok {
		return model.Position{}, false
	}
	return pos.Clone(), true
}

// Positions returns a snapshot of all open positions.
func (l *Ledger) Positions() []model.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p.Clone())
	}
	return out
}

// Rebuild discards all derived state and replays the given trade log from
// scratch. The replay happens on a scratch book; the live book and the store
// are swapped only after the whole log replays cleanly, so a failed rebuild
// leaves everything as it was. Mutations arriving during a rebuild fail fast
// with ErrBusy.
func (l *Ledger) Rebuild(trades []model.Trade) error {
	if !l.rebuilding.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer l.rebuilding.Store(false)

	l.mu.Lock()
	defer l.mu.Unlock()

	scratch := make(map[string]model.Position)
	replayed := make([]model.Trade, 0, len(trades))
	for _, t := range trades {
		pos, closed, err := applyToBook(scratch, t)
		if err != nil {
			return fmt.Errorf("replay trade %d: %w", t.ID, err)
		}
		if closed {
			delete(scratch, pos.Key())
		} else {
			scratch[pos.Key()] = pos
		}
		replayed = append(replayed, stampPnL(t, pos))
	}

	positions := make([]model.Position, 0, len(scratch))
	for _, p := range scratch {
		positions = append(positions, p)
	}
	if err := l.store.ReplaceLedger(positions, replayed); err != nil {
		return model.External("replace ledger", err)
	}

	l.positions = scratch
	l.applied = make(map[int64]bool, len(replayed))
	for _, t := range replayed {
		l.applied[t.ID] = true
	}
	log.Printf("[INFO] ledger rebuilt: %d trades -> %d open positions", len(replayed), len(positions))
	return nil
}

// ResolveSellAmount turns a sell size argument into concrete token units,
// floored to the token's decimal precision. Percent sizes resolve against the
// open position; dollar sizes against refPrice.
func ResolveSellAmount(pos model.Position, mode model.SizeMode, value, refPrice decimal.Decimal, decimals int32) (decimal.Decimal, error) {
	var amount decimal.Decimal
	switch mode {
	case model.SizeUnits:
		amount = value
	case model.SizePercent:
		amount = pos.Amount.Mul(value).Div(decimal.NewFromInt(100))
	case model.SizeDollars:
		if refPrice.IsZero() {
			return decimal.Zero, errors.New("no reference price for dollar sizing")
		}
		amount = value.Div(refPrice)
	default:
		return decimal.Zero, fmt.Errorf("unknown size mode %q", mode)
	}
	amount = amount.RoundDown(decimals)
	if !amount.IsPositive() {
		return decimal.Zero, errors.New("resolved amount is zero")
	}
	return amount, nil
}

// ResolveBuyAmount turns a buy size into token units. Dollar sizes resolve
// against refPrice; percent sizing has no base for buys and is rejected.
func ResolveBuyAmount(mode model.SizeMode, value, refPrice decimal.Decimal, decimals int32) (decimal.Decimal, error) {
	var amount decimal.Decimal
	switch mode {
	case model.SizeUnits:
		amount = value
	case model.SizeDollars:
		if refPrice.IsZero() {
			return decimal.Zero, errors.New("no reference price for dollar sizing")
		}
		amount = value.Div(refPrice)
	default:
		return decimal.Zero, fmt.Errorf("size mode %q not valid for buys", mode)
	}
	amount = amount.RoundDown(decimals)
	if !amount.IsPositive() {
		return decimal.Zero, errors.New("resolved amount is zero")
	}
	return amount, nil
}

// NextLocalTradeID returns a locally unique trade ID for optimistic trades
// that have not been observed on chain yet. Local IDs are timestamps in
// nanoseconds, far above any chain-assigned counter, so they never collide
// with reconciled entries.
func NextLocalTradeID() int64 {
	return time.Now().UnixNano()
}
